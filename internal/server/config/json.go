package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/authkeeper/internal/flagx"
	"github.com/dmitrijs2005/authkeeper/internal/timex"
)

// JsonConfig is the DTO for the JSON configuration file. Durations accept
// both Go duration strings ("15m") and integer nanoseconds.
type JsonConfig struct {
	Env                                string         `json:"env"`
	EndpointAddrHTTP                   string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC                   string         `json:"endpoint_addr_grpc"`
	PublicBaseURL                      string         `json:"public_base_url"`
	AllowedHosts                       []string       `json:"allowed_hosts"`
	TrustProxyHeaders                  bool           `json:"trust_proxy_headers"`
	CORSAllowedOrigins                 []string       `json:"cors_allowed_origins"`
	DatabaseDSN                        string         `json:"database_dsn"`
	SecretKey                          string         `json:"secret_key"`
	AccessTokenValidityDuration        timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration       timex.Duration `json:"refresh_token_validity_duration"`
	EmailTokenValidityDuration         timex.Duration `json:"email_token_validity_duration"`
	PasswordResetTokenValidityDuration timex.Duration `json:"password_reset_token_validity_duration"`
	PasswordAlgorithm                  string         `json:"password_algorithm"`
	BcryptCost                         int            `json:"bcrypt_cost"`
	HashWorkers                        int            `json:"hash_workers"`
	RedisAddr                          string         `json:"redis_addr"`
	RedisPassword                      string         `json:"redis_password"`
	RedisDB                            int            `json:"redis_db"`
	SessionCacheTTL                    timex.Duration `json:"session_cache_ttl"`
	SMTPHost                           string         `json:"smtp_host"`
	SMTPPort                           int            `json:"smtp_port"`
	SMTPUser                           string         `json:"smtp_user"`
	SMTPPassword                       string         `json:"smtp_password"`
	MailFrom                           string         `json:"mail_from"`
	MailFromName                       string         `json:"mail_from_name"`
	MailWorkers                        int            `json:"mail_workers"`
	MailQueueSize                      int            `json:"mail_queue_size"`
	S3RootUser                         string         `json:"s3_root_user"`
	S3RootPassword                     string         `json:"s3_root_password"`
	S3Bucket                           string         `json:"s3_bucket"`
	S3Region                           string         `json:"s3_region"`
	S3BaseEndpoint                     string         `json:"s3_base_endpoint"`
}

// parseJson overlays values from the file named by -c / -config. Fields left
// out of the file keep their current value. An unreadable or malformed file
// panics: the server must not start on a half-read configuration.
func parseJson(config *Config, args []string) {
	path := flagx.ConfigFilePath(args)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setIf(&config.Env, c.Env)
	setIf(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setIf(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setIf(&config.PublicBaseURL, c.PublicBaseURL)
	if len(c.AllowedHosts) > 0 {
		config.AllowedHosts = c.AllowedHosts
	}
	setIf(&config.TrustProxyHeaders, c.TrustProxyHeaders)
	if len(c.CORSAllowedOrigins) > 0 {
		config.CORSAllowedOrigins = c.CORSAllowedOrigins
	}
	setIf(&config.DatabaseDSN, c.DatabaseDSN)
	setIf(&config.SecretKey, c.SecretKey)
	setIf(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration.Duration)
	setIf(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration.Duration)
	setIf(&config.EmailTokenValidityDuration, c.EmailTokenValidityDuration.Duration)
	setIf(&config.PasswordResetTokenValidityDuration, c.PasswordResetTokenValidityDuration.Duration)
	setIf(&config.PasswordAlgorithm, c.PasswordAlgorithm)
	setIf(&config.BcryptCost, c.BcryptCost)
	setIf(&config.HashWorkers, c.HashWorkers)
	setIf(&config.RedisAddr, c.RedisAddr)
	setIf(&config.RedisPassword, c.RedisPassword)
	setIf(&config.RedisDB, c.RedisDB)
	setIf(&config.SessionCacheTTL, c.SessionCacheTTL.Duration)
	setIf(&config.SMTPHost, c.SMTPHost)
	setIf(&config.SMTPPort, c.SMTPPort)
	setIf(&config.SMTPUser, c.SMTPUser)
	setIf(&config.SMTPPassword, c.SMTPPassword)
	setIf(&config.MailFrom, c.MailFrom)
	setIf(&config.MailFromName, c.MailFromName)
	setIf(&config.MailWorkers, c.MailWorkers)
	setIf(&config.MailQueueSize, c.MailQueueSize)
	setIf(&config.S3RootUser, c.S3RootUser)
	setIf(&config.S3RootPassword, c.S3RootPassword)
	setIf(&config.S3Bucket, c.S3Bucket)
	setIf(&config.S3Region, c.S3Region)
	setIf(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}
