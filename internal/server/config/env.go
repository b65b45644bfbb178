package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// EnvConfig lists the AUTH_* environment variables understood by the server.
// Unset variables leave the corresponding Config field untouched.
type EnvConfig struct {
	Env                                string        `env:"AUTH_ENV"`
	EndpointAddrHTTP                   string        `env:"AUTH_HTTP_ADDR"`
	EndpointAddrGRPC                   string        `env:"AUTH_GRPC_ADDR"`
	PublicBaseURL                      string        `env:"AUTH_PUBLIC_BASE_URL"`
	AllowedHosts                       []string      `env:"AUTH_ALLOWED_HOSTS" env-separator:","`
	TrustProxyHeaders                  bool          `env:"AUTH_TRUST_PROXY_HEADERS"`
	CORSAllowedOrigins                 []string      `env:"AUTH_CORS_ALLOWED_ORIGINS" env-separator:","`
	DatabaseDSN                        string        `env:"AUTH_DATABASE_DSN"`
	SecretKey                          string        `env:"AUTH_SECRET_KEY"`
	AccessTokenValidityDuration        time.Duration `env:"AUTH_ACCESS_TOKEN_TTL"`
	RefreshTokenValidityDuration       time.Duration `env:"AUTH_REFRESH_TOKEN_TTL"`
	EmailTokenValidityDuration         time.Duration `env:"AUTH_EMAIL_TOKEN_TTL"`
	PasswordResetTokenValidityDuration time.Duration `env:"AUTH_RESET_TOKEN_TTL"`
	PasswordAlgorithm                  string        `env:"AUTH_PASSWORD_ALGORITHM"`
	BcryptCost                         int           `env:"AUTH_BCRYPT_COST"`
	HashWorkers                        int           `env:"AUTH_HASH_WORKERS"`
	RedisAddr                          string        `env:"AUTH_REDIS_ADDR"`
	RedisPassword                      string        `env:"AUTH_REDIS_PASSWORD"`
	RedisDB                            int           `env:"AUTH_REDIS_DB"`
	SessionCacheTTL                    time.Duration `env:"AUTH_SESSION_CACHE_TTL"`
	SMTPHost                           string        `env:"AUTH_SMTP_HOST"`
	SMTPPort                           int           `env:"AUTH_SMTP_PORT"`
	SMTPUser                           string        `env:"AUTH_SMTP_USER"`
	SMTPPassword                       string        `env:"AUTH_SMTP_PASSWORD"`
	MailFrom                           string        `env:"AUTH_MAIL_FROM"`
	MailFromName                       string        `env:"AUTH_MAIL_FROM_NAME"`
	S3RootUser                         string        `env:"AUTH_S3_ROOT_USER"`
	S3RootPassword                     string        `env:"AUTH_S3_ROOT_PASSWORD"`
	S3Bucket                           string        `env:"AUTH_S3_BUCKET"`
	S3Region                           string        `env:"AUTH_S3_REGION"`
	S3BaseEndpoint                     string        `env:"AUTH_S3_BASE_ENDPOINT"`
}

func parseEnv(config *Config) {
	var c EnvConfig
	if err := cleanenv.ReadEnv(&c); err != nil {
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
	setIf(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setIf(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setIf(&config.EmailTokenValidityDuration, c.EmailTokenValidityDuration)
	setIf(&config.PasswordResetTokenValidityDuration, c.PasswordResetTokenValidityDuration)
	setIf(&config.PasswordAlgorithm, c.PasswordAlgorithm)
	setIf(&config.BcryptCost, c.BcryptCost)
	setIf(&config.HashWorkers, c.HashWorkers)
	setIf(&config.RedisAddr, c.RedisAddr)
	setIf(&config.RedisPassword, c.RedisPassword)
	setIf(&config.RedisDB, c.RedisDB)
	setIf(&config.SessionCacheTTL, c.SessionCacheTTL)
	setIf(&config.SMTPHost, c.SMTPHost)
	setIf(&config.SMTPPort, c.SMTPPort)
	setIf(&config.SMTPUser, c.SMTPUser)
	setIf(&config.SMTPPassword, c.SMTPPassword)
	setIf(&config.MailFrom, c.MailFrom)
	setIf(&config.MailFromName, c.MailFromName)
	setIf(&config.S3RootUser, c.S3RootUser)
	setIf(&config.S3RootPassword, c.S3RootPassword)
	setIf(&config.S3Bucket, c.S3Bucket)
	setIf(&config.S3Region, c.S3Region)
	setIf(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}
