// Package server wires the authkeeper components together and runs them: the
// REST API, the gRPC health endpoint and the background mail dispatcher.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/authkeeper/internal/server/images"
	"github.com/dmitrijs2005/authkeeper/internal/server/mail"
	"github.com/dmitrijs2005/authkeeper/internal/server/passwords"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/dmitrijs2005/authkeeper/internal/server/sessions"
	"github.com/dmitrijs2005/authkeeper/internal/server/tokens"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/authkeeper/internal/server/grpc"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	redis       *redis.Client
	memSessions *sessions.MemoryStore
	dispatcher  *mail.Dispatcher
	httpServer  *httpapi.Server
	grpcServer  *gs.GRPCServer
	authService *services.AuthService
}

func NewApp(ctx context.Context, c *config.Config) (_ *App, err error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	logger := logging.NewForEnv(c.Env, os.Stdout)
	app := &App{config: c, logger: logger}

	defer func() {
		if err != nil {
			app.close()
		}
	}()

	app.db, err = repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err = rm.RunMigrations(ctx, app.db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	store, err := app.openSessions(ctx)
	if err != nil {
		return nil, err
	}

	imageStore, err := images.NewS3Store(ctx, images.S3Config{
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		Bucket:       c.S3Bucket,
		BaseEndpoint: c.S3BaseEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("image store init error: %w", err)
	}

	templates, err := mail.LoadTemplates()
	if err != nil {
		return nil, err
	}
	sender := mail.NewSMTPSender(mail.SMTPConfig{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		User:     c.SMTPUser,
		Password: c.SMTPPassword,
		From:     c.MailFrom,
		FromName: c.MailFromName,
	}, templates)
	app.dispatcher = mail.NewDispatcher(sender, c.MailWorkers, c.MailQueueSize, logger)

	hasher, err := passwords.New(c.PasswordAlgorithm, c.BcryptCost)
	if err != nil {
		return nil, err
	}

	codec := tokens.NewCodec([]byte(c.SecretKey),
		tokens.WithTTL(tokens.PurposeAccess, c.AccessTokenValidityDuration),
		tokens.WithTTL(tokens.PurposeRefresh, c.RefreshTokenValidityDuration),
		tokens.WithTTL(tokens.PurposeEmailConfirm, c.EmailTokenValidityDuration),
		tokens.WithTTL(tokens.PurposePasswordReset, c.PasswordResetTokenValidityDuration),
	)

	app.authService = services.NewAuthService(app.db, rm, services.Dependencies{
		Codec:      codec,
		Hasher:     passwords.NewPool(hasher, c.HashWorkers),
		Sessions:   store,
		Mailer:     app.dispatcher,
		Images:     imageStore,
		SessionTTL: c.SessionCacheTTL,
		Logger:     logger,
	})

	router := httpapi.NewRouter(app.authService, httpapi.Options{
		PublicBaseURL:     c.PublicBaseURL,
		AllowedHosts:      c.AllowedHosts,
		TrustProxyHeaders: c.TrustProxyHeaders,
		AllowedOrigins:    c.CORSAllowedOrigins,
	}, logger)
	app.httpServer = httpapi.NewServer(c.EndpointAddrHTTP, router, logger)
	app.grpcServer = gs.NewGRPCServer(c.EndpointAddrGRPC, app.db, logger)

	return app, nil
}

// openSessions connects to Redis when configured and falls back to the
// in-process cache otherwise.
func (app *App) openSessions(ctx context.Context) (sessions.Store, error) {
	c := app.config
	if c.RedisAddr == "" {
		app.logger.Info(ctx, "no redis address configured, using in-memory session cache")
		app.memSessions = sessions.NewMemoryStore()
		return app.memSessions, nil
	}

	client, err := sessions.OpenRedis(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("session cache init error: %w", err)
	}
	app.redis = client
	return sessions.NewRedisStore(client), nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// runComponent runs fn and cancels the whole app if it fails.
func (app *App) runComponent(ctx context.Context, cancelFunc context.CancelFunc, name string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		app.logger.Error(ctx, "component failed", "component", name, "error", err)
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "env", app.config.Env)

	app.initSignalHandler(cancelFunc)

	components := map[string]func(context.Context) error{
		"mail_dispatcher": app.dispatcher.Run,
		"http_server":     app.httpServer.Run,
		"grpc_server":     app.grpcServer.Run,
	}
	if app.memSessions != nil {
		components["session_sweeper"] = app.memSessions.Run
	}

	var wg sync.WaitGroup
	for name, fn := range components {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.runComponent(ctx, cancelFunc, name, fn)
		}()
	}

	wg.Wait()

	app.close()
	app.logger.Info(context.Background(), "App stopped")
}

func (app *App) close() {
	if app.redis != nil {
		_ = app.redis.Close()
	}
	if app.db != nil {
		_ = app.db.Close()
	}
}
