// cmd/members-service/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"members-service/internal/api"
	"members-service/internal/common/aws"
	"members-service/internal/common/config"
	"members-service/internal/common/database"
	"members-service/internal/common/logger"
	"members-service/internal/common/observability"
	"members-service/internal/events"
	"members-service/internal/geolocation"
	"members-service/internal/identity"
	"members-service/internal/magiclink"
	"members-service/internal/mailer"
	"members-service/internal/member"
	"members-service/internal/token"
	"members-service/internal/webhook"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting members service...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("members-service")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var redisClient *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redisClient, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redisClient.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redisClient.Close()
	zapLog.Info("Redis connected successfully")

	// --- Token signing ---
	tokenService, err := token.NewService(cfg.Tokens)
	if err != nil {
		zapLog.Fatal("token service initialization failed", zap.Error(err))
	}

	// --- Outbound mail ---
	var mail mailer.Mailer
	if cfg.Integrations.AWS.SES.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("ses client initialization failed", zap.Error(err))
		}
		mail = mailer.NewSESMailer(sesClient, cfg.Integrations.AWS.SES.FromEmail, cfg.App.Name, log)
		zapLog.Info("SES mailer initialized")
	} else {
		mail = mailer.NewLogMailer(log)
		zapLog.Warn("SES disabled; magic links are logged instead of emailed")
	}

	// --- Geolocation (optional, best-effort) ---
	var geo geolocation.Geolocator
	if cfg.Integrations.Geolocation.BaseURL != "" {
		geo = geolocation.NewClient(
			cfg.Integrations.Geolocation.BaseURL,
			config.GetDuration(cfg.Integrations.Geolocation.Timeout),
			redisClient.GetClient(),
			log,
		)
	}

	// --- Repositories and services ---
	members := member.NewRepository(pg.DB, geo, log)
	eventLog := events.NewRepository(pg.DB, log)

	links := magiclink.NewService(
		tokenService,
		members,
		mail,
		redisClient.GetClient(),
		cfg.Signup.SigninURL,
		cfg.Signup.AllowSelfSignup,
		log,
	)

	identities := identity.NewService(links, tokenService, members, eventLog, log)

	webhooks := webhook.NewService(
		cfg.Billing.WebhookSecret,
		config.GetSeconds(cfg.Billing.SignatureTolerance),
		webhook.NewLedger(pg.DB),
		members,
		eventLog,
		links,
		log,
	)

	// --- HTTP server ---
	handlers := api.NewHandlers(links, identities, webhooks, tokenService, pg.Ping, log)
	server := api.NewServer(cfg.Server, handlers, obs, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	case sig := <-stop:
		zapLog.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("graceful shutdown failed", zap.Error(err))
	}

	zapLog.Info("members service stopped")
}
