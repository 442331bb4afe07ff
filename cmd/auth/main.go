package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"credential_service/internal/auth"
	"credential_service/internal/config"
	"credential_service/internal/http_server/handlers"
	"credential_service/internal/http_server/router"
	"credential_service/internal/lib/hasher"
	"credential_service/internal/lib/jwt"
	sl "credential_service/internal/lib/logger"
	"credential_service/internal/lib/otpgen"
	"credential_service/internal/models"
	"credential_service/internal/otp"
	"credential_service/internal/rabbitmq"
	"credential_service/internal/storage/memory"
	"credential_service/internal/storage/postgres"
	otpredis "credential_service/internal/storage/redis"
	"credential_service/internal/tokens"
)

type repository interface {
	auth.AccountRepository
	tokens.SessionStore
}

func main() {
	cfg := config.MustLoad()

	log := sl.Setup(cfg.Env, os.Stdout)

	log.Info("starting credential service", slog.String("env", cfg.Env), slog.String("otp_store", cfg.OTP.Store))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("service stopped with error", sl.Err(err))
		os.Exit(1)
	}

	log.Info("Main service stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	repo, otpStore, closeStorage, err := setupStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage()

	notifier, closeNotifier, err := setupNotifier(cfg, log)
	if err != nil {
		return err
	}
	defer closeNotifier()

	keys, err := signingKeys(cfg.Tokens)
	if err != nil {
		return err
	}

	h := hasher.New(cfg.Hasher.Cost)
	otps := otp.New(log, otpStore, h, otpgen.New())
	issuer := tokens.New(log, repo, repo, keys)

	authService := auth.New(log, repo, otps, issuer, h, notifier, auth.Settings{
		OTPTTL:         cfg.OTP.TTL,
		ResendInterval: cfg.OTP.ResendInterval,
	})
	defer authService.Wait()

	go purgeExpired(ctx, log, otps, cfg.OTP.PurgeInterval)

	r := router.New(log, authService, router.Options{
		Cookie: handlers.CookieConfig{
			MaxAge: issuer.RefreshTTL(),
			Secure: cfg.Env == config.EnvProd,
		},
		RateRequests:   cfg.RateLimit.Requests,
		RateWindow:     cfg.RateLimit.Window,
		PerRouteLimits: cfg.Env != config.EnvLocal,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      r,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	srvErr := make(chan error, 1)

	go func() {
		log.Info("HTTP server is running", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-srvErr:
		return fmt.Errorf("http server: %w", err)
	}

	log.Info("Shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", sl.Err(err))
	} else {
		log.Info("Server stopped gracefully")
	}

	return nil
}

// * setupStorage выбирает хранилища по otp.store: memory целиком в памяти,
// postgres для всего, redis для кодов поверх postgres для аккаунтов и сессий
func setupStorage(ctx context.Context, cfg *config.Config) (repository, otp.Store, func(), error) {
	if cfg.OTP.Store == config.StoreMemory {
		s := memory.New()

		return s, s, func() {}, nil
	}

	pg, err := postgres.New(ctx, cfg.Postgres.DSN())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect postgres: %w", err)
	}

	if cfg.OTP.Store != config.StoreRedis {
		return pg, pg, pg.Close, nil
	}

	rdb, err := otpredis.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		pg.Close()

		return nil, nil, nil, fmt.Errorf("failed to connect redis: %w", err)
	}

	return pg, rdb, func() {
		rdb.Close()
		pg.Close()
	}, nil
}

// logNotifier пишет уведомления в лог вместо очереди. Только для env=local без RabbitMQ.
type logNotifier struct {
	log *slog.Logger
}

func (n logNotifier) Notify(_ context.Context, msg models.Message) error {
	n.log.Debug("notification",
		slog.String("email", msg.Email),
		slog.String("purpose", string(msg.Purpose)),
		slog.String("code", msg.Code),
	)

	return nil
}

func setupNotifier(cfg *config.Config, log *slog.Logger) (auth.Notifier, func(), error) {
	if cfg.RabbitMQ.URL == "" && cfg.Env == config.EnvLocal {
		log.Warn("rabbitmq url is empty, notifications go to the log")

		return logNotifier{log: log}, func() {}, nil
	}

	broker, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect rabbitmq: %w", err)
	}

	return broker, broker.Close, nil
}

func signingKeys(cfg config.Tokens) (*jwt.StaticKeys, error) {
	keys := make([]jwt.Key, 0, len(cfg.SigningKeys))
	for _, k := range cfg.SigningKeys {
		keys = append(keys, jwt.Key{ID: k.ID, Secret: []byte(k.Secret)})
	}

	return jwt.NewStaticKeys(cfg.ActiveKeyID, keys)
}

func purgeExpired(ctx context.Context, log *slog.Logger, otps *otp.Manager, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := otps.PurgeExpired(ctx)
			if err != nil {
				log.Error("failed to purge expired codes", sl.Err(err))
				continue
			}

			if n > 0 {
				log.Info("expired codes purged", slog.Int64("count", n))
			}
		}
	}
}
