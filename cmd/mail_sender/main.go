package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"credential_service/internal/config"
	sl "credential_service/internal/lib/logger"
	"credential_service/internal/mailer"
	"credential_service/internal/models"
	"credential_service/internal/rabbitmq"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()
	log := sl.Setup(cfg.Env, os.Stdout)

	log.Info("starting mail_sender", slog.String("env", cfg.Env))

	if err := run(ctx, cfg, log); err != nil {
		log.Error("mail_sender stopped with error", sl.Err(err))
		os.Exit(1)
	}

	log.Info("service gracefully stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	r, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
	if err != nil {
		return err
	}
	defer r.Close()

	m := mailer.New(cfg.Email.Host, cfg.Email.Port, cfg.Email.Username, cfg.Email.Password, cfg.Email.From)

	log.Info("consumer successfully started", slog.String("queue", cfg.RabbitMQ.QueueName))

	return r.StartReading(ctx, func(ctx context.Context, msg models.Message) error {
		log := log.With(slog.String("purpose", string(msg.Purpose)))

		if err := m.Send(ctx, msg); err != nil {
			log.Error("failed to send message", sl.Err(err))
			return err
		}

		log.Info("message sent successfully")

		return nil
	})
}
