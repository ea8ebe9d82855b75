// Package main runs the standalone notification worker: it drains the Redis job queue,
// stores notifications, pushes them to live sessions and sends reminder emails.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campuspass/backend/config"
	"github.com/campuspass/backend/internal/auth"
	"github.com/campuspass/backend/internal/notifications"
	"github.com/campuspass/backend/internal/realtime"
	"github.com/campuspass/backend/internal/worker"
	"github.com/campuspass/backend/pkg/database"
	"github.com/campuspass/backend/pkg/email"
	"github.com/campuspass/backend/pkg/queue"
	"github.com/campuspass/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	// Publish-only hub: the API instances holding the sockets deliver.
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, nil)

	mailer := email.NewMailer(email.SMTPConfig{
		Host:      cfg.Email.SMTPHost,
		Port:      cfg.Email.SMTPPort,
		Username:  cfg.Email.SMTPUser,
		Password:  cfg.Email.SMTPPass,
		FromName:  cfg.Email.FromName,
		FromEmail: cfg.Email.FromAddress,
	}, logger)
	if !mailer.Enabled() {
		logger.Warn("SMTP_HOST not set, notification emails are disabled")
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewNotificationProcessor(
		notifications.NewRepository(pool),
		auth.NewRepository(pool),
		hub,
		mailer,
		jobQueue,
		logger,
	)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Run(workerCtx)
	}()
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("worker did not stop in time")
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
