// Package main runs the campus event pass HTTP server with the lifecycle jobs, the
// notification worker and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campuspass/backend/config"
	"github.com/campuspass/backend/internal/analytics"
	"github.com/campuspass/backend/internal/auth"
	"github.com/campuspass/backend/internal/events"
	"github.com/campuspass/backend/internal/lifecycle"
	"github.com/campuspass/backend/internal/middleware"
	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/internal/notifications"
	"github.com/campuspass/backend/internal/passes"
	"github.com/campuspass/backend/internal/realtime"
	"github.com/campuspass/backend/internal/registrations"
	"github.com/campuspass/backend/internal/scan"
	"github.com/campuspass/backend/internal/worker"
	"github.com/campuspass/backend/pkg/database"
	"github.com/campuspass/backend/pkg/email"
	"github.com/campuspass/backend/pkg/queue"
	"github.com/campuspass/backend/pkg/redis"
	"github.com/campuspass/backend/pkg/response"
	"github.com/campuspass/backend/pkg/storage"
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

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	// Posters and profile pictures; uploads answer 503 without a bucket.
	var (
		posters events.ImageUploader
		images  auth.ImageStore
	)
	if cfg.AWS.MediaBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			MediaBucket:     cfg.AWS.MediaBucket,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			posters, images = s3Client, s3Client
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	codec := passes.NewCodec(cfg.Pass.Secret)

	userRepo := auth.NewRepository(pool)
	eventRepo := events.NewRepository(pool)
	registrationRepo := registrations.NewRepository(pool)
	notificationRepo := notifications.NewRepository(pool)

	// Notifications: API -> Redis queue -> worker -> Postgres + WebSocket + email
	jobQueue := queue.NewQueue(rdb.Client, logger)
	fanout := notifications.NewFanout(notifications.NewQueueNotifier(jobQueue), userRepo, registrationRepo, cfg.Timeouts.Notifier, logger)

	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	mailer := email.NewMailer(email.SMTPConfig{
		Host:      cfg.Email.SMTPHost,
		Port:      cfg.Email.SMTPPort,
		Username:  cfg.Email.SMTPUser,
		Password:  cfg.Email.SMTPPass,
		FromName:  cfg.Email.FromName,
		FromEmail: cfg.Email.FromAddress,
	}, logger)
	processor := worker.NewNotificationProcessor(notificationRepo, userRepo, hub, mailer, jobQueue, logger)

	authHandler := auth.NewHandler(userRepo, jwtService, images, logger)
	eventHandler := events.NewHandler(eventRepo, posters, fanout, cfg.Timeouts.Store, logger)
	registrationSvc := registrations.NewService(registrationRepo, eventRepo, codec, fanout, cfg.Timeouts.Store, logger)
	registrationHandler := registrations.NewHandler(registrationSvc, logger)
	scanHandler := scan.NewHandler(scan.NewService(registrationRepo, codec, fanout, cfg.Timeouts.Store, logger), logger)
	notificationHandler := notifications.NewHandler(notificationRepo, logger)
	analyticsHandler := analytics.NewHandler(eventRepo, registrationRepo, cfg.Timeouts.Store, logger)

	// Lifecycle jobs
	sweeper := lifecycle.NewSweeper(eventRepo, cfg.Sweeper.GracePeriod, cfg.Timeouts.Store, logger)
	reminder := lifecycle.NewReminder(eventRepo, fanout, rdb, cfg.Timeouts.Store, logger)
	scheduler := lifecycle.NewScheduler(rdb, 30*time.Minute, logger)
	if err := scheduler.Add("event-sweep", cfg.Sweeper.Schedule, cfg.Sweeper.RunOnStart, func(ctx context.Context, now time.Time) {
		sweeper.RunOnce(ctx, now)
	}); err != nil {
		logger.Fatal("schedule sweeper", zap.Error(err))
	}
	if err := scheduler.Add("event-reminders", cfg.Sweeper.ReminderSchedule, false, func(ctx context.Context, now time.Time) {
		reminder.RunOnce(ctx, now)
	}); err != nil {
		logger.Fatal("schedule reminders", zap.Error(err))
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSOrigins()))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/auth/me", authHandler.Me)
		api.PUT("/auth/profile", authHandler.UpdateProfile)

		// Events
		api.GET("/events", eventHandler.List)
		api.GET("/events/:id", eventHandler.GetByID)
		api.POST("/events", middleware.RequireRole(models.RoleAdmin), eventHandler.Create)
		api.PUT("/events/:id", middleware.RequireRole(models.RoleAdmin), eventHandler.Update)
		api.DELETE("/events/:id", middleware.RequireRole(models.RoleAdmin), eventHandler.Delete)
		api.POST("/events/:id/poster", middleware.RequireRole(models.RoleAdmin), eventHandler.UploadPoster)
		api.GET("/events/:id/analytics", middleware.RequireRole(models.RoleAdmin), analyticsHandler.GetByEvent)

		// Registrations. Static segments are registered before the :eventId wildcard.
		api.GET("/registrations/my-registrations", middleware.RequireRole(models.RoleStudent), registrationHandler.MyRegistrations)
		api.GET("/registrations/event/:eventId", middleware.RequireRole(models.RoleAdmin), registrationHandler.EventRegistrations)
		api.GET("/registrations/export/:eventId", middleware.RequireRole(models.RoleAdmin), registrationHandler.Export)
		api.GET("/registrations/pass/:id/qr.png", registrationHandler.QRCode)
		api.POST("/registrations/:eventId", middleware.RequireRole(models.RoleStudent), registrationHandler.Register)
		api.DELETE("/registrations/:eventId", middleware.RequireRole(models.RoleStudent), registrationHandler.Cancel)

		// Door scanner
		api.POST("/scan", middleware.RequireRole(models.RoleAdmin), scanHandler.Scan)

		// Notifications
		api.GET("/notifications", notificationHandler.List)
		api.PATCH("/notifications/read-all", notificationHandler.MarkAllRead)
		api.PATCH("/notifications/:id/read", notificationHandler.MarkRead)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, jwtService, cfg.Server.CORSOrigins(), logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		processor.Run(workerCtx)
	}()
	logger.Info("notification worker started")

	scheduler.Start()

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	scheduler.Stop(shutdownCtx)
	fanout.Wait()
	workerCancel()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
