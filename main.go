package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/piculi-bot/piculi-engine/pkg/apperrors"
	"github.com/piculi-bot/piculi-engine/pkg/auth"
	"github.com/piculi-bot/piculi-engine/pkg/config"
	"github.com/piculi-bot/piculi-engine/pkg/database"
	"github.com/piculi-bot/piculi-engine/pkg/fetcher"
	"github.com/piculi-bot/piculi-engine/pkg/handlers"
	"github.com/piculi-bot/piculi-engine/pkg/logging"
	"github.com/piculi-bot/piculi-engine/pkg/middleware"
	"github.com/piculi-bot/piculi-engine/pkg/models"
	"github.com/piculi-bot/piculi-engine/pkg/repositories"
	"github.com/piculi-bot/piculi-engine/pkg/retry"
	"github.com/piculi-bot/piculi-engine/pkg/services"
	"github.com/piculi-bot/piculi-engine/pkg/storage"
	"github.com/piculi-bot/piculi-engine/pkg/workerpool"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownGrace = 30 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, closeLog, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer closeLog()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Bool("scheduler_enabled", cfg.Scheduler.Enabled),
		zap.String("timezone", cfg.Scheduler.Timezone))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := retry.DoWithResult(ctx, retry.StartupConfig(), func() (*database.DB, error) {
		return database.NewConnection(ctx, database.ConfigFrom(cfg.Database))
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", logging.SafeError(err))
	}
	defer db.Close()

	sqlDB, err := database.OpenSQL(cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = sqlDB.Close()

	analyticsDB, err := database.OpenAnalytics(ctx, cfg.Analytics.Path)
	if err != nil {
		logger.Fatal("Failed to open analytics database", zap.String("path", cfg.Analytics.Path), zap.Error(err))
	}
	defer analyticsDB.Close()

	redisClient, err := database.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", logging.SafeError(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		logger.Info("Redis not configured, pipeline lock is process-local")
	}

	// Repositories
	groupRepo := repositories.NewTrackedGroupRepository(db)
	fileRepo := repositories.NewProcessedFileRepository(db)
	lessonRepo := repositories.NewLessonRepository(db)
	occupancyRepo := repositories.NewOccupancyRepository(db)
	settingRepo := repositories.NewBotSettingRepository(db)
	actionLogRepo := repositories.NewActionLogRepository(analyticsDB)

	if err := settingRepo.EnsureDefaults(ctx, models.DefaultBotSettings); err != nil {
		logger.Fatal("Failed to seed bot settings", zap.Error(err))
	}

	store := storage.NewArtifactStore(cfg.Storage.DataDir)

	docs := fetcher.New(cfg.Site, fileRepo, logger)
	pool := workerpool.New(workerpool.Config{MaxConcurrent: cfg.Fetch.MaxConcurrent}, logger)

	// Services
	directory := services.NewDirectorySyncService(cfg.Site, docs, groupRepo, logger)
	downloader := services.NewScheduleDownloader(cfg.Site, cfg.Retention, docs, store, pool, groupRepo, fileRepo, logger)
	occupancy := services.NewOccupancySyncService(cfg.Site, cfg.Occupancy, docs, pool, db, occupancyRepo, fileRepo, logger)
	lock := services.NewPipelineLock(redisClient, logger)
	pipeline := services.NewPipelineService(downloader, occupancy, lessonRepo, settingRepo, lock, logger)
	maintenance := services.NewMaintenanceService(cfg.Retention, store, lessonRepo, actionLogRepo, logger)
	scheduler := services.NewSchedulerService(cfg.Scheduler, pipeline, directory, maintenance, settingRepo, logger)
	scheduleQuery := services.NewScheduleQueryService(lessonRepo, groupRepo, logger)
	roomQuery := services.NewRoomQueryService(occupancyRepo, logger)

	if cfg.Scheduler.Enabled {
		if err := scheduler.Start(); err != nil {
			logger.Fatal("Failed to start scheduler", zap.Error(err))
		}
	} else {
		logger.Info("Scheduler disabled, pipeline runs only on demand")
	}

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		logger.Fatal("Failed to load timezone", zap.String("timezone", cfg.Scheduler.Timezone), zap.Error(err))
	}

	mux := http.NewServeMux()

	checks := map[string]handlers.HealthCheck{
		"postgres":  db.Ping,
		"analytics": analyticsDB.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	handlers.NewHealthHandler(cfg, checks, logger).RegisterRoutes(mux)
	handlers.NewAdminHandler(
		scheduler, maintenance, directory,
		groupRepo, settingRepo, fileRepo, actionLogRepo,
		cfg.Logging.File, logger,
	).RegisterRoutes(mux, auth.NewMiddleware(cfg.AdminToken, logger))
	handlers.NewQueryHandler(scheduleQuery, roomQuery, actionLogRepo, loc, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting piculi-engine", zap.String("addr", server.Addr), zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		logger.Error("Server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if cfg.Scheduler.Enabled {
		if err := scheduler.Stop(shutdownCtx); err != nil && !errors.Is(err, apperrors.ErrSchedulerStopped) {
			logger.Error("Scheduler shutdown failed", zap.Error(err))
		}
	}
	cancel()

	logger.Info("Shutdown complete")
}
