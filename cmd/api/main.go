package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"idguard/api/internal/cache"
	"idguard/api/internal/config"
	"idguard/api/internal/database"
	"idguard/api/internal/handlers"
	"idguard/api/internal/jobs"
	"idguard/api/internal/log"
	"idguard/api/internal/notify"
	"idguard/api/internal/server"
	"idguard/api/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment)

	ctx := context.Background()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	if err := database.EnsureSchema(ctx, dbPool); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply schema")
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	var sender notify.Sender = notify.NopSender{}
	if cfg.SMTP.Host != "" {
		mailer, err := notify.NewMailer(cfg.SMTP, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init mailer")
		}
		sender = mailer
	} else {
		logger.Warn().Msg("smtp host not configured, notifications disabled")
	}

	var archive *storage.ArchiveStore
	if cfg.Archive.Endpoint != "" {
		archive, err = storage.NewArchiveStore(cfg.Archive)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init audit archive store")
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			logger.Warn().Err(err).Msg("ensure archive bucket failed")
		}
	} else {
		logger.Warn().Msg("archive endpoint not configured, audit archival disabled")
	}

	handlerSet := handlers.NewHandlerSet(logger, dbPool, redisClient, sender, cfg)
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	scheduler := jobs.NewScheduler(handlerSet.Store(), handlerSet.SuspensionService(), archive, redisClient, cfg, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, dbPool, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	scheduler.Stop()

	db.Close()
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close error")
	}

	logger.Info().Msg("server exited cleanly")
}
