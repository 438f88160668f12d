package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/pilltrack-api/internal/config"
	"github.com/jwalitptl/pilltrack-api/internal/handler"
	deviceHandler "github.com/jwalitptl/pilltrack-api/internal/handler/device"
	historyHandler "github.com/jwalitptl/pilltrack-api/internal/handler/history"
	pillHandler "github.com/jwalitptl/pilltrack-api/internal/handler/pill"
	"github.com/jwalitptl/pilltrack-api/internal/localstore"
	"github.com/jwalitptl/pilltrack-api/internal/middleware"
	"github.com/jwalitptl/pilltrack-api/internal/reminder"
	"github.com/jwalitptl/pilltrack-api/internal/repository/postgres"
	"github.com/jwalitptl/pilltrack-api/internal/router"
	deviceService "github.com/jwalitptl/pilltrack-api/internal/service/device"
	historyService "github.com/jwalitptl/pilltrack-api/internal/service/history"
	pillService "github.com/jwalitptl/pilltrack-api/internal/service/pill"
	"github.com/jwalitptl/pilltrack-api/pkg/auth"
	"github.com/jwalitptl/pilltrack-api/pkg/logger"
	"github.com/jwalitptl/pilltrack-api/pkg/messaging/redis"
	"github.com/jwalitptl/pilltrack-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.Default()
	appMetrics := metrics.NewMetrics("pilltrack", "api")

	loc, err := cfg.Reminder.Location()
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.Reminder.Timezone).Msg("invalid reminder timezone")
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	local, err := localstore.New(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer local.Close()

	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &appLogger.ZL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create message broker")
	}
	defer broker.Close()

	pillRepo := postgres.NewPillRepository(db)
	histRepo := postgres.NewHistoryRepository(db)
	outboxRepo := postgres.NewOutboxRepository(postgres.NewBaseRepository(db))

	scheduler := reminder.NewCronScheduler(broker, reminder.Config{
		Location: loc,
		Lead:     time.Duration(cfg.Reminder.LeadMinutes) * time.Minute,
		Channel:  cfg.Reminder.Channel,
	}, appLogger, appMetrics)
	scheduler.Start()
	defer scheduler.Stop()

	trackerSvc := pillService.NewService(local, pillRepo, histRepo, outboxRepo, scheduler, loc, appLogger, appMetrics)
	histSvc := historyService.NewService(histRepo, cfg.Cache.HistoryTTL, appLogger)
	trackerSvc.SetInvalidator(histSvc)

	tokens := auth.NewJWTService(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)
	deviceSvc := deviceService.NewService(local, tokens, appLogger)

	authMiddleware := middleware.NewAuthMiddleware(tokens)

	routerCfg := router.Config{MetricsPrefix: "pilltrack"}
	if cfg.RateLimit.Enabled {
		routerCfg.RateLimit = rate.Limit(cfg.RateLimit.RequestsPerSecond)
		routerCfg.RateBurst = cfg.RateLimit.Burst
	}

	r := router.NewRouter(
		authMiddleware,
		deviceHandler.NewHandler(deviceSvc),
		pillHandler.NewHandler(trackerSvc),
		historyHandler.NewHandler(histSvc),
		handler.NewHandler(),
		routerCfg,
	)
	r.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Catches the midnight boundary for long-running sessions; a pass is
	// also run whenever a store is first loaded.
	go trackerSvc.StartRolloverLoop(ctx, cfg.Rollover.Interval)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Server.Port).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
