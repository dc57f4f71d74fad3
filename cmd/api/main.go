package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"

	"voicemetrics/internal/auth"
	"voicemetrics/internal/config"
	"voicemetrics/internal/httpapi"
	"voicemetrics/internal/metrics"
	"voicemetrics/internal/providers"
	"voicemetrics/internal/stats"
	"voicemetrics/internal/storage"
	"voicemetrics/internal/syncjob"
	"voicemetrics/pkg/logger"
	"voicemetrics/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	retry := utils.RetryConfig{MaxAttempts: cfg.Sync.MaxFetchRetries}
	twilio := providers.NewTwilioClient(providers.TwilioConfig{
		AccountSID:  cfg.Twilio.AccountSID,
		AuthToken:   cfg.Twilio.AuthToken,
		BaseURL:     cfg.Twilio.BaseURL,
		PageCeiling: cfg.Sync.PageCeiling,
		Retry:       retry,
	}, log)
	eleven := providers.NewElevenLabsClient(providers.ElevenLabsConfig{
		APIKey:          cfg.ElevenLabs.APIKey,
		BaseURL:         cfg.ElevenLabs.BaseURL,
		DetailBatchSize: cfg.Sync.DetailFetchBatch,
		InterBatchPause: cfg.Sync.InterBatchPause,
		PageCeiling:     cfg.Sync.PageCeiling,
		Retry:           retry,
	}, log)

	store := storage.NewPostgresStore(db)
	gateway := storage.NewGateway(store, cfg.Sync.UpsertBatchSize, log)
	collector := metrics.NewCollector()
	jobs := syncjob.NewService(twilio, eleven, store, gateway, collector, log)
	statsSvc := stats.NewService(store)

	handlers := httpapi.Handlers{
		Auth:       authManager,
		Stats:      statsSvc,
		Jobs:       jobs,
		Store:      store,
		Redis:      rdb,
		JobLockTTL: cfg.Sync.JobLockTTL,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, handlers, cfg.Cron.Secret, collector, db)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Job triggers do a full provider sync inline; give them room.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
