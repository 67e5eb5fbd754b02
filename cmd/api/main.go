package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tlong-ds/thelearninghouse/internal/app"
	"github.com/tlong-ds/thelearninghouse/internal/auth"
	"github.com/tlong-ds/thelearninghouse/internal/cache"
	"github.com/tlong-ds/thelearninghouse/internal/config"
	"github.com/tlong-ds/thelearninghouse/internal/infrastructure/persistence"
	"github.com/tlong-ds/thelearninghouse/internal/upload"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("cannot load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store := persistence.NewRedisStore(client)
	if err := store.Ping(ctx); err != nil {
		// The cache tier is optional; requests fall back to direct fetches.
		logger.Warn("cache store unreachable at startup", zap.Error(err))
	}

	sess := session.Must(session.NewSession(&aws.Config{Region: aws.String(cfg.Region)}))
	uploader := persistence.NewUploader(sess, cfg.Bucket, cfg.Region)

	apiCache := cache.New(store, logger)
	registry := upload.NewRegistry(uploader, persistence.NewCachedSessionStore(store), logger)
	registry.SetTTLs(cfg.SessionTTL, cfg.PresignTTL)
	if err := registry.Restore(ctx); err != nil {
		logger.Warn("cannot restore upload sessions", zap.Error(err))
	}
	go registry.Run(ctx, cfg.SweepInterval)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		cache.NewCollector(apiCache),
	)

	r := mux.NewRouter()
	app.SetupRoutes(r, registry, apiCache, uploader, auth.NewDecoder(cfg.JWTSecret), logger)
	r.Methods("GET").Path("/metrics").Handler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Handler:      r,
		Addr:         cfg.Addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	go func() {
		logger.Info("the server started", zap.String("addr", cfg.Addr))
		var err error
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			err = srv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := client.Close(); err != nil {
		logger.Error("cannot close cache client", zap.Error(err))
	}
}
