package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/flagbooth/internal/api"
	"github.com/dunamismax/flagbooth/internal/bootstrap"
	"github.com/dunamismax/flagbooth/internal/config"
	"github.com/dunamismax/flagbooth/internal/frame"
	"github.com/dunamismax/flagbooth/internal/queue"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := bootstrap.Tracing(ctx, cfg.Telemetry, "api", logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Printf("tracing shutdown error: %v", err)
		}
	}()

	catalog, err := bootstrap.Catalog(cfg.Campaign)
	if err != nil {
		logger.Fatalf("campaign load failed: %v", err)
	}
	logger.Printf("campaign phase=%s locations=%d knockout=%d", catalog.Phase(), catalog.Total(), len(catalog.Knockout()))

	storageClient, err := bootstrap.Storage(ctx, cfg.Storage)
	if err != nil {
		logger.Fatalf("storage setup failed: %v", err)
	}

	jobStore, jobStoreCloser, err := bootstrap.JobStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatalf("job store setup failed: %v", err)
	}
	defer jobStoreCloser.Close()

	limiter, limiterCloser, err := bootstrap.RateLimiter(cfg.RateLimit, cfg.Queue, logger)
	if err != nil {
		logger.Fatalf("rate limiter setup failed: %v", err)
	}
	defer limiterCloser.Close()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	frames := frame.NewProvider(bootstrap.FrameSource(cfg.Frames, storageClient), logger)
	app := api.NewServer(logger, api.Options{
		Queue:       queueClient,
		JobStore:    jobStore,
		Storage:     storageClient,
		PresignTTL:  cfg.API.PresignTTL,
		Catalog:     catalog,
		Frames:      frames,
		RateLimiter: limiter,
		UserHeader:  cfg.API.UserHeader,
	})

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}
