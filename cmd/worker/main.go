package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/flagbooth/internal/bootstrap"
	"github.com/dunamismax/flagbooth/internal/compose"
	"github.com/dunamismax/flagbooth/internal/config"
	"github.com/dunamismax/flagbooth/internal/frame"
	"github.com/dunamismax/flagbooth/internal/webhook"
	"github.com/dunamismax/flagbooth/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := compose.Startup(); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer compose.Shutdown()

	shutdownTracing, err := bootstrap.Tracing(ctx, cfg.Telemetry, "worker", logger)
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

	storageClient, err := bootstrap.Storage(ctx, cfg.Storage)
	if err != nil {
		logger.Fatalf("storage setup failed: %v", err)
	}

	jobStore, jobStoreCloser, err := bootstrap.JobStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatalf("job store setup failed: %v", err)
	}
	defer jobStoreCloser.Close()

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s phase=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		catalog.Phase(),
	)

	srv, err := worker.NewServer(logger, worker.Options{
		Queue:    cfg.Queue,
		Worker:   cfg.Worker,
		Catalog:  catalog,
		Frames:   frame.NewProvider(bootstrap.FrameSource(cfg.Frames, storageClient), logger),
		Storage:  storageClient,
		JobStore: jobStore,
		Webhooks: webhook.NewClient(webhook.Config{
			SigningSecret:  cfg.Webhook.SigningSecret,
			Timeout:        cfg.Webhook.Timeout,
			MaxAttempts:    cfg.Webhook.MaxAttempts,
			InitialBackoff: cfg.Webhook.InitialBackoff,
			MaxBackoff:     cfg.Webhook.MaxBackoff,
		}),
	})
	if err != nil {
		logger.Fatalf("worker setup failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Println("shutting down")
		srv.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("worker failed: %v", err)
	}
}
