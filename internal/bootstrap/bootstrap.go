// Package bootstrap builds the shared dependencies of the API, the render
// worker and the booth CLI from a loaded config.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/dunamismax/flagbooth/internal/config"
	"github.com/dunamismax/flagbooth/internal/frame"
	"github.com/dunamismax/flagbooth/internal/location"
	"github.com/dunamismax/flagbooth/internal/ratelimit"
	"github.com/dunamismax/flagbooth/internal/storage"
	"github.com/dunamismax/flagbooth/internal/store"
	"github.com/dunamismax/flagbooth/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

// Catalog loads the campaign file and applies the configured phase override.
func Catalog(cfg config.CampaignConfig) (*location.Catalog, error) {
	campaign, err := location.LoadCampaign(cfg.File)
	if err != nil {
		return nil, err
	}
	catalog, err := campaign.Catalog(strings.TrimSpace(cfg.Phase))
	if err != nil {
		return nil, fmt.Errorf("build location catalog: %w", err)
	}
	return catalog, nil
}

// FrameSource picks where designed frame assets come from. A nil store with no
// asset directory yields a nil source, so every frame is procedural.
func FrameSource(cfg config.FramesConfig, objects frame.ObjectReader) frame.Source {
	switch {
	case strings.TrimSpace(cfg.AssetDir) != "":
		return frame.DirSource{Dir: cfg.AssetDir}
	case objects != nil:
		return frame.ObjectStoreSource{Store: objects, Prefix: cfg.ObjectPrefix}
	default:
		return nil
	}
}

func Storage(ctx context.Context, cfg config.StorageConfig) (*storage.Client, error) {
	client, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Endpoint,
		Access:   cfg.AccessKey,
		Secret:   cfg.SecretKey,
		Bucket:   cfg.Bucket,
		UseSSL:   cfg.UseSSL,

		MaxObjectBytes: int64(cfg.MaxPhotoMB) << 20,
	})
	if err != nil {
		return nil, err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// JobStore returns the Postgres store when a DSN is configured and the memory
// store otherwise. The returned closer is never nil.
func JobStore(ctx context.Context, cfg config.DatabaseConfig, logger *log.Logger) (store.JobStore, io.Closer, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		logger.Printf("job store backend=memory")
		return store.NewMemoryJobStore(), nopCloser{}, nil
	}

	pg, err := store.NewPostgresJobStore(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	logger.Printf("job store backend=postgres")
	return pg, pg, nil
}

// RateLimiter builds the configured limiter. It returns nil when limiting is
// disabled.
func RateLimiter(cfg config.RateLimitConfig, queue config.QueueConfig, logger *log.Logger) (ratelimit.Limiter, io.Closer, error) {
	switch cfg.Backend {
	case "", "none", "off":
		logger.Printf("rate limiting disabled")
		return nil, nopCloser{}, nil
	case "memory":
		l, err := ratelimit.NewMemoryTokenBucket(cfg.Capacity, cfg.Window)
		if err != nil {
			return nil, nil, err
		}
		logger.Printf("rate limiting backend=memory capacity=%d window=%s", cfg.Capacity, cfg.Window)
		return l, nopCloser{}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     queue.RedisAddr,
			Password: queue.RedisPassword,
			DB:       queue.RedisDB,
		})
		l, err := ratelimit.NewRedisTokenBucket(client, cfg.Capacity, cfg.Window, ratelimit.DefaultKeyPrefix)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		logger.Printf("rate limiting backend=redis capacity=%d window=%s", cfg.Capacity, cfg.Window)
		return l, client, nil
	default:
		return nil, nil, fmt.Errorf("unsupported rate limit backend: %s", cfg.Backend)
	}
}

func Tracing(ctx context.Context, cfg config.TelemetryConfig, service string, logger *log.Logger) (telemetry.ShutdownFunc, error) {
	name := cfg.ServiceName
	if service != "" {
		name = name + "-" + service
	}
	return telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  name,
		Exporter:     cfg.Exporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
		SampleRatio:  cfg.SampleRatio,
	}, logger)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
