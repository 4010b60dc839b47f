package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Frames    FramesConfig
	Campaign  CampaignConfig
	Telemetry TelemetryConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	CheckIn   CheckInConfig
}

type APIConfig struct {
	Addr       string
	PresignTTL time.Duration
	// UserHeader names the request header that identifies a kiosk or client for
	// rate limiting.
	UserHeader string
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int
	MaxActiveJobs  int
	LocalOutputDir string
	MetricsAddr    string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// MaxPhotoMB caps source photos read back for rendering.
	MaxPhotoMB int
}

// DatabaseConfig selects the job store. An empty DSN keeps jobs in memory.
type DatabaseConfig struct {
	DSN string
}

// FramesConfig locates designed frame assets. AssetDir wins over the object
// store prefix when both are set; with neither, every frame is procedural.
type FramesConfig struct {
	AssetDir     string
	ObjectPrefix string
}

type CampaignConfig struct {
	File  string
	Phase string
}

type TelemetryConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

type RateLimitConfig struct {
	// Backend is "redis", "memory" or "none".
	Backend  string
	Capacity int
	Window   time.Duration
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// CheckInConfig points the booth at the campaign check-in API.
type CheckInConfig struct {
	BaseURL   string
	Timeout   time.Duration
	StorePath string
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:       env("FLAGBOOTH_API_ADDR", ":8080"),
			PresignTTL: envDuration("FLAGBOOTH_PRESIGN_TTL", 15*time.Minute),
			UserHeader: env("FLAGBOOTH_RATE_LIMIT_HEADER", "X-Kiosk-ID"),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:    envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs:  envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			LocalOutputDir: env("WORKER_LOCAL_OUTPUT_DIR", "./.flagbooth-output"),
			MetricsAddr:    env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "flagbooth-renders"),
			UseSSL:    envBool("MINIO_USE_SSL", false),

			MaxPhotoMB: envInt("FLAGBOOTH_MAX_PHOTO_MB", 25),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Frames: FramesConfig{
			AssetDir:     env("FLAGBOOTH_FRAME_DIR", ""),
			ObjectPrefix: env("FLAGBOOTH_FRAME_PREFIX", "frames"),
		},
		Campaign: CampaignConfig{
			File:  env("FLAGBOOTH_CAMPAIGN_FILE", ""),
			Phase: env("FLAGBOOTH_PHASE", ""),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "flagbooth"),
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_ARG", 1),
		},
		RateLimit: RateLimitConfig{
			Backend:  strings.ToLower(env("FLAGBOOTH_RATE_LIMIT_BACKEND", "redis")),
			Capacity: envInt("FLAGBOOTH_RATE_LIMIT_CAPACITY", 30),
			Window:   envDuration("FLAGBOOTH_RATE_LIMIT_WINDOW", time.Minute),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("FLAGBOOTH_WEBHOOK_SECRET", ""),
			Timeout:        envDuration("FLAGBOOTH_WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("FLAGBOOTH_WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("FLAGBOOTH_WEBHOOK_BACKOFF", time.Second),
			MaxBackoff:     envDuration("FLAGBOOTH_WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
		CheckIn: CheckInConfig{
			BaseURL:   env("FLAGBOOTH_CHECKIN_URL", ""),
			Timeout:   envDuration("FLAGBOOTH_CHECKIN_TIMEOUT", 15*time.Second),
			StorePath: env("FLAGBOOTH_CHECKIN_DB", "./.flagbooth-checkin.db"),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
