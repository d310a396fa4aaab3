package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/webpmill/webpmill/internal/domain"
	"github.com/webpmill/webpmill/internal/transcode"
)

type Config struct {
	API      APIConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Derive   DeriveConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Webhook  WebhookConfig
	Trace    TraceConfig
}

type APIConfig struct {
	Addr string

	// RateLimitPerMinute caps POSTs per subject; 0 disables limiting.
	RateLimitPerMinute int
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
	Concurrency      int
	MaxActiveInvokes int
	MetricsAddr      string
}

// DeriveConfig controls derivative production: the width ladder, the
// maximum-width policy and the lossy encode quality.
type DeriveConfig struct {
	TargetWidths []int
	MaxWidth     int
	Quality      int
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool

	// EnsureBucket is created on worker startup when non-empty; dev
	// convenience only, production buckets exist ahead of time.
	EnsureBucket string
}

type DatabaseConfig struct {
	DSN string
}

type WebhookConfig struct {
	URL           string
	SigningSecret string
}

type TraceConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

func Load() Config {
	return Config{
		API: APIConfig{
			Addr:               env("WEBPMILL_API_ADDR", ":8080"),
			RateLimitPerMinute: envInt("WEBPMILL_API_RATE_LIMIT_PER_MINUTE", 0),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:      envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveInvokes: envInt("WORKER_MAX_ACTIVE_INVOKES", max(1, runtime.NumCPU()/2)),
			MetricsAddr:      env("WORKER_METRICS_ADDR", ":9091"),
		},
		Derive: DeriveConfig{
			TargetWidths: envWidths("DERIVE_TARGET_WIDTHS", domain.DefaultTargetWidths),
			MaxWidth:     envInt("DERIVE_MAX_WIDTH", domain.DefaultMaxWidth),
			Quality:      envInt("DERIVE_WEBP_QUALITY", transcode.DefaultQuality),
		},
		Storage: StorageConfig{
			Endpoint:     env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:    env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:    env("MINIO_SECRET_KEY", "minioadmin"),
			UseSSL:       envBool("MINIO_USE_SSL", false),
			EnsureBucket: env("MINIO_ENSURE_BUCKET", ""),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Webhook: WebhookConfig{
			URL:           env("WEBHOOK_URL", ""),
			SigningSecret: env("WEBHOOK_SIGNING_SECRET", ""),
		},
		Trace: TraceConfig{
			Exporter:     env("TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("TRACE_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("TRACE_OTLP_INSECURE", false),
			SampleRatio:  envFloat("TRACE_SAMPLE_RATIO", 0),
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

// envWidths parses a comma-separated width ladder. A malformed entry
// invalidates the whole value and keeps the fallback; a half-applied
// ladder would silently change the produced key set.
func envWidths(key string, fallback []int) []int {
	value := env(key, "")
	if value == "" {
		return fallback
	}

	parts := strings.Split(value, ",")
	widths := make([]int, 0, len(parts))
	for _, part := range parts {
		parsed, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || parsed <= 0 {
			return fallback
		}
		widths = append(widths, parsed)
	}
	if len(widths) == 0 {
		return fallback
	}
	return widths
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
