package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	GeminiAPIKey  string
	GeminiBaseURL string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	StoragePath     string

	QueueName         string
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	ReadBatchSize     int
	WorkerCount       int
	WorkerWakeAddr    string
	WorkerWakeURL     string

	StaleTimeout time.Duration
	MaxAttempts  int
	MaxQueueAge  time.Duration

	MaxSourceImageBytes int64

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
//
// The staleness timeout and attempt budget are tunables rather than constants:
// they must track the generation API's real latency distribution, and the
// stale timeout must exceed the queue visibility timeout or a job still held
// by a live worker could be reclaimed as abandoned.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),

		S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		S3Region:        getEnv("S3_REGION", "us-east-1"),
		S3AccessKey:     os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:     os.Getenv("S3_SECRET_KEY"),
		S3Bucket:        getEnv("S3_BUCKET", "restyle-images"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:  getEnvBool("S3_USE_PATH_STYLE", false),
		StoragePath:     getEnv("STORAGE_PATH", "./storage"),

		QueueName:         getEnv("QUEUE_NAME", "generation_jobs"),
		VisibilityTimeout: time.Second * time.Duration(getEnvInt("QUEUE_VISIBILITY_TIMEOUT_SECONDS", 300)),
		PollInterval:      time.Second * time.Duration(getEnvInt("QUEUE_POLL_INTERVAL_SECONDS", 5)),
		ReadBatchSize:     getEnvInt("QUEUE_READ_BATCH_SIZE", 5),
		WorkerCount:       getEnvInt("WORKER_COUNT", 2),
		WorkerWakeAddr:    getEnv("WORKER_WAKE_ADDR", ":8090"),
		WorkerWakeURL:     os.Getenv("WORKER_WAKE_URL"),

		StaleTimeout: time.Second * time.Duration(getEnvInt("JOB_STALE_TIMEOUT_SECONDS", 600)),
		MaxAttempts:  getEnvInt("JOB_MAX_ATTEMPTS", 3),
		MaxQueueAge:  time.Second * time.Duration(getEnvInt("QUEUE_MAX_AGE_ALARM_SECONDS", 900)),

		MaxSourceImageBytes: int64(getEnvInt("MAX_SOURCE_IMAGE_BYTES", 8*1024*1024)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("JOB_MAX_ATTEMPTS must be at least 1")
	}

	if cfg.StaleTimeout < cfg.VisibilityTimeout {
		return nil, fmt.Errorf("JOB_STALE_TIMEOUT_SECONDS must not be shorter than QUEUE_VISIBILITY_TIMEOUT_SECONDS")
	}

	return cfg, nil
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
