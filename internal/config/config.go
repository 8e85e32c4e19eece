package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"shareq/internal/log"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	// Storage
	StorageBackend string // file | redis | postgres | memory
	DataDir        string
	RedisAddr      string
	RedisPassword  string
	DatabaseURL    string
	StorageKey     string

	// Journal API
	APIBaseURL      string
	APIToken        string
	DeliveryTimeout time.Duration

	// Retry policy
	MaxRetries   int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	ExpiryWindow time.Duration

	// Triggers
	FlushInterval time.Duration
	ProbeInterval time.Duration
	PruneSchedule string

	// Service
	ListenAddr     string
	JWTSecret      string
	InstallationID string
}

func Load() (*Config, error) {
	logger := log.NewLogger()
	// .env is optional if variables are set elsewhere
	if err := godotenv.Load(); err != nil {
		logger.Warn("Failed to load .env file", zap.Error(err))
	}

	cfg := &Config{
		StorageBackend:  getEnv("SHAREQ_STORAGE_BACKEND", "file"),
		DataDir:         getEnv("SHAREQ_DATA_DIR", "data"),
		RedisAddr:       os.Getenv("SHAREQ_REDIS_ADDR"),
		RedisPassword:   os.Getenv("SHAREQ_REDIS_PASSWORD"),
		DatabaseURL:     os.Getenv("SHAREQ_DATABASE_URL"),
		StorageKey:      getEnv("SHAREQ_STORAGE_KEY", "shareq:pending:v1"),
		APIBaseURL:      os.Getenv("SHAREQ_API_BASE_URL"),
		APIToken:        os.Getenv("SHAREQ_API_TOKEN"),
		DeliveryTimeout: getDuration(logger, "SHAREQ_DELIVERY_TIMEOUT", 15*time.Second),
		MaxRetries:      getInt(logger, "SHAREQ_MAX_RETRIES", 5),
		BaseBackoff:     getDuration(logger, "SHAREQ_BASE_BACKOFF", 30*time.Second),
		MaxBackoff:      getDuration(logger, "SHAREQ_MAX_BACKOFF", 30*time.Minute),
		ExpiryWindow:    getDuration(logger, "SHAREQ_EXPIRY_WINDOW", 7*24*time.Hour),
		FlushInterval:   getDuration(logger, "SHAREQ_FLUSH_INTERVAL", time.Minute),
		ProbeInterval:   getDuration(logger, "SHAREQ_PROBE_INTERVAL", 15*time.Second),
		PruneSchedule:   getEnv("SHAREQ_PRUNE_SCHEDULE", "@hourly"),
		ListenAddr:      getEnv("SHAREQ_LISTEN_ADDR", ":8080"),
		JWTSecret:       os.Getenv("SHAREQ_JWT_SECRET"),
		InstallationID:  os.Getenv("SHAREQ_INSTALLATION_ID"),
	}

	if cfg.APIBaseURL == "" {
		logger.Error("SHAREQ_API_BASE_URL is required")
		return nil, fmt.Errorf("SHAREQ_API_BASE_URL is required")
	}
	switch cfg.StorageBackend {
	case "file":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("SHAREQ_DATA_DIR is required for the file backend")
		}
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("SHAREQ_REDIS_ADDR is required for the redis backend")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("SHAREQ_DATABASE_URL is required for the postgres backend")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.StorageBackend)
	}
	if cfg.MaxRetries <= 0 {
		return nil, fmt.Errorf("SHAREQ_MAX_RETRIES must be positive")
	}
	if cfg.BaseBackoff <= 0 {
		return nil, fmt.Errorf("SHAREQ_BASE_BACKOFF must be positive")
	}
	if cfg.BaseBackoff > cfg.MaxBackoff {
		return nil, fmt.Errorf("SHAREQ_BASE_BACKOFF must not exceed SHAREQ_MAX_BACKOFF")
	}
	if cfg.ExpiryWindow <= 0 {
		return nil, fmt.Errorf("SHAREQ_EXPIRY_WINDOW must be positive")
	}
	if cfg.InstallationID == "" {
		cfg.InstallationID = uuid.NewString()
		logger.Info("Generated installation ID", zap.String("installation_id", cfg.InstallationID))
	}

	logger.Info("Config loaded successfully")
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(logger *log.Logger, key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn("Invalid integer in env, using default", zap.String("key", key), zap.Error(err))
		return fallback
	}
	return n
}

func getDuration(logger *log.Logger, key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn("Invalid duration in env, using default", zap.String("key", key), zap.Error(err))
		return fallback
	}
	return d
}
