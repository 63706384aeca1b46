package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/stepdocs/stepdocs/backend/go-services/pkg/logger"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Keycloak  KeycloakConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Document  DocumentConfig
	Cleanup   CleanupConfig
	LogLevel  string
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type PostgresConfig struct {
	DSN         string
	MaxConns    int32
	ConnTimeout time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns host:port, or "" when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

// StorageConfig selects and configures the screenshot gateway.
// Backend is "minio" or "drive".
type StorageConfig struct {
	Backend string

	MinIOEndpoint      string
	MinIOAccessKey     string
	MinIOSecretKey     string
	MinIOUseSSL        bool
	MinIOBucket        string
	MinIOPublicBaseURL string

	DriveFolderID      string
	DriveEndpoint      string
	GoogleClientID     string
	GoogleClientSecret string
}

type KeycloakConfig struct {
	URL          string
	Realm        string
	ClientID     string
	ClientSecret string
}

type JWTConfig struct {
	Secret string
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

type DocumentConfig struct {
	CreateTimeout time.Duration
	UpdateTimeout time.Duration
}

type CleanupConfig struct {
	Concurrency int
	FailuresKey string
	MaxFailures int
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "5010")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("POSTGRES_MAX_CONNS", 10)
	v.SetDefault("POSTGRES_CONNECT_TIMEOUT", 10)
	v.SetDefault("MONGODB_DATABASE", "stepdocs")
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("STORAGE_BACKEND", "minio")
	v.SetDefault("MINIO_BUCKET", "stepdocs-screenshots")
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	v.SetDefault("DOCUMENT_CREATE_TIMEOUT_SECONDS", 50)
	v.SetDefault("DOCUMENT_UPDATE_TIMEOUT_SECONDS", 15)
	v.SetDefault("CLEANUP_CONCURRENCY", 4)
	v.SetDefault("CLEANUP_FAILURES_KEY", "cleanup:failures")
	v.SetDefault("CLEANUP_MAX_FAILURES", 1000)
	v.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			Environment:  v.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Postgres: PostgresConfig{
			DSN:         v.GetString("POSTGRES_DSN"),
			MaxConns:    v.GetInt32("POSTGRES_MAX_CONNS"),
			ConnTimeout: time.Duration(v.GetInt("POSTGRES_CONNECT_TIMEOUT")) * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Storage: StorageConfig{
			Backend:            strings.ToLower(v.GetString("STORAGE_BACKEND")),
			MinIOEndpoint:      v.GetString("MINIO_ENDPOINT"),
			MinIOAccessKey:     v.GetString("MINIO_ACCESS_KEY"),
			MinIOSecretKey:     v.GetString("MINIO_SECRET_KEY"),
			MinIOUseSSL:        v.GetBool("MINIO_USE_SSL"),
			MinIOBucket:        v.GetString("MINIO_BUCKET"),
			MinIOPublicBaseURL: v.GetString("MINIO_PUBLIC_BASE_URL"),
			DriveFolderID:      v.GetString("DRIVE_FOLDER_ID"),
			DriveEndpoint:      v.GetString("DRIVE_ENDPOINT"),
			GoogleClientID:     v.GetString("GOOGLE_CLIENT_ID"),
			GoogleClientSecret: v.GetString("GOOGLE_CLIENT_SECRET"),
		},
		Keycloak: KeycloakConfig{
			URL:          v.GetString("KEYCLOAK_URL"),
			Realm:        v.GetString("KEYCLOAK_REALM"),
			ClientID:     v.GetString("KEYCLOAK_CLIENT_ID"),
			ClientSecret: v.GetString("KEYCLOAK_CLIENT_SECRET"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("JWT_SECRET"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       v.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      v.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         v.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Document: DocumentConfig{
			CreateTimeout: time.Duration(v.GetInt("DOCUMENT_CREATE_TIMEOUT_SECONDS")) * time.Second,
			UpdateTimeout: time.Duration(v.GetInt("DOCUMENT_UPDATE_TIMEOUT_SECONDS")) * time.Second,
		},
		Cleanup: CleanupConfig{
			Concurrency: v.GetInt("CLEANUP_CONCURRENCY"),
			FailuresKey: v.GetString("CLEANUP_FAILURES_KEY"),
			MaxFailures: v.GetInt("CLEANUP_MAX_FAILURES"),
		},
		LogLevel: v.GetString("LOG_LEVEL"),
	}

	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("config: POSTGRES_DSN is required")
	}
	switch cfg.Storage.Backend {
	case "minio", "drive":
	default:
		return nil, fmt.Errorf("config: unknown STORAGE_BACKEND %q", cfg.Storage.Backend)
	}
	if cfg.JWT.Secret == "" && cfg.Keycloak.URL == "" {
		logger.Warnf("neither JWT_SECRET nor KEYCLOAK_URL is set; authenticated routes will reject every request")
	}

	return cfg, nil
}
