package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides application configuration.
var Module = fx.Module("config", fx.Provide(Load))

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StorageProvider string
	StorageBucket   string
	GCSCredentials  string

	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIVisionModel string

	LHDNEnvironment string
	LHDNBaseURL     string // overrides the environment-derived base URL when set
	EncryptionKey   string

	MaxUploadSizeMB   int
	WorkerConcurrency int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "einvois"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "einvois"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		StorageProvider: strings.ToLower(getenv("STORAGE_PROVIDER", "gcs")),
		StorageBucket:   getenv("STORAGE_BUCKET", ""),
		GCSCredentials:  getenv("GCS_CREDENTIALS_JSON", ""),

		OpenAIAPIKey:      getenv("OPENAI_API_KEY", ""),
		OpenAIModel:       getenv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIVisionModel: getenv("OPENAI_VISION_MODEL", "gpt-4o"),

		LHDNEnvironment: strings.ToLower(getenv("LHDN_ENV", "sandbox")),
		LHDNBaseURL:     strings.TrimSpace(getenv("LHDN_BASE_URL", "")),
		EncryptionKey:   strings.TrimSpace(getenv("ENCRYPTION_KEY", "")),

		MaxUploadSizeMB:   getenvInt("MAX_UPLOAD_SIZE_MB", 10),
		WorkerConcurrency: getenvInt("WORKER_CONCURRENCY", 10),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
