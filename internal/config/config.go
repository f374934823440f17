package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	Port      string
	DataDir   string
	StaticDir string

	CORSOrigin string

	LogLevel  string
	LogFormat string
	Telemetry TelemetryConfig

	StoreDriver string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RateLimit RateLimitConfig
}

// TelemetryConfig selects the OTLP exporter for traces and metrics.
type TelemetryConfig struct {
	Enabled       bool
	Endpoint      string
	Protocol      string
	SamplingRatio float64
}

type RateLimitConfig struct {
	Enabled         bool
	Backend         string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	APIPerMinute    int
	UploadPerWindow int
	UploadWindow    time.Duration
}

const (
	StoreDriverFile     = "file"
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
	StoreDriverMySQL    = "mysql"
)

const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewIngestionConfigHolder),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	storeDriver := normalizeStoreDriver(getenv("STORE_DRIVER", StoreDriverFile))
	dbType := storeDriver
	if dbType == StoreDriverFile {
		dbType = ""
	}

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "energyledger"),
		AppVersion:  getenv("SERVICE_VERSION", getenv("APP_VERSION", "0.1.0")),
		Environment: getenv("DEPLOYMENT_ENV", getenv("ENVIRONMENT", "development")),
		Port:        getenv("PORT", "3001"),
		DataDir:     getenv("DATA_DIR", "./data"),
		StaticDir:   strings.TrimSpace(getenv("STATIC_DIR", "")),
		CORSOrigin:  getenv("CORS_ORIGIN", getenv("FRONTEND_ORIGIN", "*")),
		StoreDriver: storeDriver,

		LogLevel:  strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat: strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		Telemetry: TelemetryConfig{
			Enabled:       getenvBool("OTEL_ENABLED", false),
			Endpoint:      getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
			Protocol:      getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},

		DBType:            dbType,
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "energyledger"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "energyledger.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		RateLimit: RateLimitConfig{
			Enabled:         getenvBool("RATE_LIMIT_ENABLED", true),
			Backend:         normalizeRateLimitBackend(getenv("RATE_LIMIT_BACKEND", RateLimitBackendMemory)),
			RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
			RedisPassword:   getenv("REDIS_PASSWORD", ""),
			RedisDB:         getenvInt("REDIS_DB", 0),
			APIPerMinute:    getenvInt("API_RATE_LIMIT_PER_MINUTE", 100),
			UploadPerWindow: getenvInt("UPLOAD_RATE_LIMIT_PER_WINDOW", 5),
			UploadWindow:    getenvDuration("UPLOAD_RATE_LIMIT_WINDOW", 15*time.Minute),
		},
	}

	return cfg
}

// UsesDatabase reports whether records live in a SQL database instead of the JSON file.
func (c Config) UsesDatabase() bool {
	return c.StoreDriver != StoreDriverFile
}

func normalizeStoreDriver(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case StoreDriverSQLite, StoreDriverPostgres, StoreDriverMySQL:
		return value
	default:
		return StoreDriverFile
	}
}

func normalizeRateLimitBackend(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == RateLimitBackendRedis {
		return RateLimitBackendRedis
	}
	return RateLimitBackendMemory
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
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

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
