package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type OracleServiceConfig struct {
	Port        string
	LogDir      string
	PostgresCfg PostgresConfig
	RabbitMQCfg RabbitMQConfig
	RedisCfg    RedisConfig
	MinioCfg    MinioConfig
	JWTCfg      JWTConfig
	AdapterCfg  AdapterConfig
	EvalCfg     EvaluationConfig
	PayoutCfg   PayoutConfig
	IdentityCfg IdentityConfig
	SweepCfg    SweepConfig
}

type PostgresConfig struct {
	DBname   string
	Username string
	Password string
	Host     string
	Port     string
}

type RabbitMQConfig struct {
	Username string
	Password string
	Host     string
	Port     string
	VHost    string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type MinioConfig struct {
	MinioURL       string
	MinioAccessKey string
	MinioSecretKey string
	MinioLocation  string
	MinioSecure    string
}

type JWTConfig struct {
	Secret    string
	AdminRole string
}

// AdapterConfig configures the external data providers. Mode "fixture"
// serves canned readings instead of calling providers.
type AdapterConfig struct {
	Mode              string
	WeatherURLs       []string
	WeatherAPIKey     string
	FlightURL         string
	FlightAPIKey      string
	BaggageURL        string
	BaggageAPIKey     string
	VenueURL          string
	VenueAPIKey       string
	Timeout           time.Duration
	MaxRetries        int
	BaseBackoff       time.Duration
	RequestsPerSecond float64
	Burst             int
	BreakerFailures   int
	BreakerOpenFor    time.Duration
}

type EvaluationConfig struct {
	ConfidenceFloor float64
	LockTTL         time.Duration
	LockWait        time.Duration
}

type PayoutConfig struct {
	TransferURL      string
	TransferAPIKey   string
	TransferTimeout  time.Duration
	MaxAttempts      int
	RetryBaseBackoff time.Duration
	RetrySchedule    string
	LockTTL          time.Duration
}

// IdentityConfig.Mode is "http" (ask the auth service) or "static" (every
// holder counts as verified, for local runs only).
type IdentityConfig struct {
	Mode           string
	AuthServiceURL string
	Timeout        time.Duration
}

type SweepConfig struct {
	Schedule   string
	Window     time.Duration
	NumWorkers int
}

func New() *OracleServiceConfig {
	return &OracleServiceConfig{
		Port:   getEnvOrDefault("PORT", "8085"),
		LogDir: getEnvOrDefault("LOG_DIR", "/agrisa/log/oracle_service"),
		PostgresCfg: PostgresConfig{
			DBname:   getEnvOrDefault("POSTGRES_DB", "oracle_service"),
			Username: getEnvOrDefault("POSTGRES_USER", "postgres"),
			Password: getEnvOrDefault("POSTGRES_PASSWORD", "postgres"),
			Host:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			Port:     getEnvOrDefault("POSTGRES_PORT", "5432"),
		},
		RabbitMQCfg: RabbitMQConfig{
			Username: getEnvOrDefault("RABBITMQ_USER", "admin"),
			Password: getEnvOrDefault("RABBITMQ_PWD", "admin"),
			Host:     getEnvOrDefault("RABBITMQ_HOST", "localhost"),
			Port:     getEnvOrDefault("RABBITMQ_PORT", "5672"),
			VHost:    getEnvOrDefault("RABBITMQ_VHOST", "/"),
		},
		RedisCfg: RedisConfig{
			Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
			Port:     getEnvOrDefault("REDIS_PORT", "6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		MinioCfg: MinioConfig{
			MinioURL:       getEnvOrDefault("MINIO_ENDPOINT", "http://localhost:9407"),
			MinioAccessKey: getEnvOrDefault("MINIO_ACCESS_KEY", "minio"),
			MinioSecretKey: getEnvOrDefault("MINIO_SECRET_KEY", "minio123"),
			MinioLocation:  getEnvOrDefault("MINIO_LOCATION", "us-east-1"),
			MinioSecure:    getEnvOrDefault("MINIO_SECURE", "false"),
		},
		JWTCfg: JWTConfig{
			Secret:    getEnvOrDefault("JWT_SECRET", ""),
			AdminRole: getEnvOrDefault("JWT_ADMIN_ROLE", "admin"),
		},
		AdapterCfg: AdapterConfig{
			Mode:              getEnvOrDefault("ADAPTER_MODE", "http"),
			WeatherURLs:       getListOrDefault("WEATHER_PROVIDER_URLS", []string{"http://localhost:8084/weather"}),
			WeatherAPIKey:     getEnvOrDefault("WEATHER_PROVIDER_KEY", ""),
			FlightURL:         getEnvOrDefault("FLIGHT_PROVIDER_URL", ""),
			FlightAPIKey:      getEnvOrDefault("FLIGHT_PROVIDER_KEY", ""),
			BaggageURL:        getEnvOrDefault("BAGGAGE_PROVIDER_URL", ""),
			BaggageAPIKey:     getEnvOrDefault("BAGGAGE_PROVIDER_KEY", ""),
			VenueURL:          getEnvOrDefault("VENUE_PROVIDER_URL", ""),
			VenueAPIKey:       getEnvOrDefault("VENUE_PROVIDER_KEY", ""),
			Timeout:           getDurationOrDefault("ADAPTER_TIMEOUT", 5*time.Second),
			MaxRetries:        getIntOrDefault("ADAPTER_MAX_RETRIES", 2),
			BaseBackoff:       getDurationOrDefault("ADAPTER_BASE_BACKOFF", 200*time.Millisecond),
			RequestsPerSecond: getFloatOrDefault("ADAPTER_RPS", 10),
			Burst:             getIntOrDefault("ADAPTER_BURST", 5),
			BreakerFailures:   getIntOrDefault("ADAPTER_BREAKER_FAILURES", 5),
			BreakerOpenFor:    getDurationOrDefault("ADAPTER_BREAKER_OPEN_FOR", 30*time.Second),
		},
		EvalCfg: EvaluationConfig{
			ConfidenceFloor: getFloatOrDefault("CONFIDENCE_FLOOR", 0.5),
			LockTTL:         getDurationOrDefault("EVALUATION_LOCK_TTL", 60*time.Second),
			LockWait:        getDurationOrDefault("EVALUATION_LOCK_WAIT", 5*time.Second),
		},
		PayoutCfg: PayoutConfig{
			TransferURL:      getEnvOrDefault("TRANSFER_SERVICE_URL", "http://localhost:8086"),
			TransferAPIKey:   getEnvOrDefault("TRANSFER_SERVICE_KEY", ""),
			TransferTimeout:  getDurationOrDefault("TRANSFER_TIMEOUT", 30*time.Second),
			MaxAttempts:      getIntOrDefault("PAYOUT_MAX_ATTEMPTS", 5),
			RetryBaseBackoff: getDurationOrDefault("PAYOUT_RETRY_BACKOFF", time.Minute),
			RetrySchedule:    getEnvOrDefault("PAYOUT_RETRY_SCHEDULE", "@every 1m"),
			LockTTL:          getDurationOrDefault("PAYOUT_LOCK_TTL", 2*time.Minute),
		},
		IdentityCfg: IdentityConfig{
			Mode:           getEnvOrDefault("IDENTITY_MODE", "http"),
			AuthServiceURL: getEnvOrDefault("AUTH_SERVICE_URL", "http://localhost:8080"),
			Timeout:        getDurationOrDefault("AUTH_SERVICE_TIMEOUT", 10*time.Second),
		},
		SweepCfg: SweepConfig{
			Schedule:   getEnvOrDefault("SWEEP_SCHEDULE", "@every 15m"),
			Window:     getDurationOrDefault("SWEEP_WINDOW", 24*time.Hour),
			NumWorkers: getIntOrDefault("SWEEP_WORKERS", 4),
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

// getListOrDefault splits a comma separated variable, dropping empty items.
func getListOrDefault(key string, defaultValue []string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
