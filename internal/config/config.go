package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Log       LogConfig
	Engine    EngineConfig
	Signals   SignalConfig
	Analytics AnalyticsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host          string
	Port          string
	User          string
	Password      string
	DBName        string
	SSLMode       string
	MaxOpenConns  int
	MigrationsDir string
}

// KafkaConfig holds Kafka/Redpanda configuration. An empty broker list
// disables both the signal consumer and the trade producer.
type KafkaConfig struct {
	Brokers       []string
	SignalsTopic  string
	TradesTopic   string
	ConsumerGroup string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level             string
	Encoding          string
	Development       bool
	DisableCaller     bool
	DisableStacktrace bool
	Sampling          bool
}

// EngineConfig sizes the dispatch queue and fan-out
type EngineConfig struct {
	Workers           int
	QueueSize         int
	FanOutParallelism int
}

// SignalConfig controls signal intake and retention
type SignalConfig struct {
	MaxAge          time.Duration // zero disables the staleness check
	Retention       time.Duration
	CleanupSchedule string
	RateLimit       float64 // signals per second per bot, zero disables
	RateBurst       int
}

// AnalyticsConfig controls the metrics cache
type AnalyticsConfig struct {
	CacheTTL time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8082"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:          getEnv("DB_HOST", "postgres"),
			Port:          getEnv("DB_PORT", "5432"),
			User:          getEnv("DB_USER", "trader"),
			Password:      getEnv("DB_PASSWORD", "trader5"),
			DBName:        getEnv("DB_NAME", "trading_platform"),
			SSLMode:       getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:  getEnvInt("DB_MAX_OPEN_CONNS", 20),
			MigrationsDir: getEnv("DB_MIGRATIONS_DIR", "file://./db/migrations"),
		},
		Kafka: KafkaConfig{
			Brokers:       parseBrokers(getEnv("KAFKA_BROKERS", "localhost:19092")),
			SignalsTopic:  getEnv("KAFKA_SIGNALS_TOPIC", "trading.bot-signals"),
			TradesTopic:   getEnv("KAFKA_TRADES_TOPIC", "trading.copy-trades"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "bot-copy-service"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Log: LogConfig{
			Level:             getEnv("LOG_LEVEL", "info"),
			Encoding:          getEnv("LOG_ENCODING", "json"),
			Development:       getEnvBool("LOG_DEVELOPMENT", false),
			DisableCaller:     getEnvBool("LOG_DISABLE_CALLER", false),
			DisableStacktrace: getEnvBool("LOG_DISABLE_STACKTRACE", true),
			Sampling:          getEnvBool("LOG_SAMPLING", false),
		},
		Engine: EngineConfig{
			Workers:           getEnvInt("ENGINE_WORKERS", 4),
			QueueSize:         getEnvInt("ENGINE_QUEUE_SIZE", 256),
			FanOutParallelism: getEnvInt("ENGINE_FANOUT_PARALLELISM", 8),
		},
		Signals: SignalConfig{
			MaxAge:          getEnvDuration("SIGNAL_MAX_AGE", 0),
			Retention:       getEnvDuration("SIGNAL_RETENTION", 7*24*time.Hour),
			CleanupSchedule: getEnv("SIGNAL_CLEANUP_SCHEDULE", "@every 5m"),
			RateLimit:       getEnvFloat("SIGNAL_RATE_LIMIT", 0),
			RateBurst:       getEnvInt("SIGNAL_RATE_BURST", 10),
		},
		Analytics: AnalyticsConfig{
			CacheTTL: getEnvDuration("METRICS_CACHE_TTL", 15*time.Second),
		},
	}
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

// Address returns the HTTP listen address
func (s *ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

// Address returns the Redis address in host:port format
func (r *RedisConfig) Address() string {
	return r.Host + ":" + r.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

// parseBrokers splits a comma-separated broker list
func parseBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
