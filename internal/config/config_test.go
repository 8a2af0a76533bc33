package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "0.0.0.0:8082", cfg.Server.Address())
	assert.Equal(t, []string{"localhost:19092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, 256, cfg.Engine.QueueSize)
	assert.Zero(t, cfg.Signals.MaxAge)
	assert.Equal(t, 7*24*time.Hour, cfg.Signals.Retention)
	assert.Equal(t, 15*time.Second, cfg.Analytics.CacheTTL)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " broker-1:9092, ,broker-2:9092 ")
	t.Setenv("ENGINE_WORKERS", "12")
	t.Setenv("SIGNAL_MAX_AGE", "90s")
	t.Setenv("SIGNAL_RATE_LIMIT", "2.5")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()

	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 12, cfg.Engine.Workers)
	assert.Equal(t, 90*time.Second, cfg.Signals.MaxAge)
	assert.Equal(t, 2.5, cfg.Signals.RateLimit)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidNumbersFallBackToDefaults(t *testing.T) {
	t.Setenv("ENGINE_QUEUE_SIZE", "lots")
	t.Setenv("METRICS_CACHE_TTL", "soon")

	cfg := Load()

	assert.Equal(t, 256, cfg.Engine.QueueSize)
	assert.Equal(t, 15*time.Second, cfg.Analytics.CacheTTL)
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "copy", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/copy?sslmode=disable", d.ConnectionString())
}
