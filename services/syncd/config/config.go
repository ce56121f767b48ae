package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the syncd service.
type Config struct {
	LogLevel     string
	MetricsAddr  string
	KafkaBrokers string
	RedisAddr    string
	PostgresDSN  string
	OneCBaseURL  string
	OTelEndpoint string
	SyncSchedule string
	PullTimeout  time.Duration
	LockTTL      time.Duration
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:     v.GetString("log_level"),
		MetricsAddr:  v.GetString("metrics_addr"),
		KafkaBrokers: v.GetString("kafka_brokers"),
		RedisAddr:    v.GetString("redis_addr"),
		PostgresDSN:  v.GetString("postgres_dsn"),
		OneCBaseURL:  v.GetString("onec_base_url"),
		OTelEndpoint: v.GetString("otel_endpoint"),
		SyncSchedule: v.GetString("sync_schedule"),
		PullTimeout:  v.GetDuration("pull_timeout"),
		LockTTL:      v.GetDuration("lock_ttl"),
	}
}
