package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the api service.
type Config struct {
	LogLevel       string
	HTTPPort       string
	MetricsAddr    string
	KafkaBrokers   string
	RedisAddr      string
	PostgresDSN    string
	OneCBaseURL    string
	OTelEndpoint   string
	Timezone       string
	ScanRateLimit  int
	ScanRateWindow time.Duration
	CompletionHook string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:       v.GetString("log_level"),
		HTTPPort:       v.GetString("http_port"),
		MetricsAddr:    v.GetString("metrics_addr"),
		KafkaBrokers:   v.GetString("kafka_brokers"),
		RedisAddr:      v.GetString("redis_addr"),
		PostgresDSN:    v.GetString("postgres_dsn"),
		OneCBaseURL:    v.GetString("onec_base_url"),
		OTelEndpoint:   v.GetString("otel_endpoint"),
		Timezone:       v.GetString("timezone"),
		ScanRateLimit:  v.GetInt("scan_rate_limit"),
		ScanRateWindow: v.GetDuration("scan_rate_window"),
		CompletionHook: v.GetString("completion_hook_url"),
	}
}
