package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime settings for the background process.
type Config struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	QueueStore      string        `envconfig:"QUEUE_STORE" default:"file"`
	QueueFile       string        `envconfig:"QUEUE_FILE" default:"/tmp/shop-assistant/queue.json"`
	RedisURL        string        `envconfig:"REDIS_URL"`
	RedisKey        string        `envconfig:"REDIS_KEY" default:"assistant:queue"`
	KafkaBrokers    string        `envconfig:"KAFKA_BROKERS"`
	KafkaTopic      string        `envconfig:"KAFKA_TOPIC" default:"assistant.outcomes"`
	PostgresDSN     string        `envconfig:"POSTGRES_DSN"`
	SkipMigrate     bool          `envconfig:"SKIP_MIGRATE"`
	HistorySize     int           `envconfig:"HISTORY_SIZE" default:"1000"`
	SettingsPath    string        `envconfig:"SETTINGS_PATH" default:"/tmp/shop-assistant/settings.json"`
	AgentToken      string        `envconfig:"AGENT_TOKEN"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
	CORSMethods     []string      `envconfig:"CORS_METHODS"`
	CORSHeaders     []string      `envconfig:"CORS_HEADERS"`
	CORSCredentials bool          `envconfig:"CORS_CREDENTIALS"`
	CORSMaxAge      int           `envconfig:"CORS_MAX_AGE" default:"600"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"text"`
}

// FromEnv loads configuration with sensible defaults. Values that do not
// parse are an error; non-positive sizes and timeouts fall back to defaults.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("background config: %w", err)
	}
	cfg.QueueStore = strings.ToLower(strings.TrimSpace(cfg.QueueStore))
	if cfg.QueueStore == "" {
		cfg.QueueStore = "file"
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1000
	}
	if cfg.CORSMaxAge < 0 {
		cfg.CORSMaxAge = 600
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	cfg.CORSOrigins = CleanList(cfg.CORSOrigins, false)
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	cfg.CORSMethods = CleanList(cfg.CORSMethods, false)
	cfg.CORSHeaders = CleanList(cfg.CORSHeaders, false)
	return cfg, nil
}

// CleanList trims entries of a comma-separated env list and drops empty
// ones, optionally lower-casing them.
func CleanList(items []string, lower bool) []string {
	var out []string
	for _, v := range items {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
