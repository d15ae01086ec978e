// Package config defines the exchange simulator's runtime configuration.
// It is loaded with github.com/spf13/viper, mirroring the env-first,
// file-optional, programmatic-defaults idiom used across the retrieved
// pack's config loaders (e.g. the market-making bot's config.Load) —
// generalized here to an environment-only source, since this simulator
// has no YAML deployment file of its own.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// PipelineConfig sizes the three bounded queues described in spec §5.
// Recommended capacity is >= 1e5 to absorb bursts; the default here
// matches that recommendation.
type PipelineConfig struct {
	SubmittedOrderQueueCapacity int `mapstructure:"submitted_order_queue_capacity"`
	OrderUpdateQueueCapacity    int `mapstructure:"order_update_queue_capacity"`
	MarketDataQueueCapacity     int `mapstructure:"market_data_queue_capacity"`
}

// LoggingConfig controls the zerolog sink used throughout the process.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig controls the optional Prometheus exporter.
type TelemetryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ListenAddress string `mapstructure:"listen_address"`
}

// Config is the top-level configuration for the simulator process.
type Config struct {
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

const envPrefix = "XCHANGE"

func defaults(v *viper.Viper) {
	v.SetDefault("pipeline.submitted_order_queue_capacity", 100_000)
	v.SetDefault("pipeline.order_update_queue_capacity", 100_000)
	v.SetDefault("pipeline.market_data_queue_capacity", 100_000)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen_address", ":9090")
}

// Load builds a Config from XCHANGE_* environment variables layered over
// built-in defaults. There is no required config file: every field has a
// sane default, consistent with a simulator that ships no credentials or
// persisted state (spec §1 non-goals).
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that every queue capacity and the logging format are usable.
func (c *Config) Validate() error {
	if c.Pipeline.SubmittedOrderQueueCapacity <= 0 {
		return fmt.Errorf("pipeline.submitted_order_queue_capacity must be > 0")
	}
	if c.Pipeline.OrderUpdateQueueCapacity <= 0 {
		return fmt.Errorf("pipeline.order_update_queue_capacity must be > 0")
	}
	if c.Pipeline.MarketDataQueueCapacity <= 0 {
		return fmt.Errorf("pipeline.market_data_queue_capacity must be > 0")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
