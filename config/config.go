// Package config loads chartd configuration from defaults, an optional YAML
// file and CHARTD_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Symbol   string `mapstructure:"symbol"`
	Timezone string `mapstructure:"timezone"`
	LogLevel string `mapstructure:"log_level"`

	Chart   ChartConfig   `mapstructure:"chart"`
	SQLite  SQLiteConfig  `mapstructure:"sqlite"`
	Parquet ParquetConfig `mapstructure:"parquet"`
	Redis   RedisConfig   `mapstructure:"redis"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Replay  ReplayConfig  `mapstructure:"replay"`
}

// ChartConfig seeds the engine viewport.
type ChartConfig struct {
	Width               float64  `mapstructure:"width"`
	BarSpace            float64  `mapstructure:"bar_space"`
	OffsetRightDistance float64  `mapstructure:"offset_right_distance"`
	MinLabelWidth       float64  `mapstructure:"min_label_width"`
	PageSize            int      `mapstructure:"page_size"`
	Indicators          []string `mapstructure:"indicators"`
	LiveBufferSize      int      `mapstructure:"live_buffer_size"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type ParquetConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	// Channel is the pub/sub channel prefix; the symbol is appended.
	Channel string `mapstructure:"channel"`
}

type HTTPConfig struct {
	Addr        string `mapstructure:"addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type ReplayConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	From     int64         `mapstructure:"from"`
}

// Load reads configuration. path may be empty.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("symbol", "NIFTY")
	v.SetDefault("timezone", "UTC")
	v.SetDefault("log_level", "info")

	v.SetDefault("chart.width", 800.0)
	v.SetDefault("chart.bar_space", 8.0)
	v.SetDefault("chart.offset_right_distance", 80.0)
	v.SetDefault("chart.min_label_width", 60.0)
	v.SetDefault("chart.page_size", 500)
	v.SetDefault("chart.indicators", []string{"MA", "VOL"})
	v.SetDefault("chart.live_buffer_size", 1024)

	v.SetDefault("sqlite.path", "data/bars.db")
	v.SetDefault("parquet.path", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.channel", "pub:bar:")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.metrics_addr", ":9090")

	v.SetDefault("replay.interval", "250ms")
	v.SetDefault("replay.from", 0)

	v.SetEnvPrefix("CHARTD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields the engine cannot default at runtime.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.Chart.Width <= 0 {
		return fmt.Errorf("chart.width must be > 0")
	}
	if c.Chart.BarSpace < 1 || c.Chart.BarSpace > 50 {
		return fmt.Errorf("chart.bar_space must be within [1, 50]")
	}
	if c.Chart.PageSize <= 0 {
		return fmt.Errorf("chart.page_size must be > 0")
	}
	if c.Chart.LiveBufferSize <= 0 {
		return fmt.Errorf("chart.live_buffer_size must be > 0")
	}
	if c.SQLite.Path == "" && c.Parquet.Path == "" {
		return fmt.Errorf("one of sqlite.path or parquet.path is required")
	}
	return nil
}

// RedisChannel is the live bar channel for the configured symbol.
func (c *Config) RedisChannel() string {
	return c.Redis.Channel + c.Symbol
}
