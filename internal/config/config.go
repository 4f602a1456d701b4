// Package config loads and validates shadowprobe configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalidConfig marks configuration rejected by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Probe   ProbeConfig   `mapstructure:"probe"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Output  OutputConfig  `mapstructure:"output"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ProbeConfig governs scheduling and the per-site request.
type ProbeConfig struct {
	Concurrency        int      `mapstructure:"concurrency"`
	TimeoutSeconds     float64  `mapstructure:"timeout_seconds"`
	RespectRobots      bool     `mapstructure:"respect_robots"`
	UserAgent          string   `mapstructure:"user_agent"`
	MaxBodyBytes       int      `mapstructure:"max_body_bytes"`
	NegativeMarkers    []string `mapstructure:"negative_markers"`
	InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify"`
	ProxyURL           string   `mapstructure:"proxy_url"`
	RateLimitPerHost   float64  `mapstructure:"rate_limit_per_host"`
	RateLimitBurst     int      `mapstructure:"rate_limit_burst"`
}

// CatalogConfig points at an optional catalog file. Empty uses the built-in list.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// OutputConfig controls where report artifacts are written.
type OutputConfig struct {
	Path      string `mapstructure:"path"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls optional result persistence.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds the optional completion topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port              int `mapstructure:"port"`
	MaxConcurrentRuns int `mapstructure:"max_concurrent_runs"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"concurrency":    "probe.concurrency",
	"timeout":        "probe.timeout_seconds",
	"respect-robots": "probe.respect_robots",
	"user-agent":     "probe.user_agent",
	"proxy":          "probe.proxy_url",
	"catalog":        "catalog.path",
	"output":         "output.path",
	"port":           "server.port",
	"dev":            "logging.development",
}

// Load builds a Config from defaults, an optional file, SHADOWPROBE_*
// environment variables and any flags in flags that were set.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHADOWPROBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("probe.concurrency", 20)
	v.SetDefault("probe.timeout_seconds", 10)
	v.SetDefault("probe.respect_robots", false)
	v.SetDefault("probe.user_agent", "full-social-osint/1.0")
	v.SetDefault("probe.max_body_bytes", 2<<20)
	v.SetDefault("probe.negative_markers", []string{"not found", "404", "sorry", "page does not exist"})
	v.SetDefault("probe.insecure_skip_verify", false)
	v.SetDefault("probe.proxy_url", "")
	v.SetDefault("probe.rate_limit_per_host", 0)
	v.SetDefault("probe.rate_limit_burst", 1)
	v.SetDefault("catalog.path", "")
	v.SetDefault("output.path", "results.json")
	v.SetDefault("output.gcs_bucket", "")
	v.SetDefault("output.prefix", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "probe_results")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_concurrent_runs", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch {
	case c.Probe.Concurrency <= 0:
		return fmt.Errorf("%w: probe.concurrency must be > 0", ErrInvalidConfig)
	case c.Probe.TimeoutSeconds <= 0:
		return fmt.Errorf("%w: probe.timeout_seconds must be > 0", ErrInvalidConfig)
	case c.Probe.MaxBodyBytes <= 0:
		return fmt.Errorf("%w: probe.max_body_bytes must be > 0", ErrInvalidConfig)
	case c.Probe.RateLimitPerHost < 0:
		return fmt.Errorf("%w: probe.rate_limit_per_host must be >= 0", ErrInvalidConfig)
	case c.Server.Port <= 0:
		return fmt.Errorf("%w: server.port must be > 0", ErrInvalidConfig)
	case c.Server.MaxConcurrentRuns <= 0:
		return fmt.Errorf("%w: server.max_concurrent_runs must be > 0", ErrInvalidConfig)
	case (c.PubSub.TopicName == "") != (c.PubSub.ProjectID == ""):
		return fmt.Errorf("%w: pubsub.project_id and pubsub.topic_name must be set together", ErrInvalidConfig)
	}
	return nil
}

// Timeout returns the per-request timeout.
func (c ProbeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}
