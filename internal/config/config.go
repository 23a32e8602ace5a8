// Package config loads worker configuration from a YAML file with
// environment-variable overrides (RESEARCHER_ prefix, dots become
// underscores: RESEARCHER_TEMPORAL_HOST_PORT overrides temporal.host_port).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/graphweave/researcher/internal/tracing"
)

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	MetricsPort     int           `mapstructure:"metrics_port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// TemporalConfig points the worker at its Temporal cluster.
type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// DatabaseConfig configures the progress store. Driver is "postgres" in
// production; "sqlite3" works for local runs.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig configures the usage ledger.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	Provider  string `mapstructure:"provider"` // anthropic | openai
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// SearchConfig configures the web-search API client.
type SearchConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// GraphConfig configures the knowledge-graph API client.
type GraphConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// SandboxConfig configures the Python execution service.
type SandboxConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// ResearchConfig holds worker-level run settings: MaxIterations applies when
// the workflow input leaves the budget unset, and the two flags gate what a
// task may request.
type ResearchConfig struct {
	MaxIterations  int  `mapstructure:"max_iterations"`
	HumanInLoop    bool `mapstructure:"human_in_loop"`
	InternetAccess bool `mapstructure:"internet_access"`
}

// LoggingConfig shapes the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Format string `mapstructure:"format"` // json | console
}

// Config is the full worker configuration.
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Temporal TemporalConfig `mapstructure:"temporal"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Search   SearchConfig   `mapstructure:"search"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Research ResearchConfig `mapstructure:"research"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  tracing.Config `mapstructure:"tracing"`
}

// Load reads configuration from path, or from CONFIG_PATH /
// ./config/researcher.yaml when path is empty. A missing file is fine when no
// explicit path was given; env overrides and defaults still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RESEARCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("CONFIG_PATH")
		explicit = path != ""
	}
	if path == "" {
		path = "./config/researcher.yaml"
	}
	v.SetConfigFile(path)

	// The default path is optional; an explicitly named file is not.
	if _, statErr := os.Stat(path); statErr == nil || explicit {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the worker cannot start with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("llm.provider must be anthropic or openai, got %q", c.LLM.Provider)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite3, got %q", c.Database.Driver)
	}
	if c.Research.MaxIterations < 0 {
		return fmt.Errorf("research.max_iterations must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.metrics_port", 2112)
	v.SetDefault("service.graceful_timeout", "30s")

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "graphweave-research")

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "file:researcher.db?_busy_timeout=5000")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.max_tokens", 4096)

	v.SetDefault("graph.base_url", "http://localhost:8090")
	v.SetDefault("sandbox.base_url", "http://localhost:8194")

	v.SetDefault("research.max_iterations", 60)
	v.SetDefault("research.human_in_loop", false)
	v.SetDefault("research.internet_access", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "graphweave-researcher")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
}
