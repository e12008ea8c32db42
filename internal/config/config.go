package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Agent      AgentConfig      `yaml:"agent" mapstructure:"agent"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key              string  `yaml:"key" mapstructure:"key"`
	ReasoningModel   string  `yaml:"reasoning_model" mapstructure:"reasoning_model"`
	StructuringModel string  `yaml:"structuring_model" mapstructure:"structuring_model"`
	SynthesisModel   string  `yaml:"synthesis_model" mapstructure:"synthesis_model"`
	MaxTokens        int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RateLimitRPS     float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// AgentConfig tunes the domain and synthesis workers.
type AgentConfig struct {
	CallTimeoutSecs int    `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	MaxToolTurns    int    `yaml:"max_tool_turns" mapstructure:"max_tool_turns"`
	SearchTopK      int    `yaml:"search_top_k" mapstructure:"search_top_k"`
	PromptsPath     string `yaml:"prompts_path" mapstructure:"prompts_path"`
}

// CallTimeout returns the per-call deadline.
func (a AgentConfig) CallTimeout() time.Duration {
	return time.Duration(a.CallTimeoutSecs) * time.Second
}

// PipelineConfig configures job execution.
type PipelineConfig struct {
	JobTimeoutMins int `yaml:"job_timeout_mins" mapstructure:"job_timeout_mins"`
	Concurrency    int `yaml:"concurrency" mapstructure:"concurrency"`
	QueueSize      int `yaml:"queue_size" mapstructure:"queue_size"`
}

// JobTimeout returns the deadline for one analysis job.
func (p PipelineConfig) JobTimeout() time.Duration {
	return time.Duration(p.JobTimeoutMins) * time.Minute
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	Enabled               bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	FallbackRateThreshold float64 `yaml:"fallback_rate_threshold" mapstructure:"fallback_rate_threshold"`
	StuckJobMins          int     `yaml:"stuck_job_mins" mapstructure:"stuck_job_mins"`
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DILIGENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "diligence.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("anthropic.reasoning_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.structuring_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.synthesis_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.rate_limit_rps", 5)
	v.SetDefault("anthropic.max_attempts", 1)
	v.SetDefault("agent.call_timeout_secs", 120)
	v.SetDefault("agent.max_tool_turns", 4)
	v.SetDefault("agent.search_top_k", 5)
	v.SetDefault("pipeline.job_timeout_mins", 30)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.queue_size", 64)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.fallback_rate_threshold", 0.3)
	v.SetDefault("monitoring.stuck_job_mins", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the keys a command needs are present and in range.
// Modes: "run" (analysis without a server), "serve", "store".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "store":
	case "run", "serve":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Agent.CallTimeoutSecs <= 0 {
			errs = append(errs, "agent.call_timeout_secs must be > 0")
		}
		if c.Agent.SearchTopK < 0 {
			errs = append(errs, "agent.search_top_k must be >= 0")
		}
		if c.Pipeline.JobTimeoutMins <= 0 {
			errs = append(errs, "pipeline.job_timeout_mins must be > 0")
		}
		if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 64 {
			errs = append(errs, "pipeline.concurrency must be between 1 and 64")
		}
		if c.Pipeline.QueueSize < 1 {
			errs = append(errs, "pipeline.queue_size must be > 0")
		}
		if mode == "serve" {
			errs = append(errs, c.validateServe()...)
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateServe() []string {
	var errs []string
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be > 0 and <= 65535")
	}
	if c.Monitoring.Enabled {
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
		if c.Monitoring.FallbackRateThreshold < 0 || c.Monitoring.FallbackRateThreshold > 1 {
			errs = append(errs, "monitoring.fallback_rate_threshold must be between 0 and 1")
		}
		if c.Monitoring.LookbackWindowHours <= 0 {
			errs = append(errs, "monitoring.lookback_window_hours must be > 0")
		}
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
