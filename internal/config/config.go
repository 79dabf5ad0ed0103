package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/foodgeo/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Source    SourceConfig    `yaml:"source" mapstructure:"source"`
	Geocode   GeocodeConfig   `yaml:"geocode" mapstructure:"geocode"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Publish   PublishConfig   `yaml:"publish" mapstructure:"publish"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the index and run-log database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SourceConfig configures the OpenFoodFacts catalog client.
type SourceConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	PageSize    int     `yaml:"page_size" mapstructure:"page_size"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// Timeout returns the per-request HTTP timeout.
func (c SourceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// GeocodeConfig configures the geocoder and the enricher around it.
type GeocodeConfig struct {
	AdresseURL      string         `yaml:"adresse_url" mapstructure:"adresse_url"`
	MinScore        float64        `yaml:"min_score" mapstructure:"min_score"`
	GoogleKey       string         `yaml:"google_key" mapstructure:"google_key"`
	Concurrency     int            `yaml:"concurrency" mapstructure:"concurrency"`
	MinIntervalMs   int            `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	CallTimeoutSecs int            `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	H3Resolution    int            `yaml:"h3_resolution" mapstructure:"h3_resolution"`
	Retry           RetrySettings  `yaml:"retry" mapstructure:"retry"`
	Circuit         CircuitSetting `yaml:"circuit" mapstructure:"circuit"`
}

// RetrySettings is the YAML form of resilience.RetryConfig.
type RetrySettings struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitSetting is the YAML form of resilience.CircuitBreakerConfig.
type CircuitSetting struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// MinInterval returns the minimum spacing between geocoding calls.
func (c GeocodeConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMs) * time.Millisecond
}

// CallTimeout returns the per-call geocoding timeout.
func (c GeocodeConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSecs) * time.Second
}

// RetryConfig converts the retry settings, filling zero fields from
// resilience.DefaultRetryConfig.
func (c GeocodeConfig) RetryConfig() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	if c.Retry.MaxAttempts > 0 {
		cfg.MaxAttempts = c.Retry.MaxAttempts
	}
	if c.Retry.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(c.Retry.InitialBackoffMs) * time.Millisecond
	}
	if c.Retry.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(c.Retry.MaxBackoffMs) * time.Millisecond
	}
	if c.Retry.Multiplier > 0 {
		cfg.Multiplier = c.Retry.Multiplier
	}
	if c.Retry.JitterFraction >= 0 {
		cfg.JitterFraction = c.Retry.JitterFraction
	}
	return cfg
}

// CircuitConfig converts the circuit settings, filling zero fields from
// resilience.DefaultCircuitBreakerConfig.
func (c GeocodeConfig) CircuitConfig() resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig()
	if c.Circuit.FailureThreshold > 0 {
		cfg.FailureThreshold = c.Circuit.FailureThreshold
	}
	if c.Circuit.ResetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(c.Circuit.ResetTimeoutSecs) * time.Second
	}
	return cfg
}

// PipelineConfig holds run defaults; CLI flags override them.
type PipelineConfig struct {
	OutputDir      string `yaml:"output_dir" mapstructure:"output_dir"`
	Category       string `yaml:"category" mapstructure:"category"`
	MaxItems       int    `yaml:"max_items" mapstructure:"max_items"`
	Incremental    bool   `yaml:"incremental" mapstructure:"incremental"`
	DetectChanges  bool   `yaml:"detect_changes" mapstructure:"detect_changes"`
	SkipEnrichment bool   `yaml:"skip_enrichment" mapstructure:"skip_enrichment"`
}

// AnthropicConfig configures report recommendations. An empty key disables them.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PublishConfig configures the S3 mirror. An empty bucket disables it.
type PublishConfig struct {
	Bucket string `yaml:"bucket" mapstructure:"bucket"`
	Region string `yaml:"region" mapstructure:"region"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate rejects settings no run could succeed with.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres, got "+c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Geocode.Concurrency < 1 {
		errs = append(errs, "geocode.concurrency must be at least 1")
	}
	if c.Geocode.H3Resolution < 0 || c.Geocode.H3Resolution > 15 {
		errs = append(errs, "geocode.h3_resolution must be between 0 and 15")
	}
	if c.Geocode.MinIntervalMs < 0 {
		errs = append(errs, "geocode.min_interval_ms must not be negative")
	}
	if c.Pipeline.OutputDir == "" {
		errs = append(errs, "pipeline.output_dir is required")
	}
	if c.Source.PageSize < 1 {
		errs = append(errs, "source.page_size must be at least 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FOODGEO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/foodgeo.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("source.base_url", "https://world.openfoodfacts.org")
	v.SetDefault("source.page_size", 100)
	v.SetDefault("source.timeout_secs", 30)
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.rate_per_sec", 1.0)
	v.SetDefault("source.user_agent", "foodgeo/1.0")
	v.SetDefault("geocode.adresse_url", "https://api-adresse.data.gouv.fr")
	v.SetDefault("geocode.min_score", 0.5)
	v.SetDefault("geocode.google_key", "")
	v.SetDefault("geocode.concurrency", 4)
	v.SetDefault("geocode.min_interval_ms", 100)
	v.SetDefault("geocode.call_timeout_secs", 10)
	v.SetDefault("geocode.h3_resolution", 7)
	v.SetDefault("geocode.retry.max_attempts", 3)
	v.SetDefault("geocode.retry.initial_backoff_ms", 500)
	v.SetDefault("geocode.retry.max_backoff_ms", 10000)
	v.SetDefault("geocode.retry.multiplier", 2.0)
	v.SetDefault("geocode.retry.jitter_fraction", 0.25)
	v.SetDefault("geocode.circuit.failure_threshold", 5)
	v.SetDefault("geocode.circuit.reset_timeout_secs", 30)
	v.SetDefault("pipeline.output_dir", "data/processed")
	v.SetDefault("pipeline.category", "chocolats")
	v.SetDefault("pipeline.max_items", 50)
	v.SetDefault("pipeline.incremental", false)
	v.SetDefault("pipeline.detect_changes", false)
	v.SetDefault("pipeline.skip_enrichment", false)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 512)
	v.SetDefault("publish.bucket", "")
	v.SetDefault("publish.region", "eu-west-3")
	v.SetDefault("publish.prefix", "foodgeo")
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
