package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/foodgeo/internal/resilience"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "data/foodgeo.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "https://world.openfoodfacts.org", cfg.Source.BaseURL)
	assert.Equal(t, 100, cfg.Source.PageSize)
	assert.Equal(t, 30*time.Second, cfg.Source.Timeout())
	assert.InDelta(t, 1.0, cfg.Source.RatePerSec, 0.001)
	assert.Equal(t, "https://api-adresse.data.gouv.fr", cfg.Geocode.AdresseURL)
	assert.InDelta(t, 0.5, cfg.Geocode.MinScore, 0.001)
	assert.Equal(t, 4, cfg.Geocode.Concurrency)
	assert.Equal(t, 100*time.Millisecond, cfg.Geocode.MinInterval())
	assert.Equal(t, 10*time.Second, cfg.Geocode.CallTimeout())
	assert.Equal(t, 7, cfg.Geocode.H3Resolution)
	assert.Equal(t, "data/processed", cfg.Pipeline.OutputDir)
	assert.Equal(t, "chocolats", cfg.Pipeline.Category)
	assert.Equal(t, 50, cfg.Pipeline.MaxItems)
	assert.False(t, cfg.Pipeline.Incremental)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, int64(512), cfg.Anthropic.MaxTokens)
	assert.Empty(t, cfg.Publish.Bucket)
	assert.Equal(t, "eu-west-3", cfg.Publish.Region)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/foodgeo
geocode:
  concurrency: 8
  retry:
    max_attempts: 5
pipeline:
  category: biscuits
  incremental: true
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/foodgeo", cfg.Store.DatabaseURL)
	assert.Equal(t, 8, cfg.Geocode.Concurrency)
	assert.Equal(t, 5, cfg.Geocode.Retry.MaxAttempts)
	assert.Equal(t, "biscuits", cfg.Pipeline.Category)
	assert.True(t, cfg.Pipeline.Incremental)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 500, cfg.Geocode.Retry.InitialBackoffMs)
	assert.Equal(t, 50, cfg.Pipeline.MaxItems)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("FOODGEO_STORE_DRIVER", "postgres")
	t.Setenv("FOODGEO_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("FOODGEO_GEOCODE_GOOGLE_KEY", "gkey")
	t.Setenv("FOODGEO_PIPELINE_SKIP_ENRICHMENT", "true")
	t.Setenv("FOODGEO_GEOCODE_CIRCUIT_FAILURE_THRESHOLD", "9")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "gkey", cfg.Geocode.GoogleKey)
	assert.True(t, cfg.Pipeline.SkipEnrichment)
	assert.Equal(t, 9, cfg.Geocode.Circuit.FailureThreshold)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	assert.ErrorContains(t, err, "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config that passes validation.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "foodgeo.db"
	cfg.Source.PageSize = 100
	cfg.Geocode.Concurrency = 4
	cfg.Geocode.H3Resolution = 7
	cfg.Pipeline.OutputDir = "out"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "postgres", mutate: func(c *Config) { c.Store.Driver = "postgres" }},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "mysql" }, wantErr: "store.driver"},
		{name: "no database url", mutate: func(c *Config) { c.Store.DatabaseURL = "" }, wantErr: "store.database_url"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Geocode.Concurrency = 0 }, wantErr: "geocode.concurrency"},
		{name: "h3 too fine", mutate: func(c *Config) { c.Geocode.H3Resolution = 16 }, wantErr: "h3_resolution"},
		{name: "h3 negative", mutate: func(c *Config) { c.Geocode.H3Resolution = -1 }, wantErr: "h3_resolution"},
		{name: "negative interval", mutate: func(c *Config) { c.Geocode.MinIntervalMs = -5 }, wantErr: "min_interval_ms"},
		{name: "no output dir", mutate: func(c *Config) { c.Pipeline.OutputDir = "" }, wantErr: "output_dir"},
		{name: "zero page size", mutate: func(c *Config) { c.Source.PageSize = 0 }, wantErr: "page_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	err := (&Config{}).Validate()
	require.Error(t, err)
	for _, want := range []string{"store.driver", "geocode.concurrency", "output_dir"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestGeocodeConfig_RetryConfig(t *testing.T) {
	cfg := GeocodeConfig{Retry: RetrySettings{MaxAttempts: 5, InitialBackoffMs: 100, JitterFraction: 0.1}}
	rc := cfg.RetryConfig()

	def := resilience.DefaultRetryConfig()
	assert.Equal(t, 5, rc.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, rc.InitialBackoff)
	assert.Equal(t, def.MaxBackoff, rc.MaxBackoff)
	assert.InDelta(t, def.Multiplier, rc.Multiplier, 0.001)
	assert.InDelta(t, 0.1, rc.JitterFraction, 0.001)
}

func TestGeocodeConfig_CircuitConfig(t *testing.T) {
	cc := GeocodeConfig{Circuit: CircuitSetting{ResetTimeoutSecs: 5}}.CircuitConfig()
	assert.Equal(t, resilience.DefaultCircuitBreakerConfig().FailureThreshold, cc.FailureThreshold)
	assert.Equal(t, 5*time.Second, cc.ResetTimeout)
}
