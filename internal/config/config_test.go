package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDurationUnmarshal(t *testing.T) {
	t.Parallel()

	var doc struct {
		Window   Duration `yaml:"window"`
		Interval Duration `yaml:"interval"`
		Seconds  Duration `yaml:"seconds"`
	}

	raw := "window: 24h\ninterval: 90s\nseconds: 45\n"
	require.NoError(t, yaml.Unmarshal([]byte(raw), &doc))

	assert.Equal(t, 24*time.Hour, doc.Window.Std())
	assert.Equal(t, 90*time.Second, doc.Interval.Std())
	assert.Equal(t, 45*time.Second, doc.Seconds.Std())
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv(databaseDSNEnv, "")
	t.Setenv(logLevelEnv, "")
	t.Setenv(publishTargetEnv, "")

	cfg := Load()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.DiscoveryInterval.Std())
	assert.Equal(t, time.Minute, cfg.Scheduler.DispatchInterval.Std())
	assert.Equal(t, 3, cfg.Dispatch.MaxRetries)
	assert.Equal(t, 10, cfg.Dispatch.MaxBatchPerCampaign)
	assert.Equal(t, time.Minute, cfg.Dispatch.LeaseTTL.Std())
	assert.Equal(t, 30*time.Second, cfg.Dispatch.RetryBackoffBase.Std())
	assert.Equal(t, "UTC", cfg.Scheduler.Location().String())
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
database:
  dsn: postgres://file-dsn/pipeline
logging:
  level: debug
scheduler:
  discoveryInterval: 5m
dispatch:
  maxRetries: 7
campaigns:
  - id: tech-blog
    name: Tech Blog
    strategy: least_used
    providers: [openai, anthropic]
    maxConcurrent: 3
    sources:
      - type: feed
        name: main-feed
        url: https://example.com/rss
        freshnessWindow: 48h
        domainPolicy:
          mode: allow
          domains: [example.com]
      - type: marketplace
        name: bestsellers
        url: https://shop.example.com/top
        minRating: 4.5
        minReviews: 100
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv(configPathEnv, path)
	t.Setenv(databaseDSNEnv, "postgres://env-dsn/pipeline")
	t.Setenv(logLevelEnv, "")
	t.Setenv(publishTargetEnv, "")

	cfg := Load()

	// Environment wins over the file.
	assert.Equal(t, "postgres://env-dsn/pipeline", cfg.Database.DSN)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.DiscoveryInterval.Std())
	assert.Equal(t, 7, cfg.Dispatch.MaxRetries)
	// Untouched fields keep their defaults.
	assert.Equal(t, 8, cfg.Dispatch.MaxConcurrentCalls)

	campaign, ok := cfg.Campaign("tech-blog")
	require.True(t, ok)
	assert.Equal(t, "least_used", campaign.Strategy)
	assert.Equal(t, []string{"openai", "anthropic"}, campaign.Providers)
	require.Len(t, campaign.Sources, 2)

	// Every source carries its owning campaign id.
	for _, src := range campaign.Sources {
		assert.Equal(t, "tech-blog", src.CampaignID)
	}
	assert.Equal(t, 48*time.Hour, campaign.Sources[0].FreshnessWindow.Std())
	assert.Equal(t, 4.5, campaign.Sources[1].MinRating)

	_, ok = cfg.Campaign("missing")
	assert.False(t, ok)
}

func TestLoadBadFileFallsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o600))

	t.Setenv(configPathEnv, path)
	t.Setenv(databaseDSNEnv, "")
	t.Setenv(logLevelEnv, "")
	t.Setenv(publishTargetEnv, "")

	cfg := Load()
	assert.Equal(t, "info", cfg.Logging.Level)
}
