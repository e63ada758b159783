package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone  = "UTC"
	configPathEnv    = "CONTENT_PIPELINE_CONFIG"
	databaseDSNEnv   = "DATABASE_DSN"
	logLevelEnv      = "LOG_LEVEL"
	publishTargetEnv = "PUBLISH_TARGET_URL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Database    DatabaseConfig     `yaml:"database"`
	Logging     LoggingConfig      `yaml:"logging"`
	Scheduler   SchedulerConfig    `yaml:"scheduler"`
	Dispatch    DispatchConfig     `yaml:"dispatch"`
	Transport   TransportConfig    `yaml:"transport"`
	Publishing  PublishingConfig   `yaml:"publishing"`
	Providers   []ProviderConfig   `yaml:"providers"`
	Credentials []CredentialConfig `yaml:"credentials"`
	Campaigns   []CampaignConfig   `yaml:"campaigns"`
}

// DatabaseConfig describes Postgres connection details. An empty DSN selects
// the in-memory queue and credential stores.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// LoggingConfig selects the slog level and output format for the process.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SchedulerConfig defines how often discovery and dispatch cycles run.
type SchedulerConfig struct {
	DiscoveryInterval Duration       `yaml:"discoveryInterval"`
	DispatchInterval  Duration       `yaml:"dispatchInterval"`
	Timezone          string         `yaml:"timezone"`
	location          *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// DispatchConfig bounds orchestrator concurrency and the retry machinery.
type DispatchConfig struct {
	MaxConcurrentCampaigns int      `yaml:"maxConcurrentCampaigns"`
	MaxConcurrentCalls     int      `yaml:"maxConcurrentCalls"`
	MaxBatchPerCampaign    int      `yaml:"maxBatchPerCampaign"`
	MaxRetries             int      `yaml:"maxRetries"`
	LeaseTTL               Duration `yaml:"leaseTTL"`
	RetryBackoffBase       Duration `yaml:"retryBackoffBase"`
	CallTimeout            Duration `yaml:"callTimeout"`
	SuspendThreshold       int      `yaml:"suspendThreshold"`
}

// TransportConfig tunes the outbound fetcher.
type TransportConfig struct {
	FetchTimeout    Duration `yaml:"fetchTimeout"`
	PerHostInterval Duration `yaml:"perHostInterval"`
	UserAgent       string   `yaml:"userAgent"`
}

// PublishingConfig points at the publishing collaborator.
type PublishingConfig struct {
	TargetURL string `yaml:"targetUrl"`
	AuthToken string `yaml:"authToken"`
}

// ProviderConfig describes one transformation provider endpoint.
type ProviderConfig struct {
	Name       string            `yaml:"name"`
	Endpoint   string            `yaml:"endpoint"`
	Model      string            `yaml:"model"`
	Parameters map[string]string `yaml:"parameters"`
}

// CredentialConfig seeds a credential into the pool at startup.
type CredentialConfig struct {
	ID             string `yaml:"id"`
	Provider       string `yaml:"provider"`
	Key            string `yaml:"key"`
	PerMinuteLimit int    `yaml:"perMinuteLimit"`
	PerDayLimit    int    `yaml:"perDayLimit"`
	Priority       int    `yaml:"priority"`
}

// CampaignConfig binds sources to a provider chain and rotation strategy.
type CampaignConfig struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name"`
	Strategy        string            `yaml:"strategy"`
	Providers       []string          `yaml:"providers"`
	MaxConcurrent   int               `yaml:"maxConcurrent"`
	TransformParams map[string]string `yaml:"transformParams"`
	Sources         []SourceConfig    `yaml:"sources"`
}

// SourceConfig is the tagged variant describing one source of one family.
// Only the fields relevant to the configured Type are honored.
type SourceConfig struct {
	Type       string `yaml:"type"`
	CampaignID string `yaml:"-"`
	Name       string `yaml:"name"`
	URL        string `yaml:"url"`

	// Shared filters.
	FreshnessWindow Duration     `yaml:"freshnessWindow"`
	DomainPolicy    DomainPolicy `yaml:"domainPolicy"`
	IncludeKeywords []string     `yaml:"includeKeywords"`
	ExcludeKeywords []string     `yaml:"excludeKeywords"`

	// Pagination / traversal bounds.
	MaxPages int `yaml:"maxPages"`
	MaxDepth int `yaml:"maxDepth"`

	// Scrape family.
	ItemSelector    string `yaml:"itemSelector"`
	TitleSelector   string `yaml:"titleSelector"`
	LinkSelector    string `yaml:"linkSelector"`
	ExcerptSelector string `yaml:"excerptSelector"`
	NextSelector    string `yaml:"nextSelector"`

	// Search family.
	Query      string `yaml:"query"`
	MaxResults int    `yaml:"maxResults"`

	// Video family.
	MinDuration     Duration `yaml:"minDuration"`
	MaxDuration     Duration `yaml:"maxDuration"`
	RequireCaptions bool     `yaml:"requireCaptions"`

	// Marketplace family.
	MinRating  float64 `yaml:"minRating"`
	MinReviews int     `yaml:"minReviews"`
}

// DomainPolicy is the allow/block list applied to item hosts.
// Mode is "allow" or "block"; patterns match exactly, as "*." wildcards, or
// as subdomains of a listed domain.
type DomainPolicy struct {
	Mode    string   `yaml:"mode"`
	Domains []string `yaml:"domains"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()
	cfg.bindCampaignSources()

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(publishTargetEnv); v != "" {
		c.Publishing.TargetURL = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

// bindCampaignSources stamps the owning campaign id onto each source so
// discoverers never need the campaign struct itself.
func (c *Config) bindCampaignSources() {
	for ci := range c.Campaigns {
		for si := range c.Campaigns[ci].Sources {
			c.Campaigns[ci].Sources[si].CampaignID = c.Campaigns[ci].ID
		}
	}
}

// Campaign returns the campaign with the given id, if configured.
func (c Config) Campaign(id string) (CampaignConfig, bool) {
	for _, campaign := range c.Campaigns {
		if campaign.ID == id {
			return campaign, true
		}
	}
	return CampaignConfig{}, false
}

// Provider returns the provider with the given name, if configured.
func (c Config) Provider(name string) (ProviderConfig, bool) {
	for _, provider := range c.Providers {
		if provider.Name == name {
			return provider, true
		}
	}
	return ProviderConfig{}, false
}

func mergeConfig(base, override Config) Config {
	if override.Database.DSN != "" {
		base.Database = override.Database
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Scheduler.DiscoveryInterval > 0 {
		base.Scheduler.DiscoveryInterval = override.Scheduler.DiscoveryInterval
	}
	if override.Scheduler.DispatchInterval > 0 {
		base.Scheduler.DispatchInterval = override.Scheduler.DispatchInterval
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	base.Dispatch = mergeDispatch(base.Dispatch, override.Dispatch)

	if override.Transport.FetchTimeout > 0 {
		base.Transport.FetchTimeout = override.Transport.FetchTimeout
	}
	if override.Transport.PerHostInterval > 0 {
		base.Transport.PerHostInterval = override.Transport.PerHostInterval
	}
	if override.Transport.UserAgent != "" {
		base.Transport.UserAgent = override.Transport.UserAgent
	}

	if override.Publishing.TargetURL != "" {
		base.Publishing.TargetURL = override.Publishing.TargetURL
	}
	if override.Publishing.AuthToken != "" {
		base.Publishing.AuthToken = override.Publishing.AuthToken
	}

	if len(override.Providers) > 0 {
		base.Providers = override.Providers
	}
	if len(override.Credentials) > 0 {
		base.Credentials = override.Credentials
	}
	if len(override.Campaigns) > 0 {
		base.Campaigns = override.Campaigns
	}

	return base
}

func mergeDispatch(base, override DispatchConfig) DispatchConfig {
	if override.MaxConcurrentCampaigns > 0 {
		base.MaxConcurrentCampaigns = override.MaxConcurrentCampaigns
	}
	if override.MaxConcurrentCalls > 0 {
		base.MaxConcurrentCalls = override.MaxConcurrentCalls
	}
	if override.MaxBatchPerCampaign > 0 {
		base.MaxBatchPerCampaign = override.MaxBatchPerCampaign
	}
	if override.MaxRetries > 0 {
		base.MaxRetries = override.MaxRetries
	}
	if override.LeaseTTL > 0 {
		base.LeaseTTL = override.LeaseTTL
	}
	if override.RetryBackoffBase > 0 {
		base.RetryBackoffBase = override.RetryBackoffBase
	}
	if override.CallTimeout > 0 {
		base.CallTimeout = override.CallTimeout
	}
	if override.SuspendThreshold > 0 {
		base.SuspendThreshold = override.SuspendThreshold
	}
	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Database: DatabaseConfig{DSN: ""},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Scheduler: SchedulerConfig{
			DiscoveryInterval: Duration(15 * time.Minute),
			DispatchInterval:  Duration(time.Minute),
			Timezone:          defaultTimezone,
			location:          tz,
		},
		Dispatch: DispatchConfig{
			MaxConcurrentCampaigns: 4,
			MaxConcurrentCalls:     8,
			MaxBatchPerCampaign:    10,
			MaxRetries:             3,
			LeaseTTL:               Duration(time.Minute),
			RetryBackoffBase:       Duration(30 * time.Second),
			CallTimeout:            Duration(45 * time.Second),
			SuspendThreshold:       5,
		},
		Transport: TransportConfig{
			FetchTimeout:    Duration(20 * time.Second),
			PerHostInterval: Duration(time.Second),
			UserAgent:       "ContentPipeline/1.0",
		},
		Publishing: PublishingConfig{},
	}
}
