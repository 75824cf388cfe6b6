package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv     = "RECIPE_ACQ_CONFIG"
	databaseDriverEnv = "RECIPE_ACQ_DATABASE_DRIVER"
	databaseDSNEnv    = "RECIPE_ACQ_DATABASE_DSN"
	httpAddrEnv       = "RECIPE_ACQ_HTTP_ADDR"
	logLevelEnv       = "RECIPE_ACQ_LOG_LEVEL"
	mongoURIEnv       = "RECIPE_ACQ_MONGO_URI"
	chatGPTAPIKeyEnv  = "CHATGPT_API_KEY"
	chatGPTModelEnv   = "CHATGPT_MODEL"
)

// Fetch limit policies.
const (
	OnLimitQueue = "queue"
	OnLimitFail  = "fail"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Database    DatabaseConfig    `yaml:"database"`
	Fetcher     FetcherConfig     `yaml:"fetcher"`
	Matching    MatchingConfig    `yaml:"matching"`
	ChatGPT     ChatGPTConfig     `yaml:"chatgpt"`
	Audit       AuditConfig       `yaml:"audit"`
	HTTP        HTTPConfig        `yaml:"http"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Sites       []SiteConfig      `yaml:"sites"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig selects the SQL driver and its DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// FetcherConfig describes network policy for outbound fetches.
type FetcherConfig struct {
	UserAgent       string        `yaml:"userAgent"`
	HostInterval    time.Duration `yaml:"hostInterval"`
	Timeout         time.Duration `yaml:"timeout"`
	RetryCount      int           `yaml:"retryCount"`
	RetryBackoff    time.Duration `yaml:"retryBackoff"`
	MaxPerUser      int           `yaml:"maxPerUser"`
	OnLimit         string        `yaml:"onLimit"`
	MaxQueued       int           `yaml:"maxQueued"`
	RobotsTTL       time.Duration `yaml:"robotsTtl"`
	MaxContentBytes int64         `yaml:"maxContentBytes"`
}

// MatchingConfig tunes ingredient resolution.
type MatchingConfig struct {
	HighThreshold      float64  `yaml:"highThreshold"`
	LowThreshold       float64  `yaml:"lowThreshold"`
	TopN               int      `yaml:"topN"`
	DuplicateThreshold float64  `yaml:"duplicateThreshold"`
	Units              []string `yaml:"units"`
}

// ChatGPTConfig defines how to contact the optional enrichment API.
type ChatGPTConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Model        string        `yaml:"model"`
	APIKey       string        `yaml:"apiKey"`
	SystemPrompt string        `yaml:"systemPrompt"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Enabled reports whether enrichment can be used.
func (c ChatGPTConfig) Enabled() bool {
	return c.APIKey != "" && c.Endpoint != "" && c.Model != ""
}

// AuditConfig optionally mirrors the scrape audit log into MongoDB.
type AuditConfig struct {
	MongoURI   string `yaml:"mongoUri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// HTTPConfig configures the review API.
type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	Mode           string   `yaml:"mode"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// MaintenanceConfig drives the periodic cleanup job.
type MaintenanceConfig struct {
	Interval      time.Duration `yaml:"interval"`
	HostIdleAfter time.Duration `yaml:"hostIdleAfter"`
	StaleJobAfter time.Duration `yaml:"staleJobAfter"`
}

// SiteConfig holds extraction selectors for one family of hosts.
type SiteConfig struct {
	Name       string            `yaml:"name"`
	Hosts      []string          `yaml:"hosts"`
	Confidence float64           `yaml:"confidence"`
	Selectors  map[string]string `yaml:"selectors"`
}

// Load reads the YAML file named by RECIPE_ACQ_CONFIG (if set) and applies environment overrides.
func Load() Config {
	return LoadFrom(os.Getenv(configPathEnv))
}

// LoadFrom reads YAML configuration from path (if non-empty) and applies environment overrides.
func LoadFrom(path string) Config {
	cfg := defaultConfig()

	if path != "" {
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

	if err := cfg.Validate(); err != nil {
		log.Printf("config: %v (falling back to defaults for invalid values)", err)
		cfg = cfg.withSafeDefaults()
	}

	return cfg
}

// Validate checks values that would otherwise break the pipeline at runtime.
func (c Config) Validate() error {
	var problems []string
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("unknown database driver %q", c.Database.Driver))
	}
	if c.Fetcher.OnLimit != OnLimitQueue && c.Fetcher.OnLimit != OnLimitFail {
		problems = append(problems, fmt.Sprintf("unknown fetcher.onLimit %q", c.Fetcher.OnLimit))
	}
	if c.Fetcher.MaxPerUser <= 0 {
		problems = append(problems, "fetcher.maxPerUser must be positive")
	}
	if c.Fetcher.RetryCount < 0 {
		problems = append(problems, "fetcher.retryCount must not be negative")
	}
	if c.Matching.LowThreshold <= 0 || c.Matching.HighThreshold > 1 || c.Matching.LowThreshold >= c.Matching.HighThreshold {
		problems = append(problems, "matching thresholds must satisfy 0 < low < high <= 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c Config) withSafeDefaults() Config {
	def := defaultConfig()
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		c.Database = def.Database
	}
	if c.Fetcher.OnLimit != OnLimitQueue && c.Fetcher.OnLimit != OnLimitFail {
		c.Fetcher.OnLimit = def.Fetcher.OnLimit
	}
	if c.Fetcher.MaxPerUser <= 0 {
		c.Fetcher.MaxPerUser = def.Fetcher.MaxPerUser
	}
	if c.Fetcher.RetryCount < 0 {
		c.Fetcher.RetryCount = def.Fetcher.RetryCount
	}
	if c.Matching.LowThreshold <= 0 || c.Matching.HighThreshold > 1 || c.Matching.LowThreshold >= c.Matching.HighThreshold {
		c.Matching.LowThreshold = def.Matching.LowThreshold
		c.Matching.HighThreshold = def.Matching.HighThreshold
	}
	return c
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(httpAddrEnv); v != "" {
		c.HTTP.Addr = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(mongoURIEnv); v != "" {
		c.Audit.MongoURI = v
	}

	if v := os.Getenv(chatGPTAPIKeyEnv); v != "" {
		c.ChatGPT.APIKey = v
	}

	if v := os.Getenv(chatGPTModelEnv); v != "" {
		c.ChatGPT.Model = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Database.Driver != "" {
		base.Database.Driver = override.Database.Driver
	}
	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}

	base.Fetcher = mergeFetcher(base.Fetcher, override.Fetcher)
	base.Matching = mergeMatching(base.Matching, override.Matching)

	if override.ChatGPT.Endpoint != "" {
		base.ChatGPT.Endpoint = override.ChatGPT.Endpoint
	}
	if override.ChatGPT.Model != "" {
		base.ChatGPT.Model = override.ChatGPT.Model
	}
	if override.ChatGPT.APIKey != "" {
		base.ChatGPT.APIKey = override.ChatGPT.APIKey
	}
	if override.ChatGPT.SystemPrompt != "" {
		base.ChatGPT.SystemPrompt = override.ChatGPT.SystemPrompt
	}
	if override.ChatGPT.Timeout > 0 {
		base.ChatGPT.Timeout = override.ChatGPT.Timeout
	}

	if override.Audit.MongoURI != "" {
		base.Audit.MongoURI = override.Audit.MongoURI
	}
	if override.Audit.Database != "" {
		base.Audit.Database = override.Audit.Database
	}
	if override.Audit.Collection != "" {
		base.Audit.Collection = override.Audit.Collection
	}

	if override.HTTP.Addr != "" {
		base.HTTP.Addr = override.HTTP.Addr
	}
	if override.HTTP.Mode != "" {
		base.HTTP.Mode = override.HTTP.Mode
	}
	if len(override.HTTP.AllowedOrigins) > 0 {
		base.HTTP.AllowedOrigins = override.HTTP.AllowedOrigins
	}

	if override.Maintenance.Interval > 0 {
		base.Maintenance.Interval = override.Maintenance.Interval
	}
	if override.Maintenance.HostIdleAfter > 0 {
		base.Maintenance.HostIdleAfter = override.Maintenance.HostIdleAfter
	}
	if override.Maintenance.StaleJobAfter > 0 {
		base.Maintenance.StaleJobAfter = override.Maintenance.StaleJobAfter
	}

	if len(override.Sites) > 0 {
		base.Sites = override.Sites
	}

	return base
}

func mergeFetcher(base, override FetcherConfig) FetcherConfig {
	if override.UserAgent != "" {
		base.UserAgent = override.UserAgent
	}
	if override.HostInterval > 0 {
		base.HostInterval = override.HostInterval
	}
	if override.Timeout > 0 {
		base.Timeout = override.Timeout
	}
	if override.RetryCount != 0 {
		base.RetryCount = override.RetryCount
	}
	if override.RetryBackoff > 0 {
		base.RetryBackoff = override.RetryBackoff
	}
	if override.MaxPerUser != 0 {
		base.MaxPerUser = override.MaxPerUser
	}
	if override.OnLimit != "" {
		base.OnLimit = override.OnLimit
	}
	if override.MaxQueued != 0 {
		base.MaxQueued = override.MaxQueued
	}
	if override.RobotsTTL > 0 {
		base.RobotsTTL = override.RobotsTTL
	}
	if override.MaxContentBytes > 0 {
		base.MaxContentBytes = override.MaxContentBytes
	}
	return base
}

func mergeMatching(base, override MatchingConfig) MatchingConfig {
	if override.HighThreshold != 0 {
		base.HighThreshold = override.HighThreshold
	}
	if override.LowThreshold != 0 {
		base.LowThreshold = override.LowThreshold
	}
	if override.TopN > 0 {
		base.TopN = override.TopN
	}
	if override.DuplicateThreshold != 0 {
		base.DuplicateThreshold = override.DuplicateThreshold
	}
	if len(override.Units) > 0 {
		base.Units = override.Units
	}
	return base
}

func defaultConfig() Config {
	return Config{
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "data/recipes.db"},
		Fetcher: FetcherConfig{
			UserAgent:       "PansCookbook/1.0 (+recipe acquisition)",
			HostInterval:    5 * time.Second,
			Timeout:         15 * time.Second,
			RetryCount:      1,
			RetryBackoff:    time.Second,
			MaxPerUser:      3,
			OnLimit:         OnLimitQueue,
			MaxQueued:       5,
			RobotsTTL:       time.Hour,
			MaxContentBytes: 5 << 20,
		},
		Matching: MatchingConfig{
			HighThreshold:      0.92,
			LowThreshold:       0.6,
			TopN:               3,
			DuplicateThreshold: 0.85,
		},
		ChatGPT: ChatGPTConfig{
			Endpoint:     "https://api.openai.com/v1/chat/completions",
			Model:        "gpt-4o-mini",
			APIKey:       "",
			SystemPrompt: "You review scraped recipes and propose corrections.",
			Timeout:      20 * time.Second,
		},
		Audit: AuditConfig{Database: "recipes", Collection: "scrape_audit"},
		HTTP:  HTTPConfig{Addr: ":8080", Mode: "release", AllowedOrigins: []string{"http://localhost:3000"}},
		Maintenance: MaintenanceConfig{
			Interval:      10 * time.Minute,
			HostIdleAfter: 30 * time.Minute,
			StaleJobAfter: 10 * time.Minute,
		},
	}
}
