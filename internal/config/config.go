// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Admin     AdminConfig     `mapstructure:"admin"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Validator ValidatorConfig `mapstructure:"validator"`
	Sync      SyncConfig      `mapstructure:"sync"`
}

// AdminConfig controls the admin/metrics HTTP endpoint.
type AdminConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// GitHubConfig governs access to the code-search API.
type GitHubConfig struct {
	// Tokens is a comma-separated pool of access tokens. An empty pool
	// means unauthenticated requests.
	Tokens string `mapstructure:"tokens"`
	// Proxies is a comma-separated pool of forward proxies; each request
	// picks one at random.
	Proxies        string  `mapstructure:"proxies"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec"`
}

// StorageConfig sets paths for the data directory and its files.
type StorageConfig struct {
	DataDir                 string `mapstructure:"data_dir"`
	QueriesFile             string `mapstructure:"queries_file"`
	ScannedSHAsFile         string `mapstructure:"scanned_shas_file"`
	ValidKeyPrefix          string `mapstructure:"valid_key_prefix"`
	ValidKeyDetailPrefix    string `mapstructure:"valid_key_detail_prefix"`
	RateLimitedPrefix       string `mapstructure:"rate_limited_prefix"`
	RateLimitedDetailPrefix string `mapstructure:"rate_limited_detail_prefix"`
}

// ScannerConfig governs the crawl scheduler.
type ScannerConfig struct {
	// DateRangeDays drops items whose repository was last pushed more
	// than this many days ago.
	DateRangeDays int `mapstructure:"date_range_days"`
	// PathBlacklist is a comma-separated list of lowercase path tokens
	// that mark documentation or example files.
	PathBlacklist       string `mapstructure:"path_blacklist"`
	CheckpointEvery     int    `mapstructure:"checkpoint_every"`
	QueryBreakEvery     int    `mapstructure:"query_break_every"`
	LoopSleepSeconds    int    `mapstructure:"loop_sleep_seconds"`
	ResetQueriesPerPass bool   `mapstructure:"reset_queries_per_pass"`
}

// ValidatorConfig configures the provider key probe.
type ValidatorConfig struct {
	Model          string `mapstructure:"model"`
	Endpoint       string `mapstructure:"endpoint"`
	Proxies        string `mapstructure:"proxies"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// SyncConfig controls the downstream delivery dispatcher.
type SyncConfig struct {
	IntervalSeconds int            `mapstructure:"interval_seconds"`
	Workers         int            `mapstructure:"workers"`
	Balancer        BalancerConfig `mapstructure:"balancer"`
	GPTLoad         GPTLoadConfig  `mapstructure:"gpt_load"`
}

// BalancerConfig points at the key-list balancer service.
type BalancerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Auth    string `mapstructure:"auth"`
}

// GPTLoadConfig points at the gpt-load balancer service.
type GPTLoadConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Auth    string `mapstructure:"auth"`
	Group   string `mapstructure:"group"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KEYSWEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
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
	v.SetDefault("admin.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("github.timeout_seconds", 30)
	v.SetDefault("github.max_retries", 5)
	v.SetDefault("github.requests_per_sec", 1.2)
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.queries_file", "queries.txt")
	v.SetDefault("storage.scanned_shas_file", "scanned_shas.txt")
	v.SetDefault("storage.valid_key_prefix", "keys_valid_")
	v.SetDefault("storage.valid_key_detail_prefix", "keys_valid_detail_")
	v.SetDefault("storage.rate_limited_prefix", "key_429_")
	v.SetDefault("storage.rate_limited_detail_prefix", "key_429_detail_")
	v.SetDefault("scanner.date_range_days", 730)
	v.SetDefault("scanner.path_blacklist", "readme,docs,doc/,.md,example,sample,tutorial")
	v.SetDefault("scanner.checkpoint_every", 20)
	v.SetDefault("scanner.query_break_every", 5)
	v.SetDefault("scanner.loop_sleep_seconds", 10)
	v.SetDefault("scanner.reset_queries_per_pass", true)
	v.SetDefault("validator.model", "gemini-2.5-flash")
	v.SetDefault("validator.endpoint", "https://generativelanguage.googleapis.com")
	v.SetDefault("validator.timeout_seconds", 30)
	v.SetDefault("sync.interval_seconds", 60)
	v.SetDefault("sync.workers", 2)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Admin.Port <= 0 {
		return fmt.Errorf("admin.port must be > 0")
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return fmt.Errorf("storage.data_dir must be set")
	}
	if c.Scanner.DateRangeDays <= 0 {
		return fmt.Errorf("scanner.date_range_days must be > 0")
	}
	if c.Scanner.CheckpointEvery <= 0 {
		return fmt.Errorf("scanner.checkpoint_every must be > 0")
	}
	if c.GitHub.MaxRetries <= 0 {
		return fmt.Errorf("github.max_retries must be > 0")
	}
	if c.Sync.IntervalSeconds <= 0 {
		return fmt.Errorf("sync.interval_seconds must be > 0")
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be > 0")
	}
	if c.Validator.Model == "" {
		return fmt.Errorf("validator.model must be set")
	}
	if c.Sync.Balancer.Enabled && (c.Sync.Balancer.URL == "" || c.Sync.Balancer.Auth == "") {
		return fmt.Errorf("sync.balancer.url and sync.balancer.auth must be set when balancer sync is enabled")
	}
	if c.Sync.GPTLoad.Enabled && (c.Sync.GPTLoad.URL == "" || c.Sync.GPTLoad.Auth == "" || c.Sync.GPTLoad.Group == "") {
		return fmt.Errorf("sync.gpt_load.url, auth and group must be set when gpt-load sync is enabled")
	}
	return nil
}

// TokenList returns the configured GitHub tokens with blanks removed.
func (c GitHubConfig) TokenList() []string {
	return splitList(c.Tokens)
}

// Timeout converts the GitHub client timeout into a duration.
func (c GitHubConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ProxyList returns the configured proxy pool with blanks removed.
func (c GitHubConfig) ProxyList() []string {
	return splitList(c.Proxies)
}

// ProxyList returns the validator's proxy pool with blanks removed.
func (c ValidatorConfig) ProxyList() []string {
	return splitList(c.Proxies)
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// BlacklistTokens returns the lowercased path blacklist entries.
func (c ScannerConfig) BlacklistTokens() []string {
	var tokens []string
	for _, tok := range strings.Split(c.PathBlacklist, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// MaxAge converts the date-range filter into a duration.
func (c ScannerConfig) MaxAge() time.Duration {
	return time.Duration(c.DateRangeDays) * 24 * time.Hour
}

// LoopSleep converts the between-pass sleep into a duration.
func (c ScannerConfig) LoopSleep() time.Duration {
	return time.Duration(c.LoopSleepSeconds) * time.Second
}

// Interval converts the sync cadence into a duration.
func (c SyncConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Timeout converts the validator timeout into a duration.
func (c ValidatorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
