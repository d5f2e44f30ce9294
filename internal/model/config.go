package model

import (
	"math"
	"time"
)

const (
	// DefaultDelayMS is the pause after every retrieval attempt
	DefaultDelayMS = 1200

	// DefaultUserAgent identifies the tool to remote forums
	DefaultUserAgent = "xfattach/0.1 (+https://github.com/ppiankov/xfattach)"

	// AttachmentsDir is the sibling directory created next to each export file
	AttachmentsDir = "attachments"
)

// Config holds everything a run needs
type Config struct {
	Root    string          `mapstructure:"root" yaml:"root"`
	DelayMS float64         `mapstructure:"delay_ms" yaml:"delay_ms"` // <= 0 disables the pause
	Ignore  []string        `mapstructure:"ignore" yaml:"ignore"`     // Directory names skipped during traversal
	HTTP    HTTPConfig      `mapstructure:"http" yaml:"http"`
	Rate    RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Robots  RobotsConfig    `mapstructure:"robots" yaml:"robots"`
	Disk    DiskConfig      `mapstructure:"disk" yaml:"disk"`
	Verbose bool            `mapstructure:"verbose" yaml:"verbose"`
}

// HTTPConfig configures the retrieval engine
type HTTPConfig struct {
	UserAgent   string        `mapstructure:"user_agent" yaml:"user_agent"`
	Cookie      string        `mapstructure:"cookie" yaml:"cookie"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	InsecureTLS bool          `mapstructure:"insecure_tls" yaml:"insecure_tls"`
	CookieJar   bool          `mapstructure:"cookie_jar" yaml:"cookie_jar"` // Replay cookies set during redirect chains
	HTTPProxy   string        `mapstructure:"http_proxy" yaml:"http_proxy"`
	HTTPSProxy  string        `mapstructure:"https_proxy" yaml:"https_proxy"`
	NoProxy     []string      `mapstructure:"no_proxy" yaml:"no_proxy"` // Hosts, .domains or CIDRs reached directly
}

// RateLimitConfig caps requests per host on top of the fixed delay
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"` // 0 = unlimited
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// RobotsConfig controls robots.txt checks
type RobotsConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// DiskConfig controls the free-space preflight
type DiskConfig struct {
	MinFreeMB uint64 `mapstructure:"min_free_mb" yaml:"min_free_mb"` // 0 disables the check
}

// DefaultIgnore lists directories never descended into
func DefaultIgnore() []string {
	return []string{".git", ".hg", ".svn", "node_modules", "vendor", AttachmentsDir}
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() *Config {
	return &Config{
		DelayMS: DefaultDelayMS,
		Ignore:  DefaultIgnore(),
		HTTP: HTTPConfig{
			UserAgent: DefaultUserAgent,
			Timeout:   30 * time.Second,
			CookieJar: true,
		},
		Rate: RateLimitConfig{
			RequestsPerSecond: 0,
			Burst:             1,
		},
		Robots: RobotsConfig{
			Enabled:  false,
			CacheTTL: time.Hour,
		},
	}
}

// Normalize replaces unusable values with defaults
func (c *Config) Normalize() {
	if math.IsNaN(c.DelayMS) || math.IsInf(c.DelayMS, 0) || c.DelayMS < 0 {
		c.DelayMS = DefaultDelayMS
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = DefaultUserAgent
	}
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if c.Rate.Burst <= 0 {
		c.Rate.Burst = 1
	}
	if c.Robots.CacheTTL <= 0 {
		c.Robots.CacheTTL = time.Hour
	}
	if c.Ignore == nil {
		c.Ignore = DefaultIgnore()
	}
}

// Delay returns the inter-request pause as a duration
func (c *Config) Delay() time.Duration {
	return time.Duration(c.DelayMS * float64(time.Millisecond))
}
