// Package config loads consentd configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/consentclick/consent"
	"github.com/hazyhaar/consentclick/internal/shield"
)

// Config is the top-level consentd configuration.
type Config struct {
	Browser  BrowserConfig `yaml:"browser"`
	Consent  ConsentConfig `yaml:"consent"`
	Channel  ChannelConfig `yaml:"channel"`
	Server   ServerConfig  `yaml:"server"`
	Patterns consent.Extra `yaml:"patterns"`
	Log      LogConfig     `yaml:"log"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Bin              string        `yaml:"bin"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          *bool         `yaml:"stealth"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
}

// ConsentConfig holds the engine timings.
type ConsentConfig struct {
	Debounce         time.Duration `yaml:"debounce"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	RetryDeadline    time.Duration `yaml:"retry_deadline"`
	QueryTimeout     time.Duration `yaml:"query_timeout"`
	NotifyTimeout    time.Duration `yaml:"notify_timeout"`
	// PageTimeout bounds a whole live run, navigation included.
	PageTimeout time.Duration `yaml:"page_timeout"`
}

// ChannelConfig selects the transport to the controlling process.
type ChannelConfig struct {
	Type string `yaml:"type"` // none | local | http | nats
	// URL is the http base URL or the nats server URL. For type local, a
	// nats URL also publishes the controller there.
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"` // for nats
	// Enabled is the initial toggle of the in-process controller (type local).
	Enabled *bool `yaml:"enabled"`
}

// ServerConfig controls the HTTP service.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// MCP mounts the MCP endpoint at /mcp.
	MCP     *bool `yaml:"mcp"`
	MaxBody int64 `yaml:"max_body"`
	// RateLimits maps "METHOD /path" to a per-client rule.
	RateLimits map[string]shield.Rule `yaml:"rate_limits"`
	// AllowPrivate lets service callers target loopback and private
	// networks.
	AllowPrivate bool `yaml:"allow_private"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults. An empty document yields the
// defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration of an empty file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.Stealth == nil {
		c.Browser.Stealth = boolPtr(true)
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Consent.Debounce <= 0 {
		c.Consent.Debounce = 200 * time.Millisecond
	}
	if c.Consent.HandshakeTimeout <= 0 {
		c.Consent.HandshakeTimeout = 3 * time.Second
	}
	if c.Consent.RetryDeadline <= 0 {
		c.Consent.RetryDeadline = 15 * time.Second
	}
	if c.Consent.QueryTimeout <= 0 {
		c.Consent.QueryTimeout = 2 * time.Second
	}
	if c.Consent.NotifyTimeout <= 0 {
		c.Consent.NotifyTimeout = 2 * time.Second
	}
	if c.Consent.PageTimeout <= 0 {
		c.Consent.PageTimeout = c.Consent.RetryDeadline + c.Browser.NavigateTimeout
	}
	if c.Channel.Type == "" {
		c.Channel.Type = "local"
	}
	if c.Channel.SubjectPrefix == "" {
		c.Channel.SubjectPrefix = "consent"
	}
	if c.Channel.Enabled == nil {
		c.Channel.Enabled = boolPtr(true)
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MCP == nil {
		c.Server.MCP = boolPtr(true)
	}
	if c.Server.MaxBody <= 0 {
		c.Server.MaxBody = 10 << 20
	}
	if c.Server.RateLimits == nil {
		c.Server.RateLimits = map[string]shield.Rule{
			"POST /v1/dismiss": {Requests: 30, Window: time.Minute},
		}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

func (c *Config) validate() error {
	switch c.Channel.Type {
	case "none", "local":
	case "http", "nats":
		if c.Channel.URL == "" {
			return fmt.Errorf("config: channel type %q needs a url", c.Channel.Type)
		}
	default:
		return fmt.Errorf("config: unknown channel type %q", c.Channel.Type)
	}
	if _, err := consent.DefaultPatterns.Extend(c.Patterns); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// EngineConfig maps the timings and patterns onto a consent.Config.
// Channel and Logger are left to the caller.
func (c *Config) EngineConfig() (consent.Config, error) {
	patterns, err := consent.DefaultPatterns.Extend(c.Patterns)
	if err != nil {
		return consent.Config{}, err
	}
	return consent.Config{
		Patterns:         patterns,
		Debounce:         c.Consent.Debounce,
		HandshakeTimeout: c.Consent.HandshakeTimeout,
		RetryDeadline:    c.Consent.RetryDeadline,
		QueryTimeout:     c.Consent.QueryTimeout,
		NotifyTimeout:    c.Consent.NotifyTimeout,
	}, nil
}

func boolPtr(v bool) *bool { return &v }
