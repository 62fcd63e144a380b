// Package config loads the eventrelay configuration from defaults, an optional
// YAML file and the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backend types.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Default values applied when a field is left empty.
const (
	DefaultAddr           = ":3000"
	DefaultMetricsAddr    = ":9090"
	DefaultSessionTimeout = 10 * time.Minute
	DefaultGCInterval     = 1 * time.Minute
	DefaultReplayWindow   = 10 * time.Minute
	DefaultScopes         = "bits:read channel:read:subscriptions"
	DefaultRateLimit      = 5
	DefaultRateBurst      = 10
	DefaultRedisPrefix    = "eventrelay"
)

// DefaultEventTypes are the EventSub subscription types created for every
// session. Each is granted by DefaultScopes.
var DefaultEventTypes = []string{
	"channel.subscribe",
	"channel.subscription.gift",
	"channel.cheer",
}

// eventTypeScopes maps the broadcaster-condition event types the relay
// subscribes at version 1 to the user scope Twitch requires for them. Types
// not listed need no scope or are not checked.
var eventTypeScopes = map[string]string{
	"channel.subscribe":            "channel:read:subscriptions",
	"channel.subscription.gift":    "channel:read:subscriptions",
	"channel.subscription.message": "channel:read:subscriptions",
	"channel.subscription.end":     "channel:read:subscriptions",
	"channel.cheer":                "bits:read",
	"channel.ban":                  "channel:moderate",
	"channel.unban":                "channel:moderate",
	"channel.channel_points_custom_reward_redemption.add": "channel:read:redemptions",
	"channel.poll.begin":       "channel:read:polls",
	"channel.prediction.begin": "channel:read:predictions",
	"channel.hype_train.begin": "channel:read:hype_train",
}

// MissingScope returns the first event type in eventTypes whose required
// scope is absent from the space-separated scopes, together with that scope.
func MissingScope(eventTypes []string, scopes string) (eventType, scope string, ok bool) {
	granted := make(map[string]struct{})
	for _, s := range strings.Fields(scopes) {
		granted[s] = struct{}{}
	}
	for _, typ := range eventTypes {
		need, known := eventTypeScopes[typ]
		if !known {
			continue
		}
		if _, has := granted[need]; !has {
			return typ, need, true
		}
	}
	return "", "", false
}

// Config is the complete runtime configuration.
type Config struct {
	Twitch  TwitchConfig  `yaml:"twitch"`
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TwitchConfig holds the application credentials registered with Twitch.
type TwitchConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       string   `yaml:"scopes"`
	EventTypes   []string `yaml:"event_types"`
}

// ServerConfig controls the public HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	// BaseURL is the externally reachable URL of this service; it is used for
	// the OAuth redirect URI and the webhook callback.
	BaseURL string `yaml:"base_url"`

	// FrontendURL receives the session handoff after login. When empty the
	// authorize endpoint answers with JSON instead of redirecting.
	FrontendURL string `yaml:"frontend_url"`

	// TrustProxy enables X-Forwarded-For / X-Real-IP for client addresses.
	TrustProxy bool `yaml:"trust_proxy"`

	// RateLimit is the number of handshakes per second allowed per client IP.
	RateLimit int `yaml:"rate_limit"`
	RateBurst int `yaml:"rate_burst"`

	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
}

// SessionConfig controls session lifetime.
type SessionConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	GCInterval   time.Duration `yaml:"gc_interval"`
	ReplayWindow time.Duration `yaml:"replay_window"`
}

// StoreConfig selects the key/value backend used for login state and
// webhook message de-duplication.
type StoreConfig struct {
	Type  string      `yaml:"type"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	PoolSize int    `yaml:"pool_size"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig controls the dedicated metrics listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load builds a Config from defaults, the YAML file at path (if path is not
// empty) and environment variables, in that order of precedence (last wins).
// The result is not validated; callers apply flag overrides first and then
// call Validate.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv(os.Getenv)
	cfg.ApplyDefaults()

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config file: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml)", ext)
	}

	return nil
}

// applyEnv overrides fields from environment variables that are set.
func (c *Config) applyEnv(getenv func(string) string) {
	setString := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setDuration := func(dst *time.Duration, key string) {
		if v := getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	setInt := func(dst *int, key string) {
		if v := getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(dst *bool, key string) {
		if v := getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setString(&c.Twitch.ClientID, "TWITCH_CLIENT_ID")
	setString(&c.Twitch.ClientSecret, "TWITCH_CLIENT_SECRET")
	setString(&c.Twitch.Scopes, "TWITCH_SCOPES")
	if v := getenv("TWITCH_EVENT_TYPES"); v != "" {
		c.Twitch.EventTypes = SplitList(v)
	}

	setString(&c.Server.Addr, "LISTEN_ADDR")
	setString(&c.Server.BaseURL, "API_BASE")
	setString(&c.Server.FrontendURL, "FRONTEND_BASE")
	setBool(&c.Server.TrustProxy, "TRUST_PROXY")
	setInt(&c.Server.RateLimit, "RATE_LIMIT")
	setInt(&c.Server.RateBurst, "RATE_BURST")
	setString(&c.Server.TLSCertFile, "TLS_CERT_FILE")
	setString(&c.Server.TLSKeyFile, "TLS_KEY_FILE")

	setDuration(&c.Session.Timeout, "SESSION_TIMEOUT")
	setDuration(&c.Session.GCInterval, "SESSION_GC_INTERVAL")
	setDuration(&c.Session.ReplayWindow, "WEBHOOK_REPLAY_WINDOW")

	setString(&c.Store.Type, "STORE_TYPE")
	setString(&c.Store.Redis.Addr, "REDIS_ADDR")
	setString(&c.Store.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Store.Redis.DB, "REDIS_DB")
	setString(&c.Store.Redis.Prefix, "REDIS_KEY_PREFIX")

	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Log.File, "LOG_FILE")

	setBool(&c.Metrics.Enabled, "METRICS_ENABLED")
	setString(&c.Metrics.Addr, "METRICS_ADDR")
}

// ApplyDefaults sets default values for optional fields.
func (c *Config) ApplyDefaults() {
	if c.Twitch.Scopes == "" {
		c.Twitch.Scopes = DefaultScopes
	}
	if len(c.Twitch.EventTypes) == 0 {
		c.Twitch.EventTypes = append([]string(nil), DefaultEventTypes...)
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = DefaultRateLimit
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = DefaultRateBurst
	}
	if c.Session.Timeout == 0 {
		c.Session.Timeout = DefaultSessionTimeout
	}
	if c.Session.GCInterval == 0 {
		c.Session.GCInterval = DefaultGCInterval
	}
	if c.Session.ReplayWindow == 0 {
		c.Session.ReplayWindow = DefaultReplayWindow
	}
	if c.Store.Type == "" {
		c.Store.Type = StoreMemory
	}
	if c.Store.Redis.Prefix == "" {
		c.Store.Redis.Prefix = DefaultRedisPrefix
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
}

// Validate checks that the configuration can run the relay.
func (c *Config) Validate() error {
	if c.Twitch.ClientID == "" {
		return ErrClientIDRequired
	}
	if c.Twitch.ClientSecret == "" {
		return ErrClientSecretRequired
	}
	if c.Server.BaseURL == "" {
		return ErrBaseURLRequired
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.Server.BaseURL)
	}
	if c.Session.Timeout <= 0 {
		return ErrInvalidSessionTimeout
	}
	if c.Session.GCInterval <= 0 {
		return ErrInvalidGCInterval
	}
	switch c.Store.Type {
	case StoreMemory:
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return ErrRedisAddrRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStoreType, c.Store.Type)
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return ErrIncompleteTLS
	}
	if typ, scope, missing := MissingScope(c.Twitch.EventTypes, c.Twitch.Scopes); missing {
		return fmt.Errorf("%w: %s needs %s", ErrMissingScope, typ, scope)
	}
	return nil
}

// CallbackURL is the webhook endpoint handed to Twitch for every subscription.
func (c *Config) CallbackURL() string {
	return c.Server.BaseURL + "/webhook"
}

// RedirectURL is the OAuth redirect URI registered with Twitch.
func (c *Config) RedirectURL() string {
	return c.Server.BaseURL + "/authorize"
}

// SplitList parses a comma-separated string into a slice, trimming whitespace
// from each element and filtering out empty strings.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
