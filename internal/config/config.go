package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	nkhttp "github.com/multibar/networkkit/internal/http"
	"github.com/multibar/networkkit/internal/progress"
)

// Config defines configuration for the networkkit CLI.
type Config struct {
	Client     string        `yaml:"client"`
	Languages  []string      `yaml:"languages"`
	Background string        `yaml:"background"`
	Progress   bool          `yaml:"progress"`
	Store      StoreConfig   `yaml:"store"`
	HTTP       HTTPConfig    `yaml:"http"`
	Retry      RetryConfig   `yaml:"retry"`
	Auth       AuthConfig    `yaml:"auth"`
	APIKey     APIKeyConfig  `yaml:"api_key"`
	Inspect    InspectConfig `yaml:"inspect"`
}

// StoreConfig defines where finished downloads go.
type StoreConfig struct {
	URL     string `yaml:"url"`
	Prefix  string `yaml:"prefix"`
	Staging string `yaml:"staging"`
}

// HTTPConfig defines transport session behavior.
type HTTPConfig struct {
	Timeout             time.Duration `yaml:"timeout"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	BufferSize          int64         `yaml:"buffer_size"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// AuthConfig defines the bearer token signer. Tokens are only sent when a
// secret is set.
type AuthConfig struct {
	Secret  string        `yaml:"secret"`
	Issuer  string        `yaml:"issuer"`
	Subject string        `yaml:"subject"`
	TTL     time.Duration `yaml:"ttl"`
}

// APIKeyConfig defines the API key header sent with every request.
type APIKeyConfig struct {
	Header string `yaml:"header"`
	Value  string `yaml:"value"`
}

// InspectConfig defines the inspector server.
type InspectConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Client:     "networkkit/1.0",
		Languages:  []string{"en"},
		Background: "networkkit.background",
		Store: StoreConfig{
			URL:    "mem://",
			Prefix: "downloads",
		},
		HTTP: HTTPConfig{
			Timeout:             30 * time.Second,
			MaxIdleConnsPerHost: 8,
			BufferSize:          32 * 1024, // 32KB
		},
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    500 * time.Millisecond,
			MaxBackoff: 10 * time.Second,
		},
		Auth: AuthConfig{
			Issuer: "networkkit",
			TTL:    15 * time.Minute,
		},
		APIKey: APIKeyConfig{
			Header: "X-API-Key",
		},
		Inspect: InspectConfig{
			Addr: ":8080",
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	Client     string          `yaml:"client"`
	Languages  []string        `yaml:"languages"`
	Background string          `yaml:"background"`
	Progress   bool            `yaml:"progress"`
	Store      StoreConfig     `yaml:"store"`
	HTTP       yamlHTTPConfig  `yaml:"http"`
	Retry      yamlRetryConfig `yaml:"retry"`
	Auth       yamlAuthConfig  `yaml:"auth"`
	APIKey     APIKeyConfig    `yaml:"api_key"`
	Inspect    InspectConfig   `yaml:"inspect"`
}

type yamlHTTPConfig struct {
	Timeout             string `yaml:"timeout"`
	MaxIdleConnsPerHost int    `yaml:"max_idle_conns_per_host"`
	BufferSize          string `yaml:"buffer_size"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

type yamlAuthConfig struct {
	Secret  string `yaml:"secret"`
	Issuer  string `yaml:"issuer"`
	Subject string `yaml:"subject"`
	TTL     string `yaml:"ttl"`
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	override := Config{
		Client:     yc.Client,
		Languages:  yc.Languages,
		Background: yc.Background,
		Progress:   yc.Progress,
		Store:      yc.Store,
		APIKey:     yc.APIKey,
		Inspect:    yc.Inspect,
		Auth: AuthConfig{
			Secret:  yc.Auth.Secret,
			Issuer:  yc.Auth.Issuer,
			Subject: yc.Auth.Subject,
		},
		HTTP:  HTTPConfig{MaxIdleConnsPerHost: yc.HTTP.MaxIdleConnsPerHost},
		Retry: RetryConfig{Attempts: yc.Retry.Attempts},
	}

	if yc.HTTP.BufferSize != "" {
		size, err := progress.ParseBytes(yc.HTTP.BufferSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse http.buffer_size: %w", err)
		}
		override.HTTP.BufferSize = size
	}
	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"http.timeout", yc.HTTP.Timeout, &override.HTTP.Timeout},
		{"retry.backoff", yc.Retry.Backoff, &override.Retry.Backoff},
		{"retry.max_backoff", yc.Retry.MaxBackoff, &override.Retry.MaxBackoff},
		{"auth.ttl", yc.Auth.TTL, &override.Auth.TTL},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}

	return cfg.Merge(override), nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the NETWORKKIT_ prefix.
func (c *Config) LoadFromEnv() error {
	strs := map[string]*string{
		"NETWORKKIT_CLIENT":         &c.Client,
		"NETWORKKIT_BACKGROUND":     &c.Background,
		"NETWORKKIT_STORE_URL":      &c.Store.URL,
		"NETWORKKIT_STORE_PREFIX":   &c.Store.Prefix,
		"NETWORKKIT_STAGING":        &c.Store.Staging,
		"NETWORKKIT_AUTH_SECRET":    &c.Auth.Secret,
		"NETWORKKIT_AUTH_ISSUER":    &c.Auth.Issuer,
		"NETWORKKIT_AUTH_SUBJECT":   &c.Auth.Subject,
		"NETWORKKIT_API_KEY_HEADER": &c.APIKey.Header,
		"NETWORKKIT_API_KEY":        &c.APIKey.Value,
		"NETWORKKIT_INSPECT_ADDR":   &c.Inspect.Addr,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("NETWORKKIT_LANGUAGES"); v != "" {
		c.Languages = c.Languages[:0]
		for _, lang := range strings.Split(v, ",") {
			if lang = strings.TrimSpace(lang); lang != "" {
				c.Languages = append(c.Languages, lang)
			}
		}
	}
	if v := os.Getenv("NETWORKKIT_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}

	ints := map[string]*int{
		"NETWORKKIT_MAX_IDLE_CONNS":  &c.HTTP.MaxIdleConnsPerHost,
		"NETWORKKIT_RETRY_ATTEMPTS": &c.Retry.Attempts,
	}
	for name, dst := range ints {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", name, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("NETWORKKIT_BUFFER_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse NETWORKKIT_BUFFER_SIZE: %w", err)
		}
		c.HTTP.BufferSize = size
	}

	durations := map[string]*time.Duration{
		"NETWORKKIT_TIMEOUT":           &c.HTTP.Timeout,
		"NETWORKKIT_RETRY_BACKOFF":     &c.Retry.Backoff,
		"NETWORKKIT_RETRY_MAX_BACKOFF": &c.Retry.MaxBackoff,
		"NETWORKKIT_AUTH_TTL":          &c.Auth.TTL,
	}
	for name, dst := range durations {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", name, err)
			}
			*dst = d
		}
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Client == "" {
		return errors.New("config: client is required")
	}
	if c.Background == "" {
		return errors.New("config: background identifier is required")
	}
	if c.Store.URL == "" {
		return errors.New("config: store url is required")
	}
	if c.HTTP.Timeout <= 0 {
		return errors.New("config: http timeout must be positive")
	}
	if c.HTTP.BufferSize <= 0 {
		return errors.New("config: buffer_size must be positive")
	}
	if c.Retry.Attempts < 0 {
		return errors.New("config: retry attempts must not be negative")
	}
	if c.Retry.MaxBackoff < c.Retry.Backoff {
		return errors.New("config: retry max_backoff must not be below backoff")
	}
	if c.Auth.Secret != "" && c.Auth.TTL <= 0 {
		return errors.New("config: auth ttl must be positive")
	}
	if c.APIKey.Value != "" && c.APIKey.Header == "" {
		return errors.New("config: api key header is required with an api key")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.Client != "" {
		c.Client = override.Client
	}
	if len(override.Languages) > 0 {
		c.Languages = override.Languages
	}
	if override.Background != "" {
		c.Background = override.Background
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.Store.URL != "" {
		c.Store.URL = override.Store.URL
	}
	if override.Store.Prefix != "" {
		c.Store.Prefix = override.Store.Prefix
	}
	if override.Store.Staging != "" {
		c.Store.Staging = override.Store.Staging
	}
	if override.HTTP.Timeout != 0 {
		c.HTTP.Timeout = override.HTTP.Timeout
	}
	if override.HTTP.MaxIdleConnsPerHost != 0 {
		c.HTTP.MaxIdleConnsPerHost = override.HTTP.MaxIdleConnsPerHost
	}
	if override.HTTP.BufferSize != 0 {
		c.HTTP.BufferSize = override.HTTP.BufferSize
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	if override.Auth.Secret != "" {
		c.Auth.Secret = override.Auth.Secret
	}
	if override.Auth.Issuer != "" {
		c.Auth.Issuer = override.Auth.Issuer
	}
	if override.Auth.Subject != "" {
		c.Auth.Subject = override.Auth.Subject
	}
	if override.Auth.TTL != 0 {
		c.Auth.TTL = override.Auth.TTL
	}
	if override.APIKey.Header != "" {
		c.APIKey.Header = override.APIKey.Header
	}
	if override.APIKey.Value != "" {
		c.APIKey.Value = override.APIKey.Value
	}
	if override.Inspect.Addr != "" {
		c.Inspect.Addr = override.Inspect.Addr
	}
	return c
}

// HTTPOptions returns the transport session options described by c.
func (c Config) HTTPOptions() nkhttp.Options {
	opts := nkhttp.DefaultOptions()
	opts.Identifier = c.Background
	opts.Client = c.Client
	opts.Languages = append([]string(nil), c.Languages...)
	opts.Timeout = c.HTTP.Timeout
	opts.MaxIdleConnsPerHost = c.HTTP.MaxIdleConnsPerHost
	opts.BufferSize = int(c.HTTP.BufferSize)
	opts.RetryAttempts = c.Retry.Attempts
	opts.RetryBackoff = c.Retry.Backoff
	opts.RetryMaxBackoff = c.Retry.MaxBackoff
	return opts
}
