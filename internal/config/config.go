// Package config loads client configuration from a YAML file and
// CLIENTFACTORY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CLIENTFACTORY_HTTP_BASE_URL.
const EnvPrefix = "CLIENTFACTORY"

// Config holds all client configuration
type Config struct {
	App     AppConfig
	Log     LogConfig
	HTTP    HTTPConfig
	Auth    AuthConfig
	Retry   RetryConfig
	Bulk    BulkConfig
	Metrics MetricsConfig
	Tracing TracingConfig
	Catalog CatalogConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string `validate:"oneof=development staging production test"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn warning error"`
	Format string `validate:"oneof=json console"`
	Output string
}

// HTTPConfig configures the default HTTP transport.
type HTTPConfig struct {
	BaseURL       string
	Timeout       time.Duration `validate:"gte=0"`
	TLSSkipVerify bool
	UserAgent     string
	Headers       map[string]string
	// RateLimit is the maximum requests per second; 0 disables limiting.
	RateLimit    float64 `validate:"gte=0"`
	Burst        int     `validate:"gte=0"`
	MaxIdleConns int     `validate:"gte=0"`
}

// AuthConfig selects and configures request authentication.
type AuthConfig struct {
	// Type is one of none, basic, bearer, api_key, oauth2.
	Type     string `validate:"oneof=none basic bearer api_key oauth2"`
	Token    string
	APIKey   string
	Header   string
	Username string
	Password string
	OAuth2   OAuth2Config
}

// OAuth2Config holds client-credentials grant settings.
type OAuth2Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// RetryConfig holds default retry settings for iteration.
type RetryConfig struct {
	MaxRetries int           `validate:"gte=0"`
	Delay      time.Duration `validate:"gte=0"`
	MaxDelay   time.Duration `validate:"gte=0"`
	Multiplier float64       `validate:"gte=1"`
}

// BulkConfig holds default batch execution settings.
type BulkConfig struct {
	PoolSize int           `validate:"gte=1"`
	Delay    time.Duration `validate:"gte=0"`
}

// MetricsConfig controls the Prometheus recorder.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
	Address   string
}

// TracingConfig controls span creation and export. Spans are exported over
// OTLP gRPC when Endpoint is set.
type TracingConfig struct {
	Enabled       bool
	Endpoint      string
	Insecure      bool
	SamplingRatio float64 `validate:"gte=0,lte=1"`
}

// CatalogConfig locates the operation catalog.
type CatalogConfig struct {
	// Path is a YAML catalog or an OpenAPI 3 document.
	Path string
}

// Load loads configuration from the given file, or searches for
// clientfactory.yaml when path is empty.
// Priority (highest to lowest):
// 1. Environment variables with CLIENTFACTORY_ prefix (e.g., CLIENTFACTORY_HTTP_BASE_URL)
// 2. The config file
// 3. Built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("clientfactory")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/clientfactory")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			BaseURL:       v.GetString("http.base_url"),
			Timeout:       v.GetDuration("http.timeout"),
			TLSSkipVerify: v.GetBool("http.tls_skip_verify"),
			UserAgent:     v.GetString("http.user_agent"),
			Headers:       v.GetStringMapString("http.headers"),
			RateLimit:     v.GetFloat64("http.rate_limit"),
			Burst:         v.GetInt("http.burst"),
			MaxIdleConns:  v.GetInt("http.max_idle_conns"),
		},
		Auth: AuthConfig{
			Type:     v.GetString("auth.type"),
			Token:    v.GetString("auth.token"),
			APIKey:   v.GetString("auth.api_key"),
			Header:   v.GetString("auth.header"),
			Username: v.GetString("auth.username"),
			Password: v.GetString("auth.password"),
			OAuth2: OAuth2Config{
				TokenURL:     v.GetString("auth.oauth2.token_url"),
				ClientID:     v.GetString("auth.oauth2.client_id"),
				ClientSecret: v.GetString("auth.oauth2.client_secret"),
				Scopes:       v.GetStringSlice("auth.oauth2.scopes"),
			},
		},
		Retry: RetryConfig{
			MaxRetries: v.GetInt("retry.max_retries"),
			Delay:      v.GetDuration("retry.delay"),
			MaxDelay:   v.GetDuration("retry.max_delay"),
			Multiplier: v.GetFloat64("retry.multiplier"),
		},
		Bulk: BulkConfig{
			PoolSize: v.GetInt("bulk.pool_size"),
			Delay:    v.GetDuration("bulk.delay"),
		},
		Metrics: MetricsConfig{
			Enabled:   v.GetBool("metrics.enabled"),
			Namespace: v.GetString("metrics.namespace"),
			Address:   v.GetString("metrics.address"),
		},
		Tracing: TracingConfig{
			Enabled:       v.GetBool("tracing.enabled"),
			Endpoint:      v.GetString("tracing.endpoint"),
			Insecure:      v.GetBool("tracing.insecure"),
			SamplingRatio: v.GetFloat64("tracing.sampling_ratio"),
		},
		Catalog: CatalogConfig{
			Path: v.GetString("catalog.path"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "clientfactory"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stderr"
	}
	if cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = 30 * time.Second
	}
	if cfg.HTTP.UserAgent == "" {
		cfg.HTTP.UserAgent = "clientfactory/1.0"
	}
	if cfg.HTTP.MaxIdleConns == 0 {
		cfg.HTTP.MaxIdleConns = 100
	}
	if cfg.Auth.Type == "" {
		cfg.Auth.Type = "none"
	}
	if cfg.Retry.Delay == 0 {
		cfg.Retry.Delay = time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2.0
	}
	if cfg.Bulk.PoolSize == 0 {
		cfg.Bulk.PoolSize = 10
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "clientfactory"
	}
	if cfg.Tracing.SamplingRatio == 0 {
		cfg.Tracing.SamplingRatio = 1.0
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = ":9090"
	}
}

var structValidator = validator.New()

func (c *Config) validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.HTTP.BaseURL != "" {
		u, err := url.Parse(c.HTTP.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("http.base_url must be an absolute URL, got %q", c.HTTP.BaseURL)
		}
	}
	if c.Retry.MaxDelay < c.Retry.Delay {
		return fmt.Errorf("retry.max_delay (%s) cannot be less than retry.delay (%s)", c.Retry.MaxDelay, c.Retry.Delay)
	}

	switch c.Auth.Type {
	case "basic":
		if c.Auth.Username == "" {
			return fmt.Errorf("auth.username is required for basic auth")
		}
	case "bearer":
		if c.Auth.Token == "" {
			return fmt.Errorf("auth.token is required for bearer auth")
		}
	case "api_key":
		if c.Auth.APIKey == "" {
			return fmt.Errorf("auth.api_key is required for api_key auth")
		}
	case "oauth2":
		if c.Auth.OAuth2.TokenURL == "" || c.Auth.OAuth2.ClientID == "" {
			return fmt.Errorf("auth.oauth2.token_url and auth.oauth2.client_id are required for oauth2 auth")
		}
	}

	if c.App.Env == "production" && c.HTTP.TLSSkipVerify {
		return fmt.Errorf("http.tls_skip_verify must be false in production")
	}
	return nil
}
