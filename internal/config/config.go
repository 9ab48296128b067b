// Package config holds the blogsync settings read from the environment.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/desurestar/RSOD-project/internal/blogapi"
	"github.com/desurestar/RSOD-project/internal/credential"
	pkgconfig "github.com/desurestar/RSOD-project/pkg/config"
	"github.com/desurestar/RSOD-project/pkg/validator"
)

// Token store kinds.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Config holds all configuration for blogsync.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development" validate:"required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn warning error"`

	// Blog API
	BaseURL string `env:"BLOG_API_BASE_URL" envDefault:"http://localhost:8000/api/" validate:"required,url"`

	// Outbound HTTP
	HTTPTimeout      time.Duration `env:"HTTP_TIMEOUT" envDefault:"15s" validate:"gt=0"`
	HTTPMaxRetries   int           `env:"HTTP_MAX_RETRIES" envDefault:"2" validate:"gte=0,lte=10"`
	HTTPRetryWaitMin time.Duration `env:"HTTP_RETRY_WAIT_MIN" envDefault:"200ms" validate:"gte=0"`
	HTTPRetryWaitMax time.Duration `env:"HTTP_RETRY_WAIT_MAX" envDefault:"2s" validate:"gte=0"`
	RateLimitRPS     float64       `env:"RATE_LIMIT_RPS" envDefault:"10" validate:"gte=0"`
	RateLimitBurst   int           `env:"RATE_LIMIT_BURST" envDefault:"20" validate:"gte=1"`
	BreakerEnabled   bool          `env:"BREAKER_ENABLED" envDefault:"true"`

	// Session
	RefreshTimeout time.Duration `env:"SESSION_REFRESH_TIMEOUT" envDefault:"10s" validate:"gt=0"`
	TokenStore     string        `env:"TOKEN_STORE" envDefault:"file" validate:"oneof=memory file redis"`
	TokenFile      string        `env:"TOKEN_FILE"`

	// Redis token store
	RedisHost      string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort      int    `env:"REDIS_PORT" envDefault:"6379" validate:"min=1,max=65535"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0" validate:"gte=0"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"blogsync"`

	// View models
	FeedPageSize int `env:"FEED_PAGE_SIZE" envDefault:"4" validate:"min=1,max=20"`
	ReplyWindow  int `env:"REPLY_WINDOW" envDefault:"3" validate:"min=1"`

	// Operations endpoint serving /metrics and health; empty disables it.
	MetricsAddr string `env:"METRICS_ADDR"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load blogsync config: %w", err)
	}
	return cfg, cfg.finish()
}

// LoadFrom reads configuration from environ instead of the process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.LoadFrom(cfg, environ); err != nil {
		return nil, fmt.Errorf("load blogsync config: %w", err)
	}
	return cfg, cfg.finish()
}

func (c *Config) finish() error {
	if c.TokenStore == StoreFile && c.TokenFile == "" {
		c.TokenFile = credential.DefaultPath()
	}
	if c.BaseURL == "" {
		c.BaseURL = blogapi.DefaultBaseURL
	}
	return c.Validate()
}

// Validate checks configuration invariants. Callers that override fields
// after loading, such as CLI flags, call it again.
func (c *Config) Validate() error {
	if err := validator.Validate(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid BLOG_API_BASE_URL %q: want an http(s) URL", c.BaseURL)
	}
	if c.HTTPRetryWaitMax < c.HTTPRetryWaitMin {
		return fmt.Errorf("HTTP_RETRY_WAIT_MAX (%s) is below HTTP_RETRY_WAIT_MIN (%s)", c.HTTPRetryWaitMax, c.HTTPRetryWaitMin)
	}
	if c.TokenStore == StoreRedis && c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required when TOKEN_STORE=redis")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// Redis returns the connection settings of the redis token store.
func (c *Config) Redis() credential.RedisConfig {
	return credential.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}
