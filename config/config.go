// Package config loads server configuration from an optional YAML file and
// WATERCAN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
	Auth     AuthConfig     `mapstructure:"auth"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type PricingConfig struct {
	UnitPrice       int64 `mapstructure:"unit_price"`
	StartingBalance int64 `mapstructure:"starting_balance"`
}

// TokenConfig binds a static API token to an identity.
type TokenConfig struct {
	Token   string `mapstructure:"token"`
	Subject string `mapstructure:"subject"`
	Name    string `mapstructure:"name"`
	Email   string `mapstructure:"email"`
	Role    string `mapstructure:"role"`
}

type AuthConfig struct {
	Owners             []string      `mapstructure:"owners"`
	Tokens             []TokenConfig `mapstructure:"tokens"`
	TrustBearerSubject bool          `mapstructure:"trust_bearer_subject"`
	DefaultRole        string        `mapstructure:"default_role"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type AuditConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("database.path", "watercan.db")
	v.SetDefault("pricing.unit_price", 30)
	v.SetDefault("pricing.starting_balance", 1000)
	v.SetDefault("auth.owners", []string{})
	v.SetDefault("auth.trust_bearer_subject", false)
	v.SetDefault("auth.default_role", "customer")
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.interval", time.Hour)
	v.SetDefault("log.development", false)
}

// Load reads configuration. An empty path searches for config.yaml in . and
// ./config and falls back to defaults when none exists; an explicit path
// must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WATERCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// Comma-separated env values arrive as one string.
	cfg.Auth.Owners = splitList(cfg.Auth.Owners)
	cfg.CORS.AllowedOrigins = splitList(cfg.CORS.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail at first use.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Pricing.UnitPrice <= 0 {
		errs = append(errs, fmt.Errorf("pricing.unit_price must be positive, got %d", c.Pricing.UnitPrice))
	}
	if c.Pricing.StartingBalance < 0 {
		errs = append(errs, fmt.Errorf("pricing.starting_balance must not be negative, got %d", c.Pricing.StartingBalance))
	}
	switch c.Auth.DefaultRole {
	case "", "owner", "customer":
	default:
		errs = append(errs, fmt.Errorf("auth.default_role %q must be owner, customer or empty", c.Auth.DefaultRole))
	}
	for i, t := range c.Auth.Tokens {
		if t.Token == "" || t.Subject == "" {
			errs = append(errs, fmt.Errorf("auth.tokens[%d] needs token and subject", i))
		}
	}
	if c.Audit.Enabled && c.Audit.Interval <= 0 {
		errs = append(errs, errors.New("audit.interval must be positive when audit is enabled"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
