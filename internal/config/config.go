package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
)

const devJWTSecret = "dev-secret-change-in-production"

// Store and mail drivers.
const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"

	MailLog = "log"
	MailSES = "ses"
)

type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	Env       string `env:"ENV" envDefault:"development"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"mysql"`
	DatabaseDSN string `env:"DATABASE_DSN" envDefault:"root:password@tcp(127.0.0.1:3306)/gatekeep?parseTime=true"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"false"`

	JWTSecret string        `env:"JWT_SECRET" envDefault:"dev-secret-change-in-production"`
	JWTExpiry time.Duration `env:"JWT_EXPIRES_IN" envDefault:"1h"`

	ResetTokenTTL        time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`
	ResetPurgeInterval   time.Duration `env:"RESET_PURGE_INTERVAL" envDefault:"0s"`
	PublicBaseURL        string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	ConcealUnknownEmails bool          `env:"CONCEAL_UNKNOWN_EMAILS" envDefault:"false"`

	MailDriver         string  `env:"MAIL_DRIVER" envDefault:"log"`
	MailFrom           string  `env:"MAIL_FROM"`
	AWSRegion          string  `env:"AWS_REGION"`
	AWSAccessKeyID     string  `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string  `env:"AWS_SECRET_ACCESS_KEY"`
	MailRatePerSecond  float64 `env:"MAIL_RATE_PER_SECOND" envDefault:"1"`
	MailBurst          int     `env:"MAIL_BURST" envDefault:"1"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)
	cfg.MailDriver = strings.ToLower(cfg.MailDriver)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsProduction reports whether ENV is production.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment reports whether ENV is development.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Validate checks values that cannot be expressed as struct tags.
func (c Config) Validate() error {
	var errs []error

	if c.IsProduction() && c.JWTSecret == devJWTSecret {
		errs = append(errs, errors.New("JWT_SECRET must be set in production environment"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must not be empty"))
	}
	if c.JWTExpiry <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRES_IN must be positive"))
	}
	if c.ResetTokenTTL <= 0 {
		errs = append(errs, errors.New("RESET_TOKEN_TTL must be positive"))
	}
	if c.ResetPurgeInterval < 0 {
		errs = append(errs, errors.New("RESET_PURGE_INTERVAL must not be negative"))
	}

	if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL %q must be an absolute url", c.PublicBaseURL))
	}

	switch c.StoreDriver {
	case StoreMySQL:
		if c.DatabaseDSN == "" {
			errs = append(errs, errors.New("DATABASE_DSN is required for the mysql store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.MailDriver {
	case MailLog:
	case MailSES:
		if c.MailFrom == "" {
			errs = append(errs, errors.New("MAIL_FROM is required for the ses mail driver"))
		}
		if c.AWSRegion == "" {
			errs = append(errs, errors.New("AWS_REGION is required for the ses mail driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MAIL_DRIVER %q", c.MailDriver))
	}

	if c.MailRatePerSecond <= 0 {
		errs = append(errs, errors.New("MAIL_RATE_PER_SECOND must be positive"))
	}
	if c.MailBurst < 1 {
		errs = append(errs, errors.New("MAIL_BURST must be at least 1"))
	}

	return errors.Join(errs...)
}
