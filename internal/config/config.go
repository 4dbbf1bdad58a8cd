package config

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"
)

type Config struct {
	Env           string        `koanf:"env"`
	Addr          string        `koanf:"addr"`
	DatabaseURL   string        `koanf:"database_url"`
	JWTSecret     string        `koanf:"jwt_secret"`
	AccessTTL     time.Duration `koanf:"access_ttl"`
	RefreshTTL    time.Duration `koanf:"refresh_ttl"`
	CORSOrigins   []string      `koanf:"cors_origins"`
	PublicBaseURL string        `koanf:"public_base_url"`
	// Time zone used for streak days and scheduled jobs.
	TimeZone string `koanf:"time_zone"`

	Log       LogConfig       `koanf:"log"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Meili     MeiliConfig     `koanf:"meili"`
	SMTP      SMTPConfig      `koanf:"smtp"`
	Redis     RedisConfig     `koanf:"redis"`
	MinIO     MinIOConfig     `koanf:"minio"`
	Recommend RecommendConfig `koanf:"recommend"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type RateLimitConfig struct {
	Requests     int           `koanf:"requests"`
	Window       time.Duration `koanf:"window"`
	AuthRequests int           `koanf:"auth_requests"`
	Disabled     bool          `koanf:"disabled"`
}

type MeiliConfig struct {
	URL       string `koanf:"url"`
	MasterKey string `koanf:"master_key"`
}

// SMTP is empty by default; email is disabled until Host and From are set.
type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	FromName string `koanf:"from_name"`
}

type RedisConfig struct {
	URL string `koanf:"url"`
}

type MinIOConfig struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	UseSSL    bool   `koanf:"use_ssl"`
}

type RecommendConfig struct {
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

type SchedulerConfig struct {
	Enabled          bool   `koanf:"enabled"`
	ExpireListingsAt string `koanf:"expire_listings_at"`
	ExpiryReminderAt string `koanf:"expiry_reminder_at"`
	ReminderLeadDays int    `koanf:"reminder_lead_days"`
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) SMTPConfigured() bool {
	return c.SMTP.Host != "" && c.SMTP.Port != "" && c.SMTP.From != ""
}

func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database_url is required"))
	}
	if c.JWTSecret == "" || (c.IsProduction() && c.JWTSecret == devJWTSecret) {
		errs = append(errs, errors.New("jwt_secret must be set"))
	}
	if c.AccessTTL <= 0 {
		errs = append(errs, fmt.Errorf("access_ttl must be positive, got %s", c.AccessTTL))
	}
	if c.RefreshTTL <= c.AccessTTL {
		errs = append(errs, errors.New("refresh_ttl must be longer than access_ttl"))
	}
	if !c.RateLimit.Disabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate_limit requests and window must be positive"))
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("time_zone %q: %w", c.TimeZone, err))
	}
	return errors.Join(errs...)
}
