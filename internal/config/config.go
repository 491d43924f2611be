package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	StoreDriver   string   `mapstructure:"STORE_DRIVER"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	DBSchema      string   `mapstructure:"DB_SCHEMA"`
	MigrationsDir string   `mapstructure:"MIGRATIONS_DIR"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`
	AuthIssuer    string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience  string   `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL   string   `mapstructure:"AUTH_JWKS_URL"`
	AuthJWTSecret string   `mapstructure:"AUTH_JWT_SECRET"`
	DefaultClinic string   `mapstructure:"DEFAULT_CLINIC"`
	ClinicTZ      string   `mapstructure:"CLINIC_TIMEZONE"`
	RulesFile     string   `mapstructure:"RULES_FILE"`

	TextgenURL      string        `mapstructure:"TEXTGEN_URL"`
	TextgenAPIKey   string        `mapstructure:"TEXTGEN_API_KEY"`
	TextgenModel    string        `mapstructure:"TEXTGEN_MODEL"`
	TextgenTimeout  time.Duration `mapstructure:"TEXTGEN_TIMEOUT"`
	TextgenFallback bool          `mapstructure:"TEXTGEN_FALLBACK"`
	SpeechURL       string        `mapstructure:"SPEECH_URL"`
	SpeechAPIKey    string        `mapstructure:"SPEECH_API_KEY"`

	PipelineWorkers    int           `mapstructure:"PIPELINE_WORKERS"`
	PipelineQueueSize  int           `mapstructure:"PIPELINE_QUEUE_SIZE"`
	PipelineJobTimeout time.Duration `mapstructure:"PIPELINE_JOB_TIMEOUT"`
	ReminderInterval   time.Duration `mapstructure:"REMINDER_INTERVAL"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit          string        `mapstructure:"BODY_LIMIT"`
	UploadLimit        string        `mapstructure:"UPLOAD_LIMIT"`
}

var keys = []string{
	"PORT", "ENV", "STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DB_SCHEMA", "MIGRATIONS_DIR", "CORS_ORIGINS", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"AUTH_JWKS_URL", "AUTH_JWT_SECRET", "DEFAULT_CLINIC", "CLINIC_TIMEZONE", "RULES_FILE",
	"TEXTGEN_URL", "TEXTGEN_API_KEY", "TEXTGEN_MODEL", "TEXTGEN_TIMEOUT", "TEXTGEN_FALLBACK",
	"SPEECH_URL", "SPEECH_API_KEY", "PIPELINE_WORKERS", "PIPELINE_QUEUE_SIZE",
	"PIPELINE_JOB_TIMEOUT", "REMINDER_INTERVAL", "REQUEST_TIMEOUT", "BODY_LIMIT", "UPLOAD_LIMIT",
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", DriverMemory)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("DEFAULT_CLINIC", "demo-clinic")
	v.SetDefault("CLINIC_TIMEZONE", "UTC")
	v.SetDefault("TEXTGEN_MODEL", "gpt-4o-mini")
	v.SetDefault("TEXTGEN_TIMEOUT", "30s")
	v.SetDefault("TEXTGEN_FALLBACK", true)
	v.SetDefault("PIPELINE_WORKERS", 4)
	v.SetDefault("PIPELINE_QUEUE_SIZE", 64)
	v.SetDefault("PIPELINE_JOB_TIMEOUT", "0s")
	v.SetDefault("REMINDER_INTERVAL", "1m")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("UPLOAD_LIMIT", "50M")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesPostgres reports whether the relational store backs the repositories.
func (c *Config) UsesPostgres() bool {
	return c.StoreDriver == DriverPostgres
}

// Location returns the clinic's time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.ClinicTZ == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.ClinicTZ)
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverMemory, DriverPostgres, c.StoreDriver)
	}

	if !c.IsDev() && c.AuthJWTSecret == "" && c.AuthIssuer == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf(
			"AUTH_JWT_SECRET or AUTH_ISSUER must be set outside development (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTZ, err)
	}
	if c.DefaultClinic == "" {
		return fmt.Errorf("DEFAULT_CLINIC must not be empty")
	}
	if c.PipelineWorkers <= 0 || c.PipelineQueueSize <= 0 {
		return fmt.Errorf("PIPELINE_WORKERS and PIPELINE_QUEUE_SIZE must be positive")
	}
	if c.ReminderInterval <= 0 {
		return fmt.Errorf("REMINDER_INTERVAL must be positive")
	}
	return nil
}
