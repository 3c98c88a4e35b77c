package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	BackendURL      string        `mapstructure:"BACKEND_URL"`
	APIToken        string        `mapstructure:"API_TOKEN"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	DischargeSource string        `mapstructure:"DISCHARGE_SOURCE"`
	FHIRBaseURL     string        `mapstructure:"FHIR_BASE_URL"`
	FHIRToken       string        `mapstructure:"FHIR_TOKEN"`
	SummaryLimit    int           `mapstructure:"SUMMARY_LIMIT"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	ModelPath       string        `mapstructure:"MODEL_PATH"`
	AuthSigningKey  string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit       string        `mapstructure:"BODY_LIMIT"`
	TesseractPath   string        `mapstructure:"TESSERACT_PATH"`
	CaptureCommand  string        `mapstructure:"CAPTURE_COMMAND"`
	CacheDir        string        `mapstructure:"CACHE_DIR"`
}

const (
	SourceFHIR     = "fhir"
	SourcePostgres = "postgres"
)

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "BACKEND_URL", "API_TOKEN", "REQUEST_TIMEOUT",
	"DISCHARGE_SOURCE", "FHIR_BASE_URL", "FHIR_TOKEN", "SUMMARY_LIMIT",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MODEL_PATH",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "CORS_ORIGINS", "RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST", "BODY_LIMIT", "TESSERACT_PATH", "CAPTURE_COMMAND", "CACHE_DIR",
}

// Load reads ./.env (if present) and the environment.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile reads the given env file (if present) and the environment.
// Environment variables win over the file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "5001")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("DISCHARGE_SOURCE", SourceFHIR)
	v.SetDefault("FHIR_BASE_URL", "https://server.fire.ly")
	v.SetDefault("SUMMARY_LIMIT", 1)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("MODEL_PATH", "model.json")
	v.SetDefault("AUTH_ISSUER", "discharge-predict")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("TESSERACT_PATH", "tesseract")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}
	cfg.DischargeSource = strings.ToLower(strings.TrimSpace(cfg.DischargeSource))

	if cfg.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		cfg.CacheDir = filepath.Join(base, "discharge-predict")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AuthEnabled reports whether the server requires bearer tokens.
func (c *Config) AuthEnabled() bool {
	return c.AuthSigningKey != ""
}

// Validate checks the settings the server needs.
func (c *Config) Validate() error {
	switch c.DischargeSource {
	case SourceFHIR:
		if c.FHIRBaseURL == "" {
			return fmt.Errorf("FHIR_BASE_URL is required when DISCHARGE_SOURCE is %q", SourceFHIR)
		}
	case SourcePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DISCHARGE_SOURCE is %q", SourcePostgres)
		}
	default:
		return fmt.Errorf("DISCHARGE_SOURCE must be %q or %q, got %q", SourceFHIR, SourcePostgres, c.DischargeSource)
	}

	if c.ModelPath == "" {
		return fmt.Errorf("MODEL_PATH is required")
	}
	if c.SummaryLimit < 1 {
		return fmt.Errorf("SUMMARY_LIMIT must be at least 1, got %d", c.SummaryLimit)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.IsProduction() && !c.AuthEnabled() {
		return fmt.Errorf("AUTH_SIGNING_KEY is required in production")
	}
	if c.AuthEnabled() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}
	return nil
}
