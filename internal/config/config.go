package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported values for STORE_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	StoreBackend   string        `mapstructure:"STORE_BACKEND"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	MongoURI       string        `mapstructure:"MONGO_URI"`
	MongoDatabase  string        `mapstructure:"MONGO_DATABASE"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	// Instant care
	MatchTimeout  time.Duration `mapstructure:"MATCH_TIMEOUT"`
	SweepInterval time.Duration `mapstructure:"SWEEP_INTERVAL"`

	// External collaborators
	GeminiAPIKey              string `mapstructure:"GEMINI_API_KEY"`
	GeminiModel               string `mapstructure:"GEMINI_MODEL"`
	GeminiBaseURL             string `mapstructure:"GEMINI_BASE_URL"`
	GoogleCalendarCredentials string `mapstructure:"GOOGLE_CALENDAR_CREDENTIALS"`
	GoogleCalendarID          string `mapstructure:"GOOGLE_CALENDAR_ID"`
	MeetingFallbackBaseURL    string `mapstructure:"MEETING_FALLBACK_BASE_URL"`

	// Event stream and emergency dispatch
	KafkaBrokers             []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic               string   `mapstructure:"KAFKA_TOPIC"`
	EmergencySQSQueue        string   `mapstructure:"EMERGENCY_SQS_QUEUE"`
	EmergencyFallbackContact string   `mapstructure:"EMERGENCY_FALLBACK_CONTACT"`
}

var envKeys = []string{
	"PORT", "ENV", "STORE_BACKEND", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"MONGO_URI", "MONGO_DATABASE",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"MATCH_TIMEOUT", "SWEEP_INTERVAL",
	"GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_BASE_URL",
	"GOOGLE_CALENDAR_CREDENTIALS", "GOOGLE_CALENDAR_ID", "MEETING_FALLBACK_BASE_URL",
	"KAFKA_BROKERS", "KAFKA_TOPIC", "EMERGENCY_SQS_QUEUE", "EMERGENCY_FALLBACK_CONTACT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_BACKEND", BackendPostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MONGO_DATABASE", "aarogyadb")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("MATCH_TIMEOUT", "60s")
	v.SetDefault("SWEEP_INTERVAL", "5s")
	v.SetDefault("GEMINI_MODEL", "gemini-2.5-flash")
	v.SetDefault("GOOGLE_CALENDAR_ID", "primary")
	v.SetDefault("MEETING_FALLBACK_BASE_URL", "https://meet.jit.si")
	v.SetDefault("KAFKA_TOPIC", "instant-care-events")
	v.SetDefault("EMERGENCY_FALLBACK_CONTACT", "108 (Ambulance)")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	switch cfg.StoreBackend {
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is %q", BackendPostgres)
		}
	case BackendMongo:
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("MONGO_URI is required when STORE_BACKEND is %q", BackendMongo)
		}
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: identity is taken from X-User-ID / X-User-Role headers.")
	}

	return cfg, nil
}

// splitList normalizes comma-separated env values into trimmed, non-empty
// entries regardless of whether viper already split them.
func splitList(parsed []string, raw string) []string {
	if len(parsed) == 0 && raw != "" {
		parsed = []string{raw}
	}
	var out []string
	for _, item := range parsed {
		for _, p := range strings.Split(item, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
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

// Validate checks that the configuration is safe to run. Outside development
// either AUTH_ISSUER (JWKS validation) or AUTH_SIGNING_KEY (HS256) must be set.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendPostgres, BackendMongo, BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q, %q, or %q, got %q",
			BackendPostgres, BackendMongo, BackendMemory, c.StoreBackend)
	}
	if c.StoreBackend == BackendMemory && c.IsProduction() {
		return fmt.Errorf("STORE_BACKEND=%q is not allowed in production", BackendMemory)
	}
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.MatchTimeout <= 0 {
		return fmt.Errorf("MATCH_TIMEOUT must be positive, got %s", c.MatchTimeout)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	return nil
}
