package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	AuthModeDevelopment = "development"
	AuthModeExternal    = "external"
	AuthModeSecret      = "secret"

	MessageSourcePoll = "poll"
	MessageSourcePush = "push"
)

type Config struct {
	// Server
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	TLSEnabled     bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile    string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile     string        `mapstructure:"TLS_KEY_FILE"`

	// Storage; an empty DATABASE_URL selects the in-memory stores.
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	DBMaxConnLifetime time.Duration `mapstructure:"DB_MAX_CONN_LIFETIME"`

	// Auth
	AuthMode       string `mapstructure:"AUTH_MODE"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	// Triage and hospital lookup
	EmergencyThreshold    int           `mapstructure:"EMERGENCY_THRESHOLD"`
	AssumedSpeedKmh       float64       `mapstructure:"ASSUMED_SPEED_KMH"`
	DefaultCity           string        `mapstructure:"DEFAULT_CITY"`
	GeoTimeout            time.Duration `mapstructure:"GEO_TIMEOUT"`
	HospitalDirectoryFile string        `mapstructure:"HOSPITAL_DIRECTORY_FILE"`
	EmergencyNumber       string        `mapstructure:"EMERGENCY_NUMBER"`

	// Client side (queue watcher, chat)
	BackendURL        string        `mapstructure:"BACKEND_URL"`
	WSURL             string        `mapstructure:"WS_URL"`
	AuthToken         string        `mapstructure:"AUTH_TOKEN"`
	QueuePollInterval time.Duration `mapstructure:"QUEUE_POLL_INTERVAL"`
	ChatPollInterval  time.Duration `mapstructure:"CHAT_POLL_INTERVAL"`
	MessageSource     string        `mapstructure:"MESSAGE_SOURCE"`

	// Outbound dispatch webhooks for emergency lifecycle events
	DispatchWebhookURLs   []string `mapstructure:"DISPATCH_WEBHOOK_URLS"`
	DispatchWebhookSecret string   `mapstructure:"DISPATCH_WEBHOOK_SECRET"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT", "BODY_LIMIT", "TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_MAX_CONN_LIFETIME",
	"AUTH_MODE", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"EMERGENCY_THRESHOLD", "ASSUMED_SPEED_KMH", "DEFAULT_CITY", "GEO_TIMEOUT",
	"HOSPITAL_DIRECTORY_FILE", "EMERGENCY_NUMBER",
	"BACKEND_URL", "WS_URL", "AUTH_TOKEN", "QUEUE_POLL_INTERVAL", "CHAT_POLL_INTERVAL",
	"MESSAGE_SOURCE", "DISPATCH_WEBHOOK_URLS", "DISPATCH_WEBHOOK_SECRET",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "64K")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_MAX_CONN_LIFETIME", "1h")
	v.SetDefault("AUTH_MODE", "") // inferred, see ResolvedAuthMode
	v.SetDefault("EMERGENCY_THRESHOLD", 70)
	v.SetDefault("ASSUMED_SPEED_KMH", 40)
	v.SetDefault("DEFAULT_CITY", "Jaipur")
	v.SetDefault("GEO_TIMEOUT", "10s")
	v.SetDefault("EMERGENCY_NUMBER", "112")
	v.SetDefault("BACKEND_URL", "http://localhost:8000/api")
	v.SetDefault("WS_URL", "ws://localhost:8000/ws/chat")
	v.SetDefault("QUEUE_POLL_INTERVAL", "5s")
	v.SetDefault("CHAT_POLL_INTERVAL", "3s")
	v.SetDefault("MESSAGE_SOURCE", MessageSourcePoll)

	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.DispatchWebhookURLs = splitList(cfg.DispatchWebhookURLs)
	cfg.MessageSource = strings.ToLower(strings.TrimSpace(cfg.MessageSource))

	return cfg, nil
}

// splitList expands a single comma-separated env value and drops blanks.
func splitList(in []string) []string {
	if len(in) == 1 && strings.Contains(in[0], ",") {
		in = strings.Split(in[0], ",")
	}
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// InMemory reports whether the server runs without Postgres.
func (c *Config) InMemory() bool {
	return c.DatabaseURL == ""
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise:
//   - ENV=development    → "development" (unverified tokens, admin default)
//   - AUTH_SIGNING_KEY   → "secret" (HS256)
//   - anything else      → "external" (RS256 via JWKS / OIDC discovery)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	if c.AuthSigningKey != "" {
		return AuthModeSecret
	}
	return AuthModeExternal
}

// Level parses LOG_LEVEL, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case AuthModeDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed in production")
		}
	case AuthModeExternal:
		if c.AuthIssuer == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf(
				"AUTH_ISSUER or AUTH_JWKS_URL must be set when AUTH_MODE is \"external\" (current ENV=%q)", c.Env)
		}
	case AuthModeSecret:
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q, %q, or %q, got %q",
			AuthModeDevelopment, AuthModeExternal, AuthModeSecret, mode)
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	if c.EmergencyThreshold < 0 || c.EmergencyThreshold > 100 {
		return fmt.Errorf("EMERGENCY_THRESHOLD must be within 0..100, got %d", c.EmergencyThreshold)
	}
	if c.AssumedSpeedKmh <= 0 {
		return fmt.Errorf("ASSUMED_SPEED_KMH must be positive")
	}
	if c.QueuePollInterval <= 0 || c.ChatPollInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.MessageSource != MessageSourcePoll && c.MessageSource != MessageSourcePush {
		return fmt.Errorf("MESSAGE_SOURCE must be %q or %q, got %q", MessageSourcePoll, MessageSourcePush, c.MessageSource)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
