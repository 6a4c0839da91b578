// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Session store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// MaxAccessTTL caps JWT_ACCESS_TTL. Access tokens are not revocable without the store check.
const MaxAccessTTL = time.Hour

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the public HTTP API listen address.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the gRPC health listen address.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN; required when SessionStore is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// SessionStore is "postgres" or "memory".
	SessionStore string `mapstructure:"SESSION_STORE"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file. Derived from the private key when empty.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m"); at most one hour.
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// RefreshTTLRaw is the lifetime of each session link (e.g. "168h").
	RefreshTTLRaw string `mapstructure:"REFRESH_TTL"`
	// ReplayRevokeScope is "chain" or "user".
	ReplayRevokeScope string `mapstructure:"REPLAY_REVOKE_SCOPE"`
	// AccessRevocationCheck makes bearer authentication consult the session store.
	AccessRevocationCheck bool `mapstructure:"ACCESS_REVOCATION_CHECK"`

	// CORSAllowedOrigins is a comma-separated allow-list of browser origins.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	// RedisAddr enables rate limiting when set.
	RedisAddr              string `mapstructure:"REDIS_ADDR"`
	RateLimitLoginPerMin   int    `mapstructure:"RATE_LIMIT_LOGIN_PER_MIN"`
	RateLimitRefreshPerMin int    `mapstructure:"RATE_LIMIT_REFRESH_PER_MIN"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	// Security events are exported to Kafka only when set.
	KafkaBrokers        string `mapstructure:"KAFKA_BROKERS"`
	SecurityEventsTopic string `mapstructure:"SECURITY_EVENTS_TOPIC"`

	// OTLPEndpoint is the OTLP gRPC collector; telemetry export is off when empty.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// AdminPolicyFile optionally overrides the built-in Rego admin policy.
	AdminPolicyFile string `mapstructure:"ADMIN_POLICY_FILE"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":8081")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SESSION_STORE", StorePostgres)
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "sessionauth")
	v.SetDefault("JWT_AUDIENCE", "sessionauth-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("REFRESH_TTL", "168h") // 7d
	v.SetDefault("REPLAY_REVOKE_SCOPE", "chain")
	v.SetDefault("ACCESS_REVOCATION_CHECK", false)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("RATE_LIMIT_LOGIN_PER_MIN", 10)
	v.SetDefault("RATE_LIMIT_REFRESH_PER_MIN", 30)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SECURITY_EVENTS_TOPIC", "sessionauth-security-events")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("ADMIN_POLICY_FILE", "")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDatabaseURL reads only DATABASE_URL, from .env and the environment. Used by tools
// (migrate, seed) that do not need signing keys.
func LoadDatabaseURL() (string, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	v.AutomaticEnv()
	dsn := strings.TrimSpace(v.GetString("DATABASE_URL"))
	if dsn == "" {
		return "", errors.New("config: DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	return dsn, nil
}

// WorkerConfig configures the security event worker.
type WorkerConfig struct {
	KafkaBrokers        string `mapstructure:"KAFKA_BROKERS"`
	SecurityEventsTopic string `mapstructure:"SECURITY_EVENTS_TOPIC"`
	KafkaGroupID        string `mapstructure:"KAFKA_GROUP_ID"`
	OTLPEndpoint        string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure        bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

// LoadWorker reads the worker configuration. KAFKA_BROKERS is required.
func LoadWorker() (*WorkerConfig, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()
	v.AutomaticEnv()

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SECURITY_EVENTS_TOPIC", "sessionauth-security-events")
	v.SetDefault("KAFKA_GROUP_ID", "sessionauth-events-worker")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)

	var cfg WorkerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if len(cfg.Brokers()) == 0 {
		return nil, errors.New("config: KAFKA_BROKERS is required for the worker")
	}
	return &cfg, nil
}

// Brokers returns the configured Kafka broker addresses.
func (c *WorkerConfig) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

// Validate checks cross-field constraints. Errors are prefixed "config:".
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	c.SessionStore = strings.ToLower(strings.TrimSpace(c.SessionStore))
	switch c.SessionStore {
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("config: DATABASE_URL must be set when SESSION_STORE=postgres")
		}
	case StoreMemory:
		if c.IsProduction() {
			return errors.New("config: SESSION_STORE=memory must not be used when APP_ENV=production")
		}
	default:
		return fmt.Errorf("config: SESSION_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.SessionStore)
	}
	if strings.TrimSpace(c.JWTPrivateKey) == "" {
		return errors.New("config: JWT_PRIVATE_KEY must be set")
	}
	if c.JWTIssuer == "" || c.JWTAudience == "" {
		return errors.New("config: JWT_ISSUER and JWT_AUDIENCE must be set")
	}
	access, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || access <= 0 {
		return fmt.Errorf("config: JWT_ACCESS_TTL %q is not a positive duration", c.JWTAccessTTL)
	}
	if access > MaxAccessTTL {
		return fmt.Errorf("config: JWT_ACCESS_TTL must be at most %s", MaxAccessTTL)
	}
	refresh, err := time.ParseDuration(c.RefreshTTLRaw)
	if err != nil || refresh <= 0 {
		return fmt.Errorf("config: REFRESH_TTL %q is not a positive duration", c.RefreshTTLRaw)
	}
	if refresh <= access {
		return errors.New("config: REFRESH_TTL must be longer than JWT_ACCESS_TTL")
	}
	switch strings.ToLower(strings.TrimSpace(c.ReplayRevokeScope)) {
	case "", "chain", "user":
	default:
		return fmt.Errorf("config: REPLAY_REVOKE_SCOPE must be chain or user, got %q", c.ReplayRevokeScope)
	}
	for _, o := range c.CORSOrigins() {
		if !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			return fmt.Errorf("config: CORS origin %q must start with http:// or https://", o)
		}
	}
	if c.RateLimitLoginPerMin < 0 || c.RateLimitRefreshPerMin < 0 {
		return errors.New("config: rate limits must not be negative")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// RefreshTTL parses RefreshTTLRaw as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.RefreshTTLRaw)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables Kafka export.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// CORSOrigins returns the allowed CORS origins.
func (c *Config) CORSOrigins() []string {
	if c == nil {
		return nil
	}
	return splitList(c.CORSAllowedOrigins)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
