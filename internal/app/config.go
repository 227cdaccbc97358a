package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Ledger store backends.
const (
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (POS_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (POS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Idempotency IdempotencyConfig
	Events      EventsConfig
	Payments    PaymentsConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// IdempotencyConfig selects and tunes the idempotency ledger.
type IdempotencyConfig struct {
	Backend        string        `default:"postgres" usage:"Ledger store: postgres or dynamodb" flag:"idempotency-backend"`
	AbandonAfter   time.Duration `default:"2m" usage:"Age after which an unlinked reservation may be reclaimed (0 disables)"`
	BloomCapacity  uint          `default:"100000" usage:"Expected keys in the in-process seen filter (0 disables)"`
	BloomFPR       float64       `default:"0.01" usage:"False positive rate of the seen filter"`
	DynamoTable    string        `default:"pos-idempotency" usage:"DynamoDB table for the dynamodb backend"`
	AWSRegion      string        `default:"us-east-1" usage:"AWS region for the dynamodb backend"`
	DynamoEndpoint string        `usage:"DynamoDB endpoint override, e.g. http://localhost:8000"`
	Retention      time.Duration `default:"720h" usage:"How long linked keys are kept"`
}

// EventsConfig controls order event publishing.
type EventsConfig struct {
	NATSURL string `usage:"NATS server URL; events are dropped when empty (POS_EVENTS_NATSURL or NATS_URL)" flag:"nats-url"`
	Prefix  string `default:"pos.orders" usage:"Subject prefix for order events"`
}

// PaymentsConfig configures the payment gateway integration.
type PaymentsConfig struct {
	WebhookSecret string `usage:"Shared secret expected in the webhook ?secret= parameter" flag:"webhook-secret"`
}

// AuthConfig controls staff API key authentication.
type AuthConfig struct {
	Enabled bool   `default:"false" usage:"Require X-API-Key on staff routes" flag:"auth-enabled"`
	Pepper  string `usage:"HMAC pepper for API key hashing (POS_AUTH_PEPPER)" flag:"api-key-pepper"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"300" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform defaults and validates the result.
func LoadConfig() (*Config, error) {
	return loadConfig(false)
}

func loadConfig(skipFlags bool) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: skipFlags,
		EnvPrefix: "POS",
		Files:     []string{"config.yaml", "/etc/pos/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that
// use standard names (DATABASE_URL, PORT, NATS_URL) onto the configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Events.NATSURL == "" {
		c.Events.NATSURL = os.Getenv("NATS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set POS_DATABASE_URL or DATABASE_URL")
	}
	switch c.Idempotency.Backend {
	case BackendPostgres:
	case BackendDynamoDB:
		if c.Idempotency.DynamoTable == "" {
			return errors.New("dynamodb backend requires a table name")
		}
	default:
		return errors.Errorf("unknown idempotency backend %q", c.Idempotency.Backend)
	}
	if c.Auth.Enabled && c.Auth.Pepper == "" {
		return errors.New("auth enabled without an API key pepper: set POS_AUTH_PEPPER")
	}
	return nil
}
