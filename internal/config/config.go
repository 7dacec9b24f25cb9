package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Stripe    StripeConfig    `yaml:"stripe"`
	Auth      AuthConfig      `yaml:"auth"`
	Fees      FeeConfig       `yaml:"fees"`
	Drafts    DraftConfig     `yaml:"drafts"`
	Cache     CacheConfig     `yaml:"cache"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// StripeConfig holds the provider endpoints; the secret and webhook
// signing keys come from the environment only.
type StripeConfig struct {
	BaseURL       string `yaml:"base_url"`
	SuccessURL    string `yaml:"success_url"`
	CancelURL     string `yaml:"cancel_url"`
	SecretKey     string `yaml:"-"`
	WebhookSecret string `yaml:"-"`
}

type AuthConfig struct {
	// JWTSecret verifies tokens minted by the identity provider.
	JWTSecret string `yaml:"-"`
}

type FeeConfig struct {
	// Percent is the platform fee in percent, e.g. "10" or "7.5".
	Percent    string `yaml:"percent"`
	FixedCents int64  `yaml:"fixed_cents"`
}

type DraftConfig struct {
	TTLMinutes int `yaml:"ttl_minutes"`
	MaxBytes   int `yaml:"max_bytes"`
}

type CacheConfig struct {
	VenueTTLSeconds int `yaml:"venue_ttl_seconds"`
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	cfg.Stripe.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.Stripe.WebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.Drafts.TTLMinutes <= 0 {
		cfg.Drafts.TTLMinutes = 60 * 24
	}
	if cfg.Drafts.MaxBytes <= 0 {
		cfg.Drafts.MaxBytes = 64 << 10
	}
	if cfg.Cache.VenueTTLSeconds <= 0 {
		cfg.Cache.VenueTTLSeconds = 60
	}
	return &cfg, nil
}
