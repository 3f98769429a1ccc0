package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type serverConfig struct {
	Addr            string        `env:"GOVERIFY_ADDR"             envDefault:":8080"`
	LogLevel        string        `env:"GOVERIFY_LOG_LEVEL"        envDefault:"info"`
	LogFormat       string        `env:"GOVERIFY_LOG_FORMAT"       envDefault:"json"`
	ShutdownTimeout time.Duration `env:"GOVERIFY_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// Backend selects the store: memory, redis or postgres.
	Backend     string `env:"GOVERIFY_BACKEND"      envDefault:"memory"`
	RedisURL    string `env:"GOVERIFY_REDIS_URL"`
	DatabaseURL string `env:"GOVERIFY_DATABASE_URL"`
	AutoMigrate bool   `env:"GOVERIFY_AUTO_MIGRATE" envDefault:"true"`

	PruneInterval time.Duration `env:"GOVERIFY_PRUNE_INTERVAL" envDefault:"5m"`

	TrustProxy         bool    `env:"GOVERIFY_TRUST_PROXY"          envDefault:"false"`
	RateLimitPerMinute float64 `env:"GOVERIFY_RATE_LIMIT_PER_MINUTE" envDefault:"60"`
	RateLimitBurst     int     `env:"GOVERIFY_RATE_LIMIT_BURST"      envDefault:"30"`

	// TicketSeed is a base64 ed25519 seed. Empty generates an ephemeral key.
	TicketSeed string        `env:"GOVERIFY_TICKET_SEED"`
	TicketTTL  time.Duration `env:"GOVERIFY_TICKET_TTL" envDefault:"2m"`

	UpstreamURL    string        `env:"GOVERIFY_UPSTREAM_URL"`
	UpstreamAPIKey string        `env:"GOVERIFY_UPSTREAM_API_KEY"`
	UpstreamTimeout time.Duration `env:"GOVERIFY_UPSTREAM_TIMEOUT" envDefault:"5s"`

	// DevCode is accepted for every code step when no upstream is set.
	DevCode string `env:"GOVERIFY_DEV_CODE" envDefault:"000000"`
	// DevUsers seeds the in-memory password table, as user:password pairs.
	DevUsers []string `env:"GOVERIFY_DEV_USERS" envSeparator:","`

	AuditLog bool `env:"GOVERIFY_AUDIT_LOG" envDefault:"true"`
	Metrics  bool `env:"GOVERIFY_METRICS"   envDefault:"true"`
}

func loadConfig() (*serverConfig, error) {
	cfg := &serverConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *serverConfig) validate() error {
	switch c.Backend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return errors.New("GOVERIFY_REDIS_URL is required for the redis backend")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("GOVERIFY_DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.RateLimitPerMinute <= 0 {
		return errors.New("GOVERIFY_RATE_LIMIT_PER_MINUTE must be > 0")
	}
	if c.PruneInterval < 0 {
		return errors.New("GOVERIFY_PRUNE_INTERVAL must be >= 0")
	}
	for _, pair := range c.DevUsers {
		if user, pw, ok := strings.Cut(pair, ":"); !ok || user == "" || pw == "" {
			return fmt.Errorf("malformed GOVERIFY_DEV_USERS entry %q", pair)
		}
	}
	return nil
}

// ticketKey returns the signing key and whether it was generated.
func (c *serverConfig) ticketKey() (ed25519.PrivateKey, bool, error) {
	if c.TicketSeed == "" {
		_, priv, err := ed25519.GenerateKey(nil)
		return priv, true, err
	}
	seed, err := base64.StdEncoding.DecodeString(c.TicketSeed)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, false, errors.New("GOVERIFY_TICKET_SEED must be a base64 32-byte seed")
	}
	return ed25519.NewKeyFromSeed(seed), false, nil
}
