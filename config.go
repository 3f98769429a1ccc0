package goVerify

import (
	"errors"
	"fmt"
	"time"
)

// Config is the engine configuration. Start from DefaultConfig and adjust.
type Config struct {
	Policies map[FlowKind]FlowPolicy
	Store    StoreConfig
	Lock     LockConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Ticket   TicketConfig
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig tunes the persisted state shared by every backend.
type StoreConfig struct {
	// RedisPrefix namespaces every Redis key the engine writes.
	RedisPrefix string
	// LedgerRetention is how long an idle attempt record survives after its
	// last update or lockout deadline. Cleanup only; never read as state.
	LedgerRetention time.Duration
	// CooldownGrace is kept past a cooldown deadline before cleanup.
	CooldownGrace time.Duration
	// InstanceTTL bounds how long an untouched flow instance is resumable.
	InstanceTTL time.Duration
}

// LockConfig tunes per-(principal, kind) mutual exclusion.
type LockConfig struct {
	// Distributed uses a Redis lease lock when a Redis client is configured,
	// so several processes sharing one Redis serialize on the same key.
	Distributed bool
	// LeaseTTL caps how long a crashed holder can block a key.
	LeaseTTL time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
TICKET CONFIG
====================================
*/

// TicketConfig enables signed completion tickets on terminal success.
type TicketConfig struct {
	Enabled       bool
	TTL           time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
}

// DefaultConfig returns the built-in policies and conservative store settings.
func DefaultConfig() Config {
	return Config{
		Policies: DefaultPolicies(),
		Store: StoreConfig{
			RedisPrefix:     "gv",
			LedgerRetention: 24 * time.Hour,
			CooldownGrace:   time.Minute,
			InstanceTTL:     time.Hour,
		},
		Lock: LockConfig{
			Distributed: true,
			LeaseTTL:    10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Ticket: TicketConfig{
			Enabled:       false,
			TTL:           2 * time.Minute,
			SigningMethod: "ed25519",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Policies != nil {
		out.Policies = make(map[FlowKind]FlowPolicy, len(cfg.Policies))
		for k, p := range cfg.Policies {
			p.Steps = append([]StepPolicy(nil), p.Steps...)
			out.Policies[k] = p
		}
	}
	out.Ticket.PrivateKey = cloneBytes(cfg.Ticket.PrivateKey)
	out.Ticket.PublicKey = cloneBytes(cfg.Ticket.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration without building anything. Policies are
// compiled here so a bad step graph fails early.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if len(c.Policies) == 0 {
		return errors.New("at least one flow policy is required")
	}
	for kind, p := range c.Policies {
		if kind == "" {
			return errors.New("flow policy registered under an empty kind")
		}
		if _, err := compilePolicy(kind, p); err != nil {
			return err
		}
	}

	if c.Store.RedisPrefix == "" {
		return errors.New("Store.RedisPrefix must not be empty")
	}
	if c.Store.LedgerRetention <= 0 {
		return errors.New("Store.LedgerRetention must be > 0")
	}
	if c.Store.CooldownGrace < 0 {
		return errors.New("Store.CooldownGrace must be >= 0")
	}
	if c.Store.InstanceTTL <= 0 {
		return errors.New("Store.InstanceTTL must be > 0")
	}
	for kind, p := range c.Policies {
		if p.LockoutDuration > c.Store.LedgerRetention {
			return fmt.Errorf("%s: LockoutDuration exceeds Store.LedgerRetention", kind)
		}
	}

	if c.Lock.LeaseTTL <= 0 {
		return errors.New("Lock.LeaseTTL must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit.BufferSize must be > 0 when audit is enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics.EnableLatencyHistograms requires Metrics.Enabled")
	}

	if c.Ticket.Enabled {
		if c.Ticket.TTL <= 0 {
			return errors.New("Ticket.TTL must be > 0")
		}
		switch c.Ticket.SigningMethod {
		case "ed25519", "hs256":
		default:
			return fmt.Errorf("Ticket.SigningMethod %q is not supported", c.Ticket.SigningMethod)
		}
		if len(c.Ticket.PrivateKey) == 0 {
			return errors.New("Ticket.PrivateKey is required when tickets are enabled")
		}
	}
	return nil
}
