package goVerify

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goVerify/clock"
	"github.com/MrEthical07/goVerify/internal/audit"
	"github.com/MrEthical07/goVerify/internal/keylock"
	"github.com/MrEthical07/goVerify/internal/limiters"
	"github.com/MrEthical07/goVerify/internal/pgstore"
	"github.com/MrEthical07/goVerify/internal/stores"
	"github.com/MrEthical07/goVerify/ticket"
)

// Builder assembles an Engine. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	pg     *pgxpool.Pool

	validator  CodeValidator
	issuer     CodeIssuer
	completion CompletionHandler
	tickets    TicketSigner
	clock      clock.Clock
	logger     *slog.Logger
	auditSink  AuditSink

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithPolicy registers or replaces the policy for kind.
func (b *Builder) WithPolicy(kind FlowKind, p FlowPolicy) *Builder {
	if b.config.Policies == nil {
		b.config.Policies = make(map[FlowKind]FlowPolicy)
	}
	p.Steps = append([]StepPolicy(nil), p.Steps...)
	b.config.Policies[kind] = p
	return b
}

// WithRedis keeps ledger, cooldowns and instances in Redis. With
// Lock.Distributed set, the per-key lock is a Redis lease as well.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres keeps ledger, cooldowns and instances in Postgres. The
// schema must already be migrated; see cmd/goverify-server.
func (b *Builder) WithPostgres(pool *pgxpool.Pool) *Builder {
	b.pg = pool
	return b
}

func (b *Builder) WithCodeValidator(v CodeValidator) *Builder {
	b.validator = v
	return b
}

func (b *Builder) WithCodeIssuer(i CodeIssuer) *Builder {
	b.issuer = i
	return b
}

func (b *Builder) WithCompletionHandler(h CompletionHandler) *Builder {
	b.completion = h
	return b
}

// WithTicketSigner overrides the signer built from Config.Ticket.
func (b *Builder) WithTicketSigner(s TicketSigner) *Builder {
	b.tickets = s
	return b
}

// WithClock replaces the wall clock. Tests pass a *clock.Manual.
func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.clock = c
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Engine. Without a
// Redis client or Postgres pool every store is in-process.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderReused
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis != nil && b.pg != nil {
		return nil, errors.New("configure either redis or postgres, not both")
	}

	policies := make(map[FlowKind]*compiledPolicy, len(cfg.Policies))
	needsValidator, needsIssuer := false, false
	for kind, p := range cfg.Policies {
		cp, err := compilePolicy(kind, p)
		if err != nil {
			return nil, err
		}
		policies[kind] = cp
		if cp.IssueOnBegin {
			needsIssuer = true
		}
		for _, sp := range cp.Steps {
			if sp.gated() {
				needsValidator = true
			}
			if sp.Resend || sp.Input == InputEmail {
				needsIssuer = true
			}
		}
	}
	if needsValidator && b.validator == nil {
		return nil, ErrValidatorRequired
	}
	if needsIssuer && b.issuer == nil {
		return nil, ErrIssuerRequired
	}

	engine := &Engine{
		config:     cfg,
		policies:   policies,
		validator:  b.validator,
		issuer:     b.issuer,
		completion: b.completion,
		tickets:    b.tickets,
		clock:      b.clock,
		logger:     b.logger,
		metrics:    NewMetrics(cfg.Metrics),
	}
	if engine.clock == nil {
		engine.clock = clock.System{}
	}
	if engine.logger == nil {
		engine.logger = slog.Default()
	}

	// -------- STORES --------
	switch {
	case b.redis != nil:
		prefix := cfg.Store.RedisPrefix
		engine.ledger = limiters.NewRedisLedger(b.redis, prefix, cfg.Store.LedgerRetention)
		engine.cooldowns = limiters.NewRedisCooldowns(b.redis, prefix, cfg.Store.CooldownGrace)
		engine.instances = stores.NewRedisInstanceStore(b.redis, prefix)
		if cfg.Lock.Distributed {
			engine.locker = keylock.NewRedis(b.redis, prefix, cfg.Lock.LeaseTTL)
		}
	case b.pg != nil:
		engine.ledger = pgstore.NewLedger(b.pg)
		engine.cooldowns = pgstore.NewCooldowns(b.pg)
		engine.instances = pgstore.NewInstances(b.pg)
	default:
		engine.ledger = limiters.NewMemoryLedger()
		engine.cooldowns = limiters.NewMemoryCooldowns()
		engine.instances = stores.NewMemoryInstanceStore()
	}
	if engine.locker == nil {
		engine.locker = keylock.NewLocal()
	}

	// -------- TICKETS --------
	if engine.tickets == nil && cfg.Ticket.Enabled {
		signer, err := ticket.NewSigner(ticket.Config{
			TTL:        cfg.Ticket.TTL,
			Method:     ticket.Method(cfg.Ticket.SigningMethod),
			PrivateKey: cloneBytes(cfg.Ticket.PrivateKey),
			PublicKey:  cloneBytes(cfg.Ticket.PublicKey),
			Issuer:     cfg.Ticket.Issuer,
			Audience:   cfg.Ticket.Audience,
			Now:        engine.clock.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("ticket signer: %w", err)
		}
		engine.tickets = signer
	}

	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	b.built = true
	return engine, nil
}
