// Command goverify-server serves the verification flow engine over HTTP.
//
// Configuration is read from GOVERIFY_* environment variables; see
// config.go. With the default memory backend and no upstream, codes are the
// fixed GOVERIFY_DEV_CODE and passwords come from GOVERIFY_DEV_USERS.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/httpapi"
	"github.com/MrEthical07/goVerify/internal/pgstore"
	promexport "github.com/MrEthical07/goVerify/metrics/export/prometheus"
	"github.com/MrEthical07/goVerify/middleware"
	"github.com/MrEthical07/goVerify/password"
	"github.com/MrEthical07/goVerify/ticket"
	"github.com/MrEthical07/goVerify/upstream"
	"github.com/MrEthical07/goVerify/validators"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("startup failed", slog.Any("error", err))
		os.Exit(1)
	}
	log := newLogger(cfg)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(cfg *serverConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h).With(slog.String("app", "goverify"))
}

func run(cfg *serverConfig, log *slog.Logger) error {
	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ecfg := goVerify.DefaultConfig()
	ecfg.Audit.Enabled = cfg.AuditLog
	ecfg.Metrics.Enabled = cfg.Metrics
	ecfg.Metrics.EnableLatencyHistograms = cfg.Metrics
	builder := goVerify.New().WithConfig(ecfg).WithLogger(log)
	if cfg.AuditLog {
		builder.WithAuditSink(goVerify.NewSlogSink(log.With(slog.String("component", "audit"))))
	}

	var ready []func(context.Context) error

	// -------- BACKEND --------
	switch cfg.Backend {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(startupCtx).Err(); err != nil {
			return err
		}
		builder.WithRedis(rdb)
		ready = append(ready, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	case "postgres":
		if cfg.AutoMigrate {
			if err := pgstore.Migrate(cfg.DatabaseURL, log); err != nil {
				return err
			}
		}
		pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, pgstore.PoolConfig{}, log)
		if err != nil {
			return err
		}
		defer pool.Close()
		builder.WithPostgres(pool)
		ready = append(ready, func(ctx context.Context) error { return pgstore.Ping(ctx, pool) })
	}
	log.Info("backend selected", slog.String("backend", cfg.Backend))

	// -------- COLLABORATORS --------
	hasher, err := password.NewArgon2(password.DefaultConfig())
	if err != nil {
		return err
	}
	users := validators.NewMemoryUsers(hasher)
	for _, pair := range cfg.DevUsers {
		user, pw, _ := strings.Cut(pair, ":")
		if err := users.SetPassword(user, pw); err != nil {
			return err
		}
	}

	var (
		codes  goVerify.CodeValidator
		issuer goVerify.CodeIssuer
	)
	if cfg.UpstreamURL != "" {
		client, err := upstream.NewClient(upstream.Config{
			BaseURL: cfg.UpstreamURL,
			APIKey:  cfg.UpstreamAPIKey,
			Timeout: cfg.UpstreamTimeout,
		}, nil, log)
		if err != nil {
			return err
		}
		codes, issuer = client, client
	} else {
		static := validators.NewStaticCodes(validators.StaticConfig{Code: cfg.DevCode, Logger: log})
		codes, issuer = static, static
		log.Warn("using static development codes")
	}
	builder.
		WithCodeValidator(validators.ByKind{
			Kinds:   map[goVerify.FlowKind]goVerify.CodeValidator{goVerify.FlowLogin: validators.NewArgon2Credentials(hasher, users)},
			Default: codes,
		}).
		WithCodeIssuer(issuer).
		WithCompletionHandler(users)

	key, generated, err := cfg.ticketKey()
	if err != nil {
		return err
	}
	if generated {
		log.Warn("ticket key generated for this process; tickets will not survive a restart")
	}
	signer, err := ticket.NewSigner(ticket.Config{
		TTL:        cfg.TicketTTL,
		Method:     ticket.MethodEd25519,
		PrivateKey: key,
		Issuer:     "goverify",
	})
	if err != nil {
		return err
	}
	builder.WithTicketSigner(signer)

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	// -------- HTTP --------
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:            rate.Limit(cfg.RateLimitPerMinute / 60.0),
		Burst:           cfg.RateLimitBurst,
		CleanupInterval: 5 * time.Minute,
	})
	defer limiter.Stop()

	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.ClientContext(cfg.TrustProxy))
	r.Use(middleware.Logging(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	r.Get("/readyz", readiness(ready))
	if cfg.Metrics {
		r.Handle("/metrics", promexport.NewExporter(engine).Handler())
	}
	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware())
		httpapi.NewHandler(engine, signer, log).Register(r)
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go janitor(ctx, engine, cfg.PruneInterval, log)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		return err
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	return server.Shutdown(shutdownCtx)
}

func readiness(checks []func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, check := range checks {
			if err := check(ctx); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// janitor prunes expired state until ctx is done. Zero interval disables it.
func janitor(ctx context.Context, engine *goVerify.Engine, every time.Duration, log *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := engine.Prune(ctx)
			if err != nil {
				log.Warn("prune failed", slog.Any("error", err))
				continue
			}
			if res.Total() > 0 {
				log.Info("pruned expired state",
					slog.Int64("ledger", res.Ledger),
					slog.Int64("cooldowns", res.Cooldowns),
					slog.Int64("instances", res.Instances),
				)
			}
		}
	}
}
