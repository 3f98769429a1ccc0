package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goVerify "github.com/MrEthical07/goVerify"
)

const secret = "correct-horse-battery"

// countingValidator accepts secret and counts calls per principal.
type countingValidator struct {
	mu    sync.Mutex
	calls map[string]int
}

func (v *countingValidator) Validate(_ context.Context, principal string, _ goVerify.FlowKind, value string) (bool, error) {
	v.mu.Lock()
	v.calls[principal]++
	v.mu.Unlock()
	return value == secret, nil
}

func main() {
	var (
		principals  = flag.Int("principals", 10000, "number of principals in the spread phase")
		hot         = flag.Int("hot", 16, "number of principals in the contended phase")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "submissions per phase")
		failRatio   = flag.Float64("fail-ratio", 0.3, "share of wrong submissions in the spread phase")
		backend     = flag.String("backend", "memory", "memory or redis")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *principals <= 0 || *hot <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "principals, hot, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	validator := &countingValidator{calls: make(map[string]int)}
	cfg := goVerify.DefaultConfig()
	login := goVerify.DefaultPolicies()[goVerify.FlowLogin]
	cfg.Policies = map[goVerify.FlowKind]goVerify.FlowPolicy{goVerify.FlowLogin: login}
	cfg.Metrics.Enabled = true

	builder := goVerify.New().
		WithConfig(cfg).
		WithCodeValidator(validator).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	if *backend == "redis" {
		client, cleanup, err := redisClient(*redisAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "redis: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		builder.WithRedis(client)
	}

	engine, err := builder.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx := context.Background()
	spread := runPhase(ctx, engine, "spread", *principals, *ops, *concurrency, *failRatio)
	contended := runPhase(ctx, engine, "hot", *hot, *ops, *concurrency, 1)

	fmt.Println("---- results ----")
	printStats("spread", spread)
	printStats("contended", contended)

	violations := 0
	validator.mu.Lock()
	for principal, calls := range validator.calls {
		if len(principal) > 4 && principal[:4] == "hot-" && calls > login.MaxAttempts {
			violations++
			fmt.Printf("lockout violated: %s reached the validator %d times\n", principal, calls)
		}
	}
	validator.mu.Unlock()

	snap := engine.MetricsSnapshot()
	fmt.Printf("lockouts=%d locked_refusals=%d\n",
		snap.Counters[goVerify.MetricLockoutTriggered],
		snap.Counters[goVerify.MetricSubmitLocked],
	)
	if violations > 0 {
		os.Exit(1)
	}
}

func redisClient(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// runPhase begins a login for every principal, then hammers Submit. A
// principal that completes or gets locked is restarted with Begin.
func runPhase(ctx context.Context, engine *goVerify.Engine, name string, principals, ops, concurrency int, failRatio float64) phaseStats {
	ids := make([]string, principals)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", name, i)
		if _, err := engine.Begin(ctx, ids[i], goVerify.FlowLogin); err != nil {
			fmt.Fprintf(os.Stderr, "begin %s: %v\n", ids[i], err)
			os.Exit(1)
		}
	}

	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
		kinds     [goVerify.KindOther + 1]int64
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				principal := ids[r.Intn(len(ids))]
				value := secret
				if r.Float64() < failRatio {
					value = "wrong"
				}

				t0 := time.Now()
				_, err := engine.Submit(ctx, principal, goVerify.FlowLogin, goVerify.Input{Value: value})
				d := time.Since(t0)

				kind := goVerify.KindOf(err)
				atomic.AddInt64(&kinds[kind], 1)
				switch kind {
				case goVerify.KindNone:
					_, _ = engine.Begin(ctx, principal, goVerify.FlowLogin)
				case goVerify.KindOther:
					// completed by another worker
					_, _ = engine.Begin(ctx, principal, goVerify.FlowLogin)
				case goVerify.KindTransientUpstream:
					atomic.AddInt64(&failures, 1)
				}

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	stats := computeStats(time.Since(start), latencies, failures)
	stats.kinds = kinds[:]
	return stats
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
	kinds    []int64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d transient=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
	for kind, n := range s.kinds {
		if n > 0 {
			fmt.Printf("  %-20s %d\n", goVerify.ErrorKind(kind).String()+":", n)
		}
	}
}
