package main

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Backend != "memory" || cfg.TicketTTL != 2*time.Minute {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("GOVERIFY_BACKEND", "redis")
	t.Setenv("GOVERIFY_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("GOVERIFY_DEV_USERS", "alice:pw1,bob:pw2")
	t.Setenv("GOVERIFY_PRUNE_INTERVAL", "30s")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if len(cfg.DevUsers) != 2 || cfg.PruneInterval != 30*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown backend":  {"GOVERIFY_BACKEND": "sqlite"},
		"redis no url":     {"GOVERIFY_BACKEND": "redis"},
		"postgres no url":  {"GOVERIFY_BACKEND": "postgres"},
		"bad dev user":     {"GOVERIFY_DEV_USERS": "alice"},
		"zero rate":        {"GOVERIFY_RATE_LIMIT_PER_MINUTE": "0"},
		"negative pruning": {"GOVERIFY_PRUNE_INTERVAL": "-1s"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range vars {
				t.Setenv(k, v)
			}
			if _, err := loadConfig(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestTicketKey(t *testing.T) {
	cfg := &serverConfig{}
	key, generated, err := cfg.ticketKey()
	if err != nil || !generated || len(key) == 0 {
		t.Fatalf("expected generated key, got %v %v", generated, err)
	}

	seed := make([]byte, 32)
	cfg.TicketSeed = base64.StdEncoding.EncodeToString(seed)
	if _, generated, err = cfg.ticketKey(); err != nil || generated {
		t.Fatalf("expected seeded key, got %v %v", generated, err)
	}

	cfg.TicketSeed = "short"
	if _, _, err = cfg.ticketKey(); err == nil {
		t.Fatal("expected error for malformed seed")
	}
}
