package ticket

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	now := time.Unix(1_760_000_000, 0)
	s, err := NewSigner(Config{TTL: 5 * time.Minute, PrivateKey: priv, Issuer: "goverify", Now: fixedNow(now)})
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	raw, err := s.Sign("p1", "login", "flow-1", "authenticated")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	verifier, err := NewSigner(Config{TTL: 5 * time.Minute, PublicKey: pub, Issuer: "goverify", Now: fixedNow(now.Add(time.Minute))})
	if err != nil {
		t.Fatalf("verifier failed: %v", err)
	}
	claims, err := verifier.Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if claims.Principal() != "p1" || claims.Kind != "login" || claims.FlowID != "flow-1" || claims.Step != "authenticated" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatalf("ticket must carry a jti")
	}

	if _, err := verifier.Sign("p1", "login", "flow-1", "authenticated"); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("verify-only signer must refuse to sign, got %v", err)
	}
}

func TestExpiredTicketRejected(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	now := time.Unix(1_760_000_000, 0)
	s, err := NewSigner(Config{TTL: time.Minute, Method: MethodHS256, PrivateKey: secret, Now: fixedNow(now)})
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	raw, err := s.Sign("p1", "email_verification", "flow-2", "verified")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	late, _ := NewSigner(Config{TTL: time.Minute, Method: MethodHS256, PrivateKey: secret, Now: fixedNow(now.Add(2 * time.Minute))})
	if _, err := late.Parse(raw); !errors.Is(err, ErrInvalidTicket) {
		t.Fatalf("expected ErrInvalidTicket, got %v", err)
	}
}

func TestWrongKeyRejected(t *testing.T) {
	a, _ := NewSigner(Config{TTL: time.Minute, Method: MethodHS256, PrivateKey: []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")})
	b, _ := NewSigner(Config{TTL: time.Minute, Method: MethodHS256, PrivateKey: []byte("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")})

	raw, err := a.Sign("p1", "login", "flow-3", "authenticated")
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if _, err := b.Parse(raw); !errors.Is(err, ErrInvalidTicket) {
		t.Fatalf("expected ErrInvalidTicket, got %v", err)
	}
}

func TestNewSignerRejectsBadConfig(t *testing.T) {
	cases := []Config{
		{TTL: 0, Method: MethodHS256, PrivateKey: make([]byte, 32)},
		{TTL: time.Minute, Method: MethodHS256, PrivateKey: []byte("short")},
		{TTL: time.Minute, Method: MethodEd25519},
		{TTL: time.Minute, Method: "rs512"},
		{TTL: time.Minute, Method: MethodHS256, PrivateKey: make([]byte, 32), Leeway: time.Hour},
	}
	for i, cfg := range cases {
		if _, err := NewSigner(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("case %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
}
