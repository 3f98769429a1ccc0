package validators

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"sync/atomic"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
)

// StaticConfig configures StaticCodes.
type StaticConfig struct {
	Code        string
	Secret      string
	BackupCodes []string
	TTL         time.Duration
	// Logger receives one line per issued code. Nil discards.
	Logger *slog.Logger
	Now    func() time.Time
}

// StaticCodes issues and accepts one fixed code. It is meant for local
// development and load tests where no delivery service exists.
type StaticCodes struct {
	cfg    StaticConfig
	issued atomic.Uint64
}

func NewStaticCodes(cfg StaticConfig) *StaticCodes {
	if cfg.Code == "" {
		cfg.Code = "000000"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.BackupCodes = append([]string(nil), cfg.BackupCodes...)
	return &StaticCodes{cfg: cfg}
}

func (s *StaticCodes) Issue(ctx context.Context, principal string, kind goVerify.FlowKind, channel, destination string) (goVerify.IssueReceipt, error) {
	n := s.issued.Add(1)
	now := s.cfg.Now()
	if s.cfg.Logger != nil {
		s.cfg.Logger.InfoContext(ctx, "development code issued",
			slog.String("kind", string(kind)),
			slog.String("channel", channel),
			slog.String("destination", destination),
			slog.Uint64("seq", n),
		)
	}

	r := goVerify.IssueReceipt{
		Channel:     channel,
		Destination: destination,
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.cfg.TTL),
	}
	if kind == goVerify.FlowTwoFactorSetup {
		r.Secret = s.cfg.Secret
		r.BackupCodes = append([]string(nil), s.cfg.BackupCodes...)
	}
	return r, nil
}

func (s *StaticCodes) Validate(_ context.Context, _ string, _ goVerify.FlowKind, value string) (bool, error) {
	return subtle.ConstantTimeCompare([]byte(value), []byte(s.cfg.Code)) == 1, nil
}

// Issued returns how many codes have been handed out.
func (s *StaticCodes) Issued() uint64 {
	return s.issued.Load()
}

var (
	_ goVerify.CodeIssuer    = (*StaticCodes)(nil)
	_ goVerify.CodeValidator = (*StaticCodes)(nil)
)
