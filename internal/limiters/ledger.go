package limiters

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// UnlimitedAttempts is reported by [Remaining] when the policy has no cap.
const UnlimitedAttempts = -1

var (
	// ErrLedgerUnavailable indicates the ledger backend is unreachable.
	ErrLedgerUnavailable = errors.New("attempt ledger unavailable")
	// ErrLedgerLocked is returned by RecordSuccess while a lockout is active.
	ErrLedgerLocked = errors.New("attempt ledger locked")
	// ErrCooldownUnavailable indicates the cooldown backend is unreachable.
	ErrCooldownUnavailable = errors.New("cooldown store unavailable")
)

// Key identifies one principal inside one flow kind.
type Key struct {
	Principal string
	Kind      string
}

// String renders the key with length-prefixed components, so a principal
// containing ':' never aliases another key.
func (k Key) String() string {
	return joinParts(k.Kind, k.Principal)
}

func joinParts(parts ...string) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

// Record is the per-key failure state. A zero LockedUntil means unlocked.
type Record struct {
	FailCount   int
	LockedUntil time.Time
}

// Locked reports whether the lockout deadline is still ahead of now.
func (r Record) Locked(now time.Time) bool {
	return !r.LockedUntil.IsZero() && now.Before(r.LockedUntil)
}

// LockRemaining returns the time left on the lockout, or zero.
func (r Record) LockRemaining(now time.Time) time.Duration {
	if !r.Locked(now) {
		return 0
	}
	return r.LockedUntil.Sub(now)
}

// Policy is the slice of a flow policy the ledger needs to count failures.
type Policy struct {
	// MaxAttempts <= 0 counts failures but never exhausts.
	MaxAttempts     int
	LockOnExhaust   bool
	LockoutDuration time.Duration
}

// FailureOutcome tells the caller what a recorded failure did to the record.
type FailureOutcome uint8

const (
	// FailureCounted means the count went up and attempts remain.
	FailureCounted FailureOutcome = iota
	// FailureLocked means this failure reached the cap and started a lockout.
	FailureLocked
	// FailureRefused means a lockout was already active and nothing was recorded.
	FailureRefused
	// FailureExhausted means the cap was reached on a policy without timed lockout.
	FailureExhausted
)

// Ledger stores per-key failure counts and lockout deadlines. Every method is
// atomic with respect to other calls for the same key.
type Ledger interface {
	Get(ctx context.Context, key Key, now time.Time) (Record, error)
	RecordFailure(ctx context.Context, key Key, policy Policy, now time.Time) (Record, FailureOutcome, error)
	RecordSuccess(ctx context.Context, key Key, now time.Time) error
	ResetFailures(ctx context.Context, key Key, now time.Time) error
}

// Normalize drops a lockout whose deadline has passed.
func Normalize(r Record, now time.Time) Record {
	if !r.LockedUntil.IsZero() && !now.Before(r.LockedUntil) {
		r.LockedUntil = time.Time{}
	}
	return r
}

// ApplyFailure is the failure transition shared by every backend.
func ApplyFailure(r Record, p Policy, now time.Time) (Record, FailureOutcome) {
	r = Normalize(r, now)
	if r.Locked(now) {
		return r, FailureRefused
	}

	r.FailCount++
	if p.MaxAttempts <= 0 || r.FailCount < p.MaxAttempts {
		return r, FailureCounted
	}

	if p.LockOnExhaust && p.LockoutDuration > 0 {
		// Next window starts clean once the lock expires.
		r.FailCount = 0
		r.LockedUntil = now.Add(p.LockoutDuration)
		return r, FailureLocked
	}
	return r, FailureExhausted
}

// ApplySuccess clears the record unless a lockout is still running.
func ApplySuccess(r Record, now time.Time) (Record, error) {
	r = Normalize(r, now)
	if r.Locked(now) {
		return r, ErrLedgerLocked
	}
	return Record{}, nil
}

// Remaining returns max(0, MaxAttempts-FailCount), or UnlimitedAttempts.
func Remaining(r Record, p Policy) int {
	if p.MaxAttempts <= 0 {
		return UnlimitedAttempts
	}
	left := p.MaxAttempts - r.FailCount
	if left < 0 {
		return 0
	}
	return left
}
