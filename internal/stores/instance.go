package stores

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInstanceNotFound    = errors.New("flow instance not found")
	ErrInstanceUnavailable = errors.New("flow instance store unavailable")
	ErrInstanceCorrupt     = errors.New("flow instance record corrupt")
)

// Receipt is what the code issuer handed back for an instance.
type Receipt struct {
	Channel     string
	Destination string
	Reference   string
	Secret      string
	BackupCodes []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Instance is the stored form of one in-flight flow.
type Instance struct {
	ID          string
	Principal   string
	Kind        string
	Step        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Exhausted   bool
	Destination string
	Receipt     *Receipt
}

// InstanceStore holds at most one instance per (principal, kind).
type InstanceStore interface {
	// Get returns ErrInstanceNotFound when nothing live is stored.
	Get(ctx context.Context, principal, kind string, now time.Time) (*Instance, error)
	// Put replaces any stored instance for the same (principal, kind).
	Put(ctx context.Context, inst *Instance, ttl time.Duration) error
	// Delete is idempotent.
	Delete(ctx context.Context, principal, kind string) error
}

// Clone deep-copies inst so stores never share slices with callers.
func (inst *Instance) Clone() *Instance {
	if inst == nil {
		return nil
	}
	out := *inst
	if inst.Receipt != nil {
		r := *inst.Receipt
		if inst.Receipt.BackupCodes != nil {
			r.BackupCodes = append([]string(nil), inst.Receipt.BackupCodes...)
		}
		out.Receipt = &r
	}
	return &out
}
