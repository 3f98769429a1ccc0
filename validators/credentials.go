package validators

import (
	"context"
	"fmt"
	"sync"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/password"
)

// HashLookup resolves the stored password hash of a principal. Unknown
// principals return ok == false and no error.
type HashLookup interface {
	PasswordHash(ctx context.Context, principal string) (hash string, ok bool, err error)
}

// HashUpdater is implemented by lookups that accept upgraded hashes. The
// swap must only happen while the stored hash still equals old.
type HashUpdater interface {
	UpdatePasswordHash(ctx context.Context, principal, old, fresh string) error
}

// Argon2Credentials validates login submissions against Argon2id hashes.
type Argon2Credentials struct {
	hasher *password.Argon2
	lookup HashLookup

	dummyOnce sync.Once
	dummy     string
}

func NewArgon2Credentials(hasher *password.Argon2, lookup HashLookup) *Argon2Credentials {
	return &Argon2Credentials{hasher: hasher, lookup: lookup}
}

// Validate reports whether value is the principal's password. Unknown
// principals still pay for one hash verification. After a match, hashes
// made with weaker parameters are upgraded when the lookup is a
// HashUpdater; an upgrade failure does not fail the login.
func (c *Argon2Credentials) Validate(ctx context.Context, principal string, _ goVerify.FlowKind, value string) (bool, error) {
	hash, ok, err := c.lookup.PasswordHash(ctx, principal)
	if err != nil {
		return false, fmt.Errorf("lookup credentials: %w", err)
	}
	if !ok {
		c.burn(value)
		return false, nil
	}

	match, err := c.hasher.Verify(value, hash)
	if err != nil {
		return false, fmt.Errorf("verify credentials: %w", err)
	}
	if match {
		c.upgrade(ctx, principal, hash, value)
	}
	return match, nil
}

func (c *Argon2Credentials) upgrade(ctx context.Context, principal, hash, value string) {
	updater, ok := c.lookup.(HashUpdater)
	if !ok {
		return
	}
	if stale, err := c.hasher.NeedsRehash(hash); err != nil || !stale {
		return
	}
	fresh, err := c.hasher.Hash(value)
	if err != nil {
		return
	}
	_ = updater.UpdatePasswordHash(ctx, principal, hash, fresh)
}

func (c *Argon2Credentials) burn(value string) {
	c.dummyOnce.Do(func() {
		c.dummy, _ = c.hasher.Hash("goverify-timing-equalizer")
	})
	if c.dummy != "" {
		_, _ = c.hasher.Verify(value, c.dummy)
	}
}

var _ goVerify.CodeValidator = (*Argon2Credentials)(nil)
