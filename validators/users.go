package validators

import (
	"context"
	"sync"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/password"
)

// MemoryUsers is an in-process password table. It serves as the
// HashLookup of Argon2Credentials and as the CompletionHandler that stores
// the new password at the end of a reset.
type MemoryUsers struct {
	hasher *password.Argon2

	mu     sync.RWMutex
	hashes map[string]string
}

func NewMemoryUsers(hasher *password.Argon2) *MemoryUsers {
	return &MemoryUsers{hasher: hasher, hashes: make(map[string]string)}
}

// SetPassword hashes and stores secret for principal.
func (u *MemoryUsers) SetPassword(principal, secret string) error {
	hash, err := u.hasher.Hash(secret)
	if err != nil {
		return err
	}
	u.mu.Lock()
	u.hashes[principal] = hash
	u.mu.Unlock()
	return nil
}

func (u *MemoryUsers) PasswordHash(_ context.Context, principal string) (string, bool, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	hash, ok := u.hashes[principal]
	return hash, ok, nil
}

// UpdatePasswordHash replaces the stored hash if it is still old, so an
// upgrade racing a reset never overwrites the new password.
func (u *MemoryUsers) UpdatePasswordHash(_ context.Context, principal, old, fresh string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.hashes[principal] == old {
		u.hashes[principal] = fresh
	}
	return nil
}

// Complete stores the new password of a finished reset. Unknown principals
// and other flows complete without side effects, so a reset never reveals
// whether an account exists.
func (u *MemoryUsers) Complete(_ context.Context, inst goVerify.FlowInstance, in goVerify.Input) error {
	if inst.Kind != goVerify.FlowPasswordReset {
		return nil
	}
	u.mu.RLock()
	_, known := u.hashes[inst.Principal]
	u.mu.RUnlock()
	if !known {
		return nil
	}
	return u.SetPassword(inst.Principal, in.Value)
}

var (
	_ HashLookup                 = (*MemoryUsers)(nil)
	_ HashUpdater                = (*MemoryUsers)(nil)
	_ goVerify.CompletionHandler = (*MemoryUsers)(nil)
)
