package deposit

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
)

// LockRegistry marks custodial addresses with a deposit in flight so they are
// not reassigned. Locks expire on their own after ttl.
type LockRegistry struct {
	locks *gocache.Cache
}

// NewLockRegistry creates a registry with the given lock lifetime
func NewLockRegistry(ttl time.Duration) *LockRegistry {
	return &LockRegistry{locks: gocache.New(ttl, 0)}
}

// Lock marks address as in use. Locking again refreshes the timestamp.
func (r *LockRegistry) Lock(address string) {
	r.locks.Set(entities.NormalizeAddress(address), time.Now(), gocache.DefaultExpiration)
}

// IsLocked reports whether address holds an unexpired lock
func (r *LockRegistry) IsLocked(address string) bool {
	_, ok := r.locks.Get(entities.NormalizeAddress(address))
	return ok
}

// Unlock frees address. Unlocking an unlocked address is a no-op.
func (r *LockRegistry) Unlock(address string) {
	r.locks.Delete(entities.NormalizeAddress(address))
}

// LockedAt returns when address was locked
func (r *LockRegistry) LockedAt(address string) (time.Time, bool) {
	v, ok := r.locks.Get(entities.NormalizeAddress(address))
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

// SweepExpired drops expired locks and returns how many were removed
func (r *LockRegistry) SweepExpired() int {
	before := r.locks.ItemCount()
	r.locks.DeleteExpired()
	return before - r.locks.ItemCount()
}

// Count returns the number of unexpired locks
func (r *LockRegistry) Count() int {
	return len(r.locks.Items())
}
