package deploylock

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrBusy is returned when a deploy lock is already held for the
// requested (service, env).
var ErrBusy = errors.New("deploy already in progress")

// Registry serializes deploys per (service, env). It is advisory and
// process-local: the control plane is a single writer. The lock id acts
// as a fencing token so a stale holder cannot release a lock it lost.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	lockID    string
	expiresAt time.Time
}

// NewRegistry returns an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{
		locks: make(map[string]*entry),
	}
}

func key(serviceID, env string) string {
	return fmt.Sprintf("%s:%s", serviceID, env)
}

// Acquire takes the lock for (serviceID, env) and returns a fresh lock
// id. If the lock is held and not expired, ErrBusy is returned. Expired
// locks are reaped passively on the next Acquire.
func (r *Registry) Acquire(serviceID, env string, ttl time.Duration) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(serviceID, env)
	if e, ok := r.locks[k]; ok && time.Now().Before(e.expiresAt) {
		return "", ErrBusy
	}

	e := &entry{
		lockID:    uuid.New().String(),
		expiresAt: time.Now().Add(ttl),
	}
	r.locks[k] = e
	return e.lockID, nil
}

// Release drops the lock iff lockID matches the current holder. A stale
// or mismatched release is a no-op.
func (r *Registry) Release(serviceID, env, lockID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(serviceID, env)
	if e, ok := r.locks[k]; ok && e.lockID == lockID {
		delete(r.locks, k)
	}
}

// Info reports whether the lock is currently held and the remaining TTL.
func (r *Registry) Info(serviceID, env string) (held bool, lockID string, remaining time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.locks[key(serviceID, env)]
	if !ok {
		return false, "", 0
	}
	remaining = time.Until(e.expiresAt)
	if remaining <= 0 {
		return false, "", 0
	}
	return true, e.lockID, remaining
}
