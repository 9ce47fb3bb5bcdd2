// Package locks serializes publish operations per account. The platform
// rejects overlapping publishes for one account, so every execution path
// (socket jobs, queue workers, trigger jobs) must go through the same
// registry before touching the publish protocol.
package locks

import "sync"

// Registry hands out one mutex per account key. Acquisition is non-blocking:
// a caller that loses the race reports "busy" instead of queueing, so worker
// pools are never parked on another account's publish.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	m sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*entry)}
}

// TryAcquire attempts to take the account's lock without blocking. It returns
// false when another operation holds it. Every true return must be paired
// with Release, including on panic paths.
func (r *Registry) TryAcquire(accountID string) bool {
	if accountID == "" {
		return false
	}
	r.mu.Lock()
	e := r.locks[accountID]
	if e == nil {
		e = &entry{}
		r.locks[accountID] = e
	}
	r.mu.Unlock()

	return e.m.TryLock()
}

// Release frees the account's lock. Releasing a key that was never acquired
// is a programming error and panics, same as unlocking an unlocked mutex.
func (r *Registry) Release(accountID string) {
	r.mu.Lock()
	e := r.locks[accountID]
	r.mu.Unlock()
	if e == nil {
		panic("locks: release of unknown account " + accountID)
	}
	e.m.Unlock()
}

// Held reports whether the account's lock is currently taken. It exists for
// status introspection; do not use it to decide acquisition.
func (r *Registry) Held(accountID string) bool {
	r.mu.Lock()
	e := r.locks[accountID]
	r.mu.Unlock()
	if e == nil {
		return false
	}
	if e.m.TryLock() {
		e.m.Unlock()
		return false
	}
	return true
}
