package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sharedcode/kvtxn"
)

type standaloneEntry struct {
	owner   kvtxn.UUID
	expires time.Time
}

// Standalone is the default, in-process Lock: a single environment
// opened once per OS process needs no cross-process coordination, so this
// backs the lock with a plain mutex-guarded map instead of Redis.
type Standalone struct {
	mu      sync.Mutex
	owner   kvtxn.UUID
	entries map[string]standaloneEntry
}

// NewStandalone creates an in-process Lock owned by ownerID (typically the
// UUID engine.OpenWithLogger generates for the environment).
func NewStandalone(ownerID kvtxn.UUID) *Standalone {
	return &Standalone{
		owner:   ownerID,
		entries: make(map[string]standaloneEntry),
	}
}

func (s *Standalone) expired(e standaloneEntry) bool {
	return !e.expires.IsZero() && kvtxn.Now().After(e.expires)
}

// Lock implements Lock.
func (s *Standalone) Lock(ctx context.Context, name string, duration time.Duration) (bool, kvtxn.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[name]; ok && !s.expired(e) {
		if e.owner == s.owner {
			return true, kvtxn.NilUUID, nil
		}
		return false, e.owner, nil
	}

	expires := time.Time{}
	if duration > 0 {
		expires = kvtxn.Now().Add(duration)
	}
	s.entries[name] = standaloneEntry{owner: s.owner, expires: expires}
	return true, kvtxn.NilUUID, nil
}

// IsLocked implements Lock.
func (s *Standalone) IsLocked(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok || s.expired(e) {
		return false, nil
	}
	return e.owner == s.owner, nil
}

// Unlock implements Lock.
func (s *Standalone) Unlock(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[name]; ok && e.owner == s.owner {
		delete(s.entries, name)
	}
	return nil
}

// Close implements Lock. Standalone owns no external resources.
func (s *Standalone) Close() error {
	return nil
}
