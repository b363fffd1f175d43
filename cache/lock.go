// Package cache provides the environment-level lock used to serialize the
// commit pipeline (§4.7): Standalone for the single-process default, and
// Clustered for multiple processes sharing one environment over Redis
// (SPEC_FULL §11, §13 — this coordinates locking only, never data
// replication).
package cache

import (
	"context"
	"time"

	"github.com/sharedcode/kvtxn"
)

// Lock is the narrow locking trait the TxnManager needs from its
// environment backend: named, TTL-bounded mutual exclusion with ownership
// checks, mirroring the teacher's sop.Cache locking subset.
type Lock interface {
	// Lock attempts to acquire name for duration, returning false and the
	// current owner's UUID if someone else already holds it.
	Lock(ctx context.Context, name string, duration time.Duration) (bool, kvtxn.UUID, error)
	// IsLocked reports whether name is currently held by this owner.
	IsLocked(ctx context.Context, name string) (bool, error)
	// Unlock releases name, a no-op if this owner does not hold it.
	Unlock(ctx context.Context, name string) error
	// Close releases any resources (connections) held by the lock backend.
	Close() error
}
