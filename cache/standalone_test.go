package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sharedcode/kvtxn"
)

func TestStandalone_LockUnlock(t *testing.T) {
	ctx := context.Background()
	l := NewStandalone(kvtxn.NewUUID())

	ok, owner, err := l.Lock(ctx, "env", 0)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, owner.IsNil())

	locked, err := l.IsLocked(ctx, "env")
	assert.NoError(t, err)
	assert.True(t, locked)

	// Re-locking by the same owner succeeds (reentrant).
	ok, _, err = l.Lock(ctx, "env", 0)
	assert.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, l.Unlock(ctx, "env"))
	locked, err = l.IsLocked(ctx, "env")
	assert.NoError(t, err)
	assert.False(t, locked)
}

func TestStandalone_OtherOwnerBlocked(t *testing.T) {
	ctx := context.Background()
	ownerA := kvtxn.NewUUID()
	ownerB := kvtxn.NewUUID()

	la := NewStandalone(ownerA)
	lb := &Standalone{owner: ownerB, entries: la.entries}

	ok, _, err := la.Lock(ctx, "env", 0)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, owner, err := lb.Lock(ctx, "env", 0)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ownerA, owner)
}

func TestStandalone_Expiry(t *testing.T) {
	ctx := context.Background()
	ownerA := kvtxn.NewUUID()
	ownerB := kvtxn.NewUUID()
	la := NewStandalone(ownerA)

	ok, _, err := la.Lock(ctx, "env", time.Millisecond)
	assert.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(5 * time.Millisecond)

	lb := &Standalone{owner: ownerB, entries: la.entries}
	ok, _, err = lb.Lock(ctx, "env", 0)
	assert.NoError(t, err)
	assert.True(t, ok, "expired lock should be reclaimable")
}
