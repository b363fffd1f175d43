package txn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedcode/kvtxn"
	"github.com/sharedcode/kvtxn/store"
	"github.com/sharedcode/kvtxn/wal"
)

func newTestManager(t *testing.T, log kvtxn.TransactionLog) (*Manager, *Database) {
	t.Helper()
	if log == nil {
		log = wal.NewMemory()
	}
	mgr := Open(kvtxn.EnvironmentOptions{EnableTransactions: true, EnableDuplicateKeys: true}, log, nil, nil)
	db := mgr.AddDatabase(kvtxn.DatabaseOptions{Name: "orders", EnableDuplicates: true},
		store.New(store.Info{Name: "orders", EnableDuplicates: true}))
	return mgr, db
}

func TestInsertFindErase_Implicit(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, nil)

	_, err := mgr.Find(ctx, "orders", nil, []byte("k1"))
	assert.True(t, kvtxn.Is(err, kvtxn.KeyNotFound))

	require.NoError(t, mgr.Insert(ctx, "orders", nil, []byte("k1"), []byte("v1"), kvtxn.InsertFlagNone))

	rec, err := mgr.Find(ctx, "orders", nil, []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), rec)

	require.NoError(t, mgr.Erase(ctx, "orders", nil, []byte("k1")))
	_, err = mgr.Find(ctx, "orders", nil, []byte("k1"))
	assert.True(t, kvtxn.Is(err, kvtxn.KeyNotFound))
}

func TestInsert_DuplicateKeyWithoutFlag(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, nil)

	require.NoError(t, mgr.Insert(ctx, "orders", nil, []byte("k1"), []byte("v1"), kvtxn.InsertFlagNone))
	err := mgr.Insert(ctx, "orders", nil, []byte("k1"), []byte("v2"), kvtxn.InsertFlagNone)
	assert.True(t, kvtxn.Is(err, kvtxn.DuplicateKey))
}

func TestInsert_OverwriteReplacesValue(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, nil)

	require.NoError(t, mgr.Insert(ctx, "orders", nil, []byte("k1"), []byte("v1"), kvtxn.InsertFlagNone))
	require.NoError(t, mgr.Insert(ctx, "orders", nil, []byte("k1"), []byte("v2"), kvtxn.Overwrite))

	rec, err := mgr.Find(ctx, "orders", nil, []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), rec)
}

func TestInsert_DuplicateFlagAndCount(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, nil)

	require.NoError(t, mgr.Insert(ctx, "orders", nil, []byte("k1"), []byte("v0"), kvtxn.InsertFlagNone))
	require.NoError(t, mgr.Insert(ctx, "orders", nil, []byte("k1"), []byte("v1"), kvtxn.Duplicate))
	require.NoError(t, mgr.Insert(ctx, "orders", nil, []byte("k1"), []byte("v2"), kvtxn.Duplicate))

	total, err := mgr.Count(ctx, "orders", nil, kvtxn.CountFlagNone)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), total)

	skip, err := mgr.Count(ctx, "orders", nil, kvtxn.SkipDuplicates)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), skip)
}

func TestReadYourWrites_NotVisibleToOthersUntilCommit(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, nil)

	t1, err := mgr.Begin(ctx, kvtxn.TxnFlags(0))
	require.NoError(t, err)
	require.NoError(t, mgr.Insert(ctx, "orders", t1, []byte("k1"), []byte("v1"), kvtxn.InsertFlagNone))

	rec, err := mgr.Find(ctx, "orders", t1, []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), rec)

	_, err = mgr.Find(ctx, "orders", nil, []byte("k1"))
	assert.True(t, kvtxn.Is(err, kvtxn.TxnConflict))

	require.NoError(t, t1.Commit(ctx))

	rec, err = mgr.Find(ctx, "orders", nil, []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), rec)
}

func TestConflict_ConcurrentInsertSameKey(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, nil)

	t1, err := mgr.Begin(ctx, kvtxn.TxnFlags(0))
	require.NoError(t, err)
	require.NoError(t, mgr.Insert(ctx, "orders", t1, []byte("k1"), []byte("v1"), kvtxn.InsertFlagNone))

	t2, err := mgr.Begin(ctx, kvtxn.TxnFlags(0))
	require.NoError(t, err)

	err = mgr.Insert(ctx, "orders", t2, []byte("k1"), []byte("v2"), kvtxn.InsertFlagNone)
	assert.True(t, kvtxn.Is(err, kvtxn.TxnConflict))

	_, err = mgr.Find(ctx, "orders", t2, []byte("k1"))
	assert.True(t, kvtxn.Is(err, kvtxn.TxnConflict))

	require.NoError(t, t1.Abort(ctx))
	require.NoError(t, t2.Abort(ctx))
}

func TestAbort_UndoesInsertAndRestoresDupCount(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, nil)

	t1, err := mgr.Begin(ctx, kvtxn.TxnFlags(0))
	require.NoError(t, err)
	require.NoError(t, mgr.Insert(ctx, "orders", t1, []byte("k1"), []byte("v1"), kvtxn.InsertFlagNone))
	require.NoError(t, t1.Abort(ctx))

	_, err = mgr.Find(ctx, "orders", nil, []byte("k1"))
	assert.True(t, kvtxn.Is(err, kvtxn.KeyNotFound))

	// A fresh implicit insert on the same key must succeed as a plain
	// insert, not collide with leftover duplicate accounting from the
	// aborted attempt.
	require.NoError(t, mgr.Insert(ctx, "orders", nil, []byte("k1"), []byte("v2"), kvtxn.InsertFlagNone))
	rec, err := mgr.Find(ctx, "orders", nil, []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), rec)
}

func TestEraseAfterOwnUncommittedInsert(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, nil)

	t1, err := mgr.Begin(ctx, kvtxn.TxnFlags(0))
	require.NoError(t, err)
	require.NoError(t, mgr.Insert(ctx, "orders", t1, []byte("k1"), []byte("v1"), kvtxn.InsertFlagNone))
	require.NoError(t, mgr.Erase(ctx, "orders", t1, []byte("k1")))

	_, err = mgr.Find(ctx, "orders", t1, []byte("k1"))
	assert.True(t, kvtxn.Is(err, kvtxn.KeyNotFound))

	require.NoError(t, t1.Commit(ctx))

	_, err = mgr.Find(ctx, "orders", nil, []byte("k1"))
	assert.True(t, kvtxn.Is(err, kvtxn.KeyNotFound))
}

func TestCommitThenOverwriteInSeparateTxns(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, nil)

	require.NoError(t, mgr.Insert(ctx, "orders", nil, []byte("k1"), []byte("v1"), kvtxn.InsertFlagNone))

	t2, err := mgr.Begin(ctx, kvtxn.TxnFlags(0))
	require.NoError(t, err)
	require.NoError(t, mgr.Insert(ctx, "orders", t2, []byte("k1"), []byte("v2"), kvtxn.Overwrite))
	require.NoError(t, t2.Commit(ctx))

	rec, err := mgr.Find(ctx, "orders", nil, []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), rec)
}

func TestDurabilityAcrossManyTransactions(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, nil)

	for i := 0; i < 30; i++ {
		key := []byte{byte(i)}
		require.NoError(t, mgr.Insert(ctx, "orders", nil, key, []byte("v"), kvtxn.InsertFlagNone))
	}
	for i := 0; i < 30; i++ {
		key := []byte{byte(i)}
		rec, err := mgr.Find(ctx, "orders", nil, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), rec)
	}
	assert.Equal(t, 0, mgr.OpenTransactionCount())
}

func TestRecover_AppliesOnlyCommittedTxns(t *testing.T) {
	ctx := context.Background()
	log := wal.NewMemory()

	require.NoError(t, log.AppendBegin(ctx, 1, 1))
	require.NoError(t, log.AppendOp(ctx, 2, 1, 0, kvtxn.OpInsert, []byte("k1"), []byte("v1"), 0))
	require.NoError(t, log.AppendCommit(ctx, 3, 1))

	require.NoError(t, log.AppendBegin(ctx, 4, 2))
	require.NoError(t, log.AppendOp(ctx, 5, 2, 0, kvtxn.OpInsert, []byte("k2"), []byte("v2"), 0))
	require.NoError(t, log.AppendAbort(ctx, 6, 2))

	mgr := Open(kvtxn.EnvironmentOptions{}, log, nil, nil)
	base := store.New(store.Info{Name: "orders"})
	mgr.AddDatabase(kvtxn.DatabaseOptions{Name: "orders"}, base)

	require.NoError(t, mgr.Recover(ctx))

	rec, found, err := base.Find(ctx, []byte("k1"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v1"), rec.Record)

	_, found, err = base.Find(ctx, []byte("k2"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFlush_EnforcesStrictIdOrder(t *testing.T) {
	ctx := context.Background()
	mgr, db := newTestManager(t, nil)

	t1, err := mgr.Begin(ctx, kvtxn.TxnFlags(0))
	require.NoError(t, err)
	t2, err := mgr.Begin(ctx, kvtxn.TxnFlags(0))
	require.NoError(t, err)

	require.NoError(t, mgr.Insert(ctx, "orders", t2, []byte("k2"), []byte("v2"), kvtxn.InsertFlagNone))
	require.NoError(t, t2.Commit(ctx))

	// t2 committed but t1 (older) is still Active: flush must not have
	// applied t2's op to the base tree yet.
	_, found, err := db.base.Find(ctx, []byte("k2"))
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, t1.Commit(ctx))

	_, found, err = db.base.Find(ctx, []byte("k2"))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestClose_TxnStillOpenWithoutAutoCleanup(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, nil)

	_, err := mgr.Begin(ctx, kvtxn.TxnFlags(0))
	require.NoError(t, err)

	err = mgr.Close(ctx, kvtxn.CloseFlagNone)
	assert.True(t, kvtxn.Is(err, kvtxn.TxnStillOpen))
}

func TestClose_AutoCleanupAbortsOpenTxns(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, nil)

	t1, err := mgr.Begin(ctx, kvtxn.TxnFlags(0))
	require.NoError(t, err)
	require.NoError(t, mgr.Insert(ctx, "orders", t1, []byte("k1"), []byte("v1"), kvtxn.InsertFlagNone))

	require.NoError(t, mgr.Close(ctx, kvtxn.AutoCleanup))
	assert.Equal(t, 0, mgr.OpenTransactionCount())
}

func TestBegin_RejectedWithoutEnableTransactions(t *testing.T) {
	ctx := context.Background()
	mgr := Open(kvtxn.EnvironmentOptions{}, wal.NewMemory(), nil, nil)
	mgr.AddDatabase(kvtxn.DatabaseOptions{Name: "orders"}, store.New(store.Info{Name: "orders"}))

	_, err := mgr.Begin(ctx, kvtxn.TxnFlags(0))
	assert.True(t, kvtxn.Is(err, kvtxn.InvalidParameter))

	// Bare, txn-less calls still work through the internal implicit-txn path.
	require.NoError(t, mgr.Insert(ctx, "orders", nil, []byte("k1"), []byte("v1"), kvtxn.InsertFlagNone))
	rec, err := mgr.Find(ctx, "orders", nil, []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), rec)
}
