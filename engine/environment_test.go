package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedcode/kvtxn"
)

func openTestEnv(t *testing.T) *Environment {
	t.Helper()
	env, err := Open(context.Background(), "", kvtxn.EnvironmentOptions{InMemory: true, EnableTransactions: true, EnableDuplicateKeys: true})
	require.NoError(t, err)
	t.Cleanup(func() { env.Close(context.Background(), kvtxn.AutoCleanup) })
	return env
}

func TestEnvironment_InsertFindAcrossCommit(t *testing.T) {
	ctx := context.Background()
	env := openTestEnv(t)
	db := env.CreateDatabase(kvtxn.DatabaseOptions{Name: "people"})

	txn, err := env.Begin(ctx, kvtxn.TxnFlags(0))
	require.NoError(t, err)

	require.NoError(t, db.Insert(ctx, txn, []byte("alice"), []byte("eng"), kvtxn.InsertFlagNone))

	_, err = db.Find(ctx, nil, []byte("alice"))
	assert.True(t, kvtxn.Is(err, kvtxn.TxnConflict))

	require.NoError(t, txn.Commit(ctx))

	rec, err := db.Find(ctx, nil, []byte("alice"))
	require.NoError(t, err)
	assert.Equal(t, []byte("eng"), rec)
}

func TestEnvironment_ConflictOnConcurrentInsert(t *testing.T) {
	ctx := context.Background()
	env := openTestEnv(t)
	db := env.CreateDatabase(kvtxn.DatabaseOptions{Name: "people"})

	t1, err := env.Begin(ctx, kvtxn.TxnFlags(0))
	require.NoError(t, err)
	require.NoError(t, db.Insert(ctx, t1, []byte("alice"), []byte("eng"), kvtxn.InsertFlagNone))

	t2, err := env.Begin(ctx, kvtxn.TxnFlags(0))
	require.NoError(t, err)
	err = db.Insert(ctx, t2, []byte("alice"), []byte("sales"), kvtxn.InsertFlagNone)
	assert.True(t, kvtxn.Is(err, kvtxn.TxnConflict))

	require.NoError(t, t1.Abort(ctx))
	require.NoError(t, t2.Abort(ctx))
}

func TestEnvironment_DuplicateAfterCommit(t *testing.T) {
	ctx := context.Background()
	env := openTestEnv(t)
	db := env.CreateDatabase(kvtxn.DatabaseOptions{Name: "events", EnableDuplicates: true})

	require.NoError(t, db.Insert(ctx, nil, []byte("e1"), []byte("v0"), kvtxn.InsertFlagNone))
	require.NoError(t, db.Insert(ctx, nil, []byte("e1"), []byte("v1"), kvtxn.Duplicate))

	count, err := db.Count(ctx, nil, kvtxn.CountFlagNone)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func TestEnvironment_EraseAfterOwnInsert(t *testing.T) {
	ctx := context.Background()
	env := openTestEnv(t)
	db := env.CreateDatabase(kvtxn.DatabaseOptions{Name: "people"})

	txn, err := env.Begin(ctx, kvtxn.TxnFlags(0))
	require.NoError(t, err)
	require.NoError(t, db.Insert(ctx, txn, []byte("alice"), []byte("eng"), kvtxn.InsertFlagNone))
	require.NoError(t, db.Erase(ctx, txn, []byte("alice")))
	require.NoError(t, txn.Commit(ctx))

	_, err = db.Find(ctx, nil, []byte("alice"))
	assert.True(t, kvtxn.Is(err, kvtxn.KeyNotFound))
}

func TestEnvironment_CursorRequiresExplicitTxn(t *testing.T) {
	ctx := context.Background()
	env := openTestEnv(t)
	db := env.CreateDatabase(kvtxn.DatabaseOptions{Name: "people"})

	_, err := db.CursorCreate(ctx, nil)
	assert.True(t, kvtxn.Is(err, kvtxn.InvalidParameter))
}

func TestEnvironment_DuplicateKeysRequireEnvironmentFlag(t *testing.T) {
	ctx := context.Background()
	env, err := Open(ctx, "", kvtxn.EnvironmentOptions{InMemory: true, EnableTransactions: true})
	require.NoError(t, err)
	defer env.Close(ctx, kvtxn.AutoCleanup)

	db := env.CreateDatabase(kvtxn.DatabaseOptions{Name: "events", EnableDuplicates: true})

	require.NoError(t, db.Insert(ctx, nil, []byte("e1"), []byte("v0"), kvtxn.InsertFlagNone))
	err = db.Insert(ctx, nil, []byte("e1"), []byte("v1"), kvtxn.Duplicate)
	assert.True(t, kvtxn.Is(err, kvtxn.DuplicateKey))
}

func TestRetryOnConflict_ConcurrentInsertsResolveToOneWinner(t *testing.T) {
	ctx := context.Background()
	env := openTestEnv(t)
	db := env.CreateDatabase(kvtxn.DatabaseOptions{Name: "contended"})

	const n = 6
	key := []byte("hot-key")

	errs := RunConcurrent(ctx, n, 3, func(i int) error {
		return RetryOnConflict(ctx, 50, func() error {
			txn, err := env.Begin(ctx, kvtxn.TxnFlags(0))
			if err != nil {
				return err
			}
			if err := db.Insert(ctx, txn, key, []byte{byte(i)}, kvtxn.InsertFlagNone); err != nil {
				_ = txn.Abort(ctx)
				return err
			}
			return txn.Commit(ctx)
		})
	})

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, kvtxn.Is(err, kvtxn.DuplicateKey), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)

	_, err := db.Find(ctx, nil, key)
	require.NoError(t, err)
}

func TestEnvironment_DurabilityAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/kvtxn.log"
	opts := kvtxn.EnvironmentOptions{EnableTransactions: true}

	env, err := Open(ctx, path, opts)
	require.NoError(t, err)
	db := env.CreateDatabase(kvtxn.DatabaseOptions{Name: "people"})
	require.NoError(t, env.Recover(ctx))

	for i := 0; i < 10; i++ {
		k := []byte{byte(i)}
		require.NoError(t, db.Insert(ctx, nil, k, k, kvtxn.InsertFlagNone))
	}
	require.NoError(t, env.Close(ctx, kvtxn.AutoCleanup))

	env2, err := Open(ctx, path, opts)
	require.NoError(t, err)
	defer env2.Close(ctx, kvtxn.AutoCleanup)
	db2 := env2.CreateDatabase(kvtxn.DatabaseOptions{Name: "people"})
	require.NoError(t, env2.Recover(ctx))

	for i := 0; i < 10; i++ {
		k := []byte{byte(i)}
		rec, err := db2.Find(ctx, nil, k)
		require.NoError(t, err)
		assert.Equal(t, k, rec)
	}
}

func TestEnvironment_OpenTransactionCount(t *testing.T) {
	ctx := context.Background()
	env := openTestEnv(t)
	env.CreateDatabase(kvtxn.DatabaseOptions{Name: "people"})

	assert.Equal(t, 0, env.OpenTransactionCount())
	txn, err := env.Begin(ctx, kvtxn.TxnFlags(0))
	require.NoError(t, err)
	assert.Equal(t, 1, env.OpenTransactionCount())
	require.NoError(t, txn.Commit(ctx))
	assert.Equal(t, 0, env.OpenTransactionCount())
}
