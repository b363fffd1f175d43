// Package engine is the top-level facade wiring kvtxn's leaf packages
// (cache, wal, store, txn) into the Environment/Database/Transaction/Cursor
// surface a caller actually opens (§2, §6.1). It lives outside the root
// kvtxn package specifically so it can import txn, cache, wal, and store
// without creating an import cycle (txn already imports the root kvtxn
// package for its shared types).
package engine

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/sharedcode/kvtxn"
	"github.com/sharedcode/kvtxn/cache"
	"github.com/sharedcode/kvtxn/store"
	"github.com/sharedcode/kvtxn/txn"
	"github.com/sharedcode/kvtxn/wal"
)

// Environment is one opened engine instance: a transaction log, a lock, and
// zero or more databases (§2 GLOSSARY).
type Environment struct {
	opts  kvtxn.EnvironmentOptions
	path  string
	log   kvtxn.TransactionLog
	lock  cache.Lock
	mgr   *txn.Manager
	trees map[string]*store.Tree
}

// Open creates or opens an environment at path (ignored when opts.InMemory)
// with the given options (§6.2). It does not by itself replay the
// write-ahead log: a reopened environment has no persisted catalog of
// database names to recover into yet, so the caller must call
// CreateDatabase for every database it had open before, in the same order
// it originally created them (database identity is assigned by creation
// order, not persisted by name), and only then call Recover. Commit/abort/
// flush/conflict events are discarded; use OpenWithLogger to observe them.
func Open(ctx context.Context, path string, opts kvtxn.EnvironmentOptions) (*Environment, error) {
	return OpenWithLogger(ctx, path, opts, zap.NewNop())
}

// OpenWithLogger is Open with a caller-supplied structured logger for
// commit/abort/flush/conflict events (SPEC_FULL §10). A nil zlog behaves
// like Open.
func OpenWithLogger(ctx context.Context, path string, opts kvtxn.EnvironmentOptions, zlog *zap.Logger) (*Environment, error) {
	var log kvtxn.TransactionLog
	var err error
	if opts.InMemory {
		log = wal.NewMemory()
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, kvtxn.NewIOError(mkErr)
		}
		log, err = wal.Open(path)
		if err != nil {
			return nil, err
		}
	}

	ownerID := kvtxn.NewUUID()
	var lock cache.Lock
	if opts.Clustered {
		lock = cache.NewClustered(opts.RedisAddr, ownerID)
	} else {
		lock = cache.NewStandalone(ownerID)
	}

	mgr := txn.Open(opts, log, lock, zlog)
	return &Environment{opts: opts, path: path, log: log, lock: lock, mgr: mgr}, nil
}

// Recover replays the write-ahead log into whatever databases have been
// registered with CreateDatabase so far (§5 durable order guarantee). Call
// it once, after re-registering every database a previous session had
// open, before running any other operation against this environment.
func (e *Environment) Recover(ctx context.Context) error {
	return e.mgr.Recover(ctx)
}

// CreateDatabase registers a named database backed by an in-memory
// store.Tree (§4.7, C7). On-disk base-tree implementations plug in the same
// way by constructing their own kvtxn.BaseTree and calling AddDatabase. For
// a non-InMemory environment, if this database was snapshotted by a
// previous Close, its contents are restored from that snapshot before
// Recover replays whatever the WAL still holds on top of it.
func (e *Environment) CreateDatabase(opts kvtxn.DatabaseOptions) *Database {
	// §6.2: ENABLE_DUPLICATE_KEYS is an environment-wide gate, not just a
	// per-database convenience flag — a database asking for duplicates
	// inside an environment that wasn't opened with it gets none.
	opts.EnableDuplicates = opts.EnableDuplicates && e.opts.EnableDuplicateKeys
	base := store.New(store.Info{
		Name:                opts.Name,
		EnableDuplicates:    opts.EnableDuplicates,
		KeyComparator:       opts.KeyComparator,
		DuplicateComparator: opts.DuplicateComparator,
	})
	if !e.opts.InMemory {
		if f, err := os.Open(e.snapshotPath(opts.Name)); err == nil {
			_ = base.Load(f)
			f.Close()
		}
		if e.trees == nil {
			e.trees = make(map[string]*store.Tree)
		}
		e.trees[opts.Name] = base
	}
	db := e.mgr.AddDatabase(opts, base)
	return &Database{env: e, name: opts.Name, db: db}
}

// snapshotPath is where CreateDatabase/Close persist name's base tree,
// alongside the environment's WAL file.
func (e *Environment) snapshotPath(name string) string {
	return e.path + "." + name + ".snapshot"
}

// Begin starts a new transaction (§6.1 txn_begin).
func (e *Environment) Begin(ctx context.Context, flags kvtxn.TxnFlags) (*Transaction, error) {
	t, err := e.mgr.Begin(ctx, flags)
	if err != nil {
		return nil, err
	}
	return &Transaction{env: e, t: t}, nil
}

// Close implements env close (§6.1 db_close semantics applied at the
// environment level), snapshots every registered database's base tree for
// a non-InMemory environment, and releases the lock backend.
func (e *Environment) Close(ctx context.Context, flags kvtxn.CloseFlags) error {
	if err := e.mgr.Close(ctx, flags); err != nil {
		return err
	}
	for name, tree := range e.trees {
		if err := e.saveSnapshot(name, tree); err != nil {
			return err
		}
	}
	return e.lock.Close()
}

func (e *Environment) saveSnapshot(name string, tree *store.Tree) error {
	f, err := os.OpenFile(e.snapshotPath(name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return kvtxn.NewIOError(err)
	}
	defer f.Close()
	if err := tree.Save(f); err != nil {
		return kvtxn.NewIOError(err)
	}
	return f.Sync()
}

// OpenTransactionCount reports the number of non-terminal transactions
// (SPEC_FULL §12 leak-detection supplement).
func (e *Environment) OpenTransactionCount() int {
	return e.mgr.OpenTransactionCount()
}

// Database is a named key/value namespace handle (§6.1 db_* operations).
type Database struct {
	env  *Environment
	name string
	db   *txn.Database
}

func (d *Database) localTxn(t *Transaction) *txn.LocalTxn {
	if t == nil {
		return nil
	}
	return t.t
}

// Insert implements db_insert.
func (d *Database) Insert(ctx context.Context, t *Transaction, key, record []byte, flags kvtxn.InsertFlags) error {
	return d.env.mgr.Insert(ctx, d.name, d.localTxn(t), key, record, flags)
}

// Find implements db_find.
func (d *Database) Find(ctx context.Context, t *Transaction, key []byte) ([]byte, error) {
	return d.env.mgr.Find(ctx, d.name, d.localTxn(t), key)
}

// Erase implements db_erase.
func (d *Database) Erase(ctx context.Context, t *Transaction, key []byte) error {
	return d.env.mgr.Erase(ctx, d.name, d.localTxn(t), key)
}

// Count implements db_count.
func (d *Database) Count(ctx context.Context, t *Transaction, flags kvtxn.CountFlags) (uint64, error) {
	return d.env.mgr.Count(ctx, d.name, d.localTxn(t), flags)
}

// CursorCreate implements cursor_create, bound to t (which must be non-nil).
func (d *Database) CursorCreate(ctx context.Context, t *Transaction) (*txn.Cursor, error) {
	return d.env.mgr.CursorCreate(ctx, d.name, d.localTxn(t))
}

// Transaction wraps a txn.LocalTxn with the Environment it belongs to.
type Transaction struct {
	env *Environment
	t   *txn.LocalTxn
}

// ID returns the transaction's monotonic identifier.
func (t *Transaction) ID() uint64 { return t.t.ID }

// Commit implements txn_commit.
func (t *Transaction) Commit(ctx context.Context) error { return t.t.Commit(ctx) }

// Abort implements txn_abort.
func (t *Transaction) Abort(ctx context.Context) error { return t.t.Abort(ctx) }
