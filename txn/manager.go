package txn

import (
	"bytes"
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/sharedcode/kvtxn"
	"github.com/sharedcode/kvtxn/cache"
)

// Database is one named key/value namespace inside the environment: a
// TxnIndex overlaying a BaseTree (§3, §4.7).
type Database struct {
	Name  uint16
	Opts  kvtxn.DatabaseOptions
	index *TxnIndex
	base  kvtxn.BaseTree
}

// Manager is the environment-level transaction manager (§4.5, C5): owns the
// global txn list, the LSN/txn-id counters, and the flush pipeline. All of
// its public methods take Manager.mu for their entire body and never
// re-acquire it, which is this package's substitute for the spec's
// "reentrant mutex" environment lock — see DESIGN.md.
type Manager struct {
	mu sync.Mutex

	opts kvtxn.EnvironmentOptions
	log  kvtxn.TransactionLog
	lock cache.Lock
	zlog *zap.Logger

	nextLSN   uint64
	nextTxnID uint64

	globalHead, globalTail *LocalTxn

	databases     map[string]*Database
	databasesByID map[uint16]*Database
	nextDBID      uint16

	closed bool
}

// Open creates a Manager bound to log (durability) and lock (the lock
// flushLocked takes around each flush: cache.Standalone or cache.Clustered;
// with a nil lock, flushes take no lock). zlog is a
// structured logger for commit/abort/flush/conflict events; a nil logger
// defaults to zap.NewNop().
func Open(opts kvtxn.EnvironmentOptions, log kvtxn.TransactionLog, lock cache.Lock, zlog *zap.Logger) *Manager {
	if zlog == nil {
		zlog = zap.NewNop()
	}
	return &Manager{
		opts:          opts,
		log:           log,
		lock:          lock,
		zlog:          zlog,
		nextLSN:       1,
		nextTxnID:     1,
		databases:     make(map[string]*Database),
		databasesByID: make(map[uint16]*Database),
	}
}

// AddDatabase registers a database backed by base, returning its handle.
func (m *Manager) AddDatabase(opts kvtxn.DatabaseOptions, base kvtxn.BaseTree) *Database {
	m.mu.Lock()
	defer m.mu.Unlock()

	cmp := opts.KeyComparator
	if cmp == nil {
		cmp = bytes.Compare
	}
	id := m.nextDBID
	m.nextDBID++
	db := &Database{Name: id, Opts: opts, index: newTxnIndex(cmp), base: base}
	m.databases[opts.Name] = db
	m.databasesByID[id] = db
	return db
}

// Recover replays the transaction log, applying every txn whose commit
// record is present directly to each database's base tree (§5 durable
// order guarantee; recovery runs before any live txn exists, so it bypasses
// the TxnIndex and writes straight through).
func (m *Manager) Recover(ctx context.Context) error {
	if m.log == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	type pending struct {
		dbName uint16
		kind   kvtxn.OpKind
		key    []byte
		record []byte
	}
	buffers := make(map[uint64][]pending)
	maxLSN := uint64(0)
	maxTxnID := uint64(0)

	err := m.log.Replay(ctx, func(rec kvtxn.LogRecord) error {
		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
		if rec.TxnID > maxTxnID {
			maxTxnID = rec.TxnID
		}
		switch rec.Kind {
		case kvtxn.LogBegin:
			if _, ok := buffers[rec.TxnID]; !ok {
				buffers[rec.TxnID] = nil
			}
		case kvtxn.LogOp:
			buffers[rec.TxnID] = append(buffers[rec.TxnID], pending{
				dbName: rec.DBName, kind: rec.OpKind, key: rec.Key, record: rec.Record,
			})
		case kvtxn.LogAbort:
			delete(buffers, rec.TxnID)
		case kvtxn.LogCommit:
			for _, p := range buffers[rec.TxnID] {
				db, ok := m.databasesByID[p.dbName]
				if !ok {
					continue
				}
				// The §6.3 wire format carries no duplicate-position field,
				// so a recovered EraseDuplicate always targets position 0;
				// only a fully flushed, checkpointed log (which never
				// needs to carry that op) avoids the ambiguity.
				if err := applyFlush(ctx, db.base, p.kind, p.key, p.record, 0); err != nil {
					return err
				}
			}
			delete(buffers, rec.TxnID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if maxLSN >= m.nextLSN {
		m.nextLSN = maxLSN + 1
	}
	if maxTxnID >= m.nextTxnID {
		m.nextTxnID = maxTxnID + 1
	}
	return nil
}

// Begin starts a new transaction (§4.4). Per §6.4, an environment opened
// without EnableTransactions grants no transaction capability for that
// session even if the underlying file was created with it; bare db_*
// calls still work against it through the internal implicit-txn path below,
// just not through an explicit, caller-visible LocalTxn.
func (m *Manager) Begin(ctx context.Context, flags kvtxn.TxnFlags) (*LocalTxn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.opts.EnableTransactions {
		return nil, kvtxn.Error{Code: kvtxn.InvalidParameter, UserData: "transactions not enabled for this environment"}
	}
	return m.beginLocked(ctx, flags)
}

func (m *Manager) beginLocked(ctx context.Context, flags kvtxn.TxnFlags) (*LocalTxn, error) {
	t := &LocalTxn{
		ID:    m.nextTxnID,
		State: Active,
		Flags: flags,
		mgr:   m,
	}
	m.nextTxnID++

	if m.globalTail == nil {
		m.globalHead, m.globalTail = t, t
	} else {
		t.prevGlobal = m.globalTail
		m.globalTail.nextGlobal = t
		m.globalTail = t
	}

	if m.log != nil {
		lsn := m.nextLSNLocked()
		t.beginLSN = lsn
		if err := m.log.AppendBegin(ctx, lsn, t.ID); err != nil {
			return nil, kvtxn.NewIOError(err)
		}
	}
	return t, nil
}

func (m *Manager) nextLSNLocked() uint64 {
	lsn := m.nextLSN
	m.nextLSN++
	return lsn
}

// withTxn runs fn under an explicit txn, or under a freshly begun/committed
// TemporaryImplicit one when txn is nil (§4.5 implicit txn elision).
func (m *Manager) withTxn(ctx context.Context, txn *LocalTxn, fn func(*LocalTxn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := txn
	implicit := false
	if t == nil {
		var err error
		t, err = m.beginLocked(ctx, kvtxn.TemporaryImplicit)
		if err != nil {
			return err
		}
		implicit = true
	} else if t.poison != nil {
		return t.poison
	}

	err := fn(t)

	if implicit {
		if err != nil {
			_ = m.abortLocked(context.Background(), t)
			return err
		}
		return m.commitLocked(ctx, t)
	}
	return err
}

// Insert implements db_insert (§6.1, §4.6).
func (m *Manager) Insert(ctx context.Context, dbName string, txn *LocalTxn, key, record []byte, flags kvtxn.InsertFlags) error {
	db, err := m.databaseUnlocked(dbName)
	if err != nil {
		return err
	}
	return m.withTxn(ctx, txn, func(t *LocalTxn) error {
		return m.insertLocked(ctx, db, t, key, record, flags)
	})
}

// databaseUnlocked looks a database up without taking the lock, since the
// map itself is only mutated by AddDatabase before concurrent use begins in
// this design (mirrors the teacher's treatment of store/registry maps as
// effectively read-only after open).
func (m *Manager) databaseUnlocked(name string) (*Database, error) {
	db, ok := m.databases[name]
	if !ok {
		return nil, kvtxn.Error{Code: kvtxn.InvalidParameter, UserData: name}
	}
	return db, nil
}

func (m *Manager) insertLocked(ctx context.Context, db *Database, t *LocalTxn, key, record []byte, flags kvtxn.InsertFlags) error {
	node, created := m.getOrCreateNode(db, key)
	op, conflict := resolveVisible(node, t)
	if conflict {
		m.zlog.Debug("txn conflict on insert", zap.Uint64("txnID", t.ID), zap.ByteString("key", key))
		return kvtxn.NewTxnConflictError(key)
	}

	var kind kvtxn.OpKind
	switch {
	case op != nil && present(op):
		switch {
		case flags&kvtxn.Duplicate != 0 && db.Opts.EnableDuplicates:
			kind = kvtxn.OpInsertDuplicate
		case flags&kvtxn.Overwrite != 0:
			kind = kvtxn.OpInsertOverwrite
		default:
			m.maybeDropNode(db, node, created)
			return kvtxn.NewDuplicateKeyError(key)
		}
	case op != nil && !present(op):
		kind = kvtxn.OpInsert
	default:
		// No visible op: consult the base tree.
		rec, found, err := db.base.Find(ctx, key)
		if err != nil {
			t.poison = kvtxn.NewIOError(err)
			return t.poison
		}
		if found {
			switch {
			case flags&kvtxn.Duplicate != 0 && db.Opts.EnableDuplicates:
				kind = kvtxn.OpInsertDuplicate
			case flags&kvtxn.Overwrite != 0:
				kind = kvtxn.OpInsertOverwrite
			default:
				m.maybeDropNode(db, node, created)
				return kvtxn.NewDuplicateKeyError(key)
			}
		} else {
			kind = kvtxn.OpInsert
		}
		if !node.baseSeeded {
			node.baseSeeded = true
			if found {
				node.dupCount = 1 + len(rec.Duplicates)
			}
		}
	}

	m.appendOp(ctx, db, node, t, kind, record, -1)
	return nil
}

// Find implements db_find (§6.1, §4.6).
func (m *Manager) Find(ctx context.Context, dbName string, txn *LocalTxn, key []byte) ([]byte, error) {
	db, err := m.databaseUnlocked(dbName)
	if err != nil {
		return nil, err
	}
	var result []byte
	err = m.withTxn(ctx, txn, func(t *LocalTxn) error {
		rec, ferr := m.findLocked(ctx, db, t, key)
		if ferr != nil {
			return ferr
		}
		result = rec
		return nil
	})
	return result, err
}

func (m *Manager) findLocked(ctx context.Context, db *Database, t *LocalTxn, key []byte) ([]byte, error) {
	node, _ := db.index.get(key, kvtxn.Exact)
	op, conflict := resolveVisible(node, t)
	if conflict {
		m.zlog.Debug("txn conflict on find", zap.Uint64("txnID", t.ID), zap.ByteString("key", key))
		return nil, kvtxn.NewTxnConflictError(key)
	}
	if op != nil {
		if !present(op) {
			return nil, kvtxn.NewKeyNotFoundError(key)
		}
		return append([]byte(nil), op.Record...), nil
	}
	rec, found, err := db.base.Find(ctx, key)
	if err != nil {
		t.poison = kvtxn.NewIOError(err)
		return nil, t.poison
	}
	if !found {
		return nil, kvtxn.NewKeyNotFoundError(key)
	}
	return append([]byte(nil), rec.Record...), nil
}

// Erase implements db_erase (§6.1, §4.6).
func (m *Manager) Erase(ctx context.Context, dbName string, txn *LocalTxn, key []byte) error {
	db, err := m.databaseUnlocked(dbName)
	if err != nil {
		return err
	}
	return m.withTxn(ctx, txn, func(t *LocalTxn) error {
		return m.eraseLocked(ctx, db, t, key)
	})
}

func (m *Manager) eraseLocked(ctx context.Context, db *Database, t *LocalTxn, key []byte) error {
	node, created := m.getOrCreateNode(db, key)
	op, conflict := resolveVisible(node, t)
	if conflict {
		m.zlog.Debug("txn conflict on erase", zap.Uint64("txnID", t.ID), zap.ByteString("key", key))
		return kvtxn.NewTxnConflictError(key)
	}

	exists := op != nil && present(op)
	if op == nil {
		rec, found, err := db.base.Find(ctx, key)
		if err != nil {
			t.poison = kvtxn.NewIOError(err)
			return t.poison
		}
		exists = found
		if !node.baseSeeded {
			node.baseSeeded = true
			if found {
				node.dupCount = 1 + len(rec.Duplicates)
			}
		}
	}
	if !exists {
		m.maybeDropNode(db, node, created)
		return kvtxn.NewKeyNotFoundError(key)
	}

	m.appendOp(ctx, db, node, t, kvtxn.OpErase, nil, -1)
	return nil
}

// eraseDuplicateLocked erases the duplicate at pos for key, used by
// Cursor.Erase when the cursor is positioned on a non-primary duplicate.
func (m *Manager) eraseDuplicateLocked(ctx context.Context, db *Database, t *LocalTxn, key []byte, pos int) error {
	node, created := m.getOrCreateNode(db, key)
	op, conflict := resolveVisible(node, t)
	if conflict {
		return kvtxn.NewTxnConflictError(key)
	}
	if op == nil && !node.baseSeeded {
		rec, found, err := db.base.Find(ctx, key)
		if err != nil {
			t.poison = kvtxn.NewIOError(err)
			return t.poison
		}
		node.baseSeeded = true
		if found {
			node.dupCount = 1 + len(rec.Duplicates)
		}
	}
	if node.dupCount <= 1 {
		m.maybeDropNode(db, node, created)
		return kvtxn.NewKeyNotFoundError(key)
	}

	m.appendOp(ctx, db, node, t, kvtxn.OpEraseDuplicate, nil, pos)
	return nil
}

// Count implements db_count (§6.1, §4.6). Under the chosen resolution of the
// permissive-counting Open Question (DESIGN.md), foreign-active ops never
// turn counting into a conflict: a key whose newest op belongs to a foreign
// Active txn contributes what the base tree holds for it. Committed ops
// beneath that op which have not been flushed yet are not counted.
func (m *Manager) Count(ctx context.Context, dbName string, txn *LocalTxn, flags kvtxn.CountFlags) (uint64, error) {
	db, err := m.databaseUnlocked(dbName)
	if err != nil {
		return 0, err
	}
	var total uint64
	err = m.withTxn(ctx, txn, func(t *LocalTxn) error {
		seen := make(map[string]bool)
		db.index.iterate(func(n *TxnNode) bool {
			seen[string(n.Key)] = true
			op, _ := resolveVisible(n, t)
			if op != nil {
				if present(op) {
					if flags&kvtxn.SkipDuplicates != 0 {
						total++
					} else {
						total += uint64(n.dupCount)
					}
				}
				return true
			}
			rec, found, _ := db.base.Find(ctx, n.Key)
			if found {
				if flags&kvtxn.SkipDuplicates != 0 {
					total++
				} else {
					total += uint64(1 + len(rec.Duplicates))
				}
			}
			return true
		})
		return db.base.Iterate(ctx, func(key []byte, rec *kvtxn.BaseTreeRecord) bool {
			if seen[string(key)] {
				return true
			}
			if flags&kvtxn.SkipDuplicates != 0 {
				total++
			} else {
				total += uint64(1 + len(rec.Duplicates))
			}
			return true
		})
	})
	return total, err
}

// getOrCreateNode returns the TxnNode for key, creating and storing an
// empty one if absent (§4.3 store precondition).
func (m *Manager) getOrCreateNode(db *Database, key []byte) (*TxnNode, bool) {
	if n, ok := db.index.get(key, kvtxn.Exact); ok {
		return n, false
	}
	n := &TxnNode{Key: append([]byte(nil), key...), db: db}
	db.index.store(n)
	return n, true
}

// maybeDropNode removes a just-created, still-empty node when an operation
// on it failed validation (DUPLICATE_KEY/KEY_NOT_FOUND) without appending.
func (m *Manager) maybeDropNode(db *Database, n *TxnNode, created bool) {
	if created && n.reclaimable() {
		db.index.remove(n)
	}
}

// removeFromOwner removes n from the TxnIndex of the database it belongs
// to, using the node's own back-reference rather than a key-equality lookup
// that could collide across databases sharing the same key bytes.
func removeFromOwner(n *TxnNode) {
	if n.db != nil {
		n.db.index.remove(n)
	}
}

// appendOp appends kind to node on behalf of t, updates node.dupCount per
// the duplicate-accounting model, and durably logs the op.
func (m *Manager) appendOp(ctx context.Context, db *Database, node *TxnNode, t *LocalTxn, kind kvtxn.OpKind, record []byte, dupPos int) *TxnOperation {
	prevDup := node.dupCount
	switch kind {
	case kvtxn.OpInsert:
		node.dupCount = 1
	case kvtxn.OpInsertOverwrite:
		if node.dupCount == 0 {
			node.dupCount = 1
		}
	case kvtxn.OpInsertDuplicate:
		node.dupCount++
		dupPos = prevDup
	case kvtxn.OpErase:
		node.dupCount = 0
	case kvtxn.OpEraseDuplicate:
		if node.dupCount > 0 {
			node.dupCount--
		}
	}

	lsn := m.nextLSNLocked()
	op := node.append(t, kind, lsn, append([]byte(nil), record...), dupPos)
	op.prevDupCount = prevDup

	if m.log != nil {
		if err := m.log.AppendOp(ctx, lsn, t.ID, db.Name, kind, node.Key, record, uint32(op.Flags)); err != nil {
			t.poison = kvtxn.NewIOError(err)
			m.zlog.Error("op record append failed", zap.Uint64("txnID", t.ID), zap.Error(err))
		}
	}
	return op
}

// commit implements txn_commit (§4.4, §4.5).
func (m *Manager) commit(ctx context.Context, t *LocalTxn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commitLocked(ctx, t)
}

func (m *Manager) commitLocked(ctx context.Context, t *LocalTxn) error {
	if t.cursorRefs > 0 {
		return kvtxn.Error{Code: kvtxn.CursorStillOpen}
	}
	if t.State != Active {
		return nil
	}
	if t.poison != nil {
		_ = m.abortLocked(ctx, t)
		return t.poison
	}

	for op := t.opHead; op != nil; op = op.nextInTxn {
		op.setCommitted()
	}
	t.State = Committed

	if m.log != nil {
		if err := m.log.AppendCommit(ctx, m.nextLSNLocked(), t.ID); err != nil {
			t.poison = kvtxn.NewIOError(err)
			m.zlog.Error("commit record append failed", zap.Uint64("txnID", t.ID), zap.Error(err))
			return t.poison
		}
	}
	m.zlog.Debug("txn committed", zap.Uint64("txnID", t.ID))

	return m.flushLocked(ctx)
}

// abort implements txn_abort (§4.4), undoing t's ops per node and
// restoring each node's dupCount to its value before t's episode began.
func (m *Manager) abort(ctx context.Context, t *LocalTxn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.abortLocked(ctx, t)
}

func (m *Manager) abortLocked(ctx context.Context, t *LocalTxn) error {
	if t.cursorRefs > 0 {
		return kvtxn.Error{Code: kvtxn.CursorStillOpen}
	}
	if t.State != Active {
		return nil
	}

	firstDupCountByNode := make(map[*TxnNode]int)
	var touched []*TxnNode
	for op := t.opHead; op != nil; op = op.nextInTxn {
		op.setAborted()
		if _, seen := firstDupCountByNode[op.node]; !seen {
			firstDupCountByNode[op.node] = op.prevDupCount
			touched = append(touched, op.node)
		}
	}

	for op := t.opHead; op != nil; {
		next := op.nextInTxn
		op.node.unlinkOp(op)
		op = next
	}
	for _, n := range touched {
		n.dupCount = firstDupCountByNode[n]
	}

	t.State = Aborted
	m.unlinkGlobal(t)
	m.reclaimEmptyNodes(touched)

	if m.log != nil {
		if err := m.log.AppendAbort(ctx, m.nextLSNLocked(), t.ID); err != nil {
			m.zlog.Error("abort record append failed", zap.Uint64("txnID", t.ID), zap.Error(err))
			return kvtxn.NewIOError(err)
		}
	}
	m.zlog.Debug("txn aborted", zap.Uint64("txnID", t.ID))
	return nil
}

// reclaimEmptyNodes removes nodes that no longer have any op needing
// attention and are not pinned by a cursor (§4.2).
func (m *Manager) reclaimEmptyNodes(nodes []*TxnNode) {
	for _, n := range nodes {
		if n.reclaimable() {
			removeFromOwner(n)
		}
	}
}

func (m *Manager) unlinkGlobal(t *LocalTxn) {
	if t.prevGlobal != nil {
		t.prevGlobal.nextGlobal = t.nextGlobal
	} else {
		m.globalHead = t.nextGlobal
	}
	if t.nextGlobal != nil {
		t.nextGlobal.prevGlobal = t.prevGlobal
	} else {
		m.globalTail = t.prevGlobal
	}
}

// flushLocked applies every flushable committed txn's ops to their base
// trees, in id order, starting from the head of the global list (§4.5
// ordering guarantee, §8.1 invariant 4).
func (m *Manager) flushLocked(ctx context.Context) error {
	if m.lock != nil {
		ok, _, err := m.lock.Lock(ctx, "flush", 0)
		if err != nil {
			return kvtxn.NewIOError(err)
		}
		if !ok {
			// Another lock owner holds the flush lock. This call returns
			// without flushing; committed txns stay on this manager's
			// global list until a later flushLocked call gets the lock.
			return nil
		}
		defer m.lock.Unlock(ctx, "flush")
	}
	flushedAny := false
	for {
		t := m.globalHead
		if t == nil || t.State == Active {
			break
		}
		if t.State == Aborted {
			m.unlinkGlobal(t)
			continue
		}

		var touched []*TxnNode
		for op := t.opHead; op != nil; op = op.nextInTxn {
			db := op.node.db
			if db == nil {
				continue
			}
			if err := applyFlush(ctx, db.base, op.Kind, op.node.Key, op.Record, op.DuplicateIndex); err != nil {
				m.zlog.Error("flush failed", zap.Uint64("txnID", t.ID), zap.Error(err))
				return kvtxn.NewIOError(err)
			}
			op.setFlushed()
			op.node.unlinkOp(op)
			touched = append(touched, op.node)
		}
		m.reclaimEmptyNodes(touched)
		m.unlinkGlobal(t)
		flushedAny = true
		m.zlog.Debug("txn flushed", zap.Uint64("txnID", t.ID))
	}

	// Checkpoint once, and only up to the oldest record that could still be
	// needed: any txn still on the global list (Active, or Committed but not
	// yet flushed because an older sibling is still Active) must keep its
	// Begin/Op records in the log, or a later recovery would see its Commit
	// record with nothing to replay.
	if m.log != nil && flushedAny {
		safe := m.nextLSN - 1
		if m.globalHead != nil {
			safe = m.globalHead.beginLSN - 1
		}
		_ = m.log.Checkpoint(ctx, safe)
	}
	return nil
}

// applyFlush translates one TxnOperation into exactly one BaseTree call (§4.7, §6.3).
func applyFlush(ctx context.Context, base kvtxn.BaseTree, kind kvtxn.OpKind, key, record []byte, dupIndex int) error {
	switch kind {
	case kvtxn.OpInsert:
		return base.Insert(ctx, key, record, kvtxn.InsertNone)
	case kvtxn.OpInsertOverwrite:
		return base.Insert(ctx, key, record, kvtxn.InsertOverwrite)
	case kvtxn.OpInsertDuplicate:
		return base.Insert(ctx, key, record, kvtxn.InsertDuplicate)
	case kvtxn.OpErase:
		return base.Erase(ctx, key, nil)
	case kvtxn.OpEraseDuplicate:
		pos := dupIndex
		return base.Erase(ctx, key, &pos)
	default:
		return nil
	}
}

// Close implements db_close/env close (§6.1, §4.5 auto-close behaviour).
func (m *Manager) Close(ctx context.Context, flags kvtxn.CloseFlags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}

	if m.globalHead != nil && flags&kvtxn.AutoCleanup == 0 {
		return kvtxn.Error{Code: kvtxn.TxnStillOpen}
	}
	for t := m.globalHead; t != nil; {
		next := t.nextGlobal
		if flags&kvtxn.TxnAutoCommit != 0 {
			_ = m.commitLocked(ctx, t)
		} else {
			_ = m.abortLocked(ctx, t)
		}
		t = next
	}

	m.closed = true
	if m.log != nil {
		return m.log.Close()
	}
	return nil
}

// OpenTransactionCount reports the number of non-terminal txns, used by the
// upscaledb-derived auto-abort-on-leak supplement (SPEC_FULL §12) instead of
// a GC finalizer.
func (m *Manager) OpenTransactionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for t := m.globalHead; t != nil; t = t.nextGlobal {
		if t.State == Active {
			n++
		}
	}
	return n
}
