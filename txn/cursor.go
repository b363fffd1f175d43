package txn

import (
	"bytes"
	"context"
	"sort"

	"github.com/sharedcode/kvtxn"
)

// MoveKind selects which direction cursor_move travels (§6.1).
type MoveKind int

const (
	First MoveKind = iota
	Last
	Next
	Prev
)

// Cursor is bound to one txn and one database for its entire lifetime (§5):
// it pins its txn (cursor_refs) so the txn cannot terminate while the
// cursor is open, and it pins the TxnNode of the key it is currently
// positioned on (§4.2) so that node survives reclaim even if its op list
// empties out from under it (e.g. the key it sits on gets flushed by
// another txn's commit while this cursor is still open).
type Cursor struct {
	mgr    *Manager
	db     *Database
	txn    *LocalTxn
	node   *TxnNode
	key    []byte
	dupPos int
	open   bool
}

// CursorCreate implements cursor_create (§6.1). txn must be non-nil and Active.
func (m *Manager) CursorCreate(ctx context.Context, dbName string, txn *LocalTxn) (*Cursor, error) {
	db, err := m.databaseUnlocked(dbName)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, kvtxn.Error{Code: kvtxn.InvalidParameter, UserData: "cursor requires an explicit txn"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	txn.pinCursor()
	return &Cursor{mgr: m, db: db, txn: txn}, nil
}

// Clone implements cursor_clone: an independent cursor at the same position,
// sharing the same txn (and pinning it again) and pinning the same node
// again, since the clone now holds its own independent reference to it.
func (c *Cursor) Clone() *Cursor {
	c.mgr.mu.Lock()
	defer c.mgr.mu.Unlock()
	c.txn.pinCursor()
	if c.node != nil {
		c.node.pin()
	}
	return &Cursor{mgr: c.mgr, db: c.db, txn: c.txn, node: c.node, key: append([]byte(nil), c.key...), dupPos: c.dupPos, open: c.open}
}

// Close implements cursor_close, unpinning the owning txn and the node the
// cursor was positioned on, if any.
func (c *Cursor) Close() error {
	c.mgr.mu.Lock()
	defer c.mgr.mu.Unlock()
	c.txn.unpinCursor()
	c.unpinNode()
	c.open = false
	return nil
}

// setPosition moves the cursor to node/key, unpinning whatever node it was
// previously positioned on and pinning node in its place (§4.2).
func (c *Cursor) setPosition(node *TxnNode, key []byte) {
	if c.node != node {
		c.unpinNode()
		node.pin()
		c.node = node
	}
	c.key = append([]byte(nil), key...)
	c.dupPos = 0
	c.open = true
}

// unpinNode releases the cursor's hold on its current node, if any, and lets
// the manager reclaim it immediately if nothing else keeps it alive.
func (c *Cursor) unpinNode() {
	if c.node == nil {
		return
	}
	c.node.unpin()
	c.mgr.reclaimEmptyNodes([]*TxnNode{c.node})
	c.node = nil
}

func (c *Cursor) keyCmp() func(a, b []byte) int {
	if cmp := c.db.Opts.KeyComparator; cmp != nil {
		return cmp
	}
	return bytes.Compare
}

// mergedKeys returns every key visible to c.txn across the TxnIndex and the
// base tree, in ascending key order (§6.1 move primitives). Materializing
// the full key set per move call trades iterator efficiency for a simple,
// obviously-correct merge; acceptable for an embedded engine's in-process
// cursor, not for a production streaming B-tree cursor.
func (c *Cursor) mergedKeys(ctx context.Context) ([]string, error) {
	visible := map[string]bool{}
	excluded := map[string]bool{}

	c.db.index.iterate(func(n *TxnNode) bool {
		op, conflict := resolveVisible(n, c.txn)
		if conflict {
			return true
		}
		if op != nil {
			if present(op) {
				visible[string(n.Key)] = true
			} else {
				excluded[string(n.Key)] = true
			}
		}
		return true
	})

	err := c.db.base.Iterate(ctx, func(key []byte, rec *kvtxn.BaseTreeRecord) bool {
		s := string(key)
		if !excluded[s] {
			visible[s] = true
		}
		return true
	})
	if err != nil {
		return nil, kvtxn.NewIOError(err)
	}

	keys := make([]string, 0, len(visible))
	for k := range visible {
		keys = append(keys, k)
	}
	cmp := c.keyCmp()
	sort.Slice(keys, func(i, j int) bool { return cmp([]byte(keys[i]), []byte(keys[j])) < 0 })
	return keys, nil
}

// Move implements cursor_move first|last|next|prev (§6.1).
func (c *Cursor) Move(ctx context.Context, kind MoveKind) error {
	c.mgr.mu.Lock()
	defer c.mgr.mu.Unlock()

	keys, err := c.mergedKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return kvtxn.NewKeyNotFoundError(c.key)
	}

	var target string
	switch kind {
	case First:
		target = keys[0]
	case Last:
		target = keys[len(keys)-1]
	case Next, Prev:
		idx := -1
		for i, k := range keys {
			if bytes.Equal([]byte(k), c.key) {
				idx = i
				break
			}
		}
		if idx == -1 {
			return kvtxn.NewKeyNotFoundError(c.key)
		}
		if kind == Next {
			if idx+1 >= len(keys) {
				return kvtxn.NewKeyNotFoundError(c.key)
			}
			target = keys[idx+1]
		} else {
			if idx-1 < 0 {
				return kvtxn.NewKeyNotFoundError(c.key)
			}
			target = keys[idx-1]
		}
	}

	node, _ := c.mgr.getOrCreateNode(c.db, []byte(target))
	c.setPosition(node, []byte(target))
	return nil
}

// Find implements cursor_find: an exact match reads through the TxnIndex
// then the base tree directly; an approximate match (LessThan/GreaterThan/
// LessEqual/GreaterEqual) walks the same merged, visible key set Move uses,
// so a neighbour that has already been committed and flushed (and so has no
// live TxnNode left in the index) is still found.
func (c *Cursor) Find(ctx context.Context, key []byte, flags kvtxn.FindFlags) ([]byte, error) {
	c.mgr.mu.Lock()
	defer c.mgr.mu.Unlock()

	rec, err := c.mgr.findLocked(ctx, c.db, c.txn, key)
	if err == nil {
		node, _ := c.mgr.getOrCreateNode(c.db, key)
		c.setPosition(node, key)
		return rec, nil
	}
	if flags == kvtxn.Exact || kvtxn.Is(err, kvtxn.TxnConflict) {
		return nil, err
	}

	keys, mErr := c.mergedKeys(ctx)
	if mErr != nil {
		return nil, mErr
	}
	cmp := c.keyCmp()
	idx := sort.Search(len(keys), func(i int) bool { return cmp([]byte(keys[i]), key) >= 0 })

	var target string
	switch {
	case flags&kvtxn.GreaterEqual != 0:
		if idx >= len(keys) {
			return nil, kvtxn.NewKeyNotFoundError(key)
		}
		target = keys[idx]
	case flags&kvtxn.GreaterThan != 0:
		if idx < len(keys) && cmp([]byte(keys[idx]), key) == 0 {
			idx++
		}
		if idx >= len(keys) {
			return nil, kvtxn.NewKeyNotFoundError(key)
		}
		target = keys[idx]
	case flags&kvtxn.LessEqual != 0:
		if idx < len(keys) && cmp([]byte(keys[idx]), key) == 0 {
			target = keys[idx]
		} else if idx-1 >= 0 {
			target = keys[idx-1]
		} else {
			return nil, kvtxn.NewKeyNotFoundError(key)
		}
	case flags&kvtxn.LessThan != 0:
		if idx-1 < 0 {
			return nil, kvtxn.NewKeyNotFoundError(key)
		}
		target = keys[idx-1]
	default:
		return nil, kvtxn.NewKeyNotFoundError(key)
	}

	rec, err = c.mgr.findLocked(ctx, c.db, c.txn, []byte(target))
	if err != nil {
		return nil, err
	}
	node, _ := c.mgr.getOrCreateNode(c.db, []byte(target))
	c.setPosition(node, []byte(target))
	return rec, nil
}

// Insert implements cursor_insert, delegating to the same visibility rules
// as db_insert at the cursor's bound txn.
func (c *Cursor) Insert(ctx context.Context, key, record []byte, flags kvtxn.InsertFlags) error {
	c.mgr.mu.Lock()
	defer c.mgr.mu.Unlock()
	if err := c.mgr.insertLocked(ctx, c.db, c.txn, key, record, flags); err != nil {
		return err
	}
	node, _ := c.mgr.getOrCreateNode(c.db, key)
	c.setPosition(node, key)
	return nil
}

// Overwrite implements cursor_overwrite: replace the record at the cursor's
// current position (equivalent to an OVERWRITE insert at the same key).
func (c *Cursor) Overwrite(ctx context.Context, record []byte) error {
	c.mgr.mu.Lock()
	defer c.mgr.mu.Unlock()
	if !c.open {
		return kvtxn.NewKeyNotFoundError(nil)
	}
	if err := c.mgr.insertLocked(ctx, c.db, c.txn, c.key, record, kvtxn.Overwrite); err != nil {
		return err
	}
	node, _ := c.mgr.getOrCreateNode(c.db, c.key)
	c.setPosition(node, c.key)
	return nil
}

// Erase implements cursor_erase at the cursor's current position (and
// duplicate index, if any).
func (c *Cursor) Erase(ctx context.Context) error {
	c.mgr.mu.Lock()
	defer c.mgr.mu.Unlock()
	if !c.open {
		return kvtxn.NewKeyNotFoundError(nil)
	}
	if c.dupPos > 0 {
		return c.mgr.eraseDuplicateLocked(ctx, c.db, c.txn, c.key, c.dupPos)
	}
	return c.mgr.eraseLocked(ctx, c.db, c.txn, c.key)
}

// GetRecordSize implements cursor_get_record_size.
func (c *Cursor) GetRecordSize(ctx context.Context) (int, error) {
	c.mgr.mu.Lock()
	defer c.mgr.mu.Unlock()
	rec, err := c.mgr.findLocked(ctx, c.db, c.txn, c.key)
	if err != nil {
		return 0, err
	}
	return len(rec), nil
}

// GetDuplicatePosition implements cursor_get_duplicate_position.
func (c *Cursor) GetDuplicatePosition() int {
	return c.dupPos
}

// DuplicateCount reports the number of live records (primary plus
// duplicates) at the cursor's current key, seeding the count from the base
// tree lazily the same way insert/erase do if nothing has touched this key
// yet this session.
func (c *Cursor) DuplicateCount(ctx context.Context) (int, error) {
	c.mgr.mu.Lock()
	defer c.mgr.mu.Unlock()
	if !c.open {
		return 0, kvtxn.NewKeyNotFoundError(nil)
	}

	op, conflict := resolveVisible(c.node, c.txn)
	if conflict {
		return 0, kvtxn.NewTxnConflictError(c.key)
	}
	if op != nil {
		if !present(op) {
			return 0, kvtxn.NewKeyNotFoundError(c.key)
		}
		return c.node.dupCount, nil
	}
	if c.node.baseSeeded {
		return c.node.dupCount, nil
	}

	rec, found, err := c.db.base.Find(ctx, c.key)
	if err != nil {
		return 0, kvtxn.NewIOError(err)
	}
	if !found {
		return 0, kvtxn.NewKeyNotFoundError(c.key)
	}
	c.node.baseSeeded = true
	c.node.dupCount = 1 + len(rec.Duplicates)
	return c.node.dupCount, nil
}
