// Package store provides the reference BaseTree implementation (§4.7): the
// flushed, durable state the transaction layer reads through on miss and
// writes through on commit. It is grounded on the teacher's StoreInfo/
// StoreOptions split (store_info.go, storeoptions.go) trimmed to this
// subsystem's needs, backed by github.com/tidwall/btree for ordered
// iteration the same way the mukeshjc-mvcc-isolation example uses it for
// its in-memory index.
package store

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/tidwall/btree"

	"github.com/sharedcode/kvtxn"
)

// Info describes one database's flushed-storage configuration, mirroring
// the teacher's StoreOptions trimmed to what an embedded BaseTree needs.
type Info struct {
	Name             string
	EnableDuplicates bool
	KeyComparator    func(a, b []byte) int
	// DuplicateComparator, when set, keeps a key's duplicates sorted by this
	// comparator; when nil, duplicates are kept in insertion order. This is
	// the chosen resolution of the duplicate-ordering Open Question — see
	// DESIGN.md.
	DuplicateComparator func(a, b []byte) int
}

type entry struct {
	key        []byte
	record     []byte
	duplicates [][]byte
}

// Tree is an in-memory BaseTree (kvtxn.BaseTree) backed by an ordered
// btree.Map, suitable for IN_MEMORY environments and as the durable layer's
// index for on-disk deployments that snapshot through Save/Load.
type Tree struct {
	mu   sync.RWMutex
	info Info
	data *btree.Map[string, *entry]
}

// New creates an empty Tree for the given database info. info.KeyComparator
// is honored by the txn package's TxnIndex (which orders the live working
// set); the flushed btree.Map[string,...] here always orders keys by plain
// byte comparison, which matches the default comparator used when no custom
// one is supplied.
func New(info Info) *Tree {
	return &Tree{info: info, data: btree.NewMap[string, *entry](0)}
}

func k(key []byte) string { return string(key) }

// Find implements kvtxn.BaseTree.
func (t *Tree) Find(ctx context.Context, key []byte) (*kvtxn.BaseTreeRecord, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.data.Get(k(key))
	if !ok {
		return nil, false, nil
	}
	rec := &kvtxn.BaseTreeRecord{Record: cloneBytes(e.record)}
	for i, d := range e.duplicates {
		rec.Duplicates = append(rec.Duplicates, kvtxn.DuplicateRecord{Record: cloneBytes(d), Position: i})
	}
	return rec, true, nil
}

// Insert implements kvtxn.BaseTree.
func (t *Tree) Insert(ctx context.Context, key, record []byte, flags kvtxn.BaseTreeInsertFlags) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, exists := t.data.Get(k(key))
	switch {
	case !exists:
		t.data.Set(k(key), &entry{key: cloneBytes(key), record: cloneBytes(record)})
		return nil
	case flags&kvtxn.InsertDuplicate != 0:
		if !t.info.EnableDuplicates {
			return kvtxn.NewDuplicateKeyError(key)
		}
		e.duplicates = insertDuplicate(e.duplicates, cloneBytes(record), t.info.DuplicateComparator)
		return nil
	case flags&kvtxn.InsertOverwrite != 0:
		e.record = cloneBytes(record)
		return nil
	default:
		return kvtxn.NewDuplicateKeyError(key)
	}
}

// Erase implements kvtxn.BaseTree.
func (t *Tree) Erase(ctx context.Context, key []byte, duplicatePos *int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, exists := t.data.Get(k(key))
	if !exists {
		return kvtxn.NewKeyNotFoundError(key)
	}
	if duplicatePos == nil {
		t.data.Delete(k(key))
		return nil
	}
	pos := *duplicatePos
	if pos < 0 || pos >= len(e.duplicates) {
		return kvtxn.NewKeyNotFoundError(key)
	}
	e.duplicates = append(e.duplicates[:pos], e.duplicates[pos+1:]...)
	return nil
}

// Count implements kvtxn.BaseTree.
func (t *Tree) Count(ctx context.Context, skipDuplicates bool) (uint64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var n uint64
	t.data.Scan(func(_ string, e *entry) bool {
		n++
		if !skipDuplicates {
			n += uint64(len(e.duplicates))
		}
		return true
	})
	return n, nil
}

// Iterate implements kvtxn.BaseTree, visiting keys in ascending order.
func (t *Tree) Iterate(ctx context.Context, f func(key []byte, rec *kvtxn.BaseTreeRecord) bool) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.data.Scan(func(_ string, e *entry) bool {
		rec := &kvtxn.BaseTreeRecord{Record: cloneBytes(e.record)}
		for i, d := range e.duplicates {
			rec.Duplicates = append(rec.Duplicates, kvtxn.DuplicateRecord{Record: cloneBytes(d), Position: i})
		}
		return f(cloneBytes(e.key), rec)
	})
	return nil
}

// snapshotEntry is the on-disk shape of one Tree entry, serialized with
// encoding/json the same way the teacher's encoding.Marshaler defaults to
// json for whole-object persistence (encoding/encoding.go).
type snapshotEntry struct {
	Key        []byte   `json:"key"`
	Record     []byte   `json:"record"`
	Duplicates [][]byte `json:"duplicates,omitempty"`
}

// Save writes every entry to w, one JSON object per line in ascending key
// order, so a reopened on-disk environment can restore its base tree without
// replaying the WAL records that produced it — those are checkpointed away
// as soon as they're flushed (see File.Checkpoint in package wal). Save is the only point at
// which this Tree's contents become durable; a crash between a flush and
// the next Save still loses whatever that flush applied.
func (t *Tree) Save(w io.Writer) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	enc := json.NewEncoder(w)
	var encErr error
	t.data.Scan(func(_ string, e *entry) bool {
		encErr = enc.Encode(snapshotEntry{Key: e.key, Record: e.record, Duplicates: e.duplicates})
		return encErr == nil
	})
	return encErr
}

// Load replaces the tree's contents with the snapshot read from r, as
// written by Save. An empty or absent snapshot is a no-op from the caller's
// perspective: the caller should simply not call Load when no snapshot file
// exists yet.
func (t *Tree) Load(r io.Reader) error {
	dec := json.NewDecoder(r)
	data := btree.NewMap[string, *entry](0)
	for {
		var se snapshotEntry
		if err := dec.Decode(&se); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		data.Set(k(se.Key), &entry{key: se.Key, record: se.Record, duplicates: se.Duplicates})
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = data
	return nil
}

// insertDuplicate places record among dups: at the end (insertion order) when
// cmp is nil, or at its sorted position when a duplicate comparator is set.
func insertDuplicate(dups [][]byte, record []byte, cmp func(a, b []byte) int) [][]byte {
	if cmp == nil {
		return append(dups, record)
	}
	pos := len(dups)
	for i, d := range dups {
		if cmp(record, d) < 0 {
			pos = i
			break
		}
	}
	dups = append(dups, nil)
	copy(dups[pos+1:], dups[pos:])
	dups[pos] = record
	return dups
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
