package kvtxn

import "context"

// KeyValuePair is a generic key/value tuple. Mirrors the teacher's
// sop.KeyValuePair; no package in this module uses it.
type KeyValuePair[TK any, TV any] struct {
	Key   TK
	Value TV
}

// FindFlags selects an approximate-match mode for TxnIndex / Cursor lookups,
// mirroring upscaledb's UPS_FIND_*_MATCH cursor flags (see SPEC_FULL §12).
type FindFlags uint32

const (
	// Exact requires an exact key match.
	Exact FindFlags = 0
	LessThan FindFlags = 1 << (iota - 1)
	GreaterThan
	LessEqual
	GreaterEqual
)

// DuplicateRecord is one occurrence of a key when the owning database
// enables duplicates.
type DuplicateRecord struct {
	Record   []byte
	Position int
}

// BaseTreeRecord is what BaseTree.Find returns for a key: either a single
// record, or — when the database enables duplicates — the full ordered list
// of duplicates.
type BaseTreeRecord struct {
	Record     []byte
	Duplicates []DuplicateRecord
}

// BaseTreeInsertFlags mirrors db_insert's OVERWRITE/DUPLICATE flags (§6.1).
type BaseTreeInsertFlags uint32

const (
	InsertNone      BaseTreeInsertFlags = 0
	InsertOverwrite BaseTreeInsertFlags = 1 << 0
	InsertDuplicate BaseTreeInsertFlags = 1 << 1
)

// BaseTree is the narrow trait this subsystem requires of the on-disk B-tree
// (§4.7, §6.3). It is the only way the transaction layer touches persisted,
// already-flushed state: reads-through on miss, erases, counting, and the
// commit-time flush translation. Implementations own their own locking; all
// methods may block.
type BaseTree interface {
	// Find returns the flushed record(s) for key, or (nil, false, nil) if absent.
	Find(ctx context.Context, key []byte) (*BaseTreeRecord, bool, error)
	// Insert applies a flushed insert/overwrite/duplicate-add for key.
	Insert(ctx context.Context, key, record []byte, flags BaseTreeInsertFlags) error
	// Erase removes key (duplicatePos == nil) or one duplicate at duplicatePos.
	Erase(ctx context.Context, key []byte, duplicatePos *int) error
	// Count returns the number of flushed keys (or key+duplicate occurrences
	// when skipDuplicates is false).
	Count(ctx context.Context, skipDuplicates bool) (uint64, error)
	// Iterate calls f for every flushed key in ascending key order until f
	// returns false or all keys have been visited.
	Iterate(ctx context.Context, f func(key []byte, rec *BaseTreeRecord) bool) error
}

// LogRecordKind identifies the kind of a persisted WAL record (§6.3).
type LogRecordKind uint8

const (
	LogBegin LogRecordKind = iota
	LogOp
	LogCommit
	LogAbort
	LogCheckpoint
)

// LogRecord is one decoded entry of the write-ahead log.
type LogRecord struct {
	LSN      uint64
	TxnID    uint64
	Kind     LogRecordKind
	DBName   uint16
	OpKind   OpKind
	Key      []byte
	Record   []byte
	OpFlags  uint32
}

// TransactionLog is the append-only, durable backing store for the WAL
// described in §6.3: ordered-append, fsync, and checkpoint/truncate. It is
// the one genuinely external collaborator the flush pipeline depends on for
// durability; see kvtxn/wal for the file-backed and in-memory implementations.
type TransactionLog interface {
	// AppendBegin/AppendOp/AppendCommit/AppendAbort append one record each,
	// in LSN order, returning once the record is durable (or cached, for the
	// in-memory implementation).
	AppendBegin(ctx context.Context, lsn, txnID uint64) error
	AppendOp(ctx context.Context, lsn, txnID uint64, dbName uint16, kind OpKind, key, record []byte, flags uint32) error
	AppendCommit(ctx context.Context, lsn, txnID uint64) error
	AppendAbort(ctx context.Context, lsn, txnID uint64) error
	// Checkpoint records that every op up to and including lsn has been
	// flushed into the base tree, allowing the log to be truncated/rotated.
	Checkpoint(ctx context.Context, lsn uint64) error
	// Replay streams every record appended since the last checkpoint, in LSN
	// order, used for crash recovery on environment open.
	Replay(ctx context.Context, f func(LogRecord) error) error
	// Close releases any open file handles.
	Close() error
}
