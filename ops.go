package kvtxn

// OpKind is the kind of a single TxnOperation (§3), shared by the root
// package's TransactionLog wire contract and the txn package's in-memory
// operation log so the WAL can be replayed without a circular import.
type OpKind uint8

const (
	OpNop OpKind = iota
	OpInsert
	OpInsertOverwrite
	OpInsertDuplicate
	OpErase
	OpEraseDuplicate
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "Insert"
	case OpInsertOverwrite:
		return "InsertOverwrite"
	case OpInsertDuplicate:
		return "InsertDuplicate"
	case OpErase:
		return "Erase"
	case OpEraseDuplicate:
		return "EraseDuplicate"
	default:
		return "Nop"
	}
}

// OpFlags is the per-operation bitset from §3 (IsCommitted/IsAborted/...).
type OpFlags uint32

const (
	FlagCommitted OpFlags = 1 << iota
	FlagAborted
	FlagFlushed
	FlagConflicting
)

// TxnFlags mirrors upscaledb's txn_begin bitset (§6.1, SPEC_FULL §12).
type TxnFlags uint32

const (
	ReadOnly TxnFlags = 1 << iota
	TemporaryImplicit
)

// InsertFlags mirrors db_insert's bitset (§6.1).
type InsertFlags uint32

const (
	InsertFlagNone      InsertFlags = 0
	Overwrite           InsertFlags = 1 << 0
	Duplicate           InsertFlags = 1 << 1
)

// CountFlags mirrors db_count's bitset (§6.1).
type CountFlags uint32

const (
	CountFlagNone  CountFlags = 0
	SkipDuplicates CountFlags = 1 << 0
)

// CloseFlags mirrors db_close's bitset (§6.1, §4.5).
type CloseFlags uint32

const (
	CloseFlagNone  CloseFlags = 0
	AutoCleanup    CloseFlags = 1 << 0
	TxnAutoCommit  CloseFlags = 1 << 1
)

// EnvironmentOptions are the environment-level flags from §6.2 that affect
// this subsystem.
type EnvironmentOptions struct {
	EnableTransactions  bool
	EnableDuplicateKeys bool
	InMemory            bool
	AutoCleanup         bool
	TxnAutoCommit       bool
	// Clustered selects the Redis-backed environment lock (cache.Clustered)
	// instead of the default in-process one (cache.Standalone). See
	// SPEC_FULL §11.
	Clustered   bool
	RedisAddr   string
}

// DatabaseOptions describes one database's key spec within an environment
// (§3), mirroring the teacher's per-store StoreOptions.
type DatabaseOptions struct {
	Name              string
	EnableDuplicates  bool
	// DuplicateComparator, when set, orders duplicates of the same key by
	// this comparator instead of insertion order (Open Question, §9 — see
	// DESIGN.md for the decision).
	DuplicateComparator func(a, b []byte) int
	// KeyComparator orders keys; defaults to bytes.Compare (lexicographic).
	KeyComparator func(a, b []byte) int
}
