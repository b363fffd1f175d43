package txn

import (
	"context"

	"github.com/sharedcode/kvtxn"
)

// State is a LocalTxn's lifecycle state (§3, C4).
type State int

const (
	Active State = iota
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Committed:
		return "Committed"
	case Aborted:
		return "Aborted"
	default:
		return "Active"
	}
}

// LocalTxn is the transaction object: identity, state, membership in the
// environment's global ordered list, and the set of ops it owns (§3, C4).
type LocalTxn struct {
	ID    uint64
	State State
	Flags kvtxn.TxnFlags

	mgr            *Manager
	beginLSN       uint64
	opHead, opTail *TxnOperation
	cursorRefs     int

	prevGlobal, nextGlobal *LocalTxn

	// poison is set on IO/OOM errors (§7): once non-nil, every further call
	// on this txn returns it until Abort, and Commit implicitly aborts.
	poison error
}

// IsReadOnly reports whether this txn was begun with ReadOnly.
func (t *LocalTxn) IsReadOnly() bool { return t.Flags&kvtxn.ReadOnly != 0 }

// isTemporary reports whether this is an implicit txn elided around a single call.
func (t *LocalTxn) isTemporary() bool { return t.Flags&kvtxn.TemporaryImplicit != 0 }

// pinCursor increments the cursor reference count, blocking Commit/Abort.
func (t *LocalTxn) pinCursor() { t.cursorRefs++ }

// unpinCursor decrements the cursor reference count.
func (t *LocalTxn) unpinCursor() { t.cursorRefs-- }

// Commit transitions this txn to Committed and hands it to the manager's
// flush pipeline (§4.4). Preconditions: State == Active, cursorRefs == 0.
func (t *LocalTxn) Commit(ctx context.Context) error {
	return t.mgr.commit(ctx, t)
}

// Abort transitions this txn to Aborted, undoing its ops (§4.4).
// Preconditions: State == Active, cursorRefs == 0.
func (t *LocalTxn) Abort(ctx context.Context) error {
	return t.mgr.abort(ctx, t)
}

// poisonErr returns the sticky error, if any (§7 propagation policy).
func (t *LocalTxn) poisonErr() error { return t.poison }
