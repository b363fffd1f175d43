// Package txn implements the transaction subsystem's in-memory core: the
// per-key operation log (C1/C2), the per-database ordered index (C3), the
// transaction object (C4), the environment-level manager and flush pipeline
// (C5), the visibility/conflict engine (C6), and cursors — wired to a
// kvtxn.BaseTree (C7) and a kvtxn.TransactionLog for durability.
//
// The original design note about modelling TxnNode/TxnOperation/LocalTxn as
// an arena of handle indices (to avoid cyclic raw pointers) does not apply
// here: Go's garbage collector reclaims cyclic structures on its own, so
// this package links these objects with ordinary pointers. See DESIGN.md.
package txn

import (
	"github.com/sharedcode/kvtxn"
)

// TxnOperation is one logical mutation on one key, addressable by LSN (§3, C1).
type TxnOperation struct {
	LSN            uint64
	Kind           kvtxn.OpKind
	OwnerTxn       *LocalTxn
	Flags          kvtxn.OpFlags
	Record         []byte
	DuplicateIndex int

	node *TxnNode

	prevInNode, nextInNode *TxnOperation
	prevInTxn, nextInTxn   *TxnOperation

	// prevDupCount is node.dupCount as it stood immediately before this op
	// was applied; used to restore it on abort.
	prevDupCount int
}

// IsCommitted reports whether this op's owning txn has committed.
func (op *TxnOperation) IsCommitted() bool { return op.Flags&kvtxn.FlagCommitted != 0 }

// IsAborted reports whether this op's owning txn has aborted.
func (op *TxnOperation) IsAborted() bool { return op.Flags&kvtxn.FlagAborted != 0 }

// IsFlushed reports whether this op has been translated into the base tree.
func (op *TxnOperation) IsFlushed() bool { return op.Flags&kvtxn.FlagFlushed != 0 }

// IsConflicting reports whether this op was recorded as having lost a conflict check.
func (op *TxnOperation) IsConflicting() bool { return op.Flags&kvtxn.FlagConflicting != 0 }

// setCommitted/setAborted set the terminal bit; no code path clears it
// (§8.1 invariant 2). They perform no check of their own.
func (op *TxnOperation) setCommitted() { op.Flags |= kvtxn.FlagCommitted }
func (op *TxnOperation) setAborted()   { op.Flags |= kvtxn.FlagAborted }
func (op *TxnOperation) setFlushed()   { op.Flags |= kvtxn.FlagFlushed }

// TxnNode is the per-key meeting point for every txn touching that key
// (§4.2, C2): a doubly-linked, LSN-ascending list of TxnOperations.
type TxnNode struct {
	Key []byte

	// db is a non-owning back-reference to the database this node belongs
	// to, used to route cleanup/flush to the right TxnIndex/BaseTree
	// without relying on key-equality lookups that could collide across
	// databases sharing the same key bytes.
	db *Database

	head, tail *TxnOperation
	pinCount   int

	// dupCount is the running count of live records (primary + duplicates)
	// for this key reflecting the node's history so far, seeded from the
	// base tree the first time an insert/erase (or Cursor.DuplicateCount)
	// finds no visible op on the node. See the duplicate-position Open
	// Question resolution in DESIGN.md.
	dupCount   int
	baseSeeded bool
}

// append links a freshly created op at the tail of this node's list (by LSN)
// and at the tail of txn's op list (by commit order), establishing both
// links before the op is returned (§4.1).
func (n *TxnNode) append(txn *LocalTxn, kind kvtxn.OpKind, lsn uint64, record []byte, dupIndex int) *TxnOperation {
	op := &TxnOperation{
		LSN:            lsn,
		Kind:           kind,
		OwnerTxn:       txn,
		Record:         record,
		DuplicateIndex: dupIndex,
		node:           n,
	}

	if n.tail == nil {
		n.head, n.tail = op, op
	} else {
		op.prevInNode = n.tail
		n.tail.nextInNode = op
		n.tail = op
	}

	if txn.opTail == nil {
		txn.opHead, txn.opTail = op, op
	} else {
		op.prevInTxn = txn.opTail
		txn.opTail.nextInTxn = op
		txn.opTail = op
	}

	return op
}

// oldestOp returns the head (LSN-smallest) op in this node, or nil if empty.
func (n *TxnNode) oldestOp() *TxnOperation { return n.head }

// newestOp returns the tail (LSN-largest) op in this node, or nil if empty.
func (n *TxnNode) newestOp() *TxnOperation { return n.tail }

// unlinkOp removes op from this node's list. Used by flush (once an op is
// durably applied to the base tree) and by abort cleanup.
func (n *TxnNode) unlinkOp(op *TxnOperation) {
	if op.prevInNode != nil {
		op.prevInNode.nextInNode = op.nextInNode
	} else {
		n.head = op.nextInNode
	}
	if op.nextInNode != nil {
		op.nextInNode.prevInNode = op.prevInNode
	} else {
		n.tail = op.prevInNode
	}
	op.prevInNode, op.nextInNode = nil, nil
}

// reclaimable reports whether this node has no ops left needing attention and
// is not pinned by any live cursor (§4.2).
func (n *TxnNode) reclaimable() bool {
	return n.pinCount == 0 && n.head == nil
}

// pin/unpin track how many open cursors are currently positioned on this
// node (§4.2): a pinned node survives reclaim even once its op list empties,
// so a cursor sitting on a just-flushed key still has a stable node to read
// duplicate-position/record-size state from.
func (n *TxnNode) pin()   { n.pinCount++ }
func (n *TxnNode) unpin() { n.pinCount-- }
