package txn

import (
	"github.com/sharedcode/kvtxn"
)

// resolveVisible walks node's op list newest-to-oldest looking for the first
// op visible to reader (§4.6). It returns (op, false) for a visible op,
// (nil, false) if nothing in the node is visible (fall through to the base
// tree), or (nil, true) if a foreign Active txn's op blocks the call.
func resolveVisible(node *TxnNode, reader *LocalTxn) (op *TxnOperation, conflict bool) {
	if node == nil {
		return nil, false
	}
	for cur := node.tail; cur != nil; cur = cur.prevInNode {
		if cur.IsAborted() {
			continue
		}
		if reader != nil && cur.OwnerTxn == reader {
			return cur, false
		}
		if cur.IsCommitted() {
			return cur, false
		}
		// Active and owned by a different txn than the reader.
		return nil, true
	}
	return nil, false
}

// isPresentKind reports whether kind represents the key logically existing
// (as opposed to erased).
func isPresentKind(kind kvtxn.OpKind) bool {
	switch kind {
	case kvtxn.OpInsert, kvtxn.OpInsertOverwrite, kvtxn.OpInsertDuplicate:
		return true
	default:
		return false
	}
}

// present reports whether op represents the key (still) being present,
// consulting node.dupCount for the EraseDuplicate "leaves 0 dups" case
// (§4.6, and the duplicate-position Open Question — see DESIGN.md for the
// chosen simplification: node.dupCount is the running count of live
// records for this key across the node's committed/self-owned history).
func present(op *TxnOperation) bool {
	if op.Kind == kvtxn.OpEraseDuplicate {
		return op.node.dupCount > 0
	}
	return isPresentKind(op.Kind)
}
