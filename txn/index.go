package txn

import (
	"bytes"

	"github.com/tidwall/btree"

	"github.com/sharedcode/kvtxn"
)

// TxnIndex is the per-database ordered map from key bytes to TxnNode (§4.3,
// C3), backed by github.com/tidwall/btree the same way the
// mukeshjc-mvcc-isolation example indexes its in-memory transactions.
type TxnIndex struct {
	cmp  func(a, b []byte) int
	tree *btree.BTreeG[*TxnNode]
}

// newTxnIndex creates an empty index ordered by cmp (bytes.Compare if nil).
func newTxnIndex(cmp func(a, b []byte) int) *TxnIndex {
	if cmp == nil {
		cmp = bytes.Compare
	}
	less := func(a, b *TxnNode) bool { return cmp(a.Key, b.Key) < 0 }
	return &TxnIndex{cmp: cmp, tree: btree.NewBTreeG(less)}
}

// get performs an exact-match lookup, or — when flags names an approximate
// mode — returns the nearest neighbouring node per the comparator (§4.3).
func (idx *TxnIndex) get(key []byte, flags kvtxn.FindFlags) (*TxnNode, bool) {
	probe := &TxnNode{Key: key}
	if flags == kvtxn.Exact {
		n, ok := idx.tree.Get(probe)
		return n, ok
	}

	switch {
	case flags&kvtxn.GreaterEqual != 0:
		var found *TxnNode
		idx.tree.Ascend(probe, func(n *TxnNode) bool { found = n; return false })
		return found, found != nil
	case flags&kvtxn.GreaterThan != 0:
		var found *TxnNode
		idx.tree.Ascend(probe, func(n *TxnNode) bool {
			if idx.cmp(n.Key, key) == 0 {
				return true
			}
			found = n
			return false
		})
		return found, found != nil
	case flags&kvtxn.LessEqual != 0:
		var found *TxnNode
		idx.tree.Descend(probe, func(n *TxnNode) bool { found = n; return false })
		return found, found != nil
	case flags&kvtxn.LessThan != 0:
		var found *TxnNode
		idx.tree.Descend(probe, func(n *TxnNode) bool {
			if idx.cmp(n.Key, key) == 0 {
				return true
			}
			found = n
			return false
		})
		return found, found != nil
	default:
		n, ok := idx.tree.Get(probe)
		return n, ok
	}
}

// store inserts a freshly created node. Callers must have already checked
// get(key)==(nil,false); store reports false if a concurrent insert won the
// race in the meantime (§4.3), leaving the existing node untouched.
func (idx *TxnIndex) store(n *TxnNode) bool {
	if _, exists := idx.tree.Get(n); exists {
		return false
	}
	idx.tree.Set(n)
	return true
}

// remove unlinks n from the index. The node itself is left for the Go
// garbage collector; there is no manual free step (§4.3).
func (idx *TxnIndex) remove(n *TxnNode) {
	idx.tree.Delete(n)
}

// iterate walks every node in ascending key order until f returns false.
func (idx *TxnIndex) iterate(f func(*TxnNode) bool) {
	idx.tree.Scan(f)
}

// len reports the number of live TxnNodes in the index.
func (idx *TxnIndex) len() int {
	return idx.tree.Len()
}
