package verdb

import (
	"bytes"

	"verdb/internal/base"
)

const (
	// MaxKeysPerNode caps fanout; fullness is also bounded by serialized size.
	MaxKeysPerNode = 64
)

// descendIndex returns the child slot for key: the first separator greater
// than key decides; equal keys go right.
func descendIndex(n *base.Node, key []byte) int {
	i := 0
	for i < len(n.Keys) && bytes.Compare(key, n.Keys[i]) >= 0 {
		i++
	}
	return i
}

// nodeFull reports whether inserting into n could overflow its page. Leaves
// are checked against the actual incoming entry; branches against a
// worst-case separator, so a split on the way down always has room to push
// its separator up.
func nodeFull(n *base.Node, key, value []byte) bool {
	if len(n.Keys) >= MaxKeysPerNode {
		return true
	}
	if n.IsLeaf {
		return n.SerializedSize()+base.LeafElementSize+len(key)+len(value) > base.PageSize
	}
	return n.SerializedSize()+base.BranchElementSize+MaxKeySize > base.PageSize
}

// search walks from node down to the responsible leaf, honoring tx-local
// copies along the way.
func (tx *Tx) search(node *base.Node, key []byte) ([]byte, error) {
	for {
		if node.IsLeaf {
			i := descendIndex(node, key)
			if i > 0 && bytes.Equal(key, node.Keys[i-1]) {
				return node.Values[i-1], nil
			}
			return nil, ErrKeyNotFound
		}

		child, err := tx.loadNode(node.Children[descendIndex(node, key)])
		if err != nil {
			return nil, err
		}
		node = child
	}
}

// insert adds or replaces a key, growing the tree upward when the root is
// full. Every node on the path to the leaf is copied into this transaction.
func (tx *Tx) insert(key, value []byte) error {
	if tx.root == 0 {
		leaf := &base.Node{IsLeaf: true, Dirty: true}
		leaf.ID = tx.allocatePage()
		tx.pages[leaf.ID] = leaf
		tx.root = leaf.ID
	}

	rootNode, err := tx.loadNode(tx.root)
	if err != nil {
		return err
	}

	if nodeFull(rootNode, key, value) {
		newRoot := &base.Node{
			IsLeaf:   false,
			Dirty:    true,
			Children: []pageID{tx.root},
		}
		newRoot.ID = tx.allocatePage()
		tx.pages[newRoot.ID] = newRoot
		if err := tx.splitChild(newRoot, 0); err != nil {
			return err
		}
		tx.root = newRoot.ID
		rootNode = newRoot
	}

	n, err := tx.insertNonFull(rootNode, key, value)
	if err != nil {
		return err
	}
	tx.root = n.ID
	return nil
}

// insertNonFull inserts into the subtree rooted at n, which is guaranteed to
// have room for one more entry. Returns the tx-local copy of n.
func (tx *Tx) insertNonFull(n *base.Node, key, value []byte) (*base.Node, error) {
	n = tx.ensureWritable(n)

	if n.IsLeaf {
		i := descendIndex(n, key)
		if i > 0 && bytes.Equal(key, n.Keys[i-1]) {
			n.Values[i-1] = value
			return n, nil
		}
		n.Keys = insertAt(n.Keys, i, key)
		n.Values = insertAt(n.Values, i, value)
		return n, nil
	}

	i := descendIndex(n, key)
	child, err := tx.loadNode(n.Children[i])
	if err != nil {
		return nil, err
	}

	if nodeFull(child, key, value) {
		if err := tx.splitChild(n, i); err != nil {
			return nil, err
		}
		if bytes.Compare(key, n.Keys[i]) >= 0 {
			i++
		}
		if child, err = tx.loadNode(n.Children[i]); err != nil {
			return nil, err
		}
	}

	newChild, err := tx.insertNonFull(child, key, value)
	if err != nil {
		return nil, err
	}
	n.Children[i] = newChild.ID
	return n, nil
}

// splitIndex picks the key index to split n at, balancing the two halves by
// serialized bytes rather than key count. A count-based midpoint can strand
// nearly all of a node's bytes in one half when entry sizes are skewed,
// leaving that half with no room for the insert that triggered the split.
func splitIndex(n *base.Node) int {
	size := func(i int) int {
		if n.IsLeaf {
			return base.LeafElementSize + len(n.Keys[i]) + len(n.Values[i])
		}
		return base.BranchElementSize + len(n.Keys[i])
	}

	total := 0
	for i := range n.Keys {
		total += size(i)
	}

	// Leaves keep every entry; a branch's separator at the cut moves up, so
	// the cut must leave at least one key on each side.
	lo, hi := 1, len(n.Keys)-1
	if !n.IsLeaf {
		hi = len(n.Keys) - 2
	}

	best, bestCost := lo, total+1
	left := 0
	for i := 0; i < lo; i++ {
		left += size(i)
	}
	for mid := lo; mid <= hi; mid++ {
		right := total - left
		if !n.IsLeaf {
			right -= size(mid)
		}
		if cost := max(left, right); cost < bestCost {
			best, bestCost = mid, cost
		}
		left += size(mid)
	}
	return best
}

// splitChild splits parent's i-th child at its byte midpoint and pushes the
// separator up. The parent must already be a tx-local copy with room for the
// separator.
func (tx *Tx) splitChild(parent *base.Node, i int) error {
	child, err := tx.loadNode(parent.Children[i])
	if err != nil {
		return err
	}
	left := tx.ensureWritable(child)

	right := &base.Node{IsLeaf: left.IsLeaf, Dirty: true}
	right.ID = tx.allocatePage()
	tx.pages[right.ID] = right

	mid := splitIndex(left)
	var sep []byte
	if left.IsLeaf {
		// B+ style: the separator is the first key of the right half, which
		// keeps all entries in the leaves.
		right.Keys = append([][]byte(nil), left.Keys[mid:]...)
		right.Values = append([][]byte(nil), left.Values[mid:]...)
		left.Keys = left.Keys[:mid]
		left.Values = left.Values[:mid]
		sep = right.Keys[0]
	} else {
		sep = left.Keys[mid]
		right.Keys = append([][]byte(nil), left.Keys[mid+1:]...)
		right.Children = append([]pageID(nil), left.Children[mid+1:]...)
		left.Keys = left.Keys[:mid]
		left.Children = left.Children[:mid+1]
	}

	parent.Keys = insertAt(parent.Keys, i, sep)
	parent.Children[i] = left.ID
	parent.Children = insertChildAt(parent.Children, i+1, right.ID)
	return nil
}

// remove deletes key from the tree, pruning nodes that become empty and
// collapsing single-child roots. Missing keys leave the tree untouched.
func (tx *Tx) remove(key []byte) error {
	rootNode, err := tx.loadNode(tx.root)
	if err != nil {
		return err
	}

	n, changed, err := tx.removeFromNode(rootNode, key)
	if err != nil || !changed {
		return err
	}
	tx.root = n.ID

	// Collapse branch roots left with a single child
	for {
		root, err := tx.loadNode(tx.root)
		if err != nil {
			return err
		}
		if root.IsLeaf || len(root.Keys) > 0 {
			return nil
		}
		child := root.Children[0]
		tx.addFreed(root.ID)
		tx.root = child
	}
}

func (tx *Tx) removeFromNode(n *base.Node, key []byte) (*base.Node, bool, error) {
	if n.IsLeaf {
		i := descendIndex(n, key)
		if i == 0 || !bytes.Equal(key, n.Keys[i-1]) {
			return n, false, nil
		}
		n = tx.ensureWritable(n)
		n.Keys = removeAt(n.Keys, i-1)
		n.Values = removeAt(n.Values, i-1)
		return n, true, nil
	}

	i := descendIndex(n, key)
	child, err := tx.loadNode(n.Children[i])
	if err != nil {
		return nil, false, err
	}

	child, changed, err := tx.removeFromNode(child, key)
	if err != nil || !changed {
		return n, false, err
	}

	n = tx.ensureWritable(n)
	switch {
	case child.IsLeaf && len(child.Keys) == 0:
		// Empty leaf: unlink it and drop its separator
		tx.addFreed(child.ID)
		n.Children = removeChildAt(n.Children, i)
		if i > 0 {
			n.Keys = removeAt(n.Keys, i-1)
		} else {
			n.Keys = removeAt(n.Keys, 0)
		}
	case !child.IsLeaf && len(child.Keys) == 0:
		// Single-child branch: splice the grandchild in
		n.Children[i] = child.Children[0]
		tx.addFreed(child.ID)
	default:
		n.Children[i] = child.ID
	}
	return n, true, nil
}

func insertAt(slice [][]byte, index int, value []byte) [][]byte {
	slice = append(slice, nil)
	copy(slice[index+1:], slice[index:])
	slice[index] = value
	return slice
}

func removeAt(slice [][]byte, index int) [][]byte {
	return append(slice[:index], slice[index+1:]...)
}

func insertChildAt(slice []pageID, index int, id pageID) []pageID {
	slice = append(slice, 0)
	copy(slice[index+1:], slice[index:])
	slice[index] = id
	return slice
}

func removeChildAt(slice []pageID, index int) []pageID {
	return append(slice[:index], slice[index+1:]...)
}
