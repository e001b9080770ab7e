package verdb

import "bytes"

// SnapshotHandle is the engine-side identity of one open snapshot: the
// version it was opened at and the root page of that version's tree. While a
// handle is open its version is pinned, which keeps every page of that tree
// out of the freelist.
type SnapshotHandle struct {
	version uint64
	root    pageID
}

// Snapshot is a pinned, immutable read view of the database at a specific
// committed version. It stays valid for as long as the caller holds it; once
// the last reference is dropped, the garbage collector reclaims it and the
// next tracker sweep closes the underlying handle. There is no explicit
// close.
//
// Reads on a Snapshot may run concurrently with each other and with write
// transactions.
type Snapshot struct {
	db      *DB
	handle  *SnapshotHandle
	version uint64
}

// Version returns the committed version this snapshot was opened at.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Get retrieves the value for a key as of the snapshot's version.
// Returns ErrKeyNotFound if the key did not exist at that version.
func (s *Snapshot) Get(key []byte) ([]byte, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	if s.db.closed {
		return nil, ErrDatabaseClosed
	}
	if s.handle.root == 0 {
		return nil, ErrKeyNotFound
	}
	return searchTree(s.db.pager, s.handle.root, key)
}

// ForEach calls fn for every key/value pair at the snapshot's version, in
// key order. Returning an error from fn stops the iteration and returns
// that error.
func (s *Snapshot) ForEach(fn func(key, value []byte) error) error {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	if s.db.closed {
		return ErrDatabaseClosed
	}
	if s.handle.root == 0 {
		return nil
	}
	return walkTree(s.db.pager, s.handle.root, fn)
}

// searchTree descends from root to the leaf responsible for key.
func searchTree(pager *PageManager, root pageID, key []byte) ([]byte, error) {
	id := root
	for {
		node, err := pager.ReadNode(id)
		if err != nil {
			return nil, err
		}

		if node.IsLeaf {
			i := 0
			for i < len(node.Keys) && bytes.Compare(key, node.Keys[i]) >= 0 {
				i++
			}
			if i > 0 && bytes.Equal(key, node.Keys[i-1]) {
				return node.Values[i-1], nil
			}
			return nil, ErrKeyNotFound
		}

		i := 0
		for i < len(node.Keys) && bytes.Compare(key, node.Keys[i]) >= 0 {
			i++
		}
		id = node.Children[i]
	}
}

// walkTree visits all pairs under root in key order.
func walkTree(pager *PageManager, root pageID, fn func(key, value []byte) error) error {
	node, err := pager.ReadNode(root)
	if err != nil {
		return err
	}

	if node.IsLeaf {
		for i := range node.Keys {
			if err := fn(node.Keys[i], node.Values[i]); err != nil {
				return err
			}
		}
		return nil
	}

	for _, child := range node.Children {
		if err := walkTree(pager, child, fn); err != nil {
			return err
		}
	}
	return nil
}
