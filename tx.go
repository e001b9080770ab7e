package verdb

import (
	"verdb/internal/base"
)

// pageID aliases the on-disk page identifier for brevity in this package.
type pageID = base.PageID

// Tx represents a transaction on the database.
//
// CONCURRENCY: transactions are NOT thread-safe and must only be used by a
// single goroutine. Read transactions can run concurrently with each other;
// only one write transaction is active at a time, enforced by the DB lock.
//
// A write transaction copies every node it touches (copy-on-write) into
// freshly allocated pages. Nothing is visible to readers until Commit
// publishes the new meta; Rollback simply discards the working set.
type Tx struct {
	db       *DB
	writable bool
	done     bool

	version uint64    // writers: the version being created; readers: the version observed
	root    pageID    // current root, moves as nodes along mutated paths are copied
	meta    base.Meta // working copy, published on commit

	pages     map[pageID]*base.Node // tx-local COW nodes, keyed by their new page ID
	freed     []pageID              // pre-existing pages replaced in this tx
	allocated map[pageID]bool       // pages allocated in this tx; true = from freelist
}

// Get retrieves the value for a key.
// Returns ErrKeyNotFound if the key does not exist.
func (tx *Tx) Get(key []byte) ([]byte, error) {
	if err := tx.check(); err != nil {
		return nil, err
	}
	if tx.root == 0 {
		return nil, ErrKeyNotFound
	}

	node, err := tx.loadNode(tx.root)
	if err != nil {
		return nil, err
	}
	return tx.search(node, key)
}

// Put sets the value for a key, replacing any existing value.
func (tx *Tx) Put(key, value []byte) error {
	if err := tx.check(); err != nil {
		return err
	}
	if !tx.writable {
		return ErrTxNotWritable
	}
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	if len(key) > MaxKeySize {
		return ErrKeyTooLarge
	}
	if len(value) > MaxValueSize {
		return ErrValueTooLarge
	}
	return tx.insert(key, value)
}

// Delete removes a key. Deleting a missing key is not an error.
func (tx *Tx) Delete(key []byte) error {
	if err := tx.check(); err != nil {
		return err
	}
	if !tx.writable {
		return ErrTxNotWritable
	}
	if len(key) == 0 {
		return ErrKeyEmpty
	}
	if tx.root == 0 {
		return nil
	}
	return tx.remove(key)
}

// ForEach calls fn for every key/value pair in key order.
func (tx *Tx) ForEach(fn func(key, value []byte) error) error {
	if err := tx.check(); err != nil {
		return err
	}
	if tx.root == 0 {
		return nil
	}
	return tx.walk(tx.root, fn)
}

func (tx *Tx) walk(id pageID, fn func(key, value []byte) error) error {
	node, err := tx.loadNode(id)
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
		if err := tx.walk(child, fn); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) check() error {
	if tx.done {
		return ErrTxDone
	}
	if tx.db.closed {
		return ErrDatabaseClosed
	}
	return nil
}

// loadNode returns the tx-local copy of a page if one exists, otherwise the
// shared clean node from the pager.
func (tx *Tx) loadNode(id pageID) (*base.Node, error) {
	if node, ok := tx.pages[id]; ok {
		return node, nil
	}
	return tx.db.pager.ReadNode(id)
}

// ensureWritable returns a tx-local copy of node at a fresh page ID, marking
// the old page freed. Already-copied nodes are returned as-is.
func (tx *Tx) ensureWritable(node *base.Node) *base.Node {
	if node.Dirty {
		return node
	}

	clone := node.Clone()
	clone.ID = tx.allocatePage()
	clone.Dirty = true
	tx.pages[clone.ID] = clone
	tx.addFreed(node.ID)
	return clone
}

// allocatePage hands out a page ID, preferring recycled pages over growing
// the file. Recycled IDs are purged from the node cache before reuse.
func (tx *Tx) allocatePage() pageID {
	if id := tx.db.freelist.Allocate(); id != 0 {
		tx.db.pager.Invalidate(id)
		tx.allocated[id] = true
		return id
	}

	id := pageID(tx.meta.NumPages)
	tx.meta.NumPages++
	tx.allocated[id] = false
	return id
}

// addFreed records a page to hand to the freelist at commit. Pages allocated
// within this same transaction are discarded directly; no committed state
// ever referenced them.
func (tx *Tx) addFreed(id pageID) {
	if _, ok := tx.allocated[id]; ok {
		delete(tx.pages, id)
		if tx.allocated[id] {
			tx.db.freelist.Free(id)
		}
		delete(tx.allocated, id)
		return
	}
	tx.freed = append(tx.freed, id)
}

// Commit writes all copied nodes to disk, syncs them, and publishes the new
// meta. Only after the meta write is the new version visible; a crash at any
// earlier point recovers to the previous version. A failed commit leaves the
// previous version current and returns the transaction's recycled pages to
// the freelist; nothing committed references them.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	if !tx.writable {
		return ErrTxNotWritable
	}
	tx.done = true

	for _, node := range tx.pages {
		if err := tx.db.pager.WriteNode(node, tx.version); err != nil {
			tx.returnAllocated()
			return err
		}
	}
	if tx.db.opts.syncMode == SyncEveryCommit {
		if err := tx.db.pager.Sync(); err != nil {
			tx.returnAllocated()
			return err
		}
	}

	tx.meta.RootID = tx.root
	tx.meta.Version = tx.version
	if err := tx.db.pager.PublishMeta(tx.meta); err != nil {
		tx.returnAllocated()
		return err
	}

	tx.db.freelist.FreePending(tx.version, tx.freed)
	tx.db.releasePages()
	return nil
}

// Rollback discards the transaction. Pages taken from the freelist are
// returned; pages obtained by growing the file are abandoned and recovered
// by the reachability walk on next open.
func (tx *Tx) Rollback() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	if !tx.writable {
		return nil
	}

	tx.returnAllocated()
	tx.pages = nil
	tx.freed = nil
	tx.allocated = nil
	return nil
}

// returnAllocated gives pages taken from the freelist back after an abandoned
// or failed transaction. Pages obtained by growing the file are left behind
// and recovered by the reachability walk on next open.
func (tx *Tx) returnAllocated() {
	for id, fromFreelist := range tx.allocated {
		if fromFreelist {
			tx.db.freelist.Free(id)
		}
	}
}
