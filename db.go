package verdb

import (
	"sort"
	"sync"

	"verdb/internal/base"
)

// DB is an embedded, versioned, copy-on-write key-value store. Every commit
// produces a new immutable version of the tree; Snapshot pins a version for
// reading after later commits have replaced it. Old versions are reclaimed
// by the version tracker once no live Snapshot references them.
type DB struct {
	mu       sync.RWMutex
	pager    *PageManager
	freelist *FreeList
	tracker  *VersionTracker
	opts     Options
	log      Logger
	closed   bool

	// pinned counts open snapshot handles per version. A version with a
	// nonzero count shields the freelist's pending pages at and above it.
	pinned map[uint64]int
}

// Open opens or creates a database file.
func Open(path string, options ...Option) (*DB, error) {
	opts := defaultOptions()
	for _, opt := range options {
		opt(&opts)
	}

	pager, err := NewPageManager(path, opts)
	if err != nil {
		return nil, err
	}

	db := &DB{
		pager:    pager,
		freelist: NewFreeList(),
		opts:     opts,
		log:      opts.logger,
		pinned:   make(map[uint64]int),
	}
	db.tracker = newVersionTracker(db, opts.logger)

	if err := db.rebuildFreeList(); err != nil {
		pager.Close()
		return nil, err
	}

	meta := pager.Meta()
	db.log.Info("database opened", "path", path, "version", meta.Version, "pages", meta.NumPages)
	return db, nil
}

// rebuildFreeList marks every page not reachable from the committed root as
// free. No snapshot survives a restart, so nothing pins old versions and the
// freelist needs no persistent form.
func (db *DB) rebuildFreeList() error {
	meta := db.pager.Meta()

	reachable := make(map[pageID]struct{})
	if meta.RootID != 0 {
		if err := db.markReachable(meta.RootID, reachable); err != nil {
			return err
		}
	}

	for id := pageID(2); id < pageID(meta.NumPages); id++ {
		if _, ok := reachable[id]; !ok {
			db.freelist.Free(id)
		}
	}
	return nil
}

func (db *DB) markReachable(id pageID, reachable map[pageID]struct{}) error {
	reachable[id] = struct{}{}

	node, err := db.pager.ReadNode(id)
	if err != nil {
		return err
	}
	if node.IsLeaf {
		return nil
	}
	for _, child := range node.Children {
		if err := db.markReachable(child, reachable); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) beginTx(writable bool) *Tx {
	meta := db.pager.Meta()
	tx := &Tx{
		db:       db,
		writable: writable,
		version:  meta.Version,
		root:     meta.RootID,
		meta:     meta,
	}
	if writable {
		tx.version = meta.Version + 1
		tx.pages = make(map[pageID]*base.Node)
		tx.allocated = make(map[pageID]bool)
	}
	return tx
}

// View executes fn in a read-only transaction over the latest committed
// version. Multiple View calls run concurrently.
func (db *DB) View(fn func(tx *Tx) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return ErrDatabaseClosed
	}

	tx := db.beginTx(false)
	defer func() { tx.done = true }()
	return fn(tx)
}

// Update executes fn in a write transaction. On success the transaction is
// committed as a new version; on error it is rolled back. After each commit
// the version tracker sweeps, so snapshots whose holders are gone are
// reclaimed with bounded delay even if no new snapshot is ever opened.
func (db *DB) Update(fn func(tx *Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrDatabaseClosed
	}

	tx := db.beginTx(true)
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if err := db.tracker.RegisterAndSweep(nil); err != nil {
		db.log.Error("snapshot sweep failed", "error", err)
	}
	return nil
}

// Get retrieves the value for a key from the latest committed version.
func (db *DB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := db.View(func(tx *Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	return value, err
}

// Put sets the value for a key in a single-operation write transaction.
func (db *DB) Put(key, value []byte) error {
	return db.Update(func(tx *Tx) error {
		return tx.Put(key, value)
	})
}

// Delete removes a key in a single-operation write transaction.
func (db *DB) Delete(key []byte) error {
	return db.Update(func(tx *Tx) error {
		return tx.Delete(key)
	})
}

// Snapshot opens a pinned read view of the latest committed version and
// registers it with the version tracker. The returned Snapshot needs no
// explicit close: dropping the last reference to it lets a later sweep
// release the pinned version. Must not be called from inside View or Update.
func (db *DB) Snapshot() (*Snapshot, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrDatabaseClosed
	}

	meta := db.pager.Meta()
	handle := &SnapshotHandle{version: meta.Version, root: meta.RootID}
	db.pinned[handle.version]++

	snap := &Snapshot{db: db, handle: handle, version: meta.Version}
	if err := db.tracker.RegisterAndSweep(snap); err != nil {
		db.log.Error("snapshot sweep failed", "error", err)
	}
	return snap, nil
}

// Versions returns the versions currently pinned by live snapshots,
// ascending. Diagnostics; also answers whether old versions may be
// compacted away.
func (db *DB) Versions() []uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil
	}
	versions := db.tracker.Versions()
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions
}

// Close releases every snapshot still tracked, live or not, and closes the
// database file. Snapshots and transactions are unusable afterward.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	err := db.tracker.Close()
	if err != nil {
		db.log.Error("snapshot release failed during close", "error", err)
	}
	if cerr := db.pager.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// closeSnapshot releases the native resources behind a snapshot handle: the
// version's pin count drops and pages no longer shielded by any pinned
// version return to the free set. Called exactly once per handle, by the
// tracker, with db.mu held.
func (db *DB) closeSnapshot(h *SnapshotHandle) error {
	if n := db.pinned[h.version]; n <= 1 {
		delete(db.pinned, h.version)
	} else {
		db.pinned[h.version] = n - 1
	}
	db.releasePages()
	return nil
}

// versionOf reports the version a handle was opened at. The tracker calls
// this right before closeSnapshot, when the application-facing Snapshot is
// already gone.
func (db *DB) versionOf(h *SnapshotHandle) uint64 {
	return h.version
}

// releasePages moves pending freed pages up to the minimum pinned version
// into the free set. With nothing pinned, everything up to the current
// version is released.
func (db *DB) releasePages() {
	upTo := db.pager.Meta().Version
	for v := range db.pinned {
		if v < upTo {
			upTo = v
		}
	}
	db.freelist.Release(upTo)
}
