package verdb

import (
	"fmt"
	"os"

	"verdb/internal/base"
	"verdb/internal/cache"
)

// PageManager handles disk I/O: raw page reads and writes, the node cache,
// and meta page publishing. Allocation policy (freelist vs grow) belongs to
// the transaction layer.
type PageManager struct {
	file     *os.File
	meta     base.Meta
	cache    *cache.Cache
	syncMode SyncMode
}

// NewPageManager opens or creates a database file.
func NewPageManager(path string, opts Options) (*PageManager, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	nodeCache, err := cache.New(opts.cacheSize)
	if err != nil {
		file.Close()
		return nil, err
	}

	pm := &PageManager{
		file:     file,
		cache:    nodeCache,
		syncMode: opts.syncMode,
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	if info.Size() == 0 {
		err = pm.initialize()
	} else {
		err = pm.load()
	}
	if err != nil {
		file.Close()
		return nil, err
	}

	return pm, nil
}

// initialize writes a fresh pair of meta pages for an empty database.
// Pages 0 and 1 are the meta pages; the tree starts empty (RootID 0).
func (pm *PageManager) initialize() error {
	pm.meta = base.Meta{
		Magic:         base.MagicNumber,
		FormatVersion: base.FormatVersion,
		PageSize:      base.PageSize,
		RootID:        0,
		Version:       0,
		NumPages:      2,
	}
	pm.meta.Checksum = pm.meta.MetaChecksum()

	page := &base.Page{}
	page.WriteMeta(&pm.meta)
	if err := pm.writePageAt(0, page); err != nil {
		return err
	}
	if err := pm.writePageAt(1, page); err != nil {
		return err
	}
	return pm.Sync()
}

// load reads both meta pages and adopts the valid one with the highest
// version. A torn write can corrupt at most one of them.
func (pm *PageManager) load() error {
	var best *base.Meta
	for id := base.PageID(0); id < 2; id++ {
		page, err := pm.readPageAt(id)
		if err != nil {
			continue
		}
		meta := page.ReadMeta()
		if meta.Validate() != nil {
			continue
		}
		if best == nil || meta.Version > best.Version {
			m := meta
			best = &m
		}
	}
	if best == nil {
		return fmt.Errorf("%w: no valid meta page", ErrCorruption)
	}
	pm.meta = *best
	return nil
}

func (pm *PageManager) readPageAt(id base.PageID) (*base.Page, error) {
	page := &base.Page{}
	if _, err := pm.file.ReadAt(page.Data[:], int64(id)*base.PageSize); err != nil {
		return nil, err
	}
	return page, nil
}

func (pm *PageManager) writePageAt(id base.PageID, page *base.Page) error {
	_, err := pm.file.WriteAt(page.Data[:], int64(id)*base.PageSize)
	return err
}

// ReadPage reads and checksum-verifies a page.
func (pm *PageManager) ReadPage(id base.PageID) (*base.Page, error) {
	page, err := pm.readPageAt(id)
	if err != nil {
		return nil, err
	}
	if err := page.VerifyChecksum(); err != nil {
		return nil, fmt.Errorf("page %d: %w", id, err)
	}
	return page, nil
}

// ReadNode returns the decoded node for a page, serving from cache when
// possible. Cached nodes are shared; callers must not mutate them.
func (pm *PageManager) ReadNode(id base.PageID) (*base.Node, error) {
	if node, ok := pm.cache.Get(id); ok {
		return node, nil
	}

	page, err := pm.ReadPage(id)
	if err != nil {
		return nil, err
	}
	node := &base.Node{}
	if err := node.Deserialize(page); err != nil {
		return nil, err
	}
	pm.cache.Put(id, node)
	return node, nil
}

// WriteNode serializes a node, checksums the page, and writes it at the
// node's page ID. The node is installed in the cache as the clean copy.
func (pm *PageManager) WriteNode(node *base.Node, version uint64) error {
	page, err := node.Serialize(version)
	if err != nil {
		return err
	}
	page.UpdateChecksum()
	if err := pm.writePageAt(node.ID, page); err != nil {
		return err
	}
	node.Dirty = false
	pm.cache.Put(node.ID, node)
	return nil
}

// Invalidate drops a page from the node cache. Must be called when a freed
// page ID is recycled, before anything new is written there.
func (pm *PageManager) Invalidate(id base.PageID) {
	pm.cache.Remove(id)
}

// Meta returns a copy of the last published meta.
func (pm *PageManager) Meta() base.Meta {
	return pm.meta
}

// PublishMeta checksums and writes the meta to its alternating slot, then
// adopts it as current. Data pages must be durable before this is called.
func (pm *PageManager) PublishMeta(meta base.Meta) error {
	meta.Checksum = meta.MetaChecksum()

	page := &base.Page{}
	page.WriteMeta(&meta)
	if err := pm.writePageAt(base.PageID(meta.Version%2), page); err != nil {
		return err
	}
	if pm.syncMode == SyncEveryCommit {
		if err := pm.Sync(); err != nil {
			return err
		}
	}

	pm.meta = meta
	return nil
}

// Sync flushes file data to stable storage.
func (pm *PageManager) Sync() error {
	return fdatasync(pm.file)
}

// CacheStats returns cumulative node cache hits and misses.
func (pm *PageManager) CacheStats() (hits, misses uint64) {
	return pm.cache.Stats()
}

func (pm *PageManager) Close() error {
	pm.cache.Purge()
	return pm.file.Close()
}
