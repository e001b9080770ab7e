package verdb

import (
	"sort"

	"github.com/google/btree"

	"verdb/internal/base"
)

// FreeList tracks reusable page IDs. Pages replaced by the commit of version
// v land in pending[v] and stay there until every pinned snapshot has version
// >= v; only then are they moved to the free set and eligible for reuse.
//
// Not persisted: free space is rebuilt by a reachability walk on open, since
// no snapshot survives a restart.
type FreeList struct {
	ids     *btree.BTreeG[base.PageID] // sorted free page IDs
	pending map[uint64][]base.PageID   // version -> pages freed by that commit
}

// NewFreeList creates an empty freelist
func NewFreeList() *FreeList {
	return &FreeList{
		ids: btree.NewG[base.PageID](32, func(a, b base.PageID) bool {
			return a < b
		}),
		pending: make(map[uint64][]base.PageID),
	}
}

// Allocate returns the smallest free page ID, or 0 if none available.
// Allocation is lowest-first for deterministic layouts.
func (f *FreeList) Allocate() base.PageID {
	id, ok := f.ids.DeleteMin()
	if !ok {
		return 0
	}
	return id
}

// Free adds a page ID directly to the free set.
func (f *FreeList) Free(id base.PageID) {
	f.ids.ReplaceOrInsert(id)
}

// FreePending records pages replaced while committing version. They cannot
// be reused yet: snapshots older than version still reference them.
func (f *FreeList) FreePending(version uint64, ids []base.PageID) {
	if len(ids) == 0 {
		return
	}
	f.pending[version] = append(f.pending[version], ids...)
}

// Release moves every pending set freed at version <= upTo into the free set.
// Called when the minimum pinned snapshot version advances.
func (f *FreeList) Release(upTo uint64) {
	for version, ids := range f.pending {
		if version > upTo {
			continue
		}
		for _, id := range ids {
			f.ids.ReplaceOrInsert(id)
		}
		delete(f.pending, version)
	}
}

// FreeCount returns the number of immediately reusable page IDs.
func (f *FreeList) FreeCount() int {
	return f.ids.Len()
}

// PendingCount returns the number of page IDs still held back by snapshots.
func (f *FreeList) PendingCount() int {
	n := 0
	for _, ids := range f.pending {
		n += len(ids)
	}
	return n
}

// PendingVersions returns the versions with pending pages, ascending.
// Diagnostics only.
func (f *FreeList) PendingVersions() []uint64 {
	versions := make([]uint64, 0, len(f.pending))
	for v := range f.pending {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions
}
