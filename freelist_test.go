package verdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verdb/internal/base"
)

func TestFreeListAllocateEmpty(t *testing.T) {
	t.Parallel()
	f := NewFreeList()
	assert.Equal(t, base.PageID(0), f.Allocate())
}

func TestFreeListAllocatesLowestFirst(t *testing.T) {
	t.Parallel()
	f := NewFreeList()
	f.Free(9)
	f.Free(3)
	f.Free(7)

	assert.Equal(t, base.PageID(3), f.Allocate())
	assert.Equal(t, base.PageID(7), f.Allocate())
	assert.Equal(t, base.PageID(9), f.Allocate())
	assert.Equal(t, base.PageID(0), f.Allocate())
}

func TestFreeListPendingNotReusableUntilReleased(t *testing.T) {
	t.Parallel()
	f := NewFreeList()

	f.FreePending(5, []base.PageID{10, 11})
	assert.Equal(t, base.PageID(0), f.Allocate(), "pending pages must not be handed out")
	assert.Equal(t, 2, f.PendingCount())
	assert.Equal(t, 0, f.FreeCount())

	f.Release(4)
	assert.Equal(t, base.PageID(0), f.Allocate(), "version 5 still shielded at upTo=4")

	f.Release(5)
	assert.Equal(t, base.PageID(10), f.Allocate())
	assert.Equal(t, base.PageID(11), f.Allocate())
	assert.Equal(t, 0, f.PendingCount())
}

func TestFreeListReleasePartial(t *testing.T) {
	t.Parallel()
	f := NewFreeList()

	f.FreePending(3, []base.PageID{30})
	f.FreePending(5, []base.PageID{50})
	f.FreePending(8, []base.PageID{80, 81})

	f.Release(5)
	assert.Equal(t, 2, f.FreeCount())
	assert.Equal(t, 2, f.PendingCount())
	assert.Equal(t, []uint64{8}, f.PendingVersions())

	f.Release(8)
	assert.Equal(t, 4, f.FreeCount())
	assert.Equal(t, 0, f.PendingCount())
}

func TestFreeListFreePendingEmptySlice(t *testing.T) {
	t.Parallel()
	f := NewFreeList()

	f.FreePending(2, nil)
	require.Empty(t, f.PendingVersions())
}
