package verdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verdb/internal/base"
)

func openPager(t *testing.T) (*PageManager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pager.db")
	pm, err := NewPageManager(path, defaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })
	return pm, path
}

func TestPagerInitializeNewFile(t *testing.T) {
	t.Parallel()
	pm, _ := openPager(t)

	meta := pm.Meta()
	assert.Equal(t, base.MagicNumber, meta.Magic)
	assert.Equal(t, base.FormatVersion, meta.FormatVersion)
	assert.Equal(t, uint64(0), meta.Version)
	assert.Equal(t, base.PageID(0), meta.RootID)
	assert.Equal(t, uint64(2), meta.NumPages)
}

func TestPagerNodeRoundTrip(t *testing.T) {
	t.Parallel()
	pm, _ := openPager(t)

	node := &base.Node{
		ID:     5,
		IsLeaf: true,
		Keys:   [][]byte{[]byte("a"), []byte("b")},
		Values: [][]byte{[]byte("1"), []byte("2")},
	}
	require.NoError(t, pm.WriteNode(node, 1))

	// Served from cache
	got, err := pm.ReadNode(5)
	require.NoError(t, err)
	assert.Equal(t, node.Keys, got.Keys)

	// Served from disk after invalidation
	pm.Invalidate(5)
	got, err = pm.ReadNode(5)
	require.NoError(t, err)
	assert.Equal(t, node.Keys, got.Keys)
	assert.Equal(t, node.Values, got.Values)
}

func TestPagerPicksNewestValidMeta(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "meta.db")

	pm, err := NewPageManager(path, defaultOptions())
	require.NoError(t, err)

	meta := pm.Meta()
	meta.Version = 1
	meta.NumPages = 3
	require.NoError(t, pm.PublishMeta(meta))
	meta.Version = 2
	meta.NumPages = 4
	require.NoError(t, pm.PublishMeta(meta))
	require.NoError(t, pm.Close())

	pm, err = NewPageManager(path, defaultOptions())
	require.NoError(t, err)
	defer pm.Close()
	assert.Equal(t, uint64(2), pm.Meta().Version)
	assert.Equal(t, uint64(4), pm.Meta().NumPages)
}

func TestPagerSurvivesOneTornMeta(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "torn.db")

	pm, err := NewPageManager(path, defaultOptions())
	require.NoError(t, err)
	meta := pm.Meta()
	meta.Version = 1
	require.NoError(t, pm.PublishMeta(meta))
	require.NoError(t, pm.Close())

	// Scribble over the meta slot for version 1 (page 1)
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("garbage"), base.PageSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Falls back to the older valid meta on page 0
	pm, err = NewPageManager(path, defaultOptions())
	require.NoError(t, err)
	defer pm.Close()
	assert.Equal(t, uint64(0), pm.Meta().Version)
}

func TestPagerDetectsCorruptPage(t *testing.T) {
	t.Parallel()
	pm, path := openPager(t)

	node := &base.Node{
		ID:     3,
		IsLeaf: true,
		Keys:   [][]byte{[]byte("k")},
		Values: [][]byte{[]byte("v")},
	}
	require.NoError(t, pm.WriteNode(node, 1))
	pm.Invalidate(3)

	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, 3*base.PageSize+base.PageHeaderSize)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = pm.ReadNode(3)
	assert.ErrorIs(t, err, ErrInvalidChecksum)
}
