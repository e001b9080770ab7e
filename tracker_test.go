package verdb

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine stands in for the DB on the engine side of the tracker and
// records every close attempt per handle.
type fakeEngine struct {
	closed   map[*SnapshotHandle]int
	attempts map[*SnapshotHandle]int
	failing  map[*SnapshotHandle]error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		closed:   make(map[*SnapshotHandle]int),
		attempts: make(map[*SnapshotHandle]int),
		failing:  make(map[*SnapshotHandle]error),
	}
}

func (e *fakeEngine) closeSnapshot(h *SnapshotHandle) error {
	e.attempts[h]++
	if err := e.failing[h]; err != nil {
		return err
	}
	e.closed[h]++
	return nil
}

func (e *fakeEngine) versionOf(h *SnapshotHandle) uint64 {
	return h.version
}

// trackHeld registers a snapshot and returns it; the caller keeps it alive.
func trackHeld(t *testing.T, vt *VersionTracker, version uint64) *Snapshot {
	t.Helper()
	snap := &Snapshot{handle: &SnapshotHandle{version: version}, version: version}
	require.NoError(t, vt.RegisterAndSweep(snap))
	return snap
}

// trackDiscarded registers a snapshot whose only strong reference dies when
// this function returns. The handle survives for assertions.
func trackDiscarded(t *testing.T, vt *VersionTracker, version uint64) *SnapshotHandle {
	t.Helper()
	snap := &Snapshot{handle: &SnapshotHandle{version: version}, version: version}
	require.NoError(t, vt.RegisterAndSweep(snap))
	return snap.handle
}

// collect forces enough garbage collection for weak pointers to
// unreachable snapshots to go nil.
func collect() {
	runtime.GC()
	runtime.GC()
}

func TestTrackerKeepsLiveSnapshot(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	vt := newVersionTracker(engine, DiscardLogger{})

	snap := trackHeld(t, vt, 5)

	for range 3 {
		collect()
		require.NoError(t, vt.RegisterAndSweep(nil))
	}

	assert.Equal(t, []uint64{5}, vt.Versions())
	assert.Empty(t, engine.closed, "live snapshot must never be released")
	runtime.KeepAlive(snap)
}

func TestTrackerReleasesReclaimedSnapshot(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	vt := newVersionTracker(engine, DiscardLogger{})

	handle := trackDiscarded(t, vt, 5)
	collect()

	require.NoError(t, vt.RegisterAndSweep(nil))

	assert.Equal(t, 1, engine.closed[handle])
	assert.Empty(t, vt.Versions())
}

func TestTrackerReleasesExactlyOnce(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	vt := newVersionTracker(engine, DiscardLogger{})

	handle := trackDiscarded(t, vt, 9)
	collect()

	for range 4 {
		require.NoError(t, vt.RegisterAndSweep(nil))
		collect()
	}

	assert.Equal(t, 1, engine.attempts[handle], "close must fire at most once per handle")
}

func TestTrackerVersionsExcludesDeadEntries(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	vt := newVersionTracker(engine, DiscardLogger{})

	a := trackHeld(t, vt, 3)
	trackDiscarded(t, vt, 4)
	b := trackHeld(t, vt, 5)
	collect()

	// No sweep ran yet: the dead entry is still in the registry but must
	// contribute nothing.
	assert.ElementsMatch(t, []uint64{3, 5}, vt.Versions())

	runtime.KeepAlive(a)
	runtime.KeepAlive(b)
}

func TestTrackerRegisterThenImmediateSweep(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	vt := newVersionTracker(engine, DiscardLogger{})

	snap := trackHeld(t, vt, 7)
	require.NoError(t, vt.RegisterAndSweep(nil))

	assert.Equal(t, []uint64{7}, vt.Versions())
	assert.Empty(t, engine.closed)
	runtime.KeepAlive(snap)
}

func TestTrackerCloseReleasesEverything(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	vt := newVersionTracker(engine, DiscardLogger{})

	live := trackHeld(t, vt, 1)
	dead := trackDiscarded(t, vt, 2)
	collect()

	require.NoError(t, vt.Close())

	assert.Equal(t, 1, engine.closed[live.handle], "close releases live entries too")
	assert.Equal(t, 1, engine.closed[dead])
	assert.Empty(t, vt.Versions())
	runtime.KeepAlive(live)

	// Closing an empty tracker is a no-op
	require.NoError(t, vt.Close())
	assert.Equal(t, 1, engine.attempts[live.handle])
	assert.Equal(t, 1, engine.attempts[dead])
}

func TestTrackerReleaseFailureNotRetried(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	vt := newVersionTracker(engine, DiscardLogger{})

	errNative := errors.New("native close failed")
	handle := trackDiscarded(t, vt, 11)
	engine.failing[handle] = errNative
	collect()

	err := vt.RegisterAndSweep(nil)
	require.ErrorIs(t, err, errNative)
	assert.Equal(t, 1, engine.attempts[handle])
	assert.Empty(t, vt.Versions())

	// The entry was dropped before the failed release: no retry on the
	// next sweep.
	require.NoError(t, vt.RegisterAndSweep(nil))
	assert.Equal(t, 1, engine.attempts[handle])
}

func TestTrackerSweepErrorStillRegistersNewSnapshot(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	vt := newVersionTracker(engine, DiscardLogger{})

	errNative := errors.New("native close failed")
	handle := trackDiscarded(t, vt, 1)
	engine.failing[handle] = errNative
	collect()

	next := &Snapshot{handle: &SnapshotHandle{version: 2}, version: 2}
	err := vt.RegisterAndSweep(next)
	require.ErrorIs(t, err, errNative)
	assert.Equal(t, []uint64{2}, vt.Versions())
	runtime.KeepAlive(next)
}

// recordingLogger captures Info events for trace assertions.
type recordingLogger struct {
	DiscardLogger
	events []string
}

func (r *recordingLogger) Info(msg string, args ...any) {
	r.events = append(r.events, msg)
}

func countEvents(events []string, msg string) int {
	n := 0
	for _, e := range events {
		if e == msg {
			n++
		}
	}
	return n
}

func TestTrackerEmitsOneEventPerTransition(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	log := &recordingLogger{}
	vt := newVersionTracker(engine, log)

	live := trackHeld(t, vt, 1)
	trackDiscarded(t, vt, 2)
	collect()

	require.NoError(t, vt.RegisterAndSweep(nil))
	require.NoError(t, vt.Close())

	assert.Equal(t, 2, countEvents(log.events, "tracking snapshot"))
	assert.Equal(t, 2, countEvents(log.events, "released snapshot"))
	runtime.KeepAlive(live)
}

func TestTrackerLifecycle(t *testing.T) {
	t.Parallel()
	engine := newFakeEngine()
	vt := newVersionTracker(engine, DiscardLogger{})

	// Snapshot at version 5 held by a; survives a sweep.
	a := trackHeld(t, vt, 5)
	require.NoError(t, vt.RegisterAndSweep(nil))
	require.Equal(t, []uint64{5}, vt.Versions())
	handleA := a.handle

	// Drop the only holder; the next sweep reclaims it while registering a
	// snapshot at version 7.
	a = nil
	_ = a
	collect()

	b := &Snapshot{handle: &SnapshotHandle{version: 7}, version: 7}
	require.NoError(t, vt.RegisterAndSweep(b))

	assert.Equal(t, 1, engine.closed[handleA])
	assert.Equal(t, []uint64{7}, vt.Versions())
	runtime.KeepAlive(b)
}
