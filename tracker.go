package verdb

import (
	"errors"
	"weak"
)

// snapshotReleaser is the slice of engine behavior the tracker drives:
// closing a snapshot handle (exactly once per handle) and reading the
// version a handle was opened at. *DB implements it; tests substitute a
// fake. Calls are made with the owner's lock already held.
type snapshotReleaser interface {
	closeSnapshot(h *SnapshotHandle) error
	versionOf(h *SnapshotHandle) uint64
}

// trackedRef pairs an engine snapshot handle with a weak observer of the
// application-facing Snapshot that pins it. Immutable once created.
type trackedRef struct {
	handle *SnapshotHandle
	ref    weak.Pointer[Snapshot]
}

// VersionTracker knows which versions of the database are still reachable
// through live Snapshot values and closes the engine handles of versions
// that are not. It observes Snapshots weakly, so holding one in the registry
// never prevents the reclamation it exists to detect. Reclamation is
// deferred: a Snapshot whose last holder is dropped keeps its handle open
// until the next sweep, which the owning DB triggers after each commit and
// whenever a new snapshot is registered.
//
// Not safe for concurrent use. The owning DB serializes all calls under its
// own lock.
type VersionTracker struct {
	engine snapshotReleaser
	log    Logger
	refs   []trackedRef
}

func newVersionTracker(engine snapshotReleaser, log Logger) *VersionTracker {
	return &VersionTracker{
		engine: engine,
		log:    log,
	}
}

// RegisterAndSweep optionally begins tracking a newly opened Snapshot, then
// scans the registry: entries whose Snapshot has been reclaimed have their
// engine handle closed and are dropped, live entries are carried forward.
// The rebuilt registry replaces the old one in a single assignment.
//
// A failed close is reported in the returned error (multiple failures are
// joined) but the entry is dropped regardless: the handle is never retried
// and never closed twice. The version logged for a dead entry is read from
// the engine before the close call; the Snapshot itself is already gone and
// the handle is unusable afterward.
func (vt *VersionTracker) RegisterAndSweep(next *Snapshot) error {
	working := make([]trackedRef, 0, len(vt.refs)+1)
	if next != nil {
		working = append(working, trackedRef{
			handle: next.handle,
			ref:    weak.Make(next),
		})
		vt.log.Info("tracking snapshot", "version", next.Version())
	}

	var errs []error
	for _, tr := range vt.refs {
		if tr.ref.Value() != nil {
			working = append(working, tr)
			continue
		}

		version := vt.engine.versionOf(tr.handle)
		if err := vt.engine.closeSnapshot(tr.handle); err != nil {
			errs = append(errs, err)
			continue
		}
		vt.log.Info("released snapshot", "version", version, "cause", "holder reclaimed")
	}

	vt.refs = working
	return errors.Join(errs...)
}

// Versions returns the versions of all tracked snapshots whose holder is
// still alive. Entries that died since the last sweep contribute nothing.
// Read-only; does not sweep.
func (vt *VersionTracker) Versions() []uint64 {
	versions := make([]uint64, 0, len(vt.refs))
	for _, tr := range vt.refs {
		if snap := tr.ref.Value(); snap != nil {
			versions = append(versions, snap.Version())
		}
	}
	return versions
}

// Close closes every remaining handle, live or not, and empties the
// registry. Called from the DB's own close path. Closing an already-empty
// tracker is a no-op.
func (vt *VersionTracker) Close() error {
	var errs []error
	for _, tr := range vt.refs {
		version := vt.engine.versionOf(tr.handle)
		if err := vt.engine.closeSnapshot(tr.handle); err != nil {
			errs = append(errs, err)
			continue
		}
		vt.log.Info("released snapshot", "version", version, "cause", "tracker closed")
	}
	vt.refs = nil
	return errors.Join(errs...)
}
