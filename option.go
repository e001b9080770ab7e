package verdb

// SyncMode controls when database writes are fsynced to disk
type SyncMode int

const (
	// SyncEveryCommit fsyncs data pages and the meta page on every commit.
	// - Guarantees the last committed version survives power failure
	// - Limited by fsync latency
	SyncEveryCommit SyncMode = iota

	// SyncOff disables fsync entirely (testing/bulk loads only).
	// - Maximum throughput
	// - Unflushed commits lost on crash; the file still recovers to some
	//   earlier committed version thanks to copy-on-write
	SyncOff
)

// Options configures database behavior.
type Options struct {
	syncMode  SyncMode
	cacheSize int // maximum number of cached nodes
	logger    Logger
}

func defaultOptions() Options {
	return Options{
		syncMode:  SyncEveryCommit,
		cacheSize: 1024,
		logger:    DiscardLogger{},
	}
}

// Option configures database options using the functional options pattern.
type Option func(*Options)

// WithSyncEveryCommit configures the database to fsync on every commit.
//
//goland:noinspection GoUnusedExportedFunction
func WithSyncEveryCommit() Option {
	return func(opts *Options) {
		opts.syncMode = SyncEveryCommit
	}
}

// WithSyncOff disables fsync entirely.
// Only use for testing or bulk loads where data can be reconstructed.
//
//goland:noinspection GoUnusedExportedFunction
func WithSyncOff() Option {
	return func(opts *Options) {
		opts.syncMode = SyncOff
	}
}

// WithCacheSize sets the maximum number of nodes held in the in-memory cache.
//
//goland:noinspection GoUnusedExportedFunction
func WithCacheSize(entries int) Option {
	return func(opts *Options) {
		opts.cacheSize = entries
	}
}

// WithLogger sets the sink for trace events. The default discards them.
//
//goland:noinspection GoUnusedExportedFunction
func WithLogger(l Logger) Option {
	return func(opts *Options) {
		opts.logger = l
	}
}
