package verdb

import (
	"errors"

	"verdb/internal/base"
)

var (
	ErrKeyNotFound    = errors.New("key not found")
	ErrDatabaseClosed = errors.New("database is closed")
	ErrKeyEmpty       = errors.New("key cannot be empty")
	ErrKeyTooLarge    = errors.New("key too large")
	ErrValueTooLarge  = errors.New("value too large")
	ErrCorruption     = errors.New("data corruption detected")

	ErrTxNotWritable = errors.New("transaction is read-only")
	ErrTxDone        = errors.New("transaction has been committed or rolled back")

	ErrPageOverflow       = base.ErrPageOverflow
	ErrInvalidMagicNumber = base.ErrInvalidMagicNumber
	ErrInvalidVersion     = base.ErrInvalidVersion
	ErrInvalidPageSize    = base.ErrInvalidPageSize
	ErrInvalidChecksum    = base.ErrInvalidChecksum
)

const (
	// MaxKeySize is the maximum length of a key, in bytes.
	MaxKeySize = 512

	// MaxValueSize is the maximum length of a value, in bytes. There are no
	// overflow pages, so a maximum-size entry must stay under a third of a
	// page's usable bytes: then a byte-balanced split of any full leaf
	// always leaves both halves room for one more maximum-size entry.
	MaxValueSize = 800
)
