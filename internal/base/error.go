package base

import "errors"

var (
	ErrPageOverflow       = errors.New("node does not fit in a page")
	ErrInvalidMagicNumber = errors.New("invalid magic number")
	ErrInvalidVersion     = errors.New("unsupported format version")
	ErrInvalidPageSize    = errors.New("page size mismatch")
	ErrInvalidChecksum    = errors.New("checksum mismatch")
)
