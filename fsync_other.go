//go:build !linux

package verdb

import "os"

func fdatasync(f *os.File) error {
	return f.Sync()
}
