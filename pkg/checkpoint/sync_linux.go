//go:build linux
// +build linux

package checkpoint

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncFile pushes the checkpoint's data to stable storage. Linux gets away
// with fdatasync since the rename publishes the metadata afterwards.
func syncFile(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
