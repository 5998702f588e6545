//go:build !linux
// +build !linux

package checkpoint

import "os"

func syncFile(f *os.File) error {
	return f.Sync()
}
