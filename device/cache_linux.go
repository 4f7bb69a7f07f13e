//go:build linux

package device

import (
	"os"

	"golang.org/x/sys/unix"
)

// flushCaches pushes data to the media and invalidates the kernel's buffer
// cache for the device, so reads after a Sync come from the hardware and not
// from memory. Image files have no buffer cache to drop; BLKFLSBUF answering
// ENOTTY there is fine.
func flushCaches(f *os.File) error {
	if err := unix.Fdatasync(int(f.Fd())); err != nil {
		return err
	}
	if _, err := unix.IoctlRetInt(int(f.Fd()), unix.BLKFLSBUF); err != nil && err != unix.ENOTTY {
		return err
	}
	return nil
}
