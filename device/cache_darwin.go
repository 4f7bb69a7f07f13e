//go:build darwin

package device

import (
	"os"

	"golang.org/x/sys/unix"
)

// flushCaches forces data out of the drive's own write cache. F_FULLFSYNC is
// the strongest barrier macOS offers; there is no equivalent of Linux's
// buffer-cache drop, so O_SYNC on the handle has to carry the rest.
func flushCaches(f *os.File) error {
	_, err := unix.FcntlInt(f.Fd(), unix.F_FULLFSYNC, 0)
	if err == unix.ENOTTY || err == unix.ENOTSUP {
		return nil
	}
	return err
}
