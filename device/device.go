// Package device provides access to raw block devices and disk images
// through a single seek/read/write/sync contract.
package device

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Device is the contract the verification engine drives. Read and Write
// operate at the current seek position and advance it. Sync is a durability
// barrier and must also defeat any read cache, so that reads issued after it
// reflect the physical media rather than kernel buffers.
type Device interface {
	Close() error
	Reopen() error
	Size() (int64, error)
	Seek(off int64) error
	Read(buf []byte) error
	Write(buf []byte) error
	Sync() error
}

// FileDevice implements Device on top of an *os.File, covering both raw
// block devices (/dev/sdX and friends) and plain image files.
type FileDevice struct {
	path string
	f    *os.File
}

// Open opens path for read/write with synchronous writes where the platform
// supports it.
func Open(path string) (*FileDevice, error) {
	d := &FileDevice{path: path}
	if err := d.Reopen(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reopen re-opens the path given to Open. Used after a failed Sync, once the
// user has detached and reattached the media.
func (d *FileDevice) Reopen() error {
	f, err := os.OpenFile(d.path, openFlags, 0)
	if err != nil {
		return errors.Wrapf(err, "open %s", d.path)
	}
	d.f = f
	zap.L().Debug("device opened", zap.String("path", d.path))
	return nil
}

// Close releases the handle. The device can be brought back with Reopen.
func (d *FileDevice) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return errors.Wrapf(err, "close %s", d.path)
}

// Path returns the path the device was opened with.
func (d *FileDevice) Path() string {
	return d.path
}

// Size reports the device size in bytes. Regular files and most block
// devices answer to a seek-to-end; character devices need platform ioctls.
func (d *FileDevice) Size() (int64, error) {
	size, err := d.f.Seek(0, io.SeekEnd)
	if err == nil && size > 0 {
		if _, err := d.f.Seek(0, io.SeekStart); err != nil {
			return 0, errors.Wrap(err, "rewind after size probe")
		}
		return size, nil
	}
	size, ierr := ioctlSize(d.f)
	if ierr != nil {
		return 0, errors.Wrapf(ierr, "size of %s", d.path)
	}
	return size, nil
}

// Seek positions the next Read or Write at the given byte offset.
func (d *FileDevice) Seek(off int64) error {
	if _, err := d.f.Seek(off, io.SeekStart); err != nil {
		return errors.Wrapf(err, "seek to %d", off)
	}
	return nil
}

// Read fills buf from the current position.
func (d *FileDevice) Read(buf []byte) error {
	if _, err := io.ReadFull(d.f, buf); err != nil {
		return errors.Wrap(err, "device read")
	}
	return nil
}

// Write stores buf at the current position.
func (d *FileDevice) Write(buf []byte) error {
	n, err := d.f.Write(buf)
	if err != nil {
		return errors.Wrap(err, "device write")
	}
	if n != len(buf) {
		return errors.Errorf("short device write: %d/%d bytes", n, len(buf))
	}
	return nil
}

// Sync flushes everything to the media and drops kernel read caches where
// the platform allows it, so the following read pass hits the device itself.
func (d *FileDevice) Sync() error {
	if err := d.f.Sync(); err != nil {
		return errors.Wrapf(err, "sync %s", d.path)
	}
	if err := flushCaches(d.f); err != nil {
		return errors.Wrapf(err, "flush caches on %s", d.path)
	}
	return nil
}
