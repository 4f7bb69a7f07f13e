//go:build darwin

package main

import (
	"strings"

	"golang.org/x/sys/unix"
)

// mountedDeviceFor reports where dev (or any of its partitions) is mounted,
// or "" when it is not.
func mountedDeviceFor(dev string) string {
	n, err := unix.Getfsstat(nil, unix.MNT_NOWAIT)
	if err != nil || n <= 0 {
		return ""
	}
	buf := make([]unix.Statfs_t, n)
	if _, err = unix.Getfsstat(buf, unix.MNT_NOWAIT); err != nil {
		return ""
	}
	for _, st := range buf {
		from := cString(st.Mntfromname[:])
		if from == dev || strings.HasPrefix(from, dev+"s") {
			return cString(st.Mntonname[:])
		}
	}
	return ""
}

func cString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
