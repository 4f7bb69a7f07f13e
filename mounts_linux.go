//go:build linux

package main

import (
	"os"
	"strings"
)

// mountedDeviceFor reports where dev (or any of its partitions) is mounted,
// or "" when it is not. Checking a mounted device would fight the kernel
// over the same blocks.
func mountedDeviceFor(dev string) string {
	b, err := os.ReadFile("/proc/self/mounts")
	if err != nil {
		return ""
	}
	for _, ln := range strings.Split(string(b), "\n") {
		// format: <src> <target> <fstype> <opts> ...
		fields := strings.Fields(ln)
		if len(fields) < 2 {
			continue
		}
		src := fields[0]
		if src == dev || (strings.HasPrefix(src, dev) && strings.HasPrefix(src, "/dev/")) {
			return fields[1]
		}
	}
	return ""
}
