package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

type deviceInfo struct {
	Path       string
	Compatible bool
	Reason     string
}

// isRawDevice is the safety gate for --force: anything under /dev (or a
// Windows device namespace path) counts as raw; image files do not.
func isRawDevice(path string) bool {
	return strings.HasPrefix(path, "/dev/") || strings.HasPrefix(path, `\\.\`)
}

func discoverDevices() ([]deviceInfo, error) {
	switch runtime.GOOS {
	case "darwin":
		return discoverDarwin()
	case "linux":
		return discoverLinux()
	default:
		return nil, fmt.Errorf("device discovery not supported on %s; pass --device explicitly", runtime.GOOS)
	}
}

func discoverDarwin() ([]deviceInfo, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, err
	}
	infos := []deviceInfo{}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "disk") && !strings.HasPrefix(name, "rdisk") {
			continue
		}
		path := filepath.Join("/dev", name)
		// Partition if there's an 's' immediately followed by a digit
		// (disk2s1, rdisk3s2).
		isPart := false
		for i := 0; i+1 < len(name); i++ {
			if name[i] == 's' && name[i+1] >= '0' && name[i+1] <= '9' {
				isPart = true
				break
			}
		}
		if isPart {
			infos = append(infos, deviceInfo{Path: path, Compatible: false, Reason: "partition"})
		} else {
			infos = append(infos, deviceInfo{Path: path, Compatible: true})
		}
	}
	return infos, nil
}

func discoverLinux() ([]deviceInfo, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, err
	}
	infos := []deviceInfo{}
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join("/dev", name)
		switch {
		case isWholeLinuxDevice(name):
			infos = append(infos, deviceInfo{Path: path, Compatible: true})
		case isPartitionLinux(name):
			infos = append(infos, deviceInfo{Path: path, Compatible: false, Reason: "partition"})
		case strings.HasPrefix(name, "loop"):
			infos = append(infos, deviceInfo{Path: path, Compatible: false, Reason: "loop device"})
		}
	}
	return infos, nil
}

func isWholeLinuxDevice(name string) bool {
	// sdX, vdX
	if len(name) == 3 && (strings.HasPrefix(name, "sd") || strings.HasPrefix(name, "vd")) && name[2] >= 'a' && name[2] <= 'z' {
		return true
	}
	// nvmeXnY (no pZ suffix)
	if rest, ok := strings.CutPrefix(name, "nvme"); ok && !strings.Contains(rest, "p") {
		if i := strings.IndexByte(rest, 'n'); i > 0 && i+1 < len(rest) {
			return true
		}
	}
	// mmcblkX
	if strings.HasPrefix(name, "mmcblk") && !strings.Contains(name, "p") {
		return true
	}
	return false
}

func isPartitionLinux(name string) bool {
	if (strings.HasPrefix(name, "sd") || strings.HasPrefix(name, "vd")) && len(name) >= 4 {
		if name[len(name)-1] >= '0' && name[len(name)-1] <= '9' {
			return true
		}
	}
	if strings.HasPrefix(name, "nvme") && strings.Contains(name, "p") {
		return true
	}
	if strings.HasPrefix(name, "mmcblk") && strings.Contains(name, "p") {
		return true
	}
	return false
}
