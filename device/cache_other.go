//go:build !linux && !darwin

package device

import "os"

// No portable cache-drop primitive here; the O_SYNC handle and File.Sync
// carry the durability barrier on their own.
func flushCaches(*os.File) error {
	return nil
}
