//go:build windows

package device

import (
	"fmt"
	"os"
)

// Raw device access is not supported on Windows (teacher precedent: USB
// bridges refuse the required raw flags). Image files still work.
const openFlags = os.O_RDWR

func ioctlSize(f *os.File) (int64, error) {
	return 0, fmt.Errorf("raw device sizing not supported on windows; use an image file")
}
