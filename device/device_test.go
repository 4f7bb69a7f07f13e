//go:build !windows

package device

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newImage(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flash.img")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestFileDeviceRoundTrip(t *testing.T) {
	dev, err := Open(newImage(t, 1<<20))
	require.NoError(t, err)
	defer dev.Close()

	size, err := dev.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), size)

	payload := bytes.Repeat([]byte{0xA5}, 4096)
	require.NoError(t, dev.Seek(8192))
	require.NoError(t, dev.Write(payload))
	require.NoError(t, dev.Sync())

	got := make([]byte, 4096)
	require.NoError(t, dev.Seek(8192))
	require.NoError(t, dev.Read(got))
	assert.Equal(t, payload, got)
}

func TestFileDeviceSequentialAdvance(t *testing.T) {
	dev, err := Open(newImage(t, 64*1024))
	require.NoError(t, err)
	defer dev.Close()

	require.NoError(t, dev.Seek(0))
	require.NoError(t, dev.Write([]byte{1, 2, 3, 4}))
	require.NoError(t, dev.Write([]byte{5, 6, 7, 8}))

	got := make([]byte, 8)
	require.NoError(t, dev.Seek(0))
	require.NoError(t, dev.Read(got))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, got)
}

func TestFileDeviceReopen(t *testing.T) {
	dev, err := Open(newImage(t, 64*1024))
	require.NoError(t, err)

	require.NoError(t, dev.Seek(512))
	require.NoError(t, dev.Write([]byte{0xEE}))
	require.NoError(t, dev.Close())
	require.NoError(t, dev.Reopen())
	defer dev.Close()

	got := make([]byte, 1)
	require.NoError(t, dev.Seek(512))
	require.NoError(t, dev.Read(got))
	assert.Equal(t, byte(0xEE), got[0])
}

func TestFileDeviceReadPastEnd(t *testing.T) {
	dev, err := Open(newImage(t, 1024))
	require.NoError(t, err)
	defer dev.Close()

	require.NoError(t, dev.Seek(1000))
	err = dev.Read(make([]byte, 512))
	assert.Error(t, err)
}

func TestOpenMissingPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}
