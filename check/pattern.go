package check

import (
	"bytes"
	"encoding/binary"
)

// BlockSize is the unit of verification. Reads and writes are issued in
// whole blocks; a trailing partial block on the device is never touched.
const BlockSize = 4096

// FillPattern writes the verification pattern for the given block into buf:
// the 64-bit little-endian encoding of block+1 tiled across the buffer. The
// +1 keeps block 0 from being all zeroes, which would look identical to
// factory-erased media.
func FillPattern(buf []byte, block uint64) {
	var word [8]byte
	binary.LittleEndian.PutUint64(word[:], block+1)
	for i := 0; i+8 <= len(buf); i += 8 {
		copy(buf[i:i+8], word[:])
	}
}

// Pattern returns a freshly allocated pattern buffer for the given block.
func Pattern(block uint64) []byte {
	buf := make([]byte, BlockSize)
	FillPattern(buf, block)
	return buf
}

// MatchesPattern reports whether buf holds exactly the pattern for block.
func MatchesPattern(buf []byte, block uint64) bool {
	expect := make([]byte, len(buf))
	FillPattern(expect, block)
	return bytes.Equal(buf, expect)
}
