package check

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternDeterministic(t *testing.T) {
	for _, b := range []uint64{0, 1, 255, 4096, 1 << 32} {
		first := Pattern(b)
		second := Pattern(b)
		assert.Equal(t, first, second, "block %d", b)
		assert.True(t, MatchesPattern(first, b), "block %d", b)
	}
}

func TestPatternAvoidsAllZeroes(t *testing.T) {
	buf := Pattern(0)
	require.Len(t, buf, BlockSize)
	// Block 0 encodes the value 1, so the first byte of every 8-byte word
	// is 0x01 and erased media cannot be mistaken for a written block.
	for i := 0; i < BlockSize; i += 8 {
		assert.Equal(t, byte(0x01), buf[i], "offset %d", i)
		assert.Equal(t, [7]byte{}, [7]byte(buf[i+1:i+8]), "offset %d", i+1)
	}
}

func TestPatternLittleEndian(t *testing.T) {
	buf := Pattern(0x0102030405060707)
	// block+1, least significant byte first
	assert.Equal(t, []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}, buf[:8])
}

func TestPatternDistinctAcrossBlocks(t *testing.T) {
	seen := Pattern(41)
	for b := uint64(42); b < 1042; b++ {
		next := Pattern(b)
		assert.NotEqual(t, seen, next, "block %d", b)
		seen = next
	}
}

func TestMatchesPatternRejectsCorruption(t *testing.T) {
	buf := Pattern(7)
	buf[BlockSize-1] ^= 0x80
	assert.False(t, MatchesPattern(buf, 7))
	assert.False(t, MatchesPattern(Pattern(8), 7))
}
