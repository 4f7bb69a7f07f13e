package check

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanflash/mbr"
)

// memDevice is an in-memory device with injectable faults.
type memDevice struct {
	data []byte
	pos  int64

	closed      bool
	reopenCalls int
	syncCalls   int
	syncFails   int                     // this many Sync calls fail before one succeeds
	failReads   func(block uint64) bool // reads touching these blocks error out
	writeCount  int
}

func newMemDevice(blocks int) *memDevice {
	return &memDevice{data: make([]byte, blocks*BlockSize)}
}

func (d *memDevice) Close() error {
	d.closed = true
	return nil
}

func (d *memDevice) Reopen() error {
	d.reopenCalls++
	d.closed = false
	return nil
}

func (d *memDevice) Size() (int64, error) { return int64(len(d.data)), nil }

func (d *memDevice) Seek(off int64) error {
	d.pos = off
	return nil
}

func (d *memDevice) Read(buf []byte) error {
	if d.failReads != nil && d.failReads(uint64(d.pos)/BlockSize) {
		return errors.New("injected read failure")
	}
	if d.pos+int64(len(buf)) > int64(len(d.data)) {
		return errors.New("read past end of device")
	}
	copy(buf, d.data[d.pos:])
	d.pos += int64(len(buf))
	return nil
}

func (d *memDevice) Write(buf []byte) error {
	if d.pos+int64(len(buf)) > int64(len(d.data)) {
		return errors.New("write past end of device")
	}
	copy(d.data[d.pos:], buf)
	d.pos += int64(len(buf))
	d.writeCount++
	return nil
}

func (d *memDevice) Sync() error {
	d.syncCalls++
	if d.syncFails > 0 {
		d.syncFails--
		return errors.New("injected sync failure")
	}
	return nil
}

// prewrite fills blocks [0, k) with their pattern, as an interrupted write
// pass would have left them.
func (d *memDevice) prewrite(k uint64) {
	for b := uint64(0); b < k; b++ {
		FillPattern(d.data[b*BlockSize:(b+1)*BlockSize], b)
	}
}

// fakeCallback records every event and answers the decision gates with
// canned choices.
type fakeCallback struct {
	resume      bool
	retryReopen bool
	stopOnFail  bool

	resumeAsked   int
	retryAsked    int
	writeStarts   []uint64
	writeProgress []uint64
	writeFinished int
	readStarts    []uint64
	readFails     []uint64
	readFinished  int
	completed     int
}

func (f *fakeCallback) ResumeWrite() bool {
	f.resumeAsked++
	return f.resume
}

func (f *fakeCallback) WriteStart(startBlock, _ uint64) {
	f.writeStarts = append(f.writeStarts, startBlock)
}

func (f *fakeCallback) WriteProgress(b uint64) {
	f.writeProgress = append(f.writeProgress, b)
}

func (f *fakeCallback) WriteFinish() { f.writeFinished++ }

func (f *fakeCallback) ReadStart(startBlock, _ uint64) {
	f.readStarts = append(f.readStarts, startBlock)
}

func (f *fakeCallback) ReadProgress(b uint64, fail bool) bool {
	if fail {
		f.readFails = append(f.readFails, b)
		if f.stopOnFail {
			return false
		}
	}
	return true
}

func (f *fakeCallback) ReadFinish() { f.readFinished++ }

func (f *fakeCallback) CheckComplete() { f.completed++ }

func (f *fakeCallback) RetryReopen(error) bool {
	f.retryAsked++
	return f.retryReopen
}

func TestRoundTripCleanDevice(t *testing.T) {
	dev := newMemDevice(64)
	cb := &fakeCallback{}
	chk, err := New(dev, cb)
	require.NoError(t, err)

	res, err := chk.Run()
	require.NoError(t, err)

	assert.False(t, res.BadFound)
	assert.False(t, res.TimedOut)
	assert.Equal(t, uint64(64), res.NumBlocks)
	assert.Equal(t, 1, cb.writeFinished)
	assert.Equal(t, 1, cb.readFinished)
	assert.Equal(t, 1, cb.completed)
	assert.Equal(t, 0, cb.resumeAsked, "blank device must not offer resume")

	// Every block past the MBR still carries its pattern.
	assert.True(t, MatchesPattern(dev.data[BlockSize:2*BlockSize], 1))
	assert.True(t, MatchesPattern(dev.data[63*BlockSize:64*BlockSize], 63))

	// Single good partition spanning the whole device.
	entries, _, err := mbr.Decode(dev.data[:mbr.Size])
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, mbr.Entry{Start: 0, End: 64 * BlockSize / mbr.SectorSize, Type: mbr.TypeGood}, entries[0])
}

func TestWritePassCoversEveryBlock(t *testing.T) {
	dev := newMemDevice(64)
	cb := &fakeCallback{}
	chk, err := New(dev, cb)
	require.NoError(t, err)

	start, err := chk.Write()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), start)

	for b := uint64(0); b < 64; b++ {
		assert.True(t, MatchesPattern(dev.data[b*BlockSize:(b+1)*BlockSize], b), "block %d", b)
	}
	assert.Equal(t, []uint64{0}, cb.writeStarts)
	// Cadence report at block 0 plus the forced 100% report.
	assert.Equal(t, []uint64{0, 63}, cb.writeProgress)
	assert.Equal(t, 1, dev.syncCalls)
}

func TestResumeLandsAtOrBeforeBoundary(t *testing.T) {
	const numBlocks = 4096
	const interrupted = 1000

	dev := newMemDevice(numBlocks)
	dev.prewrite(interrupted)
	cb := &fakeCallback{resume: true}
	chk, err := New(dev, cb)
	require.NoError(t, err)

	start, err := chk.Write()
	require.NoError(t, err)

	assert.Equal(t, 1, cb.resumeAsked)
	assert.LessOrEqual(t, start, uint64(interrupted), "resume must not skip unwritten blocks")
	assert.Greater(t, start, uint64(0), "resume should not start over")
	assert.Equal(t, []uint64{start}, cb.writeStarts)

	// Whatever point the search picked, the pass must leave every block
	// patterned.
	for b := uint64(0); b < numBlocks; b++ {
		require.True(t, MatchesPattern(dev.data[b*BlockSize:(b+1)*BlockSize], b), "block %d", b)
	}
}

func TestResumeDeclinedStartsOver(t *testing.T) {
	dev := newMemDevice(64)
	dev.prewrite(10)
	cb := &fakeCallback{resume: false}
	chk, err := New(dev, cb)
	require.NoError(t, err)

	start, err := chk.Write()
	require.NoError(t, err)
	assert.Equal(t, 1, cb.resumeAsked)
	assert.Equal(t, uint64(0), start)
}

func TestSyncFailureRecoversViaReopen(t *testing.T) {
	dev := newMemDevice(64)
	dev.syncFails = 1
	cb := &fakeCallback{retryReopen: true}
	chk, err := New(dev, cb)
	require.NoError(t, err)

	_, err = chk.Write()
	require.NoError(t, err)
	assert.Equal(t, 1, cb.retryAsked)
	assert.Equal(t, 1, dev.reopenCalls)

	// The read pass must follow without the write pass re-running.
	writesAfterWritePass := dev.writeCount
	res, err := chk.Read()
	require.NoError(t, err)
	assert.False(t, res.BadFound)
	assert.Equal(t, writesAfterWritePass+1, dev.writeCount, "only the MBR write may follow")
}

func TestSyncFailureDeclinedAborts(t *testing.T) {
	dev := newMemDevice(64)
	dev.syncFails = 1
	cb := &fakeCallback{retryReopen: false}
	chk, err := New(dev, cb)
	require.NoError(t, err)

	_, err = chk.Write()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAborted))
	assert.True(t, dev.closed)
	assert.Equal(t, 0, dev.reopenCalls)
}

func TestReadDetectsCorruptedEnvelope(t *testing.T) {
	dev := newMemDevice(64)
	cb := &fakeCallback{}
	chk, err := New(dev, cb)
	require.NoError(t, err)
	_, err = chk.Write()
	require.NoError(t, err)

	// One flipped byte per block across [10, 20], the way wrapped writes
	// leave stale data behind.
	for b := 10; b <= 20; b++ {
		dev.data[b*BlockSize+b] ^= 0xFF
	}

	res, err := chk.Read()
	require.NoError(t, err)
	assert.True(t, res.BadFound)
	assert.Equal(t, uint64(10), res.FirstBadBlock)
	assert.Equal(t, uint64(20), res.LastBadBlock)
	assert.Empty(t, cb.readFails, "corruption is not an I/O failure")

	entries, _, err := mbr.Decode(dev.data[:mbr.Size])
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, mbr.Entry{
		Start: 10 * BlockSize / mbr.SectorSize,
		End:   21 * BlockSize / mbr.SectorSize,
		Type:  mbr.TypeBad,
	}, entries[0])
	assert.Equal(t, byte(mbr.TypeGood), entries[1].Type)
}

func TestReadFailureIsAFindingNotFatal(t *testing.T) {
	dev := newMemDevice(64)
	cb := &fakeCallback{}
	chk, err := New(dev, cb)
	require.NoError(t, err)
	_, err = chk.Write()
	require.NoError(t, err)

	dev.failReads = func(b uint64) bool { return b == 5 }

	res, err := chk.Read()
	require.NoError(t, err)
	assert.True(t, res.BadFound)
	assert.Equal(t, uint64(5), res.FirstBadBlock)
	assert.Equal(t, uint64(5), res.LastBadBlock)
	assert.Equal(t, []uint64{5}, cb.readFails)
	assert.Equal(t, 1, cb.completed)
}

func TestUserAbortDuringRead(t *testing.T) {
	dev := newMemDevice(64)
	cb := &fakeCallback{stopOnFail: true}
	chk, err := New(dev, cb)
	require.NoError(t, err)
	_, err = chk.Write()
	require.NoError(t, err)

	dev.failReads = func(b uint64) bool { return b == 3 }

	_, err = chk.Read()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAborted))
	assert.Equal(t, 0, cb.completed)
	// No partition table on an aborted run.
	assert.NotEqual(t, byte(0x55), dev.data[0x1FE])
}

func TestSustainedReadFailureTimesOut(t *testing.T) {
	dev := newMemDevice(64)
	cb := &fakeCallback{}

	// Every clock query advances one second, so three failing blocks in a
	// row exceed the two-second budget without any real waiting.
	var tick int64
	clock := func() time.Time {
		tick++
		return time.Unix(tick, 0)
	}

	chk, err := New(dev, cb, WithMaxReadErrorTime(2*time.Second), WithClock(clock))
	require.NoError(t, err)
	_, err = chk.Write()
	require.NoError(t, err)

	dev.failReads = func(b uint64) bool { return b >= 8 }

	res, err := chk.Read()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSustainedFailure))
	assert.True(t, res.TimedOut)
	assert.True(t, res.BadFound)
	assert.Equal(t, uint64(8), res.FirstBadBlock)
	assert.GreaterOrEqual(t, res.LastBadBlock, res.FirstBadBlock)
	assert.Less(t, res.LastBadBlock, uint64(63), "pass must stop early")

	// The table still reflects what was seen before giving up.
	entries, _, err := mbr.Decode(dev.data[:mbr.Size])
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, byte(mbr.TypeBad), entries[0].Type)
	assert.Equal(t, uint64(8*BlockSize/mbr.SectorSize), entries[0].Start)
}

func TestBadBlockZeroDiffersFromAllGood(t *testing.T) {
	good := newMemDevice(64)
	bad := newMemDevice(64)
	for _, dev := range []*memDevice{good, bad} {
		chk, err := New(dev, &fakeCallback{})
		require.NoError(t, err)
		_, err = chk.Write()
		require.NoError(t, err)
	}

	// One stale byte in block 0, outside the region the MBR will cover.
	bad.data[600] ^= 0xFF

	for _, tc := range []struct {
		name      string
		dev       *memDevice
		wantBad   bool
		wantStart uint64
	}{
		{"all good", good, false, 0},
		{"bad block zero", bad, true, BlockSize / mbr.SectorSize},
	} {
		t.Run(tc.name, func(t *testing.T) {
			chk, err := New(tc.dev, &fakeCallback{})
			require.NoError(t, err)
			res, err := chk.Read()
			require.NoError(t, err)
			assert.Equal(t, tc.wantBad, res.BadFound)

			entries, _, err := mbr.Decode(tc.dev.data[:mbr.Size])
			require.NoError(t, err)
			require.NotEmpty(t, entries)
			// Same numeric envelope, different branch: the all-good run
			// partitions from sector 0, the bad-block-zero run only after
			// the screened-off block.
			assert.Equal(t, tc.wantStart, entries[0].Start)
		})
	}
}

func TestTooSmallDeviceRejected(t *testing.T) {
	dev := &memDevice{data: make([]byte, BlockSize-1)}
	_, err := New(dev, &fakeCallback{})
	assert.Error(t, err)
}
