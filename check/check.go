// Package check implements the capacity verification algorithm: write a
// deterministic pattern across every block of a device, read it back, track
// the envelope of divergent blocks, and screen the bad region off with a
// fresh partition table.
package check

import (
	"bytes"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"scanflash/device"
	"scanflash/mbr"
)

// progressInterval is how often (in blocks) the callback hears about
// write/read progress.
const progressInterval = 256

// DefaultMaxReadErrorTime is how long the read pass tolerates continuous
// read failures before giving up on the device.
const DefaultMaxReadErrorTime = 15 * time.Second

var (
	// ErrAborted is returned when the user declines a decision gate or
	// answers a failing-block progress report with "stop".
	ErrAborted = errors.New("aborted by user")

	// ErrSustainedFailure is returned when the read pass was cut short by
	// the continuous-failure policy. The partition table has still been
	// written from whatever envelope was accumulated.
	ErrSustainedFailure = errors.New("read failures continued past the configured limit")
)

// Callback receives progress events and answers the two human decision
// gates. All calls are synchronous: the engine does nothing else while a
// decision is pending.
type Callback interface {
	// ResumeWrite asks whether an interrupted previous run should be
	// resumed instead of starting over.
	ResumeWrite() bool

	WriteStart(startBlock, numBlocks uint64)
	WriteProgress(block uint64)
	WriteFinish()

	ReadStart(startBlock, numBlocks uint64)
	// ReadProgress reports the current block; fail is true when the block
	// could not be read at all (as opposed to reading back wrong data).
	// Returning false aborts the read pass.
	ReadProgress(block uint64, fail bool) bool
	ReadFinish()

	// CheckComplete fires after the partition table has been written.
	CheckComplete()

	// RetryReopen asks, after a failed sync and with the device closed,
	// whether to try reopening it. cause is the sync or reopen error that
	// led here. Returning false abandons the whole check.
	RetryReopen(cause error) bool
}

// Result summarizes a read pass.
type Result struct {
	NumBlocks uint64

	// BadFound distinguishes a genuinely bad block 0 from the no-bad-blocks
	// case; the envelope fields alone cannot.
	BadFound      bool
	FirstBadBlock uint64
	LastBadBlock  uint64

	// TimedOut is set when the continuous-failure policy ended the pass
	// early. The envelope covers only what was seen up to that point.
	TimedOut bool
}

// Option adjusts engine policy.
type Option func(*Checker)

// WithMaxReadErrorTime bounds how long the read pass keeps going while
// every block fails. Zero disables the policy.
func WithMaxReadErrorTime(d time.Duration) Option {
	return func(c *Checker) { c.maxReadErrorTime = d }
}

// WithClock substitutes the time source. Tests use it to trip the
// continuous-failure policy without waiting.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// Checker drives one device through the write and read passes. One engine,
// one device, one pass at a time; nothing here is safe for concurrent use.
type Checker struct {
	dev       device.Device
	cb        Callback
	numBlocks uint64

	maxReadErrorTime time.Duration
	now              func() time.Time
}

// New sizes the device and prepares an engine for it. Any trailing partial
// block is excluded from the run.
func New(dev device.Device, cb Callback, opts ...Option) (*Checker, error) {
	size, err := dev.Size()
	if err != nil {
		return nil, err
	}
	c := &Checker{
		dev:              dev,
		cb:               cb,
		numBlocks:        uint64(size) / BlockSize,
		maxReadErrorTime: DefaultMaxReadErrorTime,
		now:              time.Now,
	}
	if c.numBlocks == 0 {
		return nil, errors.Errorf("device too small: %d bytes is less than one %d-byte block", size, BlockSize)
	}
	for _, opt := range opts {
		opt(c)
	}
	zap.L().Info("checker ready",
		zap.Int64("sizeBytes", size),
		zap.Uint64("numBlocks", c.numBlocks))
	return c, nil
}

// NumBlocks returns how many whole blocks the run covers.
func (c *Checker) NumBlocks() uint64 {
	return c.numBlocks
}

// findResumePoint locates roughly where an interrupted write pass stopped,
// assuming blocks [0, k) carry the pattern and the rest do not. The search
// halves its step each probe and stops once the step is down to one block,
// so it can land a few blocks short of the true boundary; the read pass
// re-verifies everything anyway, so a handful of re-written blocks is the
// only cost.
func (c *Checker) findResumePoint() (uint64, error) {
	buf := make([]byte, BlockSize)
	expect := make([]byte, BlockSize)
	remaining := c.numBlocks / 2
	probe := remaining
	for remaining > 1 {
		if err := c.dev.Seek(int64(probe * BlockSize)); err != nil {
			return 0, err
		}
		if err := c.dev.Read(buf); err != nil {
			return 0, errors.Wrapf(err, "scan block %d", probe)
		}
		FillPattern(expect, probe)
		remaining /= 2
		if bytes.Equal(buf, expect) {
			// Already written; boundary is further on.
			probe += remaining
		} else {
			// Not written yet, or corrupted.
			probe -= remaining
		}
	}
	zap.L().Info("resuming interrupted write", zap.Uint64("startBlock", probe))
	return probe, nil
}

// Write runs the write pass: pattern out to every block from the start
// point (0, or a resume point if an interrupted run is detected and the
// user wants to continue it), then a durability barrier. It returns the
// block the pass actually started from.
func (c *Checker) Write() (uint64, error) {
	var startBlock uint64

	buf := make([]byte, BlockSize)
	expect := make([]byte, BlockSize)
	FillPattern(expect, 0)
	if err := c.dev.Seek(0); err != nil {
		return 0, err
	}
	if err := c.dev.Read(buf); err != nil {
		return 0, errors.Wrap(err, "probe block 0")
	}
	if bytes.Equal(buf, expect) {
		// Block 0 already carries the pattern: a previous run was likely
		// interrupted partway through.
		if c.cb.ResumeWrite() {
			var err error
			if startBlock, err = c.findResumePoint(); err != nil {
				return 0, err
			}
		}
	}

	if err := c.dev.Seek(int64(startBlock * BlockSize)); err != nil {
		return 0, err
	}
	c.cb.WriteStart(startBlock, c.numBlocks)
	for b := startBlock; b < c.numBlocks; b++ {
		if b%progressInterval == 0 {
			c.cb.WriteProgress(b)
		}
		FillPattern(buf, b)
		if err := c.dev.Write(buf); err != nil {
			return startBlock, errors.Wrapf(err, "write block %d", b)
		}
	}
	c.cb.WriteProgress(c.numBlocks - 1) // signal 100%
	c.cb.WriteFinish()

	if err := c.dev.Sync(); err != nil {
		if cerr := c.dev.Close(); cerr != nil {
			zap.L().Warn("close after failed sync", zap.Error(cerr))
		}
		// The data may still be sitting in a cache somewhere between us and
		// the flash. Have the user detach and reattach the media, then
		// reopen, so the read pass sees the device and not a cache. Only
		// the user can decide when to give up.
		zap.L().Warn("sync failed, waiting for reattach", zap.Error(err))
		for {
			if !c.cb.RetryReopen(err) {
				return startBlock, errors.Wrap(ErrAborted, "sync failed")
			}
			if err = c.dev.Reopen(); err == nil {
				break
			}
		}
	}
	return startBlock, nil
}

// Read runs the read pass: every block is read back and compared against
// its pattern, divergences widen the bad envelope, and the partition table
// is written from the findings. Read failures are findings, not fatal
// errors, unless they continue for longer than the configured limit.
func (c *Checker) Read() (Result, error) {
	res := Result{NumBlocks: c.numBlocks}

	buf := make([]byte, BlockSize)
	expect := make([]byte, BlockSize)
	if err := c.dev.Seek(0); err != nil {
		return res, err
	}
	c.cb.ReadStart(0, c.numBlocks)

	fail := false
	var firstErrorAt time.Time
	for b := uint64(0); b < c.numBlocks; b++ {
		FillPattern(expect, b)
		if err := c.dev.Read(buf); err != nil {
			fail = true
			c.recordBad(&res, b)
			zap.L().Warn("read failure", zap.Uint64("block", b), zap.Error(err))
			// A read error leaves the position undefined; aim at the next
			// block explicitly. A failing seek here is part of the same
			// fault, not a reason to stop.
			if serr := c.dev.Seek(int64((b + 1) * BlockSize)); serr != nil {
				zap.L().Warn("reseek after read failure", zap.Error(serr))
			}
		} else {
			fail = false
			if !bytes.Equal(buf, expect) {
				c.recordBad(&res, b)
			}
		}
		if b%progressInterval == 0 || fail {
			if !c.cb.ReadProgress(b, fail) {
				return res, errors.Wrap(ErrAborted, "read pass")
			}
		}
		if fail {
			if firstErrorAt.IsZero() {
				firstErrorAt = c.now()
			} else if c.maxReadErrorTime > 0 && c.now().Sub(firstErrorAt) > c.maxReadErrorTime {
				zap.L().Error("continuous read failures, giving up",
					zap.Duration("limit", c.maxReadErrorTime),
					zap.Uint64("block", b))
				res.TimedOut = true
				break
			}
		} else {
			firstErrorAt = time.Time{} // good block resets the run of errors
		}
	}
	if !fail && !res.TimedOut {
		c.cb.ReadProgress(c.numBlocks-1, false) // signal 100%
	}
	c.cb.ReadFinish()

	// Even a pass cut short by the failure policy screens off what it
	// found; a table from partial findings beats no table at all.
	var err error
	if res.BadFound {
		err = mbr.Write(c.dev,
			res.FirstBadBlock*BlockSize,
			(res.LastBadBlock+1)*BlockSize-1,
			c.numBlocks*BlockSize)
	} else {
		err = mbr.Write(c.dev, 0, 0, c.numBlocks*BlockSize)
	}
	if err != nil {
		return res, err
	}
	c.cb.CheckComplete()

	if res.TimedOut {
		return res, ErrSustainedFailure
	}
	return res, nil
}

func (c *Checker) recordBad(res *Result, b uint64) {
	if !res.BadFound {
		res.FirstBadBlock = b
		res.BadFound = true
	}
	res.LastBadBlock = b
}

// Run drives the whole check: write pass, then read pass.
func (c *Checker) Run() (Result, error) {
	if _, err := c.Write(); err != nil {
		return Result{}, err
	}
	return c.Read()
}
