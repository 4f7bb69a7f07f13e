package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"scanflash/check"
)

// askYesNo prompts on stdout and reads one line. Anything but y/Y is no.
func askYesNo(in io.Reader, prompt string) bool {
	fmt.Print(prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.TrimSpace(line)
	return answer == "y" || answer == "Y" || strings.EqualFold(answer, "yes")
}

// consoleCallback reports progress with carriage-return rewritten lines:
// current block, percent, ETA and throughput.
type consoleCallback struct {
	in  io.Reader
	out io.Writer

	startBlock uint64
	numBlocks  uint64
	started    time.Time
	lastShown  time.Duration
}

func newConsoleCallback(in io.Reader, out io.Writer) *consoleCallback {
	// One buffered reader for the lifetime of the callback, so consecutive
	// prompts do not lose typed-ahead input. askYesNo reuses it as-is.
	return &consoleCallback{in: bufio.NewReader(in), out: out}
}

func (c *consoleCallback) ResumeWrite() bool {
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "This device appears to be in the process of being checked.  Possibly a")
	fmt.Fprintln(c.out, "previous run was aborted early.  You can resume this check or start over.")
	return askYesNo(c.in, "Resume (Y/N)? ")
}

func (c *consoleCallback) WriteStart(startBlock, numBlocks uint64) {
	c.startBlock = startBlock
	c.numBlocks = numBlocks
	c.started = time.Now()
}

func (c *consoleCallback) WriteProgress(b uint64) {
	c.progressLine("Writing to", b)
}

func (c *consoleCallback) WriteFinish() {
	fmt.Fprintln(c.out)
}

func (c *consoleCallback) ReadStart(startBlock, numBlocks uint64) {
	c.startBlock = startBlock
	c.numBlocks = numBlocks
	c.started = time.Now()
	c.lastShown = 0
}

func (c *consoleCallback) ReadProgress(b uint64, fail bool) bool {
	// Failing blocks report every block; redraw at most once per second so
	// a long bad stretch does not flood the terminal.
	elapsed := time.Since(c.started).Truncate(time.Second)
	if !fail || elapsed != c.lastShown {
		c.lastShown = elapsed
		c.progressLine("Reading from", b)
	}
	return true
}

func (c *consoleCallback) ReadFinish() {
	fmt.Fprintln(c.out)
}

func (c *consoleCallback) CheckComplete() {}

func (c *consoleCallback) RetryReopen(cause error) bool {
	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "Error flushing device: %v\n", cause)
	fmt.Fprintln(c.out, "You should remove and reattach the storage device before continuing,")
	fmt.Fprintln(c.out, "to ensure the data that is about to be read is coming from the device")
	fmt.Fprintln(c.out, "itself and not any system caches.  If you continue without reattaching")
	fmt.Fprintln(c.out, "the device, some faults may not be detected.")
	return askYesNo(c.in, "Continue (Y/N)? ")
}

func (c *consoleCallback) progressLine(verb string, b uint64) {
	percent := uint64(100)
	if c.numBlocks > 1 {
		percent = b * 100 / (c.numBlocks - 1)
	}
	fmt.Fprintf(c.out, "\r%s block %d [%d%%] ", verb, b, percent)
	if b > c.startBlock {
		secs := int64(time.Since(c.started).Seconds())
		done := b - c.startBlock
		remaining := int64(c.numBlocks-1-b) * secs / int64(done)
		fmt.Fprintf(c.out, "ETA %02d:%02d:%02d", remaining/3600, (remaining/60)%60, remaining%60)
		if secs > 0 {
			fmt.Fprintf(c.out, " %dkB/sec", int64(done)*(check.BlockSize/1024)/secs)
		}
	}
}
