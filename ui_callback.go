package main

import (
	"fmt"
	"strings"
	"time"

	"scanflash/check"
	"scanflash/scanui"
)

// Cell states for the block map.
const (
	cellUntouched = iota
	cellWritten
	cellVerified
	cellBad
)

var cellRunes = [...]rune{'░', '▒', '█', '!'}

// uiCallback renders a verification run into the full-screen UI: one cell
// per slice of the device, colored by how far each pass has come.
type uiCallback struct {
	ui   *scanui.UI
	path string

	phase      string
	startBlock uint64
	numBlocks  uint64
	started    time.Time

	cells []byte
	cols  int
}

func newUICallback(ui *scanui.UI, path string) *uiCallback {
	cb := &uiCallback{ui: ui, path: path}
	ui.SetTitle(fmt.Sprintf(" SCANFLASH – %s ", path))
	ui.SetLegend([]string{
		"Legend:  ░ pending   ▒ written   █ verified   ! bad | Q aborts",
	})
	return cb
}

// resetGrid sizes the block map to the current screen, one rune per cell.
func (cb *uiCallback) resetGrid() {
	w, h := cb.ui.Size()
	rows := h - 10
	if rows < 1 {
		rows = 1
	}
	if w < 1 {
		w = 80
	}
	cb.cols = w
	total := w * rows
	if uint64(total) > cb.numBlocks {
		total = int(cb.numBlocks)
	}
	cb.cells = make([]byte, total)
}

func (cb *uiCallback) cellIndex(b uint64) int {
	if cb.numBlocks == 0 || len(cb.cells) == 0 {
		return 0
	}
	i := int(b * uint64(len(cb.cells)) / cb.numBlocks)
	if i >= len(cb.cells) {
		i = len(cb.cells) - 1
	}
	return i
}

// markThrough raises every cell up to and including b's cell to at least
// state. Bad cells stay bad.
func (cb *uiCallback) markThrough(b uint64, state byte) {
	last := cb.cellIndex(b)
	for i := 0; i <= last; i++ {
		if cb.cells[i] != cellBad && cb.cells[i] < state {
			cb.cells[i] = state
		}
	}
}

func (cb *uiCallback) markBad(b uint64) {
	cb.cells[cb.cellIndex(b)] = cellBad
}

func (cb *uiCallback) redraw(b uint64) {
	lines := make([]string, 0, len(cb.cells)/cb.cols+1)
	var row strings.Builder
	for i, s := range cb.cells {
		row.WriteRune(cellRunes[s])
		if (i+1)%cb.cols == 0 {
			lines = append(lines, row.String())
			row.Reset()
		}
	}
	if row.Len() > 0 {
		lines = append(lines, row.String())
	}
	cb.ui.SetBlockMap(lines)

	percent := uint64(100)
	if cb.numBlocks > 1 {
		percent = b * 100 / (cb.numBlocks - 1)
	}
	elapsed := time.Since(cb.started).Truncate(time.Second)
	status := []string{
		fmt.Sprintf("Phase: %s   Block: %d / %d   [%d%%]", cb.phase, b, cb.numBlocks, percent),
		fmt.Sprintf("Elapsed: %s%s", elapsed, cb.rateAndETA(b)),
	}
	cb.ui.SetStatusLines(status)
	cb.ui.Draw()
}

func (cb *uiCallback) rateAndETA(b uint64) string {
	secs := int64(time.Since(cb.started).Seconds())
	if b <= cb.startBlock || secs <= 0 {
		return ""
	}
	done := int64(b - cb.startBlock)
	rate := done * (check.BlockSize / 1024) / secs
	remaining := time.Duration(int64(cb.numBlocks-1-b)*secs/done) * time.Second
	return fmt.Sprintf("   Rate: %dkB/s   ETA: %s", rate, remaining)
}

func (cb *uiCallback) ResumeWrite() bool {
	return cb.ui.Confirm("A previous check was interrupted partway. Resume where it left off?")
}

func (cb *uiCallback) WriteStart(startBlock, numBlocks uint64) {
	cb.phase = "write"
	cb.startBlock = startBlock
	cb.numBlocks = numBlocks
	cb.started = time.Now()
	cb.resetGrid()
	if startBlock > 0 {
		cb.markThrough(startBlock-1, cellWritten) // resumed: prefix already on disk
	}
	cb.redraw(startBlock)
}

func (cb *uiCallback) WriteProgress(b uint64) {
	cb.markThrough(b, cellWritten)
	cb.redraw(b)
}

func (cb *uiCallback) WriteFinish() {
	cb.ui.SetStatusLines([]string{"Write pass complete, syncing..."})
	cb.ui.Draw()
}

func (cb *uiCallback) ReadStart(startBlock, numBlocks uint64) {
	cb.phase = "read"
	cb.startBlock = startBlock
	cb.numBlocks = numBlocks
	cb.started = time.Now()
	cb.redraw(startBlock)
}

func (cb *uiCallback) ReadProgress(b uint64, fail bool) bool {
	cb.markThrough(b, cellVerified)
	if fail {
		cb.markBad(b)
	}
	cb.redraw(b)
	return !cb.ui.IsStopped()
}

func (cb *uiCallback) ReadFinish() {
	cb.ui.SetStatusLines([]string{"Read pass complete."})
	cb.ui.Draw()
}

func (cb *uiCallback) CheckComplete() {
	cb.ui.SetStatusLines([]string{"Check complete. Partition table written."})
	cb.ui.Draw()
}

func (cb *uiCallback) RetryReopen(cause error) bool {
	return cb.ui.Confirm(fmt.Sprintf(
		"Sync failed (%v). Remove and reattach the device, then answer Y to reopen.", cause))
}
