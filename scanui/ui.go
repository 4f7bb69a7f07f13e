// Package scanui provides the full-screen terminal UI for a verification
// run: title, status lines, a block-map visualization, and modal yes/no
// prompts for the decision gates. It renders what the caller provides and
// knows nothing about the check itself.
package scanui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
)

// UI is a terminal-based progress display. All mutators are safe to call
// from the goroutine driving the check while the event loop runs.
type UI struct {
	s        tcell.Screen
	stopChan chan struct{}
	once     sync.Once

	mu           sync.Mutex
	title        string
	summaryLines []string
	legendLines  []string
	statusLines  []string
	mapLines     []string
	promptLine   string
	prompting    bool

	keyChan chan rune
}

// NewUI initializes the terminal screen and starts the input event loop.
func NewUI() (*UI, error) {
	s, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	if err := s.Init(); err != nil {
		return nil, err
	}
	s.DisableMouse()
	u := &UI{
		s:        s,
		stopChan: make(chan struct{}),
		keyChan:  make(chan rune, 8),
	}
	go u.eventLoop()
	return u, nil
}

// Close restores the terminal.
func (u *UI) Close() {
	if u.s == nil {
		return
	}
	u.s.Fini()
	u.s = nil
	fmt.Print("\033[?1049l\033[?25h")
}

// RequestStop signals that the user wants out. Safe to call repeatedly.
func (u *UI) RequestStop() {
	u.once.Do(func() {
		close(u.stopChan)
		if u.s != nil {
			u.s.PostEvent(tcell.NewEventInterrupt(nil))
		}
	})
}

// IsStopped reports whether a stop has been requested.
func (u *UI) IsStopped() bool {
	select {
	case <-u.stopChan:
		return true
	default:
		return false
	}
}

// Size returns the current screen width and height.
func (u *UI) Size() (width, height int) {
	if u.s == nil {
		return 0, 0
	}
	return u.s.Size()
}

// SetTitle sets the line rendered at the top of the screen.
func (u *UI) SetTitle(t string) {
	u.mu.Lock()
	u.title = t
	u.mu.Unlock()
}

// SetSummaryLines sets the info lines below the title.
func (u *UI) SetSummaryLines(lines []string) {
	u.mu.Lock()
	u.summaryLines = append([]string(nil), lines...)
	u.mu.Unlock()
}

// SetLegend sets the legend lines below the summary.
func (u *UI) SetLegend(lines []string) {
	u.mu.Lock()
	u.legendLines = append([]string(nil), lines...)
	u.mu.Unlock()
}

// SetStatusLines sets the status block at the bottom.
func (u *UI) SetStatusLines(lines []string) {
	u.mu.Lock()
	u.statusLines = append([]string(nil), lines...)
	u.mu.Unlock()
}

// SetBlockMap sets the block-map rows. Each string is one rendered row;
// the UI draws them as-is.
func (u *UI) SetBlockMap(lines []string) {
	u.mu.Lock()
	u.mapLines = append([]string(nil), lines...)
	u.mu.Unlock()
}

func putStr(s tcell.Screen, x, y int, str string) {
	w, _ := s.Size()
	for i, r := range []rune(str) {
		pos := x + i
		if pos >= w {
			break
		}
		s.SetContent(pos, y, r, nil, tcell.StyleDefault)
	}
}

// Draw redraws the whole screen from the current state.
func (u *UI) Draw() {
	if u.s == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	u.s.Clear()
	w, h := u.s.Size()
	y := 0

	if u.title != "" {
		putStr(u.s, 0, y, strings.Repeat("═", w))
		putStr(u.s, (w-len(u.title))/2, y, u.title)
		y++
	}
	for _, line := range u.summaryLines {
		if y >= h {
			break
		}
		putStr(u.s, 0, y, line)
		y++
	}
	for _, line := range u.legendLines {
		if y >= h {
			break
		}
		putStr(u.s, 0, y, line)
		y++
	}

	if len(u.mapLines) > 0 {
		avail := h - y - len(u.statusLines) - 3
		if avail < 1 {
			avail = 1
		}
		rows := avail
		if rows > len(u.mapLines) {
			rows = len(u.mapLines)
		}
		for i := 0; i < rows && y < h; i++ {
			runes := []rune(u.mapLines[i])
			if len(runes) > w {
				runes = runes[:w]
			}
			putStr(u.s, 0, y, string(runes))
			y++
		}
	}

	if len(u.statusLines) > 0 {
		putStr(u.s, 0, y, strings.Repeat("─", w))
		putStr(u.s, 2, y, " Status ")
		y++
		for _, line := range u.statusLines {
			if y >= h {
				break
			}
			putStr(u.s, 0, y, line)
			y++
		}
	}

	if u.prompting && y < h {
		putStr(u.s, 0, y, strings.Repeat("─", w))
		y++
		if y < h {
			putStr(u.s, 0, y, u.promptLine+" (Y/N)")
		}
	}

	u.s.Show()
}

// Confirm shows a modal yes/no prompt and blocks until the user answers
// with Y or N. A stop request counts as no.
func (u *UI) Confirm(prompt string) bool {
	u.mu.Lock()
	u.promptLine = prompt
	u.prompting = true
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		u.prompting = false
		u.promptLine = ""
		u.mu.Unlock()
		u.Draw()
	}()

	// Drain anything typed before the prompt appeared.
	for drained := false; !drained; {
		select {
		case <-u.keyChan:
		default:
			drained = true
		}
	}

	u.Draw()
	for {
		select {
		case <-u.stopChan:
			return false
		case r := <-u.keyChan:
			switch r {
			case 'y', 'Y':
				return true
			case 'n', 'N':
				return false
			}
		}
	}
}

func (u *UI) isPrompting() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.prompting
}

func (u *UI) eventLoop() {
	for {
		select {
		case <-u.stopChan:
			return
		default:
		}
		ev := u.s.PollEvent()
		switch ev := ev.(type) {
		case *tcell.EventKey:
			switch {
			case ev.Key() == tcell.KeyCtrlC:
				u.RequestStop()
			case ev.Key() == tcell.KeyRune:
				r := ev.Rune()
				if u.isPrompting() {
					select {
					case u.keyChan <- r:
					default:
					}
				} else if r == 'q' || r == 'Q' {
					u.RequestStop()
				}
			case ev.Key() == tcell.KeyEscape && !u.isPrompting():
				u.RequestStop()
			}
		case *tcell.EventResize:
			u.s.Sync()
			u.Draw()
		case *tcell.EventInterrupt:
			return
		case nil:
			return
		}
	}
}
