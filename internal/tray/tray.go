// Package tray provides a system tray status menu for gridpoint.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/gridpoint/internal/grid"
	"github.com/ayusman/gridpoint/internal/orchestrator"
)

// Tray shows the mode of the most recently active connection and the last
// confirmed cell.
type Tray struct {
	onOpen func()
	onQuit func()
	mu     sync.RWMutex

	mode string
	last *grid.Cell

	// Menu items stored for later updates
	menuMode *systray.MenuItem
	menuLast *systray.MenuItem
}

// New creates a new Tray instance.
func New() *Tray {
	return &Tray{mode: orchestrator.Idle.String()}
}

// Attach subscribes the tray to orchestrator events.
func (t *Tray) Attach(o *orchestrator.Orchestrator) {
	o.Subscribe(t.HandleEvent)
}

// OnOpen sets the callback for the "Open in browser" menu item.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called and must run on the main
// goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, func() {})
}

// Quit closes the tray and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("gridpoint")
	systray.SetTooltip("gridpoint camera grid")

	t.mu.Lock()
	t.menuMode = systray.AddMenuItem(modeLabel(t.mode), "Current mode")
	t.menuMode.Disable()
	t.menuLast = systray.AddMenuItem(lastLabel(t.last), "Last confirmed cell")
	t.menuLast.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuOpen := systray.AddMenuItem("Open in browser", "Open the gridpoint page")
	systray.AddSeparator()
	menuQuit := systray.AddMenuItem("Quit", "Quit gridpoint")

	go func() {
		for {
			select {
			case <-menuOpen.ClickedCh:
				t.call(func() func() { return t.onOpen })
			case <-menuQuit.ClickedCh:
				t.call(func() func() { return t.onQuit })
				systray.Quit()
				return
			}
		}
	}()
}

// call runs the callback returned by get outside the lock.
func (t *Tray) call(get func() func()) {
	t.mu.RLock()
	fn := get()
	t.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// HandleEvent updates the menu from an orchestrator event.
func (t *Tray) HandleEvent(ev orchestrator.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Kind {
	case orchestrator.EventMode:
		t.mode = ev.Mode.String()
		if t.menuMode != nil {
			t.menuMode.SetTitle(modeLabel(t.mode))
		}
	case orchestrator.EventConfirmed:
		if ev.Cell == nil {
			return
		}
		cell := *ev.Cell
		t.last = &cell
		if t.menuLast != nil {
			t.menuLast.SetTitle(lastLabel(t.last))
		}
	}
}

// Mode returns the last reported mode.
func (t *Tray) Mode() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mode
}

// LastConfirmed returns the last confirmed cell, or nil.
func (t *Tray) LastConfirmed() *grid.Cell {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return nil
	}
	cell := *t.last
	return &cell
}

func modeLabel(mode string) string {
	return "Mode: " + mode
}

func lastLabel(cell *grid.Cell) string {
	if cell == nil {
		return "Last: none"
	}
	return fmt.Sprintf("Last: row %d, col %d", cell.Row, cell.Col)
}
