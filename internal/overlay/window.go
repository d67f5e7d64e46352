// Package overlay renders the floating mini-window shown while a call is
// minimized. It is a read-only observer of call state: it never mutates the
// session, its only action is asking the shell to restore the full screen.
package overlay

import (
	"log"
	"sync"

	"github.com/astroveda/astroclient/internal/callstate"
)

// Widget footprint and screen margins. The snap targets keep the widget 20
// points off either screen edge.
const (
	widgetWidth  = 130
	snapLeft     = 20
	topMargin    = 50
	bottomMargin = 250
)

// Geometry is the host screen size in points.
type Geometry struct {
	Width  int
	Height int
}

// Position is the widget's top-left corner.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Window is the floating call widget. Visibility follows the call state
// store: it shows when a session is minimized with a UI descriptor and hides
// the moment either clears.
type Window struct {
	geom    Geometry
	store   *callstate.Store
	restore func() error

	mu       sync.Mutex
	pos      Position
	dragging bool
	visible  bool
	ui       callstate.UIDescriptor

	events chan callstate.Event
	stop   chan struct{}
}

// NewWindow builds the widget and starts following the store. onRestore is
// invoked on tap; it is the shell's hook back into the session controller.
func NewWindow(store *callstate.Store, geom Geometry, onRestore func() error) *Window {
	w := &Window{
		geom:    geom,
		store:   store,
		restore: onRestore,
		pos:     Position{X: snapLeft, Y: topMargin},
		stop:    make(chan struct{}),
	}
	w.events = store.Subscribe()
	w.sync()
	go w.follow()
	return w
}

func (w *Window) follow() {
	for {
		select {
		case <-w.stop:
			return
		case _, ok := <-w.events:
			if !ok {
				return
			}
			w.sync()
		}
	}
}

// sync recomputes visibility from the store snapshot.
func (w *Window) sync() {
	snap := w.store.Snapshot()
	show := snap.Minimized && snap.UI != nil

	w.mu.Lock()
	was := w.visible
	w.visible = show
	if show {
		w.ui = *snap.UI
	} else {
		w.ui = callstate.UIDescriptor{}
		w.dragging = false
	}
	w.mu.Unlock()

	if show && !was {
		log.Printf("OVERLAY: show %s [%s]", snap.UI.Kind, snap.UI.ChannelName)
	} else if !show && was {
		log.Printf("OVERLAY: hide")
	}
}

// Visible reports whether the widget is on screen.
func (w *Window) Visible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}

// UI returns the descriptor the widget is rendering. Zero when hidden.
func (w *Window) UI() callstate.UIDescriptor {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ui
}

// Position returns the widget's current top-left corner.
func (w *Window) Position() Position {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pos
}

// Drag moves the widget freely while a gesture is in progress. Ignored when
// hidden.
func (w *Window) Drag(x, y int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.visible {
		return
	}
	w.dragging = true
	w.pos = Position{X: x, Y: y}
}

// Release ends a drag gesture: the widget snaps to the nearer screen edge and
// its vertical position is clamped inside the usable band.
func (w *Window) Release() Position {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dragging = false
	w.pos = Snap(w.pos, w.geom)
	return w.pos
}

// Tap asks the shell to restore the full call screen. No-op when hidden or
// mid-drag.
func (w *Window) Tap() error {
	w.mu.Lock()
	ok := w.visible && !w.dragging
	w.mu.Unlock()
	if !ok {
		return nil
	}
	return w.restore()
}

// Close stops following the store. The widget hides for good.
func (w *Window) Close() {
	close(w.stop)
	w.store.Unsubscribe(w.events)
	w.mu.Lock()
	w.visible = false
	w.mu.Unlock()
}

// Snap computes the release position for p on a screen of size g: x snaps to
// whichever edge the widget's center is nearer, y is clamped so the widget
// stays clear of the status bar and the bottom controls.
func Snap(p Position, g Geometry) Position {
	if p.X < g.Width/2-widgetWidth/2 {
		p.X = snapLeft
	} else {
		p.X = g.Width - widgetWidth - snapLeft
	}
	if p.Y < topMargin {
		p.Y = topMargin
	}
	if max := g.Height - bottomMargin; p.Y > max {
		p.Y = max
	}
	return p
}
