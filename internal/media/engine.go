// Package media wraps the real-time audio/video engine behind a small
// interface. The engine is a process-wide singleton: at most one live
// instance, reused when a call screen is re-entered (minimize/restore must
// not drop media). The call controller owns the handle; observers only read.
package media

import (
	"errors"
	"sync"
)

// Engine is the surface the call controller drives. Implementations must be
// safe for use from the controller's single event goroutine plus the engine's
// own callback goroutines.
type Engine interface {
	// SetHandler registers the callback sink. Must be called before Join.
	SetHandler(h EventHandler)

	EnableAudio() error
	EnableVideo() error

	// Join connects to the named media room using the issued token verbatim.
	Join(token, channelName string, uid uint32) error
	// Leave disconnects from the room but keeps the engine reusable.
	Leave() error
	// Release leaves (if needed) and destroys the engine. Idempotent.
	Release()

	MuteLocalAudio(muted bool) error
	SetSpeakerphone(on bool) error
	SwitchCamera() error
}

// EventHandler receives engine callbacks. Nil funcs are skipped.
type EventHandler struct {
	OnJoinSuccess func()
	OnUserJoined  func(uid uint32)
	OnUserOffline func(uid uint32)
}

// ErrNotJoined is returned by room operations before a successful Join.
var ErrNotJoined = errors.New("media: not joined to a channel")

// Factory builds a fresh engine. The production factory is NewPionEngine;
// tests inject fakes.
type Factory func() (Engine, error)

var (
	singletonMu sync.Mutex
	singleton   Engine
)

// Acquire returns the live engine, creating one via factory when none exists.
// The second return reports whether a new instance was created.
func Acquire(factory Factory) (Engine, bool, error) {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		return singleton, false, nil
	}
	eng, err := factory()
	if err != nil {
		return nil, false, err
	}
	singleton = eng
	return eng, true, nil
}

// Current returns the live engine, if any, without creating one.
func Current() (Engine, bool) {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	return singleton, singleton != nil
}

// ReleaseCurrent releases and clears the live engine. Safe to call when none
// exists.
func ReleaseCurrent() {
	singletonMu.Lock()
	eng := singleton
	singleton = nil
	singletonMu.Unlock()
	if eng != nil {
		eng.Release()
	}
}
