// Package callstate holds the process-wide call state shared between the call
// controller and the screens that outlive it (home, consultation list, the
// floating mini-window). The active controller is the only writer; observers
// subscribe for change events and read snapshots.
package callstate

import "sync"

// Token is the session token descriptor used to join the media room.
// It mirrors api.Token — kept as a copy so this package stays standalone.
type Token struct {
	Token       string `json:"token"`
	ChannelName string `json:"channelName"`
	UID         uint32 `json:"uid"`
}

// UIKind selects which floating overlay the mini-window renders.
type UIKind string

const (
	UINone  UIKind = ""
	UIVoice UIKind = "voice"
	UIVideo UIKind = "video"
)

// UIDescriptor is the opaque renderable descriptor for the floating
// mini-window. Nil means no overlay is mounted.
type UIDescriptor struct {
	Kind        UIKind `json:"kind"`
	ChannelName string `json:"channelName"`
	BookingID   string `json:"bookingId"`
}

// Snapshot is a point-in-time copy of every store field. Fields are
// independent: none implies another, the controller keeps them consistent.
type Snapshot struct {
	Minimized bool          `json:"minimized"`
	Active    bool          `json:"active"`
	UI        *UIDescriptor `json:"ui,omitempty"`
	RemoteUID uint32        `json:"remoteUid,omitempty"`
	HasRemote bool          `json:"hasRemote"`
	Token     *Token        `json:"token,omitempty"`
}

// Event is delivered to subscribers after each mutation.
type Event struct {
	Field string   `json:"field"`
	State Snapshot `json:"state"`
}

// Store is the application-wide call state. Created once at startup, lives
// for the process lifetime; Reset returns every field to its empty default.
type Store struct {
	mu        sync.Mutex
	snap      Snapshot
	listeners []chan Event
}

func NewStore() *Store {
	return &Store{listeners: make([]chan Event, 0)}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *Store) SetMinimized(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Minimized = v
	s.notify("minimized")
}

func (s *Store) SetActive(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Active = v
	s.notify("active")
}

func (s *Store) SetUI(ui *UIDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.UI = ui
	s.notify("ui")
}

func (s *Store) SetRemoteUID(uid uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.RemoteUID = uid
	s.snap.HasRemote = true
	s.notify("remote_uid")
}

func (s *Store) ClearRemoteUID() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.RemoteUID = 0
	s.snap.HasRemote = false
	s.notify("remote_uid")
}

func (s *Store) SetToken(tok *Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Token = tok
	s.notify("token")
}

// Reset clears every field back to its empty default. Called once per call
// teardown; observers receive a single "reset" event.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{}
	s.notify("reset")
}

// Subscribe returns a channel that receives an Event after every mutation.
func (s *Store) Subscribe() chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Event, 16)
	s.listeners = append(s.listeners, ch)
	return ch
}

func (s *Store) Unsubscribe(ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, listener := range s.listeners {
		if listener == ch {
			close(listener)
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// notify is called with s.mu held.
func (s *Store) notify(field string) {
	evt := Event{Field: field, State: s.snap}
	for _, ch := range s.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
