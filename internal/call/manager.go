package call

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/astroveda/astroclient/internal/booking"
	"github.com/astroveda/astroclient/internal/callstate"
	"github.com/astroveda/astroclient/internal/media"
	"github.com/astroveda/astroclient/internal/signaling"
)

// IncomingCall is a ring announcement for a booked consultation.
type IncomingCall struct {
	ChannelName  string
	BookingID    string
	AstrologerID string
	CustomerID   string
}

// Manager owns at most one live call session and routes ring events. It is
// safe for concurrent use.
type Manager struct {
	sig     Signaler
	backend Backend
	store   *callstate.Store
	factory media.Factory
	clk     clock.Clock
	loc     *time.Location

	mu     sync.Mutex
	active *Controller

	onIncoming func(IncomingCall)
	onRingEnd  func(channelName string)

	offRingStart func()
	offRingEnd   func()
}

// ManagerConfig wires the manager's collaborators. Clock defaults to the real
// clock, Location to time.Local.
type ManagerConfig struct {
	Signaler      Signaler
	Backend       Backend
	Store         *callstate.Store
	EngineFactory media.Factory
	Clock         clock.Clock
	Location      *time.Location
}

func NewManager(cfg ManagerConfig) *Manager {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	m := &Manager{
		sig:     cfg.Signaler,
		backend: cfg.Backend,
		store:   cfg.Store,
		factory: cfg.EngineFactory,
		clk:     clk,
		loc:     loc,
	}
	m.offRingStart = m.sig.On(signaling.EventCallRingStart, m.handleRingStart)
	m.offRingEnd = m.sig.On(signaling.EventCallRingEnd, m.handleRingEnd)
	return m
}

// OnIncoming registers the ring callback. Called from the signaling read
// goroutine; keep it short.
func (m *Manager) OnIncoming(fn func(IncomingCall)) {
	m.mu.Lock()
	m.onIncoming = fn
	m.mu.Unlock()
}

// OnRingEnd registers the ring-cancel callback.
func (m *Manager) OnRingEnd(fn func(channelName string)) {
	m.mu.Lock()
	m.onRingEnd = fn
	m.mu.Unlock()
}

func (m *Manager) handleRingStart(raw json.RawMessage) {
	var p signaling.RingStartPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Printf("CALL: bad ring payload: %v", err)
		return
	}
	m.mu.Lock()
	fn := m.onIncoming
	busy := m.active != nil
	m.mu.Unlock()
	if busy {
		log.Printf("CALL: ring for %s ignored, session in progress", p.ChannelName)
		return
	}
	if fn != nil {
		fn(IncomingCall{
			ChannelName:  p.ChannelName,
			BookingID:    p.BookingID,
			AstrologerID: p.AstrologerID,
			CustomerID:   p.CustomerID,
		})
	}
}

func (m *Manager) handleRingEnd(raw json.RawMessage) {
	var p signaling.RingEndPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	m.mu.Lock()
	fn := m.onRingEnd
	m.mu.Unlock()
	if fn != nil {
		fn(p.ChannelName)
	}
}

// StartSession validates and joins a session for bk. Only one session may be
// live; a second request fails with ErrBusy. The returned controller is
// already past validation; watch its events for the Active transition.
func (m *Manager) StartSession(ctx context.Context, bk *booking.Booking) (*Controller, error) {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	ctl := NewController(Config{
		Booking:       bk,
		Video:         bk.IsVideo(),
		Location:      m.loc,
		Store:         m.store,
		Signaler:      m.sig,
		Backend:       m.backend,
		EngineFactory: m.factory,
		Clock:         m.clk,
	})
	m.active = ctl
	m.mu.Unlock()

	if err := ctl.Start(ctx); err != nil {
		m.clear(ctl)
		return nil, err
	}

	go func() {
		<-ctl.Done()
		m.clear(ctl)
	}()
	return ctl, nil
}

func (m *Manager) clear(ctl *Controller) {
	m.mu.Lock()
	if m.active == ctl {
		m.active = nil
	}
	m.mu.Unlock()
}

// Active returns the live controller, if any.
func (m *Manager) Active() (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.active != nil
}

// Close ends the live session and detaches ring handlers.
func (m *Manager) Close() {
	m.mu.Lock()
	ctl := m.active
	m.mu.Unlock()
	if ctl != nil {
		_ = ctl.End()
	}
	if m.offRingStart != nil {
		m.offRingStart()
	}
	if m.offRingEnd != nil {
		m.offRingEnd()
	}
}
