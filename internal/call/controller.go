// Package call runs the consultation call-session lifecycle: validate the
// booking window, join signaling and the media engine, keep the elapsed and
// countdown timers, survive minimize/restore, and tear everything down exactly
// once no matter which trigger fires first.
//
// Every inbound event — timer tick, signaling event, engine callback, user
// action — is routed through one ordered queue consumed by a single goroutine,
// so state transitions never interleave.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/astroveda/astroclient/internal/api"
	"github.com/astroveda/astroclient/internal/booking"
	"github.com/astroveda/astroclient/internal/callstate"
	"github.com/astroveda/astroclient/internal/media"
	"github.com/astroveda/astroclient/internal/signaling"
	"github.com/astroveda/astroclient/internal/util"
)

// Signaler is the slice of the signaling client the controller needs.
type Signaler interface {
	Emit(event string, payload any) error
	EmitAck(ctx context.Context, event string, payload any) (json.RawMessage, error)
	On(event string, fn signaling.Handler) (cancel func())
}

// Backend is the slice of the REST client the controller needs.
type Backend interface {
	FetchToken(ctx context.Context, channelName string, uid uint32) (*api.Token, error)
	PostCallEndLog(ctx context.Context, entry api.CallEndLog) error
}

// ErrTerminated is returned by controller operations after the session ended.
var ErrTerminated = errors.New("call: session terminated")

// ErrBusy is returned when a session is requested while another is live.
var ErrBusy = errors.New("call: another session is in progress")

// localUID is the uid the astrologer side requests tokens with.
const localUID uint32 = 1

// Config wires a controller to its collaborators.
type Config struct {
	Booking  *booking.Booking
	Video    bool
	Location *time.Location

	Store         *callstate.Store
	Signaler      Signaler
	Backend       Backend
	EngineFactory media.Factory
	Clock         clock.Clock
}

// Controller is one call session's state machine. A controller serves exactly
// one booking; re-entering for a new booking means a fresh controller.
type Controller struct {
	cfg     Config
	clk     clock.Clock
	channel string

	qmu     sync.Mutex
	qclosed bool
	queue   chan func()
	done    chan struct{}

	mu        sync.Mutex
	state     State
	window    booking.SessionWindow
	elapsed   int
	remaining int
	muted     bool
	speaker   bool
	remoteUID uint32
	hasRemote bool
	endCause  EndCause
	ended     bool

	engine    media.Engine
	offSignal func()

	tickStop chan struct{}

	listenerMu sync.RWMutex
	listeners  []chan Event
}

// NewController builds the controller and starts its event loop. Nothing
// happens until Start.
func NewController(cfg Config) *Controller {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	c := &Controller{
		cfg:     cfg,
		clk:     clk,
		channel: cfg.Booking.ChannelName,
		queue:   make(chan func(), 64),
		done:    make(chan struct{}),
		state:   StateIdle,
	}
	go c.loop()
	return c
}

// loop consumes the ordered event queue until termination, then drains what
// raced in before the close and exits.
func (c *Controller) loop() {
	for {
		select {
		case fn := <-c.queue:
			fn()
		case <-c.done:
			c.qmu.Lock()
			c.qclosed = true
			close(c.queue)
			c.qmu.Unlock()
			for fn := range c.queue {
				fn()
			}
			return
		}
	}
}

// enqueue pushes fn onto the event queue; after the loop has shut down it runs
// fn inline so reply channels still resolve (handlers guard on state
// themselves).
func (c *Controller) enqueue(fn func()) {
	c.qmu.Lock()
	if c.qclosed {
		c.qmu.Unlock()
		fn()
		return
	}
	c.queue <- fn
	c.qmu.Unlock()
}

// do runs fn on the event loop and waits for its result.
func (c *Controller) do(fn func() error) error {
	res := make(chan error, 1)
	c.enqueue(func() { res <- fn() })
	return <-res
}

// Done is closed when the session reaches Terminated.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Start drives Idle → Validating → Joining. It returns only after the session
// is joined (or rejected); the Active transition happens on the engine's
// join-success callback.
func (c *Controller) Start(ctx context.Context) error {
	return c.do(func() error { return c.start(ctx) })
}

func (c *Controller) start(ctx context.Context) error {
	bk := c.cfg.Booking

	c.setState(StateValidating)
	if c.channel == "" {
		c.alert("Error", "Channel missing")
		return c.reject(fmt.Errorf("booking %s has no channel", bk.ID))
	}

	w, err := bk.Window(c.cfg.Location)
	if err != nil {
		c.alert("Error", "This booking cannot be started.")
		return c.reject(err)
	}
	now := c.clk.Now()
	if err := w.Validate(now); err != nil {
		switch {
		case errors.Is(err, booking.ErrTooEarly):
			c.alert("Too Early", "This consultation has not started yet.")
		case errors.Is(err, booking.ErrExpired):
			c.alert("Expired", "This consultation window has ended.")
		}
		return c.reject(err)
	}

	c.mu.Lock()
	c.window = w
	c.remaining = w.Remaining(now)
	c.mu.Unlock()

	c.setState(StateJoining)

	c.offSignal = c.cfg.Signaler.On(signaling.EventCallEnd, c.onSignalEnd)
	// Best-effort room announce; a missing connection must not stop the join.
	if err := c.cfg.Signaler.Emit(signaling.EventCallJoin, signaling.CallJoinPayload{
		ChannelName: c.channel,
		Role:        "astrologer",
	}); err != nil {
		log.Printf("CALL [%s]: join announce skipped: %v", c.channel, err)
	}

	// Re-entering while an engine is live (minimize survived a screen swap):
	// reuse it, restart timers, skip token fetch and join entirely.
	if eng, ok := media.Current(); ok {
		c.mu.Lock()
		c.engine = eng
		c.mu.Unlock()
		eng.SetHandler(c.engineHandler())
		log.Printf("CALL [%s]: reusing live engine", c.channel)
		c.onJoinSuccess()
		return nil
	}

	tok, err := c.cfg.Backend.FetchToken(ctx, c.channel, localUID)
	if err != nil {
		c.alert("Join Error", err.Error())
		return c.reject(err)
	}
	c.cfg.Store.SetToken(&callstate.Token{
		Token:       tok.Token,
		ChannelName: tok.ChannelName,
		UID:         tok.UID,
	})

	eng, fresh, err := media.Acquire(c.cfg.EngineFactory)
	if err != nil {
		c.alert("Join Error", err.Error())
		return c.reject(err)
	}
	c.mu.Lock()
	c.engine = eng
	c.mu.Unlock()

	eng.SetHandler(c.engineHandler())
	if err := eng.EnableAudio(); err != nil {
		c.releaseOnJoinFailure(fresh)
		c.alert("Join Error", err.Error())
		return c.reject(err)
	}
	if c.cfg.Video {
		if err := eng.EnableVideo(); err != nil {
			c.releaseOnJoinFailure(fresh)
			c.alert("Join Error", err.Error())
			return c.reject(err)
		}
	}

	if err := eng.Join(tok.Token, tok.ChannelName, tok.UID); err != nil {
		c.releaseOnJoinFailure(fresh)
		c.alert("Join Error", err.Error())
		return c.reject(err)
	}
	return nil
}

// reject abandons a session that never went active: no engine teardown beyond
// what the failing step already cleaned, one navigation pop, terminal state.
func (c *Controller) reject(err error) error {
	c.mu.Lock()
	c.ended = true
	c.mu.Unlock()
	if c.offSignal != nil {
		c.offSignal()
		c.offSignal = nil
	}
	c.cfg.Store.Reset()
	c.setState(StateTerminated)
	c.notify(Event{Type: EventNavigateBack})
	close(c.done)
	return err
}

// releaseOnJoinFailure drops partially initialized engine state. An engine
// that predates this session is left alone.
func (c *Controller) releaseOnJoinFailure(fresh bool) {
	if fresh {
		media.ReleaseCurrent()
	}
	c.mu.Lock()
	c.engine = nil
	c.mu.Unlock()
}

// engineHandler adapts engine callbacks onto the event queue.
func (c *Controller) engineHandler() media.EventHandler {
	return media.EventHandler{
		OnJoinSuccess: func() { c.enqueue(c.onJoinSuccess) },
		OnUserJoined:  func(uid uint32) { c.enqueue(func() { c.onUserJoined(uid) }) },
		OnUserOffline: func(uid uint32) { c.enqueue(func() { c.onUserOffline(uid) }) },
	}
}

func (c *Controller) onJoinSuccess() {
	c.mu.Lock()
	if c.ended || c.state == StateActive {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.startTimers()
	c.cfg.Store.SetActive(true)
	c.setState(StateActive)
	log.Printf("CALL [%s]: active", c.channel)
}

func (c *Controller) onUserJoined(uid uint32) {
	c.mu.Lock()
	c.remoteUID = uid
	c.hasRemote = true
	c.mu.Unlock()
	c.cfg.Store.SetRemoteUID(uid)
	log.Printf("CALL [%s]: remote joined uid=%d", c.channel, uid)
}

func (c *Controller) onUserOffline(uid uint32) {
	c.mu.Lock()
	c.remoteUID = 0
	c.hasRemote = false
	c.mu.Unlock()
	c.cfg.Store.ClearRemoteUID()
	log.Printf("CALL [%s]: remote offline uid=%d", c.channel, uid)

	c.alert("User Disconnected", "The user has disconnected the call.\nPlease restart the call Urgently.")
	c.terminate(EndRemoteGone)
}

// onSignalEnd handles an inbound call:end. Events for other channels are
// ignored; the one-shot guard swallows duplicates past the first trigger.
func (c *Controller) onSignalEnd(raw json.RawMessage) {
	var p signaling.CallEndPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	c.enqueue(func() {
		if p.ChannelName != c.channel {
			return
		}
		c.mu.Lock()
		already := c.ended
		c.mu.Unlock()
		if already {
			return
		}
		if p.EndedBy == "user" {
			c.alert("User Disconnected", "The user has disconnected the call.\nPlease restart the call ASAP.")
		}
		c.terminate(EndSignal)
	})
}

// startTimers launches the elapsed counter and the wall-clock countdown, each
// ticking once per second. Idempotent across minimize/restore re-entries.
func (c *Controller) startTimers() {
	c.mu.Lock()
	if c.tickStop != nil {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.tickStop = stop
	c.mu.Unlock()

	elapsed := c.clk.Ticker(time.Second)
	countdown := c.clk.Ticker(time.Second)

	go func() {
		defer elapsed.Stop()
		for {
			select {
			case <-stop:
				return
			case <-elapsed.C:
				c.enqueue(c.tickElapsed)
			}
		}
	}()
	go func() {
		defer countdown.Stop()
		for {
			select {
			case <-stop:
				return
			case <-countdown.C:
				c.enqueue(c.tickCountdown)
			}
		}
	}()
}

func (c *Controller) stopTimers() {
	c.mu.Lock()
	stop := c.tickStop
	c.tickStop = nil
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (c *Controller) tickElapsed() {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.elapsed++
	elapsed, remaining := c.elapsed, c.remaining
	c.mu.Unlock()
	c.notify(Event{Type: EventTick, Elapsed: elapsed, Remaining: remaining})
}

func (c *Controller) tickCountdown() {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.remaining = c.window.Remaining(c.clk.Now())
	expired := c.remaining <= 0
	if expired {
		c.remaining = 0
	}
	c.mu.Unlock()

	if expired {
		c.terminate(EndWindowExpiry)
	}
}

// Minimize swaps the full call screen for the floating overlay. The session
// keeps running: timers tick, media stays up.
func (c *Controller) Minimize() error {
	return c.do(func() error {
		c.mu.Lock()
		if c.ended {
			c.mu.Unlock()
			return ErrTerminated
		}
		if c.state != StateActive {
			c.mu.Unlock()
			return fmt.Errorf("call: cannot minimize from %s", c.state)
		}
		c.mu.Unlock()

		kind := callstate.UIVoice
		if c.cfg.Video {
			kind = callstate.UIVideo
		}
		c.cfg.Store.SetMinimized(true)
		c.cfg.Store.SetActive(true)
		c.cfg.Store.SetUI(&callstate.UIDescriptor{
			Kind:        kind,
			ChannelName: c.channel,
			BookingID:   c.cfg.Booking.ID,
		})
		c.setState(StateMinimized)
		c.notify(Event{Type: EventNavigateBack})
		return nil
	})
}

// Restore returns from the floating overlay to the full call screen. The live
// engine is reused untouched; remote participant state is preserved.
func (c *Controller) Restore() error {
	return c.do(func() error {
		c.mu.Lock()
		if c.ended {
			c.mu.Unlock()
			return ErrTerminated
		}
		if c.state != StateMinimized {
			c.mu.Unlock()
			return fmt.Errorf("call: cannot restore from %s", c.state)
		}
		c.mu.Unlock()

		c.cfg.Store.SetMinimized(false)
		c.cfg.Store.SetUI(nil)
		c.cfg.Store.SetActive(true)
		c.setState(StateActive)
		c.notify(Event{Type: EventNavigateCall})
		return nil
	})
}

// End is the astrologer hanging up.
func (c *Controller) End() error {
	return c.do(func() error {
		c.mu.Lock()
		if c.ended {
			c.mu.Unlock()
			return ErrTerminated
		}
		c.mu.Unlock()
		c.terminate(EndManual)
		return nil
	})
}

// NavigateAway is the shell leaving the call screen. Minimized sessions
// persist in the background; anything else tears down like an end.
func (c *Controller) NavigateAway() {
	c.enqueue(func() {
		c.mu.Lock()
		if c.ended || c.state == StateMinimized {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.terminate(EndNavigation)
	})
}

// terminate is the single teardown path. Only the first trigger is honored;
// every later one is silently ignored.
func (c *Controller) terminate(cause EndCause) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.endCause = cause
	c.mu.Unlock()

	c.setState(StateEnding)
	c.stopTimers()

	if c.offSignal != nil {
		c.offSignal()
		c.offSignal = nil
	}

	// Notify the backend best-effort. Cleanup never waits on the network.
	if cause == EndManual || cause == EndWindowExpiry {
		bk := c.cfg.Booking
		sig := c.cfg.Signaler
		backend := c.cfg.Backend
		channel := c.channel
		endTime := c.clk.Now().Format(time.RFC3339)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
			defer cancel()
			if err := backend.PostCallEndLog(ctx, api.CallEndLog{
				ConsultationID: bk.ID,
				EndByID:        bk.Astrologer.ID,
				EndedBy:        "astrologer",
				EndTime:        endTime,
			}); err != nil {
				log.Printf("CALL [%s]: end log failed: %v", channel, err)
			}
			if _, err := sig.EmitAck(ctx, signaling.EventCallEnd, signaling.CallEndPayload{
				ChannelName: channel,
				BookingID:   bk.ID,
				EndedBy:     "astrologer",
			}); err != nil {
				log.Printf("CALL [%s]: end signal failed: %v", channel, err)
			}
		}()
	}

	media.ReleaseCurrent()
	c.mu.Lock()
	c.engine = nil
	c.mu.Unlock()

	c.cfg.Store.Reset()
	c.setState(StateTerminated)
	c.notify(Event{Type: EventNavigateBack, Cause: cause})
	log.Printf("CALL [%s]: terminated (%s)", c.channel, cause)
	close(c.done)
}

// ToggleMute flips the local audio mute. Returns the new muted state.
func (c *Controller) ToggleMute() (bool, error) {
	c.mu.Lock()
	eng := c.engine
	next := !c.muted
	c.mu.Unlock()
	if eng == nil {
		return false, ErrTerminated
	}
	if err := eng.MuteLocalAudio(next); err != nil {
		return false, err
	}
	c.mu.Lock()
	c.muted = next
	c.mu.Unlock()
	return next, nil
}

// ToggleSpeaker flips the speakerphone. Returns the new state.
func (c *Controller) ToggleSpeaker() (bool, error) {
	c.mu.Lock()
	eng := c.engine
	next := !c.speaker
	c.mu.Unlock()
	if eng == nil {
		return false, ErrTerminated
	}
	if err := eng.SetSpeakerphone(next); err != nil {
		return false, err
	}
	c.mu.Lock()
	c.speaker = next
	c.mu.Unlock()
	return next, nil
}

// SwitchCamera flips between front and back cameras on video calls.
func (c *Controller) SwitchCamera() error {
	c.mu.Lock()
	eng := c.engine
	c.mu.Unlock()
	if eng == nil {
		return ErrTerminated
	}
	return eng.SwitchCamera()
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status snapshots the session for the control API.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:       c.state.String(),
		ChannelName: c.channel,
		BookingID:   c.cfg.Booking.ID,
		Video:       c.cfg.Video,
		Elapsed:     c.elapsed,
		ElapsedText: util.FormatClock(c.elapsed),
		Remaining:   c.remaining,
		Countdown:   util.FormatCountdown(c.remaining),
		Muted:       c.muted,
		Speaker:     c.speaker,
		Minimized:   c.state == StateMinimized,
		RemoteUID:   c.remoteUID,
		HasRemote:   c.hasRemote,
		EndCause:    string(c.endCause),
	}
}

// Subscribe returns a channel of controller events and its cancel func.
func (c *Controller) Subscribe() (ch chan Event, cancel func()) {
	ch = make(chan Event, 32)
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, ch)
	c.listenerMu.Unlock()

	cancel = func() {
		c.listenerMu.Lock()
		for i, l := range c.listeners {
			if l == ch {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				close(l)
				break
			}
		}
		c.listenerMu.Unlock()
	}
	return ch, cancel
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notify(Event{Type: EventState, State: s, StateName: s.String()})
}

func (c *Controller) alert(title, message string) {
	c.notify(Event{Type: EventAlert, Title: title, Message: message})
}

func (c *Controller) notify(evt Event) {
	c.listenerMu.RLock()
	for _, ch := range c.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
	c.listenerMu.RUnlock()
}
