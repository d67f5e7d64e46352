// Package signaling maintains the persistent realtime connection to the
// consultation backend. One logical connection per (userId, userType)
// identity: reconnecting with a different identity tears the old one down
// first. Handlers receive raw event payloads and must filter on channelName
// themselves — events for other sessions are not theirs to act on.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("signaling")

// Identity is the logical owner of a connection.
type Identity struct {
	UserID   string `json:"userId"`
	UserType string `json:"user_type"`
}

// envelope is the wire frame. ID is set on emits that want an ack; the server
// answers with event "ack" and the same ID.
type envelope struct {
	Event   string          `json:"event"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler receives the raw payload of one event occurrence.
type Handler func(payload json.RawMessage)

type handlerReg struct {
	id int
	fn Handler
}

// Client is the realtime signaling connection. Safe for concurrent use; all
// emits are serialized over one websocket.
type Client struct {
	baseURL string

	mu       sync.Mutex
	identity Identity
	conn     *websocket.Conn
	closed   bool
	genID    int

	handlerMu sync.RWMutex
	handlers  map[string][]handlerReg

	ackMu   sync.Mutex
	pending map[string]chan json.RawMessage

	cancelRead context.CancelFunc
}

// NewClient creates a client for the given realtime endpoint. No connection
// is made until Connect.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:  baseURL,
		handlers: make(map[string][]handlerReg),
		pending:  make(map[string]chan json.RawMessage),
	}
}

// Connect establishes (or reuses) the connection for identity. A live
// connection with the same identity is reused; a different identity tears the
// previous connection down first — two logical identities never share one
// socket.
func (c *Client) Connect(ctx context.Context, id Identity) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("signaling: client closed")
	}
	if c.conn != nil && c.identity == id {
		c.mu.Unlock()
		return nil
	}
	if c.conn != nil {
		c.teardownLocked()
	}
	c.identity = id
	c.mu.Unlock()

	return c.dial(ctx, id)
}

func (c *Client) dial(ctx context.Context, id Identity) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("signaling url: %w", err)
	}
	q := u.Query()
	q.Set("userId", id.UserID)
	q.Set("user_type", id.UserType)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("signaling dial: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.identity != id || c.closed {
		// Identity changed (or client closed) while dialing; discard.
		c.mu.Unlock()
		cancel()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.cancelRead = cancel
	c.mu.Unlock()

	log.Infow("connected", "userId", id.UserID, "userType", id.UserType)
	go c.readLoop(readCtx, conn, id)
	return nil
}

// Connected reports whether a live socket exists right now.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Emit sends an event without waiting for an acknowledgment. Returns an error
// when no connection exists; callers on teardown paths ignore it.
func (c *Client) Emit(event string, payload any) error {
	return c.send(envelope{Event: event}, payload)
}

// EmitAck sends an event and waits for the server's ack payload, up to ctx's
// deadline. The ack channel is cleaned up on timeout so late acks are dropped.
func (c *Client) EmitAck(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan json.RawMessage, 1)

	c.ackMu.Lock()
	c.pending[id] = ch
	c.ackMu.Unlock()

	defer func() {
		c.ackMu.Lock()
		delete(c.pending, id)
		c.ackMu.Unlock()
	}()

	if err := c.send(envelope{Event: event, ID: id}, payload); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case raw := <-ch:
		return raw, nil
	}
}

func (c *Client) send(env envelope, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("signaling marshal %s: %w", env.Event, err)
	}
	env.Payload = raw

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("signaling: not connected")
	}
	return c.conn.WriteJSON(env)
}

// On registers a handler for event and returns its cancel func. Multiple
// handlers per event are supported; each gets every occurrence.
func (c *Client) On(event string, fn Handler) (cancel func()) {
	c.handlerMu.Lock()
	c.genID++
	reg := handlerReg{id: c.genID, fn: fn}
	c.handlers[event] = append(c.handlers[event], reg)
	c.handlerMu.Unlock()

	return func() {
		c.handlerMu.Lock()
		regs := c.handlers[event]
		for i, r := range regs {
			if r.id == reg.id {
				c.handlers[event] = append(regs[:i], regs[i+1:]...)
				break
			}
		}
		c.handlerMu.Unlock()
	}
}

// readLoop decodes frames until the connection drops, then redials with
// capped exponential backoff for as long as the identity is unchanged.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, id Identity) {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.Warnw("connection lost", "err", err)
			break
		}
		c.dispatch(env)
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	stale := c.closed || c.identity != id
	c.mu.Unlock()
	if stale {
		return
	}

	backoff := 250 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}

		c.mu.Lock()
		stale := c.closed || c.identity != id || c.conn != nil
		c.mu.Unlock()
		if stale {
			return
		}
		if err := c.dial(ctx, id); err != nil {
			log.Debugw("redial failed", "err", err)
			continue
		}
		return
	}
}

func (c *Client) dispatch(env envelope) {
	if env.Event == "ack" && env.ID != "" {
		c.ackMu.Lock()
		ch, ok := c.pending[env.ID]
		c.ackMu.Unlock()
		if ok {
			select {
			case ch <- env.Payload:
			default:
			}
		}
		return
	}

	c.handlerMu.RLock()
	regs := make([]handlerReg, len(c.handlers[env.Event]))
	copy(regs, c.handlers[env.Event])
	c.handlerMu.RUnlock()

	for _, r := range regs {
		r.fn(env.Payload)
	}
}

// teardownLocked closes the current socket. Caller holds c.mu.
func (c *Client) teardownLocked() {
	if c.cancelRead != nil {
		c.cancelRead()
		c.cancelRead = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close shuts the client down for good.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.teardownLocked()
}
