// Package chat runs one consultation's text conversation: optimistic sends
// with provisional ids reconciled on delivery, read receipts, typing
// indicators, and history loaded cache-first then refreshed from the backend.
package chat

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
	"github.com/astroveda/astroclient/internal/signaling"
	"github.com/astroveda/astroclient/internal/storage"
	"github.com/astroveda/astroclient/internal/util"
)

// DefaultBufferSize is the default number of messages kept in memory.
const DefaultBufferSize = 100

// typingIdle is how long after the last keystroke the stopped indicator fires.
const typingIdle = 3 * time.Second

// ErrWindowClosed is returned by Send after the consultation window ends.
var ErrWindowClosed = errors.New("chat: consultation window has ended")

// Signaler is the slice of the signaling client the chat manager needs.
type Signaler interface {
	Emit(event string, payload any) error
	On(event string, fn signaling.Handler) (cancel func())
}

// HistoryFetcher loads the server-side conversation history.
type HistoryFetcher interface {
	FetchChatHistory(ctx context.Context, userID, astrologerID string) ([]api.HistoryMessage, error)
}

// Config wires a chat manager to one conversation.
type Config struct {
	SelfID string // this astrologer
	PeerID string // the customer

	Signaler Signaler
	Backend  HistoryFetcher
	Cache    *storage.DB // optional
	Clock    clock.Clock
	Buffer   int

	// Deadline is the consultation window end; zero means unlimited.
	Deadline time.Time
}

// Manager handles one conversation. Create with New, wire with Open, tear
// down with Close.
type Manager struct {
	cfg Config
	clk clock.Clock

	mu         sync.RWMutex
	messages   *util.RingBuffer[*Message]
	listeners  []chan *Message
	peerTyping bool
	selfTyping bool

	typingTimer *clock.Timer
	cancels     []func()
	closed      bool
}

// New creates a manager for the conversation between cfg.SelfID and
// cfg.PeerID.
func New(cfg Config) *Manager {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBufferSize
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		cfg:      cfg,
		clk:      clk,
		messages: util.NewRingBuffer[*Message](cfg.Buffer),
	}
}

// Open joins the conversation room, registers inbound handlers, and loads
// history: cached messages first for an instant render, then the backend's
// copy replacing them.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("chat: manager closed")
	}
	m.cancels = append(m.cancels,
		m.cfg.Signaler.On(signaling.EventChatReceive, m.handleReceive),
		m.cfg.Signaler.On(signaling.EventMessageDelivered, m.handleDelivered),
		m.cfg.Signaler.On(signaling.EventMessageRead, m.handleRead),
		m.cfg.Signaler.On(signaling.EventTyping, m.handleTyping),
		m.cfg.Signaler.On(signaling.EventStoppedTyping, m.handleStoppedTyping),
	)
	m.mu.Unlock()

	if err := m.cfg.Signaler.Emit(signaling.EventChatJoin, joinPayload{
		UserID:       m.cfg.PeerID,
		AstrologerID: m.cfg.SelfID,
	}); err != nil {
		return fmt.Errorf("join chat room: %w", err)
	}

	if m.cfg.Cache != nil {
		if cached, err := m.cfg.Cache.History(m.cfg.PeerID, m.cfg.Buffer); err == nil {
			for i := range cached {
				m.messages.Push(recordToMessage(&cached[i]))
			}
		} else {
			log.Printf("CHAT: cache load failed: %v", err)
		}
	}

	if m.cfg.Backend != nil {
		hist, err := m.cfg.Backend.FetchChatHistory(ctx, m.cfg.PeerID, m.cfg.SelfID)
		if err != nil {
			// Cached history keeps the screen usable.
			log.Printf("CHAT: history fetch failed: %v", err)
			return nil
		}
		m.messages.Reset()
		for _, h := range hist {
			msg := historyToMessage(h, m.cfg.SelfID)
			m.messages.Push(msg)
			m.cacheSave(msg)
		}
	}
	return nil
}

// Send delivers body optimistically: the message appears immediately with a
// provisional id and pending status, reconciled when the server acknowledges.
func (m *Manager) Send(body string) (*Message, error) {
	if body == "" {
		return nil, errors.New("chat: empty message")
	}
	if !m.cfg.Deadline.IsZero() && !m.clk.Now().Before(m.cfg.Deadline) {
		return nil, ErrWindowClosed
	}

	now := m.clk.Now()
	msg := &Message{
		ID:     newTempID(),
		From:   m.cfg.SelfID,
		To:     m.cfg.PeerID,
		Body:   body,
		SentAt: now,
		Status: StatusPending,
		Mine:   true,
	}
	m.messages.Push(msg)
	m.cacheSave(msg)
	m.notifyListeners(msg)

	if err := m.cfg.Signaler.Emit(signaling.EventChatSend, outboundPayload{
		SenderID:   m.cfg.SelfID,
		ReceiverID: m.cfg.PeerID,
		Message:    body,
		TempID:     msg.ID,
		Timestamp:  now.UTC().Format(time.RFC3339),
	}); err != nil {
		// The optimistic entry stays pending; a later reconnect resends
		// nothing, the user sees it never delivered.
		log.Printf("CHAT: send failed: %v", err)
		return msg, err
	}
	m.stopTyping()
	return msg, nil
}

// NotifyTyping emits the typing indicator and arms the idle timer that emits
// stopped_typing after 3s without another keystroke.
func (m *Manager) NotifyTyping() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if !m.selfTyping {
		m.selfTyping = true
		_ = m.cfg.Signaler.Emit(signaling.EventTyping, typingPayload{
			SenderID:   m.cfg.SelfID,
			ReceiverID: m.cfg.PeerID,
		})
	}
	if m.typingTimer != nil {
		m.typingTimer.Stop()
	}
	m.typingTimer = m.clk.AfterFunc(typingIdle, m.stopTyping)
}

// stopTyping emits stopped_typing if a typing indicator is live.
func (m *Manager) stopTyping() {
	m.mu.Lock()
	was := m.selfTyping
	m.selfTyping = false
	if m.typingTimer != nil {
		m.typingTimer.Stop()
		m.typingTimer = nil
	}
	m.mu.Unlock()
	if was {
		_ = m.cfg.Signaler.Emit(signaling.EventStoppedTyping, typingPayload{
			SenderID:   m.cfg.SelfID,
			ReceiverID: m.cfg.PeerID,
		})
	}
}

// PeerTyping reports whether the other side is typing.
func (m *Manager) PeerTyping() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peerTyping
}

// Messages returns the conversation snapshot, oldest first.
func (m *Manager) Messages() []*Message {
	return m.messages.Snapshot()
}

// Remaining returns seconds until the consultation window closes; -1 when
// unlimited.
func (m *Manager) Remaining() int {
	if m.cfg.Deadline.IsZero() {
		return -1
	}
	r := int(m.cfg.Deadline.Sub(m.clk.Now()) / time.Second)
	if r < 0 {
		r = 0
	}
	return r
}

// Subscribe returns a channel receiving every new or updated message.
func (m *Manager) Subscribe() chan *Message {
	ch := make(chan *Message, 32)
	m.mu.Lock()
	m.listeners = append(m.listeners, ch)
	m.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a listener channel.
func (m *Manager) Unsubscribe(ch chan *Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.listeners {
		if l == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			close(l)
			return
		}
	}
}

// Close detaches handlers and listeners. Cached history survives.
func (m *Manager) Close() {
	m.stopTyping()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cancels := m.cancels
	m.cancels = nil
	listeners := m.listeners
	m.listeners = nil
	m.mu.Unlock()

	for _, off := range cancels {
		off()
	}
	for _, ch := range listeners {
		close(ch)
	}
}

// ---- inbound handlers ----

func (m *Manager) handleReceive(raw json.RawMessage) {
	var p inboundPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Printf("CHAT: bad inbound message: %v", err)
		return
	}
	if p.SenderID != m.cfg.PeerID {
		return
	}
	sentAt := parseWireTime(p.Timestamp, m.clk.Now())
	msg := &Message{
		ID:     p.MessageID,
		From:   p.SenderID,
		To:     m.cfg.SelfID,
		Body:   p.Message,
		SentAt: sentAt,
	}
	m.messages.Push(msg)
	m.cacheSave(msg)
	m.notifyListeners(msg)

	// An inbound message means the peer is no longer mid-keystroke.
	m.mu.Lock()
	m.peerTyping = false
	m.mu.Unlock()
}

func (m *Manager) handleDelivered(raw json.RawMessage) {
	var p deliveredPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.TempID == "" {
		return
	}
	updated := m.reconcile(p.TempID, p.MessageID)
	if updated == nil {
		return
	}
	if m.cfg.Cache != nil {
		if err := m.cfg.Cache.ReconcileID(p.TempID, p.MessageID); err != nil {
			log.Printf("CHAT: cache reconcile failed: %v", err)
		}
	}
	m.notifyListeners(updated)
}

// reconcile swaps a provisional message for its delivered form in place,
// preserving conversation order.
func (m *Manager) reconcile(tempID, realID string) *Message {
	for _, msg := range m.messages.Snapshot() {
		if msg.ID != tempID {
			continue
		}
		clone := *msg
		clone.ID = realID
		clone.Status = StatusDelivered
		if m.messages.Replace(func(c *Message) bool { return c.ID == tempID }, &clone) {
			return &clone
		}
		return nil
	}
	return nil
}

func (m *Manager) handleRead(raw json.RawMessage) {
	var p readPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	if p.ReaderID != "" && p.ReaderID != m.cfg.PeerID {
		return
	}
	// Every delivered outbound message flips to read.
	for _, msg := range m.messages.Snapshot() {
		if !msg.Mine || msg.Status == StatusRead || msg.Provisional() {
			continue
		}
		clone := *msg
		clone.Status = StatusRead
		id := msg.ID
		m.messages.Replace(func(c *Message) bool { return c.ID == id }, &clone)
		m.notifyListeners(&clone)
	}
	if m.cfg.Cache != nil {
		if err := m.cfg.Cache.MarkPeerRead(m.cfg.PeerID); err != nil {
			log.Printf("CHAT: cache mark read failed: %v", err)
		}
	}
}

func (m *Manager) handleTyping(raw json.RawMessage) {
	var p typingPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SenderID != m.cfg.PeerID {
		return
	}
	m.mu.Lock()
	m.peerTyping = true
	m.mu.Unlock()
}

func (m *Manager) handleStoppedTyping(raw json.RawMessage) {
	var p typingPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SenderID != m.cfg.PeerID {
		return
	}
	m.mu.Lock()
	m.peerTyping = false
	m.mu.Unlock()
}

// ---- helpers ----

func (m *Manager) notifyListeners(msg *Message) {
	m.mu.RLock()
	for _, ch := range m.listeners {
		select {
		case ch <- msg:
		default:
		}
	}
	m.mu.RUnlock()
}

func (m *Manager) cacheSave(msg *Message) {
	if m.cfg.Cache == nil {
		return
	}
	rec := storage.MessageRecord{
		ID:     msg.ID,
		PeerID: m.cfg.PeerID,
		Sender: msg.From,
		Body:   msg.Body,
		SentAt: msg.SentAt,
		Status: string(msg.Status),
		Mine:   msg.Mine,
	}
	if err := m.cfg.Cache.Save(rec); err != nil {
		log.Printf("CHAT: cache save failed: %v", err)
	}
}

func recordToMessage(r *storage.MessageRecord) *Message {
	return &Message{
		ID:     r.ID,
		From:   r.Sender,
		To:     r.PeerID,
		Body:   r.Body,
		SentAt: r.SentAt,
		Status: Status(r.Status),
		Mine:   r.Mine,
	}
}

func historyToMessage(h api.HistoryMessage, selfID string) *Message {
	mine := h.SenderID == selfID
	msg := &Message{
		ID:     h.ID(),
		From:   h.SenderID,
		To:     h.Receiver,
		Body:   h.Body(),
		SentAt: parseWireTime(h.When(), time.Time{}),
		Mine:   mine,
	}
	if mine {
		msg.Status = StatusDelivered
		if h.Status == string(StatusRead) {
			msg.Status = StatusRead
		}
	}
	return msg
}

func parseWireTime(s string, fallback time.Time) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}
