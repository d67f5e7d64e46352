package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status tracks an outbound message's journey. Inbound messages carry no
// status.
type Status string

const (
	// StatusPending: sent optimistically, server id not yet assigned.
	StatusPending Status = "pending"
	// StatusDelivered: server acknowledged and assigned the real id.
	StatusDelivered Status = "delivered"
	// StatusRead: the other side opened the conversation.
	StatusRead Status = "read"
)

// tempPrefix marks provisional ids assigned before the server acknowledges.
const tempPrefix = "temp_"

// Message is one chat message in a consultation conversation.
type Message struct {
	ID     string    `json:"id"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sentAt"`
	Status Status    `json:"status,omitempty"`
	Mine   bool      `json:"mine"`
}

// Provisional reports whether the message still carries a temp id.
func (m *Message) Provisional() bool {
	return strings.HasPrefix(m.ID, tempPrefix)
}

func newTempID() string {
	return tempPrefix + uuid.NewString()
}

// Wire payloads. Field names mirror what the backend emits; the client does
// not define this vocabulary.

type joinPayload struct {
	UserID       string `json:"userId"`
	AstrologerID string `json:"astrologerId"`
}

type outboundPayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
	TempID     string `json:"tempId"`
	Timestamp  string `json:"timestamp"`
}

type inboundPayload struct {
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type deliveredPayload struct {
	TempID    string `json:"tempId"`
	MessageID string `json:"messageId"`
}

type readPayload struct {
	ReaderID string `json:"readerId"`
}

type typingPayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}
