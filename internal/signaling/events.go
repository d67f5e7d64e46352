package signaling

// Event names carried on the realtime connection. The client does not define
// this wire vocabulary — it mirrors what the backend emits.
const (
	// Call lifecycle
	EventCallJoin      = "call:join"
	EventCallRingStart = "call:ring:start"
	EventCallRingEnd   = "call:ring:end"
	EventCallEnd       = "call:end"

	// Chat
	EventChatJoin          = "join_normal_chat"
	EventChatSend          = "send_message_normal"
	EventChatReceive       = "receive_message_normal"
	EventTyping            = "typing"
	EventStoppedTyping     = "stopped_typing"
	EventMessageDelivered  = "message_delivered_normal"
	EventMessageRead       = "message_read_normal"
)

// CallJoinPayload announces this side entering a call room.
type CallJoinPayload struct {
	ChannelName string `json:"channelName"`
	Role        string `json:"role"`
}

// RingStartPayload is an incoming ring for a booked consultation.
type RingStartPayload struct {
	ChannelName  string `json:"channelName"`
	BookingID    string `json:"bookingId"`
	AstrologerID string `json:"astrologerId"`
	CustomerID   string `json:"customerId"`
}

// RingEndPayload cancels a pending ring.
type RingEndPayload struct {
	ChannelName string `json:"channelName"`
}

// CallEndPayload terminates a call; EndedBy names which side hung up.
type CallEndPayload struct {
	ChannelName string `json:"channelName"`
	BookingID   string `json:"bookingId"`
	EndedBy     string `json:"endedBy"`
}

// CallEndAck is the optional acknowledgment to a call:end emit.
type CallEndAck struct {
	Success      bool `json:"success"`
	AlreadyEnded bool `json:"alreadyEnded"`
}
