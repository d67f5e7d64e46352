package call

// State is the controller's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateJoining
	StateActive
	StateMinimized
	StateEnding
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateMinimized:
		return "minimized"
	case StateEnding:
		return "ending"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// EndCause names the first termination trigger a session honored.
type EndCause string

const (
	EndManual       EndCause = "manual"
	EndRemoteGone   EndCause = "remote_disconnected"
	EndWindowExpiry EndCause = "window_expired"
	EndSignal       EndCause = "signal"
	EndNavigation   EndCause = "navigated_away"
)

// EventType tags controller notifications delivered to subscribers.
type EventType string

const (
	// EventState fires on every state transition.
	EventState EventType = "state"
	// EventAlert is a blocking user-facing message (title + body).
	EventAlert EventType = "alert"
	// EventNavigateBack asks the shell to pop to the previous screen.
	EventNavigateBack EventType = "navigate_back"
	// EventNavigateCall asks the shell to show the full call screen again.
	EventNavigateCall EventType = "navigate_call"
	// EventTick fires once per second while the session runs.
	EventTick EventType = "tick"
)

// Event is one controller notification.
type Event struct {
	Type    EventType `json:"type"`
	State   State     `json:"-"`
	StateName string  `json:"state,omitempty"`
	Cause   EndCause  `json:"cause,omitempty"`
	Title   string    `json:"title,omitempty"`
	Message string    `json:"message,omitempty"`
	Elapsed int       `json:"elapsed,omitempty"`
	Remaining int     `json:"remaining,omitempty"`
}

// Status is a point-in-time controller snapshot for the control API.
type Status struct {
	State       string `json:"state"`
	ChannelName string `json:"channelName"`
	BookingID   string `json:"bookingId"`
	Video       bool   `json:"video"`
	Elapsed     int    `json:"elapsed"`
	ElapsedText string `json:"elapsedText"`
	Remaining   int    `json:"remaining"`
	Countdown   string `json:"countdown"`
	Muted       bool   `json:"muted"`
	Speaker     bool   `json:"speaker"`
	Minimized   bool   `json:"minimized"`
	RemoteUID   uint32 `json:"remoteUid,omitempty"`
	HasRemote   bool   `json:"hasRemote"`
	EndCause    string `json:"endCause,omitempty"`
}
