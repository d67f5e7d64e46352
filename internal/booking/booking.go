// Package booking holds the consultation booking model and the session-window
// math derived from a booking's date and time-range fields. Bookings are
// created and owned by the scheduling backend; this client reads them and only
// ever pushes status transitions back.
package booking

import "time"

// ConsultationType distinguishes the three consultation flavours.
type ConsultationType string

const (
	TypeChat      ConsultationType = "chat"
	TypeCall      ConsultationType = "call"
	TypeVideoCall ConsultationType = "videocall"
)

// Status is the booking lifecycle state as the backend tracks it.
type Status string

const (
	StatusBooked        Status = "booked"
	StatusCompleted     Status = "completed"
	StatusUserNotJoined Status = "user_not_joined"
)

// Party is the customer or astrologer reference embedded in a booking.
type Party struct {
	ID    string `json:"_id"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
}

// Booking is one scheduled consultation between an astrologer and a customer.
// Date carries the calendar day; FromTime/ToTime are "HH:mm" strings on that
// day. ChannelName is the shared signaling/media room identifier.
type Booking struct {
	ID          string           `json:"_id"`
	Date        string           `json:"date"` // "2006-01-02" or RFC3339
	FromTime    string           `json:"fromTime"`
	ToTime      string           `json:"toTime"`
	Type        ConsultationType `json:"consultationType"`
	Customer    Party            `json:"customer"`
	Astrologer  Party            `json:"astrologer"`
	ChannelName string           `json:"channelName"`
	Status      Status           `json:"status"`
}

// IsVideo reports whether the booking's consultation carries video.
func (b *Booking) IsVideo() bool {
	return b.Type == TypeVideoCall
}

// Window computes the booking's session window in loc. See window.go.
func (b *Booking) Window(loc *time.Location) (SessionWindow, error) {
	return ComputeWindow(b.Date, b.FromTime, b.ToTime, loc)
}
