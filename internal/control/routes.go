// Package control is the local HTTP surface the shell UI drives the client
// through: session lifecycle, call controls, chat, the floating widget, and
// SSE event streams.
package control

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/astroveda/astroclient/internal/api"
	"github.com/astroveda/astroclient/internal/booking"
	"github.com/astroveda/astroclient/internal/call"
	"github.com/astroveda/astroclient/internal/callstate"
	"github.com/astroveda/astroclient/internal/chat"
	"github.com/astroveda/astroclient/internal/overlay"
)

// Deps carries everything the routes need. Chat hooks are funcs because the
// app owns the chat session's lifecycle.
type Deps struct {
	SelfID string

	Calls   *call.Manager
	Store   *callstate.Store
	API     *api.Client
	Overlay *overlay.Window

	ChatOpen   func(ctx context.Context, bookingID string) error
	ChatActive func() (*chat.Manager, bool)
	ChatClose  func()
}

// Register wires every endpoint onto mux.
func Register(mux *http.ServeMux, d Deps) {
	registerCallRoutes(mux, d)
	registerStateRoutes(mux, d)
	registerBookingRoutes(mux, d)
	registerChatRoutes(mux, d)
	registerOverlayRoutes(mux, d)
}

func registerCallRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/call/status — active session status, or idle.
	handleGet(mux, "/api/call/status", func(w http.ResponseWriter, r *http.Request) {
		if ctl, ok := d.Calls.Active(); ok {
			writeJSON(w, ctl.Status())
			return
		}
		writeJSON(w, map[string]string{"state": "idle"})
	})

	// POST /api/call/start — look the booking up and start its session.
	handlePost(mux, "/api/call/start", func(w http.ResponseWriter, r *http.Request, req struct {
		BookingID string `json:"booking_id"`
	}) {
		if req.BookingID == "" {
			http.Error(w, "missing booking_id", http.StatusBadRequest)
			return
		}
		bk, err := findBooking(r.Context(), d, req.BookingID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		ctl, err := d.Calls.StartSession(r.Context(), bk)
		if err != nil {
			log.Printf("CONTROL: start session %s failed: %v", req.BookingID, err)
			http.Error(w, fmt.Sprintf("start failed: %v", err), http.StatusConflict)
			return
		}
		writeJSON(w, ctl.Status())
	})

	handlePostAction(mux, "/api/call/end", func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := d.Calls.Active()
		if !ok {
			http.Error(w, "no active session", http.StatusNotFound)
			return
		}
		if err := ctl.End(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"status": "ended"})
	})

	handlePostAction(mux, "/api/call/minimize", func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := d.Calls.Active()
		if !ok {
			http.Error(w, "no active session", http.StatusNotFound)
			return
		}
		if err := ctl.Minimize(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, ctl.Status())
	})

	handlePostAction(mux, "/api/call/restore", func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := d.Calls.Active()
		if !ok {
			http.Error(w, "no active session", http.StatusNotFound)
			return
		}
		if err := ctl.Restore(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, ctl.Status())
	})

	handlePostAction(mux, "/api/call/mute", func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := d.Calls.Active()
		if !ok {
			http.Error(w, "no active session", http.StatusNotFound)
			return
		}
		muted, err := ctl.ToggleMute()
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]bool{"muted": muted})
	})

	handlePostAction(mux, "/api/call/speaker", func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := d.Calls.Active()
		if !ok {
			http.Error(w, "no active session", http.StatusNotFound)
			return
		}
		on, err := ctl.ToggleSpeaker()
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]bool{"speaker": on})
	})

	handlePostAction(mux, "/api/call/camera", func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := d.Calls.Active()
		if !ok {
			http.Error(w, "no active session", http.StatusNotFound)
			return
		}
		if err := ctl.SwitchCamera(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"status": "switched"})
	})

	// GET /api/call/events — SSE stream of session events. Tail only.
	handleGet(mux, "/api/call/events", func(w http.ResponseWriter, r *http.Request) {
		ctl, ok := d.Calls.Active()
		if !ok {
			http.Error(w, "no active session", http.StatusNotFound)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ch, cancel := ctl.Subscribe()
		defer cancel()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ctl.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				writeSSE(w, evt)
				flusher.Flush()
			}
		}
	})
}

func registerStateRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/state — the shared call state snapshot observers render from.
	handleGet(mux, "/api/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Store.Snapshot())
	})
}

func registerBookingRoutes(mux *http.ServeMux, d Deps) {
	handleGet(mux, "/api/bookings", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()
		list, err := d.API.FetchBookings(ctx, d.SelfID)
		if err != nil {
			http.Error(w, fmt.Sprintf("fetch bookings: %v", err), http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{"bookings": list})
	})

	handlePost(mux, "/api/bookings/status", func(w http.ResponseWriter, r *http.Request, req struct {
		BookingID string `json:"booking_id"`
		Status    string `json:"status"`
	}) {
		if req.BookingID == "" || req.Status == "" {
			http.Error(w, "missing booking_id or status", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()
		if err := d.API.UpdateBookingStatus(ctx, req.BookingID, booking.Status(req.Status)); err != nil {
			http.Error(w, fmt.Sprintf("update status: %v", err), http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]string{"status": "updated"})
	})
}

func registerChatRoutes(mux *http.ServeMux, d Deps) {
	handlePost(mux, "/api/chat/open", func(w http.ResponseWriter, r *http.Request, req struct {
		BookingID string `json:"booking_id"`
	}) {
		if req.BookingID == "" {
			http.Error(w, "missing booking_id", http.StatusBadRequest)
			return
		}
		if err := d.ChatOpen(r.Context(), req.BookingID); err != nil {
			http.Error(w, fmt.Sprintf("open chat: %v", err), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"status": "open"})
	})

	handleGet(mux, "/api/chat/messages", func(w http.ResponseWriter, r *http.Request) {
		cm, ok := d.ChatActive()
		if !ok {
			http.Error(w, "no open chat", http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{
			"messages":    cm.Messages(),
			"peer_typing": cm.PeerTyping(),
			"remaining":   cm.Remaining(),
		})
	})

	handlePost(mux, "/api/chat/send", func(w http.ResponseWriter, r *http.Request, req struct {
		Body string `json:"body"`
	}) {
		cm, ok := d.ChatActive()
		if !ok {
			http.Error(w, "no open chat", http.StatusNotFound)
			return
		}
		msg, err := cm.Send(req.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, msg)
	})

	handlePostAction(mux, "/api/chat/typing", func(w http.ResponseWriter, r *http.Request) {
		cm, ok := d.ChatActive()
		if !ok {
			http.Error(w, "no open chat", http.StatusNotFound)
			return
		}
		cm.NotifyTyping()
		writeJSON(w, map[string]string{"status": "ok"})
	})

	handlePostAction(mux, "/api/chat/close", func(w http.ResponseWriter, r *http.Request) {
		d.ChatClose()
		writeJSON(w, map[string]string{"status": "closed"})
	})

	// GET /api/chat/events — SSE stream of new and updated messages.
	handleGet(mux, "/api/chat/events", func(w http.ResponseWriter, r *http.Request) {
		cm, ok := d.ChatActive()
		if !ok {
			http.Error(w, "no open chat", http.StatusNotFound)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		ch := cm.Subscribe()
		defer cm.Unsubscribe(ch)
		for {
			select {
			case <-r.Context().Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				writeSSE(w, msg)
				flusher.Flush()
			}
		}
	})
}

func registerOverlayRoutes(mux *http.ServeMux, d Deps) {
	if d.Overlay == nil {
		return
	}

	handleGet(mux, "/api/overlay", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"visible":  d.Overlay.Visible(),
			"ui":       d.Overlay.UI(),
			"position": d.Overlay.Position(),
		})
	})

	handlePost(mux, "/api/overlay/drag", func(w http.ResponseWriter, r *http.Request, req struct {
		X int `json:"x"`
		Y int `json:"y"`
	}) {
		d.Overlay.Drag(req.X, req.Y)
		writeJSON(w, d.Overlay.Position())
	})

	handlePostAction(mux, "/api/overlay/release", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Overlay.Release())
	})

	handlePostAction(mux, "/api/overlay/tap", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Overlay.Tap(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})
}

// findBooking resolves a booking id against the astrologer's schedule.
func findBooking(ctx context.Context, d Deps, id string) (*booking.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	list, err := d.API.FetchBookings(ctx, d.SelfID)
	if err != nil {
		return nil, fmt.Errorf("fetch bookings: %w", err)
	}
	for i := range list {
		if list[i].ID == id {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("booking %s not found", id)
}
