package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/astroveda/astroclient/internal/api"
	"github.com/astroveda/astroclient/internal/call"
	"github.com/astroveda/astroclient/internal/callstate"
	"github.com/astroveda/astroclient/internal/chat"
	"github.com/astroveda/astroclient/internal/media"
	"github.com/astroveda/astroclient/internal/overlay"
	"github.com/astroveda/astroclient/internal/signaling"
)

type nullSignaler struct {
	mu       sync.Mutex
	handlers map[string][]signaling.Handler
}

func newNullSignaler() *nullSignaler {
	return &nullSignaler{handlers: map[string][]signaling.Handler{}}
}

func (n *nullSignaler) Emit(event string, payload any) error { return nil }

func (n *nullSignaler) EmitAck(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	return nil, nil
}

func (n *nullSignaler) On(event string, fn signaling.Handler) func() {
	n.mu.Lock()
	n.handlers[event] = append(n.handlers[event], fn)
	n.mu.Unlock()
	return func() {}
}

func testDeps(t *testing.T, apiBase string) Deps {
	t.Helper()
	media.ReleaseCurrent()
	t.Cleanup(media.ReleaseCurrent)

	sig := newNullSignaler()
	store := callstate.NewStore()
	mgr := call.NewManager(call.ManagerConfig{
		Signaler:      sig,
		Backend:       api.NewClient(apiBase),
		Store:         store,
		EngineFactory: func() (media.Engine, error) { return nil, nil },
	})
	t.Cleanup(mgr.Close)

	cm := chat.New(chat.Config{SelfID: "astro-1", PeerID: "cust-1", Signaler: sig})
	t.Cleanup(cm.Close)

	ow := overlay.NewWindow(store, overlay.Geometry{Width: 400, Height: 800}, func() error { return nil })
	t.Cleanup(ow.Close)

	return Deps{
		SelfID:     "astro-1",
		Calls:      mgr,
		Store:      store,
		API:        api.NewClient(apiBase),
		Overlay:    ow,
		ChatOpen:   func(ctx context.Context, bookingID string) error { return nil },
		ChatActive: func() (*chat.Manager, bool) { return cm, true },
		ChatClose:  func() {},
	}
}

func newServer(t *testing.T, d Deps) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	Register(mux, d)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func postJSON(t *testing.T, url string, body any, v any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestCallStatusIdle(t *testing.T) {
	srv := newServer(t, testDeps(t, "http://127.0.0.1:0"))

	var got map[string]string
	resp := getJSON(t, srv.URL+"/api/call/status", &got)
	if resp.StatusCode != http.StatusOK || got["state"] != "idle" {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, got)
	}
}

func TestMethodFiltering(t *testing.T) {
	srv := newServer(t, testDeps(t, "http://127.0.0.1:0"))

	resp := postJSON(t, srv.URL+"/api/call/status", nil, nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST to GET route = %d", resp.StatusCode)
	}
	resp = getJSON(t, srv.URL+"/api/call/end", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET to POST route = %d", resp.StatusCode)
	}
}

func TestStateSnapshot(t *testing.T) {
	d := testDeps(t, "http://127.0.0.1:0")
	d.Store.SetActive(true)
	srv := newServer(t, d)

	var snap callstate.Snapshot
	getJSON(t, srv.URL+"/api/state", &snap)
	if !snap.Active {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestBookingsProxy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mobile/astrologer/astro-1/bookings" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"bookings":[{"_id":"bk-1","channelName":"room-1"}]}`))
	}))
	defer backend.Close()

	srv := newServer(t, testDeps(t, backend.URL))

	var got struct {
		Bookings []struct {
			ID string `json:"_id"`
		} `json:"bookings"`
	}
	resp := getJSON(t, srv.URL+"/api/bookings", &got)
	if resp.StatusCode != http.StatusOK || len(got.Bookings) != 1 || got.Bookings[0].ID != "bk-1" {
		t.Fatalf("status = %d, bookings = %+v", resp.StatusCode, got.Bookings)
	}
}

func TestChatSendAndMessages(t *testing.T) {
	srv := newServer(t, testDeps(t, "http://127.0.0.1:0"))

	var msg chat.Message
	resp := postJSON(t, srv.URL+"/api/chat/send", map[string]string{"body": "hello"}, &msg)
	if resp.StatusCode != http.StatusOK || msg.Body != "hello" || !msg.Mine {
		t.Fatalf("status = %d, msg = %+v", resp.StatusCode, msg)
	}

	var got struct {
		Messages []chat.Message `json:"messages"`
	}
	getJSON(t, srv.URL+"/api/chat/messages", &got)
	if len(got.Messages) != 1 || got.Messages[0].Body != "hello" {
		t.Fatalf("messages = %+v", got.Messages)
	}

	// Empty body is rejected.
	resp = postJSON(t, srv.URL+"/api/chat/send", map[string]string{}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("empty send = %d", resp.StatusCode)
	}
}

func TestOverlayRoutes(t *testing.T) {
	d := testDeps(t, "http://127.0.0.1:0")
	srv := newServer(t, d)

	var state struct {
		Visible bool `json:"visible"`
	}
	getJSON(t, srv.URL+"/api/overlay", &state)
	if state.Visible {
		t.Fatal("overlay visible with no session")
	}

	// Minimized session shows the widget; drag then release snaps.
	d.Store.SetMinimized(true)
	d.Store.SetUI(&callstate.UIDescriptor{Kind: callstate.UIVoice, ChannelName: "room-1"})
	waitOverlay(t, srv.URL)

	postJSON(t, srv.URL+"/api/overlay/drag", map[string]int{"x": 300, "y": 400}, nil)
	var pos overlay.Position
	postJSON(t, srv.URL+"/api/overlay/release", nil, &pos)
	if pos.X != 250 || pos.Y != 400 {
		t.Fatalf("release position = %+v", pos)
	}
}

func waitOverlay(t *testing.T, base string) {
	t.Helper()
	for i := 0; i < 200; i++ {
		resp, err := http.Get(base + "/api/overlay")
		if err != nil {
			t.Fatal(err)
		}
		var state struct {
			Visible bool `json:"visible"`
		}
		json.NewDecoder(resp.Body).Decode(&state)
		resp.Body.Close()
		if state.Visible {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("overlay never became visible")
}
