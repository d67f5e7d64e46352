package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/astroveda/astroclient/internal/booking"
)

func TestFetchToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mobile/agora/token" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["channelName"] != "ch-1" {
			t.Errorf("channelName = %v", req["channelName"])
		}
		json.NewEncoder(w).Encode(Token{Token: "tok", ChannelName: "ch-1", UID: 1})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	tok, err := c.FetchToken(context.Background(), "ch-1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if tok.Token != "tok" || tok.ChannelName != "ch-1" || tok.UID != 1 {
		t.Fatalf("token = %+v", tok)
	}
}

func TestFetchTokenRejectsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Token{})
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).FetchToken(context.Background(), "ch-1", 1); err == nil {
		t.Fatal("empty token accepted")
	}
}

func TestFetchChatHistoryNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mobile/chat/user-1/astro-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"success":true,"messages":[
			{"messageId":"m1","text":"hi","senderId":"user-1","timestamp":"2024-01-01T10:00:00Z"},
			{"_id":"m2","message":"hello","senderId":"astro-1","createdAt":"2024-01-01T10:00:05Z"}
		]}`))
	}))
	defer srv.Close()

	msgs, err := NewClient(srv.URL).FetchChatHistory(context.Background(), "user-1", "astro-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].ID() != "m1" || msgs[0].Body() != "hi" || msgs[0].When() != "2024-01-01T10:00:00Z" {
		t.Fatalf("msg0 = %+v", msgs[0])
	}
	if msgs[1].ID() != "m2" || msgs[1].Body() != "hello" || msgs[1].When() != "2024-01-01T10:00:05Z" {
		t.Fatalf("msg1 = %+v", msgs[1])
	}
}

func TestUpdateBookingStatus(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).UpdateBookingStatus(context.Background(), "b-1", booking.StatusUserNotJoined)
	if err != nil {
		t.Fatal(err)
	}
	if got["bookingId"] != "b-1" || got["status"] != "user_not_joined" {
		t.Fatalf("body = %v", got)
	}
}

func TestErrorStatusSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.PostCallEndLog(context.Background(), CallEndLog{ConsultationID: "b-1"}); err == nil {
		t.Fatal("500 not surfaced")
	}
	if _, err := c.FetchBookings(context.Background(), "astro-1"); err == nil {
		t.Fatal("500 not surfaced")
	}
}
