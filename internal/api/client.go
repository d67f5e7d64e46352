// Package api is the REST client for the consultation backend: token issuing,
// call-end logging, chat history and booking reads/updates. All calls are
// ctx-scoped; the client never retries on its own.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/astroveda/astroclient/internal/booking"
	"github.com/astroveda/astroclient/internal/util"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		BaseURL: baseURL,
		HTTP: &http.Client{
			Timeout: util.DefaultFetchTimeout,
		},
	}
}

// Token is the media session token issued per channel, used verbatim to join
// the media engine.
type Token struct {
	Token       string `json:"token"`
	ChannelName string `json:"channelName"`
	UID         uint32 `json:"uid"`
}

// FetchToken requests a media token for channelName. uid 0 lets the backend
// assign one; the original client always sends 1 for the astrologer side.
func (c *Client) FetchToken(ctx context.Context, channelName string, uid uint32) (*Token, error) {
	var tok Token
	err := c.postJSON(ctx, "mobile/agora/token", map[string]any{
		"channelName": channelName,
		"uid":         uid,
	}, &tok)
	if err != nil {
		return nil, fmt.Errorf("fetch token: %w", err)
	}
	if tok.Token == "" || tok.ChannelName == "" {
		return nil, fmt.Errorf("fetch token: empty response for %s", channelName)
	}
	return &tok, nil
}

// CallEndLog is the fire-and-forget termination record.
type CallEndLog struct {
	ConsultationID string `json:"consultationId"`
	EndByID        string `json:"endById"`
	EndedBy        string `json:"endedBy"`
	EndTime        string `json:"endTime"`
}

// PostCallEndLog records who ended a call and when. Best-effort: callers log
// the error and move on, cleanup never blocks on it.
func (c *Client) PostCallEndLog(ctx context.Context, entry CallEndLog) error {
	if err := c.postJSON(ctx, "mobile/call-end-logs", entry, nil); err != nil {
		return fmt.Errorf("call-end log: %w", err)
	}
	return nil
}

// HistoryMessage is one message from the server-side chat history. The backend
// is inconsistent about field names across deployments, so both spellings are
// accepted and normalized by Normalize.
type HistoryMessage struct {
	MessageID string `json:"messageId"`
	LegacyID  string `json:"_id"`
	Text      string `json:"text"`
	Message   string `json:"message"`
	SenderID  string `json:"senderId"`
	Receiver  string `json:"receiverId"`
	Timestamp string `json:"timestamp"`
	CreatedAt string `json:"createdAt"`
	Status    string `json:"status"`
}

// ID returns whichever id field the backend filled.
func (m HistoryMessage) ID() string {
	if m.MessageID != "" {
		return m.MessageID
	}
	return m.LegacyID
}

// Body returns whichever text field the backend filled.
func (m HistoryMessage) Body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Message
}

// When returns whichever timestamp field the backend filled.
func (m HistoryMessage) When() string {
	if m.Timestamp != "" {
		return m.Timestamp
	}
	return m.CreatedAt
}

// FetchChatHistory loads the full conversation between userID and astrologerID.
func (c *Client) FetchChatHistory(ctx context.Context, userID, astrologerID string) ([]HistoryMessage, error) {
	var out struct {
		Success  bool             `json:"success"`
		Messages []HistoryMessage `json:"messages"`
	}
	path := fmt.Sprintf("mobile/chat/%s/%s", userID, astrologerID)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("chat history: backend reported failure")
	}
	return out.Messages, nil
}

// FetchBookings lists the astrologer's scheduled consultations.
func (c *Client) FetchBookings(ctx context.Context, astrologerID string) ([]booking.Booking, error) {
	var out struct {
		Success  bool              `json:"success"`
		Bookings []booking.Booking `json:"bookings"`
	}
	path := fmt.Sprintf("mobile/astrologer/%s/bookings", astrologerID)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("bookings: %w", err)
	}
	return out.Bookings, nil
}

// UpdateBookingStatus pushes a status transition (completed, user_not_joined).
func (c *Client) UpdateBookingStatus(ctx context.Context, bookingID string, status booking.Status) error {
	err := c.postJSON(ctx, "mobile/booking-status", map[string]any{
		"bookingId": bookingID,
		"status":    status,
	}, nil)
	if err != nil {
		return fmt.Errorf("booking status: %w", err)
	}
	return nil
}

// getJSON performs a GET, drains the body, and decodes JSON into v.
func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("GET %s: status %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// postJSON performs a POST with a JSON body. v may be nil when the response
// body is irrelevant.
func (c *Client) postJSON(ctx context.Context, path string, body, v any) error {
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("POST %s: status %s", path, resp.Status)
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
