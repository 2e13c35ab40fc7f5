// Package testhelpers provides shared utilities for integration-testing the
// relay server: configured test servers, WebSocket dialing with origin
// headers, and frame-aware event readers.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/duochat/duochat-server/internal/server"
)

// StartRelayServer boots a hub and HTTP router on an httptest server and
// allows the test server's own origin for WebSocket upgrades. The optional
// customize callback tweaks the configuration before the hub is built.
func StartRelayServer(t *testing.T, messages server.MessageStore, customize func(cfg *server.Config)) (*httptest.Server, *server.Hub) {
	t.Helper()

	cfg := server.NewConfig()
	if customize != nil {
		customize(cfg)
	}
	server.SetConfig(cfg)
	t.Cleanup(func() { server.SetConfig(nil) })

	hub := server.NewHub()
	go hub.Run()
	t.Cleanup(func() {
		if err := hub.Shutdown(2 * time.Second); err != nil {
			t.Logf("hub shutdown: %v", err)
		}
	})

	ts := httptest.NewServer(server.NewRouter(hub, messages))
	t.Cleanup(ts.Close)

	// The upgrade origin check needs the ephemeral test URL.
	cfg.AllowedOrigins = append(cfg.AllowedOrigins, ts.URL)
	server.SetConfig(cfg)

	return ts, hub
}

// WebSocketURL converts an httptest server URL into its ws:// endpoint.
func WebSocketURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// DialWebSocket opens a client connection with the given Origin header.
func DialWebSocket(t *testing.T, ts *httptest.Server, origin string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, _, err := websocket.DefaultDialer.Dial(WebSocketURL(ts), header)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// EventReader yields events one at a time from a WebSocket connection,
// splitting batched frames on their newline separators.
type EventReader struct {
	conn    *websocket.Conn
	pending [][]byte
}

// NewEventReader wraps a connection for event-at-a-time reads.
func NewEventReader(conn *websocket.Conn) *EventReader {
	return &EventReader{conn: conn}
}

// Next returns the next event, failing the test after the timeout.
func (r *EventReader) Next(t *testing.T, timeout time.Duration) server.Event {
	t.Helper()
	raw := r.nextRaw(t, timeout)
	var ev server.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("received undecodable event %q: %v", raw, err)
	}
	return ev
}

// ExpectNone fails the test if an event arrives before the timeout.
func (r *EventReader) ExpectNone(t *testing.T, timeout time.Duration) {
	t.Helper()
	if len(r.pending) > 0 {
		t.Fatalf("expected no event, have pending %q", r.pending[0])
	}
	if err := r.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}
	_, frame, err := r.conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no event, received %q", frame)
	}
}

func (r *EventReader) nextRaw(t *testing.T, timeout time.Duration) []byte {
	t.Helper()
	if len(r.pending) > 0 {
		raw := r.pending[0]
		r.pending = r.pending[1:]
		return raw
	}

	if err := r.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}
	_, frame, err := r.conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading event: %v", err)
	}

	parts := bytes.Split(frame, []byte{'\n'})
	r.pending = parts[1:]
	return parts[0]
}

// SendEvent writes one JSON envelope to the connection.
func SendEvent(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("sending event: %v", err)
	}
}

// Register sends a register event and drains the two private status replies
// the server sends to the registrant.
func Register(t *testing.T, conn *websocket.Conn, reader *EventReader, user string) {
	t.Helper()
	SendEvent(t, conn, `{"type":"register","payload":{"user":"`+user+`"}}`)
	for i := 0; i < 2; i++ {
		ev := reader.Next(t, 2*time.Second)
		if ev.Type != server.EventUserStatus {
			t.Fatalf("expected user_status reply %d, got %s", i+1, ev.Type)
		}
	}
}

// PayloadField decodes a string field out of an event payload.
func PayloadField(t *testing.T, ev server.Event, field string) string {
	t.Helper()
	var fields map[string]interface{}
	if err := json.Unmarshal(ev.Payload, &fields); err != nil {
		t.Fatalf("undecodable %s payload: %v", ev.Type, err)
	}
	value, _ := fields[field].(string)
	return value
}
