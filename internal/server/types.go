// Package server defines the realtime event envelope and shared helpers that
// are reused across client, hub, and REST handler logic.
package server

import (
	"encoding/json"
	"log"
	"strings"
)

// Event is the JSON envelope exchanged over the realtime socket. Type is the
// routing discriminator; Payload is opaque to the router except for the few
// fields needed to route it.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event types originated by clients.
const (
	EventRegister    = "register"
	EventStatusQuery = "get_all_user_statuses"
)

// Event types originated by the server.
const (
	EventUserStatus       = "user_status"
	EventAllUserStatuses  = "all_user_statuses"
	EventRecipientOffline = "call-recipient-offline"
	EventCallEnd          = "call-end"
	EventPeerDisconnected = "peer-disconnected"
	EventNewMessage       = "new_message"
	EventUnreadCount      = "unread_count_update"
	EventMessagesSeen     = "messages_seen"
	EventChatCleared      = "chat_cleared"
)

// Presence status values carried in user_status payloads.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// routingFields is the subset of a payload the router may need to inspect.
type routingFields struct {
	User string `json:"user"`
	To   string `json:"to"`
}

// signalingExact lists targeted signaling types that carry no family prefix.
var signalingExact = map[string]bool{
	"sound_alert":   true,
	"ice-candidate": true,
	"user-busy":     true,
}

var signalingPrefixes = []string{"call-", "voice-chat-", "video-chat-"}

// isSignalingType reports whether an event type belongs to the targeted
// call-signaling family and is relayed to a single recipient instead of
// being broadcast.
func isSignalingType(eventType string) bool {
	if signalingExact[eventType] {
		return true
	}
	for _, prefix := range signalingPrefixes {
		if strings.HasPrefix(eventType, prefix) {
			return true
		}
	}
	return false
}

// isOfferType reports whether a signaling type initiates a call. Offers to an
// offline recipient get an explicit reply; all other signaling to an absent
// recipient is dropped.
func isOfferType(eventType string) bool {
	return isSignalingType(eventType) && strings.HasSuffix(eventType, "-offer")
}

// encodeEvent marshals an envelope. It logs and returns nil on failure so
// callers treat an unencodable payload as a skipped send.
func encodeEvent(eventType string, payload interface{}) []byte {
	ev := Event{Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			log.Printf("Error encoding %s payload: %v", eventType, err)
			return nil
		}
		ev.Payload = raw
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Error encoding %s event: %v", eventType, err)
		return nil
	}
	return data
}

func encodeUserStatus(user, status string) []byte {
	return encodeEvent(EventUserStatus, map[string]string{
		"user":   user,
		"status": status,
	})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
