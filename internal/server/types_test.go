package server

import "testing"

func TestSignalingClassification(t *testing.T) {
	cases := []struct {
		eventType string
		signaling bool
		offer     bool
	}{
		{"call-offer", true, true},
		{"call-answer", true, false},
		{"call-end", true, false},
		{"voice-chat-offer", true, true},
		{"video-chat-offer", true, true},
		{"video-chat-answer", true, false},
		{"ice-candidate", true, false},
		{"sound_alert", true, false},
		{"user-busy", true, false},
		{"typing", false, false},
		{"stop_typing", false, false},
		{"register", false, false},
		{"chat_message", false, false},
	}

	for _, tc := range cases {
		if got := isSignalingType(tc.eventType); got != tc.signaling {
			t.Errorf("isSignalingType(%q) = %v, want %v", tc.eventType, got, tc.signaling)
		}
		if got := isOfferType(tc.eventType); got != tc.offer {
			t.Errorf("isOfferType(%q) = %v, want %v", tc.eventType, got, tc.offer)
		}
	}
}

func TestEncodeUserStatus(t *testing.T) {
	raw := encodeUserStatus("alice", StatusOnline)
	if raw == nil {
		t.Fatal("encodeUserStatus returned nil")
	}
	want := `{"type":"user_status","payload":{"status":"online","user":"alice"}}`
	if string(raw) != want {
		t.Errorf("encoded %s, want %s", raw, want)
	}
}
