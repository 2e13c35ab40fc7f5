// Package integration contains end-to-end tests for the relay server,
// driving real HTTP servers and WebSocket connections through the complete
// registration, presence, and routing flows.
package integration

import (
	"testing"
	"time"

	"github.com/duochat/duochat-server/internal/server"
	"github.com/duochat/duochat-server/test/testhelpers"
)

func TestRegistrationAnnouncesPresence(t *testing.T) {
	ts, _ := testhelpers.StartRelayServer(t, nil, nil)

	aliceConn := testhelpers.DialWebSocket(t, ts, ts.URL)
	bobConn := testhelpers.DialWebSocket(t, ts, ts.URL)
	alice := testhelpers.NewEventReader(aliceConn)
	bob := testhelpers.NewEventReader(bobConn)

	testhelpers.SendEvent(t, aliceConn, `{"type":"register","payload":{"user":"alice"}}`)

	// Other live connections hear the transition.
	ev := bob.Next(t, 2*time.Second)
	if ev.Type != server.EventUserStatus ||
		testhelpers.PayloadField(t, ev, "user") != "alice" ||
		testhelpers.PayloadField(t, ev, "status") != server.StatusOnline {
		t.Fatalf("bob got %s %s, want alice online", ev.Type, ev.Payload)
	}

	// The registrant is primed with the counterpart's status and its own.
	first := alice.Next(t, 2*time.Second)
	if testhelpers.PayloadField(t, first, "user") != "bob" ||
		testhelpers.PayloadField(t, first, "status") != server.StatusOffline {
		t.Fatalf("first reply = %s, want bob offline", first.Payload)
	}
	second := alice.Next(t, 2*time.Second)
	if testhelpers.PayloadField(t, second, "user") != "alice" ||
		testhelpers.PayloadField(t, second, "status") != server.StatusOnline {
		t.Fatalf("second reply = %s, want alice online", second.Payload)
	}
}

func TestTypingBroadcastSkipsSender(t *testing.T) {
	ts, _ := testhelpers.StartRelayServer(t, nil, nil)

	aliceConn := testhelpers.DialWebSocket(t, ts, ts.URL)
	bobConn := testhelpers.DialWebSocket(t, ts, ts.URL)
	alice := testhelpers.NewEventReader(aliceConn)
	bob := testhelpers.NewEventReader(bobConn)

	testhelpers.Register(t, aliceConn, alice, "alice")
	bob.Next(t, 2*time.Second) // alice online
	testhelpers.Register(t, bobConn, bob, "bob")
	alice.Next(t, 2*time.Second) // bob online

	testhelpers.SendEvent(t, aliceConn, `{"type":"typing","payload":{"user":"alice"}}`)

	ev := bob.Next(t, 2*time.Second)
	if ev.Type != "typing" {
		t.Fatalf("bob received %s, want typing", ev.Type)
	}
	alice.ExpectNone(t, 200*time.Millisecond)
}

func TestStatusQuery(t *testing.T) {
	ts, _ := testhelpers.StartRelayServer(t, nil, nil)

	aliceConn := testhelpers.DialWebSocket(t, ts, ts.URL)
	alice := testhelpers.NewEventReader(aliceConn)
	testhelpers.Register(t, aliceConn, alice, "alice")

	testhelpers.SendEvent(t, aliceConn, `{"type":"get_all_user_statuses"}`)

	ev := alice.Next(t, 2*time.Second)
	if ev.Type != server.EventAllUserStatuses {
		t.Fatalf("reply = %s, want %s", ev.Type, server.EventAllUserStatuses)
	}
	if testhelpers.PayloadField(t, ev, "alice") != server.StatusOnline {
		t.Errorf("alice status = %q, want online", testhelpers.PayloadField(t, ev, "alice"))
	}
	if testhelpers.PayloadField(t, ev, "bob") != server.StatusOffline {
		t.Errorf("bob status = %q, want offline", testhelpers.PayloadField(t, ev, "bob"))
	}
}

func TestCallOfferRelayedToRecipient(t *testing.T) {
	ts, _ := testhelpers.StartRelayServer(t, nil, nil)

	aliceConn := testhelpers.DialWebSocket(t, ts, ts.URL)
	bobConn := testhelpers.DialWebSocket(t, ts, ts.URL)
	alice := testhelpers.NewEventReader(aliceConn)
	bob := testhelpers.NewEventReader(bobConn)

	testhelpers.Register(t, aliceConn, alice, "alice")
	bob.Next(t, 2*time.Second)
	testhelpers.Register(t, bobConn, bob, "bob")
	alice.Next(t, 2*time.Second)

	testhelpers.SendEvent(t, aliceConn, `{"type":"call-offer","payload":{"to":"bob","sdp":"v=0"}}`)

	ev := bob.Next(t, 2*time.Second)
	if ev.Type != "call-offer" {
		t.Fatalf("bob received %s, want call-offer", ev.Type)
	}
	if testhelpers.PayloadField(t, ev, "sdp") != "v=0" {
		t.Errorf("relay was not verbatim: %s", ev.Payload)
	}
}

func TestCallOfferToOfflineRecipient(t *testing.T) {
	ts, _ := testhelpers.StartRelayServer(t, nil, nil)

	aliceConn := testhelpers.DialWebSocket(t, ts, ts.URL)
	alice := testhelpers.NewEventReader(aliceConn)
	testhelpers.Register(t, aliceConn, alice, "alice")

	testhelpers.SendEvent(t, aliceConn, `{"type":"call-offer","payload":{"to":"bob","sdp":"v=0"}}`)

	ev := alice.Next(t, 2*time.Second)
	if ev.Type != server.EventRecipientOffline {
		t.Fatalf("sender received %s, want %s", ev.Type, server.EventRecipientOffline)
	}
	if testhelpers.PayloadField(t, ev, "recipient") != "bob" {
		t.Errorf("recipient = %q, want bob", testhelpers.PayloadField(t, ev, "recipient"))
	}
}

func TestOfflineAnnouncedAfterGrace(t *testing.T) {
	ts, _ := testhelpers.StartRelayServer(t, nil, func(cfg *server.Config) {
		cfg.OfflineGrace = 100 * time.Millisecond
	})

	aliceConn := testhelpers.DialWebSocket(t, ts, ts.URL)
	bobConn := testhelpers.DialWebSocket(t, ts, ts.URL)
	alice := testhelpers.NewEventReader(aliceConn)
	bob := testhelpers.NewEventReader(bobConn)

	testhelpers.Register(t, aliceConn, alice, "alice")
	bob.Next(t, 2*time.Second)
	testhelpers.Register(t, bobConn, bob, "bob")
	alice.Next(t, 2*time.Second)

	aliceConn.Close()

	wantTypes := []string{server.EventUserStatus, server.EventPeerDisconnected, server.EventCallEnd}
	for _, want := range wantTypes {
		ev := bob.Next(t, 2*time.Second)
		if ev.Type != want {
			t.Fatalf("announcement = %s, want %s", ev.Type, want)
		}
	}
}

func TestReconnectWithinGraceStaysOnline(t *testing.T) {
	ts, _ := testhelpers.StartRelayServer(t, nil, func(cfg *server.Config) {
		cfg.OfflineGrace = 300 * time.Millisecond
	})

	aliceConn := testhelpers.DialWebSocket(t, ts, ts.URL)
	bobConn := testhelpers.DialWebSocket(t, ts, ts.URL)
	alice := testhelpers.NewEventReader(aliceConn)
	bob := testhelpers.NewEventReader(bobConn)

	testhelpers.Register(t, aliceConn, alice, "alice")
	bob.Next(t, 2*time.Second)
	testhelpers.Register(t, bobConn, bob, "bob")
	alice.Next(t, 2*time.Second)

	// Simulated page reload: drop and immediately re-register.
	aliceConn.Close()
	reloaded := testhelpers.DialWebSocket(t, ts, ts.URL)
	aliceAgain := testhelpers.NewEventReader(reloaded)
	testhelpers.Register(t, reloaded, aliceAgain, "alice")

	ev := bob.Next(t, 2*time.Second)
	if ev.Type != server.EventUserStatus ||
		testhelpers.PayloadField(t, ev, "status") != server.StatusOnline {
		t.Fatalf("bob got %s %s, want the fresh online announcement", ev.Type, ev.Payload)
	}

	// Past the grace window, no offline or peer-disconnected ever arrives.
	bob.ExpectNone(t, 600*time.Millisecond)
}
