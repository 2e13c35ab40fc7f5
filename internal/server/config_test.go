package server

import (
	"testing"
	"time"
)

func TestSanitizeConfigAppliesDefaults(t *testing.T) {
	SetConfig(&Config{})
	t.Cleanup(func() { SetConfig(nil) })

	cfg := currentConfig()
	if cfg.Port != ":8080" {
		t.Errorf("Port = %q, want :8080", cfg.Port)
	}
	if cfg.DBPath != "chat.db" {
		t.Errorf("DBPath = %q, want chat.db", cfg.DBPath)
	}
	if cfg.OfflineGrace != 5*time.Second {
		t.Errorf("OfflineGrace = %s, want 5s", cfg.OfflineGrace)
	}
	if len(cfg.Participants) != 2 {
		t.Fatalf("Participants = %v, want the default pair", cfg.Participants)
	}
}

func TestSanitizeConfigRejectsBadParticipantSets(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })

	for _, participants := range [][]string{
		nil,
		{"alice"},
		{"alice", "alice"},
		{"a", "b", "c"},
	} {
		SetConfig(&Config{Participants: participants})
		cfg := currentConfig()
		if len(cfg.Participants) != 2 || cfg.Participants[0] == cfg.Participants[1] {
			t.Errorf("sanitize(%v) produced %v", participants, cfg.Participants)
		}
	}
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("CHAT_PARTICIPANTS", "carol, dave")
	t.Setenv("OFFLINE_GRACE_SECONDS", "2")
	t.Setenv("DB_PATH", "/tmp/test-chat.db")

	cfg := NewConfigFromEnv()
	if cfg.Port != ":9090" {
		t.Errorf("Port = %q, want :9090", cfg.Port)
	}
	if len(cfg.Participants) != 2 || cfg.Participants[0] != "carol" || cfg.Participants[1] != "dave" {
		t.Errorf("Participants = %v, want [carol dave]", cfg.Participants)
	}
	if cfg.OfflineGrace != 2*time.Second {
		t.Errorf("OfflineGrace = %s, want 2s", cfg.OfflineGrace)
	}
	if cfg.DBPath != "/tmp/test-chat.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
}

func TestNewConfigFromEnvIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("OFFLINE_GRACE_SECONDS", "soon")
	t.Setenv("RATE_LIMIT_BURST", "-3")

	cfg := NewConfigFromEnv()
	if cfg.OfflineGrace != 5*time.Second {
		t.Errorf("OfflineGrace = %s, want default 5s", cfg.OfflineGrace)
	}
	if cfg.RateLimit.Burst != 20 {
		t.Errorf("Burst = %d, want default 20", cfg.RateLimit.Burst)
	}
}
