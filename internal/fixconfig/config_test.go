package fixconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndValidates(t *testing.T) {
	path := writeTemp(t, `
sessions:
  - session-name: client-to-server
    sender-comp-id: CLIENT
    target-comp-id: SERVER
    role: initiator
    host: 127.0.0.1
    port: 5001
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(cfg.Sessions))
	}
	s := cfg.Sessions[0]
	if s.BeginString != "FIX.4.4" {
		t.Errorf("default begin-string = %q", s.BeginString)
	}
	if s.HeartbeatInterval != 30 {
		t.Errorf("default heartbeat-interval = %d", s.HeartbeatInterval)
	}
	if s.MessagePoolSize != 64 {
		t.Errorf("default message-pool-size = %d", s.MessagePoolSize)
	}
	if s.MaxReconnectAttempts != -1 {
		t.Errorf("default max-reconnect-attempts = %d", s.MaxReconnectAttempts)
	}
	if got := s.SessionID(); got != "CLIENT->SERVER" {
		t.Errorf("SessionID() = %q", got)
	}
}

func TestLoadMissingRequiredFieldFailsFast(t *testing.T) {
	path := writeTemp(t, `
sessions:
  - session-name: bad
    role: initiator
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for missing comp ids")
	}
}

func TestLoadInitiatorRequiresHost(t *testing.T) {
	path := writeTemp(t, `
sessions:
  - session-name: no-host
    sender-comp-id: A
    target-comp-id: B
    role: initiator
    port: 5001
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for missing host on initiator")
	}
}

func TestLoadRejectsBadScheduleValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed eod-time", `
sessions:
  - session-name: bad-eod
    sender-comp-id: A
    target-comp-id: B
    role: acceptor
    port: 5001
    eod-time: "25:00:00"
`},
		{"start-time without end-time", `
sessions:
  - session-name: half-window
    sender-comp-id: A
    target-comp-id: B
    role: acceptor
    port: 5001
    start-time: "09:00:00"
`},
		{"unknown time-zone", `
sessions:
  - session-name: bad-zone
    sender-comp-id: A
    target-comp-id: B
    role: acceptor
    port: 5001
    time-zone: "Mars/Olympus_Mons"
`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeTemp(t, tc.yaml)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestClockSeconds(t *testing.T) {
	got, err := ClockSeconds("17:30:05")
	if err != nil {
		t.Fatalf("ClockSeconds: %v", err)
	}
	if want := 17*3600 + 30*60 + 5; got != want {
		t.Errorf("ClockSeconds = %d, want %d", got, want)
	}
	if _, err := ClockSeconds("9am"); err == nil {
		t.Errorf("expected error for non HH:mm:ss value")
	}
}

func TestSessionListAcceptsMappingEntries(t *testing.T) {
	path := writeTemp(t, `
sessions:
  - session-name: placeholder
    sender-comp-id: A
    target-comp-id: B
    role: acceptor
    port: 5001
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sessions[0].Role != RoleAcceptor {
		t.Fatalf("expected acceptor role")
	}
}
