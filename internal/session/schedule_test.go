package session

import (
	"testing"
	"time"

	"github.com/fixline/engine/internal/fixcodec"
	"github.com/fixline/engine/internal/fixconfig"
	"github.com/fixline/engine/internal/logstore"
)

func scheduleConfig(name string) fixconfig.SessionConfig {
	cfg := fixconfig.SessionConfig{
		Name:         name,
		SenderCompID: "SERVER",
		TargetCompID: "CLIENT",
		Role:         fixconfig.RoleAcceptor,
		Port:         5001,
	}
	cfg.ApplyDefaults()
	return cfg
}

// TestScheduleWindow exercises the [start, end) membership test, including
// an overnight window that wraps midnight.
func TestScheduleWindow(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		at         string
		want       bool
	}{
		{"inside day window", "09:00:00", "17:00:00", "12:00:00", true},
		{"before day window", "09:00:00", "17:00:00", "08:59:59", false},
		{"at end of day window", "09:00:00", "17:00:00", "17:00:00", false},
		{"overnight window evening side", "22:00:00", "06:00:00", "23:30:00", true},
		{"overnight window morning side", "22:00:00", "06:00:00", "05:00:00", true},
		{"outside overnight window", "22:00:00", "06:00:00", "12:00:00", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := scheduleConfig("window")
			cfg.StartTime = tc.start
			cfg.EndTime = tc.end
			sess := NewSession(cfg, logstore.NullStore{}, nil)

			at, err := time.Parse("2006-01-02 15:04:05", "2026-07-31 "+tc.at)
			if err != nil {
				t.Fatalf("parse at: %v", err)
			}
			if got := sess.InSchedule(at.UTC()); got != tc.want {
				t.Errorf("InSchedule(%s) = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

// TestScheduleEODResetsSequences confirms that a tick crossing the
// configured end-of-day mark resets both sequence counters when
// reset-on-eod is set, and that ticks on either side of the mark do not.
func TestScheduleEODResetsSequences(t *testing.T) {
	cfg := scheduleConfig("eod-reset")
	cfg.EODTime = "17:00:00"
	cfg.ResetOnEOD = true
	sess := NewSession(cfg, logstore.NullStore{}, nil)

	sess.outgoingSeq.Store(41)
	sess.expectedSeq.Store(42)

	day := func(clock string) time.Time {
		at, err := time.Parse("2006-01-02 15:04:05", "2026-07-31 "+clock)
		if err != nil {
			t.Fatalf("parse %q: %v", clock, err)
		}
		return at.UTC()
	}

	// First tick only records the time; second tick is still before EOD.
	sess.CheckSchedule(day("16:59:58"))
	sess.CheckSchedule(day("16:59:59"))
	if got := sess.outgoingSeq.Load(); got != 41 {
		t.Fatalf("outgoingSeq before EOD = %d, want 41", got)
	}

	sess.CheckSchedule(day("17:00:01"))
	if got := sess.outgoingSeq.Load(); got != 0 {
		t.Errorf("outgoingSeq after EOD = %d, want 0", got)
	}
	if got := sess.expectedSeq.Load(); got != 1 {
		t.Errorf("expectedSeq after EOD = %d, want 1", got)
	}

	// Subsequent ticks on the same day must not reset again.
	sess.outgoingSeq.Store(7)
	sess.CheckSchedule(day("17:00:02"))
	if got := sess.outgoingSeq.Load(); got != 7 {
		t.Errorf("outgoingSeq re-reset on later tick = %d, want 7", got)
	}
}

// TestScheduleEODWithoutResetLeavesSequences confirms the EOD crossing is
// inert when reset-on-eod is off.
func TestScheduleEODWithoutResetLeavesSequences(t *testing.T) {
	cfg := scheduleConfig("eod-no-reset")
	cfg.EODTime = "17:00:00"
	sess := NewSession(cfg, logstore.NullStore{}, nil)

	sess.outgoingSeq.Store(12)
	before := time.Date(2026, 7, 31, 16, 59, 59, 0, time.UTC)
	after := time.Date(2026, 7, 31, 17, 0, 1, 0, time.UTC)
	sess.CheckSchedule(before)
	sess.CheckSchedule(after)
	if got := sess.outgoingSeq.Load(); got != 12 {
		t.Errorf("outgoingSeq = %d, want 12 (reset-on-eod off)", got)
	}
}

// TestScheduleLogsOutOutsideWindow drives a logged-on session past its
// end-time and expects the schedule check to send a Logout and disconnect.
func TestScheduleLogsOutOutsideWindow(t *testing.T) {
	cfg := acceptorConfig("window-logout")
	cfg.StartTime = "09:00:00"
	cfg.EndTime = "17:00:00"

	h := newHarness(t, cfg, logstore.NullStore{})
	connectAndLogon(t, h)

	inside := time.Date(2026, 7, 31, 16, 59, 0, 0, time.UTC)
	h.sess.CheckSchedule(inside)
	if got := h.sess.State(); got != LOGGED_ON {
		t.Fatalf("state inside window = %s, want LOGGED_ON", got)
	}

	outside := time.Date(2026, 7, 31, 17, 1, 0, 0, time.UTC)
	h.sess.CheckSchedule(outside)

	h.expectSent(t, fixcodec.MsgTypeLogout)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && h.sess.State() != DISCONNECTED {
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.sess.State(); got != DISCONNECTED {
		t.Fatalf("state outside window = %s, want DISCONNECTED", got)
	}
}
