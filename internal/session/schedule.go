package session

import (
	"sync/atomic"
	"time"

	"github.com/fixline/engine/internal/fixconfig"
)

// schedule is the session's trading-day clock, resolved once from config:
// an optional active window [start, end) and an optional end-of-day mark,
// all as seconds after midnight in loc. A field of -1 means the
// corresponding key was not configured.
type schedule struct {
	loc   *time.Location
	start int
	end   int
	eod   int

	lastTick atomic.Int64 // unix nano of the previous CheckSchedule call
}

func newSchedule(cfg fixconfig.SessionConfig) *schedule {
	sched := &schedule{start: -1, end: -1, eod: -1}
	loc, err := cfg.Location()
	if err != nil {
		loc = time.UTC
	}
	sched.loc = loc
	if cfg.StartTime != "" && cfg.EndTime != "" {
		if s, err := fixconfig.ClockSeconds(cfg.StartTime); err == nil {
			sched.start = s
		}
		if e, err := fixconfig.ClockSeconds(cfg.EndTime); err == nil {
			sched.end = e
		}
	}
	if cfg.EODTime != "" {
		if e, err := fixconfig.ClockSeconds(cfg.EODTime); err == nil {
			sched.eod = e
		}
	}
	return sched
}

func secondsOfDay(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// inWindow reports whether t falls inside [start, end), treating
// start > end as an overnight window wrapping midnight.
func (sc *schedule) inWindow(t time.Time) bool {
	if sc.start < 0 || sc.end < 0 {
		return true
	}
	s := secondsOfDay(t.In(sc.loc))
	if sc.start <= sc.end {
		return s >= sc.start && s < sc.end
	}
	return s >= sc.start || s < sc.end
}

// crossedEOD reports whether the end-of-day mark lies in (prev, now].
func (sc *schedule) crossedEOD(prev, now time.Time) bool {
	if sc.eod < 0 {
		return false
	}
	nowL := now.In(sc.loc)
	event := time.Date(nowL.Year(), nowL.Month(), nowL.Day(), 0, 0, 0, 0, sc.loc).
		Add(time.Duration(sc.eod) * time.Second)
	if nowL.Before(event) {
		event = event.AddDate(0, 0, -1)
	}
	return prev.Before(event) && !now.Before(event)
}

// InSchedule reports whether now falls inside the session's configured
// start/end window. Sessions without a window are always in schedule; the
// registry's connect loop uses this to hold off dialing until the window
// opens.
func (s *Session) InSchedule(now time.Time) bool {
	return s.sched.inWindow(now)
}

// CheckSchedule enforces the trading-day schedule: on crossing the
// configured end-of-day mark it logs the session out (when logged on) and,
// with reset-on-eod set, resets both sequence counters; outside the
// start/end window a logged-on session is logged out. Invoked by the
// owning engine's tick loop alongside CheckKeepalive. The first call only
// records the tick so a restart mid-day never replays an old crossing.
func (s *Session) CheckSchedule(now time.Time) {
	prevNano := s.sched.lastTick.Swap(now.UnixNano())
	if prevNano == 0 {
		return
	}
	prev := time.Unix(0, prevNano)

	if s.sched.crossedEOD(prev, now) {
		if s.fsm.isLoggedOn() {
			s.RequestLogout("end of day")
		}
		if s.cfg.ResetOnEOD {
			s.resetSequences()
		}
		return
	}

	if !s.sched.inWindow(now) && s.fsm.isLoggedOn() {
		s.RequestLogout("outside session schedule")
	}
}
