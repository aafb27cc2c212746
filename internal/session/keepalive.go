package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fixline/engine/internal/logger"
)

// CheckKeepalive sends a Heartbeat when the heartbeat interval has
// elapsed since the last outbound send, and sends a TestRequest (escalating
// to a forced disconnect if unanswered) when the peer has gone quiet past
// 1.5 times the interval. It is intended to be invoked by the owning engine's tick
// loop at ≤1s granularity for every session; it is a no-op when the
// session is not LOGGED_ON or heartbeats are disabled (HeartbeatInterval
// == 0).
func (s *Session) CheckKeepalive(now time.Time) {
	if s.cfg.HeartbeatInterval <= 0 || !s.fsm.isLoggedOn() {
		return
	}
	hb := time.Duration(s.cfg.HeartbeatInterval) * time.Second

	if lastSent := time.Unix(0, s.lastSent.Load()); now.Sub(lastSent) > hb {
		if _, err := s.sendHeartbeat(""); err != nil {
			logger.Error("session: keepalive Heartbeat send failed", "session", s.sessionID, "error", err)
		}
	}

	lastRecv := time.Unix(0, s.lastReceived.Load())
	if now.Sub(lastRecv) <= hb+hb/2 {
		return
	}

	s.adminMu.Lock()
	if s.pendingTestReq {
		s.adminMu.Unlock()
		s.disconnectLocal(fmt.Errorf("session %s: TestRequest timeout", s.sessionID))
		return
	}
	s.testReqGeneration++
	id := strconv.FormatInt(s.testReqGeneration, 10)
	s.pendingTestReq = true
	s.pendingTestReqID = id
	s.adminMu.Unlock()

	if _, err := s.sendTestRequest(id); err != nil {
		logger.Error("session: keepalive TestRequest send failed", "session", s.sessionID, "error", err)
	}
}
