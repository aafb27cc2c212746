package session

import (
	"fmt"

	"github.com/fixline/engine/internal/fixcodec"
	"github.com/fixline/engine/internal/fixconfig"
	"github.com/fixline/engine/internal/logger"
	"github.com/fixline/engine/internal/logstore"
)

// dispatch runs the full inbound validation and routing pipeline for one
// parsed message: tag-number bound, CompID check, SendingTime accuracy,
// sequence-number guard, per-type handling, and finally sequence
// advancement. msg must not be retained past this call; the caller
// releases it back to the inbound pool immediately after.
func (s *Session) dispatch(msg *fixcodec.IncomingMessage) {
	now := s.clock()
	s.lastReceived.Store(now.UnixNano())
	s.logInbound(msg, now)

	seq := msg.MsgSeqNum()

	if s.cfg.MaxTagNumber > 0 && msg.MaxTag() > s.cfg.MaxTagNumber {
		s.sendReject(seq, fixcodec.RejectInvalidTagNumber, "invalid tag number")
		s.disconnectLocal(fmt.Errorf("session %s: tag number %d exceeds max-tag-number %d", s.sessionID, msg.MaxTag(), s.cfg.MaxTagNumber))
		return
	}

	sender, _ := msg.GetString(fixcodec.TagSenderCompID)
	target, _ := msg.GetString(fixcodec.TagTargetCompID)
	if sender != s.cfg.TargetCompID || target != s.cfg.SenderCompID {
		s.sendReject(seq, fixcodec.RejectCompIDProblem, "CompID problem")
		s.disconnectLocal(fmt.Errorf("session %s: CompID problem: sender=%q target=%q", s.sessionID, sender, target))
		return
	}

	if !s.checkSendingTime(msg) {
		s.sendReject(seq, fixcodec.RejectSendingTimeAccuracy, "SendingTime accuracy problem")
		s.disconnectLocal(fmt.Errorf("session %s: SendingTime accuracy problem", s.sessionID))
		return
	}

	msgType := msg.MsgType()
	skipGuard := msgType == fixcodec.MsgTypeLogon || msgType == fixcodec.MsgTypeSequenceReset

	if !skipGuard {
		expected := int(s.expectedSeq.Load())
		if seq > expected {
			s.sendResendRequest(expected, 0)
			return // gap: do not advance expected, do not dispatch
		}
		if seq < expected {
			possDup, _ := msg.GetBool(fixcodec.TagPossDupFlag)
			if !possDup {
				s.disconnectLocal(fmt.Errorf("session %s: sequence number too low: got %d, expected >= %d", s.sessionID, seq, expected))
				return
			}
			// PossDup='Y': process normally as a resend below.
		}
	}

	s.dispatchByType(msgType, msg)
	fireMessage(&s.universalListeners, s.sessionID, msg)
	s.advanceExpected(seq)
}

func (s *Session) dispatchByType(msgType string, msg *fixcodec.IncomingMessage) {
	switch msgType {
	case fixcodec.MsgTypeLogon:
		s.handleLogon(msg)
	case fixcodec.MsgTypeLogout:
		s.handleLogout(msg)
	case fixcodec.MsgTypeHeartbeat:
		s.handleHeartbeat(msg)
	case fixcodec.MsgTypeTestRequest:
		s.handleTestRequest(msg)
	case fixcodec.MsgTypeResendRequest:
		s.handleResendRequest(msg)
	case fixcodec.MsgTypeSequenceReset:
		s.handleSequenceReset(msg)
	case fixcodec.MsgTypeReject, fixcodec.MsgTypeBusinessReject:
		fireMessage(&s.rejectListeners, s.sessionID, msg)
	default:
		fireMessage(&s.appListeners, s.sessionID, msg)
	}
}

// advanceExpected: after successfully processing an incoming message
// with msgSeq=s, expected = max(expected, s+1), except
// immediately after a sequence reset latched during Logon, where expected
// is forced to 2 regardless of the triggering message's own sequence.
func (s *Session) advanceExpected(seq int) {
	s.adminMu.Lock()
	latch := s.seqResetDuringLogon
	if latch {
		s.seqResetDuringLogon = false
	}
	s.adminMu.Unlock()

	if latch {
		s.expectedSeq.Store(2)
		return
	}
	for {
		cur := s.expectedSeq.Load()
		if int64(seq) < cur {
			return
		}
		if s.expectedSeq.CompareAndSwap(cur, int64(seq)+1) {
			return
		}
	}
}

func (s *Session) handleLogon(msg *fixcodec.IncomingMessage) {
	resetFlag, _ := msg.GetBool(fixcodec.TagResetSeqNumFlag)
	doReset := resetFlag || s.cfg.ResetOnLogon
	if doReset {
		if s.cfg.Role == fixconfig.RoleInitiator {
			s.outgoingSeq.Store(1) // next send (after the Logon already sent) is 2
		} else {
			s.outgoingSeq.Store(0) // next send (our Logon response) is 1
		}
		s.expectedSeq.Store(1)
		s.adminMu.Lock()
		s.seqResetDuringLogon = true
		s.adminMu.Unlock()
	}

	switch s.fsm.Current() {
	case CONNECTED:
		if _, err := s.sendLogon(doReset); err != nil {
			logger.Error("session: Logon response send failed", "session", s.sessionID, "error", err)
		}
		if s.fsm.transition(CONNECTED, LOGGED_ON) {
			s.notifyState(CONNECTED, LOGGED_ON, nil)
		}
	case LOGON_SENT:
		if s.fsm.transition(LOGON_SENT, LOGGED_ON) {
			s.notifyState(LOGON_SENT, LOGGED_ON, nil)
		}
	default:
		logger.Warn("session: Logon received in unexpected state", "session", s.sessionID, "state", s.fsm.Current())
	}
	s.clearPendingTestRequest()
}

func (s *Session) handleLogout(msg *fixcodec.IncomingMessage) {
	if s.fsm.Current() != LOGGED_ON {
		s.disconnectLocal(fmt.Errorf("session %s: Logout received outside LOGGED_ON", s.sessionID))
		return
	}
	if _, err := s.sendLogout(""); err != nil {
		logger.Error("session: Logout ack send failed", "session", s.sessionID, "error", err)
	}
	if s.cfg.ResetOnLogout {
		s.resetSequences()
	}
	s.disconnectLocal(nil)
}

func (s *Session) handleHeartbeat(msg *fixcodec.IncomingMessage) {
	id, ok := msg.GetString(fixcodec.TagTestReqID)
	if !ok {
		return
	}
	s.adminMu.Lock()
	if s.pendingTestReq && id == s.pendingTestReqID {
		s.pendingTestReq = false
	}
	s.adminMu.Unlock()
}

func (s *Session) handleTestRequest(msg *fixcodec.IncomingMessage) {
	id, _ := msg.GetString(fixcodec.TagTestReqID)
	if _, err := s.sendHeartbeat(id); err != nil {
		logger.Error("session: TestRequest Heartbeat reply failed", "session", s.sessionID, "error", err)
	}
}

// handleResendRequest replays the requested range: application messages
// are resent verbatim, contiguous runs of admin messages are bridged with
// a SequenceReset/GapFill. A GapFill bypasses the sequence guard entirely
// (skipGuard above), so it is safe to close a gap immediately before
// resending the next application message rather than deferring every gap
// to a single terminal message — the peer's handleSequenceReset accepts
// any GapFill whose NewSeqNo is not behind its current expected value,
// regardless of wire-order relative to the interleaved resent messages.
func (s *Session) handleResendRequest(msg *fixcodec.IncomingMessage) {
	begin, _ := msg.GetInt(fixcodec.TagBeginSeqNo)
	end, _ := msg.GetInt(fixcodec.TagEndSeqNo)
	if end == 0 {
		end = int(s.outgoingSeq.Load()) // 0 means "through the latest sequence we've actually sent"
	}

	prev := s.fsm.Current()
	if s.fsm.transition(LOGGED_ON, RESENDING) {
		s.notifyState(prev, RESENDING, nil)
	}

	gapStart := 0
	closeGap := func(through int) {
		if gapStart == 0 {
			return
		}
		if _, err := s.sendSequenceResetGapFill(gapStart, through); err != nil {
			logger.Error("session: GapFill send failed", "session", s.sessionID, "error", err)
		}
		gapStart = 0
	}

	found := false
	err := s.store.Replay(s.sessionID, func(entry logstore.LogEntry) bool {
		if entry.Direction != logstore.Outbound || entry.SeqNum < begin || entry.SeqNum > end {
			return true
		}
		found = true
		if isAdminMsgType(entry.MsgType) {
			if gapStart == 0 {
				gapStart = entry.SeqNum
			}
		} else {
			closeGap(entry.SeqNum)
			s.replayRaw(entry)
		}
		return entry.SeqNum < end
	})
	if err != nil {
		logger.Error("session: resend replay failed", "session", s.sessionID, "error", err)
	}
	closeGap(end + 1)
	if !found {
		// Nothing logged for the range (null store, or message logging
		// disabled): answer with a single GapFill covering all of it.
		gapStart = begin
		closeGap(end + 1)
	}

	if s.fsm.transition(RESENDING, LOGGED_ON) {
		s.notifyState(RESENDING, LOGGED_ON, nil)
	}
}

func (s *Session) replayRaw(entry logstore.LogEntry) {
	s.outboundMu.Lock()
	defer s.outboundMu.Unlock()
	if err := s.writeChannel(entry.Raw); err != nil {
		logger.Error("session: resend of raw message failed", "session", s.sessionID, "seq", entry.SeqNum, "error", err)
		return
	}
	s.lastSent.Store(s.clock().UnixNano())
}

func (s *Session) handleSequenceReset(msg *fixcodec.IncomingMessage) {
	newSeqNo, ok := msg.GetInt(fixcodec.TagNewSeqNo)
	if !ok {
		return
	}
	gapFill, _ := msg.GetBool(fixcodec.TagGapFillFlag)
	if !gapFill {
		s.expectedSeq.Store(int64(newSeqNo))
		return
	}
	cur := s.expectedSeq.Load()
	if int64(newSeqNo) >= cur {
		s.expectedSeq.Store(int64(newSeqNo))
	} else {
		logger.Warn("session: GapFill NewSeqNo behind expected, ignoring", "session", s.sessionID, "newSeqNo", newSeqNo, "expected", cur)
	}
}
