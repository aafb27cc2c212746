package session

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fixline/engine/internal/fixcodec"
	"github.com/fixline/engine/internal/fixconfig"
	"github.com/fixline/engine/internal/fixpool"
	"github.com/fixline/engine/internal/logger"
	"github.com/fixline/engine/internal/logstore"
)

// ErrBackpressure is returned by ClaimApp when the outbound pool is full.
// It is a normal, non-error signal — callers should retry after a brief
// pause.
var ErrBackpressure = errors.New("session: outbound pool exhausted")

const maxClockSkew = 2 * time.Minute

// Session is one FIX administrative session: the FSM, sequence counters,
// and I/O pools that carry a single logical connection between two
// CompIDs. An inbound path is single-threaded per Session (driven by the
// owning registry's network loop); outbound sends may originate from any
// goroutine and are serialized by outboundMu.
type Session struct {
	cfg       fixconfig.SessionConfig
	sessionID string

	fsm *fsm

	outgoingSeq atomic.Int64 // last sequence number used (next = Add(1))
	expectedSeq atomic.Int64 // next inbound sequence number expected

	lastSent     atomic.Int64 // unix nano
	lastReceived atomic.Int64 // unix nano

	adminMu             sync.Mutex
	pendingTestReq      bool
	pendingTestReqID    string
	testReqGeneration   int64
	seqResetDuringLogon bool

	chMu    sync.Mutex
	channel net.Conn

	reader  *fixcodec.Reader
	inbound *fixpool.InboundPool

	outboundMu sync.Mutex
	outbound   *fixpool.OutboundPool

	store logstore.LogStore
	clock func() time.Time
	sched *schedule

	stateListeners     listenerList[StateListener]
	appListeners       listenerList[MessageListener]
	rejectListeners    listenerList[MessageListener]
	universalListeners listenerList[MessageListener]
}

// NewSession constructs a Session for cfg. store may be logstore.NullStore{}
// to disable persistence. clock may be nil, defaulting to time.Now.
func NewSession(cfg fixconfig.SessionConfig, store logstore.LogStore, clock func() time.Time) *Session {
	if clock == nil {
		clock = time.Now
	}
	if store == nil {
		store = logstore.NullStore{}
	}
	s := &Session{
		cfg:       cfg,
		sessionID: cfg.SessionID(),
		fsm:       newFSM(),
		reader:    fixcodec.NewReader(),
		store:     store,
		clock:     clock,
		sched:     newSchedule(cfg),
	}
	s.inbound = fixpool.NewInboundPool(cfg.MessagePoolSize, cfg.MaxMessageLength)
	s.outbound = fixpool.NewOutboundPool(cfg.MessagePoolSize, &s.outgoingSeq, cfg.BeginString, cfg.SenderCompID, cfg.TargetCompID)
	return s
}

// SessionID returns the "<sender>-><target>" routing key.
func (s *Session) SessionID() string { return s.sessionID }

// Config returns the session's immutable configuration.
func (s *Session) Config() fixconfig.SessionConfig { return s.cfg }

// State returns the current FSM state.
func (s *Session) State() State { return s.fsm.Current() }

// RequestConnect transitions CREATED/DISCONNECTED -> CONNECTING. The
// caller (registry) is then responsible for dispatching the actual network
// connect and calling OnConnected/OnConnectFailed on the result.
func (s *Session) RequestConnect() error {
	cur := s.fsm.Current()
	if cur != CREATED && cur != DISCONNECTED {
		return fmt.Errorf("session %s: cannot connect from state %s", s.sessionID, cur)
	}
	if !s.fsm.transition(cur, CONNECTING) {
		return fmt.Errorf("session %s: state changed concurrently, retry connect", s.sessionID)
	}
	s.notifyState(cur, CONNECTING, nil)
	return nil
}

// RequestLogout initiates a graceful local logout: send Logout, then
// disconnect the transport once it's on the wire.
func (s *Session) RequestLogout(text string) error {
	if !s.fsm.transition(LOGGED_ON, LOGOUT_SENT) {
		return fmt.Errorf("session %s: cannot logout from state %s", s.sessionID, s.fsm.Current())
	}
	s.notifyState(LOGGED_ON, LOGOUT_SENT, nil)
	if _, err := s.sendLogout(text); err != nil {
		logger.Error("session: logout send failed", "session", s.sessionID, "error", err)
	}
	s.disconnectLocal(nil)
	return nil
}

// ClaimApp reserves an outbound application-message slot. The outbound
// mutex is held from Claim until the matching Commit or Abort call —
// callers must always follow a successful ClaimApp with exactly one
// CommitApp or AbortApp call.
func (s *Session) ClaimApp(msgType string) (*fixpool.Claim, error) {
	if !s.fsm.canSendAppMessage() {
		return nil, fmt.Errorf("session %s: cannot send application message in state %s", s.sessionID, s.fsm.Current())
	}
	s.outboundMu.Lock()
	claim, ok := s.outbound.TryClaim(msgType)
	if !ok {
		s.outboundMu.Unlock()
		return nil, ErrBackpressure
	}
	return claim, nil
}

// CommitApp finalizes a claim obtained from ClaimApp: assigns SendingTime,
// serializes, writes to the channel, logs the outbound entry, and releases
// the outbound mutex.
func (s *Session) CommitApp(claim *fixpool.Claim) (int64, error) {
	defer s.outboundMu.Unlock()
	now := s.clock()
	frame := s.outbound.Commit(claim, now)
	if frame == nil {
		return claim.Seq, fmt.Errorf("session %s: claim already finalized", s.sessionID)
	}
	if err := s.writeChannel(frame); err != nil {
		logger.Error("session: application message write failed", "session", s.sessionID, "error", err)
		return claim.Seq, err
	}
	s.lastSent.Store(now.UnixNano())
	s.logOutbound(int(claim.Seq), claim.MsgType, frame)
	return claim.Seq, nil
}

// AbortApp discards a claim obtained from ClaimApp, rolling back its
// sequence reservation, and releases the outbound mutex.
func (s *Session) AbortApp(claim *fixpool.Claim) {
	defer s.outboundMu.Unlock()
	s.outbound.Abort(claim)
}

func (s *Session) beginAdminWriter(msgType string, seq int, sendingTime time.Time) *fixcodec.Writer {
	w := &fixcodec.Writer{}
	w.Begin(s.cfg.BeginString, msgType)
	w.Add(fixcodec.TagSenderCompID, s.cfg.SenderCompID)
	w.Add(fixcodec.TagTargetCompID, s.cfg.TargetCompID)
	w.AddInt(fixcodec.TagMsgSeqNum, seq)
	w.AddTime(fixcodec.TagSendingTime, sendingTime)
	return w
}

// sendAdmin assigns the next outgoing sequence number, builds and writes an
// admin message under the outbound mutex, and logs it.
func (s *Session) sendAdmin(msgType string, body func(w *fixcodec.Writer)) (int, error) {
	s.outboundMu.Lock()
	defer s.outboundMu.Unlock()
	seq := int(s.outgoingSeq.Add(1))
	return s.finishAdminLocked(msgType, seq, body)
}

func (s *Session) finishAdminLocked(msgType string, seq int, body func(w *fixcodec.Writer)) (int, error) {
	now := s.clock()
	w := s.beginAdminWriter(msgType, seq, now)
	if body != nil {
		body(w)
	}
	frame := w.Finish()
	if err := s.writeChannel(frame); err != nil {
		logger.Error("session: admin message write failed", "session", s.sessionID, "msgType", msgType, "error", err)
		return seq, err
	}
	s.lastSent.Store(now.UnixNano())
	s.logOutbound(seq, msgType, frame)
	return seq, nil
}

// defaultApplVerID is the FIX50SP2 ApplVerID enum value, sent in tag 1137
// on a FIXT.1.1 Logon to declare the application-layer message version.
const defaultApplVerID = "9"

func (s *Session) sendLogon(resetSeqNum bool) (int, error) {
	return s.sendAdmin(fixcodec.MsgTypeLogon, func(w *fixcodec.Writer) {
		w.AddInt(fixcodec.TagEncryptMethod, 0)
		w.AddInt(fixcodec.TagHeartBtInt, s.cfg.HeartbeatInterval)
		if resetSeqNum {
			w.AddBool(fixcodec.TagResetSeqNumFlag, true)
		}
		if s.cfg.BeginString == "FIXT.1.1" {
			w.Add(fixcodec.TagDefaultApplVerID, defaultApplVerID)
		}
	})
}

func (s *Session) sendLogout(text string) (int, error) {
	return s.sendAdmin(fixcodec.MsgTypeLogout, func(w *fixcodec.Writer) {
		if text != "" {
			w.Add(fixcodec.TagText, text)
		}
	})
}

func (s *Session) sendHeartbeat(testReqID string) (int, error) {
	return s.sendAdmin(fixcodec.MsgTypeHeartbeat, func(w *fixcodec.Writer) {
		if testReqID != "" {
			w.Add(fixcodec.TagTestReqID, testReqID)
		}
	})
}

func (s *Session) sendTestRequest(testReqID string) (int, error) {
	return s.sendAdmin(fixcodec.MsgTypeTestRequest, func(w *fixcodec.Writer) {
		w.Add(fixcodec.TagTestReqID, testReqID)
	})
}

func (s *Session) sendResendRequest(begin, end int) (int, error) {
	return s.sendAdmin(fixcodec.MsgTypeResendRequest, func(w *fixcodec.Writer) {
		w.AddInt(fixcodec.TagBeginSeqNo, begin)
		w.AddInt(fixcodec.TagEndSeqNo, end)
	})
}

func (s *Session) sendReject(refSeqNum int, reason fixcodec.SessionRejectReason, text string) (int, error) {
	return s.sendAdmin(fixcodec.MsgTypeReject, func(w *fixcodec.Writer) {
		w.AddInt(fixcodec.TagRefSeqNum, refSeqNum)
		w.AddInt(fixcodec.TagSessionRejectReason, int(reason))
		if text != "" {
			w.Add(fixcodec.TagText, text)
		}
	})
}

// sendSequenceResetGapFill emits a SequenceReset/GapFill carrying the
// supplied sequence (the first number of the filled gap) rather than
// incrementing the outgoing counter.
func (s *Session) sendSequenceResetGapFill(beginSeq, newSeqNo int) (int, error) {
	s.outboundMu.Lock()
	defer s.outboundMu.Unlock()
	return s.finishAdminLocked(fixcodec.MsgTypeSequenceReset, beginSeq, func(w *fixcodec.Writer) {
		w.AddInt(fixcodec.TagNewSeqNo, newSeqNo)
		w.AddBool(fixcodec.TagPossDupFlag, true)
		w.AddBool(fixcodec.TagGapFillFlag, true)
	})
}

func (s *Session) resetSequences() {
	s.outgoingSeq.Store(0)
	s.expectedSeq.Store(1)
}

func (s *Session) clearPendingTestRequest() {
	s.adminMu.Lock()
	s.pendingTestReq = false
	s.pendingTestReqID = ""
	s.adminMu.Unlock()
}

func (s *Session) checkSendingTime(msg *fixcodec.IncomingMessage) bool {
	ts, ok := msg.GetString(fixcodec.TagSendingTime)
	if !ok {
		return true
	}
	t, err := time.ParseInLocation(fixcodec.TimeLayout, ts, time.UTC)
	if err != nil {
		return true
	}
	diff := s.clock().UTC().Sub(t)
	if diff < 0 {
		diff = -diff
	}
	return diff <= maxClockSkew
}

func (s *Session) notifyState(old, new State, cause error) {
	fireState(&s.stateListeners, StateChange{
		SessionID: s.sessionID,
		Old:       old,
		New:       new,
		Timestamp: s.clock(),
		Cause:     cause,
	})
}

func (s *Session) logInbound(msg *fixcodec.IncomingMessage, now time.Time) {
	if !s.cfg.LogMessages {
		return
	}
	entry := logstore.LogEntry{
		Timestamp: now,
		SeqNum:    msg.MsgSeqNum(),
		Direction: logstore.Inbound,
		SessionID: s.sessionID,
		MsgType:   msg.MsgType(),
		Raw:       append([]byte(nil), msg.Raw()...),
	}
	if err := s.store.Write(entry); err != nil {
		logger.Error("session: log write failed", "session", s.sessionID, "error", err)
	}
}

func (s *Session) logOutbound(seq int, msgType string, frame []byte) {
	if !s.cfg.LogMessages {
		return
	}
	entry := logstore.LogEntry{
		Timestamp: s.clock(),
		SeqNum:    seq,
		Direction: logstore.Outbound,
		SessionID: s.sessionID,
		MsgType:   msgType,
		Raw:       append([]byte(nil), frame...),
	}
	if err := s.store.Write(entry); err != nil {
		logger.Error("session: log write failed", "session", s.sessionID, "error", err)
	}
}

func (s *Session) bindChannel(ch net.Conn) {
	s.chMu.Lock()
	s.channel = ch
	s.chMu.Unlock()
}

func (s *Session) clearChannel() net.Conn {
	s.chMu.Lock()
	ch := s.channel
	s.channel = nil
	s.chMu.Unlock()
	return ch
}

func (s *Session) writeChannel(frame []byte) error {
	s.chMu.Lock()
	ch := s.channel
	s.chMu.Unlock()
	if ch == nil {
		return fmt.Errorf("session %s: no bound channel", s.sessionID)
	}
	_, err := ch.Write(frame)
	return err
}

// disconnectLocal forces the FSM to DISCONNECTED from any prior state,
// closes the bound channel if any, and notifies state listeners. It is
// idempotent.
func (s *Session) disconnectLocal(cause error) {
	old := s.fsm.forceTo(DISCONNECTED)
	if old == DISCONNECTED {
		return
	}
	if ch := s.clearChannel(); ch != nil {
		ch.Close()
	}
	s.notifyState(old, DISCONNECTED, cause)
}

func isAdminMsgType(msgType string) bool {
	switch msgType {
	case fixcodec.MsgTypeLogon, fixcodec.MsgTypeLogout, fixcodec.MsgTypeHeartbeat,
		fixcodec.MsgTypeTestRequest, fixcodec.MsgTypeResendRequest, fixcodec.MsgTypeReject,
		fixcodec.MsgTypeSequenceReset, fixcodec.MsgTypeBusinessReject:
		return true
	default:
		return false
	}
}
