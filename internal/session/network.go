package session

import (
	"net"

	"github.com/fixline/engine/internal/fixconfig"
	"github.com/fixline/engine/internal/logger"
)

// defaultReadHint is the advisory buffer size returned by
// GetNumBytesToRead; the network loop is free to read less or more.
const defaultReadHint = 4096

// OnConnected implements the NetworkHandler contract's channel-opened
// event: reset reader, bind the channel, and — for an initiator — send the
// initial Logon to move the session from CONNECTING into CONNECTED or
// LOGON_SENT.
func (s *Session) OnConnected(ch net.Conn) {
	prev := s.fsm.Current()
	if !s.fsm.transition(CONNECTING, CONNECTED) {
		logger.Warn("session: OnConnected in unexpected state", "session", s.sessionID, "state", prev)
	}
	s.reader.Reset()
	s.bindChannel(ch)
	s.notifyState(prev, CONNECTED, nil)

	if s.cfg.Role == fixconfig.RoleInitiator {
		if _, err := s.sendLogon(s.cfg.ResetOnLogon); err != nil {
			logger.Error("session: initial Logon send failed", "session", s.sessionID, "error", err)
			return
		}
		if s.fsm.transition(CONNECTED, LOGON_SENT) {
			s.notifyState(CONNECTED, LOGON_SENT, nil)
		}
	}
}

// OnDataReceived feeds newly received bytes to the Reader and dispatches
// every complete message it yields. It returns the number of bytes
// consumed from data (always len(data): undecoded bytes remain buffered
// inside the Reader, not the caller's slice) and an error only when the
// session was forced to disconnect.
func (s *Session) OnDataReceived(ch net.Conn, data []byte) (int, error) {
	s.reader.Feed(data)

	for {
		msg, ok := s.inbound.TryAcquire()
		if !ok {
			// Inbound pool exhausted: backpressure. Bytes already fed stay
			// buffered in the Reader; the caller should retry once a slot
			// frees up (listeners release views promptly after dispatch).
			break
		}

		parsed, err := s.reader.TryParse(msg)
		if err != nil {
			s.inbound.Release(msg)
			logger.Error("session: codec error, disconnecting", "session", s.sessionID, "error", err)
			s.disconnectLocal(err)
			return len(data), err
		}
		if !parsed {
			s.inbound.Release(msg)
			break
		}

		s.dispatch(msg)
		s.inbound.Release(msg)

		if s.fsm.Current() == DISCONNECTED {
			break
		}
	}
	return len(data), nil
}

// OnDisconnected implements the NetworkHandler contract's channel-closed
// event.
func (s *Session) OnDisconnected(ch net.Conn, cause error) {
	old := s.fsm.forceTo(DISCONNECTED)
	if old == DISCONNECTED {
		return
	}
	if s.cfg.ResetOnDisconnect {
		s.resetSequences()
	}
	s.clearChannel()
	s.notifyState(old, DISCONNECTED, cause)
}

// OnConnectFailed implements the NetworkHandler contract's failed-connect
// event for initiators.
func (s *Session) OnConnectFailed(remote string, cause error) {
	logger.Warn("session: connect failed", "session", s.sessionID, "remote", remote, "error", cause)
	s.fsm.forceTo(DISCONNECTED)
}

// OnAcceptFailed implements the NetworkHandler contract's failed-accept
// event for acceptors; it does not change this session's state since the
// failure is not necessarily this session's channel.
func (s *Session) OnAcceptFailed(cause error) {
	logger.Warn("session: accept failed", "session", s.sessionID, "error", cause)
}

// GetNumBytesToRead advises the network layer of the desired read size.
func (s *Session) GetNumBytesToRead(ch net.Conn) int {
	return defaultReadHint
}
