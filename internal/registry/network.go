package registry

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/fixline/engine/internal/fixcodec"
	"github.com/fixline/engine/internal/logger"
	"github.com/fixline/engine/internal/session"
)

const (
	peekBufferSize    = 4096
	maxReconnectDelay = 60 * time.Second
)

// acceptLoop runs net.Listener.Accept until ctx is cancelled, handing each
// connection off to routing in its own goroutine. A closed listener (by
// Stop) is itself the cancellation signal for Accept, so Accept's error
// after ctx is done is expected and not propagated. Accept retries after
// an error are throttled through a token bucket so a persistent failure
// (fd exhaustion, a half-closed socket race) cannot spin the loop hot.
func (e *Engine) acceptLoop(ctx context.Context, ln net.Listener, candidates []*session.Session) error {
	retry := rate.NewLimiter(rate.Every(time.Second), 1)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			for _, s := range candidates {
				s.OnAcceptFailed(err)
			}
			if err := retry.Wait(ctx); err != nil {
				return nil
			}
			continue
		}
		go e.handleAccepted(conn, candidates)
	}
}

// handleAccepted routes a freshly accepted connection to the configured
// session it belongs to. With exactly one session configured on a port,
// routing is immediate. With more than one sharing a port, the first
// frame must be parsed to read the peer's CompID pair before a session
// can be chosen.
func (e *Engine) handleAccepted(conn net.Conn, candidates []*session.Session) {
	if len(candidates) == 1 {
		e.serveAcceptorConn(candidates[0], conn, nil)
		return
	}

	r := fixcodec.NewReader()
	msg := fixcodec.NewIncomingMessage(4096)
	buf := make([]byte, peekBufferSize)
	var peeked []byte
	for {
		n, err := conn.Read(buf)
		if err != nil {
			conn.Close()
			return
		}
		peeked = append(peeked, buf[:n]...)
		r.Feed(buf[:n])
		ok, err := r.TryParse(msg)
		if err != nil {
			conn.Close()
			return
		}
		if ok {
			break
		}
	}

	sender, _ := msg.GetString(fixcodec.TagSenderCompID)
	target, _ := msg.GetString(fixcodec.TagTargetCompID)

	var matched *session.Session
	for _, s := range candidates {
		cfg := s.Config()
		if cfg.TargetCompID == sender && cfg.SenderCompID == target {
			matched = s
			break
		}
	}
	if matched == nil {
		logger.Warn("registry: no session matches inbound CompID pair", "sender", sender, "target", target)
		conn.Close()
		return
	}
	e.serveAcceptorConn(matched, conn, peeked)
}

// serveAcceptorConn binds conn to sess and drives its read loop. peeked
// carries every byte already read from conn while routing (see
// handleAccepted); it is replayed through OnDataReceived so the session
// sees every byte the peer sent, in order.
func (e *Engine) serveAcceptorConn(sess *session.Session, conn net.Conn, peeked []byte) {
	if err := sess.RequestConnect(); err != nil {
		logger.Warn("registry: cannot accept connection for session", "session", sess.SessionID(), "error", err)
		conn.Close()
		return
	}
	sess.OnConnected(conn)
	if len(peeked) > 0 {
		sess.OnDataReceived(conn, peeked)
	}
	e.readLoop(conn, sess)
}

// readLoop blocks, feeding bytes from conn to sess until the connection
// closes or the session disconnects.
func (e *Engine) readLoop(conn net.Conn, sess *session.Session) {
	buf := make([]byte, sess.GetNumBytesToRead(conn))
	for {
		n, err := conn.Read(buf)
		if err != nil {
			sess.OnDisconnected(conn, err)
			return
		}
		if _, err := sess.OnDataReceived(conn, buf[:n]); err != nil {
			return
		}
		if sess.State() == session.DISCONNECTED {
			return
		}
	}
}

// connectLoop drives one initiator session's dial/serve/retry cycle: dial,
// serve until disconnected, then wait with exponential backoff (reset on a
// successful connect) before retrying, giving up once a failed dial has
// been retried MaxReconnectAttempts times (MaxReconnectAttempts+1
// consecutive failures) unless it is -1 (unlimited).
// Each dial attempt gets its own correlation ID so its log lines can be
// followed across the eventual connect-or-fail outcome.
func (e *Engine) connectLoop(ctx context.Context, sess *session.Session) error {
	cfg := sess.Config()
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	delay := cfg.ReconnectInterval()
	attempts := 0

	var dialer net.Dialer
	for {
		if ctx.Err() != nil {
			return nil
		}

		if !sess.InSchedule(time.Now()) {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(keepaliveTick):
			}
			continue
		}

		if err := sess.RequestConnect(); err != nil {
			logger.Warn("registry: connect loop could not arm session", "session", sess.SessionID(), "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}

		attemptID := uuid.NewString()
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			sess.OnConnectFailed(addr, err)
			attempts++
			logger.Warn("registry: dial attempt failed", "session", sess.SessionID(), "attempt", attemptID, "addr", addr, "error", err)
			if cfg.MaxReconnectAttempts >= 0 && attempts > cfg.MaxReconnectAttempts {
				logger.Error("registry: giving up reconnecting", "session", sess.SessionID(), "attempt", attemptID, "attempts", attempts)
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			continue
		}

		logger.Info("registry: dial attempt succeeded", "session", sess.SessionID(), "attempt", attemptID, "addr", addr)
		attempts = 0
		delay = cfg.ReconnectInterval()
		sess.OnConnected(conn)
		e.readLoop(conn, sess)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// keepaliveLoop ticks every session's CheckKeepalive and CheckSchedule
// once a second, so heartbeats, test requests, session-window logouts and
// end-of-day resets all fire on schedule without a per-session timer
// goroutine.
func (e *Engine) keepaliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(keepaliveTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			for _, s := range e.Sessions() {
				s.CheckKeepalive(now)
				s.CheckSchedule(now)
			}
		}
	}
}
