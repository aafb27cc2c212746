// Package registry owns the live set of FIX sessions configured for an
// engine instance and drives their network I/O: accepting inbound
// connections and routing them to the right session by CompID pair,
// dialing out for initiator sessions with reconnect/backoff, and ticking
// the keepalive check across every session.
package registry

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fixline/engine/internal/fixconfig"
	"github.com/fixline/engine/internal/logger"
	"github.com/fixline/engine/internal/logstore"
	"github.com/fixline/engine/internal/session"
)

const keepaliveTick = time.Second

// Engine owns every configured session, keyed by its composite
// SenderCompID/TargetCompID identity, and the network loops that serve
// them: a cancellable, error-propagating accept/connect/keepalive set of
// goroutines coordinated through an errgroup.
type Engine struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session

	store logstore.LogStore

	cancel context.CancelFunc
	group  *errgroup.Group

	listenersMu sync.Mutex
	listeners   []net.Listener
}

// NewEngine constructs an Engine owning one Session per cfgs entry. store
// may be logstore.NullStore{} to disable persistence.
func NewEngine(cfgs []fixconfig.SessionConfig, store logstore.LogStore) (*Engine, error) {
	if store == nil {
		store = logstore.NullStore{}
	}
	e := &Engine{
		sessions: make(map[string]*session.Session, len(cfgs)),
		store:    store,
	}
	for _, cfg := range cfgs {
		id := cfg.SessionID()
		if _, exists := e.sessions[id]; exists {
			return nil, fmt.Errorf("registry: duplicate session %q", id)
		}
		e.sessions[id] = session.NewSession(cfg, store, nil)
	}
	return e, nil
}

// Sessions returns every session the engine owns, in no particular order.
func (e *Engine) Sessions() []*session.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*session.Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

// Session looks up one session by its "<sender>-><target>" ID.
func (e *Engine) Session(id string) (*session.Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	return s, ok
}

// Start launches the accept loop for every configured listening port, a
// connect loop for every initiator session, and the keepalive ticker, then
// returns immediately; call Wait to block for their termination and Stop
// to shut them down. Start must only be called once.
func (e *Engine) Start(ctx context.Context) error {
	gctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(gctx)
	e.cancel = cancel
	e.group = g

	byPort := make(map[int][]*session.Session)
	for _, s := range e.sessions {
		cfg := s.Config()
		if cfg.Role == fixconfig.RoleAcceptor {
			byPort[cfg.Port] = append(byPort[cfg.Port], s)
		}
	}

	for port, candidates := range byPort {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			cancel()
			return fmt.Errorf("registry: listen :%d: %w", port, err)
		}
		e.listenersMu.Lock()
		e.listeners = append(e.listeners, ln)
		e.listenersMu.Unlock()

		candidates := candidates
		g.Go(func() error { return e.acceptLoop(gctx, ln, candidates) })
	}

	for _, s := range e.sessions {
		if s.Config().Role == fixconfig.RoleInitiator {
			s := s
			g.Go(func() error { return e.connectLoop(gctx, s) })
		}
	}

	g.Go(func() error { return e.keepaliveLoop(gctx) })

	return nil
}

// Wait blocks until every loop started by Start has returned, and returns
// the first non-nil, non-cancellation error among them.
func (e *Engine) Wait() error {
	if e.group == nil {
		return nil
	}
	if err := e.group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// Stop logs out every LOGGED_ON session (each sends Logout and closes its
// channel without waiting for the peer's acknowledgement), waits up to two
// seconds for every session to reach DISCONNECTED or still be CREATED, then
// tears down every listener and loop: each logged-on session moves
// LOGGED_ON -> LOGOUT_SENT -> DISCONNECTED before the process exits.
func (e *Engine) Stop(ctx context.Context) error {
	for _, s := range e.Sessions() {
		if s.State() == session.LOGGED_ON {
			if err := s.RequestLogout("engine shutting down"); err != nil {
				logger.Warn("registry: logout on shutdown failed", "session", s.SessionID(), "error", err)
			}
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		allDown := true
		for _, s := range e.Sessions() {
			if s.State() != session.DISCONNECTED && s.State() != session.CREATED {
				allDown = false
				break
			}
		}
		if allDown {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	e.listenersMu.Lock()
	for _, ln := range e.listeners {
		ln.Close()
	}
	e.listenersMu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}

	return e.Wait()
}
