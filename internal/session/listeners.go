package session

import (
	"sync"
	"sync/atomic"

	"github.com/fixline/engine/internal/fixcodec"
	"github.com/fixline/engine/internal/logger"
)

// StateListener observes FSM transitions.
type StateListener func(StateChange)

// MessageListener observes a dispatched inbound message. Implementations
// must not call back into the Session's send or state APIs from within a
// listener invoked during dispatch — re-entrancy is disallowed.
type MessageListener func(msg *fixcodec.IncomingMessage)

// listenerList is a copy-on-write slice of handlers so reads never block
// on a writer and never observe a half-updated slice. Reads are lock-free;
// writes take a short-lived mutex.
type listenerList[T any] struct {
	mu  sync.Mutex
	ptr atomic.Pointer[[]T]
}

func (l *listenerList[T]) add(item T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var cur []T
	if p := l.ptr.Load(); p != nil {
		cur = *p
	}
	next := make([]T, len(cur)+1)
	copy(next, cur)
	next[len(cur)] = item
	l.ptr.Store(&next)
}

func (l *listenerList[T]) snapshot() []T {
	p := l.ptr.Load()
	if p == nil {
		return nil
	}
	return *p
}

// fireState invokes every listener, recovering and logging a panic instead
// of letting it propagate into the FSM — a misbehaving listener must never
// be able to take down the session.
func fireState(list *listenerList[StateListener], sc StateChange) {
	for _, l := range list.snapshot() {
		safeCallState(l, sc)
	}
}

func safeCallState(l StateListener, sc StateChange) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("session: state listener panic", "session", sc.SessionID, "recover", r)
		}
	}()
	l(sc)
}

func fireMessage(list *listenerList[MessageListener], sessionID string, msg *fixcodec.IncomingMessage) {
	for _, l := range list.snapshot() {
		safeCallMessage(l, sessionID, msg)
	}
}

func safeCallMessage(l MessageListener, sessionID string, msg *fixcodec.IncomingMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("session: message listener panic", "session", sessionID, "recover", r)
		}
	}()
	l(msg)
}

// AddStateListener registers l to be invoked on every FSM transition.
func (s *Session) AddStateListener(l StateListener) { s.stateListeners.add(l) }

// AddAppMessageListener registers l to be invoked for every dispatched
// application (non-admin) message.
func (s *Session) AddAppMessageListener(l MessageListener) { s.appListeners.add(l) }

// AddRejectListener registers l to be invoked for Reject and BusinessReject
// messages.
func (s *Session) AddRejectListener(l MessageListener) { s.rejectListeners.add(l) }

// AddUniversalMessageListener registers l to be invoked for every
// successfully dispatched inbound message, admin included.
func (s *Session) AddUniversalMessageListener(l MessageListener) { s.universalListeners.add(l) }
