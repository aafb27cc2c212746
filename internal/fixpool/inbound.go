// Package fixpool implements the per-session inbound and outbound message
// pools: a bounded set of reusable parse buffers on the receive side, and a
// ring-buffer-backed claim/commit/abort pool on the send side.
package fixpool

import (
	"context"
	"errors"
	"sync"

	"github.com/fixline/engine/internal/fixcodec"
)

// ErrClosed is returned by blocking acquires once the pool has been closed.
var ErrClosed = errors.New("fixpool: pool closed")

// InboundPool is a bounded set of pre-allocated IncomingMessage views.
// TryAcquire is non-blocking; Acquire blocks (cancellably) when empty.
// Release returns the view, resetting its tag index for reuse by the next
// parse.
type InboundPool struct {
	slots  chan *fixcodec.IncomingMessage
	closed chan struct{}
	once   sync.Once

	mu    sync.Mutex
	owned map[*fixcodec.IncomingMessage]bool // true while checked out
}

// NewInboundPool allocates size pre-built message views, each with the
// given per-message byte capacity.
func NewInboundPool(size, msgCap int) *InboundPool {
	p := &InboundPool{
		slots:  make(chan *fixcodec.IncomingMessage, size),
		closed: make(chan struct{}),
		owned:  make(map[*fixcodec.IncomingMessage]bool, size),
	}
	for i := 0; i < size; i++ {
		p.slots <- fixcodec.NewIncomingMessage(msgCap)
	}
	return p
}

// TryAcquire returns a message view immediately, or (nil, false) if the
// pool is currently exhausted — a backpressure signal, not an error.
func (p *InboundPool) TryAcquire() (*fixcodec.IncomingMessage, bool) {
	select {
	case m := <-p.slots:
		p.markOwned(m)
		return m, true
	default:
		return nil, false
	}
}

// Acquire blocks until a view is available or ctx is cancelled.
func (p *InboundPool) Acquire(ctx context.Context) (*fixcodec.IncomingMessage, error) {
	select {
	case m := <-p.slots:
		p.markOwned(m)
		return m, nil
	case <-p.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *InboundPool) markOwned(m *fixcodec.IncomingMessage) {
	p.mu.Lock()
	p.owned[m] = true
	p.mu.Unlock()
}

// Release returns msg to the pool, resetting its tag index. Calling
// Release twice on the same message is a no-op on the second call — the
// owned-tracking map ensures a slot already returned cannot be admitted
// again, so a double release never corrupts another claimant's state.
func (p *InboundPool) Release(msg *fixcodec.IncomingMessage) {
	p.mu.Lock()
	if !p.owned[msg] {
		p.mu.Unlock()
		return
	}
	p.owned[msg] = false
	p.mu.Unlock()

	msg.Reset()
	select {
	case p.slots <- msg:
	default:
		// Pool already at capacity; drop (should not happen if callers
		// only release what they acquired from this pool).
	}
}

// Close releases blocked Acquire callers with ErrClosed.
func (p *InboundPool) Close() {
	p.once.Do(func() { close(p.closed) })
}
