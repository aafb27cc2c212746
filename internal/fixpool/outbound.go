package fixpool

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fixline/engine/internal/fixcodec"
)

// pendingField is one body field a caller added to a Claim before Commit.
// Fields are replayed in Commit in the order they were added, after the
// standard header (35, 49, 56, 34, 52).
type pendingField struct {
	tag   int
	value string
}

// Claim is an in-flight outbound message reserved from an OutboundPool via
// TryClaim. The caller fills body fields with Add*, then either Commit or
// Abort it. A Claim must not be reused after Commit or Abort.
type Claim struct {
	MsgType string
	Seq     int64 // the sequence number this claim reserved

	pending []pendingField
	done    bool
}

// Add appends a string body field.
func (c *Claim) Add(tag int, value string) { c.pending = append(c.pending, pendingField{tag, value}) }

// AddInt appends an integer body field.
func (c *Claim) AddInt(tag int, value int) {
	c.Add(tag, strconv.Itoa(value))
}

// AddChar appends a single-character body field.
func (c *Claim) AddChar(tag int, value byte) { c.Add(tag, string(value)) }

// OutboundPool is the bounded, ring-buffer-backed send-side pool. TryClaim
// returns a Claim or (nil, false) on backpressure; a successful TryClaim
// advances the pool's sequence counter and reserves that number. Commit
// finalizes and returns the wire bytes stamped with the reserved number.
// Abort releases the claim and rolls back the sequence reservation so the
// next claim uses the sequence number the aborted claim would have used —
// this rollback is exact when Abort is called before any later TryClaim
// reserves a higher sequence number (the common "claim, validate, discard"
// pattern); if a later claim has already advanced the counter further, the
// rollback CAS is simply skipped and no gap analysis is attempted.
type OutboundPool struct {
	beginString, sender, target string

	seq   *atomic.Int64 // shared with the owning Session's outgoing sequence counter
	slots chan struct{} // capacity-only semaphore; backpressure signal
}

// NewOutboundPool returns a pool of the given capacity, sharing seq with
// the Session that owns the outgoing sequence counter.
func NewOutboundPool(size int, seq *atomic.Int64, beginString, sender, target string) *OutboundPool {
	p := &OutboundPool{
		beginString: beginString,
		sender:      sender,
		target:      target,
		seq:         seq,
		slots:       make(chan struct{}, size),
	}
	for i := 0; i < size; i++ {
		p.slots <- struct{}{}
	}
	return p
}

// TryClaim reserves a slot and the next outgoing sequence number for a
// message of type msgType. It returns (nil, false) when the pool is full
// ("backpressure" — a normal, non-error signal, not a fault).
func (p *OutboundPool) TryClaim(msgType string) (*Claim, bool) {
	select {
	case <-p.slots:
	default:
		return nil, false
	}
	seq := p.seq.Add(1)
	return &Claim{MsgType: msgType, Seq: seq}, true
}

// Commit finalizes claim into wire bytes stamped with sendingTime and
// releases the pool slot. The caller (Session) is responsible for
// serializing Commit calls so wire order matches sequence-number order.
func (p *OutboundPool) Commit(claim *Claim, sendingTime time.Time) []byte {
	if claim.done {
		return nil
	}
	claim.done = true

	var w fixcodec.Writer
	w.Begin(p.beginString, claim.MsgType)
	w.Add(fixcodec.TagSenderCompID, p.sender)
	w.Add(fixcodec.TagTargetCompID, p.target)
	w.AddInt(fixcodec.TagMsgSeqNum, int(claim.Seq))
	w.AddTime(fixcodec.TagSendingTime, sendingTime)
	for _, f := range claim.pending {
		w.Add(f.tag, f.value)
	}
	frame := w.Finish()

	p.release()
	return frame
}

// Abort releases claim's pool slot and rolls back its sequence reservation
// (see the OutboundPool doc comment for the exact guarantee).
func (p *OutboundPool) Abort(claim *Claim) {
	if claim.done {
		return
	}
	claim.done = true
	p.seq.CompareAndSwap(claim.Seq, claim.Seq-1)
	p.release()
}

func (p *OutboundPool) release() {
	select {
	case p.slots <- struct{}{}:
	default:
	}
}
