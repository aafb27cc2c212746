package session

import (
	"net"
	"testing"
	"time"

	"github.com/fixline/engine/internal/fixcodec"
	"github.com/fixline/engine/internal/fixconfig"
	"github.com/fixline/engine/internal/logstore"
)

// harness drives a Session over a real net.Pipe, with one goroutine
// delivering peer->session bytes via OnDataReceived and another capturing
// session->peer frames for assertions. This exercises the Session the way
// the registry's network loop would, without depending on the registry
// package.
type harness struct {
	t       *testing.T
	sess    *Session
	server  net.Conn
	client  net.Conn
	sentCh  chan *fixcodec.IncomingMessage
	doneCh  chan struct{}
}

func newHarness(t *testing.T, cfg fixconfig.SessionConfig, store logstore.LogStore) *harness {
	t.Helper()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	sess := NewSession(cfg, store, time.Now)
	server, client := net.Pipe()

	h := &harness{
		t:      t,
		sess:   sess,
		server: server,
		client: client,
		sentCh: make(chan *fixcodec.IncomingMessage, 64),
		doneCh: make(chan struct{}),
	}

	go h.captureLoop()
	go h.inboundLoop()

	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	return h
}

// inboundLoop reads bytes arriving on the server side (written by the test
// as "the peer") and feeds them to the session, mimicking the registry's
// network read loop.
func (h *harness) inboundLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := h.server.Read(buf)
		if err != nil {
			return
		}
		h.sess.OnDataReceived(h.server, append([]byte(nil), buf[:n]...))
	}
}

// captureLoop reads whatever the session writes to its bound channel (the
// server side) from the client side, and decodes complete frames onto sentCh.
func (h *harness) captureLoop() {
	r := fixcodec.NewReader()
	buf := make([]byte, 4096)
	for {
		n, err := h.client.Read(buf)
		if err != nil {
			close(h.doneCh)
			return
		}
		r.Feed(buf[:n])
		for {
			msg := fixcodec.NewIncomingMessage(4096)
			ok, err := r.TryParse(msg)
			if err != nil || !ok {
				break
			}
			h.sentCh <- msg
		}
	}
}

func (h *harness) expectSent(t *testing.T, msgType string) *fixcodec.IncomingMessage {
	t.Helper()
	select {
	case m := <-h.sentCh:
		if m.MsgType() != msgType {
			t.Fatalf("expected MsgType %q, got %q", msgType, m.MsgType())
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for MsgType %q", msgType)
		return nil
	}
}

func (h *harness) sendRaw(frame []byte) {
	h.client.Write(frame)
}

func buildFrame(t *testing.T, beginString, msgType, sender, target string, seq int, fields func(w *fixcodec.Writer)) []byte {
	t.Helper()
	var w fixcodec.Writer
	w.Begin(beginString, msgType)
	w.Add(fixcodec.TagSenderCompID, sender)
	w.Add(fixcodec.TagTargetCompID, target)
	w.AddInt(fixcodec.TagMsgSeqNum, seq)
	w.AddTime(fixcodec.TagSendingTime, time.Now())
	if fields != nil {
		fields(&w)
	}
	return w.Finish()
}
