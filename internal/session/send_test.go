package session

import (
	"testing"
	"time"

	"github.com/fixline/engine/internal/fixcodec"
	"github.com/fixline/engine/internal/logstore"
)

func TestClaimAppRefusedWhenNotLoggedOn(t *testing.T) {
	h := newHarness(t, acceptorConfig("claim-not-logged-on"), logstore.NullStore{})
	if _, err := h.sess.ClaimApp("D"); err == nil {
		t.Fatalf("expected error claiming before LOGGED_ON")
	}
}

// TestAbortAppRollsBackSequence confirms that aborting a claimed
// application message rolls back its reserved sequence number, so the
// next committed message reuses it instead of leaving a gap.
func TestAbortAppRollsBackSequence(t *testing.T) {
	h := newHarness(t, acceptorConfig("abort-rollback"), logstore.NullStore{})
	connectAndLogon(t, h)

	claim, err := h.sess.ClaimApp("D")
	if err != nil {
		t.Fatalf("ClaimApp: %v", err)
	}
	aborted := claim.Seq
	h.sess.AbortApp(claim)

	claim2, err := h.sess.ClaimApp("D")
	if err != nil {
		t.Fatalf("ClaimApp after abort: %v", err)
	}
	if claim2.Seq != aborted {
		t.Fatalf("claim after abort reused seq=%d, want rolled-back seq=%d", claim2.Seq, aborted)
	}
	claim2.Add(fixcodec.TagText, "hello")
	seq, err := h.sess.CommitApp(claim2)
	if err != nil {
		t.Fatalf("CommitApp: %v", err)
	}
	if seq != aborted {
		t.Fatalf("committed seq=%d, want %d", seq, aborted)
	}

	sent := h.expectSent(t, "D")
	if sent.MsgSeqNum() != int(aborted) {
		t.Fatalf("wire seq=%d, want %d", sent.MsgSeqNum(), int(aborted))
	}
}

func TestListenerPanicDoesNotPropagate(t *testing.T) {
	h := newHarness(t, acceptorConfig("listener-panic"), logstore.NullStore{})

	var called bool
	h.sess.AddStateListener(func(StateChange) {
		called = true
		panic("boom")
	})

	// RequestConnect fires a state notification; a panicking listener must
	// not prevent the transition from having already happened or crash the
	// test process.
	if err := h.sess.RequestConnect(); err != nil {
		t.Fatalf("RequestConnect: %v", err)
	}
	if !called {
		t.Fatalf("state listener was not invoked")
	}
	if h.sess.State() != CONNECTING {
		t.Fatalf("state = %s, want CONNECTING", h.sess.State())
	}
}

func TestRejectAndAppListenersRouteByMsgType(t *testing.T) {
	h := newHarness(t, acceptorConfig("listener-routing"), logstore.NullStore{})
	connectAndLogon(t, h)

	appCh := make(chan string, 1)
	rejectCh := make(chan string, 1)
	h.sess.AddAppMessageListener(func(msg *fixcodec.IncomingMessage) { appCh <- msg.MsgType() })
	h.sess.AddRejectListener(func(msg *fixcodec.IncomingMessage) { rejectCh <- msg.MsgType() })

	app := buildFrame(t, "FIX.4.4", "D", "CLIENT", "SERVER", 2, nil)
	h.sendRaw(app)
	select {
	case mt := <-appCh:
		if mt != "D" {
			t.Fatalf("app listener saw MsgType %q", mt)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("app listener was never invoked")
	}

	reject := buildFrame(t, "FIX.4.4", fixcodec.MsgTypeReject, "CLIENT", "SERVER", 3, func(w *fixcodec.Writer) {
		w.AddInt(fixcodec.TagRefSeqNum, 2)
		w.AddInt(fixcodec.TagSessionRejectReason, int(fixcodec.RejectOther))
	})
	h.sendRaw(reject)
	select {
	case mt := <-rejectCh:
		if mt != fixcodec.MsgTypeReject {
			t.Fatalf("reject listener saw MsgType %q", mt)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reject listener was never invoked")
	}
}
