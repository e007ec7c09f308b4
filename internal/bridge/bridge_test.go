package bridge

import (
	"net"
	"testing"
	"time"

	"github.com/kstaniek/rl-fuzz-bridge/internal/rlproto"
	"github.com/kstaniek/rl-fuzz-bridge/internal/wire"
)

// dialPredictor connects to the bridge and runs the predictor side of
// the active handshake (the bridge/worker side initiates per
// rlproto.Handshake): read the worker's Hello, answer with our own,
// then read Accepted.
func dialPredictor(t *testing.T, addr, name string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial bridge: %v", err)
	}

	raw, err := wire.ReadFrame(conn, 2*time.Second)
	if err != nil {
		t.Fatalf("read worker hello: %v", err)
	}
	if _, err := rlproto.DecodeHandshake(raw); err != nil {
		t.Fatalf("decode worker hello: %v", err)
	}

	reply, _ := rlproto.EncodeHandshake(rlproto.Hello{Name: name})
	if err := wire.WriteFrame(conn, reply); err != nil {
		t.Fatalf("send predictor hello: %v", err)
	}

	acceptedRaw, err := wire.ReadFrame(conn, 2*time.Second)
	if err != nil {
		t.Fatalf("read accepted: %v", err)
	}
	if msg, err := rlproto.DecodeHandshake(acceptedRaw); err != nil {
		t.Fatalf("decode accepted: %v", err)
	} else if _, ok := msg.(rlproto.Accepted); !ok {
		t.Fatalf("expected Accepted, got %T", msg)
	}
	return conn
}

// pollResult retries TryRecvResult until it yields a value or the
// deadline passes, in place of a fixed sleep.
func pollResult(t *testing.T, b *Bridge, deadline time.Time) any {
	t.Helper()
	for time.Now().Before(deadline) {
		if r, ok := b.TryRecvResult(); ok {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for bridge result")
	return nil
}

func TestBridgeRoundTrip(t *testing.T) {
	b := New("127.0.0.1:0", "worker-1", 2*time.Second, Hooks{})
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Close()

	conn := dialPredictor(t, b.Addr(), "predictor-x")
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for b.State() != Active && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if b.State() != Active {
		t.Fatal("bridge never reached Active state")
	}

	b.SendTask(Predict{ID: 7, Input: []byte("abc"), Map: make([]byte, 16)})

	raw, err := wire.ReadFrame(conn, 2*time.Second)
	if err != nil {
		t.Fatalf("predictor read predict: %v", err)
	}
	msg, err := rlproto.DecodeEnveloped(raw)
	if err != nil {
		t.Fatalf("decode predict: %v", err)
	}
	pr, ok := msg.(rlproto.Predict)
	if !ok || pr.ID != 7 {
		t.Fatalf("unexpected message: %+v", msg)
	}

	hm, _ := rlproto.EncodeEnveloped(rlproto.HeatMap{ID: 7, Idxs: []uint32{0, 1, 2}}, rlproto.DefaultCompressionThreshold)
	if err := wire.WriteFrame(conn, hm); err != nil {
		t.Fatalf("send heatmap: %v", err)
	}

	res := pollResult(t, b, time.Now().Add(2*time.Second))
	pred, ok := res.(Prediction)
	if !ok || pred.ID != 7 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(pred.Heatmap) != 3 {
		t.Fatalf("got %d heatmap entries, want 3", len(pred.Heatmap))
	}

	b.SendTask(AfterMut{ID: 7, Input: []byte("abd"), Map: make([]byte, 16)})
	raw, err = wire.ReadFrame(conn, 2*time.Second)
	if err != nil {
		t.Fatalf("predictor read after-mutation: %v", err)
	}
	if m, err := rlproto.DecodeEnveloped(raw); err != nil {
		t.Fatalf("decode after-mutation: %v", err)
	} else if am, ok := m.(rlproto.MapAfterMutation); !ok || am.ID != 7 {
		t.Fatalf("unexpected message: %+v", m)
	}

	b.SendTask(Reward{ID: 7, Score: 0.5})
	raw, err = wire.ReadFrame(conn, 2*time.Second)
	if err != nil {
		t.Fatalf("predictor read reward: %v", err)
	}
	if m, err := rlproto.DecodeEnveloped(raw); err != nil {
		t.Fatalf("decode reward: %v", err)
	} else if rw, ok := m.(rlproto.Reward); !ok || rw.ID != 7 || rw.Score != 0.5 {
		t.Fatalf("unexpected message: %+v", m)
	}
}

func TestBridgeHeatMapTimeoutPostsNnDropped(t *testing.T) {
	b := New("127.0.0.1:0", "worker-1", 50*time.Millisecond, Hooks{})
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Close()

	conn := dialPredictor(t, b.Addr(), "predictor-x")
	defer conn.Close()

	b.SendTask(Predict{ID: 1, Input: []byte("x"), Map: make([]byte, 4)})

	// Drain the Predict frame but never answer with a HeatMap: the
	// worker-side session must time out and the bridge must report
	// NnDropped rather than hang.
	if _, err := wire.ReadFrame(conn, 2*time.Second); err != nil {
		t.Fatalf("predictor read predict: %v", err)
	}

	res := pollResult(t, b, time.Now().Add(2*time.Second))
	if _, ok := res.(NnDropped); !ok {
		t.Fatalf("got %T, want NnDropped", res)
	}
}

func TestBridgeReopensAfterSessionLoss(t *testing.T) {
	b := New("127.0.0.1:0", "worker-1", 2*time.Second, Hooks{})
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Close()

	conn := dialPredictor(t, b.Addr(), "predictor-x")
	deadline := time.Now().Add(2 * time.Second)
	for b.State() != Active && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	conn.Close()

	b.SendTask(Predict{ID: 1, Input: []byte("x"), Map: make([]byte, 4)})
	res := pollResult(t, b, time.Now().Add(2*time.Second))
	if _, ok := res.(NnDropped); !ok {
		t.Fatalf("got %T, want NnDropped", res)
	}

	deadline = time.Now().Add(2 * time.Second)
	for b.State() != Listening && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if b.State() != Listening {
		t.Fatal("bridge never returned to Listening after losing its session")
	}

	conn2 := dialPredictor(t, b.Addr(), "predictor-x")
	defer conn2.Close()
	deadline = time.Now().Add(2 * time.Second)
	for b.State() != Active && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if b.State() != Active {
		t.Fatal("bridge never re-activated for the reconnecting predictor")
	}
}
