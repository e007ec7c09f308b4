package rlproto

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/kstaniek/rl-fuzz-bridge/internal/wire"
)

func pipePair() (net.Conn, net.Conn) {
	return net.Pipe()
}

func TestHandshakeAccepts(t *testing.T) {
	worker, predictor := pipePair()
	defer worker.Close()
	defer predictor.Close()

	done := make(chan struct{})
	var gotName string
	var hsErr error
	go func() {
		gotName, hsErr = Handshake(worker, "worker-1", "", 2*time.Second)
		close(done)
	}()

	raw, err := wire.ReadFrame(predictor, 2*time.Second)
	if err != nil {
		t.Fatalf("predictor read worker hello: %v", err)
	}
	msg, err := DecodeHandshake(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := msg.(Hello); !ok {
		t.Fatalf("expected Hello, got %T", msg)
	}

	reply, _ := EncodeHandshake(Hello{Name: "predictor-x"})
	if err := wire.WriteFrame(predictor, reply); err != nil {
		t.Fatalf("send predictor hello: %v", err)
	}

	acceptedRaw, err := wire.ReadFrame(predictor, 2*time.Second)
	if err != nil {
		t.Fatalf("predictor read accepted: %v", err)
	}
	acceptedMsg, err := DecodeHandshake(acceptedRaw)
	if err != nil {
		t.Fatalf("decode accepted: %v", err)
	}
	if _, ok := acceptedMsg.(Accepted); !ok {
		t.Fatalf("expected Accepted, got %T", acceptedMsg)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handshake goroutine did not finish")
	}
	if hsErr != nil {
		t.Fatalf("Handshake: %v", hsErr)
	}
	if gotName != "predictor-x" {
		t.Fatalf("got name %q, want predictor-x", gotName)
	}
}

func TestSessionHappyRound(t *testing.T) {
	worker, predictor := pipePair()
	defer worker.Close()
	defer predictor.Close()

	sess := NewSession(worker, 2*time.Second, DefaultCompressionThreshold)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.OpenRound(7, []byte("abc"), make([]byte, 16))
	}()

	raw, err := wire.ReadFrame(predictor, 2*time.Second)
	if err != nil {
		t.Fatalf("predictor read predict: %v", err)
	}
	msg, err := DecodeEnveloped(raw)
	if err != nil {
		t.Fatalf("decode predict: %v", err)
	}
	pr, ok := msg.(Predict)
	if !ok || pr.ID != 7 {
		t.Fatalf("unexpected predict message: %+v", msg)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("OpenRound: %v", err)
	}

	// net.Pipe writes block until read, so the predictor's write runs
	// beside the worker's AwaitHeatMap.
	hm, _ := EncodeEnveloped(HeatMap{ID: 7, Idxs: []uint32{0, 1, 2}}, DefaultCompressionThreshold)
	writeErr := make(chan error, 1)
	go func() { writeErr <- wire.WriteFrame(predictor, hm) }()

	got, err := sess.AwaitHeatMap()
	if err != nil {
		t.Fatalf("AwaitHeatMap: %v", err)
	}
	if err := <-writeErr; err != nil {
		t.Fatalf("send heatmap: %v", err)
	}
	if len(got.Idxs) != 3 {
		t.Fatalf("got %d idxs, want 3", len(got.Idxs))
	}

	readDone := make(chan struct{})
	var afterRaw []byte
	go func() {
		afterRaw, _ = wire.ReadFrame(predictor, 2*time.Second)
		close(readDone)
	}()
	if err := sess.SendMapAfterMutation([]byte("abd"), make([]byte, 16)); err != nil {
		t.Fatalf("SendMapAfterMutation: %v", err)
	}
	<-readDone
	afterMsg, err := DecodeEnveloped(afterRaw)
	if err != nil {
		t.Fatalf("decode after-mutation: %v", err)
	}
	if m, ok := afterMsg.(MapAfterMutation); !ok || m.ID != 7 {
		t.Fatalf("unexpected after-mutation message: %+v", afterMsg)
	}

	rewardDone := make(chan struct{})
	var rewardRaw []byte
	go func() {
		rewardRaw, _ = wire.ReadFrame(predictor, 2*time.Second)
		close(rewardDone)
	}()
	if err := sess.SendReward(0.0); err != nil {
		t.Fatalf("SendReward: %v", err)
	}
	<-rewardDone
	rewardMsg, err := DecodeEnveloped(rewardRaw)
	if err != nil {
		t.Fatalf("decode reward: %v", err)
	}
	if r, ok := rewardMsg.(Reward); !ok || r.ID != 7 {
		t.Fatalf("unexpected reward message: %+v", rewardMsg)
	}

	if sess.State() != Idle {
		t.Fatalf("state after reward = %s, want idle", sess.State())
	}
}

// TestSessionCompressionBoundary: a Predict whose serialized size sits
// below the active-protocol threshold goes out uncompressed, one above
// it goes out with the Compressed flag set, and both decode back to
// the same message.
func TestSessionCompressionBoundary(t *testing.T) {
	cases := []struct {
		name           string
		mapSize        int
		wantCompressed bool
	}{
		{"below_threshold", 2000, false},
		{"above_threshold", 8192, true},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			worker, predictor := pipePair()
			defer worker.Close()
			defer predictor.Close()

			sess := NewSession(worker, 2*time.Second, DefaultCompressionThreshold)
			id := uint64(i + 1)
			covMap := make([]byte, tc.mapSize)
			for j := range covMap {
				covMap[j] = byte(j)
			}

			errCh := make(chan error, 1)
			go func() { errCh <- sess.OpenRound(id, []byte("abc"), covMap) }()

			raw, err := wire.ReadFrame(predictor, 2*time.Second)
			if err != nil {
				t.Fatalf("predictor read predict: %v", err)
			}
			env, err := wire.UnmarshalEnvelope(raw)
			if err != nil {
				t.Fatalf("unmarshal envelope: %v", err)
			}
			if compressed := env.Flags&wire.Compressed != 0; compressed != tc.wantCompressed {
				t.Fatalf("compressed = %v, want %v", compressed, tc.wantCompressed)
			}
			msg, err := DecodeEnveloped(raw)
			if err != nil {
				t.Fatalf("decode predict: %v", err)
			}
			pr, ok := msg.(Predict)
			if !ok || pr.ID != id || len(pr.Map) != tc.mapSize {
				t.Fatalf("unexpected predict message: %+v", msg)
			}
			if err := <-errCh; err != nil {
				t.Fatalf("OpenRound: %v", err)
			}

			hm, _ := EncodeEnveloped(HeatMap{ID: id}, DefaultCompressionThreshold)
			writeErr := make(chan error, 1)
			go func() { writeErr <- wire.WriteFrame(predictor, hm) }()
			if _, err := sess.AwaitHeatMap(); err != nil {
				t.Fatalf("AwaitHeatMap: %v", err)
			}
			if err := <-writeErr; err != nil {
				t.Fatalf("send heatmap: %v", err)
			}
		})
	}
}

func TestSessionIdMismatchFails(t *testing.T) {
	worker, predictor := pipePair()
	defer worker.Close()
	defer predictor.Close()

	sess := NewSession(worker, 2*time.Second, DefaultCompressionThreshold)
	go sess.OpenRound(7, []byte("abc"), make([]byte, 4))
	if _, err := wire.ReadFrame(predictor, 2*time.Second); err != nil {
		t.Fatalf("predictor read predict: %v", err)
	}

	hm, _ := EncodeEnveloped(HeatMap{ID: 8, Idxs: []uint32{0}}, DefaultCompressionThreshold)
	writeErr := make(chan error, 1)
	go func() { writeErr <- wire.WriteFrame(predictor, hm) }()

	_, err := sess.AwaitHeatMap()
	if err := <-writeErr; err != nil {
		t.Fatalf("send mismatched heatmap: %v", err)
	}
	if err == nil {
		t.Fatal("expected id mismatch error")
	}
	if errors.Is(err, ErrNnDropped) {
		t.Fatal("id mismatch should not be reported as NnDropped")
	}
	if sess.State() != Failed {
		t.Fatalf("state = %s, want failed", sess.State())
	}
}

func TestSessionHeatMapTimeoutIsNnDropped(t *testing.T) {
	worker, predictor := pipePair()
	defer predictor.Close()

	sess := NewSession(worker, 50*time.Millisecond, DefaultCompressionThreshold)
	go sess.OpenRound(1, []byte("x"), make([]byte, 4))
	if _, err := wire.ReadFrame(predictor, 2*time.Second); err != nil {
		t.Fatalf("predictor read predict: %v", err)
	}

	_, err := sess.AwaitHeatMap()
	if !errors.Is(err, ErrNnDropped) {
		t.Fatalf("expected ErrNnDropped, got %v", err)
	}
}
