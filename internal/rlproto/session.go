package rlproto

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/kstaniek/rl-fuzz-bridge/internal/metrics"
	"github.com/kstaniek/rl-fuzz-bridge/internal/wire"
)

// ErrNnDropped reports a predictor timeout or disconnect: the session
// is gone but the fuzzing loop must keep running without it.
var ErrNnDropped = errors.New("rlproto: predictor dropped")

// DefaultCompressionThreshold is the active-protocol gzip threshold:
// a round message is sent as a gzip envelope iff its serialized size
// exceeds this many bytes.
const DefaultCompressionThreshold = 4096

// EncodeEnveloped serializes msg and wraps it in a wire.Envelope,
// gzip-compressing the payload iff it exceeds threshold.
func EncodeEnveloped(msg any, threshold int) ([]byte, error) {
	raw, err := Encode(msg)
	if err != nil {
		return nil, err
	}
	env, err := wire.Pack(raw, threshold)
	if err != nil {
		return nil, err
	}
	return env.Marshal(), nil
}

// DecodeEnveloped parses a wire.Envelope frame and decodes the round
// message it carries.
func DecodeEnveloped(frame []byte) (any, error) {
	env, err := wire.UnmarshalEnvelope(frame)
	if err != nil {
		return nil, err
	}
	inner, err := env.Unpack()
	if err != nil {
		return nil, err
	}
	return Decode(inner)
}

// State is the worker-side round state machine:
// Idle -> PredictSent -> HeatMapRecv -> (MapSent)* -> RewardSent -> Idle,
// collapsing to Failed on any protocol violation, I/O error, or
// HeatMap timeout.
type State int

const (
	Idle State = iota
	PredictSent
	HeatMapRecv
	MapSent
	RewardSent
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PredictSent:
		return "predict_sent"
	case HeatMapRecv:
		return "heatmap_recv"
	case MapSent:
		return "map_sent"
	case RewardSent:
		return "reward_sent"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session drives one active-protocol connection from the worker side.
type Session struct {
	conn      net.Conn
	timeout   time.Duration
	threshold int
	state     State
	roundID   uint64
}

// NewSession wraps an already-handshaken connection. threshold is the
// active-protocol compression threshold; a value <= 0 falls back to
// DefaultCompressionThreshold.
func NewSession(conn net.Conn, timeout time.Duration, threshold int) *Session {
	if threshold <= 0 {
		threshold = DefaultCompressionThreshold
	}
	return &Session{conn: conn, timeout: timeout, threshold: threshold, state: Idle}
}

// State reports the session's current round state.
func (s *Session) State() State { return s.state }

// Close tears down the underlying connection.
func (s *Session) Close() error { return s.conn.Close() }

func (s *Session) fail(err error) error {
	s.state = Failed
	_ = s.conn.Close()
	return fmt.Errorf("%w: %v", ErrSession, err)
}

// send envelopes and writes one round message, gzip-compressing it
// above s.threshold.
func (s *Session) send(msg any) error {
	raw, err := Encode(msg)
	if err != nil {
		return err
	}
	env, err := wire.Pack(raw, s.threshold)
	if err != nil {
		return err
	}
	if env.Flags&wire.Compressed != 0 {
		metrics.IncCompressed()
	} else {
		metrics.IncUncompressed()
	}
	return wire.WriteFrame(s.conn, env.Marshal())
}

// OpenRound sends Predict and advances Idle -> PredictSent. Calling it
// from any other state is a programming error, reported as ErrSession.
func (s *Session) OpenRound(id uint64, input, covMap []byte) error {
	if s.state != Idle {
		return s.fail(fmt.Errorf("OpenRound called in state %s", s.state))
	}
	if err := s.send(Predict{ID: id, Input: input, Map: covMap}); err != nil {
		return s.fail(err)
	}
	s.roundID = id
	s.state = PredictSent
	return nil
}

// AwaitHeatMap reads the predictor's answer to the open round. A
// timeout moves the session to Failed, closes the connection, and
// yields ErrNnDropped; every other fault yields ErrSession.
func (s *Session) AwaitHeatMap() (HeatMap, error) {
	if s.state != PredictSent {
		return HeatMap{}, s.fail(fmt.Errorf("AwaitHeatMap called in state %s", s.state))
	}
	raw, err := wire.ReadFrame(s.conn, s.timeout)
	if err != nil {
		if errors.Is(err, wire.ErrNotAvail) {
			s.state = Failed
			_ = s.conn.Close()
			return HeatMap{}, ErrNnDropped
		}
		return HeatMap{}, s.fail(err)
	}
	msg, err := DecodeEnveloped(raw)
	if err != nil {
		return HeatMap{}, s.fail(err)
	}
	hm, ok := msg.(HeatMap)
	if !ok {
		return HeatMap{}, s.fail(fmt.Errorf("unexpected message %T while awaiting heatmap", msg))
	}
	if hm.ID != s.roundID {
		return HeatMap{}, s.fail(fmt.Errorf("heatmap id %d does not match round %d", hm.ID, s.roundID))
	}
	s.state = HeatMapRecv
	return hm, nil
}

// SendMapAfterMutation reports one mutated sample; it may be called
// any number of times between HeatMapRecv and Reward.
func (s *Session) SendMapAfterMutation(input, covMap []byte) error {
	if s.state != HeatMapRecv && s.state != MapSent {
		return s.fail(fmt.Errorf("SendMapAfterMutation called in state %s", s.state))
	}
	if err := s.send(MapAfterMutation{ID: s.roundID, Input: input, Map: covMap}); err != nil {
		return s.fail(err)
	}
	s.state = MapSent
	return nil
}

// SendReward closes the round and returns the session to Idle.
func (s *Session) SendReward(score float64) error {
	if s.state != HeatMapRecv && s.state != MapSent {
		return s.fail(fmt.Errorf("SendReward called in state %s", s.state))
	}
	if err := s.send(Reward{ID: s.roundID, Score: score}); err != nil {
		return s.fail(err)
	}
	s.state = Idle
	s.roundID = 0
	return nil
}
