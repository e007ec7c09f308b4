// Package bridge implements the async bridge: a single-threaded
// cooperative service owning one TCP acceptor and the active protocol
// connection to the predictor, communicating with the
// (parallel) fuzzing worker through two bounded channels.
//
// One dedicated goroutine owns all blocking I/O, a Hooks struct lets
// the caller observe state transitions and errors without the bridge
// depending on anything fuzzing-specific, and Close is idempotent and
// waits for the goroutine to exit. The session loop is a request/reply
// pump matching each task to zero or one framed reply.
package bridge

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kstaniek/rl-fuzz-bridge/internal/corpus"
	"github.com/kstaniek/rl-fuzz-bridge/internal/logging"
	"github.com/kstaniek/rl-fuzz-bridge/internal/metrics"
	"github.com/kstaniek/rl-fuzz-bridge/internal/rlproto"
)

// TaskQueueCap and ResultQueueCap are the bounded channel capacities
// for the worker-to-bridge task queue and the bridge-to-worker result
// queue.
const (
	TaskQueueCap   = 300
	ResultQueueCap = 300
)

// Predict opens a round: the worker ships the candidate input and its
// baseline coverage map and expects exactly one reply on Results.
type Predict struct {
	ID    corpus.ID
	Input []byte
	Map   []byte
}

// AfterMut reports one mutated sample within an open round. Input may
// be nil when diagnostics are disabled.
type AfterMut struct {
	ID    corpus.ID
	Input []byte
	Map   []byte
}

// Reward closes a round with the mean coverage delta.
type Reward struct {
	ID    corpus.ID
	Score float64
}

// Prediction is the predictor's answer to a Predict task.
type Prediction struct {
	ID      corpus.ID
	Heatmap []uint32
}

// NnDropped is posted when the active predictor session fails: a
// framing/protocol error, an I/O error, or a HeatMap timeout. While no
// predictor is connected, tasks wait in the queue and nothing is posted.
type NnDropped struct{}

// State is the bridge's top-level loop state.
type State int

const (
	Listening State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "listening"
}

// Hooks let a caller observe bridge lifecycle events without coupling
// the bridge to any particular fuzzing runtime.
type Hooks struct {
	OnStateChange  func(State)
	OnSessionError func(error)
}

// Bridge owns one net.Listener and the task/result channel pair
// connecting it to the fuzzing thread.
type Bridge struct {
	addr       string
	workerName string
	timeout    time.Duration
	threshold  int

	tasks   chan any
	results chan any

	mu         sync.Mutex
	state      State
	priorName  string
	hooks      Hooks
	ln         net.Listener
	closed     atomic.Bool
	doneCh     chan struct{}
	startOnce  sync.Once
}

// Option configures a Bridge at construction.
type Option func(*Bridge)

// WithCompressionThreshold overrides the default active-protocol
// compression threshold (4096 bytes). It is handed to each
// rlproto.Session the bridge creates, which gzip-compresses a round
// message's envelope whenever the serialized message exceeds it.
func WithCompressionThreshold(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// New constructs a Bridge listening on addr, presenting workerName
// during the active handshake.
func New(addr, workerName string, timeout time.Duration, hooks Hooks, opts ...Option) *Bridge {
	b := &Bridge{
		addr:       addr,
		workerName: workerName,
		timeout:    timeout,
		threshold:  rlproto.DefaultCompressionThreshold,
		tasks:      make(chan any, TaskQueueCap),
		results:    make(chan any, ResultQueueCap),
		hooks:      hooks,
		doneCh:     make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Start binds the listener and spawns the bridge's dedicated goroutine,
// the Go analogue of a dedicated OS thread running a cooperative
// scheduler.
func (b *Bridge) Start() error {
	ln, err := net.Listen("tcp", b.addr)
	if err != nil {
		return fmt.Errorf("bridge: listen: %w", err)
	}
	b.ln = ln
	b.startOnce.Do(func() { go b.run() })
	return nil
}

// Addr returns the bound listener address.
func (b *Bridge) Addr() string {
	if b.ln == nil {
		return ""
	}
	return b.ln.Addr().String()
}

// State reports Listening or Active.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
	metrics.SetBridgeActive(s == Active)
	if b.hooks.OnStateChange != nil {
		b.hooks.OnStateChange(s)
	}
}

// SendTask enqueues a task for the predictor. It blocks if the bounded
// channel is full (the only back-pressure the fuzzing thread needs);
// it never suspends on network I/O.
func (b *Bridge) SendTask(t any) {
	b.tasks <- t
	metrics.SetBridgeQueueDepth("tasks", len(b.tasks))
}

// TryRecvResult performs a non-blocking poll of the result channel.
func (b *Bridge) TryRecvResult() (any, bool) {
	select {
	case r := <-b.results:
		metrics.SetBridgeQueueDepth("results", len(b.results))
		return r, true
	default:
		return nil, false
	}
}

// Close stops accepting connections, drains the worker's task channel,
// and waits for the bridge goroutine to exit.
func (b *Bridge) Close() {
	if b.closed.Swap(true) {
		return
	}
	if b.ln != nil {
		_ = b.ln.Close()
	}
	close(b.tasks)
	<-b.doneCh
}

func (b *Bridge) run() {
	defer close(b.doneCh)
	for {
		if b.closed.Load() {
			return
		}
		b.setState(Listening)
		conn, err := b.ln.Accept()
		if err != nil {
			if b.closed.Load() {
				return
			}
			continue
		}
		peerName, err := rlproto.Handshake(conn, b.workerName, b.priorName, b.timeout)
		if err != nil {
			metrics.IncError(metrics.ErrHandshake)
			logging.L().Warn("bridge_handshake_failed", "error", err)
			_ = conn.Close()
			continue
		}
		b.priorName = peerName
		logging.L().Info("predictor_connected", "name", peerName)
		b.setState(Active)
		b.serveSession(conn)
		if b.closed.Load() {
			return
		}
	}
}

func (b *Bridge) serveSession(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	sess := rlproto.NewSession(conn, b.timeout, b.threshold)
	for task := range b.tasks {
		metrics.SetBridgeQueueDepth("tasks", len(b.tasks))
		if err := b.handleTask(sess, task); err != nil {
			metrics.IncNnDropped()
			logging.L().Warn("bridge_session_error", "error", err)
			b.postResult(NnDropped{})
			if b.hooks.OnSessionError != nil {
				b.hooks.OnSessionError(err)
			}
			return
		}
	}
}

func (b *Bridge) handleTask(sess *rlproto.Session, task any) error {
	switch t := task.(type) {
	case Predict:
		metrics.IncRoundStarted()
		if err := sess.OpenRound(uint64(t.ID), t.Input, t.Map); err != nil {
			return err
		}
		hm, err := sess.AwaitHeatMap()
		if err != nil {
			return err
		}
		b.postResult(Prediction{ID: corpus.ID(hm.ID), Heatmap: hm.Idxs})
		return nil
	case AfterMut:
		return sess.SendMapAfterMutation(t.Input, t.Map)
	case Reward:
		metrics.IncRoundCompleted()
		metrics.ObserveReward(t.Score)
		return sess.SendReward(t.Score)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownTask, task)
	}
}

func (b *Bridge) postResult(r any) {
	select {
	case b.results <- r:
		metrics.SetBridgeQueueDepth("results", len(b.results))
	case <-b.doneCh:
	}
}

// ErrUnknownTask classifies a task of unexpected type, surfaced only
// through handleTask's returned error (a programming error, not a
// protocol fault).
var ErrUnknownTask = errors.New("bridge: unknown task type")
