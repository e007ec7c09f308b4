// Package stage implements the RL mutation stage: the state
// machine invoked once per selected corpus entry during the fuzzing
// main loop, interleaving normal havoc mutations with predictor-driven
// rounds and attributing a scalar reward back to the bridge.
//
// One Predict is outstanding at a time; while no prediction is ready
// the stage falls back to scheduled havoc so the fuzzer is never
// starved. The stage depends only on two seams -- Executor and the
// bridge's task/result channel pair -- never on a live network
// session, so predictor faults can only ever surface as NnDropped.
package stage

import (
	"fmt"
	"sync/atomic"

	"github.com/kstaniek/rl-fuzz-bridge/internal/bridge"
	"github.com/kstaniek/rl-fuzz-bridge/internal/corpus"
	"github.com/kstaniek/rl-fuzz-bridge/internal/executor"
	"github.com/kstaniek/rl-fuzz-bridge/internal/logging"
	"github.com/kstaniek/rl-fuzz-bridge/internal/metrics"
	"github.com/kstaniek/rl-fuzz-bridge/internal/mutate"
)

// DefaultMutationalMaxIterations bounds the per-round/per-havoc
// iteration count: each invocation runs 1 + Below(128) mutations.
const DefaultMutationalMaxIterations = 128

// BridgeClient is the seam the stage depends on instead of a concrete
// *bridge.Bridge: a blocking enqueue and a non-blocking poll. Any type
// with these two methods satisfies it, so tests can substitute a fake
// without a real TCP predictor.
type BridgeClient interface {
	SendTask(t any)
	TryRecvResult() (any, bool)
}

type pendingRound struct {
	id       corpus.ID
	input    corpus.Input
	baseline corpus.CoverageMap
}

// Stage is the per-worker mutation stage. It is not safe for
// concurrent use: it must be driven exclusively from the single
// synchronous fuzzing thread.
type Stage struct {
	exec             executor.Executor
	bridgeClient     BridgeClient
	rand             mutate.Rand
	diagnosticInputs bool

	pendingPredict *pendingRound
	heatmap        []uint32
	depth          uint64
	maxDepth       atomic.Uint64
}

// Option configures a Stage at construction.
type Option func(*Stage)

// WithDiagnosticInputs controls whether MapAfterMutation carries the
// mutated bytes. Off by default: the coverage map alone is enough for
// reward attribution, and inputs can be large.
func WithDiagnosticInputs(enabled bool) Option {
	return func(s *Stage) { s.diagnosticInputs = enabled }
}

// New builds a Stage over exec (the run-one-input seam) and bc (the
// bridge's task/result channel pair), using rand for every
// probabilistic choice the algorithm makes.
func New(exec executor.Executor, bc BridgeClient, rnd mutate.Rand, opts ...Option) *Stage {
	s := &Stage{exec: exec, bridgeClient: bc, rand: rnd}
	for _, o := range opts {
		o(s)
	}
	return s
}

// MaxDepth reports the deepest havoc mutation chain observed so far,
// a monitoring statistic.
func (s *Stage) MaxDepth() uint64 { return s.maxDepth.Load() }

// Perform runs one invocation of the stage over the selected corpus
// entry.
func (s *Stage) Perform(id corpus.ID, input corpus.Input) error {
	if s.pendingPredict == nil {
		clone := input.Clone()
		baseline, _, err := s.exec.Run(clone)
		if err != nil {
			return fmt.Errorf("stage: baseline execute: %w", err)
		}
		s.bridgeClient.SendTask(bridge.Predict{
			ID:    id,
			Input: cloneBytes(clone.Bytes()),
			Map:   cloneBytes(baseline),
		})
		s.pendingPredict = &pendingRound{id: id, input: clone, baseline: baseline}
		return nil
	}

	res, ok := s.bridgeClient.TryRecvResult()
	if !ok {
		return s.havoc(input)
	}
	switch r := res.(type) {
	case bridge.NnDropped:
		logging.L().Debug("nn_dropped", "corpus_id", s.pendingPredict.id)
		s.pendingPredict = nil
		return s.havoc(input)
	case bridge.Prediction:
		pending := s.pendingPredict
		s.pendingPredict = nil
		return s.round(r.ID, r.Heatmap, pending)
	default:
		return fmt.Errorf("stage: unexpected bridge result %T", res)
	}
}

// round runs the predictor-driven body: focusID is whatever id the
// Prediction carries (it need not match the corpus entry the stage
// was invoked with this turn -- a Prediction with an id not matching
// the current selection is treated as valid for its own id). Input
// and baseline always come from the pending round snapshotted when
// Predict was sent, since corpus re-fetch by id is outside this
// bridge's scope.
func (s *Stage) round(focusID corpus.ID, heatmap []uint32, pending *pendingRound) error {
	s.heatmap = heatmap
	n := 1 + int(s.rand.Below(DefaultMutationalMaxIterations))

	var accumulated uint64
	skipped := 0
	for i := 0; i < n; i++ {
		if len(heatmap) == 0 {
			metrics.IncHeatmapSkip()
			skipped++
			continue
		}
		offset := heatmap[s.rand.Below(uint64(len(heatmap)))]
		candidate := pending.input.Clone()
		if int(offset) >= candidate.Len() {
			metrics.IncHeatmapSkip()
			skipped++
			continue
		}
		op := mutate.All[s.rand.Below(uint64(len(mutate.All)))]
		mutatedBytes, outcome := op.Fn(s.rand, candidate.Bytes(), int(offset), candidate.MaxSize())
		if outcome == mutate.Skipped {
			metrics.IncHeatmapSkip()
			skipped++
			continue
		}
		metrics.IncHeatmapHit(op.Name)
		mutatedInput := corpus.NewInput(mutatedBytes, candidate.MaxSize())

		postMap, _, err := s.exec.Run(mutatedInput)
		if err != nil {
			return fmt.Errorf("stage: mutated execute: %w", err)
		}

		var diagInput []byte
		if s.diagnosticInputs {
			diagInput = cloneBytes(mutatedInput.Bytes())
		}
		s.bridgeClient.SendTask(bridge.AfterMut{
			ID:    focusID,
			Input: diagInput,
			Map:   cloneBytes(postMap),
		})

		accumulated += postMap.Delta(pending.baseline)
	}

	score := float64(accumulated) / float64(n)
	s.bridgeClient.SendTask(bridge.Reward{ID: focusID, Score: score})
	logging.L().Debug("round_reward", "corpus_id", focusID, "mutations", n, "skipped", skipped, "score", score)
	return nil
}

// havoc runs the scheduled-havoc fallback: 1+rand_below(128) iterations
// of a randomly chosen mutator at a randomly chosen offset, independent
// of any heatmap, so the fuzzer is never starved while the predictor is
// unavailable.
func (s *Stage) havoc(input corpus.Input) error {
	n := 1 + int(s.rand.Below(DefaultMutationalMaxIterations))
	metrics.AddHavocIterations(n)
	for i := 0; i < n; i++ {
		candidate := input.Clone()
		mutatedBytes, outcome := mutate.Havoc(s.rand, candidate.Bytes(), candidate.MaxSize())
		if outcome == mutate.Skipped {
			continue
		}
		mutatedInput := corpus.NewInput(mutatedBytes, candidate.MaxSize())
		if _, _, err := s.exec.Run(mutatedInput); err != nil {
			return fmt.Errorf("stage: havoc execute: %w", err)
		}
		s.bumpDepth()
	}
	return nil
}

func (s *Stage) bumpDepth() {
	s.depth++
	if s.depth > s.maxDepth.Load() {
		s.maxDepth.Store(s.depth)
		metrics.SetStageMaxDepth(int(s.depth))
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
