// Package executor defines the seam between the mutation stage and
// the concrete fuzzing runtime: running one input and observing the
// coverage it produced. Decoupling this behind an interface lets the
// mutation stage and the broker's fan-out be tested without a real
// instrumented target, the same way a small Send/Hooks interface lets
// a transport be swapped out instead of hard-wired to a socket.
package executor

import "github.com/kstaniek/rl-fuzz-bridge/internal/corpus"

// ExitKind classifies how a run ended.
type ExitKind int

const (
	ExitOK ExitKind = iota
	ExitCrash
	ExitTimeout
	ExitOOM
)

func (k ExitKind) String() string {
	switch k {
	case ExitOK:
		return "ok"
	case ExitCrash:
		return "crash"
	case ExitTimeout:
		return "timeout"
	case ExitOOM:
		return "oom"
	default:
		return "unknown"
	}
}

// Executor runs one input and reports the coverage map it produced.
type Executor interface {
	// Run executes in, returning the coverage map observed and how
	// the run ended. Implementations must always return a map of
	// consistent length across calls.
	Run(in corpus.Input) (corpus.CoverageMap, ExitKind, error)
	// MapSize reports the fixed coverage map length this executor
	// produces.
	MapSize() int
}
