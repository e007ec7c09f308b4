package executor

import (
	"sync"

	"github.com/kstaniek/rl-fuzz-bridge/internal/corpus"
)

// Fake is an in-process Executor for tests: it derives a coverage map
// from a caller-supplied scoring function instead of running a real
// target, so stage and bridge tests can assert on deterministic
// coverage deltas.
type Fake struct {
	mapSize int
	score   func(in corpus.Input) corpus.CoverageMap

	mu    sync.Mutex
	Calls []corpus.Input
}

// NewFake builds a Fake executor with the given map size. score maps
// an input to the coverage map it should appear to produce; if nil,
// every byte of in.Bytes() adds one hit at offset (byte value mod
// mapSize), saturating at 255, a cheap deterministic stand-in for real
// edge coverage.
func NewFake(mapSize int, score func(corpus.Input) corpus.CoverageMap) *Fake {
	return &Fake{mapSize: mapSize, score: score}
}

func (f *Fake) MapSize() int { return f.mapSize }

func (f *Fake) Run(in corpus.Input) (corpus.CoverageMap, ExitKind, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, in.Clone())
	f.mu.Unlock()

	if f.score != nil {
		return f.score(in), ExitOK, nil
	}
	m := corpus.NewCoverageMap(f.mapSize)
	for _, b := range in.Bytes() {
		idx := int(b) % f.mapSize
		if m[idx] < 255 {
			m[idx]++
		}
	}
	return m, ExitOK, nil
}
