package executor

import (
	"github.com/kstaniek/rl-fuzz-bridge/internal/corpus"
)

// DemoTarget is a tiny in-process stand-in for an instrumented fuzz
// target, used by cmd/rl-worker: the Executor seam assumes the
// embedding program supplies real instrumentation and process
// spawning, and this bridge ships neither. It derives synthetic edge
// coverage from a running hash of the input prefix so that
// longer/weirder inputs keep discovering new map entries, giving the mutation stage and the
// predictor something non-trivial to chase.
type DemoTarget struct {
	mapSize int
}

// NewDemoTarget builds a DemoTarget producing coverage maps of size
// mapSize (corpus.DefaultMapSize if mapSize <= 0).
func NewDemoTarget(mapSize int) *DemoTarget {
	if mapSize <= 0 {
		mapSize = corpus.DefaultMapSize
	}
	return &DemoTarget{mapSize: mapSize}
}

func (d *DemoTarget) MapSize() int { return d.mapSize }

// Run walks in.Bytes() byte by byte, folding each byte into a running
// FNV-1a hash of the prefix and marking the map offset that hash
// selects. A second 'N' directly after an 'N' lights up one extra
// "deep" edge, giving the fuzzer something to discover incrementally
// rather than all at once. An all-zero run longer than 64 bytes counts as a
// simulated crash, the one deliberately-planted bug in the target.
func (d *DemoTarget) Run(in corpus.Input) (corpus.CoverageMap, ExitKind, error) {
	m := corpus.NewCoverageMap(d.mapSize)
	data := in.Bytes()
	zeros := 0

	var state uint32 = 2166136261
	for i, b := range data {
		state = (state ^ uint32(b)) * 16777619
		idx := int(state) % d.mapSize
		if idx < 0 {
			idx += d.mapSize
		}
		if m[idx] < 255 {
			m[idx]++
		}
		if i > 0 && data[i-1] == 'N' && b == 'N' {
			deep := int(state>>8) % d.mapSize
			if deep < 0 {
				deep += d.mapSize
			}
			if m[deep] < 255 {
				m[deep]++
			}
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		if zeros > 64 {
			return m, ExitCrash, nil
		}
	}
	return m, ExitOK, nil
}
