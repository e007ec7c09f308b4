package mutate

import "math/rand"

// StdRand adapts *math/rand.Rand to the Rand seam. math/rand (not v2)
// is used so a stage can hold one seedable *rand.Rand of its own
// rather than sharing a package-level generator.
type StdRand struct {
	r *rand.Rand
}

// NewStdRand seeds a new generator. Tests that need reproducible
// sequences should pass a fixed seed; production callers should derive
// one from process entropy (e.g. time.Now().UnixNano()).
func NewStdRand(seed int64) *StdRand {
	return &StdRand{r: rand.New(rand.NewSource(seed))}
}

// Below returns a pseudo-random value in [0, n). n == 0 always yields 0.
func (s *StdRand) Below(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	if n <= uint64(1)<<62 {
		return uint64(s.r.Int63n(int64(n)))
	}
	return s.r.Uint64() % n
}
