package mutate

// Havoc applies one randomly chosen operator from All at a randomly
// chosen offset, independent of any heatmap. This is the stage's
// fallback round body when no prediction is ready: same iteration
// shape and operator family as a predictor round, with a uniform
// offset draw instead of a heatmap-indexed one.
func Havoc(r Rand, in []byte, maxSize int) ([]byte, Result) {
	if len(in) == 0 {
		return in, Skipped
	}
	offset := int(r.Below(uint64(len(in))))
	op := All[r.Below(uint64(len(All)))]
	return op.Fn(r, in, offset, maxSize)
}
