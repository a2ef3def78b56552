package site

import "sync/atomic"

var generationCounter atomic.Uint64

// nextGeneration returns a process-wide monotonically increasing id used to
// tag each starter value, so successive wake cycles for the same site carry
// distinct ids.
func nextGeneration() uint64 {
	return generationCounter.Add(1)
}
