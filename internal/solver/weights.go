package solver

// Weights are the fixed integer multipliers the objective combines its
// three terms with (spec.md §4.4). Left open as a configurable knob per
// Open Question #2: the ratios are empirically chosen, not load-bearing
// constants, so implementers must be able to override them without
// touching the objective code.
type Weights struct {
	CPU       int64
	Memory    int64
	Migration int64
}

// DefaultWeights reproduces the values spec.md §4.4 specifies.
func DefaultWeights() Weights {
	return Weights{CPU: 5_000_000, Memory: 5_000, Migration: 1}
}
