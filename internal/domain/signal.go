package domain

// Signal identifies a retrieval source. Adapters are dispatched through an
// explicit table keyed by Signal rather than through type assertions.
type Signal string

const (
	// SignalVector is dense vector similarity search.
	SignalVector Signal = "vector"
	// SignalLexical is full-text relevance search.
	SignalLexical Signal = "lexical"
	// SignalFilter is structured predicate matching.
	SignalFilter Signal = "filter"
)

// IsValid reports whether s is a known signal.
func (s Signal) IsValid() bool {
	switch s {
	case SignalVector, SignalLexical, SignalFilter:
		return true
	}
	return false
}

// Signals returns all signals in deterministic order.
func Signals() []Signal {
	return []Signal{SignalVector, SignalLexical, SignalFilter}
}

// Weights holds per-signal fusion weights. A zero weight fully suppresses a
// signal's contribution; no per-signal branching is needed.
type Weights map[Signal]float64

// DefaultWeights returns the documented default weight vector.
// Confirmed as a reasonable default, tunable per deployment and per request.
func DefaultWeights() Weights {
	return Weights{
		SignalVector:  0.4,
		SignalLexical: 0.3,
		SignalFilter:  0.3,
	}
}

// Merge returns a copy of w with non-negative overrides applied.
func (w Weights) Merge(overrides Weights) Weights {
	out := make(Weights, len(w))
	for sig, v := range w {
		out[sig] = v
	}
	for sig, v := range overrides {
		if sig.IsValid() && v >= 0 {
			out[sig] = v
		}
	}
	return out
}
