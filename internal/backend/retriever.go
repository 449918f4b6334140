// Package backend defines the retrieval adapter contract. Each adapter wraps
// one signal of one index driver and normalizes its native output into ranked
// hits with the signal label attached.
package backend

import (
	"context"
	"fmt"

	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/filter"
	"github.com/fuseline/fuseline/internal/domain/search/hit"
)

// Criteria carries the per-signal inputs of one retrieval pass. Vector is
// only consulted by the vector adapter; Query only by the lexical adapter.
type Criteria struct {
	Query   string
	Vector  []float32
	Filters filter.Expression
}

// Retriever executes one retrieval signal. Search returns hits ranked
// 1..n after hard filtering; an unreachable or failing index surfaces as a
// domain.SignalError so the orchestrator can degrade instead of abort.
type Retriever interface {
	Search(ctx context.Context, c Criteria, limit int) ([]hit.Hit, error)
	Signal() domain.Signal
}

// Registry is the dispatch table from signal to adapter. It is populated
// once at startup and read-only afterwards.
type Registry struct {
	retrievers map[domain.Signal]Retriever
}

// NewRegistry builds a registry from the given adapters. Duplicate signals
// are rejected.
func NewRegistry(retrievers ...Retriever) (*Registry, error) {
	m := make(map[domain.Signal]Retriever, len(retrievers))
	for _, r := range retrievers {
		sig := r.Signal()
		if !sig.IsValid() {
			return nil, fmt.Errorf("retriever has unknown signal %q", sig)
		}
		if _, dup := m[sig]; dup {
			return nil, fmt.Errorf("duplicate retriever for signal %q", sig)
		}
		m[sig] = r
	}
	return &Registry{retrievers: m}, nil
}

// Get returns the adapter for a signal.
func (r *Registry) Get(sig domain.Signal) (Retriever, error) {
	ret, ok := r.retrievers[sig]
	if !ok {
		return nil, fmt.Errorf("no retriever registered for signal %q", sig)
	}
	return ret, nil
}

// Signals returns the registered signals in the canonical order.
func (r *Registry) Signals() []domain.Signal {
	out := make([]domain.Signal, 0, len(r.retrievers))
	for _, sig := range domain.Signals() {
		if _, ok := r.retrievers[sig]; ok {
			out = append(out, sig)
		}
	}
	return out
}
