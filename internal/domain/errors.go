package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest signals a malformed or unvalidatable search request.
	ErrInvalidRequest = errors.New("invalid search request")
	// ErrSignalUnavailable signals that a single retrieval signal is down.
	ErrSignalUnavailable = errors.New("retrieval signal unavailable")
	// ErrRetrievalUnavailable signals that every retrieval signal failed.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrExpansionFailed signals a query expansion collaborator failure.
	ErrExpansionFailed = errors.New("query expansion failed")
	// ErrRerankFailed signals a rerank collaborator failure.
	ErrRerankFailed = errors.New("rerank failed")
	// ErrCacheTierUnavailable signals an unreachable cache tier.
	ErrCacheTierUnavailable = errors.New("cache tier unavailable")
	// ErrMalformedHit signals a retrieval hit without an item ID.
	ErrMalformedHit = errors.New("malformed retrieval hit")
	// ErrDeadlineExceeded signals that the request deadline fired with no results.
	ErrDeadlineExceeded = errors.New("search deadline exceeded")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
)

// SignalError wraps ErrSignalUnavailable with the failed signal.
type SignalError struct {
	Signal Signal
	Err    error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("%s signal: %v", e.Signal, e.Err)
}

// Unwrap exposes both the unavailability sentinel and the underlying cause,
// so errors.Is matches either.
func (e *SignalError) Unwrap() []error { return []error{ErrSignalUnavailable, e.Err} }

// NewSignalError creates a per-signal unavailability error.
func NewSignalError(sig Signal, err error) error {
	return &SignalError{Signal: sig, Err: err}
}
