package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/fuseline/fuseline/internal/domain"
)

type mockEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vec, TotalTokens: 7}, nil
}

func TestCached_SecondCallSkipsProvider(t *testing.T) {
	inner := &mockEmbedder{vec: []float32{0.1, 0.2, 0.3}}
	c, err := NewCached(inner, 16, nil)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}

	first, err := c.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	second, err := c.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if inner.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", inner.calls)
	}
	if len(second.Embedding) != len(first.Embedding) {
		t.Errorf("cached vector length mismatch")
	}
	// Cached results report no fresh token usage.
	if second.TotalTokens != 0 {
		t.Errorf("cached result tokens: got %d, want 0", second.TotalTokens)
	}
}

func TestCached_DistinctTextsMiss(t *testing.T) {
	inner := &mockEmbedder{vec: []float32{0.5}}
	c, err := NewCached(inner, 16, nil)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}

	_, _ = c.Embed(context.Background(), "first")
	_, _ = c.Embed(context.Background(), "second")

	if inner.calls != 2 {
		t.Errorf("expected 2 provider calls for distinct texts, got %d", inner.calls)
	}
}

func TestCached_ErrorsNotCached(t *testing.T) {
	inner := &mockEmbedder{err: errors.New("provider down")}
	c, err := NewCached(inner, 16, nil)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}

	if _, err := c.Embed(context.Background(), "text"); err == nil {
		t.Fatal("expected error from provider")
	}

	inner.err = nil
	inner.vec = []float32{1}
	if _, err := c.Embed(context.Background(), "text"); err != nil {
		t.Fatalf("retry after provider recovery: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("expected the failed call to stay uncached, calls=%d", inner.calls)
	}
}
