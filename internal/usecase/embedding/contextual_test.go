package embedding

import (
	"context"
	"strings"
	"testing"

	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/request"
)

type recordingEmbedder struct {
	lastText string
}

func (r *recordingEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	r.lastText = text
	return domain.EmbeddingResult{Embedding: []float32{0.1}}, nil
}

func TestContextual_NoTurnsEmbedsQueryAlone(t *testing.T) {
	inner := &recordingEmbedder{}
	c := NewContextual(inner, 4, nil)

	_, contextual, err := c.EmbedQuery(context.Background(), "plain query", request.NewConversation(nil))
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if contextual {
		t.Error("expected contextual=false without turns")
	}
	if inner.lastText != "plain query" {
		t.Errorf("embedded text: got %q, want the bare query", inner.lastText)
	}
}

func TestContextual_TurnsPrefixedOldestFirst(t *testing.T) {
	inner := &recordingEmbedder{}
	c := NewContextual(inner, 4, nil)

	conv := request.NewConversation([]string{"tell me about databases", "which ones scale"})
	_, contextual, err := c.EmbedQuery(context.Background(), "what about the second one", conv)
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}
	if !contextual {
		t.Error("expected contextual=true with turns")
	}

	first := strings.Index(inner.lastText, "tell me about databases")
	second := strings.Index(inner.lastText, "which ones scale")
	query := strings.Index(inner.lastText, "what about the second one")
	if first == -1 || second == -1 || query == -1 {
		t.Fatalf("embedded text missing parts: %q", inner.lastText)
	}
	if !(first < second && second < query) {
		t.Errorf("expected oldest-first ordering with the query last: %q", inner.lastText)
	}
}

func TestContextual_TurnsCapped(t *testing.T) {
	inner := &recordingEmbedder{}
	c := NewContextual(inner, 2, nil)

	conv := request.NewConversation([]string{"turn-one", "turn-two", "turn-three"})
	_, _, err := c.EmbedQuery(context.Background(), "query", conv)
	if err != nil {
		t.Fatalf("EmbedQuery: %v", err)
	}

	if strings.Contains(inner.lastText, "turn-one") {
		t.Errorf("oldest turn should be dropped past the cap: %q", inner.lastText)
	}
	if !strings.Contains(inner.lastText, "turn-two") || !strings.Contains(inner.lastText, "turn-three") {
		t.Errorf("recent turns missing: %q", inner.lastText)
	}
}

func TestContextual_FingerprintSeparatesContext(t *testing.T) {
	// Two requests with the same query but different context must embed
	// different texts, so their vectors (and cache entries) never collide.
	inner := &recordingEmbedder{}
	c := NewContextual(inner, 4, nil)

	_, _, _ = c.EmbedQuery(context.Background(), "query", request.NewConversation(nil))
	bare := inner.lastText

	_, _, _ = c.EmbedQuery(context.Background(), "query", request.NewConversation([]string{"context"}))
	withCtx := inner.lastText

	if bare == withCtx {
		t.Error("contextual and bare embeddings must use different input texts")
	}
}
