// Package embedding decorates the raw embedding provider with the concerns
// the retrieval pipeline needs: conversation-aware query embedding and an
// in-process result cache.
package embedding

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fuseline/fuseline/internal/domain"
	"github.com/fuseline/fuseline/internal/domain/search/request"
)

// Contextual embeds queries with recent conversation turns folded in, so a
// follow-up like "what about the second one" lands near the thread's topic
// instead of nowhere.
type Contextual struct {
	inner    domain.Embedder
	maxTurns int
	logger   *zap.Logger
}

// NewContextual creates a contextual embedder. maxTurns bounds how many of
// the most recent turns are folded into the embedded text.
func NewContextual(inner domain.Embedder, maxTurns int, logger *zap.Logger) *Contextual {
	if maxTurns <= 0 {
		maxTurns = request.MaxConversationTurns
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Contextual{inner: inner, maxTurns: maxTurns, logger: logger}
}

// EmbedQuery embeds the query, prefixed with recent conversation turns when
// present. The boolean reports whether context was used, surfaced to clients
// as the "contextual" response flag.
func (c *Contextual) EmbedQuery(
	ctx context.Context, query string, conv request.Conversation,
) (domain.EmbeddingResult, bool, error) {
	text, contextual := c.compose(query, conv)

	res, err := c.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, contextual, err
	}
	return res, contextual, nil
}

// Embed implements domain.Embedder for context-free callers.
func (c *Contextual) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	return c.inner.Embed(ctx, text)
}

// compose builds the embedding input. Turns appear oldest first so the most
// recent turn sits adjacent to the query, where embedding models weight
// nearby text most.
func (c *Contextual) compose(query string, conv request.Conversation) (string, bool) {
	turns := conv.Turns()
	if len(turns) == 0 {
		return query, false
	}
	if len(turns) > c.maxTurns {
		turns = turns[len(turns)-c.maxTurns:]
	}

	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(query)
	return b.String(), true
}
