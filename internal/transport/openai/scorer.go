package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const scoreSystemPrompt = `You grade search results. Given a query and a numbered list of item IDs with snippets, score each item's relevance to the query from 0.0 to 1.0. Respond with a JSON object mapping item ID to score and nothing else.`

// Scorer grades candidate relevance via a single chat completion per batch.
type Scorer struct {
	client *openai.Client
	model  string
	user   string
	logger *zap.Logger
}

// NewScorer creates an OpenAI-compatible relevance scorer.
func NewScorer(cfg *Config) *Scorer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	return &Scorer{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		user:   cfg.User,
		logger: cfg.Logger,
	}
}

// Score returns a relevance score per item ID. IDs absent from the response
// are simply missing from the map; callers fall back for those.
func (s *Scorer) Score(ctx context.Context, query string, itemIDs []string) (map[string]float64, error) {
	if len(itemIDs) == 0 {
		return map[string]float64{}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nItems:\n", query)
	for i, id := range itemIDs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, id)
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: scoreSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
		Temperature: 0,
		User:        s.user,
	})
	if err != nil {
		return nil, parseAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty scoring response")
	}

	return parseScores(resp.Choices[0].Message.Content)
}

func parseScores(content string) (map[string]float64, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var scores map[string]float64
	if err := json.Unmarshal([]byte(content), &scores); err != nil {
		return nil, fmt.Errorf("parse scoring response: %w", err)
	}

	for id, score := range scores {
		if score < 0 {
			scores[id] = 0
		} else if score > 1 {
			scores[id] = 1
		}
	}
	return scores, nil
}
