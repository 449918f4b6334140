package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const expandSystemPrompt = `You rewrite search queries. Given a user query, produce up to %d alternative phrasings that preserve the meaning but vary the wording (synonyms, expanded abbreviations, reordered terms). Respond with a JSON array of strings and nothing else.`

// Expander generates alternative query phrasings via a chat completion.
type Expander struct {
	client      *openai.Client
	model       string
	maxVariants int
	user        string
	logger      *zap.Logger
}

// NewExpander creates an OpenAI-compatible query expander.
func NewExpander(cfg *Config, maxVariants int) *Expander {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	return &Expander{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxVariants: maxVariants,
		user:        cfg.User,
		logger:      cfg.Logger,
	}
}

// Expand returns alternative phrasings of the query. The original query is
// not included; callers decide how to combine variants with it.
func (e *Expander) Expand(ctx context.Context, query string) ([]string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(expandSystemPrompt, e.maxVariants)},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
		Temperature: 0.3,
		User:        e.user,
	})
	if err != nil {
		return nil, parseAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty expansion response")
	}

	variants, err := parseVariants(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	if len(variants) > e.maxVariants {
		variants = variants[:e.maxVariants]
	}
	return variants, nil
}

// parseVariants reads a JSON string array, tolerating a fenced code block
// around it.
func parseVariants(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var variants []string
	if err := json.Unmarshal([]byte(content), &variants); err != nil {
		return nil, fmt.Errorf("parse expansion response: %w", err)
	}

	out := make([]string, 0, len(variants))
	for _, v := range variants {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}
