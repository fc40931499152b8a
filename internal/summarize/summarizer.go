// SPDX-License-Identifier: MIT

// Package summarize produces the briefing summary handed to the receiving
// agent. Failures are never fatal to a transfer: callers degrade to an
// empty summary.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"github.com/warmline/warmline/internal/log"
)

// ErrUnavailable indicates the summarization collaborator could not produce
// a summary. Transfers proceed with an empty summary when they see it.
var ErrUnavailable = errors.New("summarize: collaborator unavailable")

const systemPrompt = "You are a helpful assistant that creates concise call summaries " +
	"for warm transfers. Keep it under 50 words and include key details for the " +
	"next agent. Be professional and clear."

// CallMetadata carries the session facts included alongside the free-text context.
type CallMetadata struct {
	SessionID      string
	CallerIdentity string
	AgentIdentity  string
}

// Summarizer wraps the chat-completion collaborator.
type Summarizer struct {
	client  openai.Client
	model   string
	timeout time.Duration
	logger  zerolog.Logger
}

// Config holds summarizer collaborator settings.
type Config struct {
	APIKey  string
	BaseURL string // optional, for OpenAI-compatible providers
	Model   string
	Timeout time.Duration
}

func New(cfg Config) *Summarizer {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "llama-3.1-8b-instant"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Summarizer{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: timeout,
		logger:  log.WithComponent("summarize"),
	}
}

// Summarize returns a briefing summary for the given context and metadata.
func (s *Summarizer) Summarize(ctx context.Context, contextText string, meta CallMetadata) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt := fmt.Sprintf("Create a warm transfer summary for this call context: %s", contextText)
	if meta.CallerIdentity != "" {
		prompt += fmt.Sprintf("\nCaller: %s, current agent: %s, session: %s",
			meta.CallerIdentity, meta.AgentIdentity, meta.SessionID)
	}

	start := time.Now()
	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		MaxCompletionTokens: openai.Int(100),
		Temperature:         openai.Float(0.1),
	})
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("event", "summarize.failed").
			Str(log.FieldSessionID, meta.SessionID).
			Msg("summarization collaborator failed")
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrUnavailable)
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	s.logger.Debug().
		Str("event", "summarize.completed").
		Str(log.FieldSessionID, meta.SessionID).
		Dur("duration", time.Since(start)).
		Msg("generated transfer summary")
	return summary, nil
}
