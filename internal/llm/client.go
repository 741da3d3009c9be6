package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrEmptyResponse = errors.New("empty completion")

type Client struct {
	provider Provider
}

func New(provider Provider) *Client {
	return &Client{provider: provider}
}

func (c *Client) Provider() string {
	return c.provider.Name()
}

func (c *Client) Complete(ctx context.Context, prompt string, opts ...CompletionOption) (*CompletionResponse, error) {
	req := CompletionRequest{
		Messages: []Message{
			{Role: RoleUser, Content: prompt},
		},
	}
	for _, opt := range opts {
		opt(&req)
	}

	resp, err := c.provider.Complete(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("provider", c.provider.Name()).Msg("completion failed")
		return nil, err
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return nil, ErrEmptyResponse
	}
	log.Debug().
		Str("provider", c.provider.Name()).
		Str("finish_reason", resp.FinishReason).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("completion received")
	return resp, nil
}

type CompletionOption func(*CompletionRequest)

func WithSystemPrompt(prompt string) CompletionOption {
	return func(req *CompletionRequest) {
		req.SystemPrompt = prompt
	}
}

func WithTemperature(temp float64) CompletionOption {
	return func(req *CompletionRequest) {
		req.Temperature = temp
	}
}

func WithMaxTokens(max int) CompletionOption {
	return func(req *CompletionRequest) {
		req.MaxTokens = max
	}
}

// WithMessages prepends earlier conversation turns before the prompt.
func WithMessages(history ...Message) CompletionOption {
	return func(req *CompletionRequest) {
		req.Messages = append(append([]Message(nil), history...), req.Messages...)
	}
}
