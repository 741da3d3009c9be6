// Package openai talks to OpenAI-compatible chat completion endpoints such as
// the x.AI Grok API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"dailytrader/internal/llm"
)

const DefaultBaseURL = "https://api.x.ai/v1"

var ErrNoChoices = errors.New("completion has no choices")

type Client struct {
	model string
	http  *resty.Client
}

func New(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	http := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json")
	if timeout > 0 {
		http.SetTimeout(timeout)
	}
	return &Client{model: model, http: http}
}

func (c *Client) Name() string {
	return "openai"
}

func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: string(llm.RoleSystem), Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, Message{Role: string(m.Role), Content: m.Content})
	}

	chatReq := ChatRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != 0 {
		temp := req.Temperature
		chatReq.Temperature = &temp
	}

	var chatResp ChatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatReq).
		SetResult(&chatResp).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if resp.IsError() {
		return nil, &llm.HTTPError{Provider: c.Name(), StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	if len(chatResp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	choice := chatResp.Choices[0]
	return &llm.CompletionResponse{
		Message: llm.Message{
			Role:    llm.Role(choice.Message.Role),
			Content: choice.Message.Content,
		},
		FinishReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
		},
	}, nil
}
