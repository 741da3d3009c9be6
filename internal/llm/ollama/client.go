package ollama

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"dailytrader/internal/llm"
)

const DefaultBaseURL = "http://localhost:11434"

type Client struct {
	model string
	http  *resty.Client
}

func New(baseURL, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	http := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")
	if timeout > 0 {
		http.SetTimeout(timeout)
	}
	return &Client{model: model, http: http}
}

func (c *Client) Name() string {
	return "ollama"
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
		Model:    c.model,
		Messages: messages,
		Stream:   false,
	}
	options := map[string]any{}
	if req.Temperature != 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if len(options) > 0 {
		chatReq.Options = options
	}

	var chatResp ChatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatReq).
		SetResult(&chatResp).
		Post("/api/chat")
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if resp.IsError() {
		return nil, &llm.HTTPError{Provider: c.Name(), StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}

	return &llm.CompletionResponse{
		Message: llm.Message{
			Role:    llm.Role(chatResp.Message.Role),
			Content: chatResp.Message.Content,
		},
		FinishReason: chatResp.DoneReason,
		Usage: llm.Usage{
			PromptTokens:     chatResp.PromptEvalCount,
			CompletionTokens: chatResp.EvalCount,
		},
	}, nil
}
