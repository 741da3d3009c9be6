package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dailytrader/internal/llm"
)

func TestCompleteParsesFirstChoice(t *testing.T) {
	var got ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","choices":[{"index":0,"message":{"role":"assistant","content":"ACTION: BUY"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":3}}`))
	}))
	defer server.Close()

	client := New(server.URL, "secret", "grok-test", 5*time.Second)
	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "packet"}},
		SystemPrompt: "rules",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Message.Content != "ACTION: BUY" || resp.Usage.PromptTokens != 10 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got.Model != "grok-test" || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.Temperature != nil {
		t.Fatalf("temperature should be omitted when unset")
	}
}

func TestCompleteServerErrorIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL, "k", "m", time.Second).Complete(context.Background(), llm.CompletionRequest{})
	var httpErr *llm.HTTPError
	if !errors.As(err, &httpErr) || !httpErr.Temporary() {
		t.Fatalf("expected temporary HTTPError, got %v", err)
	}
}

func TestCompleteNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","choices":[]}`))
	}))
	defer server.Close()

	_, err := New(server.URL, "k", "m", time.Second).Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrNoChoices) {
		t.Fatalf("expected ErrNoChoices, got %v", err)
	}
}
