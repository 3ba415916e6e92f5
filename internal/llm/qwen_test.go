package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"crosstalk/internal/domain"
	"crosstalk/internal/retry"
)

func TestQwenStreamChatCompletion_WhenStreaming_ShouldSendNestedPayloadAndSSEHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-DashScope-SSE"); got != "enable" {
			t.Errorf("X-DashScope-SSE = %q, want enable", got)
		}
		var payload qwenRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if len(payload.Input.Messages) != 1 || payload.Input.Messages[0].Role != "user" {
			t.Errorf("input.messages = %+v", payload.Input.Messages)
		}
		if payload.Parameters.ResultFormat != "message" {
			t.Errorf("result_format = %q", payload.Parameters.ResultFormat)
		}
		if !payload.Parameters.Stream || !payload.Parameters.IncrementalOutput {
			t.Errorf("streaming parameters not set: %+v", payload.Parameters)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data:{\"request_id\":\"r1\",\"output\":{\"choices\":[{\"message\":{\"role\":\"assistant\",\"content\":\"你\"}}]}}\n\n")
		fmt.Fprint(w, "data:{\"request_id\":\"r1\",\"output\":{\"choices\":[{\"message\":{\"role\":\"assistant\",\"content\":\"\"}}]}}\n\n")
		fmt.Fprint(w, "data:{\"request_id\":\"r1\",\"output\":{\"text\":\"好\",\"finish_reason\":\"stop\"}}\n\n")
	}))
	defer server.Close()

	adapter := NewQwenAdapter(testDescriptor(ProviderQwen, server.URL), "sk-qwen", server.Client(), retry.DefaultConfig(), nil)
	chunks := collect(adapter.StreamChatCompletion(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "human", Content: "ping"}},
		Stream:   true,
	}))

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %+v", len(chunks), chunks)
	}
	if chunks[0].Content != "你" || chunks[1].Content != "好" {
		t.Fatalf("chunk contents = %q, %q", chunks[0].Content, chunks[1].Content)
	}
	if chunks[1].FinishReason != "stop" {
		t.Fatalf("final finish reason = %q", chunks[1].FinishReason)
	}
}

func TestQwenStreamChatCompletion_WhenNotStreaming_ShouldMapUsageAndPreferChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-DashScope-SSE"); got != "" {
			t.Errorf("unexpected SSE header on non-streaming call: %q", got)
		}
		w.Write([]byte(`{
			"request_id": "r2",
			"output": {
				"choices": [{"message": {"role": "assistant", "content": "pong"}, "finish_reason": "stop"}],
				"text": "should be ignored"
			},
			"usage": {"input_tokens": 4, "output_tokens": 2, "total_tokens": 6}
		}`))
	}))
	defer server.Close()

	adapter := NewQwenAdapter(testDescriptor(ProviderQwen, server.URL), "sk-qwen", server.Client(), retry.DefaultConfig(), nil)
	chunks := collect(adapter.StreamChatCompletion(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "ping"}},
	}))

	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.ID != "r2" || c.Content != "pong" || c.FinishReason != "stop" {
		t.Fatalf("chunk = %+v", c)
	}
	if c.Usage == nil || c.Usage.PromptTokens != 4 || c.Usage.CompletionTokens != 2 || c.Usage.TotalTokens != 6 {
		t.Fatalf("usage = %+v", c.Usage)
	}
}

func TestQwenStreamChatCompletion_WhenLegacyTextResponse_ShouldFallBackToOutputText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"request_id":"r3","output":{"text":"legacy answer"}}`))
	}))
	defer server.Close()

	adapter := NewQwenAdapter(testDescriptor(ProviderQwen, server.URL), "sk-qwen", server.Client(), retry.DefaultConfig(), nil)
	chunks := collect(adapter.StreamChatCompletion(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "ping"}},
	}))

	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Content != "legacy answer" || chunks[0].FinishReason != "stop" {
		t.Fatalf("chunk = %+v", chunks[0])
	}
}

func TestQwenStreamChatCompletion_WhenExplicitZeroTuning_ShouldSendZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload qwenRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload.Parameters.Temperature != 0 || payload.Parameters.TopP != 0 {
			t.Errorf("explicit zeros overridden: %+v", payload.Parameters)
		}
		w.Write([]byte(`{"request_id":"r4","output":{"text":"ok"}}`))
	}))
	defer server.Close()

	zero := 0.0
	adapter := NewQwenAdapter(testDescriptor(ProviderQwen, server.URL), "sk-qwen", server.Client(), retry.DefaultConfig(), nil)
	chunks := collect(adapter.StreamChatCompletion(context.Background(), domain.ChatRequest{
		Messages:    []domain.Message{{Role: domain.RoleUser, Content: "ping"}},
		Temperature: &zero,
		TopP:        &zero,
	}))
	if len(chunks) != 1 || chunks[0].Err() {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func TestQwenStreamChatCompletion_WhenStatusNotOK_ShouldEmitErrorChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	adapter := NewQwenAdapter(testDescriptor(ProviderQwen, server.URL), "sk-qwen", server.Client(), retry.DefaultConfig(), nil)
	chunks := collect(adapter.StreamChatCompletion(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "ping"}},
		Stream:   true,
	}))
	if len(chunks) != 1 || !chunks[0].Err() {
		t.Fatalf("want one terminal error chunk, got %+v", chunks)
	}
}
