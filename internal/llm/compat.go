package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"crosstalk/internal/domain"
	"crosstalk/internal/retry"
)

// compat implements the flat chat-completions protocol shared by DeepSeek,
// Kimi, and Doubao: a {model, messages, temperature, max_tokens, top_p,
// stream} payload, first-choice response extraction, and "data: " framed
// streaming terminated by a [DONE] sentinel. Provider-specific adapters embed
// it and override the probe and model-listing calls where their provider
// offers something better.
type compat struct {
	provider       string
	desc           domain.ModelDescriptor
	apiKey         string
	client         *http.Client
	baseURL        string
	retryCfg       retry.Config
	fallbackModels []string
}

func newCompat(provider string, desc domain.ModelDescriptor, apiKey string, client *http.Client, retryCfg retry.Config, fallbackModels []string) compat {
	return compat{
		provider:       provider,
		desc:           desc,
		apiKey:         apiKey,
		client:         client,
		baseURL:        desc.Endpoint,
		retryCfg:       retryCfg,
		fallbackModels: fallbackModels,
	}
}

type chatPayload struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float64       `json:"top_p"`
	Stream      bool          `json:"stream"`
}

type chatChoice struct {
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Usage   *domain.TokenUsage `json:"usage"`
	Choices []chatChoice       `json:"choices"`
}

type chatStreamEvent struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// payload maps the unified request onto the wire shape, filling unset tuning
// fields from the descriptor's defaults.
func (c *compat) payload(req domain.ChatRequest) chatPayload {
	p := chatPayload{
		Model:       req.Model,
		Messages:    toWire(req.Messages),
		Temperature: c.desc.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        c.desc.TopP,
		Stream:      req.Stream,
	}
	if p.Model == "" {
		p.Model = c.desc.ModelID
	}
	if req.Temperature != nil {
		p.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		p.TopP = *req.TopP
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = c.desc.MaxTokens
	}
	return p
}

// post issues one JSON POST against the chat completions endpoint. The caller
// owns the response body.
func (c *compat) post(ctx context.Context, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s marshal: %w", c.provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", c.provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s do: %w", c.provider, err)
	}
	return resp, nil
}

// ValidateCredential implements domain.ProviderAdapter with a minimal,
// token-capped completion probe. The probe is idempotent, so transient
// failures are retried. Never returns an error: every failure mode resolves
// to false.
func (c *compat) ValidateCredential(ctx context.Context) bool {
	probe := c.payload(domain.ChatRequest{
		Messages:  []domain.Message{{Role: domain.RoleUser, Content: "hello"}},
		MaxTokens: 10,
	})
	ok, err := retry.Do(ctx, c.retryCfg, func() (bool, error) {
		resp, err := c.post(ctx, probe)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return false, fmt.Errorf("probe status %s", resp.Status)
		}
		return resp.StatusCode == http.StatusOK, nil
	})
	return err == nil && ok
}

// ListModels implements domain.ProviderAdapter. The base protocol has no
// model-listing endpoint, so the statically registered set is returned.
func (c *compat) ListModels(ctx context.Context) []string {
	out := make([]string, len(c.fallbackModels))
	copy(out, c.fallbackModels)
	return out
}

// StreamChatCompletion implements domain.ProviderAdapter. The returned channel
// is closed when the sequence ends; failures surface as one terminal chunk.
func (c *compat) StreamChatCompletion(ctx context.Context, req domain.ChatRequest) <-chan domain.CompletionChunk {
	out := make(chan domain.CompletionChunk)
	go func() {
		defer close(out)
		if req.Stream {
			c.streamCompletion(ctx, req, out)
		} else {
			c.singleCompletion(ctx, req, out)
		}
	}()
	return out
}

func (c *compat) singleCompletion(ctx context.Context, req domain.ChatRequest, out chan<- domain.CompletionChunk) {
	resp, err := c.post(ctx, c.payload(req))
	if err != nil {
		emit(ctx, out, errorChunk(c.provider, "chat completion failed", err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		emit(ctx, out, errorChunk(c.provider, "chat completion failed", fmt.Errorf("unexpected status %s", resp.Status)))
		return
	}
	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		emit(ctx, out, errorChunk(c.provider, "chat completion failed", fmt.Errorf("decode: %w", err)))
		return
	}
	if len(parsed.Choices) == 0 {
		emit(ctx, out, errorChunk(c.provider, "chat completion failed", fmt.Errorf("no choices in response")))
		return
	}
	choice := parsed.Choices[0]
	emit(ctx, out, domain.CompletionChunk{
		ID:           parsed.ID,
		Content:      choice.Message.Content,
		Role:         domain.NormalizeRole(choice.Message.Role),
		FinishReason: choice.FinishReason,
		Usage:        parsed.Usage,
		Model:        parsed.Model,
	})
}

func (c *compat) streamCompletion(ctx context.Context, req domain.ChatRequest, out chan<- domain.CompletionChunk) {
	resp, err := c.post(ctx, c.payload(req))
	if err != nil {
		emit(ctx, out, errorChunk(c.provider, "chat completion failed", err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		emit(ctx, out, errorChunk(c.provider, "chat completion failed", fmt.Errorf("unexpected status %s", resp.Status)))
		return
	}
	if err := scanStream(ctx, resp.Body, doneSentinel, c.parseStreamEvent, out); err != nil {
		emit(ctx, out, errorChunk(c.provider, "stream interrupted", err))
	}
}

// parseStreamEvent decodes one data: payload. Malformed or content-free
// events are rejected and skipped by the scanner.
func (c *compat) parseStreamEvent(payload []byte) (domain.CompletionChunk, bool) {
	var event chatStreamEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.CompletionChunk{}, false
	}
	if len(event.Choices) == 0 {
		return domain.CompletionChunk{}, false
	}
	choice := event.Choices[0]
	if choice.Delta.Content == "" {
		return domain.CompletionChunk{}, false
	}
	return domain.CompletionChunk{
		ID:           event.ID,
		Content:      choice.Delta.Content,
		Role:         domain.RoleAssistant,
		FinishReason: choice.FinishReason,
		Model:        event.Model,
	}, true
}
