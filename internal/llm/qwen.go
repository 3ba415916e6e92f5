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

// QwenAdapter calls the Alibaba DashScope text-generation API. Its wire shape
// differs from the chat-completions providers: requests nest messages under
// "input" and tuning under "parameters", streaming requires the
// X-DashScope-SSE header plus incremental_output, and the stream ends with
// the transport instead of a [DONE] sentinel. Older deployments answer with
// output.text instead of output.choices; both are handled.
type QwenAdapter struct {
	provider       string
	desc           domain.ModelDescriptor
	apiKey         string
	client         *http.Client
	baseURL        string
	retryCfg       retry.Config
	fallbackModels []string
}

// NewQwenAdapter returns a Qwen-backed ProviderAdapter.
func NewQwenAdapter(desc domain.ModelDescriptor, apiKey string, client *http.Client, retryCfg retry.Config, fallbackModels []string) domain.ProviderAdapter {
	return &QwenAdapter{
		provider:       ProviderQwen,
		desc:           desc,
		apiKey:         apiKey,
		client:         client,
		baseURL:        desc.Endpoint,
		retryCfg:       retryCfg,
		fallbackModels: fallbackModels,
	}
}

type qwenRequest struct {
	Model      string         `json:"model"`
	Input      qwenInput      `json:"input"`
	Parameters qwenParameters `json:"parameters"`
}

type qwenInput struct {
	Messages []wireMessage `json:"messages"`
}

type qwenParameters struct {
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	MaxTokens         int     `json:"max_tokens"`
	ResultFormat      string  `json:"result_format"`
	Stream            bool    `json:"stream,omitempty"`
	IncrementalOutput bool    `json:"incremental_output,omitempty"`
}

type qwenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type qwenOutput struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

type qwenResponse struct {
	RequestID string     `json:"request_id"`
	Model     string     `json:"model"`
	Output    qwenOutput `json:"output"`
	Usage     *qwenUsage `json:"usage"`
}

// payload maps the unified request onto DashScope's nested shape, filling
// unset tuning fields from the descriptor's defaults.
func (a *QwenAdapter) payload(req domain.ChatRequest) qwenRequest {
	p := qwenRequest{
		Model: req.Model,
		Input: qwenInput{Messages: toWire(req.Messages)},
		Parameters: qwenParameters{
			Temperature:  a.desc.Temperature,
			TopP:         a.desc.TopP,
			MaxTokens:    req.MaxTokens,
			ResultFormat: "message",
		},
	}
	if p.Model == "" {
		p.Model = a.desc.ModelID
	}
	if req.Temperature != nil {
		p.Parameters.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		p.Parameters.TopP = *req.TopP
	}
	if p.Parameters.MaxTokens == 0 {
		p.Parameters.MaxTokens = a.desc.MaxTokens
	}
	if req.Stream {
		p.Parameters.Stream = true
		p.Parameters.IncrementalOutput = true
	}
	return p
}

func (a *QwenAdapter) post(ctx context.Context, body qwenRequest) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("qwen marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("qwen request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if body.Parameters.Stream {
		req.Header.Set("X-DashScope-SSE", "enable")
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qwen do: %w", err)
	}
	return resp, nil
}

// ValidateCredential implements domain.ProviderAdapter. DashScope has no
// model-listing endpoint, so a token-capped completion is the probe.
// Transient failures are retried.
func (a *QwenAdapter) ValidateCredential(ctx context.Context) bool {
	probe := a.payload(domain.ChatRequest{
		Messages:  []domain.Message{{Role: domain.RoleUser, Content: "hello"}},
		MaxTokens: 10,
	})
	ok, err := retry.Do(ctx, a.retryCfg, func() (bool, error) {
		resp, err := a.post(ctx, probe)
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

// ListModels implements domain.ProviderAdapter. DashScope advertises no
// model-listing API; the statically registered set is the answer.
func (a *QwenAdapter) ListModels(ctx context.Context) []string {
	out := make([]string, len(a.fallbackModels))
	copy(out, a.fallbackModels)
	return out
}

// StreamChatCompletion implements domain.ProviderAdapter.
func (a *QwenAdapter) StreamChatCompletion(ctx context.Context, req domain.ChatRequest) <-chan domain.CompletionChunk {
	out := make(chan domain.CompletionChunk)
	go func() {
		defer close(out)
		resp, err := a.post(ctx, a.payload(req))
		if err != nil {
			emit(ctx, out, errorChunk(a.provider, "chat completion failed", err))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			emit(ctx, out, errorChunk(a.provider, "chat completion failed", fmt.Errorf("unexpected status %s", resp.Status)))
			return
		}
		if req.Stream {
			// No sentinel: the stream ends when DashScope closes the transport.
			if err := scanStream(ctx, resp.Body, "", a.parseStreamEvent, out); err != nil {
				emit(ctx, out, errorChunk(a.provider, "stream interrupted", err))
			}
			return
		}
		var parsed qwenResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			emit(ctx, out, errorChunk(a.provider, "chat completion failed", fmt.Errorf("decode: %w", err)))
			return
		}
		emit(ctx, out, a.toChunk(parsed))
	}()
	return out
}

// toChunk extracts the single completion from a non-streaming response,
// preferring the choices form and falling back to output.text.
func (a *QwenAdapter) toChunk(parsed qwenResponse) domain.CompletionChunk {
	chunk := domain.CompletionChunk{
		ID:    parsed.RequestID,
		Role:  domain.RoleAssistant,
		Model: parsed.Model,
	}
	if len(parsed.Output.Choices) > 0 {
		choice := parsed.Output.Choices[0]
		chunk.Content = choice.Message.Content
		chunk.Role = domain.NormalizeRole(choice.Message.Role)
		chunk.FinishReason = choice.FinishReason
	} else {
		chunk.Content = parsed.Output.Text
		chunk.FinishReason = parsed.Output.FinishReason
	}
	if chunk.FinishReason == "" {
		chunk.FinishReason = "stop"
	}
	if parsed.Usage != nil {
		chunk.Usage = &domain.TokenUsage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return chunk
}

// parseStreamEvent decodes one DashScope SSE payload. Events without text are
// skipped; incremental_output makes each event a pure delta.
func (a *QwenAdapter) parseStreamEvent(payload []byte) (domain.CompletionChunk, bool) {
	var event qwenResponse
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.CompletionChunk{}, false
	}
	chunk := domain.CompletionChunk{
		ID:    event.RequestID,
		Role:  domain.RoleAssistant,
		Model: event.Model,
	}
	switch {
	case len(event.Output.Choices) > 0 && event.Output.Choices[0].Message.Content != "":
		chunk.Content = event.Output.Choices[0].Message.Content
		chunk.FinishReason = event.Output.Choices[0].FinishReason
	case event.Output.Text != "":
		chunk.Content = event.Output.Text
		chunk.FinishReason = event.Output.FinishReason
	default:
		return domain.CompletionChunk{}, false
	}
	return chunk, true
}

var _ domain.ProviderAdapter = (*QwenAdapter)(nil)
