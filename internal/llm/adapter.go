// Package llm contains the provider adapters. Each adapter translates the
// unified message model into one provider's wire format, decodes streaming
// chunks, and converts every transport or decode failure into a terminal
// chunk with an error finish reason — the streaming path never returns a Go
// error to the caller.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"crosstalk/internal/domain"
	"crosstalk/internal/retry"
)

// DefaultTimeout bounds one completion request end to end, matching the
// original deployments' transport default. Configurable via NewRegistry.
const DefaultTimeout = 60 * time.Second

// Provider identifiers. These are the keys callers use to select an adapter.
const (
	ProviderDeepSeek = "deepseek"
	ProviderQwen     = "qwen"
	ProviderKimi     = "kimi"
	ProviderDoubao   = "doubao"
)

// Constructor builds an adapter for one resolved model descriptor.
// retryCfg is the backoff policy for idempotent probes; fallbackModels is
// the statically registered model id set for the provider, returned by
// ListModels when the live call fails.
type Constructor func(desc domain.ModelDescriptor, apiKey string, client *http.Client, retryCfg retry.Config, fallbackModels []string) domain.ProviderAdapter

// Registry maps provider ids to adapter constructors. It is an explicit value
// constructed once at startup and passed into the session layer — there is no
// ambient global registry.
type Registry struct {
	constructors map[string]Constructor
	client       *http.Client
	retryCfg     retry.Config
}

// NewRegistry returns a Registry with all built-in providers registered, a
// shared HTTP client bounded by timeout (zero means DefaultTimeout), and the
// default probe retry policy.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	r := &Registry{
		constructors: make(map[string]Constructor),
		client:       &http.Client{Timeout: timeout},
		retryCfg:     retry.DefaultConfig(),
	}
	r.Register(ProviderDeepSeek, NewDeepSeekAdapter)
	r.Register(ProviderQwen, NewQwenAdapter)
	r.Register(ProviderKimi, NewKimiAdapter)
	r.Register(ProviderDoubao, NewDoubaoAdapter)
	return r
}

// Register adds or replaces a constructor. Intended for process init only;
// Registry is not safe for concurrent mutation.
func (r *Registry) Register(provider string, ctor Constructor) {
	r.constructors[provider] = ctor
}

// SetRetryPolicy replaces the probe retry policy applied to adapters built
// afterwards. Intended for process init only.
func (r *Registry) SetRetryPolicy(cfg retry.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.retryCfg = cfg
	return nil
}

// New builds an adapter for the descriptor's provider. Returns
// domain.ErrUnknownProvider when no constructor is registered.
func (r *Registry) New(desc domain.ModelDescriptor, apiKey string, fallbackModels []string) (domain.ProviderAdapter, error) {
	ctor, ok := r.constructors[desc.Provider]
	if !ok {
		return nil, fmt.Errorf("llm: %q: %w", desc.Provider, domain.ErrUnknownProvider)
	}
	return ctor(desc, apiKey, r.client, r.retryCfg, fallbackModels), nil
}

// Providers returns the registered provider ids.
func (r *Registry) Providers() []string {
	out := make([]string, 0, len(r.constructors))
	for p := range r.constructors {
		out = append(out, p)
	}
	return out
}

// wireMessage is the role/content pair all four providers accept.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// toWire normalizes roles and flattens messages for the provider boundary.
func toWire(messages []domain.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, wireMessage{
			Role:    string(domain.NormalizeRole(string(m.Role))),
			Content: m.Content,
		})
	}
	return out
}

// errorChunk converts a failure into the single terminal chunk the caller
// sees. The message format mirrors the provider-tagged errors operators are
// used to grepping for.
func errorChunk(provider, context string, err error) domain.CompletionChunk {
	return domain.CompletionChunk{
		ID:           uuid.NewString(),
		Content:      fmt.Sprintf("[%s] %s: %v", strings.ToUpper(provider), context, err),
		Role:         domain.RoleAssistant,
		FinishReason: domain.FinishReasonError,
	}
}

// emit sends one chunk, giving up when the consumer abandoned the stream.
func emit(ctx context.Context, out chan<- domain.CompletionChunk, chunk domain.CompletionChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
