// Package session orchestrates one chat turn: load history, reset when asked,
// append the user message, trim to the context window, stream the completion,
// and persist the accumulated assistant reply. It is agnostic to which
// ConversationStore implementation is active.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"crosstalk/internal/catalog"
	"crosstalk/internal/domain"
	"crosstalk/internal/llm"
	"crosstalk/internal/window"
)

// defaultSystemPrompts are the standing instructions injected into a fresh
// conversation, keyed by provider.
var defaultSystemPrompts = map[string]string{
	llm.ProviderDeepSeek: "You are a helpful AI assistant specialized in code generation and software development. Please provide clear, well-documented, and efficient code solutions.",
	llm.ProviderQwen:     "You are a professional AI programming assistant, skilled in code generation and software development. Please provide clear, well-documented, and efficient code solutions.",
	llm.ProviderKimi:     "You are an intelligent AI assistant, skilled in handling complex programming tasks and long document analysis. Please provide detailed code explanations and solutions.",
	llm.ProviderDoubao:   "You are an efficient AI programming assistant, skilled in code generation and problem solving. Please provide concise and clear code and explanations.",
}

// Session ties the catalog, adapter registry, credential source, optimizer,
// and conversation store together. Construct once at startup; safe for
// concurrent use across distinct (project, provider) keys. Two concurrent
// turns racing on the same key are last-writer-wins by design.
type Session struct {
	store     domain.ConversationStore
	catalog   *catalog.Catalog
	registry  *llm.Registry
	creds     domain.CredentialSource
	counter   domain.TokenCounter
	optimizer *window.Optimizer
	prompts   map[string]string
	logger    *slog.Logger

	// DisableStreaming forces single-shot completions even for models that
	// support streaming. The channel API is unchanged; the sequence just
	// carries one chunk.
	DisableStreaming bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger; nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithSystemPrompts replaces the per-provider system prompt table.
func WithSystemPrompts(prompts map[string]string) Option {
	return func(s *Session) { s.prompts = prompts }
}

// New creates a Session. All dependencies are required except the options.
func New(store domain.ConversationStore, cat *catalog.Catalog, registry *llm.Registry, creds domain.CredentialSource, counter domain.TokenCounter, optimizer *window.Optimizer, opts ...Option) *Session {
	s := &Session{
		store:     store,
		catalog:   cat,
		registry:  registry,
		creds:     creds,
		counter:   counter,
		optimizer: optimizer,
		prompts:   defaultSystemPrompts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// AdapterFor resolves the descriptor for (provider, modelID) and builds its
// adapter with the project's credential. Returns domain.ErrUnknownProvider
// for unregistered providers and domain.ErrMissingCredential when no usable
// key exists.
func (s *Session) AdapterFor(providerID, modelID, projectID string) (domain.ProviderAdapter, *domain.ModelDescriptor, error) {
	desc, err := s.catalog.Resolve(providerID, modelID)
	if err != nil {
		return nil, nil, err
	}
	key, ok := s.creds.Get(providerID, projectID)
	if !ok {
		return nil, nil, fmt.Errorf("session: %s (set %s): %w", providerID, desc.APIKeyEnv, domain.ErrMissingCredential)
	}
	adapter, err := s.registry.New(*desc, key, s.catalog.ModelIDs(providerID))
	if err != nil {
		return nil, nil, err
	}
	return adapter, desc, nil
}

// StreamChatCompletion runs one turn against the provider and returns the
// normalized chunk sequence. An unknown provider is returned as an immediate
// error; a missing credential is surfaced as a single terminal chunk on the
// sequence instead, matching how every in-stream failure is reported. The
// caller must drain the channel or cancel ctx; abandoning the stream discards
// the partially accumulated reply.
func (s *Session) StreamChatCompletion(ctx context.Context, projectID, providerID, modelID, instruction string, images []string, isInitialPrompt bool) (<-chan domain.CompletionChunk, error) {
	desc, err := s.catalog.Resolve(providerID, modelID)
	if err != nil {
		return nil, err
	}

	key, ok := s.creds.Get(providerID, projectID)
	if !ok {
		return terminal(missingCredentialChunk(providerID, desc.APIKeyEnv)), nil
	}

	adapter, err := s.registry.New(*desc, key, s.catalog.ModelIDs(providerID))
	if err != nil {
		return nil, err
	}

	conversation, err := s.store.Load(ctx, projectID, providerID)
	if err != nil {
		return nil, err
	}

	if isInitialPrompt {
		if _, err := s.store.Clear(ctx, projectID, providerID); err != nil {
			return nil, err
		}
		conversation = nil
		s.log().Info("starting new conversation", "project", projectID, "provider", providerID)
	}

	// A system prompt is injected only into an empty conversation, never
	// appended a second time into a non-empty history.
	if len(conversation) == 0 {
		if prompt := s.prompts[providerID]; prompt != "" {
			conversation = append(conversation, domain.Message{Role: domain.RoleSystem, Content: prompt})
		}
	}

	userMsg := domain.Message{Role: domain.RoleUser, Content: instruction}
	if desc.SupportsImages {
		userMsg.Images = images
	}
	conversation = append(conversation, userMsg)

	// The optimizer works on a transient copy; the full conversation is what
	// gets persisted after the turn completes.
	trimmed := s.optimizer.Fit(conversation, desc.ContextWindow)

	// Temperature and TopP stay nil so the adapter applies the descriptor's
	// defaults at the wire boundary.
	req := domain.ChatRequest{
		Messages:  trimmed,
		Model:     desc.ModelID,
		MaxTokens: desc.MaxTokens,
		Stream:    desc.SupportsStreaming && !s.DisableStreaming,
	}

	out := make(chan domain.CompletionChunk)
	go s.run(ctx, adapter, req, conversation, projectID, providerID, out)
	return out, nil
}

// run forwards chunks to the caller while accumulating assistant text, then
// persists the turn. Nothing is persisted when the accumulated text is empty,
// when an error chunk was seen, or when the caller abandoned the stream.
func (s *Session) run(ctx context.Context, adapter domain.ProviderAdapter, req domain.ChatRequest, conversation []domain.Message, projectID, providerID string, out chan<- domain.CompletionChunk) {
	defer close(out)

	var acc strings.Builder
	failed := false
	for chunk := range adapter.StreamChatCompletion(ctx, req) {
		if chunk.Err() {
			failed = true
		} else {
			acc.WriteString(chunk.Content)
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}
	}

	// The adapter closes its channel on cancellation too; an abandoned turn
	// must not persist the partially accumulated reply.
	if ctx.Err() != nil {
		return
	}

	reply := strings.TrimSpace(acc.String())
	if failed || reply == "" {
		return
	}

	conversation = append(conversation, domain.Message{Role: domain.RoleAssistant, Content: reply})
	if err := s.store.Save(ctx, projectID, providerID, conversation); err != nil {
		s.log().Error("failed to persist conversation", "project", projectID, "provider", providerID, "error", err)
		select {
		case out <- domain.CompletionChunk{
			Content:      fmt.Sprintf("failed to persist conversation: %v", err),
			Role:         domain.RoleAssistant,
			FinishReason: domain.FinishReasonError,
		}:
		case <-ctx.Done():
		}
		return
	}
	s.log().Debug("saved assistant reply", "project", projectID, "provider", providerID, "chars", len(reply))
}

// Summary returns the caller-facing digest of the stored conversation,
// including an estimated token cost of the whole log.
func (s *Session) Summary(ctx context.Context, projectID, providerID string) (domain.ConversationSummary, error) {
	conversation, err := s.store.Load(ctx, projectID, providerID)
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	summary := domain.ConversationSummary{
		Provider:      providerID,
		TotalMessages: len(conversation),
	}
	for _, msg := range conversation {
		switch msg.Role {
		case domain.RoleUser:
			summary.UserMessages++
		case domain.RoleAssistant:
			summary.AssistantMessages++
		case domain.RoleSystem:
			summary.HasSystemPrompt = true
		}
		summary.EstimatedTokens += s.counter.MessageCost(msg)
	}
	return summary, nil
}

// Clear deletes the stored conversation and returns the count removed.
// Clearing an already-empty conversation removes zero records and is not an
// error.
func (s *Session) Clear(ctx context.Context, projectID, providerID string) (int64, error) {
	return s.store.Clear(ctx, projectID, providerID)
}

// terminal returns a closed channel carrying exactly the given chunk.
func terminal(chunk domain.CompletionChunk) <-chan domain.CompletionChunk {
	out := make(chan domain.CompletionChunk, 1)
	out <- chunk
	close(out)
	return out
}

func missingCredentialChunk(providerID, envName string) domain.CompletionChunk {
	return domain.CompletionChunk{
		Content:      fmt.Sprintf("API key not found for %s. Please set %s", providerID, envName),
		Role:         domain.RoleAssistant,
		FinishReason: domain.FinishReasonError,
	}
}
