package domain

import (
	"context"
	"errors"
)

// Error taxonomy. UnknownProvider and MissingCredential are fatal for the
// request and surfaced immediately; transport and decode failures inside a
// stream collapse to a terminal chunk instead (see CompletionChunk).
var (
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrMissingCredential = errors.New("missing credential")
	ErrPersistence       = errors.New("persistence failure")
)

// ProviderAdapter translates between the unified message model and one
// provider's wire format. Implementations are OpenAI-shaped providers,
// DashScope, or mocks.
type ProviderAdapter interface {
	// ValidateCredential issues a minimal probe request and reports whether the
	// key is usable. All failure modes (network, parse, non-200) collapse to
	// false; this method never returns an error.
	ValidateCredential(ctx context.Context) bool

	// ListModels returns the provider-advertised model ids. On any failure it
	// falls back to the statically registered set rather than propagating the
	// error.
	ListModels(ctx context.Context) []string

	// StreamChatCompletion runs one completion and returns a finite,
	// one-shot sequence of chunks. With req.Stream false the channel yields
	// exactly one final result; with it true, zero or more partial results.
	// The channel closing is the end-of-stream signal — there is no explicit
	// done event. Transport and decode failures are converted into a single
	// terminal chunk with an error finish reason. Cancelling ctx releases the
	// underlying connection promptly.
	StreamChatCompletion(ctx context.Context, req ChatRequest) <-chan CompletionChunk
}

// ConversationStore owns persisted message ordering and identity for
// (project, provider) keyed conversations. Save is a full replace inside one
// atomic transaction; Load reconstructs order strictly by sequence number.
type ConversationStore interface {
	// Load returns the stored conversation, empty (not error) if none exists.
	Load(ctx context.Context, projectID, provider string) ([]Message, error)

	// Save replaces all messages for the key with the given sequence, assigning
	// sequence numbers equal to list position. Failure rolls back entirely.
	Save(ctx context.Context, projectID, provider string, messages []Message) error

	// Clear deletes all messages for the key and returns the count removed.
	Clear(ctx context.Context, projectID, provider string) (int64, error)
}

// TokenCounter estimates token cost for context-window budgeting.
type TokenCounter interface {
	// CountTokens returns the token count for the given text.
	CountTokens(text string) int

	// MessageCost returns the text cost plus the flat per-image surcharge.
	MessageCost(msg Message) int
}

// CredentialSource resolves an API key for a provider. Project-scoped
// resolution takes precedence over the process-wide fallback. Key storage and
// encryption are the collaborator's concern, not this library's.
type CredentialSource interface {
	// Get returns the credential for provider, preferring a project-scoped
	// entry when projectID is non-empty. ok is false when no usable key exists.
	Get(provider, projectID string) (key string, ok bool)
}
