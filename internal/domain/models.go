package domain

import "strings"

// =============================================================================
// Messages
// =============================================================================

type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one chat turn. Messages are value types and treated as immutable
// once created; ordering within a conversation is significant.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
	Images  []string    `json:"images,omitempty"` // base64-encoded payloads
}

// roleAliases maps the role names providers emit to the canonical set.
var roleAliases = map[string]MessageRole{
	"system":    RoleSystem,
	"user":      RoleUser,
	"human":     RoleUser,
	"assistant": RoleAssistant,
	"model":     RoleAssistant,
	"ai":        RoleAssistant,
	"bot":       RoleAssistant,
}

// NormalizeRole maps provider role names onto the canonical system/user/assistant
// set. Unknown roles are lowercased and passed through unchanged.
func NormalizeRole(role string) MessageRole {
	lower := strings.ToLower(role)
	if r, ok := roleAliases[lower]; ok {
		return r
	}
	return MessageRole(lower)
}

// =============================================================================
// Model Catalog
// =============================================================================

// ModelDescriptor describes one model offered by a provider. Descriptors are
// read-only and registered once at process start.
type ModelDescriptor struct {
	Provider          string  `yaml:"provider" json:"provider"`
	ModelID           string  `yaml:"model_id" json:"modelId"`
	DisplayName       string  `yaml:"display_name" json:"displayName"`
	Description       string  `yaml:"description,omitempty" json:"description,omitempty"`
	MaxTokens         int     `yaml:"max_tokens" json:"maxTokens"`
	ContextWindow     int     `yaml:"context_window" json:"contextWindow"`
	Temperature       float64 `yaml:"temperature" json:"temperature"`
	TopP              float64 `yaml:"top_p" json:"topP"`
	SupportsStreaming bool    `yaml:"supports_streaming" json:"supportsStreaming"`
	SupportsImages    bool    `yaml:"supports_images" json:"supportsImages"`
	Endpoint          string  `yaml:"endpoint" json:"endpoint"`
	APIKeyEnv         string  `yaml:"api_key_env" json:"apiKeyEnv"`
}

// =============================================================================
// Completion Protocol
// =============================================================================

// ChatRequest is the provider-agnostic completion request. Adapters translate
// it into their provider's payload shape. Temperature and TopP are pointers
// so an explicit zero is distinguishable from unset; nil means the model
// descriptor's default.
type ChatRequest struct {
	Messages    []Message
	Model       string
	Temperature *float64
	TopP        *float64
	MaxTokens   int
	Stream      bool
}

// TokenUsage reports token consumption when the provider includes it.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FinishReasonError marks a terminal chunk carrying a converted transport or
// decode failure. Callers treat "last chunk has an error finish reason" as the
// failure signal; adapters never return errors from the streaming path.
const FinishReasonError = "error"

// CompletionChunk is one normalized unit of provider output: a text delta in
// streaming mode, or the whole completion in non-streaming mode. Chunks are
// consumed immediately and never persisted directly.
type CompletionChunk struct {
	ID           string
	Content      string
	Role         MessageRole
	FinishReason string
	Usage        *TokenUsage
	Model        string
}

// Err reports whether the chunk carries an error finish reason.
func (c CompletionChunk) Err() bool {
	return c.FinishReason == FinishReasonError
}

// =============================================================================
// Conversation Summary
// =============================================================================

// ConversationSummary is the caller-facing digest of a stored conversation.
type ConversationSummary struct {
	Provider          string `json:"provider"`
	TotalMessages     int    `json:"totalMessages"`
	UserMessages      int    `json:"userMessages"`
	AssistantMessages int    `json:"assistantMessages"`
	HasSystemPrompt   bool   `json:"hasSystemPrompt"`
	EstimatedTokens   int    `json:"estimatedTokens"`
}
