package llm

import (
	"net/http"

	"crosstalk/internal/domain"
	"crosstalk/internal/retry"
)

// DeepSeekAdapter calls the DeepSeek chat completions API, which speaks the
// flat chat-completions protocol unchanged.
type DeepSeekAdapter struct {
	compat
}

// NewDeepSeekAdapter returns a DeepSeek-backed ProviderAdapter.
func NewDeepSeekAdapter(desc domain.ModelDescriptor, apiKey string, client *http.Client, retryCfg retry.Config, fallbackModels []string) domain.ProviderAdapter {
	return &DeepSeekAdapter{compat: newCompat(ProviderDeepSeek, desc, apiKey, client, retryCfg, fallbackModels)}
}

var _ domain.ProviderAdapter = (*DeepSeekAdapter)(nil)
