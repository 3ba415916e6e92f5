package llm

import (
	"net/http"

	"crosstalk/internal/domain"
	"crosstalk/internal/retry"
)

// DoubaoAdapter calls the Volcengine Ark chat completions API. Doubao
// identifies models by provisioned endpoint ids (ep-...), so ListModels can
// only report the statically registered set.
type DoubaoAdapter struct {
	compat
}

// NewDoubaoAdapter returns a Doubao-backed ProviderAdapter.
func NewDoubaoAdapter(desc domain.ModelDescriptor, apiKey string, client *http.Client, retryCfg retry.Config, fallbackModels []string) domain.ProviderAdapter {
	return &DoubaoAdapter{compat: newCompat(ProviderDoubao, desc, apiKey, client, retryCfg, fallbackModels)}
}

var _ domain.ProviderAdapter = (*DoubaoAdapter)(nil)
