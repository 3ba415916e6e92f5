package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"crosstalk/internal/domain"
	"crosstalk/internal/retry"
)

// KimiAdapter calls the Moonshot AI chat completions API. Protocol-wise it is
// the flat chat-completions shape; unlike the other compat providers it has a
// real GET /models endpoint, used for both credential probing and live model
// listing.
type KimiAdapter struct {
	compat
	modelsURL string
}

// NewKimiAdapter returns a Kimi-backed ProviderAdapter.
func NewKimiAdapter(desc domain.ModelDescriptor, apiKey string, client *http.Client, retryCfg retry.Config, fallbackModels []string) domain.ProviderAdapter {
	return &KimiAdapter{
		compat:    newCompat(ProviderKimi, desc, apiKey, client, retryCfg, fallbackModels),
		modelsURL: modelsEndpoint(desc.Endpoint),
	}
}

// modelsEndpoint derives the model-listing URL from the chat completions one.
func modelsEndpoint(endpoint string) string {
	return strings.TrimSuffix(endpoint, "/chat/completions") + "/models"
}

// getModels issues the GET /models probe. The caller owns the response body.
func (a *KimiAdapter) getModels(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.modelsURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	return a.client.Do(req)
}

// ValidateCredential overrides the compat probe: listing models is the
// cheapest authenticated call Moonshot offers. Transient failures are
// retried.
func (a *KimiAdapter) ValidateCredential(ctx context.Context) bool {
	ok, err := retry.Do(ctx, a.retryCfg, func() (bool, error) {
		resp, err := a.getModels(ctx)
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

// ListModels overrides the compat static list with the live endpoint, falling
// back to the registered set on any failure.
func (a *KimiAdapter) ListModels(ctx context.Context) []string {
	resp, err := a.getModels(ctx)
	if err != nil {
		return a.compat.ListModels(ctx)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return a.compat.ListModels(ctx)
	}
	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return a.compat.ListModels(ctx)
	}
	ids := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		ids = append(ids, m.ID)
	}
	return ids
}

var _ domain.ProviderAdapter = (*KimiAdapter)(nil)
