// Package catalog holds the read-only model descriptor registry. It is
// populated once at process start from the embedded models.yaml (or an
// override file) and supports O(1) lookup by (provider, model id).
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"crosstalk/internal/domain"
)

//go:embed models.yaml
var builtinModels []byte

// Defaults applied to descriptors that omit token limits. A zero context
// window would otherwise collapse every request to system-only context.
const (
	defaultContextWindow = 4096
	defaultMaxTokens     = 4096
)

// catalogFile is the on-disk shape of a catalog definition.
type catalogFile struct {
	Models []domain.ModelDescriptor `yaml:"models"`
}

// Catalog resolves model descriptors by provider and model id. Read-only after
// construction; safe for concurrent use.
type Catalog struct {
	byProvider map[string]map[string]*domain.ModelDescriptor
	ordered    map[string][]*domain.ModelDescriptor // insertion order per provider
	providers  []string                             // insertion order of providers
}

// Default builds the catalog from the embedded models.yaml.
func Default() (*Catalog, error) {
	return parse(builtinModels)
}

// Load builds the catalog from an override file with the same shape as the
// embedded models.yaml.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog load: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("catalog parse: %w", err)
	}
	if len(file.Models) == 0 {
		return nil, fmt.Errorf("catalog parse: no models defined")
	}
	c := &Catalog{
		byProvider: make(map[string]map[string]*domain.ModelDescriptor),
		ordered:    make(map[string][]*domain.ModelDescriptor),
	}
	for i := range file.Models {
		d := &file.Models[i]
		if d.Provider == "" || d.ModelID == "" {
			return nil, fmt.Errorf("catalog parse: model %d missing provider or model_id", i)
		}
		if d.ContextWindow < 0 || d.MaxTokens < 0 {
			return nil, fmt.Errorf("catalog parse: model %s/%s has negative token limits", d.Provider, d.ModelID)
		}
		if d.ContextWindow == 0 {
			d.ContextWindow = defaultContextWindow
		}
		if d.MaxTokens == 0 {
			d.MaxTokens = defaultMaxTokens
		}
		if _, ok := c.byProvider[d.Provider]; !ok {
			c.byProvider[d.Provider] = make(map[string]*domain.ModelDescriptor)
			c.providers = append(c.providers, d.Provider)
		}
		if _, dup := c.byProvider[d.Provider][d.ModelID]; dup {
			return nil, fmt.Errorf("catalog parse: duplicate model %s/%s", d.Provider, d.ModelID)
		}
		c.byProvider[d.Provider][d.ModelID] = d
		c.ordered[d.Provider] = append(c.ordered[d.Provider], d)
	}
	return c, nil
}

// Resolve returns the descriptor for (provider, modelID). An unknown model id
// falls back to the provider's first registered descriptor; an unknown
// provider returns domain.ErrUnknownProvider.
func (c *Catalog) Resolve(provider, modelID string) (*domain.ModelDescriptor, error) {
	models, ok := c.byProvider[provider]
	if !ok {
		return nil, fmt.Errorf("catalog: %q: %w", provider, domain.ErrUnknownProvider)
	}
	if modelID != "" {
		if d, ok := models[modelID]; ok {
			return d, nil
		}
	}
	return c.ordered[provider][0], nil
}

// ProviderModels returns the provider's descriptors in registration order, or
// nil for an unknown provider.
func (c *Catalog) ProviderModels(provider string) []*domain.ModelDescriptor {
	return c.ordered[provider]
}

// ModelIDs returns the provider's model ids in registration order.
func (c *Catalog) ModelIDs(provider string) []string {
	descs := c.ordered[provider]
	ids := make([]string, 0, len(descs))
	for _, d := range descs {
		ids = append(ids, d.ModelID)
	}
	return ids
}

// Providers returns all registered provider ids in registration order.
func (c *Catalog) Providers() []string {
	out := make([]string, len(c.providers))
	copy(out, c.providers)
	return out
}
