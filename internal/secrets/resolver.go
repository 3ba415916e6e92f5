// Package secrets resolves provider credentials. Storage and encryption are a
// collaborator's concern; this package only implements the lookup order the
// session layer depends on: project-scoped entry, then process-wide entry,
// then the provider's environment variable.
package secrets

import (
	"os"
	"strings"

	"crosstalk/internal/domain"
)

// lookupEnv is swappable so tests do not have to mutate the real environment.
var lookupEnv = os.LookupEnv

// Resolver implements domain.CredentialSource over static entries plus an
// environment fallback. Read-only after construction.
type Resolver struct {
	global   map[string]string            // provider -> key
	projects map[string]map[string]string // project -> provider -> key
	envNames map[string]string            // provider -> env var name
}

// NewResolver builds a Resolver. Any map may be nil. envNames overrides the
// <PROVIDER>_API_KEY naming convention for providers that need it.
func NewResolver(global map[string]string, projects map[string]map[string]string, envNames map[string]string) *Resolver {
	return &Resolver{global: global, projects: projects, envNames: envNames}
}

// Get implements domain.CredentialSource. Project-scoped resolution takes
// precedence over the process-wide fallback; whitespace-only values resolve
// to not-found.
func (r *Resolver) Get(provider, projectID string) (string, bool) {
	if projectID != "" {
		if key, ok := clean(r.projects[projectID][provider]); ok {
			return key, true
		}
	}
	if key, ok := clean(r.global[provider]); ok {
		return key, true
	}
	if env, ok := lookupEnv(r.envName(provider)); ok {
		return clean(env)
	}
	return "", false
}

func (r *Resolver) envName(provider string) string {
	if name, ok := r.envNames[provider]; ok && name != "" {
		return name
	}
	return strings.ToUpper(provider) + "_API_KEY"
}

func clean(key string) (string, bool) {
	trimmed := strings.TrimSpace(key)
	return trimmed, trimmed != ""
}

var _ domain.CredentialSource = (*Resolver)(nil)
