// Package config loads the crosstalk.json process configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"crosstalk/internal/retry"
	"crosstalk/internal/window"
)

// Config is the process configuration. Credentials placed here are plain
// static entries; encrypted key storage is out of scope and handled by
// whatever provisions this file.
type Config struct {
	Database    DatabaseConfig    `json:"database"`
	Infra       InfraConfig       `json:"infra"`
	Chat        ChatConfig        `json:"chat"`
	Credentials CredentialsConfig `json:"credentials"`
}

type DatabaseConfig struct {
	// URL is a libSQL URL ("file:crosstalk.db" or "libsql://..."). Empty means
	// the in-memory conversation store.
	URL string `json:"url"`
}

type InfraConfig struct {
	LogFormat string `json:"logFormat"` // "json" | "text"
	LogLevel  string `json:"logLevel"`
}

type ChatConfig struct {
	// BudgetRatio is the fraction of a model's context window spent on the
	// prompt. Zero means window.DefaultRatio.
	BudgetRatio float64 `json:"budgetRatio"`
	// RequestTimeoutSeconds bounds one completion request. Zero means the
	// adapter default.
	RequestTimeoutSeconds int `json:"requestTimeoutSeconds"`
	// CatalogPath optionally overrides the embedded model catalog.
	CatalogPath string `json:"catalogPath,omitempty"`
	// Retry overrides the default backoff policy for idempotent provider
	// calls. Nil keeps retry.DefaultConfig.
	Retry *retry.Config `json:"retry,omitempty"`
}

type CredentialsConfig struct {
	// Global maps provider id to a process-wide API key.
	Global map[string]string `json:"global,omitempty"`
	// Projects maps project id to per-provider API keys; these take
	// precedence over Global.
	Projects map[string]map[string]string `json:"projects,omitempty"`
}

// marshalIndent and writeFile are used by WriteDefault; tests may replace to
// force errors.
var (
	marshalIndent = json.MarshalIndent
	writeFile     = os.WriteFile
)

// WriteDefault writes a default Config to path (e.g. crosstalk.json). Parent
// directories are not created.
func WriteDefault(path string) error {
	retryCfg := retry.DefaultConfig()
	cfg := &Config{
		Database: DatabaseConfig{URL: "file:crosstalk.db"},
		Infra:    InfraConfig{LogFormat: "text", LogLevel: "info"},
		Chat: ChatConfig{
			BudgetRatio:           window.DefaultRatio,
			RequestTimeoutSeconds: 60,
			Retry:                 &retryCfg,
		},
	}
	data, err := marshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, data, 0644)
}

// Load reads path, unmarshals into Config, and cleans the catalog path field
// to mitigate path traversal. Returns an error if the file is missing or
// invalid JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	if c.Chat.CatalogPath != "" {
		c.Chat.CatalogPath = filepath.Clean(c.Chat.CatalogPath)
	}
	if c.Chat.Retry != nil {
		if err := c.Chat.Retry.Validate(); err != nil {
			return nil, fmt.Errorf("config retry: %w", err)
		}
	}
	return &c, nil
}
