package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"crosstalk/internal/domain"
)

func TestDefault_ShouldContainAllProviders(t *testing.T) {
	cat, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	for _, provider := range []string{"deepseek", "qwen", "kimi", "doubao"} {
		if len(cat.ProviderModels(provider)) == 0 {
			t.Errorf("provider %q has no models", provider)
		}
	}
}

func TestResolve_WhenKnownModel_ShouldReturnIt(t *testing.T) {
	cat, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	d, err := cat.Resolve("kimi", "moonshot-v1-32k")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if d.ModelID != "moonshot-v1-32k" || d.ContextWindow != 32768 {
		t.Fatalf("Resolve returned %s (context %d)", d.ModelID, d.ContextWindow)
	}
}

func TestResolve_WhenUnknownModel_ShouldFallBackToFirst(t *testing.T) {
	cat, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	d, err := cat.Resolve("deepseek", "deepseek-nonexistent")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	first := cat.ProviderModels("deepseek")[0]
	if d.ModelID != first.ModelID {
		t.Fatalf("fallback resolved %s, want %s", d.ModelID, first.ModelID)
	}
}

func TestResolve_WhenUnknownProvider_ShouldReturnSentinel(t *testing.T) {
	cat, err := Default()
	if err != nil {
		t.Fatalf("Default() error: %v", err)
	}
	if _, err := cat.Resolve("openai", ""); !errors.Is(err, domain.ErrUnknownProvider) {
		t.Fatalf("Resolve(\"openai\") error = %v, want ErrUnknownProvider", err)
	}
}

func TestLoad_WhenOverrideFile_ShouldParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	data := []byte(`models:
  - provider: deepseek
    model_id: deepseek-test
    display_name: Test
    max_tokens: 1024
    context_window: 4096
    endpoint: https://example.com/v1/chat/completions
    api_key_env: DEEPSEEK_API_KEY
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}
	cat, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	d, err := cat.Resolve("deepseek", "deepseek-test")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if d.ContextWindow != 4096 {
		t.Fatalf("ContextWindow = %d, want 4096", d.ContextWindow)
	}
}

func TestLoad_WhenMissingFile_ShouldError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing catalog file")
	}
}

func TestParse_WhenTokenLimitsOmitted_ShouldApplyDefaults(t *testing.T) {
	data := []byte(`models:
  - provider: deepseek
    model_id: deepseek-bare
    endpoint: https://example.com/v1/chat/completions
    api_key_env: DEEPSEEK_API_KEY
`)
	cat, err := parse(data)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	d, err := cat.Resolve("deepseek", "deepseek-bare")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if d.ContextWindow != defaultContextWindow {
		t.Fatalf("ContextWindow = %d, want %d", d.ContextWindow, defaultContextWindow)
	}
	if d.MaxTokens != defaultMaxTokens {
		t.Fatalf("MaxTokens = %d, want %d", d.MaxTokens, defaultMaxTokens)
	}
}

func TestParse_WhenTokenLimitsNegative_ShouldError(t *testing.T) {
	data := []byte(`models:
  - provider: deepseek
    model_id: deepseek-bad
    context_window: -1
`)
	if _, err := parse(data); err == nil {
		t.Fatal("expected error for negative token limits")
	}
}

func TestParse_WhenDuplicateModel_ShouldError(t *testing.T) {
	data := []byte(`models:
  - provider: kimi
    model_id: moonshot-v1-8k
  - provider: kimi
    model_id: moonshot-v1-8k
`)
	if _, err := parse(data); err == nil {
		t.Fatal("expected error for duplicate model")
	}
}
