package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/glyphoxa/internal/config"
)

func TestValidate_RequiresAllFourProviders(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing stt/tts/vad providers, got nil")
	}
	for _, want := range []string{"providers.stt.name", "providers.tts.name", "providers.vad.name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_LLMFallbackMissingName(t *testing.T) {
	t.Parallel()
	yaml := requiredProvidersYAML + `
providers:
  llm_fallback:
    - api_key: sk-test
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for llm_fallback entry with no name, got nil")
	}
	if !strings.Contains(err.Error(), "llm_fallback") {
		t.Errorf("error should mention llm_fallback, got: %v", err)
	}
}

func TestValidate_NegativeMaxToolRecursion(t *testing.T) {
	t.Parallel()
	yaml := requiredProvidersYAML + `
pipeline:
  max_tool_recursion: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative max_tool_recursion, got nil")
	}
}

func TestValidate_AllProvidersPresentIsValid(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(requiredProvidersYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
bus:
  driver: invalid
mcp:
  servers:
    - transport: stdio
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "bus.driver") {
		t.Errorf("error should mention bus.driver, got: %v", err)
	}
	if !strings.Contains(errStr, "mcp.servers[0].name") {
		t.Errorf("error should mention mcp.servers[0].name, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated.
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	// Check that "openai" is in the LLM list.
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
}
