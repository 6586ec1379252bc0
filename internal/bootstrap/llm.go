package bootstrap

import (
	"fmt"

	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/internal/resilience"
	"github.com/MrWong99/glyphoxa/pkg/provider/llm"
)

// NewLLMProvider builds cfg.Providers.LLM from reg and, when
// cfg.Providers.LLMFallback is non-empty, wraps it in a
// [resilience.LLMFallback] chain — the only provider category the schema
// gives an ordered fallback list, per spec §7's failover requirement for
// the orchestrator's model calls.
func NewLLMProvider(reg *config.Registry, cfg config.ProvidersConfig) (llm.Provider, error) {
	primary, err := reg.CreateLLM(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create primary llm provider %q: %w", cfg.LLM.Name, err)
	}
	if len(cfg.LLMFallback) == 0 {
		return primary, nil
	}

	fb := resilience.NewLLMFallback(primary, cfg.LLM.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: "llm-fallback", MaxFailures: 3},
	})
	for _, entry := range cfg.LLMFallback {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: create fallback llm provider %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
	}
	return fb, nil
}
