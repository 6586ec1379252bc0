package bootstrap

import (
	"fmt"

	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/internal/resilience"
	"github.com/MrWong99/glyphoxa/pkg/provider/stt"
)

// NewSTTProvider builds cfg.Providers.STT from reg and, when
// cfg.Providers.STTFallback is non-empty, wraps it in a
// [resilience.STTFallback] chain so an ASR backend outage fails over instead
// of surfacing as a stream of ASR-exception transcripts.
func NewSTTProvider(reg *config.Registry, cfg config.ProvidersConfig) (stt.Provider, error) {
	primary, err := reg.CreateSTT(cfg.STT)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create primary stt provider %q: %w", cfg.STT.Name, err)
	}
	if len(cfg.STTFallback) == 0 {
		return primary, nil
	}

	fb := resilience.NewSTTFallback(primary, cfg.STT.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: "stt-fallback", MaxFailures: 3},
	})
	for _, entry := range cfg.STTFallback {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: create fallback stt provider %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
	}
	return fb, nil
}
