package bootstrap

import (
	"fmt"

	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/internal/resilience"
	"github.com/MrWong99/glyphoxa/pkg/provider/vad"
)

// NewVADEngine builds cfg.Providers.VAD from reg and, when
// cfg.Providers.VADFallback is non-empty, wraps it in a
// [resilience.VADFallback] chain so a failing VAD backend fails over instead
// of taking down the whole AudioProcessor.
func NewVADEngine(reg *config.Registry, cfg config.ProvidersConfig) (vad.Engine, error) {
	primary, err := reg.CreateVAD(cfg.VAD)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create primary vad engine %q: %w", cfg.VAD.Name, err)
	}
	if len(cfg.VADFallback) == 0 {
		return primary, nil
	}

	fb := resilience.NewVADFallback(primary, cfg.VAD.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: "vad-fallback", MaxFailures: 3},
	})
	for _, entry := range cfg.VADFallback {
		e, err := reg.CreateVAD(entry)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: create fallback vad engine %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, e)
	}
	return fb, nil
}
