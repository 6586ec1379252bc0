package bootstrap

import (
	"fmt"

	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/internal/resilience"
	"github.com/MrWong99/glyphoxa/pkg/provider/tts"
)

// NewTTSProvider builds cfg.Providers.TTS from reg and, when
// cfg.Providers.TTSFallback is non-empty, wraps it in a
// [resilience.TTSFallback] chain per spec §4.4's backend-selection
// requirement. Only initial stream setup is covered by failover; mid-stream
// provider errors are handled by the ttsProcessor itself.
func NewTTSProvider(reg *config.Registry, cfg config.ProvidersConfig) (tts.Provider, error) {
	primary, err := reg.CreateTTS(cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create primary tts provider %q: %w", cfg.TTS.Name, err)
	}
	if len(cfg.TTSFallback) == 0 {
		return primary, nil
	}

	fb := resilience.NewTTSFallback(primary, cfg.TTS.Name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: "tts-fallback", MaxFailures: 3},
	})
	for _, entry := range cfg.TTSFallback {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: create fallback tts provider %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
	}
	return fb, nil
}
