package resilience

import (
	"github.com/MrWong99/glyphoxa/pkg/provider/vad"
)

// VADFallback implements [vad.Engine] with automatic failover across multiple
// VAD backends. Each backend has its own circuit breaker.
type VADFallback struct {
	group *FallbackGroup[vad.Engine]
}

// Compile-time interface assertion.
var _ vad.Engine = (*VADFallback)(nil)

// NewVADFallback creates a [VADFallback] with primary as the preferred backend.
func NewVADFallback(primary vad.Engine, primaryName string, cfg FallbackConfig) *VADFallback {
	return &VADFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional VAD engine as a fallback.
func (f *VADFallback) AddFallback(name string, engine vad.Engine) {
	f.group.AddFallback(name, engine)
}

// NewSession opens a VAD session against the first healthy engine. If the
// primary fails to open a session, subsequent fallbacks are tried.
func (f *VADFallback) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(e vad.Engine) (vad.SessionHandle, error) {
		return e.NewSession(cfg)
	})
}
