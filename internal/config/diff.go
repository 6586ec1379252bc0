package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; changes to
// Bus or Server.ListenAddr require a process restart and are not
// reported here.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ProvidersChanged bool
	PipelineChanged  bool
	MCPServersChanged bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.ProvidersChanged = !providersEqual(old.Providers, new.Providers)
	d.PipelineChanged = old.Pipeline != new.Pipeline
	d.MCPServersChanged = !mcpServersEqual(old.MCP.Servers, new.MCP.Servers)

	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	if !entryEqual(a.LLM, b.LLM) || !entryEqual(a.STT, b.STT) ||
		!entryEqual(a.TTS, b.TTS) || !entryEqual(a.VAD, b.VAD) {
		return false
	}
	return fallbackListEqual(a.LLMFallback, b.LLMFallback) &&
		fallbackListEqual(a.STTFallback, b.STTFallback) &&
		fallbackListEqual(a.TTSFallback, b.TTSFallback) &&
		fallbackListEqual(a.VADFallback, b.VADFallback)
}

func fallbackListEqual(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !entryEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// entryEqual compares the identity-relevant fields of a ProviderEntry.
// Options is excluded since map[string]any is not comparable.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}

func mcpServersEqual(a, b []MCPServerConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Transport != b[i].Transport ||
			a[i].Command != b[i].Command || a[i].URL != b[i].URL {
			return false
		}
	}
	return true
}
