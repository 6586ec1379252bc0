// Package config provides the configuration schema, YAML loader, env-var
// override layer, and provider registry shared by all four worker binaries.
//
// Structural configuration (provider selection, topic/key names, TTLs) lives
// in a YAML file, following the teacher's convention; secrets and
// deployment-specific values (DSNs, API keys, endpoints) are layered on top
// from environment variables, following the env-override helper pattern used
// by the sibling corpus repo's cmd/gateway/config.go.
package config

import "time"

// LogLevel controls slog verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError, "":
		return true
	default:
		return false
	}
}

// ServerConfig holds the HTTP listener and logging settings shared by every
// worker.
type ServerConfig struct {
	ListenAddr string   `yaml:"listen_addr"`
	LogLevel   LogLevel `yaml:"log_level"`
	LogFormat  string   `yaml:"log_format"` // "json" or "text"
}

// BusDriver selects which [bus.Broker]/[bus.Keystore] implementation to
// construct.
type BusDriver string

const (
	BusDriverPostgres BusDriver = "postgres"
	BusDriverMemory   BusDriver = "memory"
)

// BusConfig configures the Broker/Keystore connection shared by every
// worker. PostgresDSN and any provider API keys are expected to arrive via
// environment variable override (see env.go), never committed to the YAML
// file.
type BusConfig struct {
	Driver      BusDriver `yaml:"driver"`
	PostgresDSN string    `yaml:"postgres_dsn"`

	// Topics overrides the default bus topic names (see pkg/bus for
	// defaults). Zero-value fields fall back to the default.
	Topics TopicsConfig `yaml:"topics"`

	// KeyPrefixes overrides the default keystore key prefixes.
	KeyPrefixes KeyPrefixesConfig `yaml:"key_prefixes"`
}

// TopicsConfig overrides the bus topic names from their pkg/bus defaults.
type TopicsConfig struct {
	AudioIn     string `yaml:"audio_in"`
	Transcripts string `yaml:"transcripts"`
	LLMTokens   string `yaml:"llm_tokens"`
	ToolEvents  string `yaml:"tool_events"`
	TTSRequest  string `yaml:"tts_request"`
	TTSControl  string `yaml:"tts_control"`
	BargeIn     string `yaml:"barge_in"`
	ConnEvents  string `yaml:"connection_events"`
}

// KeyPrefixesConfig overrides the keystore key prefixes from their pkg/bus
// defaults.
type KeyPrefixesConfig struct {
	ConversationConfig  string `yaml:"conversation_config"`
	ConversationHistory string `yaml:"conversation_history"`
	TTSActiveState      string `yaml:"tts_active_state"`
}

// ProviderEntry is the common configuration block shared by all provider
// types, grounded on the teacher's config.ProviderEntry.
type ProviderEntry struct {
	Name    string         `yaml:"name"`
	APIKey  string         `yaml:"api_key"`
	BaseURL string         `yaml:"base_url"`
	Model   string         `yaml:"model"`
	Options map[string]any `yaml:"options"`
}

// ProvidersConfig declares which provider implementation backs each
// pipeline stage, plus optional ordered fallback entries for
// [internal/resilience.FallbackGroup] failover.
type ProvidersConfig struct {
	LLM         ProviderEntry   `yaml:"llm"`
	LLMFallback []ProviderEntry `yaml:"llm_fallback"`
	STT         ProviderEntry   `yaml:"stt"`
	STTFallback []ProviderEntry `yaml:"stt_fallback"`
	TTS         ProviderEntry   `yaml:"tts"`
	TTSFallback []ProviderEntry `yaml:"tts_fallback"`
	VAD         ProviderEntry   `yaml:"vad"`
	VADFallback []ProviderEntry `yaml:"vad_fallback"`
}

// PipelineConfig holds the timing/threshold defaults from spec §4 and §5.
// Per-conversation overrides layer on top via dialog.ConversationConfig.
type PipelineConfig struct {
	PreRollMs                  int           `yaml:"pre_roll_ms"`
	MinVoicedMsForSpeechStart  int           `yaml:"min_voiced_ms_for_speech_start"`
	SilenceDwellMs             int           `yaml:"silence_dwell_ms"`
	PartialIntervalMs          int           `yaml:"partial_interval_ms"`
	ProcessorInactivityTimeout time.Duration `yaml:"processor_inactivity_timeout"`
	TTSProcessorIdleTimeout    time.Duration `yaml:"tts_processor_idle_timeout"`
	ToolCallTimeout            time.Duration `yaml:"tool_call_timeout"`
	MaxToolRecursion           int           `yaml:"max_tool_recursion"`
	HistoryMaxTurns            int           `yaml:"history_max_turns"`
	ConversationTTL            time.Duration `yaml:"conversation_ttl"`
	TTSActiveTTL               time.Duration `yaml:"tts_active_ttl"`
}

// DefaultPipeline returns the spec's documented defaults.
func DefaultPipeline() PipelineConfig {
	return PipelineConfig{
		PreRollMs:                  150,
		MinVoicedMsForSpeechStart:  750,
		SilenceDwellMs:             2500,
		PartialIntervalMs:          300,
		ProcessorInactivityTimeout: 120 * time.Second,
		TTSProcessorIdleTimeout:    60 * time.Second,
		ToolCallTimeout:            30 * time.Second,
		MaxToolRecursion:           5,
		HistoryMaxTurns:            10,
		ConversationTTL:            24 * time.Hour,
		TTSActiveTTL:               60 * time.Second,
	}
}

// MCPServerConfig describes how to connect to a single MCP tool server,
// mirroring the teacher's internal/mcp.ServerConfig fields for direct reuse
// by internal/orchestrator.
type MCPServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"`
	Command   string            `yaml:"command"`
	URL       string            `yaml:"url"`
	Env       map[string]string `yaml:"env"`
}

// MCPConfig holds the list of MCP tool servers the orchestrator connects to.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// Config is the root configuration shared by every worker binary; each
// cmd/ entrypoint loads the same file and reads only the sections it needs.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Bus       BusConfig       `yaml:"bus"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	MCP       MCPConfig       `yaml:"mcp"`
}
