package config

import "github.com/MrWong99/glyphoxa/pkg/bus"

// ResolvedTopics is the effective set of bus topic names after applying any
// overrides in [TopicsConfig] on top of the [pkg/bus] defaults.
type ResolvedTopics struct {
	AudioIn     string
	Transcripts string
	LLMTokens   string
	ToolEvents  string
	TTSRequest  string
	TTSControl  string
	BargeIn     string
	ConnEvents  string
}

// Resolve returns the effective topic names, falling back to the pkg/bus
// defaults for any field left empty in the YAML file.
func (t TopicsConfig) Resolve() ResolvedTopics {
	return ResolvedTopics{
		AudioIn:     orDefault(t.AudioIn, bus.TopicAudioIn),
		Transcripts: orDefault(t.Transcripts, bus.TopicTranscripts),
		LLMTokens:   orDefault(t.LLMTokens, bus.TopicLLMTokens),
		ToolEvents:  orDefault(t.ToolEvents, bus.TopicToolEvents),
		TTSRequest:  orDefault(t.TTSRequest, bus.TopicTTSRequest),
		TTSControl:  orDefault(t.TTSControl, bus.TopicTTSControl),
		BargeIn:     orDefault(t.BargeIn, bus.TopicBargeIn),
		ConnEvents:  orDefault(t.ConnEvents, bus.TopicConnEvents),
	}
}

// ResolvedKeyPrefixes is the effective set of keystore key prefixes after
// applying any overrides in [KeyPrefixesConfig].
type ResolvedKeyPrefixes struct {
	ConversationConfig  string
	ConversationHistory string
	TTSActiveState      string
}

// Resolve returns the effective key prefixes, falling back to the pkg/bus
// defaults for any field left empty in the YAML file.
func (k KeyPrefixesConfig) Resolve() ResolvedKeyPrefixes {
	return ResolvedKeyPrefixes{
		ConversationConfig:  orDefault(k.ConversationConfig, bus.KeyConversationConfigPrefix),
		ConversationHistory: orDefault(k.ConversationHistory, bus.KeyConversationHistoryPrefix),
		TTSActiveState:      orDefault(k.TTSActiveState, bus.KeyTTSActiveStatePrefix),
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
