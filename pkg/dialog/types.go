// Package dialog defines the wire-level data model shared by every stage of
// the spoken-dialog pipeline: gateway, VAD/STT worker, orchestrator, and TTS
// worker. These are the records that travel over the bus and live in the
// keystore, so every field carries an explicit JSON tag matching the
// external contract.
package dialog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/glyphoxa/pkg/types"
)

// ConversationID correlates every message belonging to one client session.
type ConversationID uuid.UUID

// NewConversationID mints a fresh random conversation identifier.
func NewConversationID() ConversationID {
	return ConversationID(uuid.New())
}

// ParseConversationID parses s as a UUID-formatted conversation id.
func ParseConversationID(s string) (ConversationID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ConversationID{}, err
	}
	return ConversationID(id), nil
}

// String returns the canonical UUID string form.
func (c ConversationID) String() string {
	return uuid.UUID(c).String()
}

// MarshalJSON renders the id as a quoted UUID string.
func (c ConversationID) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON parses a quoted UUID string into c.
func (c *ConversationID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*c = ConversationID(id)
	return nil
}

// Role identifies the speaker of a history [Message].
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool-result"
)

// Message is one immutable entry in a conversation's history.
type Message struct {
	Role       Role             `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []types.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// ConversationConfig holds the per-conversation overrides merged via the
// admin HTTP surface. Zero values mean "use the worker default".
type ConversationConfig struct {
	LLMModelName      string  `json:"llm_model_name,omitempty"`
	LLMTemperature    float64 `json:"llm_temperature,omitempty"`
	LLMMaxTokens      int     `json:"llm_max_tokens,omitempty"`
	TTSVoiceID        string  `json:"tts_voice_id,omitempty"`
	VADAggressiveness int     `json:"vad_aggressiveness,omitempty"`
}

// Merge applies non-zero fields of patch on top of c and returns the result.
// A JSON `null` for a field must never reach here as a zero value that wipes
// prior state — callers apply merge-patch semantics (see pkg/dialog/merge.go)
// before calling Merge so that "field omitted" and "field explicitly null"
// are distinguished upstream.
func (c ConversationConfig) Merge(patch ConversationConfig) ConversationConfig {
	out := c
	if patch.LLMModelName != "" {
		out.LLMModelName = patch.LLMModelName
	}
	if patch.LLMTemperature != 0 {
		out.LLMTemperature = patch.LLMTemperature
	}
	if patch.LLMMaxTokens != 0 {
		out.LLMMaxTokens = patch.LLMMaxTokens
	}
	if patch.TTSVoiceID != "" {
		out.TTSVoiceID = patch.TTSVoiceID
	}
	if patch.VADAggressiveness != 0 {
		out.VADAggressiveness = patch.VADAggressiveness
	}
	return out
}

// AudioFrameIn is an inbound PCM chunk forwarded from the gateway onto the
// audio.in topic.
type AudioFrameIn struct {
	ConversationID ConversationID `json:"conversation_id"`
	Bytes          []byte         `json:"-"`
}

// TranscriptKind distinguishes a speculative partial from a committed final.
type TranscriptKind string

const (
	TranscriptPartial TranscriptKind = "partial"
	TranscriptFinal   TranscriptKind = "final"
	// TranscriptError marks an ASR-exception event: the utterance could not
	// be transcribed (the STT provider failed to start or never produced a
	// final result in time), but the AudioProcessor returns to Idle and the
	// conversation continues per spec §4.2/§7 rather than going silent.
	TranscriptError TranscriptKind = "error"
)

// TranscriptEvent is published on the transcripts topic by the VAD/STT worker.
type TranscriptEvent struct {
	ConversationID ConversationID `json:"conversation_id"`
	Kind           TranscriptKind `json:"kind"`
	Text           string         `json:"text"`
	TimestampMs    int64          `json:"timestamp_ms"`
	IsFinal        bool           `json:"is_final"`
}

// LLMEventKind distinguishes a text token delta from a fully-assembled tool call.
type LLMEventKind string

const (
	LLMEventToken    LLMEventKind = "token"
	LLMEventToolCall LLMEventKind = "tool_call"
)

// LLMStreamEvent is published on llm.tokens as the orchestrator streams a
// generation.
type LLMStreamEvent struct {
	ConversationID ConversationID `json:"conversation_id"`
	Kind           LLMEventKind   `json:"-"`
	Role           string         `json:"role"`
	Content        string         `json:"content,omitempty"`
	ToolCall       *types.ToolCall `json:"tool_call,omitempty"`
}

// ToolStatus tracks a tool invocation's lifecycle.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolFailed    ToolStatus = "failed"
)

// ToolInvocation correlates a tool call between the orchestrator and a
// ToolExecutor, and is the payload published on tool.events.
type ToolInvocation struct {
	ConversationID ConversationID  `json:"conversation_id"`
	CallID         string          `json:"call_id"`
	Name           string          `json:"name"`
	ArgumentsJSON  string          `json:"arguments_json,omitempty"`
	Status         ToolStatus      `json:"status"`
	ResultJSON     json.RawMessage `json:"result,omitempty"`
}

// TTSRequest is enqueued per-conversation by the orchestrator on tts.request.
type TTSRequest struct {
	ConversationID ConversationID    `json:"conversation_id"`
	Text           string            `json:"text"`
	VoiceID        string            `json:"voice_id,omitempty"`
	Options        map[string]string `json:"options,omitempty"`
}

// BargeInEvent is broadcast on barge_in when the user begins speaking while
// the TTS-active flag is set for the conversation.
type BargeInEvent struct {
	ConversationID ConversationID `json:"conversation_id"`
	TimestampMs    int64          `json:"timestamp_ms"`
}

// AudioFormat describes the encoding of an outbound TTS stream.
type AudioFormat struct {
	Format      string `json:"format"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	SampleWidth int    `json:"sample_width,omitempty"`
}

// NowMs returns the current time in Unix milliseconds, the timestamp unit
// used throughout the wire protocol.
func NowMs(t time.Time) int64 {
	return t.UnixMilli()
}
