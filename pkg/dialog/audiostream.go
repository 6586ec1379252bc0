package dialog

import (
	"encoding/json"
	"fmt"
)

// Audio stream envelope "type" discriminators published on
// audio.out.{conversation_id}, matching the wire contract the gateway
// forwards verbatim to the client (JSON text frame for control envelopes,
// binary frame for chunks).
const (
	AudioStreamStartType = "audio_stream_start"
	AudioStreamEndType   = "audio_stream_end"
	AudioStreamErrorType = "audio_stream_error"
)

// AudioStreamStart opens an audio.out delivery: exactly one is published
// before the first chunk of a given TTS item, carrying the format the
// following raw chunks are encoded in.
type AudioStreamStart struct {
	Type           string         `json:"type"`
	ConversationID ConversationID `json:"conversation_id"`
	AudioFormat
}

// AudioStreamEnd closes an audio.out delivery that completed, including one
// cut short by a barge-in cancellation.
type AudioStreamEnd struct {
	Type           string         `json:"type"`
	ConversationID ConversationID `json:"conversation_id"`
	ChunkCount     int            `json:"chunk_count"`
}

// AudioStreamError closes an audio.out delivery that failed before any
// chunks — or all of them — could be produced.
type AudioStreamError struct {
	Type           string         `json:"type"`
	ConversationID ConversationID `json:"conversation_id"`
	Error          string         `json:"error"`
}

// audioOutTag distinguishes a JSON control envelope from a raw PCM chunk on
// the shared audio.out.{id} topic, the same bypass-JSON-for-bulk-bytes
// approach as the audio.in envelope (see EncodeAudioFrame): a single marker
// byte, never part of the client-facing protocol, is prefixed before the
// payload crosses the bus so the TTS worker's own publishes and the
// gateway's decode agree on which of the two shapes each message is.
type audioOutTag byte

const (
	audioOutTagControl audioOutTag = 0
	audioOutTagChunk   audioOutTag = 1
)

// EncodeAudioOutControl marshals a control envelope (one of AudioStreamStart,
// AudioStreamEnd, AudioStreamError) and prefixes the control tag.
func EncodeAudioOutControl(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("dialog: marshal audio.out control envelope: %w", err)
	}
	buf := make([]byte, 1+len(body))
	buf[0] = byte(audioOutTagControl)
	copy(buf[1:], body)
	return buf, nil
}

// EncodeAudioOutChunk prefixes the chunk tag onto a raw PCM payload.
func EncodeAudioOutChunk(pcm []byte) []byte {
	buf := make([]byte, 1+len(pcm))
	buf[0] = byte(audioOutTagChunk)
	copy(buf[1:], pcm)
	return buf
}

// IsAudioOutChunk reports whether a decoded audio.out message is a raw PCM
// chunk rather than a JSON control envelope, and returns the payload with
// the tag byte stripped.
func IsAudioOutChunk(b []byte) (isChunk bool, payload []byte, err error) {
	if len(b) < 1 {
		return false, nil, fmt.Errorf("dialog: audio.out envelope empty")
	}
	return audioOutTag(b[0]) == audioOutTagChunk, b[1:], nil
}
