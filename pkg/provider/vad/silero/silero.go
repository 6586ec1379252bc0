// Package silero implements [vad.Engine] on top of sherpa-onnx's Silero VAD
// model, grounded on the corpus's only Silero VAD consumer
// (agalue-sherpa-voice-assistant's internal/sherpa wrapper around
// github.com/k2-fsa/sherpa-onnx-go-linux).
//
// sherpa-onnx's VoiceActivityDetector is not safe for concurrent use from
// multiple goroutines; each [Engine.NewSession] call therefore gets its own
// detector instance, mirroring the upstream guidance that one
// recognizer/VAD pair serves one audio stream at a time.
package silero

import (
	"encoding/binary"
	"fmt"
	"math"

	sherpa "github.com/k2-fsa/sherpa-onnx-go-linux"

	"github.com/MrWong99/glyphoxa/pkg/provider/vad"
)

// Config holds the parameters needed to load the Silero ONNX model, in
// addition to the generic thresholds carried by [vad.Config].
type Config struct {
	// ModelPath is the filesystem path to silero_vad.onnx.
	ModelPath string

	// MinSilenceDurationSec is the silence duration (seconds) sherpa-onnx
	// requires before it considers a segment ended. This is independent of
	// the pipeline-level silence dwell timer in internal/sttworker, which
	// operates on top of the per-frame events this engine emits.
	MinSilenceDurationSec float32

	// MinSpeechDurationSec is the minimum speech duration (seconds) sherpa-onnx
	// requires before surfacing a segment.
	MinSpeechDurationSec float32

	// MaxSpeechDurationSec bounds how long a single segment may run before
	// sherpa-onnx force-ends it.
	MaxSpeechDurationSec float32

	// NumThreads is the number of ONNX Runtime threads used for inference.
	NumThreads int

	// Provider selects the ONNX Runtime execution provider ("cpu", "cuda",
	// "coreml"). Empty defaults to "cpu".
	Provider string

	// BufferSec bounds sherpa-onnx's internal speech-segment ring buffer, in
	// seconds of audio.
	BufferSec float32
}

// Engine constructs sherpa-onnx Silero VAD sessions.
type Engine struct {
	cfg Config
}

// New returns an [Engine] that loads cfg.ModelPath lazily, once per session
// (sherpa-onnx has no shared-model API across detector instances for VAD).
func New(cfg Config) (*Engine, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("silero: ModelPath is required")
	}
	if cfg.MinSilenceDurationSec <= 0 {
		cfg.MinSilenceDurationSec = 0.5
	}
	if cfg.MinSpeechDurationSec <= 0 {
		cfg.MinSpeechDurationSec = 0.1
	}
	if cfg.MaxSpeechDurationSec <= 0 {
		cfg.MaxSpeechDurationSec = 30
	}
	if cfg.NumThreads <= 0 {
		cfg.NumThreads = 1
	}
	if cfg.Provider == "" {
		cfg.Provider = "cpu"
	}
	if cfg.BufferSec <= 0 {
		cfg.BufferSec = 60
	}
	return &Engine{cfg: cfg}, nil
}

var _ vad.Engine = (*Engine)(nil)

// NewSession loads a dedicated sherpa-onnx detector for one audio stream.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("silero: SampleRate must be > 0")
	}
	model := &sherpa.VadModelConfig{}
	model.SileroVad.Model = e.cfg.ModelPath
	model.SileroVad.Threshold = float32(cfg.SpeechThreshold)
	model.SileroVad.MinSilenceDuration = e.cfg.MinSilenceDurationSec
	model.SileroVad.MinSpeechDuration = e.cfg.MinSpeechDurationSec
	model.SileroVad.MaxSpeechDuration = e.cfg.MaxSpeechDurationSec
	model.SileroVad.WindowSize = windowSizeFor(cfg)
	model.SampleRate = cfg.SampleRate
	model.NumThreads = e.cfg.NumThreads
	model.Provider = e.cfg.Provider

	detector := sherpa.NewVoiceActivityDetector(model, e.cfg.BufferSec)
	if detector == nil {
		return nil, fmt.Errorf("silero: failed to load model %q", e.cfg.ModelPath)
	}
	return &session{detector: detector, windowSize: int(model.SileroVad.WindowSize)}, nil
}

// windowSizeFor derives sherpa-onnx's fixed analysis window (in samples)
// from the configured frame size; sherpa-onnx's Silero model expects 512
// samples at 16kHz (32ms) — the corpus's only consumer hardcodes this value.
func windowSizeFor(cfg vad.Config) int {
	n := cfg.SampleRate * cfg.FrameSizeMs / 1000
	if n <= 0 {
		return 512
	}
	return n
}

// session wraps one sherpa-onnx VoiceActivityDetector for a single stream.
// Not safe for concurrent use, matching sherpa-onnx's own constraint.
type session struct {
	detector   *sherpa.VoiceActivityDetector
	windowSize int
	speaking   bool
	closed     bool
}

var _ vad.SessionHandle = (*session)(nil)

// ProcessFrame converts frame (s16le PCM) to float32 samples in [-1, 1],
// feeds them to the detector, and derives a transition event from the
// detector's IsSpeech() state, mirroring the edge-detection idiom in
// agalue-sherpa-voice-assistant's Recognizer.AcceptWaveform.
func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, fmt.Errorf("silero: session closed")
	}
	if len(frame)%2 != 0 {
		return vad.VADEvent{}, fmt.Errorf("silero: frame length %d is not a whole number of s16le samples", len(frame))
	}
	samples := make([]float32, len(frame)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(frame[i*2 : i*2+2]))
		samples[i] = float32(v) / math.MaxInt16
	}

	s.detector.AcceptWaveform(samples)
	isSpeech := s.detector.IsSpeech()

	// Drain any segment sherpa-onnx considers complete so its internal ring
	// buffer doesn't grow unbounded; the pipeline-level utterance buffer in
	// internal/sttworker is authoritative for what gets sent to ASR.
	for !s.detector.IsEmpty() {
		s.detector.Pop()
	}

	switch {
	case isSpeech && !s.speaking:
		s.speaking = true
		return vad.VADEvent{Type: vad.VADSpeechStart, Probability: 1}, nil
	case !isSpeech && s.speaking:
		s.speaking = false
		return vad.VADEvent{Type: vad.VADSpeechEnd, Probability: 0}, nil
	case isSpeech:
		return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: 1}, nil
	default:
		return vad.VADEvent{Type: vad.VADSilence, Probability: 0}, nil
	}
}

// Reset clears sherpa-onnx's internal ring buffer and speaking-edge state.
func (s *session) Reset() {
	if s.closed {
		return
	}
	s.detector.Reset()
	s.speaking = false
}

// Close releases the underlying sherpa-onnx detector. Safe to call more
// than once.
func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	sherpa.DeleteVoiceActivityDetector(s.detector)
	return nil
}
