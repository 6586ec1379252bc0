// Package sttworker implements the VAD/STT pipeline stage: per conversation
// id observed on the audio.in topic, it maintains an AudioProcessor that
// segments incoming PCM into utterances and transcribes them, publishing
// partial/final transcripts and barge-in notifications.
//
// The per-conversation registry is grounded on the teacher's
// internal/app.SessionManager lifecycle (mutex-guarded state, closers run on
// teardown), generalized here from a single active session to a map of
// concurrently active processors, one per conversation — the shard-per-
// conversation-goroutine pattern described in the design notes.
package sttworker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/pkg/bus"
	"github.com/MrWong99/glyphoxa/pkg/dialog"
	"github.com/MrWong99/glyphoxa/pkg/provider/stt"
	"github.com/MrWong99/glyphoxa/pkg/provider/vad"
)

// defaultConcurrencyLimit bounds concurrent in-flight STT sessions per
// process, per spec §5's semaphore-style limiter requirement.
const defaultConcurrencyLimit = 32

// Worker subscribes to audio.in and fans frames out to per-conversation
// AudioProcessors.
type Worker struct {
	bus       *bus.Bus
	vadEngine vad.Engine
	sttProv   stt.Provider
	baseVAD   vad.Config
	pipeline  config.PipelineConfig
	topics    config.ResolvedTopics
	keys      config.ResolvedKeyPrefixes
	sem       *semaphore.Weighted

	mu         sync.Mutex
	processors map[dialog.ConversationID]*audioProcessor
}

// Option configures a Worker at construction.
type Option func(*Worker)

// WithConcurrencyLimit overrides the default cap on concurrent in-flight STT
// sessions.
func WithConcurrencyLimit(n int64) Option {
	return func(w *Worker) { w.sem = semaphore.NewWeighted(n) }
}

// New creates a Worker. baseVAD supplies the SampleRate/FrameSizeMs/threshold
// defaults applied to every conversation unless overridden by its stored
// ConversationConfig.
func New(b *bus.Bus, vadEngine vad.Engine, sttProv stt.Provider, baseVAD vad.Config, pipeline config.PipelineConfig, topics config.ResolvedTopics, keys config.ResolvedKeyPrefixes, opts ...Option) *Worker {
	w := &Worker{
		bus:        b,
		vadEngine:  vadEngine,
		sttProv:    sttProv,
		baseVAD:    baseVAD,
		pipeline:   pipeline,
		topics:     topics,
		keys:       keys,
		sem:        semaphore.NewWeighted(defaultConcurrencyLimit),
		processors: make(map[dialog.ConversationID]*audioProcessor),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run subscribes to audio.in and dispatches frames until ctx is cancelled or
// the broker subscription closes.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.bus.Broker.Subscribe(ctx, w.topics.AudioIn)
	if err != nil {
		return fmt.Errorf("sttworker: subscribe %s: %w", w.topics.AudioIn, err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-sub.C:
			if !ok {
				return nil
			}
			frame, err := dialog.DecodeAudioFrame(payload)
			if err != nil {
				slog.Warn("sttworker: decode audio frame envelope", "err", err)
				continue
			}
			w.dispatch(ctx, frame)
		}
	}
}

// dispatch routes frame to the conversation's processor, creating one
// lazily on first sight. If the looked-up processor has since torn itself
// down (inactivity timeout racing with a fresh frame), a new one is created
// and the send retried.
func (w *Worker) dispatch(ctx context.Context, frame dialog.AudioFrameIn) {
	for {
		w.mu.Lock()
		p, ok := w.processors[frame.ConversationID]
		if !ok {
			p = w.newProcessor(frame.ConversationID)
			w.processors[frame.ConversationID] = p
			go p.run(ctx)
		}
		w.mu.Unlock()

		select {
		case p.mailbox <- frame.Bytes:
			return
		case <-p.closed:
			continue
		case <-ctx.Done():
			return
		}
	}
}

// ActiveConversations returns the conversation ids with a live processor.
// Intended for diagnostics/tests.
func (w *Worker) ActiveConversations() []dialog.ConversationID {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]dialog.ConversationID, 0, len(w.processors))
	for id := range w.processors {
		ids = append(ids, id)
	}
	return ids
}

func (w *Worker) ttsActive(ctx context.Context, id dialog.ConversationID) bool {
	active, err := w.bus.Keystore.Exists(ctx, w.keys.TTSActiveState+id.String())
	if err != nil {
		slog.Warn("sttworker: tts-active flag check failed", "conversation_id", id.String(), "err", err)
		return false
	}
	return active
}

func (w *Worker) conversationVADConfig(ctx context.Context, id dialog.ConversationID) vad.Config {
	cfg := w.baseVAD
	raw, err := w.bus.Keystore.Get(ctx, w.keys.ConversationConfig+id.String())
	if err != nil {
		return cfg
	}
	var cc dialog.ConversationConfig
	if err := json.Unmarshal(raw, &cc); err != nil {
		return cfg
	}
	return applyAggressiveness(cfg, cc.VADAggressiveness)
}

// applyAggressiveness nudges the speech/silence thresholds per the stored
// vad_aggressiveness override (0-3, WebRTC-VAD-style: higher means more
// conservative about classifying a frame as speech).
func applyAggressiveness(base vad.Config, aggressiveness int) vad.Config {
	if aggressiveness <= 0 {
		return base
	}
	const step = 0.1
	out := base
	out.SpeechThreshold += step * float64(aggressiveness)
	out.SilenceThreshold += step * float64(aggressiveness)
	if out.SpeechThreshold > 0.95 {
		out.SpeechThreshold = 0.95
	}
	if out.SilenceThreshold > out.SpeechThreshold {
		out.SilenceThreshold = out.SpeechThreshold
	}
	return out
}
