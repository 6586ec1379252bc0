// Package ttsworker implements the TTS pipeline stage: a per-conversation
// FIFO queue of dialog.TTSRequest items, drained one at a time by a
// dedicated processor task that synthesizes audio via a tts.Provider and
// publishes it to audio.out.{conversation_id}.
//
// The per-conversation registry follows the same shard-per-conversation
// goroutine pattern as internal/sttworker.Worker and internal/orchestrator.Worker:
// a mailbox-addressed task owns all state for one conversation id, and a
// mutex-guarded map handles only insert/remove.
package ttsworker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/pkg/bus"
	"github.com/MrWong99/glyphoxa/pkg/dialog"
	"github.com/MrWong99/glyphoxa/pkg/provider/tts"
)

// Worker subscribes to tts.request and tts.control and fans both out to
// per-conversation TTS processors.
type Worker struct {
	bus     *bus.Bus
	ttsProv tts.Provider
	format  dialog.AudioFormat

	pipeline config.PipelineConfig
	topics   config.ResolvedTopics
	keys     config.ResolvedKeyPrefixes

	mu    sync.Mutex
	procs map[dialog.ConversationID]*ttsProcessor
}

// Option configures a Worker at construction.
type Option func(*Worker)

// WithAudioFormat overrides the default outbound audio format (PCM 16-bit
// signed little-endian, mono, 24kHz).
func WithAudioFormat(format dialog.AudioFormat) Option {
	return func(w *Worker) { w.format = format }
}

func defaultAudioFormat() dialog.AudioFormat {
	return dialog.AudioFormat{
		Format:      "pcm_s16le",
		SampleRate:  24000,
		Channels:    1,
		SampleWidth: 2,
	}
}

// New creates a Worker.
func New(b *bus.Bus, ttsProv tts.Provider, pipeline config.PipelineConfig, topics config.ResolvedTopics, keys config.ResolvedKeyPrefixes, opts ...Option) *Worker {
	w := &Worker{
		bus:      b,
		ttsProv:  ttsProv,
		format:   defaultAudioFormat(),
		pipeline: pipeline,
		topics:   topics,
		keys:     keys,
		procs:    make(map[dialog.ConversationID]*ttsProcessor),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run subscribes to tts.request and tts.control until ctx is cancelled or
// both subscriptions close.
func (w *Worker) Run(ctx context.Context) error {
	requests, err := w.bus.Broker.Subscribe(ctx, w.topics.TTSRequest)
	if err != nil {
		return fmt.Errorf("ttsworker: subscribe %s: %w", w.topics.TTSRequest, err)
	}
	defer requests.Unsubscribe()

	control, err := w.bus.Broker.Subscribe(ctx, w.topics.TTSControl)
	if err != nil {
		return fmt.Errorf("ttsworker: subscribe %s: %w", w.topics.TTSControl, err)
	}
	defer control.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-requests.C:
			if !ok {
				return nil
			}
			var req dialog.TTSRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				slog.Warn("ttsworker: decode tts request", "err", err)
				continue
			}
			w.dispatch(ctx, req)
		case payload, ok := <-control.C:
			if !ok {
				return nil
			}
			var evt dialog.BargeInEvent
			if err := json.Unmarshal(payload, &evt); err != nil {
				slog.Warn("ttsworker: decode tts control event", "err", err)
				continue
			}
			w.stop(evt.ConversationID)
		}
	}
}

// dispatch routes req to the conversation's processor, creating one lazily
// on first sight. If the looked-up processor has since torn itself down
// (idle timeout racing with a fresh request), a new one is created and the
// send retried.
func (w *Worker) dispatch(ctx context.Context, req dialog.TTSRequest) {
	for {
		w.mu.Lock()
		p, ok := w.procs[req.ConversationID]
		if !ok {
			p = w.newProcessor(req.ConversationID)
			w.procs[req.ConversationID] = p
			go p.run(ctx)
		}
		w.mu.Unlock()

		select {
		case p.queue <- req:
			return
		case <-p.closed:
			continue
		case <-ctx.Done():
			return
		}
	}
}

// stop routes a tts.control stop signal to the conversation's processor, if
// one currently exists. A conversation with no active processor has nothing
// to interrupt.
func (w *Worker) stop(id dialog.ConversationID) {
	w.mu.Lock()
	p, ok := w.procs[id]
	w.mu.Unlock()
	if ok {
		p.interrupt()
	}
}

// ActiveConversations returns the conversation ids with a live processor.
// Intended for diagnostics/tests.
func (w *Worker) ActiveConversations() []dialog.ConversationID {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]dialog.ConversationID, 0, len(w.procs))
	for id := range w.procs {
		ids = append(ids, id)
	}
	return ids
}

func (w *Worker) removeProc(id dialog.ConversationID, self *ttsProcessor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cur, ok := w.procs[id]; ok && cur == self {
		delete(w.procs, id)
	}
}
