// Package orchestrator implements the LLM pipeline stage: for every final
// transcript it loads conversation state, drives a streaming completion
// against an [llm.Provider], interleaves tool dispatch, segments the
// streaming text into per-sentence TTS requests, and persists the updated
// history.
//
// The per-conversation registry follows the same shard-per-conversation
// goroutine pattern as internal/sttworker.Worker: a mailbox-addressed task
// owns all state for one conversation id, and a mutex-guarded map handles
// only insert/remove.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/internal/mcp"
	"github.com/MrWong99/glyphoxa/pkg/bus"
	"github.com/MrWong99/glyphoxa/pkg/dialog"
	"github.com/MrWong99/glyphoxa/pkg/provider/llm"
)

// Worker subscribes to transcripts and barge_in and fans both out to
// per-conversation turn processors.
type Worker struct {
	bus      *bus.Bus
	llmProv  llm.Provider
	tools    ToolExecutor
	toolHost mcp.Host
	toolTier mcp.BudgetTier

	systemPrompt  string
	defaultVoice  string
	defaultTemp   float64
	defaultMaxTok int

	pipeline config.PipelineConfig
	topics   config.ResolvedTopics
	keys     config.ResolvedKeyPrefixes

	mu    sync.Mutex
	procs map[dialog.ConversationID]*conversationProc
}

// Option configures a Worker at construction.
type Option func(*Worker)

// WithSystemPrompt overrides the default system prompt injected into every
// completion request.
func WithSystemPrompt(prompt string) Option {
	return func(w *Worker) { w.systemPrompt = prompt }
}

// WithDefaultVoice sets the TTS voice id used when a conversation has no
// stored override.
func WithDefaultVoice(voiceID string) Option {
	return func(w *Worker) { w.defaultVoice = voiceID }
}

// WithToolBudgetTier overrides the default budget tier used to filter the
// tool catalogue offered to the model when no per-conversation tier selector
// signal overrides it.
func WithToolBudgetTier(tier mcp.BudgetTier) Option {
	return func(w *Worker) { w.toolTier = tier }
}

// WithDefaultCompletionParams overrides the temperature and max-tokens
// values used when a conversation has no stored override.
func WithDefaultCompletionParams(temperature float64, maxTokens int) Option {
	return func(w *Worker) {
		w.defaultTemp = temperature
		w.defaultMaxTok = maxTokens
	}
}

const defaultSystemPrompt = "You are a helpful, concise voice assistant. Keep replies short enough to speak naturally."

// New creates a Worker. toolHost may be nil, in which case tool calls are
// never offered to the model.
func New(b *bus.Bus, llmProv llm.Provider, toolHost mcp.Host, pipeline config.PipelineConfig, topics config.ResolvedTopics, keys config.ResolvedKeyPrefixes, opts ...Option) *Worker {
	w := &Worker{
		bus:          b,
		llmProv:      llmProv,
		toolHost:     toolHost,
		// toolTier is left at its zero value (mcp.BudgetFast), which
		// tier.Selector treats as "no forced override" — see
		// WithToolBudgetTier.
		systemPrompt:  defaultSystemPrompt,
		defaultTemp:   0.7,
		defaultMaxTok: 0,
		pipeline:      pipeline,
		topics:        topics,
		keys:          keys,
		procs:         make(map[dialog.ConversationID]*conversationProc),
	}
	if toolHost != nil {
		w.tools = mcpExecutor{host: toolHost}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run subscribes to transcripts and barge_in until ctx is cancelled or both
// subscriptions close.
func (w *Worker) Run(ctx context.Context) error {
	transcripts, err := w.bus.Broker.Subscribe(ctx, w.topics.Transcripts)
	if err != nil {
		return fmt.Errorf("orchestrator: subscribe %s: %w", w.topics.Transcripts, err)
	}
	defer transcripts.Unsubscribe()

	bargeIns, err := w.bus.Broker.Subscribe(ctx, w.topics.BargeIn)
	if err != nil {
		return fmt.Errorf("orchestrator: subscribe %s: %w", w.topics.BargeIn, err)
	}
	defer bargeIns.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-transcripts.C:
			if !ok {
				return nil
			}
			var evt dialog.TranscriptEvent
			if err := json.Unmarshal(payload, &evt); err != nil {
				slog.Warn("orchestrator: decode transcript event", "err", err)
				continue
			}
			if !evt.IsFinal {
				continue
			}
			w.dispatchTranscript(ctx, evt)
		case payload, ok := <-bargeIns.C:
			if !ok {
				return nil
			}
			var evt dialog.BargeInEvent
			if err := json.Unmarshal(payload, &evt); err != nil {
				slog.Warn("orchestrator: decode barge-in event", "err", err)
				continue
			}
			w.dispatchBargeIn(ctx, evt)
		}
	}
}

func (w *Worker) dispatchTranscript(ctx context.Context, evt dialog.TranscriptEvent) {
	p := w.proc(ctx, evt.ConversationID)
	select {
	case p.transcripts <- evt:
	case <-ctx.Done():
	}
}

// dispatchBargeIn cancels the in-flight turn for the conversation and
// publishes a stop_tts control message, regardless of whether a processor
// currently exists — the TTS worker is idempotent about stopping nothing.
func (w *Worker) dispatchBargeIn(ctx context.Context, evt dialog.BargeInEvent) {
	w.mu.Lock()
	p, ok := w.procs[evt.ConversationID]
	w.mu.Unlock()
	if ok {
		p.cancelActive()
	}
	w.publishStopTTS(ctx, evt.ConversationID)
}

func (w *Worker) publishStopTTS(ctx context.Context, id dialog.ConversationID) {
	payload, err := json.Marshal(dialog.BargeInEvent{ConversationID: id, TimestampMs: dialog.NowMs(nowFunc())})
	if err != nil {
		slog.Error("orchestrator: marshal stop_tts control message", "err", err)
		return
	}
	if _, err := w.bus.Broker.Publish(ctx, w.topics.TTSControl, payload); err != nil {
		slog.Warn("orchestrator: publish stop_tts", "conversation_id", id.String(), "err", err)
	}
}

func (w *Worker) proc(ctx context.Context, id dialog.ConversationID) *conversationProc {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.procs[id]; ok {
		return p
	}
	p := newConversationProc(w, id)
	w.procs[id] = p
	go p.run(ctx)
	return p
}

func (w *Worker) removeProc(id dialog.ConversationID, self *conversationProc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cur, ok := w.procs[id]; ok && cur == self {
		delete(w.procs, id)
	}
}
