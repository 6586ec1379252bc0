package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/glyphoxa/internal/mcp"
	"github.com/MrWong99/glyphoxa/internal/mcp/tier"
	"github.com/MrWong99/glyphoxa/pkg/bus"
	"github.com/MrWong99/glyphoxa/pkg/dialog"
	"github.com/MrWong99/glyphoxa/pkg/provider/llm"
	"github.com/MrWong99/glyphoxa/pkg/types"
)

// dedupWindow bounds how many recent final-transcript timestamps a
// conversationProc remembers to discard a redelivered duplicate. The VAD/STT
// worker occasionally republishes a final on a retried publish; the
// orchestrator must not answer the same utterance twice.
const dedupWindow = 8

// toolRecursionNotice is appended, and spoken, when a turn's tool-call
// recursion exceeds the configured cap.
const toolRecursionNotice = "[Tool processing limit reached]"

// conversationProc owns one conversation's turn processing: it serializes
// transcripts through a single goroutine, loads/saves history and config
// against the keystore, and cancels its own in-flight generation either on a
// fresh transcript or an external barge-in notification.
type conversationProc struct {
	w  *Worker
	id dialog.ConversationID

	transcripts chan dialog.TranscriptEvent

	selector *tier.Selector

	mu         sync.Mutex
	cancel     context.CancelFunc
	seenStamps []int64
}

const conversationMailboxBuffer = 8

func newConversationProc(w *Worker, id dialog.ConversationID) *conversationProc {
	return &conversationProc{
		w:           w,
		id:          id,
		transcripts: make(chan dialog.TranscriptEvent, conversationMailboxBuffer),
		selector:    tier.NewSelector(),
	}
}

// cancelActive cancels the in-flight turn, if any. Safe to call when idle.
func (p *conversationProc) cancelActive() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// run is the conversation's dedicated goroutine, its mailbox its address —
// the same shard-per-conversation pattern internal/sttworker.audioProcessor
// uses.
func (p *conversationProc) run(ctx context.Context) {
	defer p.w.removeProc(p.id, p)

	timeout := p.w.pipeline.ProcessorInactivityTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-p.transcripts:
			if !ok {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)

			if p.isDuplicate(evt.TimestampMs) {
				continue
			}
			// A fresh final transcript always preempts whatever generation
			// is currently in flight for this conversation.
			p.cancelActive()
			p.runTurn(ctx, evt)
		case <-timer.C:
			slog.Info("orchestrator: conversation idle timeout, disposing", "conversation_id", p.id.String())
			return
		}
	}
}

func (p *conversationProc) isDuplicate(timestampMs int64) bool {
	for _, s := range p.seenStamps {
		if s == timestampMs {
			return true
		}
	}
	p.seenStamps = append(p.seenStamps, timestampMs)
	if len(p.seenStamps) > dedupWindow {
		p.seenStamps = p.seenStamps[len(p.seenStamps)-dedupWindow:]
	}
	return false
}

// runTurn drives one full turn: load state, append the user message, run the
// generation/tool-call loop, and persist the resulting history. It returns
// once the turn completes naturally or is cancelled by a barge-in or a newer
// transcript.
func (p *conversationProc) runTurn(parentCtx context.Context, evt dialog.TranscriptEvent) {
	turnCtx, cancel := context.WithCancel(parentCtx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		if p.cancel != nil {
			p.cancel = nil
		}
		p.mu.Unlock()
		cancel()
	}()

	cfg := p.loadConfig(turnCtx)
	history := p.loadHistory(turnCtx)
	history = append(history, dialog.Message{
		Role:      dialog.RoleUser,
		Content:   evt.Text,
		Timestamp: nowFunc(),
	})

	voice := cfg.TTSVoiceID
	if voice == "" {
		voice = p.w.defaultVoice
	}
	temperature := cfg.LLMTemperature
	if temperature == 0 {
		temperature = p.w.defaultTemp
	}
	maxTokens := cfg.LLMMaxTokens
	if maxTokens == 0 {
		maxTokens = p.w.defaultMaxTok
	}

	p.selector.RecordTurn()
	toolTier := p.selector.Select(evt.Text, p.w.toolTier)

	maxRounds := p.w.pipeline.MaxToolRecursion
	if maxRounds <= 0 {
		maxRounds = 5
	}

	for round := 0; ; round++ {
		if round > maxRounds {
			p.dispatchTTS(turnCtx, evt.ConversationID, toolRecursionNotice, voice)
			history = append(history, dialog.Message{
				Role:      dialog.RoleAssistant,
				Content:   toolRecursionNotice,
				Timestamp: nowFunc(),
			})
			break
		}

		req := llm.CompletionRequest{
			Messages:     dialogToLLMMessages(history),
			Tools:        p.availableTools(toolTier),
			Temperature:  temperature,
			MaxTokens:    maxTokens,
			SystemPrompt: p.w.systemPrompt,
		}

		chunks, err := p.w.llmProv.StreamCompletion(turnCtx, req)
		if err != nil {
			slog.Warn("orchestrator: start completion stream failed", "conversation_id", p.id.String(), "err", err)
			return
		}

		text, toolCalls, cancelled, streamErr := p.drainCompletion(turnCtx, evt.ConversationID, chunks, voice)
		if streamErr != nil {
			slog.Warn("orchestrator: completion stream error", "conversation_id", p.id.String(), "err", streamErr)
		}

		assistant := dialog.Message{
			Role:      dialog.RoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
			Timestamp: nowFunc(),
		}
		history = append(history, assistant)

		if cancelled {
			// Open question resolution: an interrupted assistant turn is
			// kept in history exactly as far as it got.
			p.persistHistory(turnCtx, history, cfg)
			return
		}

		if len(toolCalls) == 0 {
			break
		}

		history = p.runToolCalls(turnCtx, evt.ConversationID, toolCalls, history)
	}

	p.persistHistory(parentCtx, history, cfg)
}

// drainCompletion reads chunks until the stream closes or turnCtx is
// cancelled, publishing token deltas and segmenting them into TTS requests as
// they arrive. It returns the accumulated text, any requested tool calls,
// and whether the drain ended via cancellation rather than stream closure.
func (p *conversationProc) drainCompletion(turnCtx context.Context, id dialog.ConversationID, chunks <-chan llm.Chunk, voice string) (text string, toolCalls []types.ToolCall, cancelled bool, err error) {
	var buf strings.Builder
	var segmenter dialog.SentenceSegmenter

	for {
		select {
		case <-turnCtx.Done():
			// Barge-in or a fresher transcript cancelled this turn. The
			// cancellation protocol stops new audio for the interrupted
			// item, so any sentence fragment still sitting in the
			// segmenter is discarded rather than flushed to TTS.
			return buf.String(), toolCalls, true, err
		case chunk, ok := <-chunks:
			if !ok {
				if rest := segmenter.Flush(); rest != "" {
					p.dispatchTTS(turnCtx, id, rest, voice)
				}
				return buf.String(), toolCalls, cancelled, err
			}
			if chunk.Text != "" {
				buf.WriteString(chunk.Text)
				p.publishToken(turnCtx, id, chunk.Text)
				for _, sentence := range segmenter.Feed(chunk.Text) {
					p.dispatchTTS(turnCtx, id, sentence, voice)
				}
			}
			if len(chunk.ToolCalls) > 0 {
				toolCalls = chunk.ToolCalls
			}
			if chunk.FinishReason == "error" {
				err = errors.New("provider reported a stream error")
			}
		}
	}
}

// runToolCalls dispatches every requested tool call in order, publishing
// lifecycle events on tool.events and appending a tool-result message per
// call to history.
func (p *conversationProc) runToolCalls(turnCtx context.Context, id dialog.ConversationID, calls []types.ToolCall, history []dialog.Message) []dialog.Message {
	for _, call := range calls {
		p.publishToolEvent(turnCtx, id, call, dialog.ToolPending, nil)
		p.publishToolEvent(turnCtx, id, call, dialog.ToolRunning, nil)

		timeout := p.w.pipeline.ToolCallTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		toolCtx, toolCancel := context.WithTimeout(turnCtx, timeout)
		result, err := p.dispatch(toolCtx, call, id)
		toolCancel()

		if err != nil {
			errJSON, _ := json.Marshal(map[string]string{"error": err.Error()})
			p.publishToolEvent(turnCtx, id, call, dialog.ToolFailed, errJSON)
			history = append(history, dialog.Message{
				Role:       dialog.RoleTool,
				Content:    string(errJSON),
				ToolCallID: call.ID,
				Timestamp:  nowFunc(),
			})
			continue
		}

		p.publishToolEvent(turnCtx, id, call, dialog.ToolCompleted, result)
		history = append(history, dialog.Message{
			Role:       dialog.RoleTool,
			Content:    string(result),
			ToolCallID: call.ID,
			Timestamp:  nowFunc(),
		})
	}
	return history
}

func (p *conversationProc) dispatch(ctx context.Context, call types.ToolCall, id dialog.ConversationID) (json.RawMessage, error) {
	if p.w.tools == nil {
		return nil, errors.New("no tool executor configured")
	}
	return p.w.tools.Dispatch(ctx, call.ID, call.Name, call.Arguments, id)
}

func (p *conversationProc) availableTools(t mcp.BudgetTier) []llm.ToolDefinition {
	if p.w.toolHost == nil {
		return nil
	}
	return p.w.toolHost.AvailableTools(t)
}

func (p *conversationProc) publishToken(ctx context.Context, id dialog.ConversationID, delta string) {
	evt := dialog.LLMStreamEvent{
		ConversationID: id,
		Kind:           dialog.LLMEventToken,
		Role:           string(dialog.RoleAssistant),
		Content:        delta,
	}
	p.publishJSON(ctx, p.w.topics.LLMTokens, evt, "llm token")
}

func (p *conversationProc) publishToolEvent(ctx context.Context, id dialog.ConversationID, call types.ToolCall, status dialog.ToolStatus, result json.RawMessage) {
	evt := dialog.ToolInvocation{
		ConversationID: id,
		CallID:         call.ID,
		Name:           call.Name,
		ArgumentsJSON:  call.Arguments,
		Status:         status,
		ResultJSON:     result,
	}
	p.publishJSON(ctx, p.w.topics.ToolEvents, evt, "tool event")
}

func (p *conversationProc) dispatchTTS(ctx context.Context, id dialog.ConversationID, text, voice string) {
	if text == "" {
		return
	}
	req := dialog.TTSRequest{
		ConversationID: id,
		Text:           text,
		VoiceID:        voice,
	}
	p.publishJSON(ctx, p.w.topics.TTSRequest, req, "tts request")
}

func (p *conversationProc) publishJSON(ctx context.Context, topic string, v any, what string) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("orchestrator: marshal "+what, "err", err)
		return
	}
	if _, err := p.w.bus.Broker.Publish(ctx, topic, payload); err != nil {
		slog.Warn("orchestrator: publish "+what, "conversation_id", p.id.String(), "err", err)
	}
}

func (p *conversationProc) loadConfig(ctx context.Context) dialog.ConversationConfig {
	var cfg dialog.ConversationConfig
	raw, err := p.w.bus.Keystore.Get(ctx, p.w.keys.ConversationConfig+p.id.String())
	if err != nil {
		if !errors.Is(err, bus.ErrNotFound) {
			slog.Warn("orchestrator: load conversation config", "conversation_id", p.id.String(), "err", err)
		}
		return cfg
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		slog.Warn("orchestrator: decode conversation config", "conversation_id", p.id.String(), "err", err)
		return dialog.ConversationConfig{}
	}
	return cfg
}

func (p *conversationProc) loadHistory(ctx context.Context) []dialog.Message {
	raw, err := p.w.bus.Keystore.Get(ctx, p.w.keys.ConversationHistory+p.id.String())
	if err != nil {
		if !errors.Is(err, bus.ErrNotFound) {
			slog.Warn("orchestrator: load conversation history", "conversation_id", p.id.String(), "err", err)
		}
		return nil
	}
	var history []dialog.Message
	if err := json.Unmarshal(raw, &history); err != nil {
		slog.Warn("orchestrator: decode conversation history", "conversation_id", p.id.String(), "err", err)
		return nil
	}
	return history
}

func (p *conversationProc) persistHistory(ctx context.Context, history []dialog.Message, cfg dialog.ConversationConfig) {
	maxTurns := p.w.pipeline.HistoryMaxTurns
	if maxTurns <= 0 {
		maxTurns = 10
	}
	history = trimHistory(history, maxTurns*2)

	payload, err := json.Marshal(history)
	if err != nil {
		slog.Error("orchestrator: marshal conversation history", "err", err)
		return
	}
	ttl := p.w.pipeline.ConversationTTL
	if err := p.w.bus.Keystore.SetWithTTL(ctx, p.w.keys.ConversationHistory+p.id.String(), payload, ttl); err != nil {
		slog.Warn("orchestrator: persist conversation history", "conversation_id", p.id.String(), "err", err)
	}
	_ = cfg // config is read-only from the orchestrator's side; admin HTTP owns writes.
}

// trimHistory bounds history to at most maxMessages entries, dropping the
// oldest non-system messages first and never reordering what remains.
func trimHistory(history []dialog.Message, maxMessages int) []dialog.Message {
	if maxMessages <= 0 || len(history) <= maxMessages {
		return history
	}
	var system, rest []dialog.Message
	for _, m := range history {
		if m.Role == dialog.RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}
	keep := maxMessages - len(system)
	if keep < 0 {
		keep = 0
	}
	if len(rest) > keep {
		rest = rest[len(rest)-keep:]
	}
	out := make([]dialog.Message, 0, len(system)+len(rest))
	out = append(out, system...)
	out = append(out, rest...)
	return out
}

// dialogToLLMMessages converts history into the provider-facing message
// shape. dialog.RoleTool ("tool-result") maps to the LLM wire role "tool".
func dialogToLLMMessages(history []dialog.Message) []types.Message {
	out := make([]types.Message, 0, len(history))
	for _, m := range history {
		role := string(m.Role)
		if m.Role == dialog.RoleTool {
			role = "tool"
		}
		out = append(out, types.Message{
			Role:       role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}
	return out
}
