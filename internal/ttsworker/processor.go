package ttsworker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/glyphoxa/pkg/bus"
	"github.com/MrWong99/glyphoxa/pkg/dialog"
	"github.com/MrWong99/glyphoxa/pkg/provider/tts"
)

// queueBuffer bounds how many pending TTS requests a conversation may have
// queued ahead of the one currently synthesizing.
const queueBuffer = 16

// ttsProcessor drains one conversation's FIFO queue of TTS requests,
// synthesizing and publishing audio for one item at a time.
type ttsProcessor struct {
	id dialog.ConversationID
	w  *Worker

	queue  chan dialog.TTSRequest
	closed chan struct{}
	stopCh chan struct{}

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopOnce sync.Once

	chunkCount int
}

func (w *Worker) newProcessor(id dialog.ConversationID) *ttsProcessor {
	return &ttsProcessor{
		id:     id,
		w:      w,
		queue:  make(chan dialog.TTSRequest, queueBuffer),
		closed: make(chan struct{}),
		stopCh: make(chan struct{}),
	}
}

// run is the processor's dedicated goroutine: its queue is its address,
// matching the shard-per-conversation pattern used by internal/sttworker and
// internal/orchestrator.
func (p *ttsProcessor) run(ctx context.Context) {
	defer p.cleanup()

	timeout := p.w.pipeline.TTSProcessorIdleTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case req, ok := <-p.queue:
			if !ok {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			p.process(ctx, req)
			timer.Reset(timeout)
		case <-timer.C:
			slog.Info("ttsworker: processor idle timeout, disposing", "conversation_id", p.id.String())
			return
		}
	}
}

// process synthesizes one item and publishes its audio_stream_start,
// chunks, and terminal audio_stream_end/audio_stream_error in order.
func (p *ttsProcessor) process(ctx context.Context, req dialog.TTSRequest) {
	itemCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.cancel = nil
		p.mu.Unlock()
		cancel()
	}()

	p.setActive(itemCtx)
	defer p.clearActive(ctx)

	voice := tts.VoiceProfile{ID: req.VoiceID}
	textCh := make(chan string, 1)
	textCh <- req.Text
	close(textCh)

	audio, err := p.w.ttsProv.SynthesizeStream(itemCtx, textCh, voice)
	if err != nil {
		p.publishError(ctx, req.ConversationID, err)
		return
	}

	p.publishStart(ctx, req.ConversationID)
	count := 0
	for chunk := range audio {
		if _, err := p.w.bus.Broker.Publish(ctx, bus.TopicAudioOut(req.ConversationID.String()), dialog.EncodeAudioOutChunk(chunk)); err != nil {
			slog.Warn("ttsworker: publish audio chunk", "conversation_id", req.ConversationID.String(), "err", err)
			continue
		}
		count++
	}

	// The provider interface signals a mid-stream failure by closing audio
	// early rather than returning an error from SynthesizeStream. itemCtx is
	// only ever cancelled by an expected barge-in/shutdown (see interrupt),
	// so a closed channel that produced no chunks and wasn't cancelled means
	// the provider failed partway through — that must surface as
	// audio_stream_error, not a misleadingly successful audio_stream_end.
	if count == 0 && itemCtx.Err() == nil {
		p.publishError(ctx, req.ConversationID, errors.New("tts provider closed stream without producing audio"))
		return
	}
	if itemCtx.Err() != nil {
		return
	}
	p.publishEnd(ctx, req.ConversationID, count)
}

// interrupt implements the §4.4 cancellation protocol: it (a) cancels the
// in-flight item's context so the chunk loop exits promptly, (b) drains
// every queued item so no stale audio is published once the queue resumes,
// and (c) signals run to exit, which tears the processor down and removes
// it from the active set via cleanup. A conversation that sends a new TTS
// request afterward gets a fresh processor from Worker.dispatch.
func (p *ttsProcessor) interrupt() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.drainQueue()
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *ttsProcessor) drainQueue() {
	for {
		select {
		case <-p.queue:
		default:
			return
		}
	}
}

func (p *ttsProcessor) setActive(ctx context.Context) {
	ttl := p.w.pipeline.TTSActiveTTL
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if err := p.w.bus.Keystore.SetWithTTL(ctx, p.w.keys.TTSActiveState+p.id.String(), []byte("1"), ttl); err != nil {
		slog.Warn("ttsworker: set tts-active flag", "conversation_id", p.id.String(), "err", err)
	}
}

func (p *ttsProcessor) clearActive(ctx context.Context) {
	if err := p.w.bus.Keystore.Delete(ctx, p.w.keys.TTSActiveState+p.id.String()); err != nil {
		slog.Warn("ttsworker: clear tts-active flag", "conversation_id", p.id.String(), "err", err)
	}
}

func (p *ttsProcessor) publishStart(ctx context.Context, id dialog.ConversationID) {
	start := dialog.AudioStreamStart{
		Type:           dialog.AudioStreamStartType,
		ConversationID: id,
		AudioFormat:    p.w.format,
	}
	p.publishControl(ctx, id, start)
}

func (p *ttsProcessor) publishEnd(ctx context.Context, id dialog.ConversationID, chunkCount int) {
	end := dialog.AudioStreamEnd{
		Type:           dialog.AudioStreamEndType,
		ConversationID: id,
		ChunkCount:     chunkCount,
	}
	p.publishControl(ctx, id, end)
}

func (p *ttsProcessor) publishError(ctx context.Context, id dialog.ConversationID, err error) {
	streamErr := dialog.AudioStreamError{
		Type:           dialog.AudioStreamErrorType,
		ConversationID: id,
		Error:          err.Error(),
	}
	p.publishControl(ctx, id, streamErr)
}

func (p *ttsProcessor) publishControl(ctx context.Context, id dialog.ConversationID, v any) {
	payload, err := dialog.EncodeAudioOutControl(v)
	if err != nil {
		slog.Error("ttsworker: encode audio.out control envelope", "err", err)
		return
	}
	if _, err := p.w.bus.Broker.Publish(ctx, bus.TopicAudioOut(id.String()), payload); err != nil {
		slog.Warn("ttsworker: publish audio.out control envelope", "conversation_id", id.String(), "err", err)
	}
}

func (p *ttsProcessor) cleanup() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.w.removeProc(p.id, p)
	close(p.closed)
}
