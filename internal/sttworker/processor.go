package sttworker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/MrWong99/glyphoxa/pkg/dialog"
	"github.com/MrWong99/glyphoxa/pkg/provider/stt"
	"github.com/MrWong99/glyphoxa/pkg/provider/vad"
)

// bytesPerSample is the PCM sample width for the pipeline's canonical wire
// format (16-bit signed little-endian, mono).
const bytesPerSample = 2

// finalWaitTimeout bounds how long a processor waits for the STT provider to
// deliver a final transcript after an utterance is segmented, before giving
// up and returning to Idle.
const finalWaitTimeout = 5 * time.Second

// processorState is the AudioProcessor state machine described in spec §4.2.
type processorState int

const (
	stateIdle processorState = iota
	stateTriggered
	stateSegmented
)

// audioProcessor segments and transcribes one conversation's inbound PCM
// stream. It owns a VAD session (for the whole processor lifetime) and opens
// an STT session per confirmed utterance.
type audioProcessor struct {
	id dialog.ConversationID
	w  *Worker

	vadCfg     vad.Config
	vadSession vad.SessionHandle
	sttSession stt.SessionHandle

	windowBytes  int
	preRollBytes int

	mailbox chan []byte
	closed  chan struct{}

	leftover []byte
	preRoll  []byte

	state           processorState
	utterance       []byte
	voicedMs        int
	silenceMs       int
	speechConfirmed bool
	bargeInSent     bool
	semAcquired     bool

	lastPartialPublish time.Time
}

const mailboxBuffer = 64

func (w *Worker) newProcessor(id dialog.ConversationID) *audioProcessor {
	cfg := w.conversationVADConfig(context.Background(), id)
	return &audioProcessor{
		id:           id,
		w:            w,
		vadCfg:       cfg,
		windowBytes:  windowBytesFor(cfg),
		preRollBytes: preRollBytesFor(cfg, w.pipeline.PreRollMs),
		mailbox:      make(chan []byte, mailboxBuffer),
		closed:       make(chan struct{}),
	}
}

func windowBytesFor(cfg vad.Config) int {
	n := cfg.SampleRate * cfg.FrameSizeMs / 1000 * bytesPerSample
	if n <= 0 {
		return 1024
	}
	return n
}

func preRollBytesFor(cfg vad.Config, preRollMs int) int {
	n := cfg.SampleRate * preRollMs / 1000 * bytesPerSample
	if n <= 0 {
		return 0
	}
	return n
}

// run is the processor's dedicated goroutine: its mailbox is its address,
// matching the shard-per-conversation pattern in the design notes.
func (p *audioProcessor) run(ctx context.Context) {
	defer p.cleanup()

	sess, err := p.w.vadEngine.NewSession(p.vadCfg)
	if err != nil {
		slog.Warn("sttworker: open vad session failed, processor exiting", "conversation_id", p.id.String(), "err", err)
		return
	}
	p.vadSession = sess

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
		case chunk, ok := <-p.mailbox:
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
			p.ingest(ctx, chunk)
		case <-timer.C:
			slog.Info("sttworker: processor idle timeout, disposing", "conversation_id", p.id.String())
			return
		}
	}
}

func (p *audioProcessor) ingest(ctx context.Context, chunk []byte) {
	p.leftover = append(p.leftover, chunk...)
	for len(p.leftover) >= p.windowBytes {
		window := make([]byte, p.windowBytes)
		copy(window, p.leftover[:p.windowBytes])
		p.leftover = p.leftover[p.windowBytes:]
		p.processWindow(ctx, window)
	}
}

func (p *audioProcessor) processWindow(ctx context.Context, window []byte) {
	event, err := p.vadSession.ProcessFrame(window)
	if err != nil {
		slog.Warn("sttworker: vad process frame error, resetting conversation to idle", "conversation_id", p.id.String(), "err", err)
		p.abortUtterance()
		return
	}
	speech := event.Type == vad.VADSpeechStart || event.Type == vad.VADSpeechContinue

	switch p.state {
	case stateIdle:
		p.updatePreRoll(window)
		if speech {
			p.enterTriggered(ctx, window)
		}
	case stateTriggered:
		p.advanceTriggered(ctx, window, speech)
	}
}

func (p *audioProcessor) updatePreRoll(window []byte) {
	p.preRoll = append(p.preRoll, window...)
	if len(p.preRoll) > p.preRollBytes {
		p.preRoll = p.preRoll[len(p.preRoll)-p.preRollBytes:]
	}
}

func (p *audioProcessor) enterTriggered(ctx context.Context, firstWindow []byte) {
	p.state = stateTriggered
	p.utterance = append(append([]byte(nil), p.preRoll...), firstWindow...)
	p.voicedMs = p.frameMs()
	p.silenceMs = 0
	p.speechConfirmed = false

	if p.w.ttsActive(ctx, p.id) {
		p.publishBargeIn(ctx)
	}
}

func (p *audioProcessor) advanceTriggered(ctx context.Context, window []byte, speech bool) {
	p.utterance = append(p.utterance, window...)

	if speech {
		p.silenceMs = 0
		p.voicedMs += p.frameMs()
		if !p.speechConfirmed && p.voicedMs >= p.w.pipeline.MinVoicedMsForSpeechStart {
			p.confirmSpeech(ctx)
		}
	} else {
		p.silenceMs += p.frameMs()
	}

	if p.sttSession != nil {
		if err := p.sttSession.SendAudio(window); err != nil {
			slog.Warn("sttworker: stt send audio failed", "conversation_id", p.id.String(), "err", err)
		}
		p.drainPartials(ctx)
	}

	if !speech && p.silenceMs >= p.w.pipeline.SilenceDwellMs {
		p.segment(ctx)
	}
}

func (p *audioProcessor) frameMs() int {
	if p.vadCfg.FrameSizeMs <= 0 {
		return 32
	}
	return p.vadCfg.FrameSizeMs
}

// confirmSpeech opens the STT session once accumulated voiced audio crosses
// the false-start threshold, and flushes the utterance buffered so far
// (pre-roll plus everything accumulated up to now) as its first chunk.
func (p *audioProcessor) confirmSpeech(ctx context.Context) {
	p.speechConfirmed = true
	slog.Debug("sttworker: proper_speech_start", "conversation_id", p.id.String())

	if err := p.w.sem.Acquire(ctx, 1); err != nil {
		return
	}
	p.semAcquired = true

	sess, err := p.w.sttProv.StartStream(ctx, stt.StreamConfig{
		SampleRate: p.vadCfg.SampleRate,
		Channels:   1,
	})
	if err != nil {
		slog.Warn("sttworker: stt start stream failed", "conversation_id", p.id.String(), "err", err)
		p.w.sem.Release(1)
		p.semAcquired = false
		// The utterance is abandoned, but the ASR exception must not go
		// unreported — an error transcript lets downstream consumers see
		// that this utterance failed instead of the turn silently vanishing.
		p.publishTranscript(ctx, dialog.TranscriptError, "asr: "+err.Error(), false)
		return
	}
	p.sttSession = sess
	if err := sess.SendAudio(p.utterance); err != nil {
		slog.Warn("sttworker: stt send initial audio failed", "conversation_id", p.id.String(), "err", err)
	}
}

func (p *audioProcessor) drainPartials(ctx context.Context) {
	if p.sttSession == nil {
		return
	}
	interval := time.Duration(p.w.pipeline.PartialIntervalMs) * time.Millisecond
	for {
		select {
		case tr, ok := <-p.sttSession.Partials():
			if !ok {
				return
			}
			if time.Since(p.lastPartialPublish) < interval {
				continue
			}
			p.lastPartialPublish = time.Now()
			p.publishTranscript(ctx, dialog.TranscriptPartial, tr.Text, false)
		default:
			return
		}
	}
}

// segment ends the current utterance: feeding stops, and the processor waits
// briefly for the provider's authoritative final transcript before closing
// the session and returning to Idle.
func (p *audioProcessor) segment(ctx context.Context) {
	p.state = stateSegmented
	defer p.backToIdle()

	if p.sttSession == nil {
		// Voiced audio never crossed the false-start threshold; discard.
		return
	}
	sess := p.sttSession
	p.sttSession = nil
	defer p.releaseSTT(sess)

	select {
	case tr, ok := <-sess.Finals():
		if ok {
			p.publishTranscript(ctx, dialog.TranscriptFinal, tr.Text, true)
		}
	case <-time.After(finalWaitTimeout):
		slog.Warn("sttworker: timed out waiting for final transcript", "conversation_id", p.id.String())
		p.publishTranscript(ctx, dialog.TranscriptError, "asr: timed out waiting for final transcript", false)
	case <-ctx.Done():
	}
}

func (p *audioProcessor) releaseSTT(sess stt.SessionHandle) {
	if err := sess.Close(); err != nil {
		slog.Warn("sttworker: stt session close error", "conversation_id", p.id.String(), "err", err)
	}
	if p.semAcquired {
		p.w.sem.Release(1)
		p.semAcquired = false
	}
}

// abortUtterance discards the in-flight utterance after a VAD failure,
// closing any open STT session without waiting for a final transcript.
func (p *audioProcessor) abortUtterance() {
	if p.sttSession != nil {
		sess := p.sttSession
		p.sttSession = nil
		_ = sess.Close()
		if p.semAcquired {
			p.w.sem.Release(1)
			p.semAcquired = false
		}
	}
	p.vadSession.Reset()
	p.backToIdle()
}

func (p *audioProcessor) backToIdle() {
	p.state = stateIdle
	p.utterance = nil
	p.voicedMs = 0
	p.silenceMs = 0
	p.speechConfirmed = false
	p.bargeInSent = false
}

func (p *audioProcessor) publishTranscript(ctx context.Context, kind dialog.TranscriptKind, text string, isFinal bool) {
	evt := dialog.TranscriptEvent{
		ConversationID: p.id,
		Kind:           kind,
		Text:           text,
		TimestampMs:    dialog.NowMs(time.Now()),
		IsFinal:        isFinal,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		slog.Error("sttworker: marshal transcript event", "err", err)
		return
	}
	if _, err := p.w.bus.Broker.Publish(ctx, p.w.topics.Transcripts, payload); err != nil {
		slog.Warn("sttworker: publish transcript", "conversation_id", p.id.String(), "err", err)
	}
}

func (p *audioProcessor) publishBargeIn(ctx context.Context) {
	if p.bargeInSent {
		return
	}
	p.bargeInSent = true
	evt := dialog.BargeInEvent{ConversationID: p.id, TimestampMs: dialog.NowMs(time.Now())}
	payload, err := json.Marshal(evt)
	if err != nil {
		slog.Error("sttworker: marshal barge-in event", "err", err)
		return
	}
	if _, err := p.w.bus.Broker.Publish(ctx, p.w.topics.BargeIn, payload); err != nil {
		slog.Warn("sttworker: publish barge-in", "conversation_id", p.id.String(), "err", err)
	}
}

func (p *audioProcessor) cleanup() {
	if p.vadSession != nil {
		_ = p.vadSession.Close()
	}
	if p.sttSession != nil {
		_ = p.sttSession.Close()
	}
	if p.semAcquired {
		p.w.sem.Release(1)
	}

	p.w.mu.Lock()
	if cur, ok := p.w.processors[p.id]; ok && cur == p {
		delete(p.w.processors, p.id)
	}
	p.w.mu.Unlock()

	close(p.closed)
}
