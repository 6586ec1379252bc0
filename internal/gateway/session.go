package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/glyphoxa/pkg/bus"
	"github.com/MrWong99/glyphoxa/pkg/dialog"
)

// maxSubscribeAttempts bounds how many times a forwarder retries an initial
// topic subscription before giving up on the session, per the gateway's
// bounded-retry failure semantics.
const maxSubscribeAttempts = 3

// session owns one client connection end to end: it mints the conversation
// id, runs the inbound audio reader and five outbound forwarders
// concurrently, and tears every one of them down the moment any single unit
// exits.
type session struct {
	g    *Gateway
	conn *websocket.Conn
	id   dialog.ConversationID
}

func newSession(g *Gateway, conn *websocket.Conn) *session {
	return &session{g: g, conn: conn, id: dialog.NewConversationID()}
}

func (s *session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer s.conn.Close(websocket.StatusNormalClosure, "session ended")

	if err := s.writeJSON(ctx, conversationStartedMessage(s.id)); err != nil {
		slog.Warn("gateway: send conversation_started failed", "conversation_id", s.id.String(), "err", err)
		return
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return s.readInbound(egCtx) })
	eg.Go(func() error { return forward(egCtx, s, s.g.topics.Transcripts, s.id, translateTranscript) })
	eg.Go(func() error { return forward(egCtx, s, s.g.topics.LLMTokens, s.id, translateToken) })
	eg.Go(func() error { return forward(egCtx, s, s.g.topics.ToolEvents, s.id, translateTool) })
	eg.Go(func() error { return forward(egCtx, s, s.g.topics.BargeIn, s.id, translateBargeIn) })
	eg.Go(func() error { return s.forwardAudioOut(egCtx) })

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Info("gateway: session ended", "conversation_id", s.id.String(), "err", err)
	}
}

// readInbound forwards every non-empty binary frame from the client onto
// audio.in, tagged with the session's conversation id. It returns when the
// client closes the connection or sends a frame that cannot be forwarded.
func (s *session) readInbound(ctx context.Context) error {
	for {
		msgType, payload, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		if msgType != websocket.MessageBinary || len(payload) == 0 {
			continue
		}
		frame := dialog.AudioFrameIn{ConversationID: s.id, Bytes: payload}
		if _, err := s.g.bus.Broker.Publish(ctx, s.g.topics.AudioIn, dialog.EncodeAudioFrame(frame)); err != nil {
			slog.Warn("gateway: publish audio frame", "conversation_id", s.id.String(), "err", err)
		}
	}
}

// forwardAudioOut subscribes to this session's per-conversation audio.out
// topic and relays control envelopes as text frames, PCM chunks as binary
// frames, in publish order.
func (s *session) forwardAudioOut(ctx context.Context) error {
	sub, err := subscribeWithRetry(ctx, s.g, bus.TopicAudioOut(s.id.String()))
	if err != nil {
		return err
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
			isChunk, body, err := dialog.IsAudioOutChunk(payload)
			if err != nil {
				slog.Warn("gateway: decode audio.out envelope", "conversation_id", s.id.String(), "err", err)
				continue
			}
			msgType := websocket.MessageText
			if isChunk {
				msgType = websocket.MessageBinary
			}
			if err := s.conn.Write(ctx, msgType, body); err != nil {
				return err
			}
		}
	}
}

// forward subscribes to a shared (non-per-conversation) topic, decodes each
// message as T, drops messages for other conversations, translates matching
// ones with translateFn, and writes the result as a JSON text frame.
func forward[T any, M any](ctx context.Context, s *session, topic string, id dialog.ConversationID, translateFn func(T) M) error {
	sub, err := subscribeWithRetry(ctx, s.g, topic)
	if err != nil {
		return err
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
			var evt T
			if err := json.Unmarshal(payload, &evt); err != nil {
				slog.Warn("gateway: decode bus event", "topic", topic, "err", err)
				continue
			}
			if conversationIDOf(evt) != id {
				continue
			}
			if err := s.writeJSON(ctx, translateFn(evt)); err != nil {
				return err
			}
		}
	}
}

// conversationIDOf extracts the ConversationID field shared by every bus
// record type the gateway forwards.
func conversationIDOf(v any) dialog.ConversationID {
	switch t := v.(type) {
	case dialog.TranscriptEvent:
		return t.ConversationID
	case dialog.LLMStreamEvent:
		return t.ConversationID
	case dialog.ToolInvocation:
		return t.ConversationID
	case dialog.BargeInEvent:
		return t.ConversationID
	default:
		return dialog.ConversationID{}
	}
}

func subscribeWithRetry(ctx context.Context, g *Gateway, topic string) (bus.Subscription, error) {
	var sub bus.Subscription
	var lastErr error
	for attempt := 1; attempt <= maxSubscribeAttempts; attempt++ {
		err := g.breaker.Execute(func() error {
			var subErr error
			sub, subErr = g.bus.Broker.Subscribe(ctx, topic)
			return subErr
		})
		if err == nil {
			return sub, nil
		}
		lastErr = err
		slog.Warn("gateway: subscribe attempt failed", "topic", topic, "attempt", attempt, "err", err)
		select {
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		case <-ctx.Done():
			return bus.Subscription{}, ctx.Err()
		}
	}
	return bus.Subscription{}, lastErr
}

func (s *session) writeJSON(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, websocket.MessageText, payload)
}
