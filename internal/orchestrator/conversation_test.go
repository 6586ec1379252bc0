package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/internal/mcp"
	mcpmock "github.com/MrWong99/glyphoxa/internal/mcp/mock"
	"github.com/MrWong99/glyphoxa/pkg/bus"
	"github.com/MrWong99/glyphoxa/pkg/bus/membus"
	"github.com/MrWong99/glyphoxa/pkg/dialog"
	"github.com/MrWong99/glyphoxa/pkg/provider/llm"
	llmmock "github.com/MrWong99/glyphoxa/pkg/provider/llm/mock"
	"github.com/MrWong99/glyphoxa/pkg/types"
)

func testBus(t *testing.T) *bus.Bus {
	t.Helper()
	ks := membus.NewKeystore(time.Minute)
	t.Cleanup(ks.Close)
	return &bus.Bus{Broker: membus.New(), Keystore: ks}
}

func drain(ctx context.Context, t *testing.T, sub bus.Subscription, n int) [][]byte {
	t.Helper()
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		select {
		case payload := <-sub.C:
			out = append(out, payload)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d/%d", i+1, n)
		case <-ctx.Done():
			t.Fatalf("context done waiting for message %d/%d", i+1, n)
		}
	}
	return out
}

func TestWorker_PlainTextTurn(t *testing.T) {
	b := testBus(t)
	prov := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Hello there."},
		{Text: " How are you?"},
		{FinishReason: "stop"},
	}}

	pipeline := config.DefaultPipeline()
	w := New(b, prov, nil, pipeline, config.TopicsConfig{}.Resolve(), config.KeyPrefixesConfig{}.Resolve())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ttsSub, err := b.Broker.Subscribe(ctx, w.topics.TTSRequest)
	if err != nil {
		t.Fatalf("subscribe tts: %v", err)
	}
	defer ttsSub.Unsubscribe()

	convID := dialog.NewConversationID()
	w.dispatchTranscript(ctx, dialog.TranscriptEvent{
		ConversationID: convID,
		Kind:           dialog.TranscriptFinal,
		Text:           "hi",
		TimestampMs:    1,
		IsFinal:        true,
	})

	msgs := drain(ctx, t, ttsSub, 2)
	var first, second dialog.TTSRequest
	if err := json.Unmarshal(msgs[0], &first); err != nil {
		t.Fatalf("unmarshal tts request: %v", err)
	}
	if err := json.Unmarshal(msgs[1], &second); err != nil {
		t.Fatalf("unmarshal tts request: %v", err)
	}
	if first.Text != "Hello there." || second.Text != "How are you?" {
		t.Fatalf("unexpected tts requests: %q, %q", first.Text, second.Text)
	}

	// Wait for history to settle, then verify persistence.
	deadline := time.Now().Add(2 * time.Second)
	var history []dialog.Message
	for time.Now().Before(deadline) {
		raw, err := b.Keystore.Get(ctx, w.keys.ConversationHistory+convID.String())
		if err == nil {
			if jErr := json.Unmarshal(raw, &history); jErr != nil {
				t.Fatalf("unmarshal history: %v", jErr)
			}
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != dialog.RoleUser || history[0].Content != "hi" {
		t.Fatalf("history[0] = %+v", history[0])
	}
	if history[1].Role != dialog.RoleAssistant || history[1].Content != "Hello there. How are you?" {
		t.Fatalf("history[1] = %+v", history[1])
	}
}

// roundTripProvider answers the first completion request with a tool call
// and every subsequent request with a plain-text reply, modeling the
// standard "call tool, then answer from its result" pattern without looping
// forever.
type roundTripProvider struct {
	calls int
}

func (p *roundTripProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.calls++
	ch := make(chan llm.Chunk, 2)
	if p.calls == 1 {
		ch <- llm.Chunk{ToolCalls: []types.ToolCall{{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Paris"}`}}}
		ch <- llm.Chunk{FinishReason: "tool_calls"}
	} else {
		ch <- llm.Chunk{Text: "It's 18°C in Paris."}
		ch <- llm.Chunk{FinishReason: "stop"}
	}
	close(ch)
	return ch, nil
}

func (p *roundTripProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{}, nil
}

func (p *roundTripProvider) CountTokens(messages []types.Message) (int, error) { return 0, nil }

func (p *roundTripProvider) Capabilities() types.ModelCapabilities { return types.ModelCapabilities{} }

func TestWorker_ToolCallRoundTrip(t *testing.T) {
	b := testBus(t)
	host := &mcpmock.Host{
		AvailableToolsResult: []llm.ToolDefinition{{Name: "get_weather"}},
		ExecuteToolResult:    &mcp.ToolResult{Content: `{"tempC":18}`},
	}
	prov := &roundTripProvider{}

	pipeline := config.DefaultPipeline()
	w := New(b, prov, host, pipeline, config.TopicsConfig{}.Resolve(), config.KeyPrefixesConfig{}.Resolve())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	toolSub, err := b.Broker.Subscribe(ctx, w.topics.ToolEvents)
	if err != nil {
		t.Fatalf("subscribe tool events: %v", err)
	}
	defer toolSub.Unsubscribe()

	convID := dialog.NewConversationID()
	w.dispatchTranscript(ctx, dialog.TranscriptEvent{
		ConversationID: convID,
		Text:           "what's the weather in Paris",
		TimestampMs:    1,
		IsFinal:        true,
	})

	events := drain(ctx, t, toolSub, 3)
	var last dialog.ToolInvocation
	if err := json.Unmarshal(events[2], &last); err != nil {
		t.Fatalf("unmarshal tool event: %v", err)
	}
	if last.Status != dialog.ToolCompleted {
		t.Fatalf("final tool status = %v, want completed", last.Status)
	}

	if n := host.CallCount("ExecuteTool"); n != 1 {
		t.Fatalf("ExecuteTool called %d times, want 1", n)
	}
	if prov.calls != 2 {
		t.Fatalf("StreamCompletion called %d times, want 2 (tool round then answer)", prov.calls)
	}
}

func TestConversationProc_DuplicateTranscriptIgnored(t *testing.T) {
	b := testBus(t)
	prov := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "ok."}, {FinishReason: "stop"}}}
	pipeline := config.DefaultPipeline()
	w := New(b, prov, nil, pipeline, config.TopicsConfig{}.Resolve(), config.KeyPrefixesConfig{}.Resolve())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	convID := dialog.NewConversationID()
	evt := dialog.TranscriptEvent{ConversationID: convID, Text: "hi", TimestampMs: 42, IsFinal: true}
	w.dispatchTranscript(ctx, evt)
	w.dispatchTranscript(ctx, evt)

	time.Sleep(200 * time.Millisecond)
	if calls := len(prov.StreamCalls); calls != 1 {
		t.Fatalf("StreamCompletion called %d times, want 1 (duplicate timestamp should be ignored)", calls)
	}
}
