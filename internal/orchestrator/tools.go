package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/glyphoxa/internal/mcp"
	"github.com/MrWong99/glyphoxa/pkg/dialog"
)

// ToolExecutor abstracts tool dispatch so the turn loop does not couple
// directly to a transport. The only implementation shipped here routes
// through an [mcp.Host]; built-in handlers are registered with the host
// directly (see internal/mcp/mcphost.RegisterBuiltin) so they share this same
// dispatch path.
type ToolExecutor interface {
	// Dispatch executes name with JSON-encoded argsJSON and returns the
	// JSON-encoded result. A non-nil error means the call failed, whether
	// from a transport failure or an application-level error reported by the
	// tool itself — the caller surfaces both as a failed [dialog.ToolInvocation].
	Dispatch(ctx context.Context, callID, name, argsJSON string, conversationID dialog.ConversationID) (json.RawMessage, error)
}

// mcpExecutor routes tool calls through an [mcp.Host].
type mcpExecutor struct {
	host mcp.Host
}

func (m mcpExecutor) Dispatch(ctx context.Context, callID, name, argsJSON string, _ dialog.ConversationID) (json.RawMessage, error) {
	if argsJSON == "" {
		argsJSON = "{}"
	}
	result, err := m.host.ExecuteTool(ctx, name, argsJSON)
	if err != nil {
		return nil, fmt.Errorf("execute tool %q (call %s): %w", name, callID, err)
	}
	if result.IsError {
		return nil, fmt.Errorf("tool %q (call %s) returned an error: %s", name, callID, result.Content)
	}
	return asJSON(result.Content), nil
}

// asJSON returns s verbatim if it is already a JSON value, or a quoted JSON
// string otherwise — tool results are typically JSON but a provider may
// return plain text.
func asJSON(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}
