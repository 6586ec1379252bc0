package gateway

import "github.com/MrWong99/glyphoxa/pkg/dialog"

// Client-facing message "type" discriminators, per the outbound wire
// contract. These intentionally differ from the internal bus record shapes
// (dialog.TranscriptEvent, dialog.LLMStreamEvent, dialog.ToolInvocation) —
// the gateway is the one place that translates between them.
const (
	clientTypeSystemEvent       = "system_event"
	clientTypePartialTranscript = "partial_transcript"
	clientTypeFinalTranscript   = "final_transcript"
	clientTypeErrorTranscript   = "error_transcript"
	clientTypeToken             = "token"
	clientTypeTool              = "tool"
	clientTypeBargeIn           = "barge_in_notification"
)

type systemEventMessage struct {
	Type           string              `json:"type"`
	Event          string              `json:"event"`
	ConversationID dialog.ConversationID `json:"conversation_id"`
}

func conversationStartedMessage(id dialog.ConversationID) systemEventMessage {
	return systemEventMessage{Type: clientTypeSystemEvent, Event: "conversation_started", ConversationID: id}
}

type transcriptMessage struct {
	Type           string                `json:"type"`
	ConversationID dialog.ConversationID `json:"conversation_id"`
	Transcript     string                `json:"transcript"`
	TimestampMs    int64                 `json:"timestamp_ms"`
	IsFinal        bool                  `json:"is_final"`
}

func translateTranscript(evt dialog.TranscriptEvent) transcriptMessage {
	t := clientTypePartialTranscript
	switch evt.Kind {
	case dialog.TranscriptFinal:
		t = clientTypeFinalTranscript
	case dialog.TranscriptError:
		t = clientTypeErrorTranscript
	}
	return transcriptMessage{
		Type:           t,
		ConversationID: evt.ConversationID,
		Transcript:     evt.Text,
		TimestampMs:    evt.TimestampMs,
		IsFinal:        evt.IsFinal,
	}
}

type tokenMessage struct {
	Type           string                `json:"type"`
	Role           string                `json:"role"`
	Content        string                `json:"content"`
	ConversationID dialog.ConversationID `json:"conversation_id"`
}

func translateToken(evt dialog.LLMStreamEvent) tokenMessage {
	return tokenMessage{
		Type:           clientTypeToken,
		Role:           evt.Role,
		Content:        evt.Content,
		ConversationID: evt.ConversationID,
	}
}

type toolMessage struct {
	Type           string                `json:"type"`
	Name           string                `json:"name"`
	Status         dialog.ToolStatus     `json:"status"`
	ConversationID dialog.ConversationID `json:"conversation_id"`
	Result         any                   `json:"result,omitempty"`
}

func translateTool(evt dialog.ToolInvocation) toolMessage {
	var result any
	if len(evt.ResultJSON) > 0 {
		result = evt.ResultJSON
	}
	return toolMessage{
		Type:           clientTypeTool,
		Name:           evt.Name,
		Status:         evt.Status,
		ConversationID: evt.ConversationID,
		Result:         result,
	}
}

type bargeInMessage struct {
	Type           string                `json:"type"`
	ConversationID dialog.ConversationID `json:"conversation_id"`
	TimestampMs    int64                 `json:"timestamp_ms"`
}

func translateBargeIn(evt dialog.BargeInEvent) bargeInMessage {
	return bargeInMessage{
		Type:           clientTypeBargeIn,
		ConversationID: evt.ConversationID,
		TimestampMs:    evt.TimestampMs,
	}
}
