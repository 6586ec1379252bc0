package dialog

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeAudioFrame_RoundTrip(t *testing.T) {
	id := NewConversationID()
	pcm := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	frame := AudioFrameIn{ConversationID: id, Bytes: pcm}

	encoded := EncodeAudioFrame(frame)
	if len(encoded) != 16+len(pcm) {
		t.Fatalf("encoded length = %d, want %d", len(encoded), 16+len(pcm))
	}

	decoded, err := DecodeAudioFrame(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.ConversationID != id {
		t.Errorf("conversation id = %v, want %v", decoded.ConversationID, id)
	}
	if !bytes.Equal(decoded.Bytes, pcm) {
		t.Errorf("bytes = %v, want %v", decoded.Bytes, pcm)
	}
}

func TestEncodeAudioFrame_EmptyPayload(t *testing.T) {
	id := NewConversationID()
	encoded := EncodeAudioFrame(AudioFrameIn{ConversationID: id})
	decoded, err := DecodeAudioFrame(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(decoded.Bytes) != 0 {
		t.Errorf("bytes = %v, want empty", decoded.Bytes)
	}
}

func TestDecodeAudioFrame_TooShort(t *testing.T) {
	_, err := DecodeAudioFrame([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected error for short envelope, got nil")
	}
}
