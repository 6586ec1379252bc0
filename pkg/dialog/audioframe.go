package dialog

import (
	"fmt"

	"github.com/google/uuid"
)

// EncodeAudioFrame serializes an AudioFrameIn into the binary envelope
// published on [bus.TopicAudioIn]. PCM payloads can be large and arrive at a
// high rate, so they bypass JSON entirely: the envelope is the 16-byte
// conversation id followed by the raw PCM bytes.
func EncodeAudioFrame(f AudioFrameIn) []byte {
	id := uuid.UUID(f.ConversationID)
	buf := make([]byte, len(id)+len(f.Bytes))
	copy(buf, id[:])
	copy(buf[len(id):], f.Bytes)
	return buf
}

// DecodeAudioFrame parses the envelope written by EncodeAudioFrame.
func DecodeAudioFrame(b []byte) (AudioFrameIn, error) {
	if len(b) < 16 {
		return AudioFrameIn{}, fmt.Errorf("dialog: audio frame envelope too short (%d bytes)", len(b))
	}
	var id uuid.UUID
	copy(id[:], b[:16])
	return AudioFrameIn{
		ConversationID: ConversationID(id),
		Bytes:          b[16:],
	}, nil
}
