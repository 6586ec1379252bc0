package dialog

import "unicode"

// SentenceSegmenter accumulates streaming text deltas and emits complete
// sentences as they close, the same boundary rule the TTS providers use to
// chunk their own input (see pkg/provider/tts/coqui): a '.', '!' or '?' that
// is either at the end of the buffer or followed by whitespace.
//
// It preserves ordering, never splits mid-sentence, and never emits the same
// text twice — each accepted boundary consumes the buffer up to and
// including the terminator.
type SentenceSegmenter struct {
	buf string
}

// Feed appends delta to the buffer and returns zero or more complete
// sentences it closed off, in order.
func (s *SentenceSegmenter) Feed(delta string) []string {
	s.buf += delta
	var out []string
	for {
		idx := findSentenceBoundary(s.buf)
		if idx < 0 {
			return out
		}
		sentence := trimSpace(s.buf[:idx+1])
		s.buf = s.buf[idx+1:]
		if sentence != "" {
			out = append(out, sentence)
		}
	}
}

// Flush returns any residual fragment that never closed with a terminator
// (dispatched on stream end or before a tool call) and clears the buffer.
func (s *SentenceSegmenter) Flush() string {
	rest := trimSpace(s.buf)
	s.buf = ""
	return rest
}

// findSentenceBoundary returns the index of the first sentence-ending
// character ('.', '!', '?') that is either at the end of s or immediately
// followed by whitespace, so abbreviations and decimals are not mistaken for
// boundaries. Returns -1 if no boundary is found yet.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}

func trimSpace(s string) string {
	start := 0
	for start < len(s) && unicode.IsSpace(rune(s[start])) {
		start++
	}
	end := len(s)
	for end > start && unicode.IsSpace(rune(s[end-1])) {
		end--
	}
	return s[start:end]
}
