package ttsstream

import (
	"strings"
	"unicode"
)

// SentenceCutter cuts streamed text at sentence boundaries as it arrives.
// A cut happens once the buffer holds one or more of [.!?], then
// whitespace, then any non-space rune; punctuation stays with its
// sentence. Text after the boundary is held for the next cut.
type SentenceCutter struct {
	buf []rune
}

func NewSentenceCutter() *SentenceCutter { return &SentenceCutter{} }

// Feed appends streamed text and returns the sentences completed by it.
func (c *SentenceCutter) Feed(text string) []string {
	if text == "" {
		return nil
	}
	c.buf = append(c.buf, []rune(text)...)
	var out []string
	for {
		sentence, rest, ok := cutOnce(c.buf)
		if !ok {
			return out
		}
		if sentence != "" {
			out = append(out, sentence)
		}
		c.buf = rest
	}
}

// Flush returns whatever is still buffered, trimmed of the trailing JSON
// punctuation a truncated stream can leave behind. The cutter is reusable
// afterwards.
func (c *SentenceCutter) Flush() string {
	s := strings.TrimSpace(string(c.buf))
	c.buf = nil
	s = strings.TrimRight(s, "\"}")
	return strings.TrimSpace(s)
}

func cutOnce(buf []rune) (string, []rune, bool) {
	for i := 0; i < len(buf); i++ {
		if !isSentenceEnd(buf[i]) {
			continue
		}
		j := i
		for j+1 < len(buf) && isSentenceEnd(buf[j+1]) {
			j++
		}
		k := j + 1
		if k < len(buf) && unicode.IsSpace(buf[k]) {
			for k < len(buf) && unicode.IsSpace(buf[k]) {
				k++
			}
			if k >= len(buf) {
				// Boundary may still be growing; wait for more text.
				return "", nil, false
			}
			sentence := strings.TrimSpace(string(buf[:j+1]))
			rest := make([]rune, len(buf)-k)
			copy(rest, buf[k:])
			return sentence, rest, true
		}
		i = j
	}
	return "", nil, false
}
