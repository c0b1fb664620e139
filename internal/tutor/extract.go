package tutor

import (
	"bytes"
	"strconv"
	"strings"
)

// messageExtractor streams the value of the "message" field out of a JSON
// reply as raw fragments arrive, without waiting for the object to close.
// Escapes for quote, backslash, newline and tab are decoded in place.
type messageExtractor struct {
	buf       []byte
	pos       int
	inMessage bool
	escaped   bool
	done      bool
	out       []byte
}

// Feed appends a raw fragment and returns any newly decoded message text.
func (e *messageExtractor) Feed(delta string) string {
	if e.done || delta == "" {
		return ""
	}
	e.buf = append(e.buf, delta...)
	if !e.inMessage {
		pos, ok := findMessageStart(e.buf)
		if !ok {
			return ""
		}
		e.inMessage = true
		e.pos = pos
	}
	start := len(e.out)
	for e.pos < len(e.buf) {
		c := e.buf[e.pos]
		e.pos++
		if e.escaped {
			e.out = append(e.out, unescapeByte(c))
			e.escaped = false
			continue
		}
		switch c {
		case '\\':
			e.escaped = true
		case '"':
			e.done = true
			return string(e.out[start:])
		default:
			e.out = append(e.out, c)
		}
	}
	return string(e.out[start:])
}

// Found reports whether the message field has been located yet.
func (e *messageExtractor) Found() bool { return e.inMessage }

// Message returns everything decoded so far.
func (e *messageExtractor) Message() string { return string(e.out) }

func findMessageStart(buf []byte) (int, bool) {
	idx := bytes.Index(buf, []byte(`"message"`))
	if idx < 0 {
		return 0, false
	}
	pos := idx + len(`"message"`)
	for pos < len(buf) && isJSONSpace(buf[pos]) {
		pos++
	}
	if pos >= len(buf) || buf[pos] != ':' {
		return 0, false
	}
	pos++
	for pos < len(buf) && isJSONSpace(buf[pos]) {
		pos++
	}
	if pos >= len(buf) || buf[pos] != '"' {
		return 0, false
	}
	return pos + 1, true
}

// scanStringField pulls the decoded value of a string field out of raw,
// possibly truncated JSON. complete reports whether the closing quote was
// seen; a truncated value is returned as far as it got.
func scanStringField(raw, key string) (value string, complete, found bool) {
	idx := strings.Index(raw, `"`+key+`"`)
	if idx < 0 {
		return "", false, false
	}
	pos := idx + len(key) + 2
	for pos < len(raw) && isJSONSpace(raw[pos]) {
		pos++
	}
	if pos >= len(raw) || raw[pos] != ':' {
		return "", false, false
	}
	pos++
	for pos < len(raw) && isJSONSpace(raw[pos]) {
		pos++
	}
	if pos >= len(raw) || raw[pos] != '"' {
		return "", false, false
	}
	pos++
	var out []byte
	escaped := false
	for ; pos < len(raw); pos++ {
		c := raw[pos]
		if escaped {
			out = append(out, unescapeByte(c))
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '"':
			return string(out), true, true
		default:
			out = append(out, c)
		}
	}
	return string(out), false, true
}

// scanIntField pulls an integer field out of raw, possibly truncated JSON.
func scanIntField(raw, key string) (int, bool) {
	idx := strings.Index(raw, `"`+key+`"`)
	if idx < 0 {
		return 0, false
	}
	pos := idx + len(key) + 2
	for pos < len(raw) && isJSONSpace(raw[pos]) {
		pos++
	}
	if pos >= len(raw) || raw[pos] != ':' {
		return 0, false
	}
	pos++
	for pos < len(raw) && isJSONSpace(raw[pos]) {
		pos++
	}
	end := pos
	for end < len(raw) && (raw[end] == '-' || (raw[end] >= '0' && raw[end] <= '9')) {
		end++
	}
	n, err := strconv.Atoi(raw[pos:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// decidesSilent reports whether an accumulating reply has committed to a
// silent action, so the stream can be cut short.
func decidesSilent(raw string) bool {
	v, complete, found := scanStringField(raw, "action")
	return found && complete && v == ActionSilent
}

func unescapeByte(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return c
	}
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
