// Package tutor watches a student's handwritten work and decides when the
// tutor should speak. It owns the debounced transcription and reasoning
// schedulers, the prompt context assembler and the voice-question pipeline.
package tutor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/inkwell-labs/inkwell/internal/provider"
	"github.com/inkwell-labs/inkwell/internal/store"
)

// StrokePoint is one sampled pen position. Clients may send extra fields
// (timestamps, pressure); they are ignored.
type StrokePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one continuous pen-down trace.
type Stroke struct {
	Points []StrokePoint `json:"points"`
}

// DecodeStrokes parses the stroke array stored with a draw event.
func DecodeStrokes(raw json.RawMessage) ([]Stroke, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var strokes []Stroke
	if err := json.Unmarshal(raw, &strokes); err != nil {
		return nil, fmt.Errorf("decode strokes: %w", err)
	}
	return strokes, nil
}

// ReplayVisible reconstructs the strokes still on the page from the ordered
// ink log: an erase resets the visible set, a draw appends its strokes.
// Rows that fail to decode contribute nothing.
func ReplayVisible(rows []store.StrokeLog) []Stroke {
	var visible []Stroke
	for _, row := range rows {
		switch row.EventType {
		case store.EventErase:
			visible = nil
		case store.EventDraw:
			strokes, err := DecodeStrokes(row.Strokes)
			if err != nil {
				continue
			}
			visible = append(visible, strokes...)
		}
	}
	return visible
}

// HashStrokes returns a deterministic fingerprint of the visible strokes,
// used to skip recognizer calls when the page has not changed.
func HashStrokes(strokes []Stroke) string {
	h := sha256.New()
	var buf []byte
	for _, s := range strokes {
		h.Write([]byte{'|'})
		for _, p := range s.Points {
			buf = strconv.AppendFloat(buf[:0], p.X, 'g', -1, 64)
			buf = append(buf, ',')
			buf = strconv.AppendFloat(buf, p.Y, 'g', -1, 64)
			buf = append(buf, ';')
			h.Write(buf)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// InkOf converts strokes to the recognizer's parallel-array form.
func InkOf(strokes []Stroke) provider.Ink {
	ink := provider.Ink{
		X: make([][]float64, 0, len(strokes)),
		Y: make([][]float64, 0, len(strokes)),
	}
	for _, s := range strokes {
		xs := make([]float64, len(s.Points))
		ys := make([]float64, len(s.Points))
		for i, p := range s.Points {
			xs[i] = p.X
			ys[i] = p.Y
		}
		ink.X = append(ink.X, xs)
		ink.Y = append(ink.Y, ys)
	}
	return ink
}
