package tutor

import (
	"bytes"
	"image/png"
	"testing"
)

func TestRenderPNG(t *testing.T) {
	strokes := []Stroke{
		stroke(StrokePoint{X: 0, Y: 0}, StrokePoint{X: 100, Y: 50}),
		stroke(StrokePoint{X: 20, Y: 80}),
	}
	data, err := RenderPNG(strokes)
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Spans 100x80, scale capped at 4: canvas 448x368 inside the padding.
	b := img.Bounds()
	if b.Dx() != 448 || b.Dy() != 368 {
		t.Fatalf("bounds = %v, want 448x368", b)
	}

	// The first point lands at the padding offset and is inked; the corner
	// stays white.
	r, g, bl, _ := img.At(renderPad, renderPad).RGBA()
	if r>>8 > 64 || g>>8 > 64 || bl>>8 > 64 {
		t.Fatalf("expected ink at the first point, got rgb(%d,%d,%d)", r>>8, g>>8, bl>>8)
	}
	r, g, bl, _ = img.At(1, 1).RGBA()
	if r>>8 < 200 || g>>8 < 200 || bl>>8 < 200 {
		t.Fatalf("expected white at the corner, got rgb(%d,%d,%d)", r>>8, g>>8, bl>>8)
	}
}

func TestRenderPNGNoPoints(t *testing.T) {
	if _, err := RenderPNG(nil); err == nil {
		t.Fatal("expected an error with no points")
	}
	if _, err := RenderPNG([]Stroke{{Points: nil}}); err == nil {
		t.Fatal("expected an error with empty strokes")
	}
}

func TestRenderPNGSinglePointDot(t *testing.T) {
	data, err := RenderPNG([]Stroke{stroke(StrokePoint{X: 5, Y: 5})})
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// A single point spans nothing: the canvas is just the padding, with a
	// dot at its center.
	if b := img.Bounds(); b.Dx() != 2*renderPad || b.Dy() != 2*renderPad {
		t.Fatalf("bounds = %v, want %dx%d", b, 2*renderPad, 2*renderPad)
	}
	r, _, _, _ := img.At(renderPad, renderPad).RGBA()
	if r>>8 > 64 {
		t.Fatalf("expected an inked dot, got r=%d", r>>8)
	}
}
