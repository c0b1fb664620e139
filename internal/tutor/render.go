package tutor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
)

const (
	renderMaxEdge = 768.0
	renderPad     = 24
)

// RenderPNG rasterizes strokes onto a white canvas so the reasoning model
// can look at work the handwriting recognizer could not read.
func RenderPNG(strokes []Stroke) ([]byte, error) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	points := 0
	for _, s := range strokes {
		for _, p := range s.Points {
			points++
			minX = math.Min(minX, p.X)
			minY = math.Min(minY, p.Y)
			maxX = math.Max(maxX, p.X)
			maxY = math.Max(maxY, p.Y)
		}
	}
	if points == 0 {
		return nil, errors.New("render: no points")
	}

	scale := 1.0
	if longest := math.Max(maxX-minX, maxY-minY); longest > 0 {
		scale = renderMaxEdge / longest
		if scale > 4 {
			scale = 4
		}
	}
	w := int(math.Ceil((maxX-minX)*scale)) + 2*renderPad
	h := int(math.Ceil((maxY-minY)*scale)) + 2*renderPad

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	ink := color.RGBA{R: 20, G: 20, B: 20, A: 255}
	toPixel := func(p StrokePoint) (int, int) {
		return int(math.Round((p.X-minX)*scale)) + renderPad,
			int(math.Round((p.Y-minY)*scale)) + renderPad
	}
	for _, s := range strokes {
		if len(s.Points) == 0 {
			continue
		}
		x0, y0 := toPixel(s.Points[0])
		if len(s.Points) == 1 {
			drawLine(img, x0, y0, x0, y0, ink)
			continue
		}
		for i := 1; i < len(s.Points); i++ {
			x1, y1 := toPixel(s.Points[i])
			drawLine(img, x0, y0, x1, y1, ink)
			x0, y0 = x1, y1
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page render: %w", err)
	}
	return buf.Bytes(), nil
}

// drawLine plots a Bresenham segment two pixels wide.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx := 1
	if x0 > x1 {
		sx = -1
	}
	sy := 1
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		plot(img, x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func plot(img *image.RGBA, x, y int, c color.RGBA) {
	for _, d := range [...][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		px, py := x+d[0], y+d[1]
		if image.Pt(px, py).In(img.Bounds()) {
			img.SetRGBA(px, py, c)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
