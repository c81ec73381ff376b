// Package render draws channel snapshots as PNG plots: the time series on
// top and the displayed half of the spectrum below.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	backgroundColor = color.RGBA{255, 255, 255, 255} // white
	axisColor       = color.RGBA{0, 0, 0, 255}       // black
	rawColor        = color.RGBA{0, 0, 255, 255}     // blue
	filteredColor   = color.RGBA{255, 0, 0, 255}     // red
	spectrumColor   = color.RGBA{0, 128, 0, 255}     // green
)

const (
	defaultWidth  = 640
	defaultHeight = 480
	marginLeft    = 60 // pixels
	marginRight   = 10 // pixels
	marginTop     = 20 // pixels
	panelGap      = 30 // pixels
	labelOffset   = 4  // pixels
)

// Series is one channel's plot data.
type Series struct {
	Title        string
	Timestamps   []float64
	Raw          []float64
	Filtered     []float64
	Freqs        []float64
	Magnitudes   []float64
	NyquistIndex int
}

// Options sizes the output image. Zero values take defaults.
type Options struct {
	Width  int
	Height int
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = defaultWidth
	}
	if o.Height <= 0 {
		o.Height = defaultHeight
	}
	return o
}

// Plot renders s into a new image.
func Plot(s Series, opts Options) *image.RGBA {
	opts = opts.withDefaults()
	canvas := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{backgroundColor}, image.Point{}, draw.Src)

	panelHeight := (opts.Height - marginTop - 2*panelGap) / 2
	top := image.Rect(marginLeft, marginTop, opts.Width-marginRight, marginTop+panelHeight)
	bottom := image.Rect(marginLeft, top.Max.Y+panelGap, opts.Width-marginRight, top.Max.Y+panelGap+panelHeight)

	drawLabel(canvas, image.Point{labelOffset, marginTop - labelOffset}, s.Title)

	timeY := append(append([]float64(nil), s.Raw...), s.Filtered...)
	tLow, tHigh := bounds(s.Timestamps)
	vLow, vHigh := bounds(timeY)
	drawFrame(canvas, top, fmt.Sprintf("%.3g", vHigh), fmt.Sprintf("%.3g", vLow))
	drawLabel(canvas, image.Point{top.Min.X, top.Max.Y + 13}, fmt.Sprintf("t %.3g .. %.3g s", tLow, tHigh))
	drawSeries(canvas, top, s.Timestamps, s.Raw, tLow, tHigh, vLow, vHigh, rawColor)
	drawSeries(canvas, top, s.Timestamps, s.Filtered, tLow, tHigh, vLow, vHigh, filteredColor)

	end := min(s.NyquistIndex+1, len(s.Freqs), len(s.Magnitudes))
	freqs, mags := s.Freqs[:max(end, 0)], s.Magnitudes[:max(end, 0)]
	fLow, fHigh := bounds(freqs)
	drawFrame(canvas, bottom, "1", "0")
	drawLabel(canvas, image.Point{bottom.Min.X, bottom.Max.Y + 13}, fmt.Sprintf("f %.3g .. %.3g Hz", fLow, fHigh))
	drawSeries(canvas, bottom, freqs, mags, fLow, fHigh, 0, 1, spectrumColor)

	return canvas
}

// WritePNG renders s and encodes it as PNG.
func WritePNG(w io.Writer, s Series, opts Options) error {
	return png.Encode(w, Plot(s, opts))
}

// bounds returns the finite min and max of v, widened when degenerate.
func bounds(v []float64) (float64, float64) {
	low, high := math.Inf(1), math.Inf(-1)
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		low = math.Min(low, x)
		high = math.Max(high, x)
	}
	if low > high {
		return 0, 1
	}
	if low == high {
		return low - 0.5, high + 0.5
	}
	return low, high
}

func drawFrame(canvas *image.RGBA, r image.Rectangle, highLabel, lowLabel string) {
	for x := r.Min.X; x <= r.Max.X; x++ {
		canvas.Set(x, r.Min.Y, axisColor)
		canvas.Set(x, r.Max.Y, axisColor)
	}
	for y := r.Min.Y; y <= r.Max.Y; y++ {
		canvas.Set(r.Min.X, y, axisColor)
		canvas.Set(r.Max.X, y, axisColor)
	}
	drawLabel(canvas, image.Point{labelOffset, r.Min.Y + 10}, highLabel)
	drawLabel(canvas, image.Point{labelOffset, r.Max.Y}, lowLabel)
}

func drawLabel(canvas *image.RGBA, p image.Point, text string) {
	if text == "" {
		return
	}
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(axisColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(p.X, p.Y),
	}
	d.DrawString(text)
}

func drawSeries(canvas *image.RGBA, r image.Rectangle, xs, ys []float64, xLow, xHigh, yLow, yHigh float64, c color.Color) {
	n := min(len(xs), len(ys))
	if n == 0 {
		return
	}
	project := func(i int) (image.Point, bool) {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			return image.Point{}, false
		}
		px := r.Min.X + int(math.Round((xs[i]-xLow)/(xHigh-xLow)*float64(r.Dx())))
		py := r.Max.Y - int(math.Round((ys[i]-yLow)/(yHigh-yLow)*float64(r.Dy())))
		return image.Point{clamp(px, r.Min.X, r.Max.X), clamp(py, r.Min.Y, r.Max.Y)}, true
	}
	prev, ok := project(0)
	if ok {
		canvas.Set(prev.X, prev.Y, c)
	}
	for i := 1; i < n; i++ {
		p, pok := project(i)
		if ok && pok {
			drawLine(canvas, prev, p, c)
		}
		prev, ok = p, pok
	}
}

// drawLine is Bresenham's algorithm.
func drawLine(canvas *image.RGBA, a, b image.Point, c color.Color) {
	dx, dy := abs(b.X-a.X), -abs(b.Y-a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx + dy
	for {
		canvas.Set(a.X, a.Y, c)
		if a == b {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			a.X += sx
		}
		if e2 <= dx {
			e += dx
			a.Y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
