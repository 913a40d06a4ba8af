// Package plot renders line plots of averaged waveforms and their spectra.
package plot

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/hb9tf/spinecho/stats"
	"github.com/hb9tf/spinecho/waveform"
)

var (
	// Colors defining the gradient used for overlaid traces. The higher the
	// index, the warmer.
	colors = []color.RGBA{
		{0, 0, 255, 255},   // blue
		{0, 160, 160, 255}, // teal
		{0, 160, 0, 255},   // green
		{220, 160, 0, 255}, // amber
		{255, 0, 0, 255},   // red
	}

	gridColor       = color.RGBA{0, 0, 0, 255}       // black
	gridLineColor   = color.RGBA{220, 220, 220, 255} // light grey
	backgroundColor = color.RGBA{255, 255, 255, 255} // white
	averageColor    = color.RGBA{0, 0, 0, 255}       // black

	ErrNoData = errors.New("nothing to plot")
)

const (
	gridMarginTop    = 24 // pixels
	gridMarginBottom = 24 // pixels
	gridMarginLeft   = 80 // pixels
	gridMarginRight  = 16 // pixels
	gridTickLen      = 6  // pixels
	gridMinStepX     = 90 // pixels
	gridMinStepY     = 40 // pixels
	labelOffset      = 4  // pixels

	DefaultWidth  = 1024
	DefaultHeight = 480
)

// Series is one trace. X and Y have equal length.
type Series struct {
	X, Y  []float64
	Color color.RGBA
}

// Options control the canvas and the axis labels.
type Options struct {
	Width  int
	Height int
	Title  string
	// XLabel and YLabel format tick values. Nil prints %.3g.
	XLabel func(float64) string
	YLabel func(float64) string
}

func (o Options) withDefaults() Options {
	if o.Width == 0 {
		o.Width = DefaultWidth
	}
	if o.Height == 0 {
		o.Height = DefaultHeight
	}
	if o.XLabel == nil {
		o.XLabel = plainLabel
	}
	if o.YLabel == nil {
		o.YLabel = plainLabel
	}
	return o
}

func plainLabel(v float64) string {
	return fmt.Sprintf("%.3g", v)
}

// TraceColor picks the color of trace i out of n from the gradient.
func TraceColor(i, n int) color.RGBA {
	if n <= 1 {
		return colors[0]
	}
	pos := float64(i) / float64(n-1) * float64(len(colors)-1)
	lo := int(math.Floor(pos))
	if lo >= len(colors)-1 {
		return colors[len(colors)-1]
	}
	fract := pos - float64(lo)
	a, b := colors[lo], colors[lo+1]
	mix := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*fract)
	}
	return color.RGBA{mix(a.R, b.R), mix(a.G, b.G), mix(a.B, b.B), 255}
}

type bounds struct {
	xMin, xMax, yMin, yMax float64
}

func dataBounds(series []Series) (bounds, error) {
	b := bounds{math.Inf(1), math.Inf(-1), math.Inf(1), math.Inf(-1)}
	n := 0
	for i, s := range series {
		if len(s.X) != len(s.Y) {
			return b, fmt.Errorf("series %d: %d x values, %d y values", i, len(s.X), len(s.Y))
		}
		for j := range s.X {
			x, y := s.X[j], s.Y[j]
			if !finite(x) || !finite(y) {
				continue
			}
			b.xMin, b.xMax = math.Min(b.xMin, x), math.Max(b.xMax, x)
			b.yMin, b.yMax = math.Min(b.yMin, y), math.Max(b.yMax, y)
			n++
		}
	}
	if n == 0 {
		return b, ErrNoData
	}
	if b.xMax == b.xMin {
		b.xMin, b.xMax = b.xMin-1, b.xMax+1
	}
	if b.yMax == b.yMin {
		b.yMin, b.yMax = b.yMin-1, b.yMax+1
	}
	return b, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Line draws the series into one set of axes.
func Line(series []Series, opts Options) (*image.RGBA, error) {
	opts = opts.withDefaults()
	if opts.Width <= gridMarginLeft+gridMarginRight+gridMinStepX || opts.Height <= gridMarginTop+gridMarginBottom+gridMinStepY {
		return nil, fmt.Errorf("image of %dx%d pixels is too small", opts.Width, opts.Height)
	}
	b, err := dataBounds(series)
	if err != nil {
		return nil, err
	}

	canvas := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{backgroundColor}, image.Point{}, draw.Src)
	area := image.Rect(gridMarginLeft, gridMarginTop, opts.Width-gridMarginRight, opts.Height-gridMarginBottom)

	toPixel := func(x, y float64) image.Point {
		px := area.Min.X + int(math.Round((x-b.xMin)/(b.xMax-b.xMin)*float64(area.Dx()-1)))
		py := area.Max.Y - 1 - int(math.Round((y-b.yMin)/(b.yMax-b.yMin)*float64(area.Dy()-1)))
		return image.Point{px, py}
	}

	drawGrid(canvas, area, b, opts)
	for _, s := range series {
		var prev *image.Point
		for j := range s.X {
			if !finite(s.X[j]) || !finite(s.Y[j]) {
				prev = nil
				continue
			}
			p := toPixel(s.X[j], s.Y[j])
			if prev != nil {
				drawLine(canvas, *prev, p, s.Color)
			} else {
				canvas.SetRGBA(p.X, p.Y, s.Color)
			}
			prev = &p
		}
	}
	drawLabel(canvas, image.Point{gridMarginLeft, gridMarginTop - labelOffset - 4}, opts.Title)
	return canvas, nil
}

func drawTick(canvas *image.RGBA, start image.Point, length int, horizontal bool, c color.RGBA) {
	for i := 0; i <= length; i++ {
		if horizontal {
			canvas.SetRGBA(start.X+i, start.Y, c)
		} else {
			canvas.SetRGBA(start.X, start.Y+i, c)
		}
	}
}

func findGridStepSize(size int, horizontal bool) int {
	gridMinStep := gridMinStepY
	if horizontal {
		gridMinStep = gridMinStepX
	}
	step := size
	for step > gridMinStep {
		n := step / 2
		if n < gridMinStep {
			return step
		}
		step = n
	}
	return step
}

func drawLabel(canvas *image.RGBA, at image.Point, text string) {
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(gridColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(at.X, at.Y),
	}
	d.DrawString(text)
}

func drawGrid(canvas *image.RGBA, area image.Rectangle, b bounds, opts Options) {
	// X ticks and vertical grid lines.
	xStep := findGridStepSize(area.Dx(), true)
	for i := 0; i < area.Dx(); i += xStep {
		x := area.Min.X + i
		drawTick(canvas, image.Point{x, area.Min.Y}, area.Dy()-1, false, gridLineColor)
		drawTick(canvas, image.Point{x, area.Max.Y}, gridTickLen, false, gridColor)
		v := b.xMin + float64(i)/float64(area.Dx()-1)*(b.xMax-b.xMin)
		drawLabel(canvas, image.Point{x + labelOffset, area.Max.Y + gridTickLen + 13}, opts.XLabel(v))
	}

	// Y ticks and horizontal grid lines.
	yStep := findGridStepSize(area.Dy(), false)
	for i := 0; i < area.Dy(); i += yStep {
		y := area.Max.Y - 1 - i
		drawTick(canvas, image.Point{area.Min.X, y}, area.Dx()-1, true, gridLineColor)
		drawTick(canvas, image.Point{area.Min.X - gridTickLen, y}, gridTickLen, true, gridColor)
		v := b.yMin + float64(i)/float64(area.Dy()-1)*(b.yMax-b.yMin)
		label := opts.YLabel(v)
		width := font.MeasureString(basicfont.Face7x13, label).Round()
		drawLabel(canvas, image.Point{area.Min.X - gridTickLen - labelOffset - width, y + 4}, label)
	}

	// Frame.
	drawTick(canvas, area.Min, area.Dx()-1, true, gridColor)
	drawTick(canvas, image.Point{area.Min.X, area.Max.Y - 1}, area.Dx()-1, true, gridColor)
	drawTick(canvas, area.Min, area.Dy()-1, false, gridColor)
	drawTick(canvas, image.Point{area.Max.X - 1, area.Min.Y}, area.Dy()-1, false, gridColor)
}

// drawLine draws a straight line with Bresenham's algorithm.
func drawLine(canvas *image.RGBA, from, to image.Point, c color.RGBA) {
	dx := abs(to.X - from.X)
	dy := -abs(to.Y - from.Y)
	sx, sy := 1, 1
	if from.X > to.X {
		sx = -1
	}
	if from.Y > to.Y {
		sy = -1
	}
	e := dx + dy
	x, y := from.X, from.Y
	for {
		canvas.SetRGBA(x, y, c)
		if x == to.X && y == to.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Waveform plots the batch means of a result in gradient colors with the
// grand average on top.
func Waveform(r *waveform.Result, opts Options) (*image.RGBA, error) {
	if len(r.GrandAverage) == 0 || len(r.Time) != len(r.GrandAverage) {
		return nil, fmt.Errorf("%w: average has %d samples, time axis %d", ErrNoData, len(r.GrandAverage), len(r.Time))
	}
	var series []Series
	for i, m := range r.BatchMeans {
		if len(m.Mean) != len(r.Time) {
			continue
		}
		series = append(series, Series{X: r.Time, Y: m.Mean, Color: TraceColor(i, len(r.BatchMeans))})
	}
	series = append(series, Series{X: r.Time, Y: r.GrandAverage, Color: averageColor})

	if opts.Title == "" {
		opts.Title = fmt.Sprintf("%s: %s pulse at %g MHz, %d experiments", r.Sample, r.PulseType, r.PulseFreq, r.Experiments)
	}
	if opts.XLabel == nil {
		opts.XLabel = waveform.ReadableTime
	}
	return Line(series, opts)
}

// PSD plots the Welch power spectral density of the grand average in dB.
func PSD(r *waveform.Result, opts Options) (*image.RGBA, error) {
	if !(r.SamplingFrequency > 0) {
		return nil, fmt.Errorf("sampling frequency must be positive, got %g Hz", r.SamplingFrequency)
	}
	pxx, freqs := stats.PSD(r.GrandAverage, r.SamplingFrequency)
	if len(pxx) == 0 {
		return nil, ErrNoData
	}
	db := make([]float64, len(pxx))
	for i, p := range pxx {
		db[i] = 10 * math.Log10(p)
	}
	if opts.Title == "" {
		opts.Title = fmt.Sprintf("%s: PSD of the average (fs %s)", r.Sample, waveform.ReadableFreq(r.SamplingFrequency))
	}
	if opts.XLabel == nil {
		opts.XLabel = waveform.ReadableFreq
	}
	if opts.YLabel == nil {
		opts.YLabel = func(v float64) string { return fmt.Sprintf("%.1f dB", v) }
	}
	return Line([]Series{{X: freqs, Y: db, Color: averageColor}}, opts)
}

// Encode writes img as PNG or JPEG depending on the suffix of name.
func Encode(w io.Writer, name string, img image.Image) error {
	switch n := strings.ToLower(name); {
	case strings.HasSuffix(n, ".png"):
		return png.Encode(w, img)
	case strings.HasSuffix(n, ".jpg"), strings.HasSuffix(n, ".jpeg"):
		return jpeg.Encode(w, img, &jpeg.Options{Quality: jpeg.DefaultQuality})
	default:
		return fmt.Errorf("%q: unsupported image format, use .png or .jpg", name)
	}
}
