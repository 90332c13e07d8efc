// Package render draws stitched spectrum traces into PNG snapshots for
// offline inspection of a monitoring run.
package render

import (
	"errors"
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

	"github.com/jmelnik/spectrum-sentry/internal/dsp"
	"github.com/jmelnik/spectrum-sentry/internal/rf"
	"github.com/jmelnik/spectrum-sentry/internal/sweep"
)

const (
	marginLeft   = 70
	marginBottom = 30
	marginTop    = 20
	marginRight  = 15

	// peak markers: up to 5 labeled maxima, at least 8 bins apart
	peakCount = 5
	peakSep   = 8
)

var (
	backgroundColor = color.RGBA{A: 0xff}
	gridColor       = color.RGBA{R: 0x30, G: 0x30, B: 0x30, A: 0xff}
	traceColor      = color.RGBA{G: 0xd0, A: 0xff}
	peakHoldColor   = color.RGBA{R: 0x80, G: 0x60, A: 0xff}
	markerColor     = color.RGBA{R: 0xff, G: 0xff, A: 0xff}
	textColor       = color.White
)

// Options controls the snapshot geometry and the displayed dB window.
type Options struct {
	Width  int
	Height int
	MinDB  float64
	MaxDB  float64
}

// DefaultOptions returns a snapshot window matching the live display.
func DefaultOptions() Options {
	return Options{Width: 1024, Height: 400, MinDB: -120, MaxDB: 0}
}

// TracePNG renders one stitched trace, its optional peak-hold envelope and
// labeled peak markers, and encodes the result as PNG.
func TracePNG(w io.Writer, tr sweep.Trace, opts Options) error {
	if len(tr.FreqHz) == 0 || len(tr.FreqHz) != len(tr.DB) {
		return errors.New("trace is empty or malformed")
	}
	if opts.Width <= marginLeft+marginRight || opts.Height <= marginTop+marginBottom {
		return fmt.Errorf("image %dx%d too small to plot", opts.Width, opts.Height)
	}
	if opts.MaxDB <= opts.MinDB {
		return fmt.Errorf("invalid dB window %g..%g", opts.MinDB, opts.MaxDB)
	}

	img := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	p := plotter{img: img, opts: opts, trace: tr}
	p.drawGrid()
	if tr.Peak != nil {
		p.drawLine(tr.Peak, peakHoldColor)
	}
	p.drawLine(tr.DB, traceColor)
	p.drawPeakMarkers()

	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return nil
}

type plotter struct {
	img   *image.RGBA
	opts  Options
	trace sweep.Trace
}

func (p *plotter) plotWidth() int  { return p.opts.Width - marginLeft - marginRight }
func (p *plotter) plotHeight() int { return p.opts.Height - marginTop - marginBottom }

// x maps a trace index to a pixel column.
func (p *plotter) x(i int) int {
	n := len(p.trace.FreqHz)
	if n == 1 {
		return marginLeft
	}
	return marginLeft + i*(p.plotWidth()-1)/(n-1)
}

// y maps a dB value to a pixel row, clamped to the plot area.
func (p *plotter) y(db float64) int {
	frac := (p.opts.MaxDB - db) / (p.opts.MaxDB - p.opts.MinDB)
	frac = dsp.Clamp(frac, 0, 1)
	return marginTop + int(frac*float64(p.plotHeight()-1))
}

func (p *plotter) drawGrid() {
	// Horizontal lines every 20 dB with labels on the left.
	step := 20.0
	for db := math.Ceil(p.opts.MinDB/step) * step; db <= p.opts.MaxDB; db += step {
		row := p.y(db)
		for x := marginLeft; x < p.opts.Width-marginRight; x++ {
			p.img.Set(x, row, gridColor)
		}
		p.label(3, row+4, fmt.Sprintf("%.0f dB", db))
	}

	// Vertical lines roughly every 200 px with frequency labels below.
	n := len(p.trace.FreqHz)
	count := max(2, p.plotWidth()/200)
	for si := 0; si <= count; si++ {
		i := si * (n - 1) / count
		col := p.x(i)
		for y := marginTop; y < p.opts.Height-marginBottom; y++ {
			p.img.Set(col, y, gridColor)
		}
		p.label(col-30, p.opts.Height-marginBottom+14, rf.FormatHz(p.trace.FreqHz[i]))
	}
}

func (p *plotter) drawLine(db []float64, c color.Color) {
	prevX, prevY := p.x(0), p.y(db[0])
	for i := 1; i < len(db); i++ {
		x, y := p.x(i), p.y(db[i])
		p.segment(prevX, prevY, x, y, c)
		prevX, prevY = x, y
	}
}

// segment draws a straight line between two pixels.
func (p *plotter) segment(x0, y0, x1, y1 int, c color.Color) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		p.img.Set(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		if e2 := 2 * err; e2 >= dy {
			err += dy
			x0 += sx
		} else {
			err += dx
			y0 += sy
		}
	}
}

// drawPeakMarkers crosses the strongest local maxima and labels each with
// its frequency.
func (p *plotter) drawPeakMarkers() {
	for _, i := range dsp.FindPeaks(p.trace.DB, peakCount, peakSep) {
		x, y := p.x(i), p.y(p.trace.DB[i])
		for d := -3; d <= 3; d++ {
			p.img.Set(x+d, y, markerColor)
			p.img.Set(x, y+d, markerColor)
		}
		p.label(x+5, y-3, rf.FormatHz(p.trace.FreqHz[i]))
	}
}

func (p *plotter) label(x, y int, s string) {
	d := font.Drawer{
		Dst:  p.img,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
