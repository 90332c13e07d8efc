package render

import (
	"bytes"
	"image/png"
	"math"
	"testing"

	"github.com/jmelnik/spectrum-sentry/internal/sweep"
)

func testTrace(n int) sweep.Trace {
	tr := sweep.Trace{
		FreqHz: make([]float64, n),
		DB:     make([]float64, n),
		Peak:   make([]float64, n),
	}
	for i := 0; i < n; i++ {
		tr.FreqHz[i] = 80e6 + float64(i)*40e6/float64(n)
		tr.DB[i] = -100 + 10*math.Sin(float64(i)/7)
		tr.Peak[i] = tr.DB[i] + 5
	}
	return tr
}

func TestTracePNG(t *testing.T) {
	var buf bytes.Buffer
	if err := TracePNG(&buf, testTrace(512), DefaultOptions()); err != nil {
		t.Fatalf("TracePNG: %v", err)
	}

	cfg, err := png.DecodeConfig(&buf)
	if err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	want := DefaultOptions()
	if cfg.Width != want.Width || cfg.Height != want.Height {
		t.Errorf("snapshot %dx%d, want %dx%d", cfg.Width, cfg.Height, want.Width, want.Height)
	}
}

func TestTracePNGRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		trace sweep.Trace
		opts  Options
	}{
		{"empty trace", sweep.Trace{}, DefaultOptions()},
		{
			"mismatched lengths",
			sweep.Trace{FreqHz: []float64{1, 2}, DB: []float64{1}},
			DefaultOptions(),
		},
		{"degenerate geometry", testTrace(16), Options{Width: 10, Height: 10, MinDB: -120, MaxDB: 0}},
		{"inverted window", testTrace(16), Options{Width: 800, Height: 400, MinDB: 0, MaxDB: -120}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := TracePNG(&buf, tt.trace, tt.opts); err == nil {
				t.Error("TracePNG = nil, want error")
			}
		})
	}
}
