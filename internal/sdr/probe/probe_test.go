package probe

import (
	"errors"
	"testing"

	"github.com/jmelnik/spectrum-sentry/internal/sdr"
)

func TestParseAndCapture(t *testing.T) {
	d := NewDevice("fft-probe", nil, 4)

	if _, err := d.Capture(); !errors.Is(err, sdr.ErrNoCapture) {
		t.Fatalf("Capture before any line: err = %v, want ErrNoCapture", err)
	}

	if err := d.parse("100000000.0, 0.1, 0.2, 0.3, 0.4"); err != nil {
		t.Fatalf("parse: %v", err)
	}

	hz, err := d.CenterFrequency()
	if err != nil {
		t.Fatalf("CenterFrequency: %v", err)
	}
	if hz != 100e6 {
		t.Errorf("CenterFrequency = %v, want 100e6", hz)
	}

	mags, err := d.Capture()
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	want := []float64{0.1, 0.2, 0.3, 0.4}
	for i := range want {
		if mags[i] != want[i] {
			t.Errorf("mags[%d] = %v, want %v", i, mags[i], want[i])
		}
	}

	// The returned slice is a copy; mutating it must not affect the device.
	mags[0] = -1
	again, _ := d.Capture()
	if again[0] != 0.1 {
		t.Error("Capture returned a live reference to internal state")
	}
}

func TestParseErrors(t *testing.T) {
	d := NewDevice("fft-probe", nil, 4)

	tests := []struct {
		name string
		line string
	}{
		{"too few fields", "100,0.1,0.2"},
		{"too many fields", "100,0.1,0.2,0.3,0.4,0.5"},
		{"bad frequency", "x,0.1,0.2,0.3,0.4"},
		{"bad magnitude", "100,0.1,?,0.3,0.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := d.parse(tt.line); err == nil {
				t.Errorf("parse(%q) = nil, want error", tt.line)
			}
		})
	}
}
