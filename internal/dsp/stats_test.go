package dsp

import (
	"math"
	"testing"
)

func TestMedian(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want float64
	}{
		{"empty", nil, 0},
		{"single", []float64{3}, 3},
		{"odd", []float64{5, 1, 3}, 3},
		{"unsorted", []float64{9, -4, 7, 0, 2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Median(tt.in); got != tt.want {
				t.Errorf("Median(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSpectralFlatnessDB(t *testing.T) {
	// A perfectly flat spectrum has SFM 0 dB.
	flat := make([]float64, 256)
	for i := range flat {
		flat[i] = 1.0
	}
	if got := SpectralFlatnessDB(flat); math.Abs(got) > 1e-6 {
		t.Errorf("flat spectrum SFM = %v dB, want ~0", got)
	}

	// A single dominant tone drives the SFM strongly negative.
	tonal := make([]float64, 256)
	for i := range tonal {
		tonal[i] = 1e-9
	}
	tonal[100] = 1.0
	if got := SpectralFlatnessDB(tonal); got > -20 {
		t.Errorf("tonal spectrum SFM = %v dB, want strongly negative", got)
	}
}

func TestLongestRun(t *testing.T) {
	tests := []struct {
		name string
		in   []bool
		want int
	}{
		{"empty", nil, 0},
		{"none", []bool{false, false}, 0},
		{"all", []bool{true, true, true}, 3},
		{"split", []bool{true, false, true, true, false, true}, 2},
		{"tail", []bool{false, true, true, true}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LongestRun(tt.in); got != tt.want {
				t.Errorf("LongestRun = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFindPeaks(t *testing.T) {
	db := make([]float64, 100)
	for i := range db {
		db[i] = -100
	}
	db[10] = -20
	db[12] = -25 // shadowed by the peak at 10 (within minSep)
	db[50] = -10
	db[90] = -30

	got := FindPeaks(db, 5, 8)
	want := []int{10, 50, 90}
	if len(got) != len(want) {
		t.Fatalf("FindPeaks = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FindPeaks = %v, want %v", got, want)
			break
		}
	}
}

func TestNotchDC(t *testing.T) {
	mags := make([]float64, 64)
	for i := range mags {
		mags[i] = 1.0
	}
	c := len(mags) / 2
	mags[c] = 100 // DC spike

	NotchDC(mags)
	for i := c - 2; i <= c+2; i++ {
		if mags[i] != 1.0 {
			t.Errorf("bin %d = %v after notch, want 1.0", i, mags[i])
		}
	}

	// Short vectors are untouched.
	short := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	NotchDC(short)
	if short[4] != 5 {
		t.Errorf("short vector modified by NotchDC")
	}
}

func TestTaperEdges(t *testing.T) {
	mags := make([]float64, 64)
	for i := range mags {
		mags[i] = 1.0
	}
	TaperEdges(mags)
	if math.Abs(mags[0]-0.3) > 1e-9 || math.Abs(mags[63]-0.3) > 1e-9 {
		t.Errorf("rim bins = %v, %v, want 0.3", mags[0], mags[63])
	}
	if mags[9] != 1.0 || mags[32] != 1.0 {
		t.Errorf("inner bins modified: %v, %v", mags[9], mags[32])
	}
}

func TestWithinTolerance(t *testing.T) {
	a := []float64{1, 2, 3}
	b := []float64{1, 2, 3 + 1e-9}
	if !WithinTolerance(a, b, 1e-8) {
		t.Error("expected vectors within tolerance")
	}
	if WithinTolerance(a, []float64{1, 2, 3.1}, 1e-8) {
		t.Error("expected vectors out of tolerance")
	}
	if WithinTolerance(a, a[:2], 1e-8) {
		t.Error("length mismatch must not compare equal")
	}
}
