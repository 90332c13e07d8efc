package dsp

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// linFloor clips linear power before log conversion.
	linFloor = 1e-12
	linCeil  = 1e9

	// DBFloor is the lowest magnitude the display pipeline reports.
	DBFloor = -140.0
)

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Median returns the sample median of xs. Returns 0 for an empty slice.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := slices.Clone(xs)
	slices.Sort(s)
	return stat.Quantile(0.5, stat.Empirical, s, nil)
}

// MagToDB converts a linear magnitude to dB (20·log10) with clipping.
func MagToDB(m float64) float64 {
	return 20 * math.Log10(Clamp(m, linFloor, linCeil))
}

// DBToPower converts a dB value to linear power.
func DBToPower(db float64) float64 {
	return math.Pow(10, db/10)
}

// MeanPower returns the arithmetic mean of the linear powers of the given
// dB values.
func MeanPower(db []float64) float64 {
	if len(db) == 0 {
		return 0
	}
	var sum float64
	for _, v := range db {
		sum += DBToPower(v)
	}
	return sum / float64(len(db))
}

// SpectralFlatnessDB returns the ratio of the geometric to the arithmetic
// mean of a linear power spectrum, in dB. Near 0 dB means noise-like,
// strongly negative means tonal.
func SpectralFlatnessDB(powerLin []float64) float64 {
	if len(powerLin) == 0 {
		return 0
	}
	var logSum float64
	for _, p := range powerLin {
		logSum += math.Log(math.Max(p, linFloor))
	}
	gmean := math.Exp(logSum / float64(len(powerLin)))
	amean := floats.Sum(powerLin) / float64(len(powerLin))
	return 10 * math.Log10(gmean/(amean+linFloor)+linFloor)
}

// LongestRun returns the length of the longest run of true values.
func LongestRun(mask []bool) int {
	var longest, run int
	for _, on := range mask {
		if !on {
			run = 0
			continue
		}
		run++
		if run > longest {
			longest = run
		}
	}
	return longest
}

// FindPeaks returns the indices of up to n local maxima of db, each separated
// from the others by at least minSep bins, sorted ascending.
func FindPeaks(db []float64, n, minSep int) []int {
	if len(db) == 0 || n <= 0 {
		return nil
	}
	used := make([]bool, len(db))
	var peaks []int
	for len(peaks) < n {
		best, found := -1, false
		for i, v := range db {
			if used[i] {
				continue
			}
			if !found || v > db[best] {
				best, found = i, true
			}
		}
		if !found {
			break
		}
		peaks = append(peaks, best)
		for i := max(0, best-minSep); i <= min(len(db)-1, best+minSep); i++ {
			used[i] = true
		}
	}
	slices.Sort(peaks)
	return peaks
}

// NotchDC replaces the DC-adjacent bins (center ±2) with the mean of the
// bins one to three positions further out on each side, suppressing the
// receiver's LO leakage spike. Vectors shorter than 16 bins are left alone.
func NotchDC(mags []float64) {
	n := len(mags)
	if n < 16 {
		return
	}
	c := n / 2
	const k = 2
	var neigh []float64
	if lo, hi := max(0, c-(k+3)), max(0, c-(k+1)); lo < hi {
		neigh = append(neigh, mags[lo:hi]...)
	}
	if lo, hi := min(n, c+(k+1)), min(n, c+(k+3)); lo < hi {
		neigh = append(neigh, mags[lo:hi]...)
	}
	if len(neigh) < 2 {
		return
	}
	fill := floats.Sum(neigh) / float64(len(neigh))
	for i := max(0, c-k); i < min(n, c+k+1); i++ {
		mags[i] = fill
	}
}

// TaperEdges fades the first and last bins of a capture segment linearly
// (0.3 at the rim up to unity) so stitched segments do not meet in hard
// seams. Segments shorter than 32 bins are left alone.
func TaperEdges(mags []float64) {
	const fade = 10
	n := len(mags)
	if n < 32 {
		return
	}
	for i := 0; i < fade; i++ {
		g := 0.3 + 0.7*float64(i)/float64(fade-1)
		mags[i] *= g
		mags[n-1-i] *= g
	}
}

// AllFinite reports whether every element is a finite number.
func AllFinite(xs []float64) bool {
	for _, v := range xs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// WithinTolerance reports whether a and b are elementwise equal within atol.
// Slices of different lengths are never within tolerance.
func WithinTolerance(a, b []float64, atol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > atol {
			return false
		}
	}
	return true
}
