package sweep

import (
	"errors"
	"fmt"
	"math"
)

const (
	// MinFrequencyHz and MaxFrequencyHz bound every tunable frequency.
	MinFrequencyHz = 1.0
	MaxFrequencyHz = 4e9

	// MaxSampleRateHz is the receiver's upper rate bound.
	MaxSampleRateHz = 20e6
)

var (
	// ErrSpan is returned when the sweep end does not exceed the start.
	ErrSpan = errors.New("sweep end must be greater than sweep start")

	// ErrRate is returned when the sample rate is not positive.
	ErrRate = errors.New("sample rate must be positive")

	// ErrFFTSize is returned for FFT sizes outside the supported set.
	ErrFFTSize = errors.New("unsupported FFT size")
)

// FFTSizes is the enumerated set of supported FFT sizes.
var FFTSizes = []int{32, 64, 128, 256, 512, 1024, 2048, 4096, 8192, 16384}

// ValidFFTSize reports whether n is one of the supported power-of-two sizes.
func ValidFFTSize(n int) bool {
	for _, v := range FFTSizes {
		if n == v {
			return true
		}
	}
	return false
}

// Signature identifies a plan up to input rounding: start and end to 0.1 Hz,
// step to 1 Hz. Two plans with equal signatures produce identical buffers,
// so a re-plan with an unchanged signature is treated as a no-op for
// allocation and logging purposes.
type Signature struct {
	StartDeciHz int64
	EndDeciHz   int64
	StepHz      int64
	FFTSize     int
	NumSteps    int
}

// Plan is the derived step schedule for one wideband sweep: which center
// frequencies to visit and the stitched per-bin frequency axis.
type Plan struct {
	StartHz     float64
	EndHz       float64
	StepHz      float64 // equals the receiver sample rate
	FFTSize     int
	NumSteps    int
	CenterFreqs []float64
	FreqAxis    []float64 // NumSteps*FFTSize bins, concatenated per step
}

// NewPlan derives a sweep plan from the configured bounds and receiver
// parameters. The step width equals the sample rate, so each step covers one
// receiver bandwidth and numSteps = ceil((end-start)/rate).
func NewPlan(startHz, endHz, rateHz float64, fftSize int) (*Plan, error) {
	if !ValidFFTSize(fftSize) {
		return nil, fmt.Errorf("%w: %d", ErrFFTSize, fftSize)
	}
	if rateHz <= 0 {
		return nil, fmt.Errorf("%w: %g", ErrRate, rateHz)
	}
	if endHz <= startHz {
		return nil, fmt.Errorf("%w: start=%g end=%g", ErrSpan, startHz, endHz)
	}

	numSteps := int(math.Ceil((endHz - startHz) / rateHz))
	if numSteps < 1 {
		numSteps = 1
	}

	p := Plan{
		StartHz:     startHz,
		EndHz:       endHz,
		StepHz:      rateHz,
		FFTSize:     fftSize,
		NumSteps:    numSteps,
		CenterFreqs: make([]float64, numSteps),
		FreqAxis:    make([]float64, numSteps*fftSize),
	}

	for i := 0; i < numSteps; i++ {
		cf := startHz + (float64(i)+0.5)*rateHz
		p.CenterFreqs[i] = cf

		// Baseband bin axis: [-rate/2, rate/2) exclusive of the right edge,
		// shifted to the step's center frequency.
		for j := 0; j < fftSize; j++ {
			p.FreqAxis[i*fftSize+j] = cf - rateHz/2 + rateHz*float64(j)/float64(fftSize)
		}
	}

	return &p, nil
}

// Fallback returns the degenerate single-step plan installed when sweep
// inputs are invalid. It keeps downstream consumers well-defined but must
// never be swept; callers halt the sweep instead.
func Fallback(rateHz float64, fftSize int) *Plan {
	if rateHz <= 0 {
		rateHz = 1
	}
	if !ValidFFTSize(fftSize) {
		fftSize = FFTSizes[0]
	}

	p := Plan{
		StartHz:     0,
		EndHz:       rateHz,
		StepHz:      rateHz,
		FFTSize:     fftSize,
		NumSteps:    1,
		CenterFreqs: []float64{rateHz / 2},
		FreqAxis:    make([]float64, fftSize),
	}
	for j := 0; j < fftSize; j++ {
		p.FreqAxis[j] = rateHz * float64(j) / float64(fftSize-1)
	}
	return &p
}

// TotalBins returns the stitched buffer length for this plan.
func (p *Plan) TotalBins() int {
	return p.NumSteps * p.FFTSize
}

// Signature returns the rounded identity of this plan.
func (p *Plan) Signature() Signature {
	return Signature{
		StartDeciHz: int64(math.Round(p.StartHz * 10)),
		EndDeciHz:   int64(math.Round(p.EndHz * 10)),
		StepHz:      int64(math.Round(p.StepHz)),
		FFTSize:     p.FFTSize,
		NumSteps:    p.NumSteps,
	}
}
