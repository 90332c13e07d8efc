// Package sweep reconstructs a continuous wideband spectrum from a sequence
// of narrowband captures taken by retuning a fixed-bandwidth receiver across
// the planned steps.
package sweep

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/jmelnik/spectrum-sentry/internal/dsp"
	"github.com/jmelnik/spectrum-sentry/internal/rf"
	"github.com/jmelnik/spectrum-sentry/internal/sdr"
)

const (
	// DefaultSettle is the wait between a retune request and the capture.
	DefaultSettle = 85 * time.Millisecond

	// DefaultRetry is the backoff before re-attempting a failed capture.
	DefaultRetry = 8 * time.Millisecond

	// maxRetries bounds capture attempts per step before the step is skipped.
	maxRetries = 3

	// tuneToleranceHz is the allowed deviation between the requested and the
	// reported tuned frequency.
	tuneToleranceHz = 1.0

	// staleTolerance is the elementwise tolerance below which two captures
	// are treated as the same stalled upstream buffer.
	staleTolerance = 1e-8

	// maxDisplayPoints caps the stitched trace resolution.
	maxDisplayPoints = 1024
)

// Deferrer schedules a callback to run after a delay on the engine's
// single-threaded scheduler.
type Deferrer interface {
	After(d time.Duration, fn func())
}

// stepState tracks the per-step capture state machine. Overlapping tick or
// capture invocations are no-ops unless the state matches.
type stepState int

const (
	stateIdle stepState = iota
	stateSettling
	stateCapturing
)

// Trace is one stitched wideband spectrum frame.
type Trace struct {
	FreqHz []float64
	DB     []float64
	Peak   []float64 // nil unless peak hold is enabled
}

// WithLogger sets the logger for the stitcher.
func WithLogger(logger *slog.Logger) func(*Stitcher) {
	return func(s *Stitcher) {
		s.logger = logger.With(slog.String("engine", "sweep"))
	}
}

// WithSettle overrides the retune settle delay.
func WithSettle(d time.Duration) func(*Stitcher) {
	return func(s *Stitcher) {
		s.settle = d
	}
}

// WithRetry overrides the capture retry backoff.
func WithRetry(d time.Duration) func(*Stitcher) {
	return func(s *Stitcher) {
		s.retryIn = d
	}
}

// Stitcher drives the retune/settle/capture cycle and folds each step's
// spectrum segment into one wideband trace. All methods must be called from
// the scheduler goroutine; the stitcher owns its state exclusively.
type Stitcher struct {
	rx     sdr.Receiver
	defers Deferrer
	logger *slog.Logger

	plan     *Plan
	planOK   bool
	lastSig  Signature
	haveSig  bool
	buf      []float64
	ptr      int
	retries  int
	stepHz   float64
	lastCap  []float64
	state    stepState
	running  bool
	epoch    uint64 // bumped on reconfigure/stop; stale deferred callbacks no-op

	settle  time.Duration
	retryIn time.Duration

	alpha    float64
	calDB    float64
	prevLin  []float64
	peakEnv  []float64
	peakHold bool

	sel       []int // cached buffer indices inside [start, end], decimated
	lastTrace Trace
}

// New creates a stitcher bound to a receiver. Reconfigure must be called
// before the first Tick.
func New(rx sdr.Receiver, defers Deferrer, options ...func(*Stitcher)) *Stitcher {
	s := Stitcher{
		rx:      rx,
		defers:  defers,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		settle:  DefaultSettle,
		retryIn: DefaultRetry,
		alpha:   0.20,
	}
	for _, option := range options {
		option(&s)
	}
	return &s
}

// Reconfigure derives a fresh plan from the given bounds and rebuilds all
// size-dependent state. Identical inputs (within rounding) do not log and do
// not reallocate, but the sweep still restarts from step zero. On invalid
// inputs a degenerate fallback plan is installed, the sweep is halted, and
// the error is returned for the caller to surface.
func (s *Stitcher) Reconfigure(startHz, endHz, rateHz float64, fftSize int) error {
	s.epoch++
	s.state = stateIdle

	plan, err := NewPlan(startHz, endHz, rateHz, fftSize)
	if err != nil {
		s.plan = Fallback(rateHz, fftSize)
		s.planOK = false
		s.haveSig = false
		s.running = false
		s.resizeBuffer()
		return fmt.Errorf("planning sweep: %w", err)
	}

	sig := plan.Signature()
	same := s.haveSig && sig == s.lastSig
	s.plan = plan
	s.planOK = true
	s.lastSig = sig
	s.haveSig = true

	s.resizeBuffer()
	s.ptr = 0
	s.retries = 0
	s.lastCap = nil
	s.prevLin = nil
	s.peakEnv = nil
	s.lastTrace = Trace{}
	s.rebuildSelection()

	if !same {
		s.logger.Info("sweep configured",
			slog.Int("steps", plan.NumSteps),
			slog.Int("fftSize", plan.FFTSize),
			slog.String("start", rf.FormatHz(plan.StartHz)),
			slog.String("end", rf.FormatHz(plan.EndHz)))
	}
	return nil
}

func (s *Stitcher) resizeBuffer() {
	if n := s.plan.TotalBins(); len(s.buf) != n {
		s.buf = make([]float64, n)
	} else {
		for i := range s.buf {
			s.buf[i] = 0
		}
	}
}

// rebuildSelection caches which buffer indices fall inside [start, end],
// decimated to at most maxDisplayPoints.
func (s *Stitcher) rebuildSelection() {
	s.sel = s.sel[:0]
	var inRange []int
	for i, hz := range s.plan.FreqAxis {
		if hz >= s.plan.StartHz && hz <= s.plan.EndHz {
			inRange = append(inRange, i)
		}
	}
	if len(inRange) == 0 {
		return
	}
	stride := (len(inRange) + maxDisplayPoints - 1) / maxDisplayPoints
	for i := 0; i < len(inRange); i += stride {
		s.sel = append(s.sel, inRange[i])
	}
}

// Start begins (or resumes) sweeping from step zero. It is a no-op while the
// installed plan is the degenerate fallback.
func (s *Stitcher) Start() error {
	if !s.planOK {
		return fmt.Errorf("cannot start sweep: no valid plan installed")
	}
	s.running = true
	s.ptr = 0
	s.state = stateIdle
	return nil
}

// Stop halts the sweep. Any deferred settle or retry callback still queued
// becomes a no-op.
func (s *Stitcher) Stop() {
	s.running = false
	s.state = stateIdle
	s.epoch++
}

// Running reports whether the sweep is active.
func (s *Stitcher) Running() bool {
	return s.running
}

// SetAveraging sets the linear-domain smoothing factor, clamped to [0, 1].
// Zero disables smoothing and drops the previous frame.
func (s *Stitcher) SetAveraging(alpha float64) {
	s.alpha = dsp.Clamp(alpha, 0, 1)
	if s.alpha == 0 {
		s.prevLin = nil
	}
}

// SetCalibration sets the dB offset added to the stitched trace.
func (s *Stitcher) SetCalibration(db float64) {
	s.calDB = db
}

// SetPeakHold enables or disables the elementwise max trace. Disabling
// clears the held envelope, so re-enabling starts fresh.
func (s *Stitcher) SetPeakHold(on bool) {
	s.peakHold = on
	if !on {
		s.peakEnv = nil
	}
}

// Step reports the zero-based index of the step the sweep will visit next.
func (s *Stitcher) Step() int {
	return s.ptr
}

// Trace returns the most recent stitched frame. The slices are owned by the
// stitcher and must not be mutated.
func (s *Stitcher) Trace() Trace {
	return s.lastTrace
}

// Tick starts one step: request a retune to the current center frequency and
// schedule the capture after the settle delay. A tick that arrives while the
// previous step is still settling or capturing is a no-op.
func (s *Stitcher) Tick() {
	if !s.running || !s.planOK || s.state != stateIdle {
		return
	}

	s.state = stateSettling
	s.retries = 0
	if s.ptr >= s.plan.NumSteps {
		s.ptr = 0
	}
	s.stepHz = s.plan.CenterFreqs[s.ptr]

	// Skip the retune when the tuner already sits on the step.
	tuned, err := s.rx.CenterFrequency()
	if err != nil || math.Abs(tuned-s.stepHz) > tuneToleranceHz {
		if err := s.rx.SetCenterFrequency(s.stepHz); err != nil {
			s.logger.Warn("retune failed",
				slog.String("freq", rf.FormatHz(s.stepHz)), slog.String("error", err.Error()))
		}
	}

	s.logger.Debug("sweep step",
		slog.Int("step", s.ptr+1),
		slog.Int("of", s.plan.NumSteps),
		slog.String("freq", rf.FormatHz(s.stepHz)))

	epoch := s.epoch
	s.defers.After(s.settle, func() { s.capture(epoch) })
}

// capture validates and ingests one spectrum for the current step. Failed
// validation schedules a short retry; exhausting the retries skips the step
// without error.
func (s *Stitcher) capture(epoch uint64) {
	if epoch != s.epoch || !s.running || !s.planOK {
		return
	}
	s.state = stateCapturing

	retry := func() {
		if s.retries < maxRetries {
			s.retries++
			e := s.epoch
			s.defers.After(s.retryIn, func() { s.capture(e) })
			return
		}
		s.skipStep()
	}

	// The tuner must sit on the step both before and after the read, or the
	// vector may straddle a retune.
	tuned, err := s.rx.CenterFrequency()
	if err != nil || math.Abs(tuned-s.stepHz) > tuneToleranceHz {
		retry()
		return
	}

	mags, err := s.rx.Capture()
	if err != nil {
		retry()
		return
	}
	if len(mags) != s.plan.FFTSize || !dsp.AllFinite(mags) {
		retry()
		return
	}

	tuned, err = s.rx.CenterFrequency()
	if err != nil || math.Abs(tuned-s.stepHz) > tuneToleranceHz {
		retry()
		return
	}

	// A vector numerically identical to the previous capture means the
	// upstream buffer has stalled.
	if s.lastCap != nil && dsp.WithinTolerance(mags, s.lastCap, staleTolerance) {
		retry()
		return
	}
	s.lastCap = mags

	s.ingest(mags)
	s.advance()
}

// skipStep abandons the current step after exhausted retries and advances.
func (s *Stitcher) skipStep() {
	s.logger.Debug("step skipped",
		slog.Int("step", s.ptr+1), slog.String("freq", rf.FormatHz(s.stepHz)))
	s.advance()
}

func (s *Stitcher) advance() {
	s.ptr = (s.ptr + 1) % s.plan.NumSteps
	s.retries = 0
	s.state = stateIdle
}

// ingest scales and conditions one capture, writes its segment into the
// sweep buffer and refreshes the stitched trace.
func (s *Stitcher) ingest(mags []float64) {
	seg := make([]float64, len(mags))
	scale := 1.0 / float64(s.plan.FFTSize)
	for i, m := range mags {
		seg[i] = m * scale
	}
	dsp.NotchDC(seg)
	dsp.TaperEdges(seg)

	copy(s.buf[s.ptr*s.plan.FFTSize:], seg)
	s.refreshTrace()
}

// refreshTrace rebuilds the masked, decimated, smoothed dB trace and the
// optional peak-hold envelope.
func (s *Stitcher) refreshTrace() {
	if len(s.sel) == 0 {
		return
	}

	lin := make([]float64, len(s.sel))
	freq := make([]float64, len(s.sel))
	for i, idx := range s.sel {
		lin[i] = s.buf[idx]
		freq[i] = s.plan.FreqAxis[idx]
	}

	// Exponential averaging in the linear power domain. The previous frame
	// seeds the average; a selection size change restarts it.
	if s.alpha > 0 {
		if len(s.prevLin) != len(lin) {
			s.prevLin = append(s.prevLin[:0], lin...)
		}
		for i := range lin {
			lin[i] = (1-s.alpha)*s.prevLin[i] + s.alpha*lin[i]
		}
		s.prevLin = append(s.prevLin[:0], lin...)
	}

	db := make([]float64, len(lin))
	for i, v := range lin {
		db[i] = math.Max(dsp.MagToDB(v)+s.calDB, dsp.DBFloor)
	}

	if s.peakHold {
		if len(s.peakEnv) != len(db) {
			s.peakEnv = append(s.peakEnv[:0], db...)
		} else {
			for i, v := range db {
				if v > s.peakEnv[i] {
					s.peakEnv[i] = v
				}
			}
		}
	}

	s.lastTrace = Trace{FreqHz: freq, DB: db}
	if s.peakHold {
		s.lastTrace.Peak = s.peakEnv
	}
}
