package detect

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
	// DefaultTick is the detection cadence.
	DefaultTick = 100 * time.Millisecond

	// medianStepDB is the single-tick median lift treated as a gain or AGC
	// step change rather than interference.
	medianStepDB = 8.0

	// stepSuppress silences detection after a step-change baseline snap.
	stepSuppress = 800 * time.Millisecond

	// freezeWindow holds the baseline still around likely triggers and
	// right after a switch.
	freezeWindow = 600 * time.Millisecond

	// readyAfterSwitch delays the next evaluation after a committed switch.
	readyAfterSwitch = 800 * time.Millisecond

	// knobSettle silences detection briefly after a threshold change.
	knobSettle = 500 * time.Millisecond

	// Hysteresis: OFF threshold sits hysteresisGap below ON, never under
	// hysteresisFloor.
	hysteresisGap   = 0.8
	hysteresisFloor = 0.5

	// staleTolerance marks a capture identical to the previous one.
	staleTolerance = 1e-8

	stickinessHalfLife = 8 * time.Second
	stickinessMargin   = 0.10
	stickinessFloor    = 1.10
)

// Config holds the detector thresholds and timing windows.
type Config struct {
	ThresholdDB   float64 // per-bin lift over baseline counting a bin as occupied
	OccMin        float64 // base occupancy requirement before adaptive scaling
	SFMFloorDB    float64 // minimum spectral flatness admitted by the wideband branch
	SFMOffsetDB   float64 // flatness gate margin above the slow reference
	BandOnDB      float64 // mean band power lift turning band hysteresis on
	MedianOnDB    float64 // median lift turning median hysteresis on
	OccMultipeak  float64 // occupancy floor of the multipeak branch
	SpanMin       float64 // contiguous run fraction of the multipeak branch
	Hold          time.Duration
	Dwell         time.Duration
	Cooldown      time.Duration
	Warmup        time.Duration
	BaselineAlpha float64
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		ThresholdDB:   6.5,
		OccMin:        0.5,
		SFMFloorDB:    -5.0,
		SFMOffsetDB:   0.8,
		BandOnDB:      1.5,
		MedianOnDB:    2.0,
		OccMultipeak:  0.15,
		SpanMin:       0.008,
		Hold:          400 * time.Millisecond,
		Dwell:         600 * time.Millisecond,
		Cooldown:      4 * time.Second,
		Warmup:        1500 * time.Millisecond,
		BaselineAlpha: DefaultBaselineAlpha,
	}
}

// CommitFunc applies a decided port switch downstream: hardware command,
// journal, display. A failure is logged but does not abort the detector.
type CommitFunc func(rf.SwitchEvent) error

// WithLogger sets the logger for the detector.
func WithLogger(logger *slog.Logger) func(*Detector) {
	return func(d *Detector) {
		d.logger = logger.With(slog.String("engine", "detect"))
	}
}

// Detector runs the per-tick trigger and anti-flap state machine. All
// methods must be called from the scheduler goroutine.
type Detector struct {
	cfg    Config
	rx     sdr.Receiver
	ring   *rf.Ring
	commit CommitFunc
	logger *slog.Logger

	fftSize int
	mask    []int

	baseline *Baseline
	lastCap  []float64

	sfmRef     float64
	haveSFMRef bool
	occReqEMA  float64
	haveOccReq bool
	scoreEMA   float64
	haveScore  bool

	bandOn bool
	medOn  bool

	heldSince         time.Time
	lastSwitch        time.Time
	cooldownUntil     time.Time
	readyAt           time.Time
	ignoreUntil       time.Time
	lastScoreAtSwitch float64

	lastDebug time.Time
}

// New creates a detector reading spectra of the given FFT size. Switches
// rotate the shared ring and flow through commit.
func New(rx sdr.Receiver, ring *rf.Ring, commit CommitFunc, fftSize int, cfg Config, options ...func(*Detector)) *Detector {
	d := Detector{
		cfg:      cfg,
		rx:       rx,
		ring:     ring,
		commit:   commit,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		fftSize:  fftSize,
		mask:     maskIndices(fftSize),
		baseline: NewBaseline(cfg.BaselineAlpha),
	}
	for _, option := range options {
		option(&d)
	}
	return &d
}

// maskIndices returns the bin indices used for statistics: everything except
// a DC-adjacent region of ±max(2, n/256) bins and the two outermost bins on
// each edge.
func maskIndices(n int) []int {
	k := max(2, n/256)
	c := n / 2
	idx := make([]int, 0, n)
	for i := 2; i < n-2; i++ {
		if i >= c-k && i <= c+k {
			continue
		}
		idx = append(idx, i)
	}
	return idx
}

// Start arms the detector: state is cleared and evaluation begins after the
// warmup window.
func (d *Detector) Start(now time.Time) {
	d.baseline.Reset()
	d.lastCap = nil
	d.haveSFMRef = false
	d.haveOccReq = false
	d.haveScore = false
	d.bandOn = false
	d.medOn = false
	d.heldSince = time.Time{}
	d.cooldownUntil = time.Time{}
	d.ignoreUntil = time.Time{}
	d.readyAt = now.Add(d.cfg.Warmup)
}

// ResetBaseline discards the learned reference, for example after a board
// reconnect, and re-enters warmup.
func (d *Detector) ResetBaseline(now time.Time) {
	d.baseline.Reset()
	d.haveSFMRef = false
	d.heldSince = time.Time{}
	d.readyAt = now.Add(d.cfg.Warmup)
}

// SetThresholds applies runtime knob changes and briefly silences the
// detector so the new values settle against fresh statistics.
func (d *Detector) SetThresholds(now time.Time, thresholdDB, occMin, sfmFloorDB float64) error {
	if thresholdDB < -100 || thresholdDB > 100 {
		return fmt.Errorf("threshold %.2f dB out of range [-100, 100]", thresholdDB)
	}
	if occMin < 0 || occMin > 1 {
		return fmt.Errorf("occupancy %.2f out of range [0, 1]", occMin)
	}
	if sfmFloorDB < -60 || sfmFloorDB > 10 {
		return fmt.Errorf("flatness floor %.2f dB out of range [-60, 10]", sfmFloorDB)
	}

	d.cfg.ThresholdDB = thresholdDB
	d.cfg.OccMin = occMin
	d.cfg.SFMFloorDB = sfmFloorDB
	d.ignoreUntil = now.Add(knobSettle)

	d.logger.Info("thresholds applied",
		slog.Float64("deltaDB", thresholdDB),
		slog.Float64("occMin", occMin),
		slog.Float64("sfmFloorDB", sfmFloorDB))
	return nil
}

// Tick evaluates one detection pass at the given time.
func (d *Detector) Tick(now time.Time) {
	mags, err := d.rx.Capture()
	if err != nil {
		return
	}
	if len(mags) != d.fftSize || !dsp.AllFinite(mags) {
		return
	}

	// A vector identical to the previous capture is a stalled upstream
	// buffer; the tick is discarded before any baseline or valve logic
	// can act on it.
	if d.lastCap != nil && dsp.WithinTolerance(mags, d.lastCap, staleTolerance) {
		return
	}
	d.lastCap = mags

	powerDB := make([]float64, len(mags))
	scale := 1.0 / float64(d.fftSize)
	for i, m := range mags {
		powerDB[i] = dsp.MagToDB(m * scale)
	}

	if now.Before(d.ignoreUntil) {
		return
	}

	if !d.baseline.Seeded() {
		d.baseline.Snap(powerDB)
		return
	}
	d.baseline.Observe(now, powerDB)
	if now.Before(d.readyAt) {
		return
	}

	if len(d.mask) == 0 {
		return
	}
	curr := pick(powerDB, d.mask)
	base := pick(d.baseline.DB(), d.mask)
	n := len(curr)

	medLift := dsp.Median(curr) - dsp.Median(base)

	// A huge single-tick median jump is a gain step, not interference. Snap
	// the baseline to the new level and sit out a short window.
	if medLift > medianStepDB {
		d.baseline.Snap(powerDB)
		d.ignoreUntil = now.Add(stepSuppress)
		return
	}

	pLin := make([]float64, n)
	for i, v := range curr {
		pLin[i] = dsp.DBToPower(v)
	}
	sfm := dsp.SpectralFlatnessDB(pLin)
	if !d.haveSFMRef {
		d.sfmRef = sfm
		d.haveSFMRef = true
	} else {
		d.sfmRef = 0.95*d.sfmRef + 0.05*sfm
	}
	sfmGate := math.Max(d.cfg.SFMFloorDB, d.sfmRef+d.cfg.SFMOffsetDB)

	over := make([]bool, n)
	overCount := 0
	for i := range curr {
		if curr[i]-base[i] >= d.cfg.ThresholdDB {
			over[i] = true
			overCount++
		}
	}
	occ := float64(overCount) / float64(n)

	occReq := occupancyRequirement(d.cfg.OccMin, n, sfm)
	if !d.haveOccReq {
		d.occReqEMA = occReq
		d.haveOccReq = true
	} else {
		d.occReqEMA = 0.6*d.occReqEMA + 0.4*occReq
	}
	occReqEff := dsp.Clamp(d.occReqEMA, 0.10, 0.45)

	const eps = 1e-12
	bandLift := 10 * math.Log10((dsp.MeanPower(curr)+eps)/(dsp.MeanPower(base)+eps))

	spanFrac := float64(dsp.LongestRun(over)) / float64(n)

	bandOff := math.Max(hysteresisFloor, d.cfg.BandOnDB-hysteresisGap)
	medOff := math.Max(hysteresisFloor, d.cfg.MedianOnDB-hysteresisGap)
	d.bandOn = bandLift >= pickThreshold(d.bandOn, d.cfg.BandOnDB, bandOff)
	d.medOn = medLift >= pickThreshold(d.medOn, d.cfg.MedianOnDB, medOff)

	enoughBins := overCount >= max(6, int(0.006*float64(n)))

	// Freeze the baseline when a trigger looks likely so the EMA cannot
	// absorb the anomaly before the hold window elapses.
	pre := occ >= 0.8*occReqEff &&
		(bandLift >= 0.8*d.cfg.BandOnDB || medLift >= 0.8*d.cfg.MedianOnDB || spanFrac >= 0.8*d.cfg.SpanMin)
	if pre && !d.baseline.Frozen(now) {
		d.baseline.Freeze(now.Add(freezeWindow))
	}

	wideband := enoughBins && occ >= occReqEff && (sfm >= sfmGate || d.bandOn)
	multipeak := enoughBins && occ >= d.cfg.OccMultipeak && spanFrac >= d.cfg.SpanMin
	cond := wideband || multipeak || d.medOn

	score := 0.6*(occ/math.Max(occReqEff, 1e-6)) +
		0.25*math.Max(0, bandLift/math.Max(d.cfg.BandOnDB, 1e-6)) +
		0.15*math.Max(0, medLift/math.Max(d.cfg.MedianOnDB, 1e-6))
	if !d.haveScore {
		d.scoreEMA = score
		d.haveScore = true
	} else {
		d.scoreEMA = 0.8*d.scoreEMA + 0.2*score
	}

	// Stickiness: the score must beat the decayed score recorded at the
	// previous switch, so a marginally-still-elevated spectrum cannot
	// re-trigger immediately.
	var last float64
	if !d.lastSwitch.IsZero() {
		age := now.Sub(d.lastSwitch).Seconds()
		last = d.lastScoreAtSwitch * math.Pow(0.5, math.Max(0, age/stickinessHalfLife.Seconds()))
	}
	need := math.Max(stickinessFloor, last+stickinessMargin)
	improves := d.scoreEMA >= need

	if now.Sub(d.lastDebug) > 500*time.Millisecond {
		d.logger.Debug("detection pass",
			slog.Float64("occ", occ),
			slog.Float64("occReq", occReqEff),
			slog.Float64("sfmDB", sfm),
			slog.Float64("sfmGateDB", sfmGate),
			slog.Float64("bandLiftDB", bandLift),
			slog.Float64("medLiftDB", medLift),
			slog.Float64("spanFrac", spanFrac),
			slog.Int("overBins", overCount),
			slog.Int("maskBins", n),
			slog.Bool("bandHys", d.bandOn),
			slog.Bool("medHys", d.medOn))
		d.lastDebug = now
	}

	if !(cond && improves) {
		d.heldSince = time.Time{}
		return
	}

	if d.heldSince.IsZero() {
		d.heldSince = now
	}
	held := now.Sub(d.heldSince) >= d.cfg.Hold
	dwellOK := d.lastSwitch.IsZero() || now.Sub(d.lastSwitch) >= d.cfg.Dwell
	cooldownOK := !now.Before(d.cooldownUntil)
	if !(held && dwellOK && cooldownOK) {
		return
	}

	d.fire(now, powerDB, sfm)
}

// fire rotates to the next port, commits the switch downstream and re-arms
// every window so the fresh port gets a clean baseline.
func (d *Detector) fire(now time.Time, powerDB []float64, sfm float64) {
	ev := rf.SwitchEvent{
		Port:      d.ring.Next(),
		Trigger:   rf.TriggerDetector,
		Timestamp: now,
	}
	if err := d.commit(ev); err != nil {
		d.logger.Warn("switch commit failed",
			slog.String("port", string(ev.Port)), slog.String("error", err.Error()))
	} else {
		d.logger.Info("interference detected, port rotated",
			slog.String("port", string(ev.Port)),
			slog.Float64("score", d.scoreEMA))
	}

	d.lastSwitch = now
	d.cooldownUntil = now.Add(d.cfg.Cooldown)
	d.heldSince = time.Time{}
	d.readyAt = now.Add(readyAfterSwitch)
	d.baseline.Freeze(now.Add(freezeWindow))
	d.baseline.Snap(powerDB)
	d.sfmRef = sfm
	d.lastScoreAtSwitch = d.scoreEMA
	d.lastDebug = now
}

// occupancyRequirement scales the base occupancy requirement with mask size
// and relaxes it when the spectrum is noise-like. The caller smooths the
// result against threshold flicker.
func occupancyRequirement(occMin float64, n int, sfmDB float64) float64 {
	req := dsp.Clamp(occMin*math.Sqrt(256.0/math.Max(64, float64(n))), 0.10, 0.45)
	switch {
	case sfmDB >= -3.5:
		req = math.Max(0.10, 0.85*req)
	case sfmDB >= -4.0:
		req = math.Max(0.12, 0.92*req)
	}
	return req
}

func pick(xs []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = xs[j]
	}
	return out
}

func pickThreshold(on bool, onThresh, offThresh float64) float64 {
	if on {
		return offThresh
	}
	return onThresh
}
