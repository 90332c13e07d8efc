// Package monitor supervises one monitoring session. It owns the scheduler,
// wires the selected engine to the receiver and switch hardware, and
// journals every committed port switch.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jmelnik/spectrum-sentry/internal/detect"
	"github.com/jmelnik/spectrum-sentry/internal/policy"
	"github.com/jmelnik/spectrum-sentry/internal/render"
	"github.com/jmelnik/spectrum-sentry/internal/rf"
	"github.com/jmelnik/spectrum-sentry/internal/scheduler"
	"github.com/jmelnik/spectrum-sentry/internal/sdr"
	"github.com/jmelnik/spectrum-sentry/internal/storage"
	"github.com/jmelnik/spectrum-sentry/internal/sweep"
)

// Mode selects which engine drives the session.
type Mode string

const (
	// ModeSweep stitches a wideband trace across the configured span.
	ModeSweep Mode = "sweep"

	// ModeSweepFrequency sweeps and additionally selects the antenna port
	// from the tuned frequency on every step.
	ModeSweepFrequency Mode = "sweep-frequency"

	// ModeDetect runs the adaptive interference detector.
	ModeDetect Mode = "detect"

	// ModeTime cycles ports on the configured time schedule.
	ModeTime Mode = "time"

	// ModeFrequency follows manual retunes with the port range table.
	ModeFrequency Mode = "frequency"
)

// Valid reports whether m names a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeSweep, ModeSweepFrequency, ModeDetect, ModeTime, ModeFrequency:
		return true
	}
	return false
}

// DefaultSweepTick is the sweep step cadence.
const DefaultSweepTick = 30 * time.Millisecond

// Config assembles one session.
type Config struct {
	Mode     Mode
	Board    int
	Port     rf.Port
	DeviceID string

	SweepStartHz float64
	SweepEndHz   float64
	SampleRateHz float64
	FFTSize      int

	Averaging     float64
	CalibrationDB float64
	PeakHold      bool

	Detector   detect.Config
	TimeSlots  []policy.TimeSlot
	FreqRanges []policy.FreqRange

	// PortTags are optional human-readable labels per port, carried into
	// switch log lines.
	PortTags map[rf.Port]string

	// SnapshotPath, when set together with SnapshotEvery, makes sweep modes
	// write a PNG of the stitched trace on that interval.
	SnapshotPath  string
	SnapshotEvery time.Duration

	SweepTick  time.Duration
	DetectTick time.Duration
}

// WithLogger sets the logger for the monitor and its engines.
func WithLogger(logger *slog.Logger) func(*Monitor) {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// Monitor runs one session until its context is cancelled. All engine state
// is touched only from the scheduler goroutine inside Run.
type Monitor struct {
	cfg    Config
	logger *slog.Logger

	rx    sdr.Receiver
	sw    sdr.Switcher
	store storage.Store

	sched    *scheduler.Scheduler
	ring     *rf.Ring
	stitcher *sweep.Stitcher
	detector *detect.Detector
	timePol  *policy.TimePolicy
	freqPol  *policy.FrequencyPolicy

	ctx       context.Context
	sessionID int64
	timeTask  *scheduler.Task
}

// deferrer lets the stitcher schedule settle and retry callbacks without
// owning a task handle; stale callbacks are its own concern.
type deferrer struct {
	s *scheduler.Scheduler
}

func (d deferrer) After(delay time.Duration, fn func()) {
	d.s.After(delay, fn)
}

// New assembles a monitor for the configured mode. Engine construction
// errors, such as an invalid policy table, surface here.
func New(cfg Config, rx sdr.Receiver, sw sdr.Switcher, store storage.Store, options ...func(*Monitor)) (*Monitor, error) {
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if !cfg.Port.Valid() {
		return nil, fmt.Errorf("unknown start port %q", cfg.Port)
	}
	if cfg.SweepTick <= 0 {
		cfg.SweepTick = DefaultSweepTick
	}
	if cfg.DetectTick <= 0 {
		cfg.DetectTick = detect.DefaultTick
	}

	m := Monitor{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		rx:     rx,
		sw:     sw,
		store:  store,
		sched:  scheduler.New(),
		ring:   rf.NewRing(cfg.Port),
	}
	for _, option := range options {
		option(&m)
	}

	var err error
	switch cfg.Mode {
	case ModeSweep, ModeSweepFrequency:
		m.stitcher = sweep.New(rx, deferrer{m.sched}, sweep.WithLogger(m.logger))
		m.stitcher.SetAveraging(cfg.Averaging)
		m.stitcher.SetCalibration(cfg.CalibrationDB)
		m.stitcher.SetPeakHold(cfg.PeakHold)
		if cfg.Mode == ModeSweepFrequency || len(cfg.FreqRanges) > 0 {
			if m.freqPol, err = policy.NewFrequencyPolicy(cfg.FreqRanges); err != nil {
				return nil, fmt.Errorf("frequency policy: %w", err)
			}
		}

	case ModeDetect:
		m.detector = detect.New(rx, m.ring, m.commit, cfg.FFTSize, cfg.Detector, detect.WithLogger(m.logger))

	case ModeTime:
		if m.timePol, err = policy.NewTimePolicy(cfg.TimeSlots); err != nil {
			return nil, fmt.Errorf("time policy: %w", err)
		}

	case ModeFrequency:
		if m.freqPol, err = policy.NewFrequencyPolicy(cfg.FreqRanges); err != nil {
			return nil, fmt.Errorf("frequency policy: %w", err)
		}
	}

	return &m, nil
}

// Run drives the session until ctx is cancelled. Pending timers are dropped
// and the hardware left on the last committed port.
func (m *Monitor) Run(ctx context.Context) error {
	m.ctx = ctx

	if m.sw != nil && !m.sw.Connected(ctx) {
		m.logger.Warn("switch hardware not detected, port commands may fail")
	}

	if m.store != nil {
		id, err := m.store.CreateSession(ctx, string(m.cfg.Mode), m.cfg.DeviceID, m.cfg)
		if err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		m.sessionID = id
	}

	if err := m.commit(rf.SwitchEvent{
		Port:      m.cfg.Port,
		Trigger:   rf.TriggerManual,
		Timestamp: time.Now(),
	}); err != nil {
		m.logger.Warn("initial port selection failed", slog.String("error", err.Error()))
	}

	switch m.cfg.Mode {
	case ModeSweep, ModeSweepFrequency:
		if err := m.stitcher.Reconfigure(m.cfg.SweepStartHz, m.cfg.SweepEndHz, m.cfg.SampleRateHz, m.cfg.FFTSize); err != nil {
			return fmt.Errorf("configuring sweep: %w", err)
		}
		if err := m.stitcher.Start(); err != nil {
			return err
		}
		m.sched.Every(m.cfg.SweepTick, m.sweepTick)
		if m.cfg.SnapshotPath != "" && m.cfg.SnapshotEvery > 0 {
			m.sched.Every(m.cfg.SnapshotEvery, m.snapshotTick)
		}

	case ModeDetect:
		m.detector.Start(time.Now())
		m.sched.Every(m.cfg.DetectTick, func() { m.detector.Tick(time.Now()) })

	case ModeTime:
		m.resumeTime()

	case ModeFrequency:
		m.sched.Every(m.cfg.DetectTick, m.followFrequency)
	}

	m.logger.Info("monitoring started",
		slog.String("mode", string(m.cfg.Mode)),
		slog.String("port", string(m.ring.Active())))

	err := m.sched.Run(ctx)

	if m.stitcher != nil {
		m.stitcher.Stop()
	}
	if m.timePol != nil {
		m.timePol.Pause(time.Now())
	}
	m.logger.Info("monitoring stopped")

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// sweepTick advances the stitcher one step and, in sweep-frequency mode,
// follows the tuned frequency with the port range table.
func (m *Monitor) sweepTick() {
	m.stitcher.Tick()
	if m.cfg.Mode == ModeSweepFrequency {
		m.followFrequency()
	}
}

// followFrequency selects the port mapped to the tuned center frequency, if
// it differs from the active one.
func (m *Monitor) followFrequency() {
	hz, err := m.rx.CenterFrequency()
	if err != nil {
		return
	}
	port, ok := m.freqPol.PortFor(hz)
	if !ok || port == m.ring.Active() {
		return
	}
	if err := m.commit(rf.SwitchEvent{
		Port:      port,
		Trigger:   rf.TriggerFrequencyPolicy,
		Timestamp: time.Now(),
	}); err != nil {
		m.logger.Warn("frequency policy switch failed", slog.String("error", err.Error()))
	}
}

// snapshotTick writes the current stitched trace to the configured path.
func (m *Monitor) snapshotTick() {
	f, err := os.Create(m.cfg.SnapshotPath)
	if err != nil {
		m.logger.Warn("snapshot not written", slog.String("error", err.Error()))
		return
	}
	if err = render.TracePNG(f, m.stitcher.Trace(), render.DefaultOptions()); err != nil {
		f.Close()
		m.logger.Warn("snapshot not written", slog.String("error", err.Error()))
		return
	}
	if err = f.Close(); err != nil {
		m.logger.Warn("snapshot not written", slog.String("error", err.Error()))
	}
}

// SelectPortRange retunes the sweep to the configured frequency range of the
// given port and routes the switch to it. Only meaningful in sweep modes
// with a range table.
func (m *Monitor) SelectPortRange(port rf.Port) {
	m.sched.After(0, func() {
		if m.stitcher == nil || m.freqPol == nil {
			return
		}
		r, ok := m.freqPol.RangeFor(port)
		if !ok {
			m.logger.Warn("no range configured for port", slog.String("port", string(port)))
			return
		}
		if err := m.stitcher.Reconfigure(r.LowMHz*1e6, r.HighMHz*1e6, m.cfg.SampleRateHz, m.cfg.FFTSize); err != nil {
			m.logger.Warn("sweep not retuned", slog.String("error", err.Error()))
			return
		}
		if err := m.commit(rf.SwitchEvent{
			Port:      port,
			Trigger:   rf.TriggerManual,
			Timestamp: time.Now(),
		}); err != nil {
			m.logger.Warn("port selection failed", slog.String("error", err.Error()))
		}
	})
}

// resumeTime starts or resumes the time schedule and arms a single-shot
// timer for the remaining duration of the selected slot.
func (m *Monitor) resumeTime() {
	now := time.Now()
	slot, rem := m.timePol.Resume(now)
	m.commitTimeSlot(slot, rem, now)
}

func (m *Monitor) advanceTime() {
	now := time.Now()
	slot, rem := m.timePol.Advance(now)
	m.commitTimeSlot(slot, rem, now)
}

func (m *Monitor) commitTimeSlot(slot policy.TimeSlot, rem time.Duration, now time.Time) {
	if err := m.commit(rf.SwitchEvent{
		Port:      slot.Port,
		Trigger:   rf.TriggerTimePolicy,
		Timestamp: now,
	}); err != nil {
		m.logger.Warn("time policy switch failed", slog.String("error", err.Error()))
	}
	m.logger.Debug("time slot armed",
		slog.String("port", string(slot.Port)),
		slog.Duration("remaining", rem))
	m.timeTask = m.sched.After(rem, m.advanceTime)
}

// Pause suspends the time schedule, booking the elapsed part of the current
// slot. A no-op in other modes.
func (m *Monitor) Pause() {
	m.sched.After(0, func() {
		if m.timePol == nil {
			return
		}
		if m.timeTask != nil {
			m.timeTask.Cancel()
			m.timeTask = nil
		}
		m.timePol.Pause(time.Now())
		m.logger.Info("time schedule paused")
	})
}

// Resume continues the time schedule from where Pause left it.
func (m *Monitor) Resume() {
	m.sched.After(0, func() {
		if m.timePol == nil || m.timeTask != nil {
			return
		}
		m.resumeTime()
	})
}

// SetThresholds forwards runtime detector knob changes onto the scheduler
// goroutine. Validation errors are logged, not returned.
func (m *Monitor) SetThresholds(thresholdDB, occMin, sfmFloorDB float64) {
	m.sched.After(0, func() {
		if m.detector == nil {
			return
		}
		if err := m.detector.SetThresholds(time.Now(), thresholdDB, occMin, sfmFloorDB); err != nil {
			m.logger.Warn("rejected detector thresholds", slog.String("error", err.Error()))
		}
	})
}

// commit pushes one decided switch to the hardware, repositions the ring and
// journals the event. It serves the detector, both policies and the initial
// manual selection.
func (m *Monitor) commit(ev rf.SwitchEvent) error {
	if m.sw != nil {
		if err := m.sw.Select(m.ctx, m.cfg.Board, ev.Port); err != nil {
			return fmt.Errorf("selecting port %s: %w", ev.Port, err)
		}
	}
	m.ring.Set(ev.Port)

	if m.store != nil && m.sessionID != 0 {
		if _, err := m.store.StoreSwitchEvent(m.ctx, m.sessionID, ev); err != nil {
			m.logger.Warn("journaling switch failed", slog.String("error", err.Error()))
		}
	}

	attrs := []any{
		slog.String("port", string(ev.Port)),
		slog.String("trigger", string(ev.Trigger)),
	}
	if tag := m.cfg.PortTags[ev.Port]; tag != "" {
		attrs = append(attrs, slog.String("tag", tag))
	}
	m.logger.Info("antenna port selected", attrs...)
	return nil
}

// ActivePort returns the last committed port.
func (m *Monitor) ActivePort() rf.Port {
	return m.ring.Active()
}

// WriteSnapshot renders the current stitched trace as PNG. Only valid after
// Run has returned, or from within a scheduler callback; sweep modes only.
func (m *Monitor) WriteSnapshot(w io.Writer) error {
	if m.stitcher == nil {
		return errors.New("no sweep trace in this mode")
	}
	return render.TracePNG(w, m.stitcher.Trace(), render.DefaultOptions())
}
