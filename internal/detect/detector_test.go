package detect

import (
	"math"
	"testing"
	"time"

	"github.com/jmelnik/spectrum-sentry/internal/rf"
)

type stubRx struct {
	mags []float64
}

func (r *stubRx) Capture() ([]float64, error) {
	out := make([]float64, len(r.mags))
	copy(out, r.mags)
	return out, nil
}

func (r *stubRx) CenterFrequency() (float64, error) { return 2.44e9, nil }

func (r *stubRx) SetCenterFrequency(float64) error { return nil }

// spectrumDB builds a magnitude vector whose post-scaling power is quietDB
// everywhere except [jamLo, jamHi), which sits at jamDB. The jitter factor
// keeps consecutive vectors from being bit-identical.
func spectrumDB(fft int, quietDB, jamDB float64, jamLo, jamHi int, jitter float64) []float64 {
	m := make([]float64, fft)
	for i := range m {
		db := quietDB
		if i >= jamLo && i < jamHi {
			db = jamDB
		}
		m[i] = float64(fft) * math.Pow(10, db/20) * (1 + jitter)
	}
	return m
}

func TestOccupancyRequirement(t *testing.T) {
	tests := []struct {
		name   string
		occMin float64
		n      int
		sfmDB  float64
		want   float64
	}{
		{"reference mask size", 0.5, 1000, -10, 0.2530},
		{"small mask clamps high", 0.5, 64, -10, 0.45},
		{"huge mask clamps low", 0.5, 100000, -10, 0.10},
		{"flat spectrum relaxes", 0.5, 1000, -3.0, 0.85 * 0.2530},
		{"near flat relaxes less", 0.5, 1000, -3.8, 0.92 * 0.2530},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := occupancyRequirement(tt.occMin, tt.n, tt.sfmDB)
			if math.Abs(got-tt.want) > 1e-3 {
				t.Errorf("occupancyRequirement = %.4f, want %.4f", got, tt.want)
			}
		})
	}
}

func TestMaskIndices(t *testing.T) {
	idx := maskIndices(256)

	// Excluded: two bins on each edge plus center ±2.
	if got, want := len(idx), 256-4-5; got != want {
		t.Fatalf("mask size = %d, want %d", got, want)
	}
	excluded := map[int]bool{0: true, 1: true, 254: true, 255: true}
	for i := 126; i <= 130; i++ {
		excluded[i] = true
	}
	for _, i := range idx {
		if excluded[i] {
			t.Fatalf("masked index %d should be excluded", i)
		}
	}

	// Larger vectors widen the DC exclusion to n/256 bins per side.
	idx = maskIndices(1024)
	if got, want := len(idx), 1024-4-9; got != want {
		t.Errorf("mask size for 1024 = %d, want %d", got, want)
	}
}

type detectorHarness struct {
	rx     *stubRx
	d      *Detector
	events []rf.SwitchEvent
	jitter float64
}

func newHarness(fft int) *detectorHarness {
	h := &detectorHarness{rx: &stubRx{}}
	ring := rf.NewRing(rf.PortA4)
	commit := func(ev rf.SwitchEvent) error {
		h.events = append(h.events, ev)
		return nil
	}
	h.d = New(h.rx, ring, commit, fft, DefaultConfig())
	return h
}

// tick feeds one spectrum with a small fresh jitter so the stale guard does
// not trip on intentionally repeated levels.
func (h *detectorHarness) tick(now time.Time, quietDB, jamDB float64, jamLo, jamHi int) {
	h.jitter += 1e-5
	h.rx.mags = spectrumDB(1024, quietDB, jamDB, jamLo, jamHi, h.jitter)
	h.d.Tick(now)
}

func TestDetectorFiresOnceOnSustainedInterference(t *testing.T) {
	h := newHarness(1024)
	t0 := time.Unix(1000, 0)
	h.d.Start(t0)

	// Quiet warmup: baseline learns a flat floor, no evaluation yet.
	for i := 1; i <= 14; i++ {
		h.tick(t0.Add(time.Duration(i)*100*time.Millisecond), -80, -80, 0, 0)
	}
	if len(h.events) != 0 {
		t.Fatalf("events during warmup: %d", len(h.events))
	}

	// 30% of the bins jump 10 dB and stay there.
	for i := 15; i <= 30; i++ {
		h.tick(t0.Add(time.Duration(i)*100*time.Millisecond), -80, -70, 100, 400)
	}

	if len(h.events) != 1 {
		t.Fatalf("events = %d, want exactly 1", len(h.events))
	}
	ev := h.events[0]
	if ev.Port != rf.PortA3 {
		t.Errorf("rotated to %s, want A3 (next after A4)", ev.Port)
	}
	if ev.Trigger != rf.TriggerDetector {
		t.Errorf("trigger = %s, want detector", ev.Trigger)
	}

	// Hold requires at least 400 ms of continuous trigger after warmup.
	if fired := ev.Timestamp.Sub(t0); fired < 1900*time.Millisecond {
		t.Errorf("fired after %v, want at least 1.9s (warmup plus hold)", fired)
	}
}

func TestDetectorCooldownSpacing(t *testing.T) {
	h := newHarness(1024)
	t0 := time.Unix(2000, 0)
	h.d.Start(t0)

	// Escalating interference: the jam level climbs 10 dB every second so
	// the spectrum keeps triggering even after each baseline snap.
	for i := 1; i <= 120; i++ {
		now := t0.Add(time.Duration(i) * 100 * time.Millisecond)
		quiet, jam := -80.0, -80.0
		if i >= 15 {
			jam = -70 + 10*math.Floor(float64(i-15)/10.0)
		}
		h.tick(now, quiet, jam, 100, 400)
	}

	if len(h.events) < 2 {
		t.Fatalf("events = %d, want at least 2 under continuous triggering", len(h.events))
	}
	cooldown := DefaultConfig().Cooldown
	for i := 1; i < len(h.events); i++ {
		gap := h.events[i].Timestamp.Sub(h.events[i-1].Timestamp)
		if gap < cooldown {
			t.Errorf("events %d and %d only %v apart, want at least %v", i-1, i, gap, cooldown)
		}
	}
}

func TestStepChangeSnapsBaselineWithoutSwitching(t *testing.T) {
	h := newHarness(1024)
	t0 := time.Unix(3000, 0)
	h.d.Start(t0)

	for i := 1; i <= 15; i++ {
		h.tick(t0.Add(time.Duration(i)*100*time.Millisecond), -80, -80, 0, 0)
	}

	// The whole floor jumps 10 dB in one tick, as a gain change would.
	for i := 16; i <= 40; i++ {
		h.tick(t0.Add(time.Duration(i)*100*time.Millisecond), -70, -70, 0, 0)
	}

	if len(h.events) != 0 {
		t.Fatalf("gain step fired %d switch events, want 0", len(h.events))
	}
	base := h.d.baseline.DB()
	if math.Abs(base[500]+70) > 1.0 {
		t.Errorf("baseline bin = %.1f dB, want snapped near -70", base[500])
	}
}

func TestStaleTickDiscardedBeforeStepValve(t *testing.T) {
	h := newHarness(1024)
	t0 := time.Unix(4000, 0)
	h.d.Start(t0)

	for i := 1; i <= 13; i++ {
		h.tick(t0.Add(time.Duration(i)*100*time.Millisecond), -80, -80, 0, 0)
	}

	// A loud vector arrives during warmup and then repeats bit-identically
	// on the first evaluated tick. The stale guard must discard the repeat
	// before the step-change valve can act on it.
	loud := spectrumDB(1024, -70, -70, 0, 0, 0)
	h.rx.mags = loud
	h.d.Tick(t0.Add(1400 * time.Millisecond))
	h.d.Tick(t0.Add(1500 * time.Millisecond))

	if !h.d.ignoreUntil.IsZero() {
		t.Fatal("stale tick reached the step-change valve")
	}

	// A fresh copy of the same level is processed and trips the valve.
	h.rx.mags = spectrumDB(1024, -70, -70, 0, 0, 1e-4)
	now := t0.Add(1600 * time.Millisecond)
	h.d.Tick(now)
	if !h.d.ignoreUntil.After(now) {
		t.Fatal("step-change valve did not arm the suppress window")
	}
	if len(h.events) != 0 {
		t.Errorf("valve fired %d switch events, want 0", len(h.events))
	}
}
