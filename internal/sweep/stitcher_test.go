package sweep

import (
	"testing"
	"time"
)

// fakeDeferrer queues callbacks and runs them when the test says so.
type fakeDeferrer struct {
	queue []func()
}

func (f *fakeDeferrer) After(_ time.Duration, fn func()) {
	f.queue = append(f.queue, fn)
}

// drain runs queued callbacks, including ones they enqueue, up to a bound.
func (f *fakeDeferrer) drain(t *testing.T) int {
	t.Helper()
	var ran int
	for len(f.queue) > 0 {
		fn := f.queue[0]
		f.queue = f.queue[1:]
		fn()
		if ran++; ran > 100 {
			t.Fatal("deferred callbacks did not converge")
		}
	}
	return ran
}

// fakeReceiver serves canned captures and settles retunes instantly.
type fakeReceiver struct {
	tuned    float64
	captures [][]float64
	idx      int
	tuneErr  error
}

func (r *fakeReceiver) Capture() ([]float64, error) {
	mags := r.captures[r.idx%len(r.captures)]
	r.idx++
	out := make([]float64, len(mags))
	copy(out, mags)
	return out, nil
}

func (r *fakeReceiver) CenterFrequency() (float64, error) {
	return r.tuned, nil
}

func (r *fakeReceiver) SetCenterFrequency(hz float64) error {
	if r.tuneErr != nil {
		return r.tuneErr
	}
	r.tuned = hz
	return nil
}

func rampVector(n int, base float64) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = base + float64(i)*0.001
	}
	return v
}

func newTestStitcher(t *testing.T, rx *fakeReceiver) (*Stitcher, *fakeDeferrer) {
	t.Helper()
	d := &fakeDeferrer{}
	s := New(rx, d)
	if err := s.Reconfigure(80e6, 120e6, 20e6, 32); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s, d
}

func TestSweepIngestsSteps(t *testing.T) {
	rx := &fakeReceiver{captures: [][]float64{
		rampVector(32, 1.0),
		rampVector(32, 2.0),
	}}
	s, d := newTestStitcher(t, rx)

	s.Tick()
	d.drain(t)
	if got := s.Step(); got != 1 {
		t.Fatalf("Step after first capture = %d, want 1", got)
	}
	if rx.tuned != 90e6 {
		t.Errorf("tuned = %v, want 90e6", rx.tuned)
	}

	s.Tick()
	d.drain(t)
	if got := s.Step(); got != 0 {
		t.Fatalf("Step after second capture = %d, want 0 (wrapped)", got)
	}
	if rx.tuned != 110e6 {
		t.Errorf("tuned = %v, want 110e6", rx.tuned)
	}

	tr := s.Trace()
	if len(tr.FreqHz) == 0 || len(tr.FreqHz) != len(tr.DB) {
		t.Fatalf("trace sizes: freq=%d db=%d", len(tr.FreqHz), len(tr.DB))
	}
	if len(tr.FreqHz) > 1024 {
		t.Errorf("trace has %d points, want at most 1024", len(tr.FreqHz))
	}
	for i, hz := range tr.FreqHz {
		if hz < 80e6 || hz > 120e6 {
			t.Fatalf("trace point %d at %v Hz outside configured span", i, hz)
		}
	}
}

func TestStaleCaptureSkipsStepAfterRetries(t *testing.T) {
	same := rampVector(32, 1.0)
	rx := &fakeReceiver{captures: [][]float64{same}}
	s, d := newTestStitcher(t, rx)

	// First step succeeds and pins the stale reference.
	s.Tick()
	d.drain(t)
	if got := s.Step(); got != 1 {
		t.Fatalf("Step = %d, want 1", got)
	}

	// Second step keeps serving the identical vector. The capture must be
	// retried and the step eventually skipped, not ingested.
	s.Tick()
	ran := d.drain(t)
	if got := s.Step(); got != 0 {
		t.Fatalf("Step after stale step = %d, want 0", got)
	}
	// One settle callback plus three retry callbacks.
	if ran != 4 {
		t.Errorf("deferred callbacks = %d, want 4", ran)
	}
}

func TestOffTuneCaptureRetries(t *testing.T) {
	rx := &fakeReceiver{captures: [][]float64{rampVector(32, 1.0)}}
	s, d := newTestStitcher(t, rx)

	s.Tick()
	// Simulate the tuner drifting off the step between retune and capture.
	rx.tuned = 95e6
	ran := d.drain(t)
	if ran != 4 {
		t.Errorf("deferred callbacks = %d, want 4 (settle plus retries)", ran)
	}
	if got := s.Step(); got != 1 {
		t.Errorf("Step = %d, want 1 (skipped, not stuck)", got)
	}
	if got := s.Trace(); got.DB != nil {
		t.Error("off-tune capture must not produce a trace")
	}
}

func TestReconfigureInvalidHaltsSweep(t *testing.T) {
	rx := &fakeReceiver{captures: [][]float64{rampVector(32, 1.0)}}
	s, d := newTestStitcher(t, rx)

	if err := s.Reconfigure(120e6, 80e6, 20e6, 32); err == nil {
		t.Fatal("Reconfigure with inverted span: err = nil")
	}
	if s.Running() {
		t.Error("sweep still running after invalid reconfigure")
	}
	if err := s.Start(); err == nil {
		t.Error("Start succeeded on fallback plan")
	}

	// Ticks against the fallback must not touch the receiver.
	before := rx.idx
	s.Tick()
	d.drain(t)
	if rx.idx != before {
		t.Error("fallback plan captured from the receiver")
	}
}

func TestReconfigureInvalidatesPendingCapture(t *testing.T) {
	rx := &fakeReceiver{captures: [][]float64{rampVector(32, 1.0)}}
	s, d := newTestStitcher(t, rx)

	s.Tick() // settle callback now pending
	if err := s.Reconfigure(80e6, 120e6, 20e6, 64); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.drain(t)
	if got := s.Step(); got != 0 {
		t.Errorf("stale settle callback advanced the new sweep: step = %d", got)
	}
}

func TestPeakHoldEnvelope(t *testing.T) {
	rx := &fakeReceiver{captures: [][]float64{
		rampVector(32, 4.0),
		rampVector(32, 4.1),
		rampVector(32, 0.5),
		rampVector(32, 0.6),
	}}
	s, d := newTestStitcher(t, rx)
	s.SetAveraging(0)
	s.SetPeakHold(true)

	// Full loud cycle, then a full quiet cycle.
	for i := 0; i < 4; i++ {
		s.Tick()
		d.drain(t)
	}

	tr := s.Trace()
	if tr.Peak == nil {
		t.Fatal("peak trace missing with peak hold enabled")
	}
	for i := range tr.DB {
		if tr.Peak[i] < tr.DB[i] {
			t.Fatalf("peak[%d] = %v below live %v", i, tr.Peak[i], tr.DB[i])
		}
	}

	// Disabling clears the envelope so re-enabling starts fresh.
	s.SetPeakHold(false)
	s.SetPeakHold(true)
	s.Tick()
	d.drain(t)
	s.Tick()
	d.drain(t)
	tr = s.Trace()
	for i := range tr.DB {
		if tr.Peak[i] != tr.DB[i] {
			t.Fatalf("reset envelope[%d] = %v, want live value %v", i, tr.Peak[i], tr.DB[i])
		}
	}
}

func TestAveragingSmoothsFrames(t *testing.T) {
	rx := &fakeReceiver{captures: [][]float64{
		rampVector(32, 1.0),
		rampVector(32, 1.01),
		rampVector(32, 100.0),
		rampVector(32, 101.0),
	}}
	s, d := newTestStitcher(t, rx)
	s.SetAveraging(0.2)

	for i := 0; i < 4; i++ {
		s.Tick()
		d.drain(t)
	}

	// The loud frames land at about +10 dB instantaneous, but with alpha 0.2
	// the smoothed trace is still damped below 0 dB after one loud pass.
	tr := s.Trace()
	idx := len(tr.DB)/2 + 12
	if tr.DB[idx] > 0 {
		t.Errorf("smoothed level %v dB, want damped below 0 dB", tr.DB[idx])
	}
}
