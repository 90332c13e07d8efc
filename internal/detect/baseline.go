// Package detect compares live spectrum against a self-adapting baseline and
// decides, with anti-flicker guarantees, when to rotate the active antenna
// port.
package detect

import "time"

// DefaultBaselineAlpha is the per-bin EMA factor of the reference spectrum.
const DefaultBaselineAlpha = 0.05

// Baseline maintains the exponentially averaged per-bin reference spectrum
// in the dB domain. Updates are suppressed inside a freeze window so the
// reference does not chase the anomaly it is meant to expose, or the
// transient caused by a port switch.
type Baseline struct {
	alpha       float64
	db          []float64
	freezeUntil time.Time
}

// NewBaseline returns an unseeded baseline with the given EMA factor.
func NewBaseline(alpha float64) *Baseline {
	return &Baseline{alpha: alpha}
}

// Seeded reports whether the baseline holds a reference spectrum.
func (b *Baseline) Seeded() bool {
	return b.db != nil
}

// Observe folds one spectrum into the reference. The first observation, or
// an observation of a different length, seeds the baseline outright. While
// frozen the reference is left untouched.
func (b *Baseline) Observe(now time.Time, powerDB []float64) {
	if len(b.db) != len(powerDB) {
		b.Snap(powerDB)
		return
	}
	if now.Before(b.freezeUntil) {
		return
	}
	for i, v := range powerDB {
		b.db[i] = (1-b.alpha)*b.db[i] + b.alpha*v
	}
}

// Snap replaces the reference with a copy of the given spectrum.
func (b *Baseline) Snap(powerDB []float64) {
	b.db = append(b.db[:0:0], powerDB...)
}

// Freeze suppresses EMA updates until the given time.
func (b *Baseline) Freeze(until time.Time) {
	if until.After(b.freezeUntil) {
		b.freezeUntil = until
	}
}

// Frozen reports whether updates are currently suppressed.
func (b *Baseline) Frozen(now time.Time) bool {
	return now.Before(b.freezeUntil)
}

// Reset discards the reference; the next observation reseeds it.
func (b *Baseline) Reset() {
	b.db = nil
	b.freezeUntil = time.Time{}
}

// DB returns the reference spectrum. The slice is owned by the baseline and
// must not be mutated.
func (b *Baseline) DB() []float64 {
	return b.db
}
