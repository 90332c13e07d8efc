// Package policy implements the deterministic port-switching schedulers:
// fixed time-slicing across ports and frequency-range-to-port lookup. Both
// share the same downstream commit action as the detector.
package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmelnik/spectrum-sentry/internal/rf"
)

// completionSlack absorbs timer jitter when deciding a slot has run its full
// configured duration.
const completionSlack = time.Millisecond

// TimeSlot is one entry of the time schedule. Entries with non-positive
// duration are skipped at runtime.
type TimeSlot struct {
	Port     rf.Port
	Duration time.Duration
}

// TimePolicy cycles through its slots with per-entry elapsed accounting, so
// pausing and resuming preserves the position within the current slot. The
// caller owns the timer: Resume and Advance return the slot to select and
// the remaining time to schedule a single-shot callback for.
type TimePolicy struct {
	slots     []TimeSlot
	elapsed   []time.Duration
	index     int
	startedAt time.Time
	running   bool
}

func validateSlots(slots []TimeSlot) error {
	if len(slots) == 0 {
		return errors.New("time policy needs at least one entry")
	}
	usable := false
	for i, s := range slots {
		if !s.Port.Valid() {
			return fmt.Errorf("entry %d: unknown port %q", i, s.Port)
		}
		if s.Duration > 0 {
			usable = true
		}
	}
	if !usable {
		return errors.New("time policy has no entry with positive duration")
	}
	return nil
}

// NewTimePolicy builds a paused policy positioned at the first slot.
func NewTimePolicy(slots []TimeSlot) (*TimePolicy, error) {
	if err := validateSlots(slots); err != nil {
		return nil, err
	}
	return &TimePolicy{
		slots:   slots,
		elapsed: make([]time.Duration, len(slots)),
	}, nil
}

// SetSlots replaces the schedule. Changing the port sequence restarts the
// accounting from the first slot; a pure duration edit keeps the position.
func (p *TimePolicy) SetSlots(slots []TimeSlot) error {
	if err := validateSlots(slots); err != nil {
		return err
	}
	same := len(slots) == len(p.slots)
	if same {
		for i := range slots {
			if slots[i].Port != p.slots[i].Port {
				same = false
				break
			}
		}
	}
	if !same {
		p.index = 0
		p.elapsed = make([]time.Duration, len(slots))
	}
	p.slots = slots
	return nil
}

// Resume returns the slot to select now and the remaining time it should
// run. Slots that already ran out, or have non-positive duration, are
// skipped; when every slot is exhausted a fresh cycle starts from the
// current position.
func (p *TimePolicy) Resume(now time.Time) (TimeSlot, time.Duration) {
	n := len(p.slots)
	for i := 0; i < n; i++ {
		slot := p.slots[p.index]
		if rem := slot.Duration - p.elapsed[p.index]; slot.Duration > 0 && rem > 0 {
			p.running = true
			p.startedAt = now
			return slot, rem
		}
		p.elapsed[p.index] = 0
		p.index = (p.index + 1) % n
	}

	// Full cycle exhausted: reset all counters and restart from here.
	for i := range p.elapsed {
		p.elapsed[i] = 0
	}
	for p.slots[p.index].Duration <= 0 {
		p.index = (p.index + 1) % n
	}
	slot := p.slots[p.index]
	p.running = true
	p.startedAt = now
	return slot, slot.Duration
}

// Pause books the time spent on the current slot and stops the accounting.
// The caller cancels its pending timer alongside.
func (p *TimePolicy) Pause(now time.Time) {
	if !p.running {
		return
	}
	p.elapsed[p.index] += now.Sub(p.startedAt)
	p.running = false
}

// Advance is called when the slot timer fires: the finished slot's counter
// is cleared and the next runnable slot is selected.
func (p *TimePolicy) Advance(now time.Time) (TimeSlot, time.Duration) {
	if p.running {
		p.elapsed[p.index] += now.Sub(p.startedAt)
		if p.elapsed[p.index] >= p.slots[p.index].Duration-completionSlack {
			p.elapsed[p.index] = 0
		}
		p.running = false
	}
	p.index = (p.index + 1) % len(p.slots)
	return p.Resume(now)
}
