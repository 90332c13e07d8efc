package policy

import (
	"errors"
	"fmt"
	"slices"

	"github.com/jmelnik/spectrum-sentry/internal/rf"
)

// MaxRangeMHz bounds every configured upper limit.
const MaxRangeMHz = 4000.0

var (
	// ErrRangeOrder is returned when a range's lower bound is not below its
	// upper bound.
	ErrRangeOrder = errors.New("lower bound must be below upper bound")

	// ErrRangeLimit is returned when an upper bound exceeds MaxRangeMHz.
	ErrRangeLimit = errors.New("upper limit exceeds 4000 MHz")

	// ErrRangeOverlap is returned when two ranges overlap or touch.
	ErrRangeOverlap = errors.New("overlapping or touching ranges")
)

// FreqRange maps one port to an inclusive frequency band in MHz.
type FreqRange struct {
	Port    rf.Port
	LowMHz  float64
	HighMHz float64
}

// FrequencyPolicy selects the active port from the tuned center frequency
// using a static, non-overlapping range table.
type FrequencyPolicy struct {
	ranges []FreqRange
}

// NewFrequencyPolicy validates the range table. Ranges must be well ordered,
// within the hardware limit and pairwise disjoint; touching bounds count as
// a conflict.
func NewFrequencyPolicy(ranges []FreqRange) (*FrequencyPolicy, error) {
	if len(ranges) == 0 {
		return nil, errors.New("frequency policy needs at least one range")
	}
	for i, r := range ranges {
		if !r.Port.Valid() {
			return nil, fmt.Errorf("entry %d: unknown port %q", i, r.Port)
		}
		if r.LowMHz >= r.HighMHz {
			return nil, fmt.Errorf("%w: %s has %g:%g", ErrRangeOrder, r.Port, r.LowMHz, r.HighMHz)
		}
		if r.HighMHz > MaxRangeMHz {
			return nil, fmt.Errorf("%w: %s ends at %g", ErrRangeLimit, r.Port, r.HighMHz)
		}
	}

	sorted := slices.Clone(ranges)
	slices.SortFunc(sorted, func(a, b FreqRange) int {
		switch {
		case a.LowMHz < b.LowMHz:
			return -1
		case a.LowMHz > b.LowMHz:
			return 1
		}
		return 0
	})
	for i := 0; i < len(sorted)-1; i++ {
		if sorted[i].HighMHz >= sorted[i+1].LowMHz {
			return nil, fmt.Errorf("%w: %s ends at %g, %s starts at %g",
				ErrRangeOverlap, sorted[i].Port, sorted[i].HighMHz, sorted[i+1].Port, sorted[i+1].LowMHz)
		}
	}

	return &FrequencyPolicy{ranges: ranges}, nil
}

// RangeFor returns the first configured range owned by the given port.
func (p *FrequencyPolicy) RangeFor(port rf.Port) (FreqRange, bool) {
	for _, r := range p.ranges {
		if r.Port == port {
			return r, true
		}
	}
	return FreqRange{}, false
}

// PortFor returns the port of the first configured range containing the
// given frequency, in declaration order.
func (p *FrequencyPolicy) PortFor(hz float64) (rf.Port, bool) {
	mhz := hz / 1e6
	for _, r := range p.ranges {
		if r.LowMHz <= mhz && mhz <= r.HighMHz {
			return r.Port, true
		}
	}
	return "", false
}
