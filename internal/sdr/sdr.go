// Package sdr defines the two hardware collaborator contracts the monitoring
// core depends on: a receiver that produces magnitude spectra at a tunable
// center frequency, and a switch that routes one of the antenna ports.
package sdr

import (
	"context"
	"errors"

	"github.com/jmelnik/spectrum-sentry/internal/rf"
)

// ErrNoCapture is returned by a Receiver when no spectrum vector is
// available yet for the currently tuned frequency.
var ErrNoCapture = errors.New("no capture available")

// Receiver captures magnitude spectra at its tuned center frequency.
// Implementations are expected to be cheap to call from a periodic tick;
// a slow or hung implementation stalls the scheduling loop.
type Receiver interface {
	// Capture returns the most recent linear-magnitude vector for the
	// currently tuned center frequency. The returned slice must not be
	// retained or mutated by the receiver after return.
	Capture() ([]float64, error)

	// CenterFrequency reports the currently tuned center frequency in Hz.
	CenterFrequency() (float64, error)

	// SetCenterFrequency retunes the receiver. Implementations may settle
	// asynchronously; callers wait a settle delay before trusting captures.
	SetCenterFrequency(hz float64) error
}

// Switcher routes antenna ports on the switch board and probes for the
// presence of the receiver hardware.
type Switcher interface {
	// Select routes the named port on the given board.
	Select(ctx context.Context, board int, port rf.Port) error

	// Connected reports whether the receiver hardware is reachable.
	Connected(ctx context.Context) bool
}
