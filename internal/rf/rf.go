package rf

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Port identifies one of the eight switchable antenna connections
// on the antenna switch board.
type Port string

const (
	PortA1 Port = "A1"
	PortA2 Port = "A2"
	PortA3 Port = "A3"
	PortA4 Port = "A4"
	PortB1 Port = "B1"
	PortB2 Port = "B2"
	PortB3 Port = "B3"
	PortB4 Port = "B4"
)

// RotationOrder is the fixed cyclic order the detector walks through when
// rotating away from a degraded port.
var RotationOrder = []Port{PortA4, PortA3, PortA2, PortA1, PortB4, PortB3, PortB2, PortB1}

// ParsePort normalizes and validates a port identifier.
func ParsePort(s string) (Port, error) {
	p := Port(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown port %q, expected one of A1..A4, B1..B4", s)
	}
	return p, nil
}

// Valid reports whether p is one of the eight known ports.
func (p Port) Valid() bool {
	for _, known := range RotationOrder {
		if p == known {
			return true
		}
	}
	return false
}

// Ring tracks the active position within RotationOrder.
type Ring struct {
	index int
}

// NewRing returns a ring positioned at the given port, or at the first
// rotation slot when the port is unknown.
func NewRing(active Port) *Ring {
	r := &Ring{}
	r.Set(active)
	return r
}

// Active returns the port the ring currently points at.
func (r *Ring) Active() Port {
	return RotationOrder[r.index]
}

// Next advances the ring one position and returns the new active port.
func (r *Ring) Next() Port {
	r.index = (r.index + 1) % len(RotationOrder)
	return RotationOrder[r.index]
}

// Set repositions the ring at the given port if it is known.
func (r *Ring) Set(p Port) {
	for i, known := range RotationOrder {
		if p == known {
			r.index = i
			return
		}
	}
}

// Trigger identifies which component decided a port switch.
type Trigger string

const (
	TriggerDetector        Trigger = "detector"
	TriggerTimePolicy      Trigger = "time-policy"
	TriggerFrequencyPolicy Trigger = "frequency-policy"
	TriggerManual          Trigger = "manual"
)

// SwitchEvent is the externally observable record of a port change.
type SwitchEvent struct {
	Port      Port
	Trigger   Trigger
	Timestamp time.Time
}

// FormatHz renders a frequency with an SI prefix for log lines and labels.
func FormatHz(hz float64) string {
	v, suffix := humanize.ComputeSI(hz)
	return fmt.Sprintf("%.3f %sHz", v, suffix)
}
