// Package hackrf drives the HackRF OperaCake antenna switch through the
// stock command line tools.
package hackrf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/jmelnik/spectrum-sentry/internal/rf"
	"github.com/jmelnik/spectrum-sentry/internal/sdr"
)

const (
	switchRuntime = "hackrf_operacake"
	probeRuntime  = "hackrf_info"
)

// WithLogger sets the logger for the switcher.
func WithLogger(logger *slog.Logger) func(*Switcher) {
	return func(s *Switcher) {
		s.logger = logger.With(slog.String("device", "operacake"))
	}
}

// Switcher selects OperaCake ports via hackrf_operacake and probes for the
// HackRF via hackrf_info.
type Switcher struct {
	switchBin string
	probeBin  string
	logger    *slog.Logger
}

// New locates the HackRF tools and returns a ready switcher.
func New(options ...func(*Switcher)) (*Switcher, error) {
	switchBin, err := sdr.FindRuntime(switchRuntime)
	if err != nil {
		return nil, fmt.Errorf("locating %s: %w", switchRuntime, err)
	}

	probeBin, err := sdr.FindRuntime(probeRuntime)
	if err != nil {
		return nil, fmt.Errorf("locating %s: %w", probeRuntime, err)
	}

	s := Switcher{
		switchBin: switchBin,
		probeBin:  probeBin,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(&s)
	}
	return &s, nil
}

// Select routes the named port on the given OperaCake board.
func (s *Switcher) Select(ctx context.Context, board int, port rf.Port) error {
	if !port.Valid() {
		return fmt.Errorf("invalid port %q", port)
	}

	cmd := exec.CommandContext(ctx, s.switchBin, "-o", strconv.Itoa(board), "-a", string(port))

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%s -o %d -a %s: %s", switchRuntime, board, port, msg)
	}

	s.logger.Debug("port routed", slog.String("port", string(port)), slog.Int("board", board))
	return nil
}

// Connected reports whether a HackRF is present on the bus.
func (s *Switcher) Connected(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, s.probeBin)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return false
	}
	return bytes.Contains(stdout.Bytes(), []byte("Found HackRF"))
}
