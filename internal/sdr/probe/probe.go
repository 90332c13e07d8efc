// Package probe implements the receiver collaborator on top of an external
// FFT helper process. The helper streams one line per spectrum on stdout,
//
//	<center_hz>,<mag 0>,<mag 1>,...,<mag fftSize-1>
//
// with linear magnitudes, and accepts retune commands of the form
// "tune <hz>\n" on stdin.
package probe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jmelnik/spectrum-sentry/internal/sdr"
)

const (
	// ParseErrorsThreshold defines the number of consecutive parse errors allowed
	ParseErrorsThreshold = 5
)

var (
	// ErrTooManyParseErrors is returned when the number of consecutive parse errors exceeds the threshold
	ErrTooManyParseErrors = errors.New("too many consecutive parse errors")

	// ErrBrokenPipe is returned when there's an error reading from stdout or stderr
	ErrBrokenPipe = errors.New("broken pipe")
)

// WithLogger sets the logger for the device
func WithLogger(logger *slog.Logger) func(d *Device) {
	return func(d *Device) {
		d.logger = logger.With(slog.String("device", "fft-probe"))
	}
}

// WithParseErrorsThreshold sets the threshold for consecutive parse errors
func WithParseErrorsThreshold(threshold uint8) func(d *Device) {
	return func(d *Device) {
		d.parseErrorsThreshold = threshold
	}
}

// Device runs the helper process and keeps the most recent spectrum vector.
// It implements sdr.Receiver.
type Device struct {
	binPath string
	args    []string
	fftSize int

	isSampling atomic.Bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	mu        sync.Mutex
	stdin     io.Writer
	latest    []float64
	latestHz  float64
	requested float64

	parseErrorsThreshold uint8
	logger               *slog.Logger
}

// NewDevice creates a new Device instance with a discard logger
func NewDevice(binPath string, args []string, fftSize int, options ...func(d *Device)) *Device {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	d := Device{
		binPath:              binPath,
		args:                 args,
		fftSize:              fftSize,
		logger:               logger,
		parseErrorsThreshold: ParseErrorsThreshold,
	}

	for _, option := range options {
		option(&d)
	}

	return &d
}

// BeginSampling starts the helper process and collects spectrum vectors until
// the context is cancelled or the helper exits.
func (d *Device) BeginSampling(ctx context.Context) (<-chan error, error) {
	if d.isSampling.Load() {
		return nil, fmt.Errorf("device is already running")
	}

	d.isSampling.Store(true)

	ctx, d.cancel = context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, d.binPath, d.args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		d.isSampling.Store(false) // Reset running state on error
		return nil, fmt.Errorf("error creating stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		d.isSampling.Store(false) // Reset running state on error
		return nil, fmt.Errorf("error creating stderr pipe: %w", err)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		d.isSampling.Store(false) // Reset running state on error
		return nil, fmt.Errorf("error creating stdin pipe: %w", err)
	}

	if err = cmd.Start(); err != nil {
		d.isSampling.Store(false) // Reset running state on error
		return nil, fmt.Errorf("error starting command: %w", err)
	}

	d.mu.Lock()
	d.stdin = stdin
	d.latest = nil
	d.mu.Unlock()

	samplingStopped := make(chan error)

	d.wg.Add(1)
	go func() {
		defer close(samplingStopped)

		d.logger.Info("starting spectrum collection...")

		done := make(chan error, 3) // expects three results from three goroutines

		go d.handleStdout(stdout, done)
		go d.handleStderr(stderr, done)
		go d.handleCmdWait(cmd, done)

		var errs []error
		for i := 0; i < cap(done); i++ {
			if err := <-done; err != nil {
				d.cancel() // cancel context on error
				d.logger.Error(err.Error())

				errs = append(errs, err)
			}
		}

		close(done)

		d.logger.Info("spectrum collection stopped")

		d.isSampling.Store(false)
		d.wg.Done()

		if len(errs) > 0 {
			samplingStopped <- errors.Join(errs...)
		}
	}()

	return samplingStopped, nil
}

// Stop cancels the helper process and waits for collection to finish.
func (d *Device) Stop() {
	if !d.isSampling.Load() {
		return // already stopped
	}

	d.cancel()
	d.wg.Wait()
	d.isSampling.Store(false)
}

// IsSampling returns true if the device is running
func (d *Device) IsSampling() bool {
	return d.isSampling.Load()
}

// Capture returns a copy of the most recent magnitude vector.
func (d *Device) Capture() ([]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.latest == nil {
		return nil, sdr.ErrNoCapture
	}

	mags := make([]float64, len(d.latest))
	copy(mags, d.latest)
	return mags, nil
}

// CenterFrequency reports the center frequency the helper tagged on the most
// recent vector, which may trail a requested retune until the tuner settles.
func (d *Device) CenterFrequency() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.latest == nil {
		return 0, sdr.ErrNoCapture
	}
	return d.latestHz, nil
}

// SetCenterFrequency asks the helper to retune.
func (d *Device) SetCenterFrequency(hz float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stdin == nil {
		return fmt.Errorf("device is not running")
	}

	if _, err := fmt.Fprintf(d.stdin, "tune %.1f\n", hz); err != nil {
		return fmt.Errorf("sending retune command: %w", err)
	}

	d.requested = hz
	return nil
}

// handleStdout reads spectrum lines from stdout and retains the latest vector.
func (d *Device) handleStdout(stdout io.Reader, done chan<- error) {
	var parseErrors uint8

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<22)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}

		if err := d.parse(line); err != nil {
			parseErrors++
			d.logger.Warn(fmt.Sprintf("error parsing spectrum: %s", err.Error()), slog.String("line", line))

			if parseErrors >= d.parseErrorsThreshold {
				done <- ErrTooManyParseErrors
				return
			}

			continue
		}

		parseErrors = 0 // reset counter
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		done <- fmt.Errorf("%w: error reading stdout: %w", ErrBrokenPipe, err)
		return
	}

	done <- nil
}

// handleStderr reads from stderr and logs errors.
func (d *Device) handleStderr(stderr io.Reader, done chan<- error) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}

		d.logger.Warn(fmt.Sprintf("fft-probe >> %s", line)) // simple logging here
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		done <- fmt.Errorf("%w: error reading stderr: %w", ErrBrokenPipe, err)
		return
	}

	done <- nil
}

// handleCmdWait waits for the command to exit and sends the error to the error channel
func (d *Device) handleCmdWait(cmd *exec.Cmd, done chan<- error) {
	if err := cmd.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		done <- fmt.Errorf("command exited with error: %w", err)
		return
	}

	done <- nil
}

// parse decodes one "<center_hz>,<mag>,..." line.
func (d *Device) parse(line string) error {
	fields := strings.Split(line, ",")
	if len(fields) != d.fftSize+1 {
		return fmt.Errorf("expected %d fields, got %d", d.fftSize+1, len(fields))
	}

	hz, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return fmt.Errorf("invalid center frequency: %w", err)
	}

	mags := make([]float64, d.fftSize)
	for i, field := range fields[1:] {
		if mags[i], err = strconv.ParseFloat(strings.TrimSpace(field), 64); err != nil {
			return fmt.Errorf("invalid magnitude at bin %d: %w", i, err)
		}
	}

	d.mu.Lock()
	d.latest = mags
	d.latestHz = hz
	d.mu.Unlock()

	return nil
}
