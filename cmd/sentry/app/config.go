package app

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmelnik/spectrum-sentry/internal/detect"
	"github.com/jmelnik/spectrum-sentry/internal/monitor"
	"github.com/jmelnik/spectrum-sentry/internal/policy"
	"github.com/jmelnik/spectrum-sentry/internal/rf"
	"github.com/jmelnik/spectrum-sentry/internal/sweep"
)

// freqPattern accepts a float with an optional hz/khz/mhz/ghz suffix,
// case insensitive. A bare number is taken as Hz.
var freqPattern = regexp.MustCompile(`^\s*([+-]?(?:\d+(?:\.\d+)?|\.\d+)(?:[eE][+-]?\d+)?)\s*(?i:(hz|khz|mhz|ghz))?\s*$`)

var freqMultipliers = map[string]float64{
	"": 1, "hz": 1, "khz": 1e3, "mhz": 1e6, "ghz": 1e9,
}

// ParseFrequency converts a frequency scalar such as "2.44 GHz", "100mhz"
// or "20e6" into Hz.
func ParseFrequency(text string) (float64, error) {
	m := freqPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, fmt.Errorf("invalid frequency %q", text)
	}
	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q: %w", text, err)
	}
	return val * freqMultipliers[strings.ToLower(m[2])], nil
}

// Frequency is a YAML frequency scalar with an optional unit suffix.
type Frequency float64

func (f *Frequency) UnmarshalYAML(node *yaml.Node) error {
	hz, err := ParseFrequency(node.Value)
	if err != nil {
		return err
	}
	*f = Frequency(hz)
	return nil
}

// Duration is a YAML duration scalar in time.ParseDuration syntax.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(v)
	return nil
}

// Config represents the main application configuration
type Config struct {
	Settings Settings          `yaml:"settings"`
	Monitor  MonitorConfig     `yaml:"monitor"`
	Sweep    SweepConfig       `yaml:"sweep"`
	Detector DetectorConfig    `yaml:"detector"`
	Schedule []SlotConfig      `yaml:"schedule"`
	Ranges   []RangeConfig     `yaml:"ranges"`
	Tags     map[string]string `yaml:"tags"`
	Probe    ProbeConfig       `yaml:"probe"`
	Storage  StorageConfig     `yaml:"storage"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// MonitorConfig selects the session mode and the switch hardware addressing.
type MonitorConfig struct {
	Mode     string `yaml:"mode"`
	Board    int    `yaml:"board"`
	Port     string `yaml:"port"`
	DeviceID string `yaml:"deviceId"`
}

// SweepConfig represents the wideband sweep settings.
type SweepConfig struct {
	Start         Frequency `yaml:"start"`
	End           Frequency `yaml:"end"`
	SampleRate    Frequency `yaml:"sampleRate"`
	FFTSize       int       `yaml:"fftSize"`
	Averaging     float64   `yaml:"averaging"`
	CalibrationDB float64   `yaml:"calibrationDB"`
	PeakHold      bool      `yaml:"peakHold"`
	Tick          Duration  `yaml:"tick"`
	Snapshot      string    `yaml:"snapshot"`
	SnapshotEvery Duration  `yaml:"snapshotEvery"`
}

// DetectorConfig represents the interference detector thresholds. Absent
// fields keep the tuned defaults.
type DetectorConfig struct {
	ThresholdDB   float64  `yaml:"thresholdDB"`
	OccMin        float64  `yaml:"occMin"`
	SFMFloorDB    float64  `yaml:"sfmFloorDB"`
	SFMOffsetDB   float64  `yaml:"sfmOffsetDB"`
	BandOnDB      float64  `yaml:"bandOnDB"`
	MedianOnDB    float64  `yaml:"medianOnDB"`
	OccMultipeak  float64  `yaml:"occMultipeak"`
	SpanMin       float64  `yaml:"spanMin"`
	Hold          Duration `yaml:"hold"`
	Dwell         Duration `yaml:"dwell"`
	Cooldown      Duration `yaml:"cooldown"`
	Warmup        Duration `yaml:"warmup"`
	BaselineAlpha float64  `yaml:"baselineAlpha"`
	Tick          Duration `yaml:"tick"`
}

// SlotConfig is one entry of the time schedule.
type SlotConfig struct {
	Port     string   `yaml:"port"`
	Duration Duration `yaml:"duration"`
}

// RangeConfig is one entry of the frequency range table, in MHz.
type RangeConfig struct {
	Port    string  `yaml:"port"`
	LowMHz  float64 `yaml:"low"`
	HighMHz float64 `yaml:"high"`
}

// ProbeConfig locates the external FFT helper process.
type ProbeConfig struct {
	Bin  string   `yaml:"bin"`
	Args []string `yaml:"args"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DataDirectory string `yaml:"dataDirectory"`
}

// LoadConfig reads a YAML configuration file. Fields absent from the file
// keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	d := detect.DefaultConfig()
	config := Config{
		Settings: Settings{LogLevel: "info"},
		Monitor:  MonitorConfig{Mode: string(monitor.ModeSweep), Port: string(rf.PortA1)},
		Sweep: SweepConfig{
			Start:      Frequency(80e6),
			End:        Frequency(120e6),
			SampleRate: Frequency(sweep.MaxSampleRateHz),
			FFTSize:    1024,
			Averaging:  0.2,
			Tick:       Duration(monitor.DefaultSweepTick),
		},
		Detector: DetectorConfig{
			ThresholdDB:   d.ThresholdDB,
			OccMin:        d.OccMin,
			SFMFloorDB:    d.SFMFloorDB,
			SFMOffsetDB:   d.SFMOffsetDB,
			BandOnDB:      d.BandOnDB,
			MedianOnDB:    d.MedianOnDB,
			OccMultipeak:  d.OccMultipeak,
			SpanMin:       d.SpanMin,
			Hold:          Duration(d.Hold),
			Dwell:         Duration(d.Dwell),
			Cooldown:      Duration(d.Cooldown),
			Warmup:        Duration(d.Warmup),
			BaselineAlpha: d.BaselineAlpha,
			Tick:          Duration(detect.DefaultTick),
		},
		Storage: StorageConfig{Enabled: true},
	}

	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	return &config, nil
}

// monitorConfig validates and converts the file configuration into a
// monitor session configuration. Out-of-range frequencies are clamped to
// the tunable window with a warning, matching the runtime retune behavior.
func (c *Config) monitorConfig(logger *slog.Logger) (monitor.Config, error) {
	port, err := rf.ParsePort(c.Monitor.Port)
	if err != nil {
		return monitor.Config{}, err
	}
	if !sweep.ValidFFTSize(c.Sweep.FFTSize) {
		return monitor.Config{}, fmt.Errorf("%w: %d", sweep.ErrFFTSize, c.Sweep.FFTSize)
	}

	start := clampHz(float64(c.Sweep.Start), sweep.MinFrequencyHz, sweep.MaxFrequencyHz, "sweep start", logger)
	end := clampHz(float64(c.Sweep.End), sweep.MinFrequencyHz, sweep.MaxFrequencyHz, "sweep end", logger)
	rate := clampHz(float64(c.Sweep.SampleRate), 1, sweep.MaxSampleRateHz, "sample rate", logger)

	slots := make([]policy.TimeSlot, 0, len(c.Schedule))
	for _, slot := range c.Schedule {
		p, err := rf.ParsePort(slot.Port)
		if err != nil {
			return monitor.Config{}, fmt.Errorf("time schedule: %w", err)
		}
		slots = append(slots, policy.TimeSlot{Port: p, Duration: time.Duration(slot.Duration)})
	}

	ranges := make([]policy.FreqRange, 0, len(c.Ranges))
	for _, r := range c.Ranges {
		p, err := rf.ParsePort(r.Port)
		if err != nil {
			return monitor.Config{}, fmt.Errorf("range table: %w", err)
		}
		ranges = append(ranges, policy.FreqRange{Port: p, LowMHz: r.LowMHz, HighMHz: r.HighMHz})
	}

	var tags map[rf.Port]string
	if len(c.Tags) > 0 {
		tags = make(map[rf.Port]string, len(c.Tags))
		for name, tag := range c.Tags {
			p, err := rf.ParsePort(name)
			if err != nil {
				return monitor.Config{}, fmt.Errorf("port tags: %w", err)
			}
			tags[p] = tag
		}
	}

	return monitor.Config{
		Mode:     monitor.Mode(c.Monitor.Mode),
		Board:    c.Monitor.Board,
		Port:     port,
		DeviceID: c.Monitor.DeviceID,

		SweepStartHz: start,
		SweepEndHz:   end,
		SampleRateHz: rate,
		FFTSize:      c.Sweep.FFTSize,

		Averaging:     c.Sweep.Averaging,
		CalibrationDB: c.Sweep.CalibrationDB,
		PeakHold:      c.Sweep.PeakHold,

		Detector: detect.Config{
			ThresholdDB:   c.Detector.ThresholdDB,
			OccMin:        c.Detector.OccMin,
			SFMFloorDB:    c.Detector.SFMFloorDB,
			SFMOffsetDB:   c.Detector.SFMOffsetDB,
			BandOnDB:      c.Detector.BandOnDB,
			MedianOnDB:    c.Detector.MedianOnDB,
			OccMultipeak:  c.Detector.OccMultipeak,
			SpanMin:       c.Detector.SpanMin,
			Hold:          time.Duration(c.Detector.Hold),
			Dwell:         time.Duration(c.Detector.Dwell),
			Cooldown:      time.Duration(c.Detector.Cooldown),
			Warmup:        time.Duration(c.Detector.Warmup),
			BaselineAlpha: c.Detector.BaselineAlpha,
		},
		TimeSlots:  slots,
		FreqRanges: ranges,
		PortTags:   tags,

		SnapshotPath:  c.Sweep.Snapshot,
		SnapshotEvery: time.Duration(c.Sweep.SnapshotEvery),

		SweepTick:  time.Duration(c.Sweep.Tick),
		DetectTick: time.Duration(c.Detector.Tick),
	}, nil
}

func clampHz(hz, lo, hi float64, what string, logger *slog.Logger) float64 {
	clamped := min(max(hz, lo), hi)
	if clamped != hz {
		logger.Warn(fmt.Sprintf("%s out of range, clamped", what),
			slog.String("requested", rf.FormatHz(hz)),
			slog.String("using", rf.FormatHz(clamped)))
	}
	return clamped
}
