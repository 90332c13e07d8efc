package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmelnik/spectrum-sentry/internal/monitor"
	"github.com/jmelnik/spectrum-sentry/internal/sdr"
	"github.com/jmelnik/spectrum-sentry/internal/sdr/hackrf"
	"github.com/jmelnik/spectrum-sentry/internal/sdr/probe"
	"github.com/jmelnik/spectrum-sentry/internal/storage"
)

const (
	storageDir = "data"
)

// Run wires the configured hardware into a monitor session and drives it
// until the context is cancelled.
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	mcfg, err := config.monitorConfig(logger)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var store storage.Store
	if config.Storage.Enabled {
		if store, err = createStorage(&config.Storage); err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		defer store.Close()
	}

	sw, err := hackrf.New(hackrf.WithLogger(logger))
	if err != nil {
		// Port commands become no-ops; sweeping still works.
		logger.Warn("antenna switch unavailable", slog.String("error", err.Error()))
		sw = nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var rx sdr.Receiver
	if mcfg.Mode != monitor.ModeTime {
		if config.Probe.Bin == "" {
			return fmt.Errorf("mode %s needs a receiver, set probe.bin", mcfg.Mode)
		}
		device := probe.NewDevice(config.Probe.Bin, config.Probe.Args, mcfg.FFTSize, probe.WithLogger(logger))

		stopped, err := device.BeginSampling(ctx)
		if err != nil {
			return fmt.Errorf("starting receiver: %w", err)
		}
		defer device.Stop()

		go func() {
			if err := <-stopped; err != nil {
				logger.Error(fmt.Sprintf("receiver stopped: %s", err.Error()))
			}
			cancel()
		}()

		rx = device
	}

	mon, err := monitor.New(mcfg, rx, switcher(sw), store, monitor.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating monitor: %w", err)
	}

	runErr := mon.Run(ctx)

	if config.Sweep.Snapshot != "" && (mcfg.Mode == monitor.ModeSweep || mcfg.Mode == monitor.ModeSweepFrequency) {
		if err := writeSnapshot(mon, config.Sweep.Snapshot); err != nil {
			logger.Warn("snapshot not written", slog.String("error", err.Error()))
		} else {
			logger.Info("snapshot written", slog.String("path", config.Sweep.Snapshot))
		}
	}

	return runErr
}

// switcher converts a possibly nil concrete switch into the interface the
// monitor accepts without producing a non-nil interface around a nil value.
func switcher(sw *hackrf.Switcher) sdr.Switcher {
	if sw == nil {
		return nil
	}
	return sw
}

func writeSnapshot(mon *monitor.Monitor, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = mon.WriteSnapshot(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func createStorage(config *StorageConfig) (storage.Store, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current working directory: %w", err)
	}

	dir := config.DataDirectory
	if dir == "" {
		dir = storageDir
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(wd, dir)
	}

	stat, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("storage directory '%s' is not usable: %w", dir, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("invalid storage directory '%s'", dir)
	}

	dbPath := filepath.Join(dir, fmt.Sprintf("sentry_session_%s.sqlite", time.Now().UTC().Format("20060102_150405")))
	return storage.NewSqliteStore(dbPath), nil
}
