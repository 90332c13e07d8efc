//go:build linux

package sdr

import (
	"os/exec"
)

// FindRuntime locates an external SDR tool on the PATH.
func FindRuntime(runtime string) (string, error) {
	return exec.LookPath(runtime)
}
