package sidecar

import (
	"errors"
	"fmt"
)

// Exit codes of the "wait" command of the sidecar image.
const (
	// ProbeExitReady means the tunnel inside the sidecar is up.
	ProbeExitReady = 100

	// ProbeExitRetry is what "docker run" itself returns when it cannot
	// start the probe, typically because the sidecar's network namespace
	// does not exist yet.
	ProbeExitRetry = 125
)

// ProbeOutcome is the interpretation of one readiness probe.
type ProbeOutcome int

const (
	// ProbeRetry means the sidecar is not ready yet; the attempt is
	// consumed and polling continues.
	ProbeRetry ProbeOutcome = iota

	// ProbeReady means the sidecar is ready; polling stops.
	ProbeReady

	// ProbeHardFail means the probe reported something unexpected.
	// Polling stops immediately with a ProbeFailedError.
	ProbeHardFail
)

// String returns the outcome name used in logs.
func (o ProbeOutcome) String() string {
	switch o {
	case ProbeRetry:
		return "retry"
	case ProbeReady:
		return "ready"
	case ProbeHardFail:
		return "hard-fail"
	default:
		return fmt.Sprintf("ProbeOutcome(%d)", int(o))
	}
}

// ProbeResult is the tagged result of a readiness probe. ExitCode carries
// the raw code, which matters for ProbeHardFail.
type ProbeResult struct {
	Outcome  ProbeOutcome
	ExitCode int
}

// ClassifyProbe maps the exit code of a readiness probe to its outcome.
//
// Exit code 0 is a hard failure: the wait command never exits cleanly, so
// a zero exit means something other than the sidecar image answered.
func ClassifyProbe(exitCode int) ProbeResult {
	switch exitCode {
	case ProbeExitReady:
		return ProbeResult{Outcome: ProbeReady, ExitCode: exitCode}
	case ProbeExitRetry:
		return ProbeResult{Outcome: ProbeRetry, ExitCode: exitCode}
	default:
		return ProbeResult{Outcome: ProbeHardFail, ExitCode: exitCode}
	}
}

// ErrReadinessTimeout is returned when the sidecar did not become ready
// within the polling budget.
var ErrReadinessTimeout = errors.New("timed out waiting for the network container to become ready")

// ProbeFailedError is returned when a readiness probe exits with a code
// that is neither "ready" nor "retry".
type ProbeFailedError struct {
	ExitCode int
}

func (e *ProbeFailedError) Error() string {
	if e.ExitCode == 0 {
		return "readiness probe exited prematurely with code 0"
	}
	return fmt.Sprintf("readiness probe failed with exit code %d", e.ExitCode)
}
