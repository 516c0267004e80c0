// Package sidecar starts the privileged network container of a session and
// waits until its tunnel is up.
//
// The sidecar owns the network namespace the workload later joins. It is
// started detached, then polled with short-lived probe containers that
// share its namespace; the probe's exit code tells whether the tunnel is
// ready, not yet reachable, or broken.
package sidecar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/shinji-kodama/podnet/internal/cleanup"
	"github.com/shinji-kodama/podnet/internal/docker"
	"github.com/shinji-kodama/podnet/internal/model"
)

const (
	// DefaultAttempts is the number of readiness probes before giving up.
	DefaultAttempts = 120

	// DefaultInterval is the pause between two readiness probes.
	DefaultInterval = time.Second
)

// Launcher starts sidecar containers and polls them for readiness.
type Launcher struct {
	Builder *docker.CommandBuilder
	Runner  docker.Runner
	Stopper docker.Stopper
	Cleanup cleanup.Registrar

	// Image is the sidecar image; it provides the "proxy" and "wait"
	// commands.
	Image string

	Attempts int
	Interval time.Duration

	// Sleep pauses between probes. Tests replace it to avoid real waits.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger logrus.FieldLogger
}

// Launch starts the sidecar container described by cfg.
//
// publishArgs are the "-p=" flags taken from the user's docker run
// arguments: the sidecar owns the network namespace, so ports must be
// published on it. The cleanup action stopping the container is
// registered before the launch result is looked at, so a container that
// was created but reported an error is still stopped.
func (l *Launcher) Launch(ctx context.Context, handle model.ContainerHandle, cfg model.SidecarConfig, publishArgs []string, labels map[string]string) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode sidecar config: %w", err)
	}

	args := make([]string, 0, len(publishArgs)+len(labels)+8)
	args = append(args, publishArgs...)
	args = append(args, "--detach", "--rm", "--privileged", "--name="+handle.Name)
	args = append(args, docker.LabelArgs(labels)...)
	args = append(args, l.Image, "proxy", string(payload))
	argv := l.Builder.Run(args, false)

	l.Cleanup.Register("Stop network container", cleanup.StopContainer{Handle: handle, Stopper: l.Stopper})

	l.logger().WithField("container", handle.Name).Info("Starting network container...")
	res, err := l.Runner.Run(ctx, argv, nil)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		return fmt.Errorf("failed to start network container %s: %w", handle.Name, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("network container %s exited with code %d: %s",
			handle.Name, res.ExitCode, strings.TrimSpace(string(res.Output)))
	}
	return nil
}

// WaitReady polls the sidecar until it reports ready.
//
// Each attempt runs a probe container in the sidecar's network namespace.
// It returns nil on the first ready probe, a *ProbeFailedError as soon as
// a probe reports an unexpected exit code, and ErrReadinessTimeout once
// all attempts are used up. There is no pause after the last attempt.
func (l *Launcher) WaitReady(ctx context.Context, sidecar model.ContainerHandle, labels map[string]string) error {
	args := []string{"--network=container:" + sidecar.Name, "--rm"}
	args = append(args, docker.LabelArgs(labels)...)
	args = append(args, l.Image, "wait")
	argv := l.Builder.Run(args, false)

	logger := l.logger().WithField("container", sidecar.Name)
	attempts := l.attempts()

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := l.Runner.Run(ctx, argv, nil)
		// A probe killed by the cancellation is not a probe failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return fmt.Errorf("failed to run readiness probe: %w", err)
		}

		result := ClassifyProbe(res.ExitCode)
		logger.Debugf("readiness probe %d/%d: exit code %d (%s)", attempt, attempts, res.ExitCode, result.Outcome)

		switch result.Outcome {
		case ProbeReady:
			logger.Info("Network container is ready")
			return nil
		case ProbeHardFail:
			return &ProbeFailedError{ExitCode: result.ExitCode}
		}

		if attempt < attempts {
			if err := l.sleep(ctx, l.interval()); err != nil {
				return err
			}
		}
	}

	return ErrReadinessTimeout
}

func (l *Launcher) attempts() int {
	if l.Attempts <= 0 {
		return DefaultAttempts
	}
	return l.Attempts
}

func (l *Launcher) interval() time.Duration {
	if l.Interval <= 0 {
		return DefaultInterval
	}
	return l.Interval
}

func (l *Launcher) sleep(ctx context.Context, d time.Duration) error {
	if l.Sleep != nil {
		return l.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

func (l *Launcher) logger() logrus.FieldLogger {
	if l.Logger == nil {
		return logrus.StandardLogger()
	}
	return l.Logger
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
