// Package remoteenv captures the environment of a container running in a
// remote Kubernetes pod.
//
// The capture runs a short python3 one-liner inside the container through
// the pod exec API. Right after a session starts, the connection to the
// cluster may still be settling, so the capture is retried a few times
// with a short fixed pause.
package remoteenv

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/shinji-kodama/podnet/internal/model"
)

const (
	// DefaultAttempts is the number of capture attempts before giving up.
	DefaultAttempts = 10

	// DefaultInterval is the pause between two capture attempts.
	DefaultInterval = 250 * time.Millisecond
)

// Keys added to every snapshot to tell the local process where its
// environment came from.
const (
	PodEnvVar       = "TELEPRESENCE_POD"
	ContainerEnvVar = "TELEPRESENCE_CONTAINER"
)

// captureCommand prints the container's environment as a JSON object.
var captureCommand = []string{
	"python3", "-c", "import json, os; print(json.dumps(dict(os.environ)))",
}

// imageKeys are set by the container image rather than by Kubernetes and
// would only confuse the local workload.
var imageKeys = []string{"HOME", "PATH", "HOSTNAME"}

// Executor runs a command in a remote container and returns its standard
// output. A non-zero exit status is an error.
type Executor interface {
	Exec(ctx context.Context, target model.RemoteTarget, command []string) ([]byte, error)
}

// Snapshotter captures remote environments with a bounded retry.
type Snapshotter struct {
	Executor Executor

	Attempts int
	Interval time.Duration

	// Sleep pauses between attempts. Tests replace it to avoid real waits.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger logrus.FieldLogger
}

// Snapshot returns the environment of the target container.
//
// Exec failures and unparseable output are retried; once every attempt
// has failed the last cause is returned wrapped in a "failed to get
// environment variables" error. The result never contains HOME, PATH or
// HOSTNAME and always contains TELEPRESENCE_POD and TELEPRESENCE_CONTAINER.
func (s *Snapshotter) Snapshot(ctx context.Context, target model.RemoteTarget) (model.EnvironmentMap, error) {
	attempts := s.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := s.logger().WithField("target", target.String())

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		env, err := s.capture(ctx, target)
		if err == nil {
			return env, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		logger.WithError(err).Debugf("environment capture %d/%d failed", attempt, attempts)

		if attempt < attempts {
			if err := s.sleep(ctx, interval); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("failed to get environment variables: %w", lastErr)
}

func (s *Snapshotter) capture(ctx context.Context, target model.RemoteTarget) (model.EnvironmentMap, error) {
	output, err := s.Executor.Exec(ctx, target, captureCommand)
	if err != nil {
		return nil, err
	}

	var remote map[string]string
	if err := json.Unmarshal(output, &remote); err != nil {
		return nil, fmt.Errorf("failed to parse remote environment: %w", err)
	}
	return FromRemote(remote, target), nil
}

// FromRemote turns a raw remote environment into the environment handed to
// the local workload.
func FromRemote(remote map[string]string, target model.RemoteTarget) model.EnvironmentMap {
	env := make(model.EnvironmentMap, len(remote)+2)
	for k, v := range remote {
		env[k] = v
	}
	for _, k := range imageKeys {
		delete(env, k)
	}
	env[PodEnvVar] = target.PodName
	env[ContainerEnvVar] = target.ContainerName
	return env
}

func (s *Snapshotter) sleep(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Snapshotter) logger() logrus.FieldLogger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}
