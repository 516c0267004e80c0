package cleanup

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/shinji-kodama/podnet/internal/docker"
	"github.com/shinji-kodama/podnet/internal/model"
)

// StopContainer stops a session container. The container may already be
// gone (all session containers run with --rm); that counts as success.
type StopContainer struct {
	Handle  model.ContainerHandle
	Stopper docker.Stopper
}

// Run implements Action.
func (a StopContainer) Run(ctx context.Context) error {
	return a.Stopper.Stop(ctx, a.Handle.Name)
}

// AliveChecker reports whether a started process is still running.
type AliveChecker interface {
	Alive() bool
}

// TerminateWorkload stops the workload container, but only if the local
// "docker run" process attached to it has not exited on its own.
type TerminateWorkload struct {
	Handle  model.ContainerHandle
	Process AliveChecker
	Stopper docker.Stopper
	Logger  logrus.FieldLogger
}

// Run implements Action.
func (a TerminateWorkload) Run(ctx context.Context) error {
	logger := a.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	logger.Info("Shutting down containers...")
	if a.Process == nil || !a.Process.Alive() {
		return nil
	}
	logger.Info("Killing local container...")
	return a.Stopper.Stop(ctx, a.Handle.Name)
}
