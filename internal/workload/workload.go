// Package workload starts the user's container inside the network
// namespace of a session's sidecar.
//
// The workload is started with "docker run --network=container:<sidecar>"
// and sees the remote pod's environment. Variable names are passed as
// bare "-e=KEY" flags and the values travel only through the environment
// of the docker client process, so secrets never show up in the process
// table.
package workload

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/shinji-kodama/podnet/internal/cleanup"
	"github.com/shinji-kodama/podnet/internal/docker"
	"github.com/shinji-kodama/podnet/internal/model"
)

// MethodEnvVar tells the workload how it was started.
const (
	MethodEnvVar   = "TELEPRESENCE_METHOD"
	MethodEnvValue = "container"
)

// Options describes one workload container.
type Options struct {
	// Sidecar is the container whose network namespace is joined.
	Sidecar model.ContainerHandle

	// Env is the environment made visible inside the container.
	Env model.EnvironmentMap

	// MountDir, when set, is bind-mounted at the same path.
	MountDir string

	Labels map[string]string

	// Args are the user's "docker run" arguments with the publish flags
	// already removed (see PartitionPublishArgs). They end with the image
	// and optional command.
	Args []string
}

// Attacher starts workload containers.
type Attacher struct {
	Builder      *docker.CommandBuilder
	Runner       docker.Runner
	Capabilities *docker.Capabilities
	Stopper      docker.Stopper
	Cleanup      cleanup.Registrar

	// Environ returns the base environment of the docker client process.
	// Defaults to os.Environ.
	Environ func() []string

	Logger logrus.FieldLogger
}

// BuildArgs returns the argv starting the workload and the environment of
// the docker client process.
//
// The argv has the form
//
//	[sudo -E] docker run --name=N --network=container:S <labels> -e=KEY... [--volume=D:D] [--init] <args>
//
// with keys sorted. --init is only added when the user did not pass it and
// the installed docker supports it.
func (a *Attacher) BuildArgs(ctx context.Context, handle model.ContainerHandle, opts Options) ([]string, []string) {
	env := opts.Env.Clone()
	env[MethodEnvVar] = MethodEnvValue

	args := []string{
		"--name=" + handle.Name,
		"--network=container:" + opts.Sidecar.Name,
	}
	args = append(args, docker.LabelArgs(opts.Labels)...)
	for _, key := range env.SortedKeys() {
		args = append(args, "-e="+key)
	}
	if opts.MountDir != "" {
		args = append(args, fmt.Sprintf("--volume=%s:%s", opts.MountDir, opts.MountDir))
	}
	if !HasInitFlag(opts.Args) && a.Capabilities.SupportsInit(ctx) {
		args = append(args, "--init")
	}
	args = append(args, opts.Args...)

	// sudo -E keeps the variables for the docker client across the
	// privilege change.
	argv := a.Builder.Run(args, true)
	return argv, env.Environ(a.environ())
}

// Start launches the workload and returns without waiting for it. The
// cleanup action terminating the workload is registered once the process
// is running.
func (a *Attacher) Start(ctx context.Context, handle model.ContainerHandle, opts Options) (*Process, error) {
	argv, env := a.BuildArgs(ctx, handle, opts)

	a.logger().WithField("container", handle.Name).Info("Starting local container...")
	proc, err := a.Runner.Start(argv, env)
	if err != nil {
		return nil, fmt.Errorf("failed to start container %s: %w", handle.Name, err)
	}

	p := newProcess(proc)
	a.Cleanup.Register("Terminate local container", cleanup.TerminateWorkload{
		Handle:  handle,
		Process: p,
		Stopper: a.Stopper,
		Logger:  a.logger(),
	})
	return p, nil
}

func (a *Attacher) environ() []string {
	if a.Environ == nil {
		return os.Environ()
	}
	return a.Environ()
}

func (a *Attacher) logger() logrus.FieldLogger {
	if a.Logger == nil {
		return logrus.StandardLogger()
	}
	return a.Logger
}

// Process is a running workload. A single goroutine waits for the docker
// client process so that Alive and Wait can be called any number of
// times from any goroutine.
type Process struct {
	proc docker.Process

	done chan struct{}
	code int
	err  error
}

func newProcess(proc docker.Process) *Process {
	p := &Process{proc: proc, done: make(chan struct{})}
	go func() {
		p.code, p.err = proc.Wait()
		close(p.done)
	}()
	return p
}

// Pid returns the process ID of the docker client.
func (p *Process) Pid() int {
	return p.proc.Pid()
}

// Wait blocks until the workload exits and returns its exit code.
func (p *Process) Wait() (int, error) {
	<-p.done
	return p.code, p.err
}

// Done returns a channel closed when the workload has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Alive reports whether the workload is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}
