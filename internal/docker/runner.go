package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/alessio/shellescape"
	"github.com/sirupsen/logrus"
)

// Result is the outcome of a command that ran to completion. A non-zero
// ExitCode is not an error: callers such as the readiness probe use the
// exit code itself as a signal.
type Result struct {
	ExitCode int
	Output   []byte
}

// Process is a command started without waiting for it.
type Process interface {
	// Pid returns the operating system process ID.
	Pid() int

	// Wait blocks until the process exits and returns its exit code. The
	// error is only set when the exit status could not be obtained.
	Wait() (int, error)
}

// Runner executes argument vectors built by CommandBuilder. It is the
// seam that lets the sidecar and workload packages be tested without a
// Docker daemon.
type Runner interface {
	// Run executes argv and waits for it. env, when non-nil, replaces the
	// child's environment. The error is only set when the command could
	// not be executed at all.
	Run(ctx context.Context, argv []string, env []string) (Result, error)

	// Start launches argv with the runner's standard streams and returns
	// immediately.
	Start(argv []string, env []string) (Process, error)
}

// ExecRunner is the os/exec implementation of Runner.
type ExecRunner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger logrus.FieldLogger
}

// NewExecRunner returns a runner wired to the current process' standard
// streams.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: logrus.StandardLogger(),
	}
}

// Run executes argv, capturing combined stdout and stderr.
func (r *ExecRunner) Run(ctx context.Context, argv []string, env []string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, fmt.Errorf("empty command")
	}
	r.logger().Debugf("running %s", shellescape.QuoteCommand(argv))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = env
	output, err := cmd.CombinedOutput()
	if err == nil {
		return Result{ExitCode: 0, Output: output}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{ExitCode: exitErr.ExitCode(), Output: output}, nil
	}
	return Result{ExitCode: -1, Output: output}, fmt.Errorf("failed to run %s: %w", argv[0], err)
}

// Start launches argv attached to the runner's streams.
func (r *ExecRunner) Start(argv []string, env []string) (Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	r.logger().Debugf("starting %s", shellescape.QuoteCommand(argv))

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}
	return &execProcess{cmd: cmd}, nil
}

func (r *ExecRunner) logger() logrus.FieldLogger {
	if r.Logger == nil {
		return logrus.StandardLogger()
	}
	return r.Logger
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
