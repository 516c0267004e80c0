// Package dockertest provides a scripted docker.Runner for tests of the
// packages that launch containers.
package dockertest

import (
	"context"
	"slices"
	"sync"

	"github.com/shinji-kodama/podnet/internal/docker"
)

// Call records one invocation made through the fake runner.
type Call struct {
	Argv []string
	Env  []string
}

// Runner is a docker.Runner that records every command and answers with
// scripted results. It is safe for concurrent use.
type Runner struct {
	// RunFunc computes the result of a Run call. When nil, every command
	// succeeds with exit code 0 and no output.
	RunFunc func(argv []string) (docker.Result, error)

	// StartFunc computes the result of a Start call. When nil, a new
	// Process that has not exited yet is returned.
	StartFunc func(argv []string) (docker.Process, error)

	mu      sync.Mutex
	calls   []Call
	started []Call
}

// Run implements docker.Runner.
func (r *Runner) Run(_ context.Context, argv []string, env []string) (docker.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Argv: slices.Clone(argv), Env: slices.Clone(env)})
	fn := r.RunFunc
	r.mu.Unlock()

	if fn == nil {
		return docker.Result{}, nil
	}
	return fn(argv)
}

// Start implements docker.Runner.
func (r *Runner) Start(argv []string, env []string) (docker.Process, error) {
	r.mu.Lock()
	r.started = append(r.started, Call{Argv: slices.Clone(argv), Env: slices.Clone(env)})
	fn := r.StartFunc
	r.mu.Unlock()

	if fn == nil {
		return NewProcess(4242), nil
	}
	return fn(argv)
}

// Calls returns the Run invocations in order.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Started returns the Start invocations in order.
func (r *Runner) Started() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.started)
}

// CallsWith returns the Run invocations whose argv contains arg.
func (r *Runner) CallsWith(arg string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if slices.Contains(c.Argv, arg) {
			out = append(out, c)
		}
	}
	return out
}

// Process is a docker.Process whose exit is controlled by the test.
type Process struct {
	pid  int
	done chan struct{}
	once sync.Once
	code int
	err  error
}

// NewProcess returns a running fake process.
func NewProcess(pid int) *Process {
	return &Process{pid: pid, done: make(chan struct{})}
}

// Exit makes Wait return code. Only the first call has an effect.
func (p *Process) Exit(code int, err error) {
	p.once.Do(func() {
		p.code, p.err = code, err
		close(p.done)
	})
}

// Pid implements docker.Process.
func (p *Process) Pid() int {
	return p.pid
}

// Wait implements docker.Process.
func (p *Process) Wait() (int, error) {
	<-p.done
	return p.code, p.err
}
