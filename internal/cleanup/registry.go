// Package cleanup holds the teardown actions of a podnet session.
//
// Every container a session starts is paired with an action that stops
// it, registered before or right after the container is launched. The
// registry runs the actions when the session ends, however it ends: a
// normal workload exit, a failed phase, or an interrupt.
package cleanup

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Action is a single teardown step.
type Action interface {
	Run(ctx context.Context) error
}

// ActionFunc adapts a plain function to Action.
type ActionFunc func(ctx context.Context) error

// Run implements Action.
func (f ActionFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Registrar accepts teardown actions. Components that start containers
// depend on it rather than on *Registry.
type Registrar interface {
	Register(label string, action Action)
}

type entry struct {
	label  string
	action Action
	done   bool
}

// Registry is an ordered list of run-once teardown actions. It is safe
// for concurrent use, so a signal handler may trigger Run while the
// session is still registering actions.
type Registry struct {
	logger logrus.FieldLogger

	mu      sync.Mutex
	entries []*entry
}

// NewRegistry returns an empty registry.
func NewRegistry(logger logrus.FieldLogger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{logger: logger}
}

// Register appends an action. label is a short human readable
// description used in logs and errors, e.g. "Stop network container".
func (r *Registry) Register(label string, action Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, &entry{label: label, action: action})
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Run invokes every action that has not run yet, in registration order.
// A failing action does not prevent the following ones from running; all
// failures are returned together. Calling Run again only runs actions
// registered since the previous call.
//
// ctx should not be the session context: teardown must still happen
// after the session was cancelled.
func (r *Registry) Run(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result *multierror.Error
	for _, e := range r.entries {
		if e.done {
			continue
		}
		e.done = true

		r.logger.Debugf("cleanup: %s", e.label)
		if err := runSafely(ctx, e.action); err != nil {
			r.logger.WithError(err).Debugf("cleanup %q failed", e.label)
			result = multierror.Append(result, fmt.Errorf("%s: %w", e.label, err))
		}
	}
	return result.ErrorOrNil()
}

// runSafely turns a panicking action into an error so it cannot abort the
// rest of the teardown.
func runSafely(ctx context.Context, action Action) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return action.Run(ctx)
}
