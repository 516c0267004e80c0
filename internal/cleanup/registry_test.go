package cleanup

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/podnet/internal/model"
)

func newTestRegistry() *Registry {
	logger, _ := test.NewNullLogger()
	return NewRegistry(logger)
}

// TestRegistry_Order verifies actions run in registration order.
func TestRegistry_Order(t *testing.T) {
	r := newTestRegistry()

	var order []string
	for _, name := range []string{"sidecar", "workload", "probe"} {
		r.Register("stop "+name, ActionFunc(func(context.Context) error {
			order = append(order, name)
			return nil
		}))
	}

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"sidecar", "workload", "probe"}, order)
}

// TestRegistry_RunOnce verifies a second Run does not repeat actions but
// does run actions registered in between.
func TestRegistry_RunOnce(t *testing.T) {
	r := newTestRegistry()

	calls := map[string]int{}
	count := func(name string) Action {
		return ActionFunc(func(context.Context) error {
			calls[name]++
			return nil
		})
	}

	r.Register("first", count("first"))
	require.NoError(t, r.Run(context.Background()))
	require.NoError(t, r.Run(context.Background()))

	r.Register("late", count("late"))
	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, map[string]int{"first": 1, "late": 1}, calls)
	assert.Equal(t, 2, r.Len())
}

// TestRegistry_FailureIsolation verifies a failing or panicking action
// does not stop the remaining ones, and that every failure is reported.
func TestRegistry_FailureIsolation(t *testing.T) {
	r := newTestRegistry()

	ran := 0
	r.Register("Stop network container", ActionFunc(func(context.Context) error {
		return errors.New("daemon unreachable")
	}))
	r.Register("Panics", ActionFunc(func(context.Context) error {
		panic("boom")
	}))
	r.Register("Terminate local container", ActionFunc(func(context.Context) error {
		ran++
		return nil
	}))

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, ran)
	assert.Contains(t, err.Error(), "Stop network container: daemon unreachable")
	assert.Contains(t, err.Error(), "Panics: panic: boom")
}

func TestRegistry_Empty(t *testing.T) {
	assert.NoError(t, newTestRegistry().Run(context.Background()))
}

type fakeStopper struct {
	stopped []string
	err     error
}

func (s *fakeStopper) Stop(_ context.Context, name string) error {
	s.stopped = append(s.stopped, name)
	return s.err
}

type fakeProcess bool

func (p fakeProcess) Alive() bool { return bool(p) }

func TestStopContainer(t *testing.T) {
	stopper := &fakeStopper{}
	action := StopContainer{
		Handle:  model.ContainerHandle{Name: "podnet-sidecar-abc", Role: model.RoleSidecar},
		Stopper: stopper,
	}

	require.NoError(t, action.Run(context.Background()))
	assert.Equal(t, []string{"podnet-sidecar-abc"}, stopper.stopped)

	stopper.err = errors.New("permission denied")
	assert.Error(t, action.Run(context.Background()))
}

// TestTerminateWorkload_Alive verifies a running workload is stopped and
// both progress messages are written.
func TestTerminateWorkload_Alive(t *testing.T) {
	logger, hook := test.NewNullLogger()
	stopper := &fakeStopper{}
	action := TerminateWorkload{
		Handle:  model.ContainerHandle{Name: "podnet-workload-abc", Role: model.RoleWorkload},
		Process: fakeProcess(true),
		Stopper: stopper,
		Logger:  logger,
	}

	require.NoError(t, action.Run(context.Background()))

	assert.Equal(t, []string{"podnet-workload-abc"}, stopper.stopped)
	require.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, "Shutting down containers...", hook.AllEntries()[0].Message)
	assert.Equal(t, "Killing local container...", hook.AllEntries()[1].Message)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
}

// TestTerminateWorkload_Exited verifies nothing is stopped once the
// workload has exited on its own.
func TestTerminateWorkload_Exited(t *testing.T) {
	logger, hook := test.NewNullLogger()
	stopper := &fakeStopper{}
	action := TerminateWorkload{
		Handle:  model.ContainerHandle{Name: "podnet-workload-abc", Role: model.RoleWorkload},
		Process: fakeProcess(false),
		Stopper: stopper,
		Logger:  logger,
	}

	require.NoError(t, action.Run(context.Background()))

	assert.Empty(t, stopper.stopped)
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "Shutting down containers...", hook.LastEntry().Message)
}
