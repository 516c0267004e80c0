package remoteenv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/podnet/internal/model"
)

var testTarget = model.RemoteTarget{Namespace: "staging", PodName: "api-7d9f", ContainerName: "api"}

// fakeExecutor answers successive Exec calls from a script. The last
// response repeats once the script is exhausted.
type fakeExecutor struct {
	responses []fakeResponse
	calls     int
	commands  [][]string
	targets   []model.RemoteTarget
}

type fakeResponse struct {
	output string
	err    error
}

func (f *fakeExecutor) Exec(_ context.Context, target model.RemoteTarget, command []string) ([]byte, error) {
	f.commands = append(f.commands, command)
	f.targets = append(f.targets, target)
	r := f.responses[len(f.responses)-1]
	if f.calls < len(f.responses) {
		r = f.responses[f.calls]
	}
	f.calls++
	return []byte(r.output), r.err
}

func newSnapshotter(exec Executor, sleeps *[]time.Duration) *Snapshotter {
	logger, _ := test.NewNullLogger()
	return &Snapshotter{
		Executor: exec,
		Sleep: func(_ context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		},
		Logger: logger,
	}
}

func TestSnapshot(t *testing.T) {
	exec := &fakeExecutor{responses: []fakeResponse{{
		output: `{"HOME": "/root", "PATH": "/usr/bin", "HOSTNAME": "api-7d9f", "DB_HOST": "db.staging", "KUBERNETES_SERVICE_HOST": "10.96.0.1"}` + "\n",
	}}}
	var sleeps []time.Duration

	env, err := newSnapshotter(exec, &sleeps).Snapshot(context.Background(), testTarget)
	require.NoError(t, err)

	assert.Equal(t, model.EnvironmentMap{
		"DB_HOST":                 "db.staging",
		"KUBERNETES_SERVICE_HOST": "10.96.0.1",
		"TELEPRESENCE_POD":        "api-7d9f",
		"TELEPRESENCE_CONTAINER":  "api",
	}, env)
	assert.Equal(t, [][]string{{"python3", "-c", "import json, os; print(json.dumps(dict(os.environ)))"}}, exec.commands)
	assert.Equal(t, testTarget, exec.targets[0])
	assert.Empty(t, sleeps)
}

// TestSnapshot_SyntheticKeysWin verifies the identifying keys are always
// the session's, even when the remote container defines them.
func TestSnapshot_SyntheticKeysWin(t *testing.T) {
	exec := &fakeExecutor{responses: []fakeResponse{{
		output: `{"TELEPRESENCE_POD": "other", "TELEPRESENCE_CONTAINER": "other"}`,
	}}}
	var sleeps []time.Duration

	env, err := newSnapshotter(exec, &sleeps).Snapshot(context.Background(), testTarget)
	require.NoError(t, err)
	assert.Equal(t, "api-7d9f", env[PodEnvVar])
	assert.Equal(t, "api", env[ContainerEnvVar])
}

// TestSnapshot_RetriesUntilSuccess verifies exec failures and truncated
// output are absorbed while attempts remain.
func TestSnapshot_RetriesUntilSuccess(t *testing.T) {
	exec := &fakeExecutor{responses: []fakeResponse{
		{err: errors.New("error dialing backend: EOF")},
		{output: `{"DB_HO`},
		{output: `{"DB_HOST": "db"}`},
	}}
	var sleeps []time.Duration

	env, err := newSnapshotter(exec, &sleeps).Snapshot(context.Background(), testTarget)
	require.NoError(t, err)

	assert.Equal(t, "db", env["DB_HOST"])
	assert.Equal(t, 3, exec.calls)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond}, sleeps)
}

// TestSnapshot_Exhausted verifies the budget of ten attempts and the
// user-facing error wrapping the last cause.
func TestSnapshot_Exhausted(t *testing.T) {
	cause := errors.New("command terminated with exit code 127")
	exec := &fakeExecutor{responses: []fakeResponse{{err: cause}}}
	var sleeps []time.Duration

	_, err := newSnapshotter(exec, &sleeps).Snapshot(context.Background(), testTarget)

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to get environment variables")
	assert.Equal(t, 10, exec.calls)
	assert.Len(t, sleeps, 9)
}

func TestSnapshot_CustomBudget(t *testing.T) {
	exec := &fakeExecutor{responses: []fakeResponse{{err: errors.New("unreachable")}}}
	var sleeps []time.Duration
	s := newSnapshotter(exec, &sleeps)
	s.Attempts = 2
	s.Interval = time.Second

	_, err := s.Snapshot(context.Background(), testTarget)
	require.Error(t, err)
	assert.Equal(t, 2, exec.calls)
	assert.Equal(t, []time.Duration{time.Second}, sleeps)
}

func TestSnapshot_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &fakeExecutor{responses: []fakeResponse{{err: errors.New("unreachable")}}}
	var sleeps []time.Duration
	s := newSnapshotter(exec, &sleeps)
	s.Sleep = func(context.Context, time.Duration) error {
		cancel()
		return nil
	}

	_, err := s.Snapshot(ctx, testTarget)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, exec.calls)
}

func TestFromRemote(t *testing.T) {
	remote := map[string]string{"HOME": "/root", "A": "1"}

	env := FromRemote(remote, testTarget)

	assert.Equal(t, model.EnvironmentMap{
		"A":                      "1",
		"TELEPRESENCE_POD":       "api-7d9f",
		"TELEPRESENCE_CONTAINER": "api",
	}, env)
	assert.Contains(t, remote, "HOME", "the input map is not modified")
}
