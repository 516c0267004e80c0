package docker

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/podnet/internal/model"
)

// scriptedRunner is a minimal Runner for tests in this package. It records
// every argv and answers Run with a fixed result.
type scriptedRunner struct {
	result Result
	err    error
	calls  [][]string
}

func (r *scriptedRunner) Run(_ context.Context, argv []string, _ []string) (Result, error) {
	r.calls = append(r.calls, argv)
	return r.result, r.err
}

func (r *scriptedRunner) Start(argv []string, _ []string) (Process, error) {
	r.calls = append(r.calls, argv)
	return nil, errors.New("not supported")
}

// makeTestContainer creates a model.ContainerInfo carrying the labels of
// the given session and role.
func makeTestContainer(id, name string, role model.Role, status, sessionID string) model.ContainerInfo {
	return model.ContainerInfo{
		ContainerID:   id,
		ContainerName: name,
		Role:          role,
		Status:        status,
		Labels: map[string]string{
			LabelManagedBy: ManagedByValue,
			LabelSession:   sessionID,
			LabelRole:      role.String(),
			LabelPod:       "api-0",
			LabelContainer: "api",
			LabelCreatedAt: "2026-02-28T10:00:00Z",
		},
	}
}

func TestNewHandle(t *testing.T) {
	h := NewHandle("session-1", model.RoleSidecar)

	assert.Regexp(t, regexp.MustCompile(`^podnet-sidecar-[0-9a-f]{12}$`), h.Name)
	assert.Equal(t, model.RoleSidecar, h.Role)
	assert.Equal(t, "session-1", h.SessionID)
}

// TestNewHandle_Unique verifies container names are never reused, even
// for the same session and role.
func TestNewHandle_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		h := NewHandle("session-1", model.RoleWorkload)
		require.False(t, seen[h.Name], "duplicate container name %s", h.Name)
		seen[h.Name] = true
	}
}

// TestGroupContainersBySession verifies that containers of two sessions
// are separated by their session label.
func TestGroupContainersBySession(t *testing.T) {
	containers := []model.ContainerInfo{
		makeTestContainer("aaa111", "podnet-sidecar-a", model.RoleSidecar, "running", "alpha"),
		makeTestContainer("bbb222", "podnet-workload-a", model.RoleWorkload, "running", "alpha"),
		makeTestContainer("ccc333", "podnet-sidecar-b", model.RoleSidecar, "exited", "beta"),
	}

	groups := GroupContainersBySession(containers)

	require.Len(t, groups, 2)
	assert.Len(t, groups["alpha"], 2)
	assert.Len(t, groups["beta"], 1)
	assert.Equal(t, "ccc333", groups["beta"][0].ContainerID)
}

func TestGroupContainersBySession_Empty(t *testing.T) {
	groups := GroupContainersBySession(nil)
	assert.NotNil(t, groups)
	assert.Empty(t, groups)
}

// TestGroupContainersBySession_SkipsNoLabel verifies containers without a
// session label are not attributed to any session.
func TestGroupContainersBySession_SkipsNoLabel(t *testing.T) {
	unlabeled := makeTestContainer("ddd444", "stray", model.RoleWorkload, "running", "")
	delete(unlabeled.Labels, LabelSession)

	groups := GroupContainersBySession([]model.ContainerInfo{
		unlabeled,
		makeTestContainer("eee555", "podnet-sidecar-c", model.RoleSidecar, "running", "gamma"),
	})

	require.Len(t, groups, 1)
	assert.Contains(t, groups, "gamma")
}

func TestBuildSessionInfo(t *testing.T) {
	containers := []model.ContainerInfo{
		makeTestContainer("aaa111", "podnet-sidecar-a", model.RoleSidecar, "running", "alpha"),
		makeTestContainer("bbb222", "podnet-workload-a", model.RoleWorkload, "running", "alpha"),
	}

	info, err := BuildSessionInfo("alpha", containers)
	require.NoError(t, err)

	assert.Equal(t, "alpha", info.ID)
	assert.Equal(t, "api-0", info.Target.PodName)
	assert.Equal(t, "api", info.Target.ContainerName)
	assert.Equal(t, model.SessionRunning, info.Status)
	assert.Len(t, info.Containers, 2)
}

func TestBuildSessionInfo_NoContainers(t *testing.T) {
	_, err := BuildSessionInfo("alpha", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no containers")
}

func TestBuildSessionInfo_BadLabels(t *testing.T) {
	c := makeTestContainer("aaa111", "podnet-sidecar-a", model.RoleSidecar, "running", "alpha")
	delete(c.Labels, LabelPod)

	_, err := BuildSessionInfo("alpha", []model.ContainerInfo{c})
	require.Error(t, err)
	assert.Contains(t, err.Error(), LabelPod)
}

func TestDetermineStatus(t *testing.T) {
	tests := []struct {
		name       string
		containers []model.ContainerInfo
		expected   model.SessionStatus
	}{
		{
			name: "sidecar running",
			containers: []model.ContainerInfo{
				makeTestContainer("a", "s", model.RoleSidecar, "running", "x"),
				makeTestContainer("b", "w", model.RoleWorkload, "exited", "x"),
			},
			expected: model.SessionRunning,
		},
		{
			name: "only workload running",
			containers: []model.ContainerInfo{
				makeTestContainer("a", "s", model.RoleSidecar, "exited", "x"),
				makeTestContainer("b", "w", model.RoleWorkload, "running", "x"),
			},
			expected: model.SessionDegraded,
		},
		{
			name: "nothing running",
			containers: []model.ContainerInfo{
				makeTestContainer("a", "s", model.RoleSidecar, "exited", "x"),
				makeTestContainer("b", "w", model.RoleWorkload, "created", "x"),
			},
			expected: model.SessionStopped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, determineStatus(tt.containers))
		})
	}
}

// TestCLIStopper verifies the stop command line, including the sudo
// prefix when the socket is not writable.
func TestCLIStopper(t *testing.T) {
	runner := &scriptedRunner{}
	builder := newTestBuilder(true, false)
	stopper := &CLIStopper{Builder: builder, Runner: runner, Timeout: 1}

	require.NoError(t, stopper.Stop(context.Background(), "podnet-sidecar-abc"))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"sudo", "docker", "stop", "--time=1", "podnet-sidecar-abc"}, runner.calls[0])
}

// TestCLIStopper_AlreadyGone verifies that a container removed by --rm
// counts as stopped.
func TestCLIStopper_AlreadyGone(t *testing.T) {
	runner := &scriptedRunner{result: Result{
		ExitCode: 1,
		Output:   []byte("Error response from daemon: No such container: podnet-sidecar-abc\n"),
	}}
	stopper := &CLIStopper{Builder: newTestBuilder(true, true), Runner: runner, Timeout: 1}

	assert.NoError(t, stopper.Stop(context.Background(), "podnet-sidecar-abc"))
}

func TestCLIStopper_Failure(t *testing.T) {
	runner := &scriptedRunner{result: Result{ExitCode: 1, Output: []byte("permission denied")}}
	stopper := &CLIStopper{Builder: newTestBuilder(true, true), Runner: runner, Timeout: 1}

	err := stopper.Stop(context.Background(), "podnet-sidecar-abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")

	runner = &scriptedRunner{err: errors.New("docker: executable file not found")}
	stopper = &CLIStopper{Builder: newTestBuilder(true, true), Runner: runner, Timeout: 1}
	assert.Error(t, stopper.Stop(context.Background(), "podnet-sidecar-abc"))
}

func TestCLILister(t *testing.T) {
	out := `{"ID":"aaa111","Names":"podnet-sidecar-abc","Labels":"podnet.managed-by=podnet,podnet.session=s1,podnet.role=sidecar,podnet.pod=api-0,podnet.container=api,podnet.created-at=2026-02-28T10:00:00Z","State":"running"}
{"ID":"bbb222","Names":"podnet-workload-def","Labels":"podnet.managed-by=podnet,podnet.session=s1,podnet.role=workload","State":"exited"}
`
	runner := &scriptedRunner{result: Result{Output: []byte(out)}}
	lister := &CLILister{Builder: newTestBuilder(true, false), Runner: runner}

	containers, err := lister.List(context.Background())
	require.NoError(t, err)
	require.Len(t, containers, 2)

	assert.Equal(t, "aaa111", containers[0].ContainerID)
	assert.Equal(t, "podnet-sidecar-abc", containers[0].ContainerName)
	assert.Equal(t, model.RoleSidecar, containers[0].Role)
	assert.Equal(t, "running", containers[0].Status)
	assert.Equal(t, "2026-02-28T10:00:00Z", containers[0].Labels[LabelCreatedAt])
	assert.Equal(t, model.RoleWorkload, containers[1].Role)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{
		"sudo", "docker", "ps", "--all", "--no-trunc", "--format={{json .}}",
		"--filter=label=podnet.managed-by=podnet",
	}, runner.calls[0])
}

func TestCLILister_Errors(t *testing.T) {
	runner := &scriptedRunner{result: Result{ExitCode: 1, Output: []byte("Cannot connect to the Docker daemon")}}
	lister := &CLILister{Builder: newTestBuilder(true, true), Runner: runner}

	_, err := lister.List(context.Background())
	var cliErr *model.CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, model.ExitDockerNotRunning, cliErr.Code)

	runner = &scriptedRunner{result: Result{Output: []byte("not json\n")}}
	lister = &CLILister{Builder: newTestBuilder(true, true), Runner: runner}
	_, err = lister.List(context.Background())
	assert.Error(t, err)
}

// TestConnect_Escalated verifies that the CLI is used whenever docker has
// to run through sudo, without touching the SDK.
func TestConnect_Escalated(t *testing.T) {
	engine := Connect(context.Background(), newTestBuilder(true, false), &scriptedRunner{}, 3)
	defer func() { _ = engine.Close() }()

	assert.IsType(t, &CLIStopper{}, engine.Stopper)
	assert.IsType(t, &CLILister{}, engine.Lister)
	assert.Equal(t, 3, engine.Stopper.(*CLIStopper).Timeout)
}
