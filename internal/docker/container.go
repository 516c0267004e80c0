// container.go implements Docker container lifecycle operations for podnet
// sessions: container naming, stopping (through the CLI or the SDK),
// and listing/grouping the containers a session left behind.
//
// Session containers are started with "docker run" through CommandBuilder
// because the sidecar and workload need the exact CLI semantics the user
// expects (user-supplied run flags are passed through verbatim). Stopping
// and listing only need a container name, so they can also go through the
// SDK when the socket is directly accessible.
package docker

import (
	"context"
	"fmt"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/shinji-kodama/podnet/internal/model"
)

// DefaultStopTimeout is the grace period, in seconds, given to session
// containers before they are killed. The sidecar and probe images handle
// SIGTERM promptly, so one second is enough.
const DefaultStopTimeout = 1

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// NewHandle generates a unique container handle for the given session and
// role. Names look like "podnet-sidecar-3f2a9c1b7d4e" and are never
// reused because they derive from a fresh random UUID.
func NewHandle(sessionID string, role model.Role) model.ContainerHandle {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return model.ContainerHandle{
		Name:      fmt.Sprintf("podnet-%s-%s", role, suffix),
		Role:      role,
		SessionID: sessionID,
	}
}

// Stopper stops a container by name. Implementations must treat a
// container that no longer exists as already stopped, because session
// containers run with --rm and may disappear at any time.
type Stopper interface {
	Stop(ctx context.Context, name string) error
}

// CLIStopper stops containers with "[sudo] docker stop --time=N name".
// It is used when the Docker socket requires privilege escalation, since
// the SDK cannot reach the daemon in that case.
type CLIStopper struct {
	Builder *CommandBuilder
	Runner  Runner
	// Timeout is the grace period in seconds passed to --time.
	Timeout int
}

// Stop implements Stopper.
func (s *CLIStopper) Stop(ctx context.Context, name string) error {
	argv := s.Builder.Docker([]string{"stop", fmt.Sprintf("--time=%d", s.Timeout), name}, false)
	res, err := s.Runner.Run(ctx, argv, nil)
	if err != nil {
		return fmt.Errorf("failed to stop container %q: %w", name, err)
	}
	if res.ExitCode != 0 {
		output := strings.TrimSpace(string(res.Output))
		if strings.Contains(output, "No such container") {
			return nil
		}
		return fmt.Errorf("docker stop %s exited with code %d: %s", name, res.ExitCode, output)
	}
	return nil
}

// SDKStopper stops containers through the Docker Engine API.
type SDKStopper struct {
	Client *Client
	// Timeout is the grace period in seconds.
	Timeout int
}

// Stop implements Stopper.
func (s *SDKStopper) Stop(ctx context.Context, name string) error {
	return StopContainer(ctx, s.Client, name, s.Timeout)
}

// StopContainer stops a running container by name or ID using the Docker
// SDK. It sends SIGTERM to the container's main process and kills it with
// SIGKILL when it does not exit within timeout seconds.
//
// A container that does not exist is treated as already stopped.
func StopContainer(ctx context.Context, cli *Client, nameOrID string, timeout int) error {
	err := cli.Inner().ContainerStop(ctx, nameOrID, container.StopOptions{Timeout: &timeout})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil
		}
		return model.WrapCLIError(
			model.ExitDockerNotRunning,
			fmt.Sprintf("failed to stop container %q", nameOrID),
			err,
		)
	}
	return nil
}

// ListManagedContainers queries the Docker daemon for all containers that
// carry the "podnet.managed-by=podnet" label, including stopped ones.
//
// This is how sessions are discovered: all state is derived from Docker
// labels rather than any external database.
func ListManagedContainers(ctx context.Context, cli *Client) ([]model.ContainerInfo, error) {
	// Docker performs the label filtering server-side.
	filterArgs := filters.NewArgs()
	for k, v := range FilterLabels() {
		filterArgs.Add("label", k+"="+v)
	}

	containers, err := cli.Inner().ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			"failed to list Docker containers",
			err,
		)
	}

	result := make([]model.ContainerInfo, 0, len(containers))
	for _, c := range containers {
		result = append(result, containerToInfo(c))
	}

	return result, nil
}

// containerToInfo converts a Docker API container summary to our domain
// model ContainerInfo. This is a pure mapping function with no side effects.
//
// The Docker API returns container names with a leading "/" prefix
// (e.g., "/podnet-sidecar-..."), which we strip for cleaner display.
func containerToInfo(c container.Summary) model.ContainerInfo {
	name := ""
	if len(c.Names) > 0 {
		name = strings.TrimPrefix(c.Names[0], "/")
	}

	// An unknown role label leaves Role empty; the container is still
	// listed so that it can be stopped.
	role, _ := model.ParseRole(c.Labels[LabelRole])

	return model.ContainerInfo{
		ContainerID:   c.ID,
		ContainerName: name,
		Role:          role,
		Status:        string(c.State),
		Labels:        c.Labels,
	}
}

// GroupContainersBySession groups containers by their "podnet.session"
// label. Containers without the label are skipped, since they cannot be
// attributed to any session.
func GroupContainersBySession(containers []model.ContainerInfo) map[string][]model.ContainerInfo {
	groups := make(map[string][]model.ContainerInfo)

	for _, c := range containers {
		id, ok := c.Labels[LabelSession]
		if !ok || id == "" {
			continue
		}
		groups[id] = append(groups[id], c)
	}

	return groups
}

// BuildSessionInfo reconstructs a session from the group of containers
// that belong to it. The metadata comes from the first container's labels;
// all containers of a session carry identical session labels.
func BuildSessionInfo(sessionID string, containers []model.ContainerInfo) (*model.SessionInfo, error) {
	if len(containers) == 0 {
		return nil, fmt.Errorf("cannot build session %q: no containers provided", sessionID)
	}

	meta, _, err := ParseLabels(containers[0].Labels)
	if err != nil {
		return nil, fmt.Errorf("failed to parse labels for session %q: %w", sessionID, err)
	}

	return &model.SessionInfo{
		SessionMeta: meta,
		Status:      determineStatus(containers),
		Containers:  containers,
	}, nil
}

// determineStatus calculates the aggregate status of a session:
//  1. Running: the sidecar is running
//  2. Degraded: the sidecar is gone but another container still runs
//  3. Stopped: nothing is running
func determineStatus(containers []model.ContainerInfo) model.SessionStatus {
	anyRunning := false
	for _, c := range containers {
		if c.Status != "running" {
			continue
		}
		if c.Role == model.RoleSidecar {
			return model.SessionRunning
		}
		anyRunning = true
	}
	if anyRunning {
		return model.SessionDegraded
	}
	return model.SessionStopped
}

// Lister lists the containers of all podnet sessions.
type Lister interface {
	List(ctx context.Context) ([]model.ContainerInfo, error)
}

// SDKLister lists containers through the Docker Engine API.
type SDKLister struct {
	Client *Client
}

// List implements Lister.
func (l *SDKLister) List(ctx context.Context) ([]model.ContainerInfo, error) {
	return ListManagedContainers(ctx, l.Client)
}

// CLILister lists containers with "[sudo] docker ps".
type CLILister struct {
	Builder *CommandBuilder
	Runner  Runner
}

// psEntry is one line of "docker ps --format '{{json .}}'".
type psEntry struct {
	ID     string `json:"ID"`
	Names  string `json:"Names"`
	Labels string `json:"Labels"`
	State  string `json:"State"`
}

// List implements Lister.
func (l *CLILister) List(ctx context.Context) ([]model.ContainerInfo, error) {
	args := []string{"ps", "--all", "--no-trunc", "--format={{json .}}"}
	for k, v := range FilterLabels() {
		args = append(args, "--filter=label="+k+"="+v)
	}

	res, err := l.Runner.Run(ctx, l.Builder.Docker(args, false), nil)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitDockerNotRunning, "failed to list Docker containers", err)
	}
	if res.ExitCode != 0 {
		return nil, model.WrapCLIError(model.ExitDockerNotRunning, "failed to list Docker containers",
			fmt.Errorf("docker ps exited with code %d: %s", res.ExitCode, strings.TrimSpace(string(res.Output))))
	}
	return parsePS(res.Output)
}

// parsePS decodes the output of "docker ps --format '{{json .}}'", one
// JSON object per line.
func parsePS(output []byte) ([]model.ContainerInfo, error) {
	var result []model.ContainerInfo
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var e psEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("failed to parse docker ps output: %w", err)
		}

		labels := make(map[string]string)
		for _, kv := range strings.Split(e.Labels, ",") {
			if k, v, ok := strings.Cut(kv, "="); ok {
				labels[k] = v
			}
		}
		name, _, _ := strings.Cut(e.Names, ",")
		role, _ := model.ParseRole(labels[LabelRole])

		result = append(result, model.ContainerInfo{
			ContainerID:   e.ID,
			ContainerName: name,
			Role:          role,
			Status:        e.State,
			Labels:        labels,
		})
	}
	return result, nil
}

// Engine bundles the ways podnet talks to the daemon outside of
// "docker run".
type Engine struct {
	Stopper
	Lister

	client *Client
}

// Close releases the SDK client, if one is in use.
func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

// Connect picks how session containers are stopped and listed. When
// docker must be run through sudo, or the SDK cannot reach the daemon,
// the CLI is used; otherwise the SDK client.
func Connect(ctx context.Context, builder *CommandBuilder, runner Runner, timeout int) *Engine {
	cliEngine := &Engine{
		Stopper: &CLIStopper{Builder: builder, Runner: runner, Timeout: timeout},
		Lister:  &CLILister{Builder: builder, Runner: runner},
	}
	if builder.NeedsEscalation() {
		return cliEngine
	}

	cli, err := NewClient()
	if err != nil {
		return cliEngine
	}
	if err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return cliEngine
	}
	return &Engine{
		Stopper: &SDKStopper{Client: cli, Timeout: timeout},
		Lister:  &SDKLister{Client: cli},
		client:  cli,
	}
}
