// Package cli: stop.go implements the "podnet stop" command.
//
// The stop command stops every container of a session, for sessions left
// behind by a podnet process that could not clean up (killed, crashed or
// lost its terminal). The workload is stopped before the sidecar so it
// never runs without its network.
package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/podnet/internal/config"
	"github.com/shinji-kodama/podnet/internal/docker"
	"github.com/shinji-kodama/podnet/internal/model"
)

// NewStopCommand creates the "stop" cobra command.
func NewStopCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <session>",
		Short: "Stop a podnet session",
		Long: `Stop all containers of the given session.

The session can be given by its full ID or by any unique prefix, such as
the short ID printed by "podnet list". Session containers run with --rm,
so stopping them also removes them.

Examples:
  podnet stop 3f2a9c1b
  podnet stop --json 3f2a9c1b`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd.Context(), args[0])
		},
	}

	return cmd
}

// runStop is the main logic function for the stop command.
func runStop(ctx context.Context, query string) error {
	// Step 1: Connect to Docker.
	engine := docker.Connect(ctx,
		docker.NewCommandBuilder(docker.SocketPath()),
		docker.NewExecRunner(),
		config.DefaultStopTimeoutSeconds)
	defer func() { _ = engine.Close() }()

	// Step 2: Find the session.
	sessions, err := discoverSessions(ctx, engine)
	if err != nil {
		return err
	}
	session, err := matchSession(sessions, query)
	if err != nil {
		return err
	}

	// Step 3: Stop its containers.
	stopped, err := stopSession(ctx, engine, session)
	if err != nil {
		return err
	}

	// Step 4: Output the result.
	printStopResult(session, stopped)
	return nil
}

// matchSession finds the session whose ID equals query or, failing that,
// the single session whose ID starts with it.
func matchSession(sessions []*model.SessionInfo, query string) (*model.SessionInfo, error) {
	if query == "" {
		return nil, model.NewCLIError(model.ExitInvalidConfig, "session ID must not be empty")
	}

	var matches []*model.SessionInfo
	for _, s := range sessions {
		if s.ID == query {
			return s, nil
		}
		if strings.HasPrefix(s.ID, query) {
			matches = append(matches, s)
		}
	}

	switch len(matches) {
	case 0:
		return nil, model.NewCLIError(model.ExitSessionNotFound,
			fmt.Sprintf("session %q not found", query))
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ID)
		}
		return nil, model.NewCLIError(model.ExitInvalidConfig,
			fmt.Sprintf("session %q is ambiguous, it matches: %s", query, strings.Join(ids, ", ")))
	}
}

// stopSession stops the running containers of a session, workload first,
// and returns the names of the containers it stopped.
func stopSession(ctx context.Context, stopper docker.Stopper, session *model.SessionInfo) ([]string, error) {
	containers := make([]model.ContainerInfo, len(session.Containers))
	copy(containers, session.Containers)
	sort.SliceStable(containers, func(i, j int) bool {
		return stopOrder(containers[i].Role) < stopOrder(containers[j].Role)
	})

	stopped := make([]string, 0, len(containers))
	for _, c := range containers {
		if c.Status != "running" {
			continue
		}
		logrus.Debugf("stopping %s container %s", c.Role, c.ContainerName)
		if err := stopper.Stop(ctx, c.ContainerName); err != nil {
			return stopped, model.WrapCLIError(model.ExitDockerNotRunning,
				fmt.Sprintf("failed to stop container %q", c.ContainerName), err)
		}
		stopped = append(stopped, c.ContainerName)
	}
	return stopped, nil
}

func stopOrder(r model.Role) int {
	switch r {
	case model.RoleWorkload:
		return 0
	case model.RoleProbe:
		return 1
	case model.RoleSidecar:
		return 2
	default:
		return 3
	}
}

// printStopResult outputs the stop command result in text or JSON format.
func printStopResult(session *model.SessionInfo, stopped []string) {
	if IsJSONOutput() {
		result := map[string]any{
			"session":    session.ID,
			"target":     session.Target,
			"action":     "stopped",
			"containers": stopped,
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("Stopped session %s (%s, %d containers)\n",
		shortID(session.ID), session.Target, len(stopped))
}
