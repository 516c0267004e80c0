// Package cli: list.go implements the "podnet list" command.
//
// The list command displays the sessions that still have containers, by
// querying Docker for containers with the "podnet.managed-by=podnet"
// label. Containers are grouped by session and presented as a text table
// or JSON array, depending on the --json flag.
//
// Sessions normally disappear when "podnet run" exits. A listed session
// is either still running or was left behind by a crashed podnet process.
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

// shortIDLength is the number of session ID characters shown in tables.
const shortIDLength = 8

// listFlags holds the flag values for the list command.
type listFlags struct {
	// status filters sessions by state.
	// Valid values: "running", "degraded", "stopped", "all" (default).
	status string
}

// NewListCommand creates the "list" cobra command.
func NewListCommand() *cobra.Command {
	flags := &listFlags{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List podnet sessions",
		Long: `List the podnet sessions that have containers on this machine.

Each session is shown with its ID, remote target, status and the names
of its containers.

Examples:
  podnet list
  podnet list --status degraded
  podnet list --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.status, "status", "all",
		"Filter by status: running, degraded, stopped, all")

	return cmd
}

// runList is the main logic function for the list command.
func runList(ctx context.Context, flags *listFlags) error {
	// Step 1: Validate the --status flag value.
	if err := validateStatusFilter(flags.status); err != nil {
		return err
	}

	// Step 2: Connect to Docker.
	engine := docker.Connect(ctx,
		docker.NewCommandBuilder(docker.SocketPath()),
		docker.NewExecRunner(),
		config.DefaultStopTimeoutSeconds)
	defer func() { _ = engine.Close() }()

	// Step 3: Discover sessions from container labels.
	sessions, err := discoverSessions(ctx, engine)
	if err != nil {
		return err
	}

	// Step 4: Apply the filter and print.
	printListResult(filterSessions(sessions, flags.status))
	return nil
}

func validateStatusFilter(status string) error {
	switch status {
	case "all", model.SessionRunning.String(), model.SessionDegraded.String(), model.SessionStopped.String():
		return nil
	default:
		return model.NewCLIError(model.ExitInvalidConfig,
			fmt.Sprintf("invalid status filter %q: valid values are running, degraded, stopped, all", status))
	}
}

// discoverSessions lists the managed containers and rebuilds the sessions
// they belong to, oldest first.
func discoverSessions(ctx context.Context, lister docker.Lister) ([]*model.SessionInfo, error) {
	containers, err := lister.List(ctx)
	if err != nil {
		return nil, err
	}
	logrus.Debugf("found %d managed containers", len(containers))

	groups := docker.GroupContainersBySession(containers)

	sessions := make([]*model.SessionInfo, 0, len(groups))
	for id, group := range groups {
		info, err := docker.BuildSessionInfo(id, group)
		if err != nil {
			// A single container with broken labels must not hide the
			// other sessions.
			logrus.Warnf("skipping session %q: %v", id, err)
			continue
		}
		sessions = append(sessions, info)
	}

	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

// filterSessions keeps the sessions whose status matches. "all" keeps
// everything.
func filterSessions(sessions []*model.SessionInfo, status string) []*model.SessionInfo {
	if status == "all" {
		return sessions
	}
	filtered := make([]*model.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		if s.Status.String() == status {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// printListResult outputs the sessions in text or JSON format,
// depending on the global --json flag.
func printListResult(sessions []*model.SessionInfo) {
	if IsJSONOutput() {
		printListResultJSON(sessions)
	} else {
		printListResultText(sessions)
	}
}

// printListResultJSON outputs the sessions under a "sessions" key.
func printListResultJSON(sessions []*model.SessionInfo) {
	type resultJSON struct {
		Sessions []*model.SessionInfo `json:"sessions"`
	}

	// An empty slice instead of nil makes the output [] instead of null.
	result := resultJSON{Sessions: make([]*model.SessionInfo, 0, len(sessions))}
	result.Sessions = append(result.Sessions, sessions...)

	data, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(data))
}

// printListResultText outputs the sessions as a table:
//
//	SESSION   TARGET             STATUS    CREATED              CONTAINERS
//	3f2a9c1b  dev/api-7d9f/api   running   2026-02-28 10:00:00  podnet-sidecar-...,podnet-workload-...
func printListResultText(sessions []*model.SessionInfo) {
	if len(sessions) == 0 {
		fmt.Println("No podnet sessions found.")
		return
	}

	fmt.Printf("%-10s %-30s %-10s %-20s %s\n",
		"SESSION", "TARGET", "STATUS", "CREATED", "CONTAINERS")

	for _, s := range sessions {
		fmt.Printf("%-10s %-30s %-10s %-20s %s\n",
			shortID(s.ID),
			s.Target.String(),
			s.Status.String(),
			s.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			formatContainerNames(s.Containers),
		)
	}
}

// shortID truncates a session ID for display.
func shortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength]
}

// formatContainerNames joins the container names of a session, sidecar
// first. Returns "-" when there are none.
func formatContainerNames(containers []model.ContainerInfo) string {
	if len(containers) == 0 {
		return "-"
	}

	sorted := make([]model.ContainerInfo, len(containers))
	copy(sorted, containers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return roleOrder(sorted[i].Role) < roleOrder(sorted[j].Role)
	})

	names := make([]string, 0, len(sorted))
	for _, c := range sorted {
		names = append(names, c.ContainerName)
	}
	return strings.Join(names, ",")
}

func roleOrder(r model.Role) int {
	switch r {
	case model.RoleSidecar:
		return 0
	case model.RoleWorkload:
		return 1
	default:
		return 2
	}
}
