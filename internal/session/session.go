// Package session drives one podnet session from start to the running
// workload.
//
// The phases run strictly in order:
//
//  1. Capture the remote container's environment
//  2. Export it to the requested files
//  3. Move the publish flags from the workload to the sidecar
//  4. Check that the published host ports are free
//  5. Start the network sidecar and wait until it is ready
//  6. Start the workload in the sidecar's network namespace
//
// Every container is paired with a cleanup action as it is started. The
// session never runs the cleanup itself: its owner does, whatever the
// outcome, once the workload has exited or a phase has failed.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/shinji-kodama/podnet/internal/docker"
	"github.com/shinji-kodama/podnet/internal/envfile"
	"github.com/shinji-kodama/podnet/internal/model"
	"github.com/shinji-kodama/podnet/internal/port"
	"github.com/shinji-kodama/podnet/internal/sidecar"
	"github.com/shinji-kodama/podnet/internal/workload"
)

// EnvSnapshotter captures the remote environment.
type EnvSnapshotter interface {
	Snapshot(ctx context.Context, target model.RemoteTarget) (model.EnvironmentMap, error)
}

// PortChecker reports published host ports that are already taken.
type PortChecker interface {
	Conflicts(publishArgs []string) ([]port.Binding, error)
}

// SidecarLauncher starts the network sidecar and waits for it.
type SidecarLauncher interface {
	Launch(ctx context.Context, handle model.ContainerHandle, cfg model.SidecarConfig, publishArgs []string, labels map[string]string) error
	WaitReady(ctx context.Context, sidecar model.ContainerHandle, labels map[string]string) error
}

// WorkloadStarter starts the user's container.
type WorkloadStarter interface {
	Start(ctx context.Context, handle model.ContainerHandle, opts workload.Options) (*workload.Process, error)
}

// CIDRSource decides which network ranges are routed through the tunnel.
type CIDRSource interface {
	ProxyCIDRs(ctx context.Context, target model.RemoteTarget, alsoProxy []string) ([]string, error)
}

// Options are the user's choices for one session.
type Options struct {
	Target     model.RemoteTarget
	TunnelPort int
	Expose     []model.PortMapping
	AlsoProxy  []string
	MountDir   string
	LoopbackIP string
	Exports    envfile.Targets

	// DockerArgs are the user's "docker run" arguments, including publish
	// flags, image and command.
	DockerArgs []string
}

// Session wires the phases together.
type Session struct {
	Meta model.SessionMeta

	Snapshotter EnvSnapshotter
	Ports       PortChecker
	Sidecar     SidecarLauncher
	Workload    WorkloadStarter
	CIDRs       CIDRSource

	// FS receives the environment exports.
	FS afero.Fs

	Logger logrus.FieldLogger
}

// Running is a started session.
type Running struct {
	Sidecar  model.ContainerHandle
	Workload model.ContainerHandle
	Process  *workload.Process
	Env      model.EnvironmentMap
}

// Start runs the phases up to the workload start and returns without
// waiting for the workload. Every error is a *model.CLIError naming the
// phase that failed.
func (s *Session) Start(ctx context.Context, opts Options) (*Running, error) {
	logger := s.logger().WithField("session", s.Meta.ID)

	// Step 1: remote environment.
	logger.Debugf("capturing environment of %s", opts.Target)
	env, err := s.Snapshotter.Snapshot(ctx, opts.Target)
	if err != nil {
		return nil, phaseError(model.ExitEnvCaptureFailed, "environment capture failed", err)
	}

	// Step 2: exports never fail the session.
	if !opts.Exports.Empty() {
		envfile.Export(s.FS, opts.Exports, env, logger)
	}

	// Step 3: publish flags belong to the sidecar.
	rest, publishArgs, err := workload.PartitionPublishArgs(opts.DockerArgs)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidConfig, "invalid docker run arguments", err)
	}

	// Step 4: port pre-flight.
	if len(publishArgs) > 0 {
		conflicts, err := s.Ports.Conflicts(publishArgs)
		if err != nil {
			return nil, model.WrapCLIError(model.ExitInvalidConfig, "invalid publish flag", err)
		}
		if len(conflicts) > 0 {
			return nil, model.NewCLIError(model.ExitPortConflict,
				"port conflict: host ports already in use: "+port.FormatBindings(conflicts))
		}
	}

	// Step 5: sidecar.
	cidrs, err := s.CIDRs.ProxyCIDRs(ctx, opts.Target, opts.AlsoProxy)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidConfig, "invalid proxied network range", err)
	}
	cfg, err := model.NewSidecarConfig(opts.TunnelPort, cidrs, opts.Expose, opts.LoopbackIP)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitInvalidConfig, "invalid sidecar configuration", err)
	}

	sidecarHandle := docker.NewHandle(s.Meta.ID, model.RoleSidecar)
	sidecarLabels := docker.BuildLabels(s.Meta, model.RoleSidecar)
	if err := s.Sidecar.Launch(ctx, sidecarHandle, cfg, publishArgs, sidecarLabels); err != nil {
		return nil, phaseError(model.ExitSidecarStartFailed, "sidecar start failed", err)
	}

	if err := s.Sidecar.WaitReady(ctx, sidecarHandle, docker.BuildLabels(s.Meta, model.RoleProbe)); err != nil {
		var probeErr *sidecar.ProbeFailedError
		switch {
		case errors.Is(err, sidecar.ErrReadinessTimeout):
			return nil, phaseError(model.ExitReadinessTimeout, "readiness timeout", err)
		case errors.As(err, &probeErr):
			return nil, phaseError(model.ExitReadinessFailed, "readiness probe failed", err)
		default:
			return nil, phaseError(model.ExitReadinessFailed, "readiness check failed", err)
		}
	}

	// Step 6: workload.
	workloadHandle := docker.NewHandle(s.Meta.ID, model.RoleWorkload)
	proc, err := s.Workload.Start(ctx, workloadHandle, workload.Options{
		Sidecar:  sidecarHandle,
		Env:      env,
		MountDir: opts.MountDir,
		Labels:   docker.BuildLabels(s.Meta, model.RoleWorkload),
		Args:     rest,
	})
	if err != nil {
		return nil, phaseError(model.ExitWorkloadStartFailed, "workload start failed", err)
	}

	return &Running{
		Sidecar:  sidecarHandle,
		Workload: workloadHandle,
		Process:  proc,
		Env:      env,
	}, nil
}

// phaseError wraps a phase failure, reporting interruptions as such
// rather than as a failure of whichever phase was running.
func phaseError(code model.ExitCode, message string, err error) *model.CLIError {
	if errors.Is(err, context.Canceled) {
		return model.WrapCLIError(model.ExitUserCancelled, "interrupted", err)
	}
	return model.WrapCLIError(code, message, err)
}

func (s *Session) logger() logrus.FieldLogger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}

// StaticCIDRs routes exactly the ranges the user asked for. Bare IP
// addresses become single-host ranges.
type StaticCIDRs struct{}

// ProxyCIDRs implements CIDRSource.
func (StaticCIDRs) ProxyCIDRs(_ context.Context, _ model.RemoteTarget, alsoProxy []string) ([]string, error) {
	cidrs := make([]string, 0, len(alsoProxy))
	for _, entry := range alsoProxy {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", entry, err)
			}
			cidrs = append(cidrs, entry)
			continue
		}

		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("%q is neither an IP address nor a CIDR", entry)
		}
		if ip.To4() != nil {
			cidrs = append(cidrs, ip.String()+"/32")
		} else {
			cidrs = append(cidrs, ip.String()+"/128")
		}
	}
	return cidrs, nil
}
