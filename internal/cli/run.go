// Package cli: run.go implements the "podnet run" command.
//
// The run command is the primary user-facing operation. It captures the
// environment of a remote container, starts a network sidecar tunnelled
// to the pod, runs the user's container inside the sidecar's network and
// waits for it to exit.
//
// Orchestration steps:
//  1. Validate flags and load the configuration file
//  2. Wire the docker, Kubernetes and cleanup plumbing
//  3. Start the session (see internal/session)
//  4. Wait for the workload or an interrupt
//  5. Tear everything down and exit with the workload's exit code
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/shinji-kodama/podnet/internal/cleanup"
	"github.com/shinji-kodama/podnet/internal/config"
	"github.com/shinji-kodama/podnet/internal/docker"
	"github.com/shinji-kodama/podnet/internal/envfile"
	"github.com/shinji-kodama/podnet/internal/model"
	"github.com/shinji-kodama/podnet/internal/port"
	"github.com/shinji-kodama/podnet/internal/remoteenv"
	"github.com/shinji-kodama/podnet/internal/session"
	"github.com/shinji-kodama/podnet/internal/sidecar"
	"github.com/shinji-kodama/podnet/internal/workload"
)

// dockerStartFailure is the exit code of "docker run" when the daemon
// could not create or start the container.
const dockerStartFailure = 125

// runFlags holds the flag values for the run command.
// These are bound to cobra flags in NewRunCommand.
type runFlags struct {
	pod        string
	container  string
	namespace  string
	kubeconfig string
	context    string

	tunnelPort int
	expose     []string
	alsoProxy  []string
	mountDir   string
	image      string

	envFile string
	envJSON string
	envYAML string
}

// NewRunCommand creates the "run" cobra command.
// It is called from NewRootCommand to register as a subcommand.
func NewRunCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run [flags] -- <docker run arguments>",
		Short: "Run a local container in a remote pod's network",
		Long: `Run a local Docker container with the environment and network of a
remote pod container.

Everything after "--" is passed to "docker run". Publish flags (-p,
--publish) are moved to the network sidecar. The command exits with the
exit code of the container.

Examples:
  podnet run --pod api-7d9f --tunnel-port 38022 -- --rm -it myapp:dev
  podnet run --pod api-7d9f --container api --namespace staging \
      --tunnel-port 38022 --expose 8080 --env-file app.env \
      -- --rm -p 8080:8080 myapp:dev`,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), flags, args)
		},
	}

	cmd.Flags().StringVar(&flags.pod, "pod", "", "Name of the remote pod (required)")
	cmd.Flags().StringVarP(&flags.container, "container", "c", "", "Container in the pod (default: the pod name)")
	cmd.Flags().StringVarP(&flags.namespace, "namespace", "n", "", "Kubernetes namespace (default: from kubeconfig)")
	cmd.Flags().StringVar(&flags.kubeconfig, "kubeconfig", "", "Path to the kubeconfig file")
	cmd.Flags().StringVar(&flags.context, "context", "", "Kubeconfig context to use")
	cmd.Flags().IntVar(&flags.tunnelPort, "tunnel-port", 0, "Local port of the SSH tunnel to the pod (required)")
	cmd.Flags().StringArrayVar(&flags.expose, "expose", nil, "Expose a local port to the pod as LOCAL[:REMOTE] (repeatable)")
	cmd.Flags().StringArrayVar(&flags.alsoProxy, "also-proxy", nil, "Additional IP or CIDR to route through the pod (repeatable)")
	cmd.Flags().StringVar(&flags.mountDir, "mount-dir", "", "Local directory holding the pod's filesystem, mounted into the container")
	cmd.Flags().StringVar(&flags.image, "image", "", "Network sidecar image (overrides the config file)")
	cmd.Flags().StringVar(&flags.envFile, "env-file", "", "Write the remote environment to this file in env file format")
	cmd.Flags().StringVar(&flags.envJSON, "env-json", "", "Write the remote environment to this file as JSON")
	cmd.Flags().StringVar(&flags.envYAML, "env-yaml", "", "Write the remote environment to this file as YAML")

	return cmd
}

// buildOptions validates the flags and turns them into session options.
func buildOptions(flags *runFlags, cfg config.Config, dockerArgs []string) (session.Options, error) {
	if flags.pod == "" {
		return session.Options{}, model.NewCLIError(model.ExitInvalidConfig, "--pod is required")
	}
	if flags.tunnelPort < 1 || flags.tunnelPort > 65535 {
		return session.Options{}, model.NewCLIError(model.ExitInvalidConfig,
			fmt.Sprintf("--tunnel-port must be between 1 and 65535, got %d", flags.tunnelPort))
	}
	if len(dockerArgs) == 0 {
		return session.Options{}, model.NewCLIError(model.ExitInvalidConfig,
			"missing docker run arguments (at least an image) after --")
	}

	container := flags.container
	if container == "" {
		container = flags.pod
	}

	expose := make([]model.PortMapping, 0, len(flags.expose))
	for _, e := range flags.expose {
		pm, err := model.ParsePortMapping(e)
		if err != nil {
			return session.Options{}, model.WrapCLIError(model.ExitInvalidConfig, "invalid --expose", err)
		}
		expose = append(expose, pm)
	}

	return session.Options{
		Target: model.RemoteTarget{
			Namespace:     flags.namespace,
			PodName:       flags.pod,
			ContainerName: container,
		},
		TunnelPort: flags.tunnelPort,
		Expose:     expose,
		AlsoProxy:  flags.alsoProxy,
		MountDir:   flags.mountDir,
		LoopbackIP: cfg.LoopbackIP,
		Exports: envfile.Targets{
			EnvFile: flags.envFile,
			JSON:    flags.envJSON,
			YAML:    flags.envYAML,
		},
		DockerArgs: dockerArgs,
	}, nil
}

// loadConfig reads the --config file, or the default one when present.
func loadConfig(fs afero.Fs) (config.Config, error) {
	if configPath != "" {
		return config.Load(fs, configPath, true)
	}
	return config.Load(fs, config.DefaultPath(), false)
}

// runRun is the main logic function for the run command.
func runRun(ctx context.Context, flags *runFlags, dockerArgs []string) (err error) {
	logger := logrus.StandardLogger()
	fs := afero.NewOsFs()

	// Step 1: Validate flags and load the configuration file.
	cfg, err := loadConfig(fs)
	if err != nil {
		return err
	}
	if flags.image != "" {
		cfg.Image = flags.image
	}
	opts, err := buildOptions(flags, cfg, dockerArgs)
	if err != nil {
		return err
	}

	// Step 2: Wire the plumbing. Interrupts cancel ctx; teardown uses a
	// context that survives the cancellation.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	builder := docker.NewCommandBuilder(docker.SocketPath())
	runner := docker.NewExecRunner()
	engine := docker.Connect(ctx, builder, runner, cfg.StopTimeoutSeconds)
	defer func() { _ = engine.Close() }()

	registry := cleanup.NewRegistry(logger)
	defer func() {
		if cleanupErr := registry.Run(context.WithoutCancel(ctx)); cleanupErr != nil {
			logger.Warnf("Cleanup did not complete: %v", cleanupErr)
		}
	}()

	executor, err := remoteenv.NewKubeExecutor(remoteenv.KubeOptions{
		Kubeconfig: flags.kubeconfig,
		Context:    flags.context,
		Namespace:  flags.namespace,
	})
	if err != nil {
		return model.WrapCLIError(model.ExitEnvCaptureFailed, "failed to connect to Kubernetes", err)
	}
	if opts.Target.Namespace == "" {
		opts.Target.Namespace = executor.Namespace()
	}

	sess := &session.Session{
		Meta: model.SessionMeta{
			ID:        docker.NewSessionID(),
			Target:    opts.Target,
			CreatedAt: time.Now(),
		},
		Snapshotter: &remoteenv.Snapshotter{
			Executor: executor,
			Attempts: cfg.Environment.Attempts,
			Interval: time.Duration(cfg.Environment.Interval),
			Logger:   logger,
		},
		Ports: port.NewScanner(),
		Sidecar: &sidecar.Launcher{
			Builder:  builder,
			Runner:   runner,
			Stopper:  engine,
			Cleanup:  registry,
			Image:    cfg.Image,
			Attempts: cfg.Readiness.Attempts,
			Interval: time.Duration(cfg.Readiness.Interval),
			Logger:   logger,
		},
		Workload: &workload.Attacher{
			Builder:      builder,
			Runner:       runner,
			Capabilities: &docker.Capabilities{Runner: runner},
			Stopper:      engine,
			Cleanup:      registry,
			Logger:       logger,
		},
		CIDRs:  session.StaticCIDRs{},
		FS:     fs,
		Logger: logger,
	}
	logger.Debugf("starting session %s for %s", sess.Meta.ID, opts.Target)

	// Step 3: Start the session.
	running, err := sess.Start(ctx, opts)
	if err != nil {
		return err
	}

	// Step 4: Wait for the workload or an interrupt.
	select {
	case <-running.Process.Done():
	case <-ctx.Done():
		return model.WrapCLIError(model.ExitUserCancelled, "interrupted", ctx.Err())
	}

	// Step 5: The deferred cleanup stops the sidecar.
	code, err := running.Process.Wait()
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to wait for the workload", err)
	}
	return workloadExitError(code)
}

// workloadExitError maps the exit code of the workload's "docker run"
// client to the error returned by the run command.
func workloadExitError(code int) error {
	switch code {
	case 0:
		return nil
	case dockerStartFailure:
		return model.WrapCLIError(model.ExitWorkloadStartFailed, "workload start failed",
			fmt.Errorf("docker run exited with code %d", code))
	default:
		return &ExitStatusError{Code: code}
	}
}
