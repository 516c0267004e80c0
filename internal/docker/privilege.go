package docker

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// CommandBuilder builds docker CLI argument vectors, prefixing them with
// sudo when the current user cannot write to the Docker control socket.
//
// The privilege decision is made lazily on first use and never recomputed:
// socket permissions do not change during a session, and every invocation
// of the session must agree on whether it escalates. Share one builder
// across all callers instead of creating one per call site.
type CommandBuilder struct {
	socketPath string

	// writable reports whether the current user may write to a socket.
	// It is a field so tests can substitute the filesystem check.
	writable func(path string) (exists bool, writable bool)

	once     sync.Once
	escalate bool
}

// NewCommandBuilder returns a builder that probes socketPath. An empty
// path (remote daemon, named pipe) never requires escalation.
func NewCommandBuilder(socketPath string) *CommandBuilder {
	return &CommandBuilder{
		socketPath: socketPath,
		writable:   socketWritable,
	}
}

// NeedsEscalation reports whether docker invocations are run through sudo.
func (b *CommandBuilder) NeedsEscalation() bool {
	b.once.Do(func() {
		if b.socketPath == "" {
			return
		}
		exists, writable := b.writable(b.socketPath)
		b.escalate = exists && !writable
		if b.escalate {
			logrus.Debugf("Docker socket %s is not writable, docker commands will run with sudo", b.socketPath)
		}
	})
	return b.escalate
}

// Docker returns the argv for "docker <args...>". When escalation is
// needed the command is prefixed with "sudo", or "sudo -E" when
// preserveEnv is set so that variables meant for the container survive
// the privilege change.
func (b *CommandBuilder) Docker(args []string, preserveEnv bool) []string {
	argv := make([]string, 0, len(args)+3)
	if b.NeedsEscalation() {
		argv = append(argv, "sudo")
		if preserveEnv {
			argv = append(argv, "-E")
		}
	}
	argv = append(argv, "docker")
	return append(argv, args...)
}

// Run returns the argv for "docker run <args...>".
func (b *CommandBuilder) Run(args []string, preserveEnv bool) []string {
	return b.Docker(append([]string{"run"}, args...), preserveEnv)
}
