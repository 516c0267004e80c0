package model

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Role identifies the part a container plays in a podnet session.
type Role string

const (
	// RoleSidecar is the privileged container that owns the network
	// namespace and runs the tunnel.
	RoleSidecar Role = "sidecar"

	// RoleWorkload is the user's container, attached to the sidecar's
	// network namespace.
	RoleWorkload Role = "workload"

	// RoleProbe is the short-lived readiness probe container.
	RoleProbe Role = "probe"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// IsValid reports whether r is one of the defined roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleSidecar, RoleWorkload, RoleProbe:
		return true
	default:
		return false
	}
}

// ParseRole converts a string to a Role, ignoring case.
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(s))
	if !role.IsValid() {
		return "", fmt.Errorf("invalid container role: %q (valid: sidecar, workload, probe)", s)
	}
	return role, nil
}

// PortMapping maps a port on the local machine to a port in the remote pod.
// On the wire (sidecar payload) it is encoded as a two-element array
// [local, remote].
type PortMapping struct {
	Local  int
	Remote int
}

// ParsePortMapping parses "LOCAL" or "LOCAL:REMOTE". When the remote port
// is omitted it defaults to the local port.
func ParsePortMapping(s string) (PortMapping, error) {
	localStr, remoteStr, found := strings.Cut(s, ":")
	if !found {
		remoteStr = localStr
	}

	local, err := parsePort(localStr)
	if err != nil {
		return PortMapping{}, fmt.Errorf("invalid port mapping %q: %w", s, err)
	}
	remote, err := parsePort(remoteStr)
	if err != nil {
		return PortMapping{}, fmt.Errorf("invalid port mapping %q: %w", s, err)
	}

	return PortMapping{Local: local, Remote: remote}, nil
}

// String returns the "LOCAL:REMOTE" form of the mapping.
func (p PortMapping) String() string {
	return fmt.Sprintf("%d:%d", p.Local, p.Remote)
}

// MarshalJSON encodes the mapping as [local, remote].
func (p PortMapping) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.Local, p.Remote})
}

// UnmarshalJSON decodes a [local, remote] pair.
func (p *PortMapping) UnmarshalJSON(data []byte) error {
	var pair [2]int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("port mapping must be a [local, remote] pair: %w", err)
	}
	p.Local, p.Remote = pair[0], pair[1]
	return nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("port %q is not a number", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range (1-65535)", port)
	}
	return port, nil
}

// SidecarConfig is the configuration handed to the network sidecar as its
// sole argument. It is built once per session with NewSidecarConfig and is
// not modified afterwards; the constructor copies its slice arguments so
// callers cannot mutate it through aliasing.
type SidecarConfig struct {
	// TunnelPort is the local port of the SSH tunnel the sidecar connects to.
	TunnelPort int `json:"port"`

	// ProxiedCIDRs lists the network ranges routed through the tunnel.
	ProxiedCIDRs []string `json:"cidrs"`

	// ExposedPorts lists local ports made reachable from the remote pod.
	ExposedPorts []PortMapping `json:"expose_ports"`

	// LoopbackOverride replaces the loopback address the sidecar uses to
	// reach the host. Empty means "use the sidecar's default".
	LoopbackOverride string `json:"ip,omitempty"`
}

// NewSidecarConfig validates its arguments and returns an immutable
// SidecarConfig.
func NewSidecarConfig(tunnelPort int, cidrs []string, exposed []PortMapping, loopback string) (SidecarConfig, error) {
	if tunnelPort < 1 || tunnelPort > 65535 {
		return SidecarConfig{}, fmt.Errorf("sidecar config: tunnel port %d out of range (1-65535)", tunnelPort)
	}

	copiedCIDRs := make([]string, 0, len(cidrs))
	for _, cidr := range cidrs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return SidecarConfig{}, fmt.Errorf("sidecar config: invalid CIDR %q: %w", cidr, err)
		}
		copiedCIDRs = append(copiedCIDRs, cidr)
	}

	copiedPorts := make([]PortMapping, 0, len(exposed))
	for _, pm := range exposed {
		if pm.Local < 1 || pm.Local > 65535 || pm.Remote < 1 || pm.Remote > 65535 {
			return SidecarConfig{}, fmt.Errorf("sidecar config: exposed port %s out of range (1-65535)", pm)
		}
		copiedPorts = append(copiedPorts, pm)
	}

	if loopback != "" && net.ParseIP(loopback) == nil {
		return SidecarConfig{}, fmt.Errorf("sidecar config: invalid loopback IP %q", loopback)
	}

	return SidecarConfig{
		TunnelPort:       tunnelPort,
		ProxiedCIDRs:     copiedCIDRs,
		ExposedPorts:     copiedPorts,
		LoopbackOverride: loopback,
	}, nil
}

// RemoteTarget identifies the pod container the session is anchored to.
type RemoteTarget struct {
	// Namespace is the Kubernetes namespace. Empty means the kubeconfig default.
	Namespace string `json:"namespace,omitempty"`

	PodName string `json:"podName"`

	ContainerName string `json:"containerName"`
}

// Validate checks that the pod and container names are set.
func (t RemoteTarget) Validate() error {
	if t.PodName == "" {
		return fmt.Errorf("remote target: pod name must not be empty")
	}
	if t.ContainerName == "" {
		return fmt.Errorf("remote target: container name must not be empty")
	}
	return nil
}

// String returns "namespace/pod/container", omitting an empty namespace.
func (t RemoteTarget) String() string {
	if t.Namespace == "" {
		return t.PodName + "/" + t.ContainerName
	}
	return t.Namespace + "/" + t.PodName + "/" + t.ContainerName
}

// EnvironmentMap maps environment variable names to values.
type EnvironmentMap map[string]string

// SortedKeys returns the keys in lexicographic order.
func (e EnvironmentMap) SortedKeys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of the map.
func (e EnvironmentMap) Clone() EnvironmentMap {
	out := make(EnvironmentMap, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Environ overlays the map on top of base, a list of "KEY=VALUE" entries
// such as os.Environ(), and returns the merged list. Entries of base whose
// key is present in the map are replaced.
func (e EnvironmentMap) Environ(base []string) []string {
	out := make([]string, 0, len(base)+len(e))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := e[key]; overridden {
			continue
		}
		out = append(out, kv)
	}
	for _, k := range e.SortedKeys() {
		out = append(out, k+"="+e[k])
	}
	return out
}

// ContainerHandle identifies a container started by a session. Names are
// generated fresh per session and never reused.
type ContainerHandle struct {
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	SessionID string `json:"sessionId"`
}

// SessionMeta is the session metadata stored on every container a session
// starts, so that sessions can be listed and cleaned up after a crash.
type SessionMeta struct {
	ID        string       `json:"id"`
	Target    RemoteTarget `json:"target"`
	CreatedAt time.Time    `json:"createdAt"`
}

// SessionStatus describes the aggregate state of a session's containers.
type SessionStatus string

const (
	// SessionRunning means the sidecar container is running.
	SessionRunning SessionStatus = "running"

	// SessionDegraded means the sidecar is gone but a workload is still
	// running, typically after a crash of the podnet process.
	SessionDegraded SessionStatus = "degraded"

	// SessionStopped means no container of the session is running.
	SessionStopped SessionStatus = "stopped"
)

// String returns the string representation of the status.
func (s SessionStatus) String() string {
	return string(s)
}

// SessionInfo is a session reconstructed from container labels.
type SessionInfo struct {
	SessionMeta
	Status     SessionStatus   `json:"status"`
	Containers []ContainerInfo `json:"containers,omitempty"`
}

// ContainerInfo holds runtime information about a single Docker container
// as reported by the Docker API.
type ContainerInfo struct {
	ContainerID string `json:"containerId"`

	ContainerName string `json:"containerName"`

	Role Role `json:"role,omitempty"`

	// Status is the Docker container state ("running", "exited", ...).
	Status string `json:"status"`

	Labels map[string]string `json:"labels,omitempty"`
}

// ExitCode represents the process exit code returned by the CLI.
type ExitCode int

const (
	ExitSuccess ExitCode = 0

	ExitGeneralError ExitCode = 1

	// ExitInvalidConfig covers invalid flags, arguments and config files.
	ExitInvalidConfig ExitCode = 2

	ExitDockerNotRunning ExitCode = 3

	// ExitPortConflict means a host port requested with --publish is in use.
	ExitPortConflict ExitCode = 4

	ExitSidecarStartFailed ExitCode = 5

	// ExitReadinessTimeout means the sidecar never reported ready within
	// the polling budget.
	ExitReadinessTimeout ExitCode = 6

	// ExitReadinessFailed means the readiness probe reported an
	// unexpected exit code.
	ExitReadinessFailed ExitCode = 7

	ExitWorkloadStartFailed ExitCode = 8

	ExitEnvCaptureFailed ExitCode = 9

	ExitSessionNotFound ExitCode = 10

	ExitUserCancelled ExitCode = 130
)

// CLIError is an error that carries a specific exit code. The CLI's
// Execute function checks for this type to set the correct process exit
// code and to print a single user-facing line.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description, naming the phase
	// that failed.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
