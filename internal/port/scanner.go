package port

import (
	"net"
	"strconv"
	"strings"
)

// Scanner checks whether specific ports are available on the host machine.
//
// It uses the operating system's network stack (net.Listen / net.ListenPacket)
// to determine if a port is free. This is the most reliable method because it
// asks the OS directly, rather than parsing /proc/net/* or relying on external
// commands like `lsof` or `ss` which may require elevated permissions.
type Scanner struct{}

// NewScanner creates a new Scanner instance.
func NewScanner() *Scanner {
	return &Scanner{}
}

// IsPortAvailable checks whether a single port is free on all interfaces.
//
// We bind to all interfaces (":port" rather than "127.0.0.1:port") because
// Docker publishes ports on 0.0.0.0 unless told otherwise, so we need to
// check the same address space to avoid false positives.
//
// Returns true if the port is free, false if it is already in use or invalid.
func (s *Scanner) IsPortAvailable(port int, protocol string) bool {
	return s.isBindable("", port, protocol)
}

// IsBindingAvailable checks a binding parsed from a publish flag. A binding
// with an IP is checked on that address only.
func (s *Scanner) IsBindingAvailable(b Binding) bool {
	return s.isBindable(b.IP, b.Port, b.Protocol)
}

func (s *Scanner) isBindable(ip string, port int, protocol string) bool {
	addr := net.JoinHostPort(ip, strconv.Itoa(port))

	switch protocol {
	case "tcp":
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return false
		}
		// We only needed to test availability, not accept connections.
		defer func() { _ = listener.Close() }()
		return true

	case "udp":
		// UDP is connectionless, so we use ListenPacket instead of Listen.
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return false
		}
		defer func() { _ = conn.Close() }()
		return true

	default:
		// Unknown protocol: treat as unavailable to fail safe.
		return false
	}
}

// Conflicts parses every publish flag and returns the host bindings that
// are already in use. publishArgs are the rendered "-p=<value>" flags (bare
// values are accepted too).
//
// Bindings without a fixed host port are left to Docker, and SCTP bindings
// are not checked because the Go network stack cannot probe them.
func (s *Scanner) Conflicts(publishArgs []string) ([]Binding, error) {
	var conflicts []Binding
	for _, arg := range publishArgs {
		value := strings.TrimPrefix(arg, "-p=")

		bindings, err := HostPorts(value)
		if err != nil {
			return nil, err
		}
		for _, b := range bindings {
			if b.Protocol == "sctp" {
				continue
			}
			if !s.IsBindingAvailable(b) {
				conflicts = append(conflicts, b)
			}
		}
	}
	return conflicts, nil
}

// FormatBindings renders bindings as a comma separated list for error
// messages, e.g. "8080/tcp, 127.0.0.1:5353/udp".
func FormatBindings(bindings []Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		parts = append(parts, b.String())
	}
	return strings.Join(parts, ", ")
}
