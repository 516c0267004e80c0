package port

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Binding is one host port requested by a publish flag.
type Binding struct {
	// IP is the host address to bind, or "" for all interfaces.
	IP string

	Port int

	// Protocol is "tcp", "udp" or "sctp".
	Protocol string
}

// String returns "[ip:]port/proto".
func (b Binding) String() string {
	if b.IP == "" {
		return fmt.Sprintf("%d/%s", b.Port, b.Protocol)
	}
	return fmt.Sprintf("%s/%s", net.JoinHostPort(b.IP, strconv.Itoa(b.Port)), b.Protocol)
}

// HostPorts parses a "docker run --publish" value and returns the host
// bindings it requests. The accepted format is Docker's:
//
//	[ip:][hostPort[-end]:]containerPort[-end][/protocol]
//
// IPv6 addresses must be enclosed in brackets. A value without a host port
// (e.g. "80" or "127.0.0.1::80") lets Docker pick an ephemeral port and
// yields no bindings.
func HostPorts(value string) ([]Binding, error) {
	mapping, protocol, hasProto := strings.Cut(value, "/")
	if !hasProto {
		protocol = "tcp"
	}
	protocol = strings.ToLower(protocol)
	switch protocol {
	case "tcp", "udp", "sctp":
	default:
		return nil, fmt.Errorf("invalid publish value %q: unknown protocol %q", value, protocol)
	}

	ip, hostPart, containerPart, err := splitPublish(mapping)
	if err != nil {
		return nil, fmt.Errorf("invalid publish value %q: %w", value, err)
	}

	if _, _, err := parseRange(containerPart); err != nil {
		return nil, fmt.Errorf("invalid publish value %q: container port: %w", value, err)
	}
	if hostPart == "" {
		return nil, nil
	}

	start, end, err := parseRange(hostPart)
	if err != nil {
		return nil, fmt.Errorf("invalid publish value %q: host port: %w", value, err)
	}

	bindings := make([]Binding, 0, end-start+1)
	for p := start; p <= end; p++ {
		bindings = append(bindings, Binding{IP: ip, Port: p, Protocol: protocol})
	}
	return bindings, nil
}

// splitPublish separates the address, host port and container port parts.
func splitPublish(mapping string) (ip, hostPart, containerPart string, err error) {
	if strings.HasPrefix(mapping, "[") {
		closing := strings.Index(mapping, "]")
		if closing < 0 {
			return "", "", "", fmt.Errorf("unterminated IPv6 address")
		}
		ip = mapping[1:closing]
		rest, ok := strings.CutPrefix(mapping[closing+1:], ":")
		if !ok {
			return "", "", "", fmt.Errorf("missing port after IPv6 address")
		}
		hostPart, containerPart, ok = strings.Cut(rest, ":")
		if !ok {
			return "", "", "", fmt.Errorf("missing container port")
		}
		return ip, hostPart, containerPart, nil
	}

	parts := strings.Split(mapping, ":")
	switch len(parts) {
	case 1:
		return "", "", parts[0], nil
	case 2:
		return "", parts[0], parts[1], nil
	case 3:
		return parts[0], parts[1], parts[2], nil
	default:
		return "", "", "", fmt.Errorf("too many colons (IPv6 addresses must be bracketed)")
	}
}

// parseRange parses "port" or "start-end".
func parseRange(s string) (int, int, error) {
	startStr, endStr, isRange := strings.Cut(s, "-")
	start, err := parseHostPort(startStr)
	if err != nil {
		return 0, 0, err
	}
	if !isRange {
		return start, start, nil
	}
	end, err := parseHostPort(endStr)
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("range %q ends before it starts", s)
	}
	return start, end, nil
}

func parseHostPort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a port number", s)
	}
	if p < 1 || p > 65535 {
		return 0, fmt.Errorf("port %d out of range (1-65535)", p)
	}
	return p, nil
}
