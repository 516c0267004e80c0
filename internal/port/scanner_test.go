package port

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listenTCP starts a TCP listener on an OS-assigned port and returns the port.
// The listener is closed when the test completes.
func listenTCP(t *testing.T) int {
	t.Helper()
	// ":0" lets the OS pick a free port, which avoids flakiness from
	// hardcoded port numbers.
	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err, "failed to start test listener")
	t.Cleanup(func() { _ = listener.Close() })

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return tcpAddr.Port
}

// freeTCPPort returns a port that was free a moment ago.
func freeTCPPort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

// TestIsPortAvailable_FreePort verifies that IsPortAvailable returns true
// for a port that no process is currently using.
func TestIsPortAvailable_FreePort(t *testing.T) {
	scanner := NewScanner()

	port := freeTCPPort(t)
	assert.True(t, scanner.IsPortAvailable(port, "tcp"), "port %d should be available", port)
}

// TestIsPortAvailable_UsedPort verifies that IsPortAvailable returns false
// when a port is already bound by another listener.
func TestIsPortAvailable_UsedPort(t *testing.T) {
	port := listenTCP(t)

	scanner := NewScanner()
	assert.False(t, scanner.IsPortAvailable(port, "tcp"), "port %d should be in use", port)
}

// TestIsPortAvailable_UDP verifies UDP port scanning works correctly.
func TestIsPortAvailable_UDP(t *testing.T) {
	conn, err := net.ListenPacket("udp", ":0")
	require.NoError(t, err, "failed to start test UDP listener")
	defer func() { _ = conn.Close() }()

	udpAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	require.True(t, ok)

	scanner := NewScanner()
	assert.False(t, scanner.IsPortAvailable(udpAddr.Port, "udp"), "UDP port %d should be in use", udpAddr.Port)
}

// TestIsPortAvailable_UnknownProtocol verifies that an unrecognized protocol
// string causes IsPortAvailable to return false (fail-safe behavior).
func TestIsPortAvailable_UnknownProtocol(t *testing.T) {
	scanner := NewScanner()
	assert.False(t, scanner.IsPortAvailable(50000, "sctp"), "unknown protocol should return false (fail-safe)")
}

// TestConflicts reports only the publish flags whose host port is taken.
func TestConflicts(t *testing.T) {
	used := listenTCP(t)
	free := freeTCPPort(t)

	scanner := NewScanner()
	conflicts, err := scanner.Conflicts([]string{
		fmt.Sprintf("-p=%d:80", used),
		fmt.Sprintf("-p=%d:81", free),
		"-p=82",
	})
	require.NoError(t, err)

	require.Len(t, conflicts, 1)
	assert.Equal(t, Binding{Port: used, Protocol: "tcp"}, conflicts[0])
}

func TestConflicts_BareValues(t *testing.T) {
	used := listenTCP(t)

	conflicts, err := NewScanner().Conflicts([]string{fmt.Sprintf("%d:80/tcp", used)})
	require.NoError(t, err)
	assert.Len(t, conflicts, 1)
}

// TestConflicts_UDPIndependent verifies a TCP listener does not make the
// same UDP port look taken.
func TestConflicts_UDPIndependent(t *testing.T) {
	used := listenTCP(t)

	conflicts, err := NewScanner().Conflicts([]string{fmt.Sprintf("-p=%d:53/udp", used)})
	require.NoError(t, err)
	// The UDP port may coincidentally be in use elsewhere; a TCP conflict
	// must never be reported for it.
	for _, c := range conflicts {
		assert.Equal(t, "udp", c.Protocol)
	}
}

func TestConflicts_SkipsSCTP(t *testing.T) {
	conflicts, err := NewScanner().Conflicts([]string{"-p=9000:9000/sctp"})
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestConflicts_InvalidValue(t *testing.T) {
	_, err := NewScanner().Conflicts([]string{"-p=http:80"})
	assert.Error(t, err)
}

func TestFormatBindings(t *testing.T) {
	got := FormatBindings([]Binding{
		{Port: 8080, Protocol: "tcp"},
		{IP: "127.0.0.1", Port: 5353, Protocol: "udp"},
		{IP: "::1", Port: 9000, Protocol: "tcp"},
	})
	assert.Equal(t, "8080/tcp, 127.0.0.1:5353/udp, [::1]:9000/tcp", got)
}
