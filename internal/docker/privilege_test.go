package docker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBuilder returns a builder whose socket check reports the given
// existence and writability.
func newTestBuilder(exists, writable bool) *CommandBuilder {
	b := NewCommandBuilder("/var/run/docker.sock")
	b.writable = func(string) (bool, bool) { return exists, writable }
	return b
}

func TestCommandBuilder_NeedsEscalation(t *testing.T) {
	tests := []struct {
		name     string
		exists   bool
		writable bool
		expected bool
	}{
		{name: "writable socket", exists: true, writable: true, expected: false},
		{name: "read-only socket", exists: true, writable: false, expected: true},
		{name: "missing socket", exists: false, writable: false, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, newTestBuilder(tt.exists, tt.writable).NeedsEscalation())
		})
	}
}

// TestCommandBuilder_DecidesOnce verifies the socket is checked a single
// time, so every command of a session agrees on the prefix.
func TestCommandBuilder_DecidesOnce(t *testing.T) {
	checks := 0
	writable := false
	b := NewCommandBuilder("/var/run/docker.sock")
	b.writable = func(string) (bool, bool) {
		checks++
		return true, writable
	}

	assert.Equal(t, "sudo", b.Run([]string{"--rm", "alpine"}, false)[0])

	writable = true
	assert.Equal(t, "sudo", b.Docker([]string{"ps"}, false)[0])
	assert.Equal(t, 1, checks)
}

func TestCommandBuilder_EmptySocketPath(t *testing.T) {
	b := NewCommandBuilder("")
	b.writable = func(string) (bool, bool) {
		t.Fatal("socket check must not run without a socket path")
		return false, false
	}

	assert.False(t, b.NeedsEscalation())
	assert.Equal(t, []string{"docker", "ps"}, b.Docker([]string{"ps"}, true))
}

func TestCommandBuilder_Docker(t *testing.T) {
	args := []string{"--rm", "--name=x", "alpine"}

	plain := newTestBuilder(true, true)
	assert.Equal(t, []string{"docker", "run", "--rm", "--name=x", "alpine"}, plain.Run(args, true))

	sudo := newTestBuilder(true, false)
	assert.Equal(t, []string{"sudo", "docker", "run", "--rm", "--name=x", "alpine"}, sudo.Run(args, false))
	assert.Equal(t, []string{"sudo", "-E", "docker", "run", "--rm", "--name=x", "alpine"}, sudo.Run(args, true))

	// The caller's slice is not modified.
	assert.Equal(t, []string{"--rm", "--name=x", "alpine"}, args)
}

// TestSocketWritable exercises the real filesystem check against a file
// in a temporary directory.
func TestSocketWritable(t *testing.T) {
	dir := t.TempDir()

	exists, _ := socketWritable(filepath.Join(dir, "missing.sock"))
	assert.False(t, exists)

	path := filepath.Join(dir, "docker.sock")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	exists, writable := socketWritable(path)
	assert.True(t, exists)
	assert.True(t, writable)
}
