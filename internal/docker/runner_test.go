//go:build !windows

package docker

import (
	"bytes"
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecRunner(stdout *bytes.Buffer) *ExecRunner {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	return &ExecRunner{Stdout: stdout, Stderr: stdout, Logger: logger}
}

func TestExecRunner_Run(t *testing.T) {
	r := newTestExecRunner(&bytes.Buffer{})

	res, err := r.Run(context.Background(), []string{"sh", "-c", "echo ready; exit 100"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 100, res.ExitCode)
	assert.Equal(t, "ready\n", string(res.Output))
}

// TestExecRunner_Run_Env verifies a non-nil env replaces the child's
// environment.
func TestExecRunner_Run_Env(t *testing.T) {
	r := newTestExecRunner(&bytes.Buffer{})

	res, err := r.Run(context.Background(), []string{"sh", "-c", `printf %s "$PODNET_TEST"`}, []string{"PODNET_TEST=a b"})
	require.NoError(t, err)
	assert.Equal(t, "a b", string(res.Output))
}

func TestExecRunner_Run_NotFound(t *testing.T) {
	r := newTestExecRunner(&bytes.Buffer{})

	_, err := r.Run(context.Background(), []string{"podnet-no-such-binary"}, nil)
	assert.Error(t, err)

	_, err = r.Run(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestExecRunner_Start(t *testing.T) {
	var out bytes.Buffer
	r := newTestExecRunner(&out)

	p, err := r.Start([]string{"sh", "-c", "echo started; exit 7"}, nil)
	require.NoError(t, err)
	assert.Positive(t, p.Pid())

	code, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, 7, code)
	assert.Equal(t, "started\n", out.String())
}
