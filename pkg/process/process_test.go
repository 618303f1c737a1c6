// +build !windows

package process

import (
	"bytes"
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	out := &bytes.Buffer{}
	cmd := exec.Command("sh", "-c", "echo hello")
	cmd.Stdout = out
	require.NoError(t, Run(context.Background(), cmd))
	assert.Equal(t, "hello\n", out.String())
}

func TestRun_ExitCode(t *testing.T) {
	err := Run(context.Background(), exec.Command("sh", "-c", "exit 4"))
	exit, ok := err.(*exec.ExitError)
	require.True(t, ok, "expected an *exec.ExitError, got %v", err)
	assert.Equal(t, 4, exit.ExitCode())
}

// The shell forks sleep rather than exec'ing it, and sleep holds the
// output pipe open; it has to be killed too for Run to return.
func TestRun_TimeoutKillsChildren(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	cmd := exec.Command("sh", "-c", "sleep 5; true")
	cmd.Stdout = &bytes.Buffer{}
	cmd.Stderr = &bytes.Buffer{}
	started := time.Now()
	err := Run(ctx, cmd)
	require.Error(t, err)
	assert.True(t, time.Since(started) < 3*time.Second, "took %s", time.Since(started))
	assert.Equal(t, context.DeadlineExceeded, ctx.Err())
}

func TestRun_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cmd := exec.Command("sh", "-c", "echo never")
	assert.Equal(t, context.Canceled, Run(ctx, cmd))
	assert.Nil(t, cmd.Process)
}
