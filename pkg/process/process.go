// Package process runs commands so that a cancelled context stops
// everything they started, not just the command itself.
package process

import (
	"context"
	"os/exec"
)

// Run starts cmd in a process group of its own and waits for it. When
// ctx is done first, the whole group is killed. Killing only the
// direct child isn't enough: a grandchild holding stdout or stderr
// open keeps Wait from returning until it exits by itself.
//
// cmd must not have been made with exec.CommandContext.
func Run(ctx context.Context, cmd *exec.Cmd) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ownGroup(cmd)
	if err := cmd.Start(); err != nil {
		return err
	}

	exited := make(chan struct{})
	killed := make(chan struct{})
	go func() {
		defer close(killed)
		select {
		case <-ctx.Done():
			killGroup(cmd.Process)
		case <-exited:
		}
	}()

	err := cmd.Wait()
	close(exited)
	<-killed
	return err
}
