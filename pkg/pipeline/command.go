package pipeline

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"

	"github.com/fluxcd/watchdog/pkg/process"
	"github.com/fluxcd/watchdog/pkg/progress"
)

const hiddenOutput = "<OUTPUT HIDDEN>"

// secretKey is how credentials show up in provisioning output: as a
// JSON field.
const secretKey = `"pass"`

// Redact wraps report so that any line with a password field in it is
// replaced before it goes anywhere.
func Redact(report progress.Func) progress.Func {
	if report == nil {
		return progress.Nop
	}
	return func(line string) {
		if strings.Contains(line, secretKey) {
			report(hiddenOutput)
			return
		}
		report(line)
	}
}

// Command is a step that runs a shell command in the working copy.
// Its output is reported line by line as progress; exiting non-zero
// fails the step with an *ExitError.
type Command struct {
	StepName string
	Command  string
	// Env is added to the daemon's own environment, along with
	// WATCHDOG_REVISION, WATCHDOG_HOSTNAME and (if known)
	// WATCHDOG_ADDRESS.
	Env []string
}

func (c Command) Name() string {
	return c.StepName
}

func (c Command) Run(ctx context.Context, run *Run) error {
	if strings.TrimSpace(c.Command) == "" {
		return errors.New("no command given")
	}
	cmd := exec.Command("sh", "-c", c.Command)
	cmd.Dir = run.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Env = append(cmd.Env,
		"WATCHDOG_REVISION="+run.Revision.String(),
		"WATCHDOG_HOSTNAME="+run.Hostname,
	)
	if run.Address != "" {
		cmd.Env = append(cmd.Env, "WATCHDOG_ADDRESS="+run.Address)
	}

	out := progress.NewWriter(run.report)
	cmd.Stdout = out
	cmd.Stderr = out
	err := process.Run(ctx, cmd)
	out.Close()
	if err != nil {
		if exit, ok := err.(*exec.ExitError); ok && exit.ExitCode() >= 0 {
			return &ExitError{Command: c.Command, Code: exit.ExitCode()}
		}
		if ctx.Err() != nil {
			return errors.Wrapf(ctx.Err(), "running %q", c.Command)
		}
		return errors.Wrapf(err, "running %q", c.Command)
	}
	return nil
}
