package pipeline

import (
	"fmt"

	"github.com/pkg/errors"
)

// NoExitCode is the ExitCode of an Error that wasn't a command
// exiting unsuccessfully.
const NoExitCode = -1

// Error is a failure of one step of the pipeline. It's fatal to the
// check it happened in.
type Error struct {
	Step     string
	ExitCode int
	Err      error
}

func (err *Error) Error() string {
	if err.ExitCode != NoExitCode {
		return fmt.Sprintf("%s exited with code %d", err.Step, err.ExitCode)
	}
	return fmt.Sprintf("%s failed: %s", err.Step, err.Err)
}

func (err *Error) Unwrap() error { return err.Err }

// ExitError is what a command step returns when the command ran, but
// exited with a non-zero code.
type ExitError struct {
	Command string
	Code    int
}

func (err *ExitError) Error() string {
	return fmt.Sprintf("%q exited with code %d", err.Command, err.Code)
}

func asError(step string, err error) *Error {
	if e, ok := err.(*Error); ok {
		return e
	}
	code := NoExitCode
	var exit *ExitError
	if errors.As(err, &exit) {
		code = exit.Code
	}
	return &Error{Step: step, ExitCode: code, Err: err}
}
