// Package errors is how the watchdog's API reports failures: each
// carries a type saying whose problem it is, and help text for
// whoever is on the other end of watchdogctl.
package errors

import (
	"encoding/json"
	"errors"
)

type Type string

const (
	// Something went wrong in the watchdog; asking again may work.
	Server Type = "server"
	// There's nothing by that name, e.g., a transcript for a revision
	// that was never deployed.
	Missing Type = "missing"
	// The request can't be honoured as given.
	User Type = "user"
)

type Error struct {
	Type Type
	// Help is printed for the user.
	Help string
	// Err is what gets logged.
	Err error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is says whether an *Error of the given type is anywhere in err's
// chain.
func Is(err error, t Type) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == t
}

func IsMissing(err error) bool {
	return Is(err, Missing)
}

func IsUser(err error) bool {
	return Is(err, User)
}

type wireError struct {
	Type Type   `json:"type"`
	Help string `json:"help"`
	Err  string `json:"error,omitempty"`
}

func (e *Error) MarshalJSON() ([]byte, error) {
	w := wireError{Type: e.Type, Help: e.Help}
	if e.Err != nil {
		w.Err = e.Err.Error()
	}
	return json.Marshal(w)
}

func (e *Error) UnmarshalJSON(data []byte) error {
	var w wireError
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Error{Type: w.Type, Help: w.Help}
	if w.Err != "" {
		e.Err = errors.New(w.Err)
	}
	return nil
}

// Unexplained wraps an error that came with no help of its own.
func Unexplained(err error) *Error {
	return &Error{
		Type: Server,
		Err:  err,
		Help: "Error: " + err.Error() + `

There's no more specific explanation for this error. The daemon's log,
and the transcript of the most recent deployment, usually say more
about what the watchdog was doing at the time.
`,
	}
}
