package http

import (
	"errors"

	fluxerr "github.com/fluxcd/watchdog/pkg/errors"
)

var ErrorTooManyRequests = &fluxerr.Error{
	Type: fluxerr.User,
	Help: `Checks are being requested faster than the watchdog will accept
them. A check is already likely to be under way; wait a moment and
look at the status before asking again.
`,
	Err: errors.New("too many check requests"),
}

var ErrorBadSignature = &fluxerr.Error{
	Type: fluxerr.User,
	Help: `The webhook payload's signature did not match. Make sure the
secret configured for the GitHub webhook is the same as the watchdog's
--webhook-secret.
`,
	Err: errors.New("webhook signature mismatch"),
}

func MakeAPINotFound(path string) *fluxerr.Error {
	return &fluxerr.Error{
		Type: fluxerr.Missing,
		Help: `The API endpoint requested is not supported by this watchdog.

This usually means the client (watchdogctl) and the daemon are of
different versions. The path requested was

    ` + path + `
`,
		Err: errors.New("API endpoint not found"),
	}
}
