package resolver

import (
	"errors"
	"fmt"
)

// ErrNoAddress is the cause of a ResolutionError when the nameserver
// answered, but without an A record.
var ErrNoAddress = errors.New("no address")

// ResolutionError means the running revision could not be obtained
// because the host could not be resolved or reached: DNS failures and
// timeouts, no A record, or the version marker request failing at the
// network level.
type ResolutionError struct {
	Host string
	Err  error
}

func (err *ResolutionError) Error() string {
	return fmt.Sprintf("resolving %s: %s", err.Host, err.Err)
}

func (err *ResolutionError) Unwrap() error { return err.Err }

// ProtocolError means the host answered, but what it served as its
// version marker wasn't a revision.
type ProtocolError struct {
	Host   string
	Marker string
	Reason string
}

func (err *ProtocolError) Error() string {
	return fmt.Sprintf("malformed version marker from %s (%s): %q", err.Host, err.Reason, err.Marker)
}

const maxQuotedMarker = 64

func truncate(s string) string {
	if len(s) > maxQuotedMarker {
		return s[:maxQuotedMarker] + "..."
	}
	return s
}
