// Package revision holds the short source revision identifiers that
// are compared to decide whether a host needs redeploying.
package revision

import (
	"fmt"
	"strings"
)

// DefaultLength is the length of a short revision, as produced by
// `git rev-parse --short=7`.
const DefaultLength = 7

// ID is the short form of a content-addressed source revision.
type ID string

// None is the zero ID, meaning "no known revision".
const None ID = ""

func (id ID) String() string {
	return string(id)
}

// Valid reports whether the ID has exactly the expected length.
func (id ID) Valid(length int) bool {
	return id != None && len(id) == length
}

// In reports whether the ID appears in the label given, e.g., an
// instance name like "login.dev.anosrep.org (abcd123)".
func (id ID) In(label string) bool {
	return id != None && strings.Contains(label, string(id))
}

// Parse checks that s is a revision of the expected length.
func Parse(s string, length int) (ID, error) {
	id := ID(s)
	if !id.Valid(length) {
		return None, fmt.Errorf("revision %q does not have the expected length %d", s, length)
	}
	return id, nil
}

// Shorten truncates a full revision to the given length. Revisions
// that are already short enough are returned as-is.
func Shorten(full string, length int) ID {
	full = strings.TrimSpace(full)
	if len(full) <= length {
		return ID(full)
	}
	return ID(full[:length])
}
