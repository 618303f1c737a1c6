// Package provision makes and unmakes the instances a revision is
// deployed to, and points DNS at them.
package provision

import (
	"fmt"

	"github.com/ryanuber/go-glob"

	"github.com/fluxcd/watchdog/pkg/revision"
)

// Instance is a running (or starting) host.
type Instance struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Address may be empty, if it isn't known yet.
	Address string `json:"address,omitempty"`
}

// InstanceName is the name given to the instance running a revision
// of hostname. Stale instances are recognised by their name not
// containing the latest revision.
func InstanceName(hostname string, rev revision.ID) string {
	return fmt.Sprintf("%s (%s)", hostname, rev)
}

// DefaultPattern matches the names of all instances made for
// hostname, whatever their revision.
func DefaultPattern(hostname string) string {
	return hostname + " (*)"
}

// Filter returns only the instances whose name matches the glob
// pattern. An empty pattern matches everything.
func Filter(instances []Instance, pattern string) []Instance {
	if pattern == "" {
		return instances
	}
	var res []Instance
	for _, i := range instances {
		if glob.Glob(pattern, i.Name) {
			res = append(res, i)
		}
	}
	return res
}
