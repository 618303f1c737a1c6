// Package api defines what a watchdog daemon serves, so that the HTTP
// transport and the client can agree on it.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/fluxcd/watchdog/pkg/revision"
)

// Phase is where the daemon's check cycle is.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseChecking   Phase = "checking"
	PhaseDeploying  Phase = "deploying"
	PhaseCleaningUp Phase = "cleaning-up"
)

type Status struct {
	Hostname string `json:"hostname"`
	Phase    Phase  `json:"phase"`
	Busy     bool   `json:"busy"`
	// Deploying is the revision being deployed, if any.
	Deploying    revision.ID `json:"deploying,omitempty"`
	LastDeployed revision.ID `json:"lastDeployed,omitempty"`
	LastCheck    time.Time   `json:"lastCheck,omitempty"`
	LastError    string      `json:"lastError,omitempty"`
	Checks       uint64      `json:"checks"`
	CleaningUp   bool        `json:"cleaningUp"`
	RetryPending bool        `json:"retryPending"`
}

// Text is the one-line status served at the root.
func (s Status) Text() string {
	if s.Deploying != revision.None {
		return fmt.Sprintf("deploying %s", s.Deploying)
	}
	return "idle"
}

// Deployment is a deployment with a transcript.
type Deployment struct {
	Revision revision.ID `json:"revision"`
	Size     int64       `json:"size"`
	Updated  time.Time   `json:"updated"`
}

type Server interface {
	Ping(context.Context) error
	Version(context.Context) (string, error)
	Status(context.Context) (Status, error)
	// Check asks for a check for updates; it returns whether one
	// started, which it doesn't if one is already underway.
	Check(context.Context) (bool, error)
	Deployments(context.Context) ([]Deployment, error)
	// Transcript is the log of the deployment of a revision.
	Transcript(context.Context, revision.ID) ([]byte, error)
}
