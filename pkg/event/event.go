package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fluxcd/watchdog/pkg/revision"
)

// Type is the tag of a deployment lifecycle event.
type Type string

// These are all the types of events.
const (
	Info               Type = "info"
	Warn               Type = "warn"
	Error              Type = "error"
	Progress           Type = "progress"
	DeploymentBegins   Type = "deployment_begins"
	DeploymentComplete Type = "deployment_complete"
)

// Event is one entry of the orchestrator's lifecycle stream.
type Event struct {
	Type Type `json:"type"`

	// Time is when the event was emitted.
	Time time.Time `json:"time"`

	// Message is free text for info, warn, error and progress events.
	Message string `json:"message,omitempty"`

	// Revision is set for deployment_begins and deployment_complete,
	// and for errors that happen while a deployment is under way.
	Revision revision.ID `json:"revision,omitempty"`

	// Duration is how long the deployment took; only set for
	// deployment_complete.
	Duration time.Duration `json:"-"`
}

// DurationMs is the duration in whole milliseconds.
func (e Event) DurationMs() int64 {
	return int64(e.Duration / time.Millisecond)
}

// Data is the payload of the event as it appears in logs and
// transcripts; for free-text events this is just the message.
func (e Event) Data() string {
	switch e.Type {
	case DeploymentBegins:
		return string(e.Revision)
	case DeploymentComplete:
		return fmt.Sprintf("%s in %.2fs", e.Revision, e.Duration.Seconds())
	default:
		return e.Message
	}
}

func (e Event) String() string {
	if data := e.Data(); data != "" {
		return string(e.Type) + ": " + data
	}
	return string(e.Type)
}

type wireEvent struct {
	Type       Type        `json:"type"`
	Time       time.Time   `json:"time"`
	Message    string      `json:"message,omitempty"`
	Revision   revision.ID `json:"revision,omitempty"`
	DurationMs int64       `json:"durationMs,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		Type:       e.Type,
		Time:       e.Time,
		Message:    e.Message,
		Revision:   e.Revision,
		DurationMs: e.DurationMs(),
	})
}

func (e *Event) UnmarshalJSON(in []byte) error {
	var w wireEvent
	if err := json.Unmarshal(in, &w); err != nil {
		return err
	}
	if w.Type == "" {
		return fmt.Errorf("event type is empty")
	}
	*e = Event{
		Type:     w.Type,
		Time:     w.Time,
		Message:  w.Message,
		Revision: w.Revision,
		Duration: time.Duration(w.DurationMs) * time.Millisecond,
	}
	return nil
}

// Handler receives events from a Bus.
type Handler func(Event)
