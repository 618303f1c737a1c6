// Package notify tells people about deployments, in IRC or Slack.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/fluxcd/watchdog/pkg/event"
	"github.com/fluxcd/watchdog/pkg/revision"
)

const notifyTimeout = 30 * time.Second

type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Failure Severity = "failure"
)

// Message is a plain-text notification.
type Message struct {
	Text     string
	Severity Severity
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Observer turns deployment events into messages for its notifiers.
// Use Handle as an event.Handler; events are expected in the order
// they happened.
type Observer struct {
	notifiers []Notifier
	statusURL string
	logger    log.Logger

	mu        sync.Mutex
	deploying revision.ID
}

// NewObserver makes an observer. statusURL is the base URL under which
// transcripts are served, e.g., `https://deployer.example.com`.
func NewObserver(statusURL string, logger log.Logger, notifiers ...Notifier) *Observer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Observer{
		notifiers: notifiers,
		statusURL: strings.TrimSuffix(statusURL, "/"),
		logger:    logger,
	}
}

func (o *Observer) Handle(e event.Event) {
	msg, ok := o.message(e)
	if !ok {
		return
	}
	for _, n := range o.notifiers {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		if err := n.Notify(ctx, msg); err != nil {
			o.logger.Log("err", err, "notification", msg.Text)
		}
		cancel()
	}
}

func (o *Observer) message(e event.Event) (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch e.Type {
	case event.DeploymentBegins:
		o.deploying = e.Revision
		return Message{
			Text:     fmt.Sprintf("deploying %s - status %s/%s.txt", e.Revision, o.statusURL, e.Revision),
			Severity: Info,
		}, true
	case event.DeploymentComplete:
		o.deploying = revision.None
		return Message{
			Text:     fmt.Sprintf("deployment of %s completed successfully in %.2fs", e.Revision, e.Duration.Seconds()),
			Severity: Success,
		}, true
	case event.Error:
		text := "error while looking for updates.  check logs for deets"
		if o.deploying != revision.None {
			text = fmt.Sprintf("deployment of %s failed.  check logs for deets", o.deploying)
		}
		o.deploying = revision.None
		return Message{Text: text, Severity: Failure}, true
	}
	return Message{}, false
}
