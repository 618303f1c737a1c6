package daemon

import (
	"context"
	"io"
	"io/ioutil"

	"github.com/go-kit/kit/log"
	"github.com/jonboulle/clockwork"

	"github.com/fluxcd/watchdog/pkg/api"
	"github.com/fluxcd/watchdog/pkg/event"
	"github.com/fluxcd/watchdog/pkg/pipeline"
	"github.com/fluxcd/watchdog/pkg/progress"
	"github.com/fluxcd/watchdog/pkg/provision"
	"github.com/fluxcd/watchdog/pkg/revision"
	"github.com/fluxcd/watchdog/pkg/transcript"
)

const maxTranscriptSize = 16 << 20

// WorkingCopy is the local clone of the code being deployed.
type WorkingCopy interface {
	Dir() string
	Pull(ctx context.Context, report progress.Func) error
	CurrentRevision(ctx context.Context) (revision.ID, error)
}

// Resolver finds out which revision a host is running.
type Resolver interface {
	Resolve(ctx context.Context, hostname string) (revision.ID, error)
}

type Deployer interface {
	Deploy(ctx context.Context, run *pipeline.Run) error
}

// Inventory is the infrastructure that deployments leave behind.
type Inventory interface {
	List(ctx context.Context) ([]provision.Instance, error)
	Destroy(ctx context.Context, id string) error
}

// Daemon watches a host, and deploys to it whenever it isn't running
// the latest revision of the code.
type Daemon struct {
	V        string
	Hostname string
	Repo     WorkingCopy
	Resolver Resolver
	Pipeline Deployer
	// Inventory, if not nil, is cleaned of stale instances after each
	// successful deployment.
	Inventory   Inventory
	Events      *event.Bus
	Transcripts transcript.Store
	Clock       clockwork.Clock
	Logger      log.Logger
	// bookkeeping
	*LoopVars
}

// Invariant.
var _ api.Server = &Daemon{}

func (d *Daemon) Version(ctx context.Context) (string, error) {
	return d.V, nil
}

func (d *Daemon) Ping(ctx context.Context) error {
	return nil
}

func (d *Daemon) Status(ctx context.Context) (api.Status, error) {
	return d.CurrentStatus(), nil
}

func (d *Daemon) Check(ctx context.Context) (bool, error) {
	return d.CheckForUpdates(), nil
}

func (d *Daemon) Deployments(ctx context.Context) ([]api.Deployment, error) {
	entries, err := d.Transcripts.List()
	if err != nil {
		return nil, err
	}
	res := make([]api.Deployment, 0, len(entries))
	for _, e := range entries {
		res = append(res, api.Deployment{Revision: e.Revision, Size: e.Size, Updated: e.Updated})
	}
	return res, nil
}

func (d *Daemon) Transcript(ctx context.Context, rev revision.ID) ([]byte, error) {
	rc, err := d.Transcripts.Open(rev)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return ioutil.ReadAll(io.LimitReader(rc, maxTranscriptSize))
}

// Subscribe registers a handler for the daemon's events.
func (d *Daemon) Subscribe(name string, h event.Handler) (unsubscribe func()) {
	return d.Events.Subscribe(name, h)
}

func (d *Daemon) emit(e event.Event) {
	if e.Time.IsZero() {
		e.Time = d.Clock.Now().UTC()
	}
	d.Events.Publish(e)
}

func (d *Daemon) progress(line string) {
	d.emit(event.Event{Type: event.Progress, Message: line})
}
