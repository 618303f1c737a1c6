package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/fluxcd/watchdog/pkg/api"
	"github.com/fluxcd/watchdog/pkg/event"
	fluxmetrics "github.com/fluxcd/watchdog/pkg/metrics"
	"github.com/fluxcd/watchdog/pkg/pipeline"
	"github.com/fluxcd/watchdog/pkg/revision"
)

const (
	DefaultPollInterval   = 15 * time.Minute
	DefaultRetryBackoff   = 2 * time.Minute
	DefaultResolveTimeout = 30 * time.Second
	DefaultCleanupTimeout = 10 * time.Minute
)

type LoopVars struct {
	PollInterval time.Duration
	RetryBackoff time.Duration
	// ResolveTimeout bounds finding the running revision, including
	// nameserver discovery.
	ResolveTimeout time.Duration
	CleanupTimeout time.Duration

	initOnce sync.Once
	stop     chan struct{}
	stopOnce sync.Once

	mu           sync.Mutex
	busy         bool
	phase        api.Phase
	deploying    revision.ID
	lastDeployed revision.ID
	lastCheck    time.Time
	lastError    string
	checks       uint64
	cleaningUp   bool
	retryPending bool

	// cleanup is only added to and waited on from the check cycle,
	// which is single-flight.
	cleanup sync.WaitGroup
}

func (loop *LoopVars) ensureInit() {
	loop.initOnce.Do(func() {
		loop.stop = make(chan struct{})
		loop.phase = api.PhaseIdle
		if loop.PollInterval == 0 {
			loop.PollInterval = DefaultPollInterval
		}
		if loop.RetryBackoff == 0 {
			loop.RetryBackoff = DefaultRetryBackoff
		}
		if loop.ResolveTimeout == 0 {
			loop.ResolveTimeout = DefaultResolveTimeout
		}
		if loop.CleanupTimeout == 0 {
			loop.CleanupTimeout = DefaultCleanupTimeout
		}
	})
}

// Loop checks for updates at startup, and every PollInterval after
// that. Stopping it also abandons any scheduled retry; a check
// already underway runs to completion.
func (d *Daemon) Loop(stop chan struct{}, wg *sync.WaitGroup, logger log.Logger) {
	defer wg.Done()
	d.ensureInit()

	ticker := d.Clock.NewTicker(d.PollInterval)
	defer ticker.Stop()

	d.CheckForUpdates()
	for {
		select {
		case <-stop:
			logger.Log("stopping", "true")
			d.stopOnce.Do(func() { close(d.stop) })
			return
		case <-ticker.Chan():
			d.CheckForUpdates()
		}
	}
}

// CheckForUpdates starts a check cycle, unless one is already under
// way, in which case it does nothing; it doesn't queue a check for
// later. It returns whether a cycle was started, and doesn't wait for
// it to finish.
func (d *Daemon) CheckForUpdates() bool {
	d.ensureInit()
	d.mu.Lock()
	if d.busy {
		d.mu.Unlock()
		checksSkipped.Add(1)
		return false
	}
	d.busy = true
	d.phase = api.PhaseChecking
	d.mu.Unlock()

	go d.run()
	return true
}

// run does check cycles until one doesn't deploy anything. A
// successful deployment is always followed straight away by another
// check, without becoming idle in between.
func (d *Daemon) run() {
	for {
		logger := log.With(d.Logger, "check", uuid.New().String())
		started := time.Now()
		deployed, err := d.checkCycle(context.Background(), logger)
		checkDuration.With(
			fluxmetrics.LabelSuccess, fmt.Sprint(err == nil),
		).Observe(time.Since(started).Seconds())

		if err != nil {
			logger.Log("err", err)
			d.emit(event.Event{Type: event.Error, Message: err.Error()})
			d.scheduleRetry(logger)
			d.finish(err)
			return
		}
		if !deployed {
			d.finish(nil)
			return
		}
		d.mu.Lock()
		d.phase = api.PhaseChecking
		d.deploying = revision.None
		d.mu.Unlock()
		logger.Log("info", "deployed; checking again")
	}
}

func (d *Daemon) finish(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.busy = false
	d.phase = api.PhaseIdle
	d.deploying = revision.None
	if err != nil {
		d.lastError = err.Error()
	} else {
		d.lastError = ""
	}
}

// checkCycle compares the latest revision with the one running, and
// deploys the latest if they differ. It returns whether it deployed.
func (d *Daemon) checkCycle(ctx context.Context, logger log.Logger) (bool, error) {
	d.mu.Lock()
	d.checks++
	d.lastCheck = d.Clock.Now().UTC()
	d.mu.Unlock()

	if err := d.Repo.Pull(ctx, d.progress); err != nil {
		return false, errors.Wrap(err, "pulling latest code")
	}
	latest, err := d.Repo.CurrentRevision(ctx)
	if err != nil {
		return false, errors.Wrap(err, "getting latest revision")
	}

	resolveCtx, cancel := context.WithTimeout(ctx, d.ResolveTimeout)
	running, err := d.Resolver.Resolve(resolveCtx, d.Hostname)
	cancel()
	switch {
	case err != nil:
		// Not being able to tell what's running is taken to mean it
		// needs deploying; it may well not exist.
		logger.Log("warning", "could not get running revision", "host", d.Hostname, "err", err)
		d.emit(event.Event{
			Type:    event.Warn,
			Message: fmt.Sprintf("can't get running revision of %s, deploying %s anyway: %s", d.Hostname, latest, err),
		})
	case running == latest:
		logger.Log("info", "up to date", "revision", latest)
		d.emit(event.Event{Type: event.Info, Message: "up to date"})
		return false, nil
	default:
		logger.Log("info", "update needed", "running", running, "latest", latest)
	}

	// Never deploy while the last deployment is still being cleaned
	// up after.
	d.cleanup.Wait()

	d.mu.Lock()
	d.phase = api.PhaseDeploying
	d.deploying = latest
	d.mu.Unlock()

	d.emit(event.Event{Type: event.DeploymentBegins, Revision: latest})
	began := d.Clock.Now()
	run := &pipeline.Run{
		Dir:      d.Repo.Dir(),
		Revision: latest,
		Hostname: d.Hostname,
		Progress: d.progress,
	}
	err = d.Pipeline.Deploy(ctx, run)
	deploymentDuration.With(
		fluxmetrics.LabelSuccess, fmt.Sprint(err == nil),
	).Observe(d.Clock.Since(began).Seconds())
	if err != nil {
		return false, err
	}
	took := d.Clock.Since(began)
	d.emit(event.Event{Type: event.DeploymentComplete, Revision: latest, Duration: took})
	logger.Log("info", "deployment complete", "revision", latest, "took", took)

	d.mu.Lock()
	d.lastDeployed = latest
	d.phase = api.PhaseCleaningUp
	d.mu.Unlock()
	d.startCleanup(latest, logger)
	return true, nil
}

// scheduleRetry arranges for a check once RetryBackoff has passed.
// There's only ever one retry pending.
func (d *Daemon) scheduleRetry(logger log.Logger) {
	d.mu.Lock()
	if d.retryPending {
		d.mu.Unlock()
		return
	}
	d.retryPending = true
	d.mu.Unlock()

	logger.Log("info", "retrying after backoff", "backoff", d.RetryBackoff)
	d.emit(event.Event{Type: event.Info, Message: fmt.Sprintf("retrying in %s", d.RetryBackoff)})
	after := d.Clock.After(d.RetryBackoff)
	go func() {
		select {
		case <-after:
			d.mu.Lock()
			d.retryPending = false
			d.mu.Unlock()
			d.CheckForUpdates()
		case <-d.stop:
		}
	}()
}

// CurrentStatus is a snapshot of the daemon's state.
func (d *Daemon) CurrentStatus() api.Status {
	d.ensureInit()
	d.mu.Lock()
	defer d.mu.Unlock()
	return api.Status{
		Hostname:     d.Hostname,
		Phase:        d.phase,
		Busy:         d.busy,
		Deploying:    d.deploying,
		LastDeployed: d.lastDeployed,
		LastCheck:    d.lastCheck,
		LastError:    d.lastError,
		Checks:       d.checks,
		CleaningUp:   d.cleaningUp,
		RetryPending: d.retryPending,
	}
}
