package daemon

import (
	"context"
	"fmt"

	"github.com/go-kit/kit/log"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/fluxcd/watchdog/pkg/event"
	"github.com/fluxcd/watchdog/pkg/revision"
)

func (d *Daemon) startCleanup(latest revision.ID, logger log.Logger) {
	if d.Inventory == nil {
		return
	}
	d.mu.Lock()
	d.cleaningUp = true
	d.mu.Unlock()

	d.cleanup.Add(1)
	go func() {
		defer d.cleanup.Done()
		d.cleanUp(latest, log.With(logger, "cleanup", latest))
		d.mu.Lock()
		d.cleaningUp = false
		d.mu.Unlock()
	}()
}

// cleanUp destroys every instance whose name doesn't have latest in
// it. It's best effort: problems are reported as info, and never fail
// anything.
func (d *Daemon) cleanUp(latest revision.ID, logger log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), d.CleanupTimeout)
	defer cancel()

	instances, err := d.Inventory.List(ctx)
	if err != nil {
		logger.Log("err", err)
		d.emit(event.Event{Type: event.Info, Message: fmt.Sprintf("couldn't list instances to clean up: %s", err)})
		return
	}

	var result error
	destroyed := 0
	for _, i := range instances {
		if latest.In(i.Name) {
			continue
		}
		d.emit(event.Event{Type: event.Info, Message: fmt.Sprintf("destroying stale instance %s (%s)", i.Name, i.ID)})
		if err := d.Inventory.Destroy(ctx, i.ID); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %s", i.ID, err))
			continue
		}
		destroyed++
	}
	logger.Log("info", "cleanup done", "destroyed", destroyed)
	if result != nil {
		d.emit(event.Event{Type: event.Info, Message: fmt.Sprintf("cleanup incomplete: %s", result)})
	}
}
