package pipeline

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/fluxcd/watchdog/pkg/progress"
	"github.com/fluxcd/watchdog/pkg/provision"
)

// Creator makes a new instance with the given name, and returns its
// address once it's reachable.
type Creator interface {
	Create(ctx context.Context, name string, report progress.Func) (address string, err error)
}

type KeyDistributor interface {
	AddKeysFromDirectory(ctx context.Context, address, dir string, report progress.Func) error
}

type Pusher interface {
	Push(ctx context.Context, remote, address string, refs []string, report progress.Func) error
}

// RecordUpdater points a hostname at an address.
type RecordUpdater interface {
	Update(ctx context.Context, hostname, address string) error
}

// Provision creates the instance for the revision, and records its
// address in the run.
func Provision(c Creator) Step {
	return StepFunc("provision", func(ctx context.Context, run *Run) error {
		name := provision.InstanceName(run.Hostname, run.Revision)
		run.report(fmt.Sprintf("creating instance %q", name))
		addr, err := c.Create(ctx, name, run.report)
		if err != nil {
			return err
		}
		if addr == "" {
			return errors.Errorf("instance %q was created without an address", name)
		}
		run.Address = addr
		run.report("instance created at " + addr)
		return nil
	})
}

// DistributeKeys adds the public keys found in dir to the new
// instance. With no dir, it does nothing.
func DistributeKeys(d KeyDistributor, dir string) Step {
	return StepFunc("keys", func(ctx context.Context, run *Run) error {
		if dir == "" {
			return nil
		}
		if run.Address == "" {
			return errors.New("no instance to add keys to")
		}
		run.report("adding keys from " + dir)
		return d.AddKeysFromDirectory(ctx, run.Address, dir, run.report)
	})
}

// Push sends the working copy to the new instance.
func Push(p Pusher, remote string, refs ...string) Step {
	return StepFunc("push", func(ctx context.Context, run *Run) error {
		if run.Address == "" {
			return errors.New("no instance to push to")
		}
		run.report("pushing code to " + run.Address)
		return p.Push(ctx, remote, run.Address, refs, run.report)
	})
}

// UpdateDNS points the hostname at the new instance.
func UpdateDNS(u RecordUpdater) Step {
	return StepFunc("dns", func(ctx context.Context, run *Run) error {
		if run.Address == "" {
			return errors.New("no instance to point DNS at")
		}
		run.report(fmt.Sprintf("updating DNS: %s -> %s", run.Hostname, run.Address))
		return u.Update(ctx, run.Hostname, run.Address)
	})
}
