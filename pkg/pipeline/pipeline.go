// Package pipeline runs the steps that deploy a revision: installing
// dependencies, then either an external deploy command or the
// built-in routine of provisioning an instance, distributing keys,
// pushing the code and pointing DNS at it.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	fluxmetrics "github.com/fluxcd/watchdog/pkg/metrics"
	"github.com/fluxcd/watchdog/pkg/progress"
	"github.com/fluxcd/watchdog/pkg/revision"
)

const defaultTimeout = 30 * time.Minute

// Run is a single deployment of a revision, passed from step to step.
type Run struct {
	// Dir is the working copy, where commands run.
	Dir      string
	Revision revision.ID
	Hostname string
	// Address of the instance being deployed to; empty until a step
	// provisions one.
	Address  string
	Progress progress.Func
}

func (r *Run) report(line string) {
	if r.Progress != nil {
		r.Progress(line)
	}
}

type Step interface {
	Name() string
	Run(ctx context.Context, run *Run) error
}

type stepFunc struct {
	name string
	f    func(context.Context, *Run) error
}

func (s stepFunc) Name() string                            { return s.name }
func (s stepFunc) Run(ctx context.Context, run *Run) error { return s.f(ctx, run) }

// StepFunc makes a Step of a plain func.
func StepFunc(name string, f func(ctx context.Context, run *Run) error) Step {
	return stepFunc{name: name, f: f}
}

// Pipeline runs its steps in order, stopping at the first failure.
type Pipeline struct {
	steps   []Step
	timeout time.Duration
	logger  log.Logger
}

type Option interface {
	apply(*Pipeline)
}

type optionFunc func(*Pipeline)

func (f optionFunc) apply(p *Pipeline) {
	f(p)
}

// Timeout bounds the whole pipeline.
type Timeout time.Duration

func (t Timeout) apply(p *Pipeline) {
	p.timeout = time.Duration(t)
}

func Logger(l log.Logger) Option {
	return optionFunc(func(p *Pipeline) {
		p.logger = l
	})
}

func Steps(steps ...Step) Option {
	return optionFunc(func(p *Pipeline) {
		p.steps = append(p.steps, steps...)
	})
}

func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		timeout: defaultTimeout,
		logger:  log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt.apply(p)
	}
	return p
}

// StepNames lists the steps, in the order they run.
func (p *Pipeline) StepNames() []string {
	var names []string
	for _, s := range p.steps {
		names = append(names, s.Name())
	}
	return names
}

// Deploy runs every step against run. Any failure is returned as an
// *Error naming the step.
func (p *Pipeline) Deploy(ctx context.Context, run *Run) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	report := Redact(run.Progress)
	run.Progress = report
	for _, step := range p.steps {
		logger := log.With(p.logger, "step", step.Name(), "revision", run.Revision)
		logger.Log("info", "step begins")
		started := time.Now()
		err := step.Run(ctx, run)
		stepDuration.With(
			fluxmetrics.LabelStep, step.Name(),
			fluxmetrics.LabelSuccess, fmt.Sprint(err == nil),
		).Observe(time.Since(started).Seconds())
		if err != nil {
			logger.Log("err", err)
			if ctx.Err() == context.DeadlineExceeded {
				err = errors.Wrapf(err, "pipeline timed out after %s", p.timeout)
			}
			return asError(step.Name(), err)
		}
		logger.Log("info", "step complete", "took", time.Since(started))
	}
	return nil
}
