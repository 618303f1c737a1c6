package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	fluxmetrics "github.com/fluxcd/watchdog/pkg/metrics"
	"github.com/fluxcd/watchdog/pkg/progress"
	"github.com/fluxcd/watchdog/pkg/revision"
)

const (
	defaultTimeout = 2 * time.Minute
	defaultBranch  = "dev"
	originName     = "origin"
)

var ErrNotCloned = errors.New("git working copy has not been initialised")

// WorkingCopy is a local checkout of the branch that gets deployed.
// Operations are serialised; each is bounded by the configured
// timeout, on top of whatever deadline the caller's context has.
type WorkingCopy struct {
	origin  Remote
	dir     string
	branch  string
	timeout time.Duration
	length  int
	logger  log.Logger

	mu     sync.Mutex
	inited bool
}

type Option interface {
	apply(*WorkingCopy)
}

type optionFunc func(*WorkingCopy)

func (f optionFunc) apply(w *WorkingCopy) {
	f(w)
}

type Timeout time.Duration

func (t Timeout) apply(w *WorkingCopy) {
	w.timeout = time.Duration(t)
}

type Branch string

func (b Branch) apply(w *WorkingCopy) {
	w.branch = string(b)
}

// RevisionLength is how many characters of the commit hash make a
// revision.
type RevisionLength int

func (l RevisionLength) apply(w *WorkingCopy) {
	w.length = int(l)
}

func Logger(l log.Logger) Option {
	return optionFunc(func(w *WorkingCopy) {
		w.logger = l
	})
}

// NewWorkingCopy constructs a working copy of origin, to be kept in
// dir. Nothing is cloned until Init.
func NewWorkingCopy(origin Remote, dir string, opts ...Option) *WorkingCopy {
	w := &WorkingCopy{
		origin:  origin,
		dir:     dir,
		branch:  defaultBranch,
		timeout: defaultTimeout,
		length:  revision.DefaultLength,
		logger:  log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt.apply(w)
	}
	return w
}

// Dir is where the working copy lives.
func (w *WorkingCopy) Dir() string {
	return w.dir
}

func (w *WorkingCopy) Origin() Remote {
	return w.origin
}

// Init makes sure there is a clone in the directory, cloning it if
// not. An existing clone is used as is.
func (w *WorkingCopy) Init(ctx context.Context, report progress.Func) (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer observe("init", time.Now(), &err)

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if isRepo(ctx, w.dir) {
		w.inited = true
		return nil
	}
	if w.origin.URL == "" {
		return NoRepoError
	}
	if err := os.MkdirAll(filepath.Dir(w.dir), 0755); err != nil {
		return errors.Wrap(err, "creating parent of working copy")
	}
	w.logger.Log("info", "cloning", "url", w.origin.SafeURL(), "branch", w.branch, "dir", w.dir)
	out := progress.NewWriter(report)
	defer out.Close()
	if err := clone(ctx, w.dir, w.origin.URL, w.branch, out); err != nil {
		return CloningError(w.origin.SafeURL(), err)
	}
	w.inited = true
	return nil
}

// Pull brings the working copy up to date with the upstream branch,
// discarding anything local.
func (w *WorkingCopy) Pull(ctx context.Context, report progress.Func) (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer observe("pull", time.Now(), &err)
	if !w.inited {
		return ErrNotCloned
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	out := progress.NewWriter(report)
	defer out.Close()
	if err := fetch(ctx, w.dir, originName, w.branch, out); err != nil {
		return PullError(w.origin.SafeURL(), err)
	}
	return resetHard(ctx, w.dir, "FETCH_HEAD", out)
}

// CurrentRevision is the revision at HEAD of the working copy.
func (w *WorkingCopy) CurrentRevision(ctx context.Context) (rev revision.ID, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer observe("rev-parse", time.Now(), &err)
	if !w.inited {
		return revision.None, ErrNotCloned
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	s, err := shortRevision(ctx, w.dir, w.length)
	if err != nil {
		return revision.None, err
	}
	return revision.Shorten(s, w.length), nil
}

// Push sends HEAD (or whatever the refs name) to remote. A remote
// containing AddressPlaceholder has it replaced by address.
func (w *WorkingCopy) Push(ctx context.Context, remote, address string, refs []string, report progress.Func) (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer observe("push", time.Now(), &err)
	if !w.inited {
		return ErrNotCloned
	}

	target := ExpandRemote(remote, address)
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	safe := Remote{URL: target}.SafeURL()
	w.logger.Log("info", "pushing", "remote", safe, "refs", strings.Join(refs, ","))
	out := progress.NewWriter(report)
	defer out.Close()
	if err := push(ctx, w.dir, target, refs, out); err != nil {
		return PushError(safe, err)
	}
	return nil
}

func observe(op string, started time.Time, err *error) {
	gitDuration.With(
		fluxmetrics.LabelOperation, op,
		fluxmetrics.LabelSuccess, fmt.Sprint(*err == nil),
	).Observe(time.Since(started).Seconds())
}
