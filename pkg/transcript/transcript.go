// Package transcript keeps a text log of each deployment, in a file
// named after the revision deployed.
package transcript

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	fluxerr "github.com/fluxcd/watchdog/pkg/errors"
	"github.com/fluxcd/watchdog/pkg/event"
	"github.com/fluxcd/watchdog/pkg/revision"
)

const suffix = ".txt"

var validName = regexp.MustCompile(`^[0-9A-Za-z]+$`)

// Line formats an event as it appears in a transcript.
func Line(e event.Event) string {
	return fmt.Sprintf("%s: %s", e.Time.UTC().Format(time.RFC3339), e.String())
}

// Writer records the events of each deployment, from its
// deployment_begins to the deployment_complete or error that ends it.
// Events outside a deployment aren't recorded. Use Handle as an
// event.Handler.
type Writer struct {
	dir    string
	logger log.Logger

	mu   sync.Mutex
	file *os.File
}

func NewWriter(dir string, logger log.Logger) *Writer {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Writer{dir: dir, logger: logger}
}

func (w *Writer) Handle(e event.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e.Type == event.DeploymentBegins {
		w.close()
		if err := w.open(e.Revision); err != nil {
			w.logger.Log("err", err, "revision", e.Revision)
			return
		}
	}
	if w.file == nil {
		return
	}
	if _, err := fmt.Fprintln(w.file, Line(e)); err != nil {
		w.logger.Log("err", errors.Wrap(err, "writing transcript"))
	}
	if e.Type == event.DeploymentComplete || e.Type == event.Error {
		w.close()
	}
}

// Close ends any transcript still open.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.close()
	return nil
}

func (w *Writer) open(rev revision.ID) error {
	if !validName.MatchString(rev.String()) {
		return errors.Errorf("not starting a transcript for revision %q", rev)
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return errors.Wrap(err, "creating transcript directory")
	}
	f, err := os.OpenFile(filepath.Join(w.dir, rev.String()+suffix), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrap(err, "opening transcript")
	}
	w.file = f
	_, err = fmt.Fprintf(f, "deployment of %s begins\n", rev)
	return err
}

func (w *Writer) close() {
	if w.file == nil {
		return
	}
	if err := w.file.Close(); err != nil {
		w.logger.Log("err", errors.Wrap(err, "closing transcript"))
	}
	w.file = nil
}

// Entry describes a stored transcript.
type Entry struct {
	Revision revision.ID `json:"revision"`
	Size     int64       `json:"size"`
	Updated  time.Time   `json:"updated"`
}

// Store gives read access to the transcripts in a directory.
type Store struct {
	Dir string
}

// List gives the transcripts, most recently written first.
func (s Store) List() ([]Entry, error) {
	infos, err := ioutil.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "listing transcripts")
	}
	var entries []Entry
	for _, fi := range infos {
		name := fi.Name()
		if fi.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		rev := strings.TrimSuffix(name, suffix)
		if !validName.MatchString(rev) {
			continue
		}
		entries = append(entries, Entry{Revision: revision.ID(rev), Size: fi.Size(), Updated: fi.ModTime()})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Updated.After(entries[j].Updated)
	})
	return entries, nil
}

// Open returns the transcript for a revision, or a Missing error.
func (s Store) Open(rev revision.ID) (io.ReadCloser, error) {
	if !validName.MatchString(rev.String()) {
		return nil, missing(rev)
	}
	f, err := os.Open(filepath.Join(s.Dir, rev.String()+suffix))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, missing(rev)
		}
		return nil, errors.Wrap(err, "opening transcript")
	}
	return f, nil
}

func missing(rev revision.ID) error {
	return &fluxerr.Error{
		Type: fluxerr.Missing,
		Err:  errors.Errorf("no transcript for revision %q", rev),
		Help: "There is no deployment log for revision " + rev.String() + ". Only revisions this watchdog has tried to deploy have one.",
	}
}
