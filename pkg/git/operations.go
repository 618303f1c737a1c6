package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/fluxcd/watchdog/pkg/process"
)

var allowedEnvVars = []string{
	// git follows curl, which ignores HTTP_PROXY
	"http_proxy", "https_proxy", "no_proxy", "HTTPS_PROXY", "NO_PROXY", "GIT_PROXY_COMMAND",
	// for pushing to instances over ssh
	"HOME", "SSH_AUTH_SOCK", "GIT_SSH", "GIT_SSH_COMMAND",
}

type gitCmdConfig struct {
	dir string
	env []string
	out io.Writer
	// progress, if set, sees everything the command prints, as it
	// prints it.
	progress io.Writer
}

func clone(ctx context.Context, workingDir, repoURL, repoBranch string, progress io.Writer) error {
	args := []string{"clone"}
	if repoBranch != "" {
		args = append(args, "--branch", repoBranch)
	}
	args = append(args, repoURL, workingDir)
	if err := execGitCmd(ctx, args, gitCmdConfig{progress: progress}); err != nil {
		return errors.Wrap(err, "git clone")
	}
	return nil
}

// fetch updates FETCH_HEAD from the upstream branch.
func fetch(ctx context.Context, workingDir, upstream, branch string, progress io.Writer) error {
	args := []string{"fetch", upstream}
	if branch != "" {
		args = append(args, branch)
	}
	if err := execGitCmd(ctx, args, gitCmdConfig{dir: workingDir, progress: progress}); err != nil {
		return errors.Wrapf(err, "git fetch %s %s", upstream, branch)
	}
	return nil
}

// resetHard makes the working tree match ref exactly; the working
// copy is only ever read, so there is nothing to lose.
func resetHard(ctx context.Context, workingDir, ref string, progress io.Writer) error {
	args := []string{"reset", "--hard", ref}
	if err := execGitCmd(ctx, args, gitCmdConfig{dir: workingDir, progress: progress}); err != nil {
		return errors.Wrap(err, "git reset --hard "+ref)
	}
	return nil
}

// shortRevision gives the abbreviated commit hash of HEAD, at exactly
// the length given.
func shortRevision(ctx context.Context, workingDir string, length int) (string, error) {
	out := &bytes.Buffer{}
	args := []string{"rev-parse", "--short=" + strconv.Itoa(length), "HEAD"}
	if err := execGitCmd(ctx, args, gitCmdConfig{dir: workingDir, out: out}); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

// push the refs given to the remote
func push(ctx context.Context, workingDir, remote string, refs []string, progress io.Writer) error {
	args := append([]string{"push", "--force", remote}, refs...)
	if err := execGitCmd(ctx, args, gitCmdConfig{dir: workingDir, progress: progress}); err != nil {
		return errors.Wrapf(err, "git push %s %s", redact(remote), strings.Join(refs, " "))
	}
	return nil
}

// isRepo says whether workingDir is itself the top of a clone; being
// somewhere inside another repository doesn't count.
func isRepo(ctx context.Context, workingDir string) bool {
	if _, err := os.Stat(filepath.Join(workingDir, ".git")); err != nil {
		return false
	}
	args := []string{"rev-parse", "--git-dir"}
	return execGitCmd(ctx, args, gitCmdConfig{dir: workingDir}) == nil
}

// maxCapturedOutput is how much of a failed command's output ends up
// in its error.
const maxCapturedOutput = 8 * 1024

// capture keeps the first maxCapturedOutput bytes a command prints.
// os/exec writes stdout and stderr from separate goroutines.
type capture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room := maxCapturedOutput - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *capture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func execGitCmd(ctx context.Context, args []string, config gitCmdConfig) error {
	c := exec.Command("git", args...)
	c.Dir = config.dir
	c.Env = append(env(), config.env...)

	output := &capture{}
	var stdout, stderr io.Writer = output, output
	if config.progress != nil {
		stdout, stderr = io.MultiWriter(stdout, config.progress), io.MultiWriter(stderr, config.progress)
	}
	if config.out != nil {
		stdout = io.MultiWriter(stdout, config.out)
	}
	c.Stdout, c.Stderr = stdout, stderr

	runErr := process.Run(ctx, c)
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return errors.Wrapf(ctx.Err(), "git %s timed out", args[0])
	case context.Canceled:
		return errors.Wrapf(ctx.Err(), "git %s cancelled", args[0])
	}
	if runErr == nil {
		return nil
	}
	out := output.String()
	if out == "" {
		return runErr
	}
	if msg := gitComplaint(out); msg != "" {
		return fmt.Errorf("%s, full output:\n%s", msg, out)
	}
	return errors.New(out)
}

// env is the environment git runs in: no prompting for credentials,
// and only the variables on the allowed list.
func env() []string {
	vars := []string{"GIT_TERMINAL_PROMPT=0"}
	for _, k := range allowedEnvVars {
		if v, ok := os.LookupEnv(k); ok {
			vars = append(vars, k+"="+v)
		}
	}
	return vars
}

// gitComplaint picks out the line of git output that says what went
// wrong.
func gitComplaint(output string) string {
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.Index(line, "fatal: "); i >= 0 {
			return line[i:]
		}
		if strings.HasPrefix(line, "error: ") {
			return strings.TrimPrefix(line, "error: ")
		}
	}
	return ""
}
