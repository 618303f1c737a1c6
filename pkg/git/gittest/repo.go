// Package gittest makes throwaway git repositories for tests.
package gittest

import (
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fluxcd/watchdog/pkg/git"
)

// Upstream is a bare repository with a non-bare clone to make commits
// in, standing in for the repository the watchdog deploys from.
type Upstream struct {
	t        *testing.T
	root     string
	filesDir string
	Bare     string
	Branch   string
}

// Repo creates an upstream with a single commit on branch, and
// returns it with a cleanup func.
func Repo(t *testing.T, branch string) (*Upstream, func()) {
	root, err := ioutil.TempDir("", "watchdog-gittest")
	if err != nil {
		t.Fatal(err)
	}
	cleanup := func() { os.RemoveAll(root) }

	u := &Upstream{
		t:        t,
		root:     root,
		filesDir: filepath.Join(root, "files"),
		Bare:     filepath.Join(root, "upstream.git"),
		Branch:   branch,
	}
	if err := os.Mkdir(u.filesDir, 0755); err != nil {
		cleanup()
		t.Fatal(err)
	}
	for _, args := range [][]string{
		{"init"},
		{"config", "--local", "user.email", "example@example.com"},
		{"config", "--local", "user.name", "example"},
		{"checkout", "-b", branch},
	} {
		if err := u.git(args...); err != nil {
			cleanup()
			t.Fatal(err)
		}
	}
	u.Commit("README", "initial revision\n")
	if err := execCommand("git", "clone", "--bare", u.filesDir, u.Bare); err != nil {
		cleanup()
		t.Fatal(err)
	}
	if err := u.git("remote", "add", "origin", u.Bare); err != nil {
		cleanup()
		t.Fatal(err)
	}
	return u, cleanup
}

// Remote is the upstream, for cloning.
func (u *Upstream) Remote() git.Remote {
	return git.Remote{URL: "file://" + u.Bare}
}

// Dir is a fresh path, not yet created, under the upstream's root.
func (u *Upstream) Dir(name string) string {
	return filepath.Join(u.root, name)
}

// Commit writes a file, commits it, and returns the new commit hash.
func (u *Upstream) Commit(file, content string) string {
	if err := ioutil.WriteFile(filepath.Join(u.filesDir, file), []byte(content), 0644); err != nil {
		u.t.Fatal(err)
	}
	if err := u.git("add", "--all"); err != nil {
		u.t.Fatal(err)
	}
	if err := u.git("commit", "-m", "change "+file); err != nil {
		u.t.Fatal(err)
	}
	return u.Head()
}

// CommitAndPush commits, then publishes the commit to the bare
// upstream.
func (u *Upstream) CommitAndPush(file, content string) string {
	rev := u.Commit(file, content)
	if err := u.git("push", "origin", u.Branch); err != nil {
		u.t.Fatal(err)
	}
	return rev
}

// Head is the full hash of the latest commit.
func (u *Upstream) Head() string {
	out, err := exec.Command("git", "-C", u.filesDir, "rev-parse", "HEAD").Output()
	if err != nil {
		u.t.Fatal(err)
	}
	return strings.TrimSpace(string(out))
}

// Log is the commit hashes reachable from branch in a bare repository
// at path, newest first.
func Log(t *testing.T, path, branch string) []string {
	out, err := exec.Command("git", "--git-dir", path, "log", "--format=%H", branch).Output()
	if err != nil {
		t.Fatal(err)
	}
	return strings.Fields(string(out))
}

func (u *Upstream) git(args ...string) error {
	return execCommand("git", append([]string{"-C", u.filesDir}, args...)...)
}

func execCommand(cmd string, args ...string) error {
	c := exec.Command(cmd, args...)
	c.Stderr = ioutil.Discard
	c.Stdout = ioutil.Discard
	return c.Run()
}
