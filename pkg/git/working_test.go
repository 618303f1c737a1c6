package git_test

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/watchdog/pkg/git"
	"github.com/fluxcd/watchdog/pkg/git/gittest"
	"github.com/fluxcd/watchdog/pkg/revision"
)

func TestWorkingCopy_InitAndRevision(t *testing.T) {
	upstream, cleanup := gittest.Repo(t, "dev")
	defer cleanup()

	wc := git.NewWorkingCopy(upstream.Remote(), upstream.Dir("code"), git.Branch("dev"))
	ctx := context.Background()

	_, err := wc.CurrentRevision(ctx)
	assert.Equal(t, git.ErrNotCloned, err)

	require.NoError(t, wc.Init(ctx, nil))
	rev, err := wc.CurrentRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, revision.Shorten(upstream.Head(), 7), rev)

	// A second Init reuses the clone.
	again := git.NewWorkingCopy(upstream.Remote(), upstream.Dir("code"), git.Branch("dev"))
	require.NoError(t, again.Init(ctx, nil))
}

func TestWorkingCopy_PullFollowsUpstream(t *testing.T) {
	upstream, cleanup := gittest.Repo(t, "dev")
	defer cleanup()

	wc := git.NewWorkingCopy(upstream.Remote(), upstream.Dir("code"), git.Branch("dev"), git.RevisionLength(10))
	ctx := context.Background()
	require.NoError(t, wc.Init(ctx, nil))

	head := upstream.CommitAndPush("app.js", "console.log('hi')\n")
	require.NoError(t, wc.Pull(ctx, nil))
	rev, err := wc.CurrentRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, revision.ID(head[:10]), rev)
}

func TestWorkingCopy_PushToInstance(t *testing.T) {
	upstream, cleanup := gittest.Repo(t, "dev")
	defer cleanup()

	wc := git.NewWorkingCopy(upstream.Remote(), upstream.Dir("code"), git.Branch("dev"))
	ctx := context.Background()
	require.NoError(t, wc.Init(ctx, nil))

	instance := upstream.Dir("instance.git")
	require.NoError(t, exec.Command("git", "init", "--bare", instance).Run())

	var lines []string
	err := wc.Push(ctx, "file://{address}", instance, []string{"HEAD:dev"}, func(l string) {
		lines = append(lines, l)
	})
	require.NoError(t, err)
	assert.Equal(t, upstream.Head(), gittest.Log(t, instance, "dev")[0])
	assert.NotEmpty(t, lines, "push output should be reported as progress")
}

func TestWorkingCopy_CloneFailure(t *testing.T) {
	upstream, cleanup := gittest.Repo(t, "dev")
	defer cleanup()

	wc := git.NewWorkingCopy(git.Remote{URL: "file://" + upstream.Dir("nonexistent.git")}, upstream.Dir("code"))
	err := wc.Init(context.Background(), nil)
	assert.Error(t, err)

	wc = git.NewWorkingCopy(git.Remote{}, upstream.Dir("other"))
	assert.Equal(t, git.NoRepoError, wc.Init(context.Background(), nil))
}
