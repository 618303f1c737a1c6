package git

import (
	"errors"
	"fmt"

	fluxerr "github.com/fluxcd/watchdog/pkg/errors"
)

var NoRepoError = &fluxerr.Error{
	Type: fluxerr.User,
	Err:  errors.New("no git URL configured"),
	Help: `No git repository to deploy from

The watchdog deploys from its own clone of a git repository. Say which
one with --git-url, or WATCHDOG_GIT_URL in the environment.
`,
}

func remoteError(t fluxerr.Type, actual error, format, url string) error {
	return &fluxerr.Error{
		Type: t,
		Err:  actual,
		Help: fmt.Sprintf(format, url),
	}
}

func CloningError(url string, actual error) error {
	return remoteError(fluxerr.User, actual, `Could not clone %s

Check that the repository exists, that the branch given with
--git-branch is in it, and that the watchdog can authenticate to it.
`, url)
}

func PullError(url string, actual error) error {
	return remoteError(fluxerr.Server, actual, `Could not fetch from %s

This is usually the git host being unreachable for a while. The next
check tries again.
`, url)
}

func PushError(url string, actual error) error {
	return remoteError(fluxerr.User, actual, `Could not push to %s

A freshly created instance may still be booting. If pushes have never
worked, the ssh identity the watchdog uses is probably not authorised
on the instance.
`, url)
}
