package git

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
	giturls "github.com/whilp/git-urls"
)

// AddressPlaceholder stands for the address of the instance being
// pushed to, in a push remote.
const AddressPlaceholder = "{address}"

// Remote is a repository to pull from or push to. Its URL may carry
// credentials, so log SafeURL rather than URL.
type Remote struct {
	URL string `json:"url"`
}

func (r Remote) SafeURL() string {
	return redact(r.URL)
}

func (r Remote) Valid() error {
	if r.URL == "" {
		return NoRepoError
	}
	if _, err := giturls.Parse(r.URL); err != nil {
		return errors.Wrapf(err, "git URL %s", redact(r.URL))
	}
	return nil
}

// ExpandRemote puts an instance's address into a push remote.
func ExpandRemote(remote, address string) string {
	return strings.Replace(remote, AddressPlaceholder, address, -1)
}

func redact(raw string) string {
	u, err := giturls.Parse(raw)
	if err != nil {
		return "<unparseable git URL>"
	}
	if u.User == nil {
		return u.String()
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "redacted")
	}
	return u.String()
}
