package ssh

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

const publicKeySuffix = ".pub"

// PublicKey is a key to authorise, as found on disk.
type PublicKey struct {
	Key     ssh.PublicKey
	Comment string
	// Path of the file it came from.
	Path string
}

// AuthorizedKey is the key as a line of an authorized_keys file,
// without the trailing newline.
func (k PublicKey) AuthorizedKey() string {
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(k.Key)))
	if k.Comment != "" {
		line += " " + k.Comment
	}
	return line
}

func (k PublicKey) Fingerprint() string {
	return ssh.FingerprintSHA256(k.Key)
}

// ReadPublicKeys parses every `*.pub` file in dir, in name order. Other
// files (e.g., the private halves) are ignored. A file that isn't a
// public key is an error, rather than being skipped.
func ReadPublicKeys(dir string) ([]PublicKey, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+publicKeySuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var keys []PublicKey
	for _, path := range paths {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", path)
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}
		key, comment, _, _, err := ssh.ParseAuthorizedKey(data)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing public key %s", path)
		}
		keys = append(keys, PublicKey{Key: key, Comment: comment, Path: path})
	}
	return keys, nil
}

// LoadIdentity reads a private key for authenticating to instances.
func LoadIdentity(path string) (ssh.Signer, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading ssh identity")
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing ssh identity %s", path)
	}
	return signer, nil
}
