// Package ssh adds public keys to freshly provisioned instances, so
// that the people (and tools) named by them can log in.
package ssh

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/fluxcd/watchdog/pkg/progress"
)

const (
	defaultUser    = "ec2-user"
	defaultPort    = 22
	defaultTimeout = 30 * time.Second
)

// appendMissingKeys reads authorized_keys lines on stdin and adds the
// ones not already present.
const appendMissingKeys = `umask 077; mkdir -p ~/.ssh && touch ~/.ssh/authorized_keys && ` +
	`while read -r key; do grep -qxF "$key" ~/.ssh/authorized_keys || echo "$key" >> ~/.ssh/authorized_keys; done`

// Distributor logs in to instances with its identity, and appends
// keys to the user's authorized_keys.
type Distributor struct {
	Identity ssh.Signer
	User     string
	Port     int
	Timeout  time.Duration
	// HostKeyCallback checks the instance's host key. New instances
	// have host keys nobody has seen before, so by default any is
	// accepted.
	HostKeyCallback ssh.HostKeyCallback
	Logger          log.Logger
}

func (d *Distributor) config() *ssh.ClientConfig {
	user := d.User
	if user == "" {
		user = defaultUser
	}
	callback := d.HostKeyCallback
	if callback == nil {
		callback = ssh.InsecureIgnoreHostKey()
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(d.Identity)},
		HostKeyCallback: callback,
		Timeout:         d.timeout(),
	}
}

func (d *Distributor) timeout() time.Duration {
	if d.Timeout == 0 {
		return defaultTimeout
	}
	return d.Timeout
}

// AddKeysFromDirectory authorises every public key in dir on the
// instance at address.
func (d *Distributor) AddKeysFromDirectory(ctx context.Context, address, dir string, report progress.Func) error {
	if report == nil {
		report = progress.Nop
	}
	if d.Identity == nil {
		return errors.New("no ssh identity to log in to instances with")
	}
	keys, err := ReadPublicKeys(dir)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		report("no public keys in " + dir)
		return nil
	}

	port := d.Port
	if port == 0 {
		port = defaultPort
	}
	target := net.JoinHostPort(address, strconv.Itoa(port))
	client, err := d.dial(ctx, target)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return errors.Wrap(err, "opening ssh session")
	}
	defer session.Close()

	var lines []string
	for _, k := range keys {
		lines = append(lines, k.AuthorizedKey())
		report(fmt.Sprintf("adding key %s (%s)", k.Fingerprint(), k.Comment))
	}
	session.Stdin = strings.NewReader(strings.Join(lines, "\n") + "\n")
	out := progress.NewWriter(report)
	session.Stdout = out
	session.Stderr = out

	done := make(chan error, 1)
	go func() { done <- session.Run(appendMissingKeys) }()
	select {
	case err = <-done:
	case <-ctx.Done():
		client.Close()
		err = ctx.Err()
	}
	out.Close()
	if err != nil {
		return errors.Wrapf(err, "adding keys on %s", address)
	}
	if d.Logger != nil {
		d.Logger.Log("info", "keys added", "address", address, "count", len(keys))
	}
	return nil
}

func (d *Distributor) dial(ctx context.Context, target string) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: d.timeout()}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", target)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, target, d.config())
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "ssh handshake with %s", target)
	}
	return ssh.NewClient(c, chans, reqs), nil
}
