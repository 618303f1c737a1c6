package ssh

import (
	"context"
	"crypto/rand"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"
	"golang.org/x/crypto/ssh"
)

func newSigner(t *testing.T) ssh.Signer {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

func writeKey(t *testing.T, dir, name, comment string) ssh.PublicKey {
	key := newSigner(t).PublicKey()
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key))) + " " + comment + "\n"
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, name), []byte(line), 0644))
	return key
}

func keysDir(t *testing.T) (string, func()) {
	dir, err := ioutil.TempDir("", "watchdog-keys")
	require.NoError(t, err)
	return dir, func() { os.RemoveAll(dir) }
}

func TestReadPublicKeys(t *testing.T) {
	dir, cleanup := keysDir(t)
	defer cleanup()

	b := writeKey(t, dir, "b.pub", "bob@example.com")
	a := writeKey(t, dir, "a.pub", "alice@example.com")
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "a"), []byte("PRIVATE, NOT FOR READING"), 0600))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "empty.pub"), nil, 0644))

	keys, err := ReadPublicKeys(dir)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, a.Marshal(), keys[0].Key.Marshal())
	assert.Equal(t, "alice@example.com", keys[0].Comment)
	assert.Equal(t, b.Marshal(), keys[1].Key.Marshal())
	assert.True(t, strings.HasPrefix(keys[0].AuthorizedKey(), "ssh-ed25519 "))
	assert.True(t, strings.HasSuffix(keys[0].AuthorizedKey(), " alice@example.com"))
	assert.True(t, strings.HasPrefix(keys[0].Fingerprint(), "SHA256:"))
}

func TestReadPublicKeys_Malformed(t *testing.T) {
	dir, cleanup := keysDir(t)
	defer cleanup()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "bad.pub"), []byte("not a key"), 0644))
	_, err := ReadPublicKeys(dir)
	assert.Error(t, err)
}

// instance is an ssh server that accepts any key, and records what
// is sent to the command it's asked to run.
func instance(t *testing.T, authorised ssh.PublicKey) (port int, received chan string, stop func()) {
	config := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) != string(authorised.Marshal()) {
				return nil, assert.AnError
			}
			return nil, nil
		},
	}
	config.AddHostKey(newSigner(t))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	received = make(chan string, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, chans, reqs, err := ssh.NewServerConn(conn, config)
		if err != nil {
			return
		}
		go ssh.DiscardRequests(reqs)
		for newCh := range chans {
			if newCh.ChannelType() != "session" {
				newCh.Reject(ssh.UnknownChannelType, "sessions only")
				continue
			}
			ch, requests, err := newCh.Accept()
			if err != nil {
				return
			}
			go func() {
				for req := range requests {
					if req.Type != "exec" {
						req.Reply(false, nil)
						continue
					}
					req.Reply(true, nil)
					data, _ := ioutil.ReadAll(ch)
					received <- string(data)
					ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
					ch.Close()
				}
			}()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port, received, func() { ln.Close() }
}

func TestAddKeysFromDirectory(t *testing.T) {
	dir, cleanup := keysDir(t)
	defer cleanup()
	writeKey(t, dir, "alice.pub", "alice@example.com")
	writeKey(t, dir, "bob.pub", "bob@example.com")

	identity := newSigner(t)
	port, received, stop := instance(t, identity.PublicKey())
	defer stop()

	d := &Distributor{Identity: identity, Port: port}
	var lines []string
	err := d.AddKeysFromDirectory(context.Background(), "127.0.0.1", dir, func(l string) { lines = append(lines, l) })
	require.NoError(t, err)

	got := <-received
	assert.Contains(t, got, "alice@example.com")
	assert.Contains(t, got, "bob@example.com")
	assert.Equal(t, 2, strings.Count(got, "\n"))
	assert.Len(t, lines, 2)
}

func TestAddKeysFromDirectory_Unauthorised(t *testing.T) {
	dir, cleanup := keysDir(t)
	defer cleanup()
	writeKey(t, dir, "alice.pub", "alice@example.com")

	port, _, stop := instance(t, newSigner(t).PublicKey())
	defer stop()

	d := &Distributor{Identity: newSigner(t), Port: port}
	assert.Error(t, d.AddKeysFromDirectory(context.Background(), "127.0.0.1", dir, nil))
}

func TestAddKeysFromDirectory_NoKeys(t *testing.T) {
	dir, cleanup := keysDir(t)
	defer cleanup()
	d := &Distributor{Identity: newSigner(t), Port: 1}
	assert.NoError(t, d.AddKeysFromDirectory(context.Background(), "127.0.0.1", dir, nil))
}
