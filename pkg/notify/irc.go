package notify

import (
	"context"
	"crypto/tls"
	stdlog "log"
	"net"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	irc "github.com/thoj/go-ircevent"
)

const (
	defaultIdle   = time.Second
	rplWelcome    = "001"
	rplEndOfNames = "366"
)

// ircConn is the part of *irc.Connection used here.
type ircConn interface {
	AddCallback(code string, callback func(*irc.Event)) int
	Connect(server string) error
	Loop()
	Join(channel string)
	Privmsg(target, message string)
	Quit()
}

// IRC says messages in a channel. It connects when there's something
// to say, and disconnects once it's been idle for a while, so that
// the watchdog isn't a permanent resident of the channel.
type IRC struct {
	Server  string
	Channel string
	Nick    string
	UseTLS  bool
	// Idle is how long to stay connected after the last message.
	Idle   time.Duration
	Logger log.Logger

	dial func() ircConn

	mu     sync.Mutex
	conn   ircConn
	joined chan struct{}
	idle   *time.Timer
}

func (i *IRC) connection() ircConn {
	if i.dial != nil {
		return i.dial()
	}
	c := irc.IRC(i.Nick, i.Nick)
	if c == nil {
		return nil
	}
	c.UseTLS = i.UseTLS
	if i.UseTLS {
		c.TLSConfig = &tls.Config{ServerName: hostOnly(i.Server)}
	}
	if i.Logger != nil {
		c.Log = stdlog.New(log.NewStdlibAdapter(log.With(i.Logger, "irc", i.Server)), "", 0)
	}
	return c
}

func (i *IRC) Notify(ctx context.Context, msg Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.conn == nil {
		if err := i.connect(); err != nil {
			return err
		}
	}
	select {
	case <-i.joined:
	case <-ctx.Done():
		i.disconnect()
		return errors.Wrapf(ctx.Err(), "joining %s on %s", i.Channel, i.Server)
	}
	i.conn.Privmsg(i.Channel, msg.Text)

	idle := i.Idle
	if idle == 0 {
		idle = defaultIdle
	}
	if i.idle != nil {
		i.idle.Stop()
	}
	conn := i.conn
	i.idle = time.AfterFunc(idle, func() {
		i.mu.Lock()
		defer i.mu.Unlock()
		// only if nobody reconnected in the meantime
		if i.conn == conn {
			i.disconnect()
		}
	})
	return nil
}

func (i *IRC) connect() error {
	conn := i.connection()
	if conn == nil {
		return errors.New("IRC nick not configured")
	}
	joined := make(chan struct{})
	var once sync.Once
	conn.AddCallback(rplWelcome, func(*irc.Event) {
		conn.Join(i.Channel)
	})
	conn.AddCallback(rplEndOfNames, func(*irc.Event) {
		once.Do(func() { close(joined) })
	})
	if err := conn.Connect(i.Server); err != nil {
		return errors.Wrapf(err, "connecting to IRC server %s", i.Server)
	}
	go conn.Loop()
	i.conn = conn
	i.joined = joined
	return nil
}

func (i *IRC) disconnect() {
	if i.conn == nil {
		return
	}
	i.conn.Quit()
	i.conn = nil
	i.joined = nil
}

// Connected says whether there's currently a connection.
func (i *IRC) Connected() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.conn != nil
}

func hostOnly(server string) string {
	if host, _, err := net.SplitHostPort(server); err == nil {
		return host
	}
	return server
}
