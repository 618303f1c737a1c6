// Package websocket carries the daemon's event stream to clients,
// one JSON-encoded event per text message.
package websocket

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/fluxcd/watchdog/pkg/event"
)

// Stream is one end of an event stream.
type Stream interface {
	Send(event.Event) error
	// Receive returns io.EOF once the other end has closed cleanly.
	Receive() (event.Event, error)
	Close() error
}

// IsClosed says whether err just means the other end went away.
func IsClosed(err error) bool {
	if err == io.EOF || err == io.ErrClosedPipe {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
	)
}

var upgrader = websocket.Upgrader{
	// The stream is read-only and unauthenticated, like the rest of
	// the API.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Accept upgrades a request to an event stream. On failure, a response
// has already been written.
func Accept(w http.ResponseWriter, r *http.Request) (Stream, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return keepAlive(conn), nil
}

// DialError is a handshake the server refused, e.g., because it isn't
// a watchdog.
type DialError struct {
	URL        string
	StatusCode int
}

func (err *DialError) Error() string {
	return fmt.Sprintf("connecting to event stream at %s: HTTP %d", err.URL, err.StatusCode)
}

// Dial connects to an event stream. An http or https URL is taken to
// mean ws or wss. TLS and proxy settings come from the client's
// transport, if it's an *http.Transport.
func Dial(ctx context.Context, client *http.Client, userAgent string, u *url.URL) (Stream, error) {
	target := *u
	switch target.Scheme {
	case "http":
		target.Scheme = "ws"
	case "https":
		target.Scheme = "wss"
	}

	d := &websocket.Dialer{
		HandshakeTimeout: client.Timeout,
		Jar:              client.Jar,
	}
	if t, ok := client.Transport.(*http.Transport); ok {
		d.TLSClientConfig = t.TLSClientConfig
		d.Proxy = t.Proxy
	}

	header := http.Header{}
	header.Set("User-Agent", userAgent)
	conn, resp, err := d.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			return nil, &DialError{URL: target.String(), StatusCode: resp.StatusCode}
		}
		return nil, errors.Wrapf(err, "connecting to event stream at %s", target.String())
	}
	return keepAlive(conn), nil
}
