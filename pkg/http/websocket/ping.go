package websocket

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fluxcd/watchdog/pkg/event"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer. Needs
	// to be less than the idle timeout of any proxy in front of the
	// daemon.
	pongWait = 30 * time.Second

	// Must be less than pongWait, leaving time for the pong to be
	// written and to come back.
	pingPeriod = ((pongWait - writeWait) * 2 / 3)
)

// stream is a connection with a periodic ping, and a read deadline
// that each pong extends, so that a peer that has gone away is noticed
// even when there are no events.
type stream struct {
	pinger    *time.Timer
	readLock  sync.Mutex
	writeLock sync.Mutex
	conn      *websocket.Conn
}

func keepAlive(c *websocket.Conn) *stream {
	p := &stream{conn: c}
	p.conn.SetPongHandler(p.pong)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.pinger = time.AfterFunc(pingPeriod, p.ping)
	return p
}

func (p *stream) ping() {
	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		p.conn.Close()
		return
	}
	p.pinger.Reset(pingPeriod)
}

func (p *stream) pong(string) error {
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	return nil
}

func (p *stream) Receive() (event.Event, error) {
	p.readLock.Lock()
	defer p.readLock.Unlock()

	for {
		msgType, msg, err := p.conn.ReadMessage()
		if err != nil {
			if IsClosed(err) {
				return event.Event{}, io.EOF
			}
			return event.Event{}, err
		}
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		var e event.Event
		err = json.Unmarshal(msg, &e)
		return e, err
	}
}

func (p *stream) Send(e event.Event) error {
	msg, err := json.Marshal(e)
	if err != nil {
		return err
	}
	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.TextMessage, msg)
}

func (p *stream) Close() error {
	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	p.pinger.Stop()
	if err := p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "ok"), time.Now().Add(writeWait)); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
