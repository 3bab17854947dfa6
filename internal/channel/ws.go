package channel

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

// WSChannel is a client connection to a relay room over websocket. On read
// failure it redials with exponential backoff; publishes while disconnected
// fail fast (broadcast is best effort, persistence is the backstop).
type WSChannel struct {
	dialURL string
	peerID  string
	events  chan Envelope

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	reconnect func()

	done chan struct{}
}

// DialRoom connects to relayURL (e.g. "ws://host:8080") for the given room.
func DialRoom(relayURL, roomID, peerID string) (*WSChannel, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("room", roomID)
	q.Set("peer", peerID)
	u.RawQuery = q.Encode()

	c := &WSChannel{
		dialURL: u.String(),
		peerID:  peerID,
		events:  make(chan Envelope, 64),
		done:    make(chan struct{}),
	}
	conn, _, err := websocket.DefaultDialer.Dial(c.dialURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	c.setConn(conn)

	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// OnReconnect registers a hook invoked after every successful redial. The
// session uses it to trigger a resync, since anything broadcast while the
// connection was down is gone for good.
func (c *WSChannel) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnect = fn
}

// Connected reports whether the underlying connection is currently live.
func (c *WSChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *WSChannel) Publish(ctx context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	if env.Sender == "" {
		env.Sender = c.peerID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected {
		return fmt.Errorf("channel not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(env)
}

func (c *WSChannel) Events() <-chan Envelope {
	return c.events
}

func (c *WSChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		conn.Close()
	}
	return nil
}

func (c *WSChannel) setConn(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
}

func (c *WSChannel) readLoop() {
	defer close(c.events)
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				break
			}
			if env.Validate() != nil || env.Sender == c.peerID {
				continue
			}
			select {
			case c.events <- env:
			case <-c.done:
				return
			}
		}

		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		conn.Close()

		if !c.redial() {
			return
		}
	}
}

// redial blocks until a new connection is established or the channel is
// closed. Returns false when closed.
func (c *WSChannel) redial() bool {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry until closed

	for {
		select {
		case <-c.done:
			return false
		case <-time.After(bo.NextBackOff()):
		}

		conn, _, err := websocket.DefaultDialer.Dial(c.dialURL, nil)
		if err != nil {
			log.Printf("channel: redial failed: %v", err)
			continue
		}
		c.setConn(conn)

		c.mu.Lock()
		hook := c.reconnect
		c.mu.Unlock()
		if hook != nil {
			hook()
		}
		return true
	}
}

func (c *WSChannel) pingLoop() {
	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != nil && c.connected {
				c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.mu.Unlock()
		}
	}
}
