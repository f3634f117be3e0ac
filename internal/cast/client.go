// SPDX-License-Identifier: GPL-3.0-only

package cast

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Lamarqe/mpdcast-dab/internal/log"
)

const (
	nsConnection = "urn:x-cast:com.google.cast.tp.connection"
	nsHeartbeat  = "urn:x-cast:com.google.cast.tp.heartbeat"
	nsReceiver   = "urn:x-cast:com.google.cast.receiver"
	nsMedia      = "urn:x-cast:com.google.cast.media"
)

const (
	senderID         = "sender-0"
	receiverPlatform = "receiver-0"
)

const (
	heartbeatInterval = 5 * time.Second
	heartbeatGrace    = 30 * time.Second
)

// ErrSessionLost is returned once the device connection is gone, whether
// by CLOSE, heartbeat starvation or a transport error.
var ErrSessionLost = errors.New("cast session lost")

// Client speaks the CASTv2 protocol over one TLS connection. Request
// correlation uses the requestId payload field; unsolicited media status
// events are delivered to the registered listener.
type Client struct {
	conn net.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	requestID int
	pending   map[int]chan json.RawMessage
	connected map[string]bool // transport ids with an open virtual connection
	lastPong  time.Time
	closed    bool

	onMediaStatus func(MediaStatus)

	done chan struct{}

	log zerolog.Logger
}

// Dial opens a CASTv2 session to addr ("host:port"). Chromecast presents
// a self-signed certificate, so verification is off.
func Dial(ctx context.Context, addr string) (*Client, error) {
	dialer := &tls.Dialer{Config: &tls.Config{InsecureSkipVerify: true}} // #nosec G402
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial chromecast %s: %w", addr, err)
	}
	return newClient(conn), nil
}

// newClient wraps an established connection, opens the platform virtual
// connection and starts the heartbeat.
func newClient(conn net.Conn) *Client {
	c := &Client{
		conn:      conn,
		pending:   make(map[int]chan json.RawMessage),
		connected: make(map[string]bool),
		lastPong:  time.Now(),
		done:      make(chan struct{}),
		log:       log.WithComponent("cast.client"),
	}
	go c.readLoop()
	go c.heartbeatLoop()
	_ = c.connect(receiverPlatform)
	return c
}

// OnMediaStatus registers the listener for unsolicited media status
// updates. Must be called before any media command.
func (c *Client) OnMediaStatus(fn func(MediaStatus)) {
	c.mu.Lock()
	c.onMediaStatus = fn
	c.mu.Unlock()
}

// Done is closed when the session is lost.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close tears the connection down. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
	return c.conn.Close()
}

// connect opens the virtual connection to a destination, once.
func (c *Client) connect(destination string) error {
	c.mu.Lock()
	already := c.connected[destination]
	c.connected[destination] = true
	c.mu.Unlock()
	if already {
		return nil
	}
	return c.send(nsConnection, destination, map[string]any{"type": "CONNECT"})
}

func (c *Client) send(namespace, destination string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := &castMessage{
		sourceID:      senderID,
		destinationID: destination,
		namespace:     namespace,
		payload:       string(body),
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := writeFrame(c.conn, msg); err != nil {
		return fmt.Errorf("send %s: %w", namespace, err)
	}
	return nil
}

// request sends a correlated command and waits for its answer.
func (c *Client) request(ctx context.Context, namespace, destination string, payload map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrSessionLost
	}
	c.requestID++
	id := c.requestID
	ch := make(chan json.RawMessage, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	payload["requestId"] = id
	if err := c.send(namespace, destination, payload); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrSessionLost
	case raw := <-ch:
		return raw, nil
	}
}

func (c *Client) readLoop() {
	for {
		msg, err := readFrame(c.conn)
		if err != nil {
			c.log.Debug().Err(err).Msg("cast connection read ended")
			_ = c.Close()
			return
		}
		c.handle(msg)
	}
}

type basePayload struct {
	Type      string `json:"type"`
	RequestID int    `json:"requestId"`
}

func (c *Client) handle(msg *castMessage) {
	var base basePayload
	if err := json.Unmarshal([]byte(msg.payload), &base); err != nil {
		c.log.Warn().Err(err).Str("namespace", msg.namespace).Msg("undecodable cast payload")
		return
	}

	switch base.Type {
	case "PING":
		_ = c.send(nsHeartbeat, msg.sourceID, map[string]any{"type": "PONG"})
		return
	case "PONG":
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return
	case "CLOSE":
		// The peer shut the virtual connection; treat it as session loss.
		c.log.Info().Str("event", "cast.closed").Str("source", msg.sourceID).Msg("cast peer closed connection")
		_ = c.Close()
		return
	case "MEDIA_STATUS":
		c.deliverMediaStatus([]byte(msg.payload))
	}

	if base.RequestID != 0 {
		c.mu.Lock()
		ch := c.pending[base.RequestID]
		c.mu.Unlock()
		if ch != nil {
			ch <- json.RawMessage(msg.payload)
		}
	}
}

func (c *Client) deliverMediaStatus(payload []byte) {
	var wrapper struct {
		Status []MediaStatus `json:"status"`
	}
	if err := json.Unmarshal(payload, &wrapper); err != nil || len(wrapper.Status) == 0 {
		return
	}
	c.mu.Lock()
	fn := c.onMediaStatus
	c.mu.Unlock()
	if fn != nil {
		fn(wrapper.Status[0])
	}
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			starved := time.Since(c.lastPong) > heartbeatGrace
			c.mu.Unlock()
			if starved {
				c.log.Warn().Str("event", "cast.heartbeat_lost").Msg("chromecast stopped answering pings")
				_ = c.Close()
				return
			}
			_ = c.send(nsHeartbeat, receiverPlatform, map[string]any{"type": "PING"})
		}
	}
}
