// Package signalws is the participant side of the signaling relay: a
// WebSocket client that joins a room, dispatches relay events and sends
// offers/answers/candidates. Connection loss triggers reconnection with
// backoff; rejoining makes the relay re-broadcast user-connected so peers
// can re-establish stale sessions.
package signalws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mossy-p/video-rooms/internal/models"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Events are the relay-to-client callbacks. Nil members are skipped.
type Events struct {
	OnJoined           func()                                  // join ack received
	OnPeerConnected    func(userID string)                     // user-connected push
	OnPeerDisconnected func(userID string)                     // user-disconnected push
	OnOffer            func(from string, payload json.RawMessage)
	OnAnswer           func(from string, payload json.RawMessage)
	OnCandidate        func(from string, payload json.RawMessage)
	OnConnectionState  func(connected bool) // relay link up/down, for fallback switching
}

// Client is one participant's connection to the signaling relay.
type Client struct {
	wsURL  string
	roomID string
	userID string
	events Events
	log    *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// New builds a client for the relay at serverURL (http(s) or ws(s) scheme).
func New(serverURL, roomID, userID string, events Events, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	wsURL, err := signalURL(serverURL, roomID, userID)
	if err != nil {
		return nil, err
	}
	return &Client{
		wsURL:  wsURL,
		roomID: roomID,
		userID: userID,
		events: events,
		log:    logger,
	}, nil
}

func signalURL(serverURL, roomID, userID string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/signal/" + url.PathEscape(roomID)
	q := u.Query()
	q.Set("userId", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run dials the relay and consumes messages until ctx is cancelled,
// reconnecting with exponential backoff on loss. Each successful dial is a
// fresh join: the relay broadcasts user-connected for us again.
func (c *Client) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
		if err != nil {
			c.log.Warn("relay dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.log.Info("relay connected", zap.String("room", c.roomID))
		if c.events.OnConnectionState != nil {
			c.events.OnConnectionState(true)
		}

		c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		if c.events.OnConnectionState != nil {
			c.events.OnConnectionState(false)
		}
	}
}

// readLoop consumes until the connection dies or ctx is cancelled. The
// cancellation watcher is scoped to this connection so reconnect cycles do
// not pile up goroutines.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var msg models.SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				c.log.Warn("relay read failed", zap.Error(err))
			}
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg models.SignalMessage) {
	switch msg.Type {
	case models.SignalTypeJoin:
		if c.events.OnJoined != nil {
			c.events.OnJoined()
		}
	case models.SignalTypeConnected:
		if c.events.OnPeerConnected != nil {
			c.events.OnPeerConnected(msg.From)
		}
	case models.SignalTypeDisconnected:
		if c.events.OnPeerDisconnected != nil {
			c.events.OnPeerDisconnected(msg.From)
		}
	case models.SignalTypeOffer:
		if c.events.OnOffer != nil {
			c.events.OnOffer(msg.From, msg.Payload)
		}
	case models.SignalTypeAnswer:
		if c.events.OnAnswer != nil {
			c.events.OnAnswer(msg.From, msg.Payload)
		}
	case models.SignalTypeCandidate:
		if c.events.OnCandidate != nil {
			c.events.OnCandidate(msg.From, msg.Payload)
		}
	default:
		c.log.Debug("unknown relay message", zap.String("type", string(msg.Type)))
	}
}

// Close tears down the current connection, if any.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// SendOffer implements session.Signaler.
func (c *Client) SendOffer(to string, payload json.RawMessage) error {
	return c.send(models.SignalMessage{Type: models.SignalTypeOffer, To: to, Payload: payload})
}

// SendAnswer implements session.Signaler.
func (c *Client) SendAnswer(to string, payload json.RawMessage) error {
	return c.send(models.SignalMessage{Type: models.SignalTypeAnswer, To: to, Payload: payload})
}

// SendCandidate implements session.Signaler.
func (c *Client) SendCandidate(to string, payload json.RawMessage) error {
	return c.send(models.SignalMessage{Type: models.SignalTypeCandidate, To: to, Payload: payload})
}

// send serializes writes; gorilla connections allow one concurrent writer.
func (c *Client) send(msg models.SignalMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("relay not connected")
	}
	msg.RoomID = c.roomID
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("relay write: %w", err)
	}
	return nil
}
