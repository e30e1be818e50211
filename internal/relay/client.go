package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/video-rooms/internal/models"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Client represents one WebSocket connection in a room.
type Client struct {
	ID     string
	RoomID string
	Conn   *websocket.Conn
	Send   chan []byte

	relay    *Relay
	downOnce sync.Once
}

// readPump consumes signaling messages from the connection and routes them.
// Messages from one sender reach each recipient in send order: the
// connection is read serially and each recipient has a single ordered send
// channel.
func (c *Client) readPump(room *Room) {
	defer c.teardown(room)

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg models.SignalMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Failed to parse message: %v", err)
			continue
		}

		// The relay stamps the sender; clients cannot spoof From
		msg.From = c.ID
		msg.RoomID = c.RoomID

		// Relay traffic counts as a presence proof
		c.relay.store.RecordPresence(context.Background(), c.RoomID, c.ID, signalingAddress(c.RoomID, c.ID))

		switch msg.Type {
		case models.SignalTypeOffer, models.SignalTypeAnswer, models.SignalTypeCandidate:
			// Forward to the named peer when addressed; otherwise
			// over-broadcast and let receivers filter by relevance
			if msg.To != "" {
				room.sendToClient(msg, msg.To)
			} else {
				room.broadcastMessage(msg, c.ID)
			}
		default:
			log.Printf("Unknown message type: %s", msg.Type)
		}
	}
}

// teardown fires exactly once per connection, whether the close was explicit
// or the transport died abruptly.
func (c *Client) teardown(room *Room) {
	c.downOnce.Do(func() {
		current := room.removeClient(c)
		c.Conn.Close()

		// A superseded connection's departure says nothing about the
		// participant: a newer connection for the same userId owns the
		// presence entry and the membership now
		if !current {
			log.Printf("Superseded connection for peer %s closed", c.ID)
			return
		}

		c.relay.store.Remove(context.Background(), c.RoomID, c.ID)

		room.broadcastMessage(models.SignalMessage{
			Type:   models.SignalTypeDisconnected,
			From:   c.ID,
			RoomID: c.RoomID,
		}, c.ID)

		log.Printf("Peer %s left room %s", c.ID, c.RoomID)
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendMessage(msg models.SignalMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal message: %v", err)
		return
	}

	select {
	case c.Send <- data:
	default:
		log.Printf("Failed to send message to peer %s, buffer full", c.ID)
	}
}
