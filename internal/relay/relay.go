// Package relay groups WebSocket connections by room and forwards signaling
// messages between members without inspecting payloads. It holds no state
// beyond the live connection-to-room mapping; liveness comes from the
// transport's ping/pong and membership is mirrored into the presence store.
package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mossy-p/video-rooms/internal/models"
	"github.com/mossy-p/video-rooms/internal/presence"
)

// Relay owns the room map. One instance serves the whole process.
type Relay struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	store presence.Store
}

// Room manages the broadcast group for one roomId.
type Room struct {
	ID    string
	Peers map[string]*Client
	mu    sync.RWMutex

	relay *Relay
}

// New creates a Relay backed by the given presence store.
func New(store presence.Store) *Relay {
	return &Relay{
		rooms: make(map[string]*Room),
		store: store,
	}
}

// Join adds the connection to the room's broadcast group, records presence,
// notifies the other members with user-connected and starts the connection's
// read/write pumps. The returned client is owned by the relay from here on.
func (r *Relay) Join(roomID, userID string, conn *websocket.Conn) *Client {
	client := &Client{
		ID:     userID,
		RoomID: roomID,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		relay:  r,
	}

	room := r.getOrCreateRoom(roomID)
	if prev := room.addClient(client); prev != nil {
		// Same userId rejoined before the old connection died; the new
		// record supersedes the old one, whose teardown must not touch it
		log.Printf("Peer %s rejoined room %s, superseding old connection", userID, roomID)
		prev.Conn.Close()
	}

	r.store.RecordPresence(context.Background(), roomID, userID, signalingAddress(roomID, userID))

	log.Printf("Peer %s joined room %s", userID, roomID)

	// Join confirmation to the joiner; user-connected to everyone else
	client.sendMessage(models.SignalMessage{
		Type:   models.SignalTypeJoin,
		From:   userID,
		RoomID: roomID,
	})
	room.broadcastMessage(models.SignalMessage{
		Type:   models.SignalTypeConnected,
		From:   userID,
		RoomID: roomID,
	}, userID)

	go client.writePump()
	go client.readPump(room)

	return client
}

// MemberCount returns the number of live connections in the room.
func (r *Relay) MemberCount(roomID string) int {
	r.mu.RLock()
	room, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.Peers)
}

func (r *Relay) getOrCreateRoom(roomID string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[roomID]
	if !exists {
		room = &Room{
			ID:    roomID,
			Peers: make(map[string]*Client),
			relay: r,
		}
		r.rooms[roomID] = room
		log.Printf("Created new room: %s", roomID)
	}
	return room
}

// addClient installs the client as the room's connection for its userId and
// returns the displaced connection, if one was still registered.
func (ro *Room) addClient(client *Client) *Client {
	ro.mu.Lock()
	defer ro.mu.Unlock()
	prev := ro.Peers[client.ID]
	ro.Peers[client.ID] = client
	return prev
}

// removeClient drops the client from the room and reports whether it was
// still the registered connection for its userId. A superseded connection
// finds a newer client under its ID and must leave it alone.
func (ro *Room) removeClient(client *Client) bool {
	ro.mu.Lock()
	defer ro.mu.Unlock()
	if ro.Peers[client.ID] != client {
		return false
	}
	delete(ro.Peers, client.ID)

	// Clean up room if empty
	if len(ro.Peers) == 0 {
		ro.relay.mu.Lock()
		delete(ro.relay.rooms, ro.ID)
		ro.relay.mu.Unlock()
		log.Printf("Removed empty room: %s", ro.ID)
	}
	return true
}

func (ro *Room) broadcastMessage(msg models.SignalMessage, excludePeerID string) {
	ro.mu.RLock()
	defer ro.mu.RUnlock()

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal message: %v", err)
		return
	}

	for peerID, client := range ro.Peers {
		if peerID != excludePeerID {
			select {
			case client.Send <- data:
			default:
				log.Printf("Failed to send message to peer %s, buffer full", peerID)
			}
		}
	}
}

func (ro *Room) sendToClient(msg models.SignalMessage, targetPeerID string) {
	ro.mu.RLock()
	defer ro.mu.RUnlock()

	client, exists := ro.Peers[targetPeerID]
	if !exists {
		log.Printf("Target peer %s not found in room %s", targetPeerID, ro.ID)
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal message: %v", err)
		return
	}

	select {
	case client.Send <- data:
	default:
		log.Printf("Failed to send message to peer %s, buffer full", targetPeerID)
	}
}

// signalingAddress derives the routing endpoint the fallback discovery path
// uses for a participant.
func signalingAddress(roomID, userID string) string {
	return roomID + "-" + userID
}
