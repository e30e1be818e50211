// Package presence tracks which participants are currently active in each
// room. It backs both the relay's join/leave bookkeeping and the fallback
// HTTP discovery API. Entries go stale after a threshold and are swept
// lazily on read; store operations never fail the caller.
package presence

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mossy-p/video-rooms/internal/models"
)

// Clock abstracts time for staleness checks.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// Store is the presence contract shared by the in-memory and Redis
// implementations. A missing room reads as an empty set, not an error.
type Store interface {
	// RecordPresence upserts a participant with lastSeen = now. An existing
	// entry under a different userId that looks like the same device
	// reconnecting (see duplicateOf) is evicted first; the later entry wins.
	RecordPresence(ctx context.Context, roomID, userID, signalingAddress string)

	// ListActive sweeps stale entries, then returns every remaining
	// participant in the room except excludeUserID.
	ListActive(ctx context.Context, roomID, excludeUserID string) []models.Participant

	// Remove deletes the participant's entry if present.
	Remove(ctx context.Context, roomID, userID string)
}

// duplicateOf reports whether an existing entry should be treated as an
// older record of the same device as a newly upserted one. The containment
// check is a coarse heuristic (derived addresses embed "roomId-userId"), not
// a guaranteed-correct dedup mechanism; what matters is that the later entry
// wins and the older conflicting one is evicted.
func duplicateOf(newUserID, newAddr, oldUserID, oldAddr string) bool {
	if newUserID == oldUserID || oldUserID == "" || newUserID == "" {
		return false
	}
	if newAddr != "" && strings.Contains(newAddr, oldUserID) {
		return true
	}
	if oldAddr != "" && strings.Contains(oldAddr, newUserID) {
		return true
	}
	return false
}

// MemoryStore is the process-local Store used when the server runs without
// Redis, and by tests.
type MemoryStore struct {
	mu    sync.Mutex
	stale time.Duration
	clock Clock
	rooms map[string]map[string]*models.Participant
}

// NewMemoryStore creates a MemoryStore with the given staleness threshold.
// A nil clock means the system clock.
func NewMemoryStore(stale time.Duration, clock Clock) *MemoryStore {
	if clock == nil {
		clock = systemClock{}
	}
	return &MemoryStore{
		stale: stale,
		clock: clock,
		rooms: make(map[string]map[string]*models.Participant),
	}
}

func (s *MemoryStore) RecordPresence(_ context.Context, roomID, userID, signalingAddress string) {
	if roomID == "" || userID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		room = make(map[string]*models.Participant)
		s.rooms[roomID] = room
	}

	// Evict older entries that look like the same device reconnecting
	for id, p := range room {
		if duplicateOf(userID, signalingAddress, id, p.SignalingAddress) {
			delete(room, id)
		}
	}

	room[userID] = &models.Participant{
		UserID:           userID,
		RoomID:           roomID,
		SignalingAddress: signalingAddress,
		LastSeen:         s.clock.Now(),
	}
}

func (s *MemoryStore) ListActive(_ context.Context, roomID, excludeUserID string) []models.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}

	now := s.clock.Now()
	for id, p := range room {
		if now.Sub(p.LastSeen) >= s.stale {
			delete(room, id)
		}
	}
	if len(room) == 0 {
		delete(s.rooms, roomID)
		return nil
	}

	out := make([]models.Participant, 0, len(room))
	for id, p := range room {
		if id == excludeUserID {
			continue
		}
		out = append(out, *p)
	}
	return out
}

func (s *MemoryStore) Remove(_ context.Context, roomID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(s.rooms, roomID)
	}
}
