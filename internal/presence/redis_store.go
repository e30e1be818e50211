package presence

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/video-rooms/internal/models"
)

const roomKeyTTL = 24 * time.Hour

// RedisStore keeps presence in a Redis hash per room so that the presence
// API and the relay agree on membership across server restarts. Redis
// failures are logged and read as empty results; callers never see them.
type RedisStore struct {
	client *redis.Client
	stale  time.Duration
	clock  Clock
}

type redisEntry struct {
	PeerID   string `json:"peerId,omitempty"`
	LastSeen int64  `json:"lastSeen"` // unix milliseconds
}

// NewRedisStore creates a RedisStore with the given staleness threshold.
// A nil clock means the system clock.
func NewRedisStore(client *redis.Client, stale time.Duration, clock Clock) *RedisStore {
	if clock == nil {
		clock = systemClock{}
	}
	return &RedisStore{client: client, stale: stale, clock: clock}
}

func presenceKey(roomID string) string {
	return "room:" + roomID + ":presence"
}

func (s *RedisStore) RecordPresence(ctx context.Context, roomID, userID, signalingAddress string) {
	if roomID == "" || userID == "" {
		return
	}
	key := presenceKey(roomID)

	// Read-modify-write; concurrent writers race last-writer-wins, which is
	// acceptable for a best-effort presence channel.
	existing, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		log.Printf("presence: read %s failed: %v", key, err)
		existing = nil
	}

	var evict []string
	for id, raw := range existing {
		var e redisEntry
		if json.Unmarshal([]byte(raw), &e) != nil {
			evict = append(evict, id) // unparseable entry, drop it
			continue
		}
		if duplicateOf(userID, signalingAddress, id, e.PeerID) {
			evict = append(evict, id)
		}
	}
	if len(evict) > 0 {
		if err := s.client.HDel(ctx, key, evict...).Err(); err != nil {
			log.Printf("presence: evict from %s failed: %v", key, err)
		}
	}

	data, err := json.Marshal(redisEntry{
		PeerID:   signalingAddress,
		LastSeen: s.clock.Now().UnixMilli(),
	})
	if err != nil {
		log.Printf("presence: marshal entry failed: %v", err)
		return
	}
	if err := s.client.HSet(ctx, key, userID, data).Err(); err != nil {
		log.Printf("presence: upsert %s failed: %v", key, err)
		return
	}
	s.client.Expire(ctx, key, roomKeyTTL)
}

func (s *RedisStore) ListActive(ctx context.Context, roomID, excludeUserID string) []models.Participant {
	key := presenceKey(roomID)
	entries, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		log.Printf("presence: read %s failed: %v", key, err)
		return nil
	}

	now := s.clock.Now()
	var stale []string
	out := make([]models.Participant, 0, len(entries))
	for id, raw := range entries {
		var e redisEntry
		if json.Unmarshal([]byte(raw), &e) != nil {
			stale = append(stale, id)
			continue
		}
		lastSeen := time.UnixMilli(e.LastSeen)
		if now.Sub(lastSeen) >= s.stale {
			stale = append(stale, id)
			continue
		}
		if id == excludeUserID {
			continue
		}
		out = append(out, models.Participant{
			UserID:           id,
			RoomID:           roomID,
			SignalingAddress: e.PeerID,
			LastSeen:         lastSeen,
		})
	}
	if len(stale) > 0 {
		if err := s.client.HDel(ctx, key, stale...).Err(); err != nil {
			log.Printf("presence: sweep %s failed: %v", key, err)
		}
	}
	return out
}

func (s *RedisStore) Remove(ctx context.Context, roomID, userID string) {
	if err := s.client.HDel(ctx, presenceKey(roomID), userID).Err(); err != nil {
		log.Printf("presence: remove %s from %s failed: %v", userID, roomID, err)
	}
}
