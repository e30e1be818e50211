package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/video-rooms/internal/models"
)

// roomTTL bounds how long abandoned room metadata survives. Presence
// entries under the same room age out separately on their own threshold.
const roomTTL = 24 * time.Hour

// RedisDirectory keeps room metadata in Redis so room links survive server
// restarts and are visible across server processes.
type RedisDirectory struct {
	client *redis.Client
}

// NewRedisDirectory creates a RedisDirectory over the given client.
func NewRedisDirectory(client *redis.Client) *RedisDirectory {
	return &RedisDirectory{client: client}
}

func roomKey(roomID string) string { return "room:" + roomID }
func codeKey(code string) string   { return "code:" + code }

func (d *RedisDirectory) Create(ctx context.Context, room *models.RoomMetadata) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room: %w", err)
	}
	if err := d.client.Set(ctx, roomKey(room.ID), data, roomTTL).Err(); err != nil {
		return fmt.Errorf("store room: %w", err)
	}
	if err := d.client.Set(ctx, codeKey(room.Code), room.ID, roomTTL).Err(); err != nil {
		return fmt.Errorf("store room code: %w", err)
	}
	return nil
}

func (d *RedisDirectory) Lookup(ctx context.Context, codeOrID string) (*models.RoomMetadata, error) {
	id := codeOrID
	if len(codeOrID) == CodeLength {
		mapped, err := d.client.Get(ctx, codeKey(codeOrID)).Result()
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("resolve room code: %w", err)
		}
		id = mapped
	}

	data, err := d.client.Get(ctx, roomKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch room: %w", err)
	}

	var room models.RoomMetadata
	if err := json.Unmarshal([]byte(data), &room); err != nil {
		return nil, fmt.Errorf("parse room: %w", err)
	}
	return &room, nil
}

func (d *RedisDirectory) Delete(ctx context.Context, room *models.RoomMetadata) error {
	if err := d.client.Del(ctx, roomKey(room.ID), codeKey(room.Code)).Err(); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}
