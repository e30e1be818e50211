package discovery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ChannelStaleness is deliberately long: entries on this channel are only
// refreshed when their owner re-announces, so a short threshold would evict
// quiet-but-live peers.
const ChannelStaleness = time.Hour

// RedisChannel is a write-your-own-entry, read-others discovery channel
// over Redis pub/sub. It covers peers that share a Redis (same host,
// multiple agent processes) without a server round trip.
type RedisChannel struct {
	client *redis.Client
	roomID string
	userID string
	addr   string
	clock  Clock
	log    *zap.Logger

	mu   sync.Mutex
	seen map[string]PeerInfo
}

type channelEntry struct {
	ID        string `json:"id"`
	PeerID    string `json:"peerId,omitempty"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	Gone      bool   `json:"gone,omitempty"`
}

// NewRedisChannel creates the channel for one participant. Call Listen to
// start consuming announcements.
func NewRedisChannel(client *redis.Client, roomID, userID, addr string, logger *zap.Logger) *RedisChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisChannel{
		client: client,
		roomID: roomID,
		userID: userID,
		addr:   addr,
		clock:  systemClock{},
		log:    logger,
		seen:   make(map[string]PeerInfo),
	}
}

func (c *RedisChannel) channelName() string {
	return "room:" + c.roomID + ":announce"
}

// Listen consumes announcements until ctx is cancelled. Parse failures are
// transient: logged and skipped.
func (c *RedisChannel) Listen(ctx context.Context) {
	sub := c.client.Subscribe(ctx, c.channelName())
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var entry channelEntry
			if err := json.Unmarshal([]byte(msg.Payload), &entry); err != nil {
				c.log.Debug("announce parse failed", zap.Error(err))
				continue
			}
			c.apply(entry)
		}
	}
}

func (c *RedisChannel) apply(entry channelEntry) {
	if entry.ID == "" || entry.ID == c.userID {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry.Gone {
		delete(c.seen, entry.ID)
		return
	}
	c.seen[entry.ID] = PeerInfo{
		UserID:   entry.ID,
		Addr:     entry.PeerID,
		LastSeen: time.UnixMilli(entry.Timestamp),
	}
}

func (c *RedisChannel) Name() string             { return "announce" }
func (c *RedisChannel) Staleness() time.Duration { return ChannelStaleness }

// Peers returns the cached announcements, sweeping entries past the
// channel's staleness threshold.
func (c *RedisChannel) Peers(context.Context) ([]PeerInfo, error) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PeerInfo, 0, len(c.seen))
	for id, p := range c.seen {
		if now.Sub(p.LastSeen) >= ChannelStaleness {
			delete(c.seen, id)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Announce publishes the local entry.
func (c *RedisChannel) Announce(ctx context.Context) error {
	return c.publish(ctx, channelEntry{
		ID:        c.userID,
		PeerID:    c.addr,
		Timestamp: c.clock.Now().UnixMilli(),
	})
}

// Withdraw publishes a tombstone so other listeners drop the local entry
// immediately instead of waiting out the staleness threshold.
func (c *RedisChannel) Withdraw(ctx context.Context) error {
	return c.publish(ctx, channelEntry{
		ID:        c.userID,
		Timestamp: c.clock.Now().UnixMilli(),
		Gone:      true,
	})
}

func (c *RedisChannel) publish(ctx context.Context, entry channelEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, c.channelName(), data).Err()
}
