// Package redis dials the server's shared Redis backing for presence and
// room state. The server degrades to in-process stores when it is
// unreachable, so connection failure is a caller decision, not a fatal.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mossy-p/video-rooms/config"
)

const dialTimeout = 5 * time.Second

// New connects and verifies the backing is reachable. The caller owns the
// returned client and its lifetime.
func New(cfg config.RedisConfig) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
