// Package discovery merges partially-reliable peer-discovery signals
// (relay push events, presence polls) into a single idempotent stream of
// connection attempts.
package discovery

import (
	"context"
	"time"
)

// PeerInfo is one discovered peer as reported by a Source.
type PeerInfo struct {
	UserID string
	Addr   string
	// LastSeen is the source's presence proof timestamp; zero means fresh
	// as of this read.
	LastSeen time.Time
}

// Source is a pull-based discovery channel. Each source carries its own
// staleness threshold: a server-backed poll goes stale in seconds, the
// announce channel only after an hour (it has no independent heartbeat
// between writes).
type Source interface {
	Name() string
	Peers(ctx context.Context) ([]PeerInfo, error)
	Staleness() time.Duration
}

// Announcer is the outward half of a discovery channel: it re-publishes the
// local participant so pull-based reconcilers converge within one interval,
// and withdraws the entry on shutdown (best-effort).
type Announcer interface {
	Announce(ctx context.Context) error
	Withdraw(ctx context.Context) error
}

// Clock abstracts time for staleness decisions.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
