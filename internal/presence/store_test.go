package presence

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryStore_MissingRoomIsEmpty(t *testing.T) {
	s := NewMemoryStore(30*time.Second, &fakeClock{now: time.Unix(0, 0)})
	if got := s.ListActive(context.Background(), "nope", ""); len(got) != 0 {
		t.Fatalf("expected empty set for unknown room, got %d entries", len(got))
	}
}

func TestMemoryStore_ListExcludesCaller(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(30*time.Second, &fakeClock{now: time.Unix(0, 0)})

	s.RecordPresence(ctx, "r1", "alice", "r1-alice")
	s.RecordPresence(ctx, "r1", "bob", "r1-bob")

	got := s.ListActive(ctx, "r1", "alice")
	if len(got) != 1 || got[0].UserID != "bob" {
		t.Fatalf("expected only bob, got %+v", got)
	}
}

func TestMemoryStore_StaleEntriesSweptOnRead(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{now: time.Unix(1000, 0)}
	s := NewMemoryStore(30*time.Second, clk)

	s.RecordPresence(ctx, "r1", "alice", "r1-alice")
	clk.Advance(10 * time.Second)
	s.RecordPresence(ctx, "r1", "bob", "r1-bob")
	clk.Advance(25 * time.Second) // alice now 35s old, bob 25s

	got := s.ListActive(ctx, "r1", "")
	if len(got) != 1 || got[0].UserID != "bob" {
		t.Fatalf("expected stale alice evicted, got %+v", got)
	}
}

func TestMemoryStore_HeartbeatRefreshesLastSeen(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{now: time.Unix(1000, 0)}
	s := NewMemoryStore(30*time.Second, clk)

	s.RecordPresence(ctx, "r1", "alice", "r1-alice")
	clk.Advance(20 * time.Second)
	s.RecordPresence(ctx, "r1", "alice", "r1-alice") // heartbeat
	clk.Advance(20 * time.Second)                    // 40s since first, 20s since refresh

	got := s.ListActive(ctx, "r1", "")
	if len(got) != 1 || got[0].UserID != "alice" {
		t.Fatalf("expected refreshed alice to survive, got %+v", got)
	}
}

func TestMemoryStore_DuplicateDeviceEvicted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(30*time.Second, &fakeClock{now: time.Unix(0, 0)})

	// X2's signaling address embeds X1's userId: treated as the same device
	// reconnecting, so the older entry goes away.
	s.RecordPresence(ctx, "r1", "X1", "r1-X1")
	s.RecordPresence(ctx, "r1", "X2", "r1-X1-X2")

	got := s.ListActive(ctx, "r1", "")
	if len(got) != 1 || got[0].UserID != "X2" {
		t.Fatalf("expected only the later entry X2, got %+v", got)
	}
}

func TestMemoryStore_DuplicateEvictionOtherDirection(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(30*time.Second, &fakeClock{now: time.Unix(0, 0)})

	// The stored entry's address contains the new userId.
	s.RecordPresence(ctx, "r1", "abc", "r1-xyz-abc")
	s.RecordPresence(ctx, "r1", "xyz", "r1-xyz")

	got := s.ListActive(ctx, "r1", "")
	if len(got) != 1 || got[0].UserID != "xyz" {
		t.Fatalf("expected only the later entry xyz, got %+v", got)
	}
}

func TestMemoryStore_UnrelatedPeersCoexist(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(30*time.Second, &fakeClock{now: time.Unix(0, 0)})

	s.RecordPresence(ctx, "r1", "alice", "r1-alice")
	s.RecordPresence(ctx, "r1", "bob", "r1-bob")

	if got := s.ListActive(ctx, "r1", ""); len(got) != 2 {
		t.Fatalf("expected two distinct participants, got %+v", got)
	}
}

func TestMemoryStore_RemoveAndEmptyRoomGC(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(30*time.Second, &fakeClock{now: time.Unix(0, 0)})

	s.RecordPresence(ctx, "r1", "alice", "r1-alice")
	s.Remove(ctx, "r1", "alice")

	if got := s.ListActive(ctx, "r1", ""); len(got) != 0 {
		t.Fatalf("expected removed entry gone, got %+v", got)
	}
	s.mu.Lock()
	_, roomStillThere := s.rooms["r1"]
	s.mu.Unlock()
	if roomStillThere {
		t.Fatalf("expected empty room to be garbage collected")
	}
}

func TestMemoryStore_RoomsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(30*time.Second, &fakeClock{now: time.Unix(0, 0)})

	s.RecordPresence(ctx, "r1", "alice", "r1-alice")
	s.RecordPresence(ctx, "r2", "bob", "r2-bob")

	got := s.ListActive(ctx, "r1", "")
	if len(got) != 1 || got[0].UserID != "alice" {
		t.Fatalf("expected r1 to only contain alice, got %+v", got)
	}
}
