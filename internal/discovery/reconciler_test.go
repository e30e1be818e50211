package discovery

import (
	"context"
	"errors"
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

type fakeSessions struct {
	mu        sync.Mutex
	engaged   map[string]bool
	initiated []string
	closed    []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{engaged: make(map[string]bool)}
}

func (s *fakeSessions) Initiate(_ context.Context, remoteID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initiated = append(s.initiated, remoteID)
	s.engaged[remoteID] = true
}

func (s *fakeSessions) Engaged(remoteID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engaged[remoteID]
}

func (s *fakeSessions) Close(remoteID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, remoteID)
	delete(s.engaged, remoteID)
}

func (s *fakeSessions) initiations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.initiated...)
}

type fakeSource struct {
	name      string
	staleness time.Duration
	peers     []PeerInfo
	err       error
}

func (f *fakeSource) Name() string                              { return f.name }
func (f *fakeSource) Staleness() time.Duration                  { return f.staleness }
func (f *fakeSource) Peers(context.Context) ([]PeerInfo, error) { return f.peers, f.err }

type fakeAnnouncer struct {
	mu        sync.Mutex
	announces int
	withdraws int
}

func (f *fakeAnnouncer) Announce(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announces++
	return nil
}

func (f *fakeAnnouncer) Withdraw(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdraws++
	return nil
}

func never(int) int  { return 1 } // rng that never samples the announce branch
func always(int) int { return 0 }

func TestTick_InitiatesTowardDiscoveredPeers(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	sessions := newFakeSessions()
	src := &fakeSource{name: "poll", staleness: 30 * time.Second, peers: []PeerInfo{
		{UserID: "bob", LastSeen: clk.Now()},
		{UserID: "carol", LastSeen: clk.Now()},
	}}
	r := NewReconciler(Config{
		LocalID: "local", Sources: []Source{src}, Sessions: sessions,
		Rng: never, Clock: clk,
	})

	r.Tick(context.Background())

	if got := sessions.initiations(); len(got) != 2 {
		t.Fatalf("expected attempts toward bob and carol, got %v", got)
	}
	if r.PeerCount() != 2 {
		t.Fatalf("expected 2 known peers, got %d", r.PeerCount())
	}
}

func TestTick_SkipsSelfAndEngagedPeers(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	sessions := newFakeSessions()
	sessions.engaged["bob"] = true
	src := &fakeSource{name: "poll", staleness: 30 * time.Second, peers: []PeerInfo{
		{UserID: "local", LastSeen: clk.Now()},
		{UserID: "bob", LastSeen: clk.Now()},
	}}
	r := NewReconciler(Config{
		LocalID: "local", Sources: []Source{src}, Sessions: sessions,
		Rng: never, Clock: clk,
	})

	r.Tick(context.Background())

	if got := sessions.initiations(); len(got) != 0 {
		t.Fatalf("expected no attempts, got %v", got)
	}
}

func TestTick_SourceStalenessFiltersPeers(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	sessions := newFakeSessions()
	src := &fakeSource{name: "poll", staleness: 30 * time.Second, peers: []PeerInfo{
		{UserID: "fresh", LastSeen: clk.Now().Add(-10 * time.Second)},
		{UserID: "stale", LastSeen: clk.Now().Add(-45 * time.Second)},
	}}
	r := NewReconciler(Config{
		LocalID: "local", Sources: []Source{src}, Sessions: sessions,
		Rng: never, Clock: clk,
	})

	r.Tick(context.Background())

	got := sessions.initiations()
	if len(got) != 1 || got[0] != "fresh" {
		t.Fatalf("expected only the fresh peer, got %v", got)
	}
}

func TestTick_PerSourceThresholds(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100000, 0)}
	sessions := newFakeSessions()
	// 45s-old proof: dead for the poll source, alive for the announce
	// channel with its 1h window.
	old := clk.Now().Add(-45 * time.Second)
	poll := &fakeSource{name: "poll", staleness: 30 * time.Second,
		peers: []PeerInfo{{UserID: "bob", LastSeen: old}}}
	announce := &fakeSource{name: "announce", staleness: time.Hour,
		peers: []PeerInfo{{UserID: "bob", LastSeen: old}}}
	r := NewReconciler(Config{
		LocalID: "local", Sources: []Source{poll, announce}, Sessions: sessions,
		Rng: never, Clock: clk,
	})

	r.Tick(context.Background())

	got := sessions.initiations()
	if len(got) != 1 || got[0] != "bob" {
		t.Fatalf("expected the announce channel to keep bob alive, got %v", got)
	}
}

func TestTick_SourceErrorIsTransient(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	sessions := newFakeSessions()
	broken := &fakeSource{name: "poll", staleness: 30 * time.Second, err: errors.New("fetch failed")}
	working := &fakeSource{name: "announce", staleness: time.Hour, peers: []PeerInfo{
		{UserID: "bob", LastSeen: clk.Now()},
	}}
	r := NewReconciler(Config{
		LocalID: "local", Sources: []Source{broken, working}, Sessions: sessions,
		Rng: never, Clock: clk,
	})

	r.Tick(context.Background())

	got := sessions.initiations()
	if len(got) != 1 || got[0] != "bob" {
		t.Fatalf("expected the working source to still drive attempts, got %v", got)
	}
}

func TestTick_EvictsPeersGoneFromEverySource(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100000, 0)}
	sessions := newFakeSessions()
	src := &fakeSource{name: "poll", staleness: 30 * time.Second, peers: []PeerInfo{
		{UserID: "bob", LastSeen: clk.Now()},
	}}
	r := NewReconciler(Config{
		LocalID: "local", Sources: []Source{src}, Sessions: sessions,
		Rng: never, Clock: clk,
	})

	r.Tick(context.Background())
	if r.PeerCount() != 1 {
		t.Fatalf("expected bob known, got %d", r.PeerCount())
	}

	src.peers = nil
	clk.Advance(45 * time.Second)
	r.Tick(context.Background())

	if r.PeerCount() != 0 {
		t.Fatalf("expected bob evicted after going silent, got %d", r.PeerCount())
	}
}

func TestTick_EvictsPollOnlyPeerOnPollSchedule(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100000, 0)}
	sessions := newFakeSessions()
	poll := &fakeSource{name: "poll", staleness: 30 * time.Second,
		peers: []PeerInfo{{UserID: "bob", LastSeen: clk.Now()}}}
	// Enabled but never saw bob; its 1h window must not keep him alive
	announce := &fakeSource{name: "announce", staleness: time.Hour,
		peers: []PeerInfo{{UserID: "carol", LastSeen: clk.Now()}}}
	r := NewReconciler(Config{
		LocalID: "local", Sources: []Source{poll, announce}, Sessions: sessions,
		Rng: never, Clock: clk,
	})

	r.Tick(context.Background())
	if r.PeerCount() != 2 {
		t.Fatalf("expected bob and carol known, got %d", r.PeerCount())
	}

	poll.peers = nil
	announce.peers = nil
	clk.Advance(45 * time.Second)
	r.Tick(context.Background())

	if r.PeerCount() != 1 {
		t.Fatalf("expected only carol left, got %d", r.PeerCount())
	}

	clk.Advance(time.Hour)
	r.Tick(context.Background())
	if r.PeerCount() != 0 {
		t.Fatalf("expected carol evicted after her window, got %d", r.PeerCount())
	}
}

func TestTick_MultiSourcePeerKeepsWidestWindow(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100000, 0)}
	sessions := newFakeSessions()
	poll := &fakeSource{name: "poll", staleness: 30 * time.Second,
		peers: []PeerInfo{{UserID: "bob", LastSeen: clk.Now()}}}
	announce := &fakeSource{name: "announce", staleness: time.Hour,
		peers: []PeerInfo{{UserID: "bob", LastSeen: clk.Now()}}}
	r := NewReconciler(Config{
		LocalID: "local", Sources: []Source{poll, announce}, Sessions: sessions,
		Rng: never, Clock: clk,
	})

	r.Tick(context.Background())

	poll.peers = nil
	announce.peers = nil
	clk.Advance(45 * time.Second)
	r.Tick(context.Background())

	if r.PeerCount() != 1 {
		t.Fatalf("expected the announce proof to keep bob, got %d", r.PeerCount())
	}
}

func TestTick_RetriesAfterSessionClosed(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	sessions := newFakeSessions()
	src := &fakeSource{name: "poll", staleness: 30 * time.Second, peers: []PeerInfo{
		{UserID: "bob", LastSeen: clk.Now()},
	}}
	r := NewReconciler(Config{
		LocalID: "local", Sources: []Source{src}, Sessions: sessions,
		Rng: never, Clock: clk,
	})

	r.Tick(context.Background())
	sessions.Close("bob") // e.g. the attempt timed out

	clk.Advance(time.Second)
	src.peers = []PeerInfo{{UserID: "bob", LastSeen: clk.Now()}}
	r.Tick(context.Background())

	if got := sessions.initiations(); len(got) != 2 {
		t.Fatalf("expected a retry after close, got %v", got)
	}
}

func TestTick_SampledReannounce(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	ann := &fakeAnnouncer{}
	r := NewReconciler(Config{
		LocalID: "local", Sessions: newFakeSessions(),
		Announcers: []Announcer{ann}, Rng: always, Clock: clk,
	})

	r.Tick(context.Background())
	r.Tick(context.Background())

	ann.mu.Lock()
	defer ann.mu.Unlock()
	if ann.announces != 2 {
		t.Fatalf("expected announce on sampled ticks, got %d", ann.announces)
	}
}

func TestRun_WithdrawsOnCancel(t *testing.T) {
	ann := &fakeAnnouncer{}
	r := NewReconciler(Config{
		LocalID: "local", Sessions: newFakeSessions(),
		Interval: 10 * time.Millisecond, Announcers: []Announcer{ann}, Rng: never,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("reconciler did not stop on cancel")
	}

	ann.mu.Lock()
	defer ann.mu.Unlock()
	if ann.withdraws != 1 {
		t.Fatalf("expected exactly one withdraw on shutdown, got %d", ann.withdraws)
	}
}

func TestPushEvents_DriveAndTearDownSessions(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	sessions := newFakeSessions()
	r := NewReconciler(Config{
		LocalID: "local", Sessions: sessions, Rng: never, Clock: clk,
	})

	r.NotifyUp(context.Background(), "bob")
	if got := sessions.initiations(); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("expected push event to initiate, got %v", got)
	}

	r.NotifyDown("bob")
	if len(sessions.closed) != 1 || sessions.closed[0] != "bob" {
		t.Fatalf("expected push disconnect to close the session, got %v", sessions.closed)
	}
	if r.PeerCount() != 0 {
		t.Fatalf("expected bob forgotten after disconnect")
	}
}
