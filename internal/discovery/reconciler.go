package discovery

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the reconciliation tick period.
const DefaultInterval = 5 * time.Second

// defaultAnnounceEvery re-announces roughly one tick in five.
const defaultAnnounceEvery = 5

// SessionControl is the slice of the session registry the reconciler
// drives. *session.Registry satisfies it.
type SessionControl interface {
	Initiate(ctx context.Context, remoteID string)
	Engaged(remoteID string) bool
	Close(remoteID string)
}

// Config wires a Reconciler.
type Config struct {
	LocalID    string
	Interval   time.Duration // zero means DefaultInterval
	Sources    []Source
	Announcers []Announcer
	Sessions   SessionControl
	Logger     *zap.Logger

	// AnnounceEvery samples outward re-announcement one tick in N
	// (zero means the default of five). Rng is injectable for tests.
	AnnounceEvery int
	Rng           func(n int) int

	Clock Clock
}

// Reconciler merges every enabled discovery source into new-peer connection
// attempts and maintains the local "who else is here" view. One instance
// per joined room.
type Reconciler struct {
	localID       string
	interval      time.Duration
	sources       []Source
	announcers    []Announcer
	sessions      SessionControl
	log           *zap.Logger
	announceEvery int
	rng           func(n int) int
	clock         Clock

	// known is touched from the tick loop and from relay push events;
	// the mutex serializes those two flows.
	mu    sync.Mutex
	known map[string]time.Time // peerID -> presence expiry
}

// NewReconciler creates a Reconciler; call Run to start ticking.
func NewReconciler(cfg Config) *Reconciler {
	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	announceEvery := cfg.AnnounceEvery
	if announceEvery == 0 {
		announceEvery = defaultAnnounceEvery
	}
	rng := cfg.Rng
	if rng == nil {
		rng = rand.Intn
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		localID:       cfg.LocalID,
		interval:      interval,
		sources:       cfg.Sources,
		announcers:    cfg.Announcers,
		sessions:      cfg.Sessions,
		log:           logger,
		announceEvery: announceEvery,
		rng:           rng,
		clock:         clock,
		known:         make(map[string]time.Time),
	}
}

// Run ticks until ctx is cancelled, then withdraws the local entry from
// every announce channel (best-effort) before returning.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.withdraw()
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass: collect active peers from every
// source, drive connection attempts for unengaged ones, evict stale local
// bookkeeping, and occasionally re-announce outward. Source errors are
// transient: logged and retried next tick.
func (r *Reconciler) Tick(ctx context.Context) {
	now := r.clock.Now()

	for _, src := range r.sources {
		peers, err := src.Peers(ctx)
		if err != nil {
			r.log.Debug("discovery source failed",
				zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		cutoff := now.Add(-src.Staleness())
		for _, p := range peers {
			if p.UserID == "" || p.UserID == r.localID {
				continue
			}
			if !p.LastSeen.IsZero() && p.LastSeen.Before(cutoff) {
				continue
			}
			r.observe(ctx, p.UserID, p.LastSeen, now, src.Staleness())
		}
	}

	r.evict(now)

	if r.rng(r.announceEvery) == 0 {
		r.announce(ctx)
	}
}

// NotifyUp handles a relay user-connected push event: immediate,
// authoritative while the relay connection is live.
func (r *Reconciler) NotifyUp(ctx context.Context, userID string) {
	if userID == "" || userID == r.localID {
		return
	}
	// The relay mirrors the server presence threshold, so its events age
	// out the same way poll results do
	r.observe(ctx, userID, time.Time{}, r.clock.Now(), PollStaleness)
}

// NotifyDown handles a relay user-disconnected push event: the session
// toward that peer closes and local bookkeeping forgets it.
func (r *Reconciler) NotifyDown(userID string) {
	if userID == "" || userID == r.localID {
		return
	}
	r.mu.Lock()
	delete(r.known, userID)
	r.mu.Unlock()
	r.sessions.Close(userID)
}

// PeerCount reports the current size of the known-peers view (excluding the
// local participant), for status display.
func (r *Reconciler) PeerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.known)
}

// observe records a presence proof with the staleness window of the source
// that produced it. A peer proven by several sources keeps the furthest
// expiry; a peer only the short-window poll saw ages out on the poll's
// schedule even when a wide-window source is enabled.
func (r *Reconciler) observe(ctx context.Context, userID string, lastSeen, now time.Time, stale time.Duration) {
	proof := lastSeen
	if proof.IsZero() {
		proof = now
	}
	expiry := proof.Add(stale)
	r.mu.Lock()
	if prev, ok := r.known[userID]; !ok || expiry.After(prev) {
		r.known[userID] = expiry
	}
	r.mu.Unlock()
	if !r.sessions.Engaged(userID) {
		r.log.Info("discovered peer", zap.String("peer", userID))
		r.sessions.Initiate(ctx, userID)
	}
}

// evict drops bookkeeping entries whose presence proofs have all expired.
func (r *Reconciler) evict(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, expiry := range r.known {
		if !now.Before(expiry) {
			delete(r.known, id)
		}
	}
}

func (r *Reconciler) announce(ctx context.Context) {
	for _, a := range r.announcers {
		if err := a.Announce(ctx); err != nil {
			r.log.Debug("announce failed", zap.Error(err))
		}
	}
}

func (r *Reconciler) withdraw() {
	// The surrounding context is already cancelled at this point; give the
	// withdrawals their own short deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, a := range r.announcers {
		if err := a.Withdraw(ctx); err != nil {
			r.log.Debug("withdraw failed", zap.Error(err))
		}
	}
}
