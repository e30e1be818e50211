package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultAttemptTimeout bounds how long an attempt may sit without an
// answer or attached stream before it is closed and retry is unblocked.
const DefaultAttemptTimeout = 15 * time.Second

// Config wires a Registry.
type Config struct {
	LocalID  string
	Timeout  time.Duration // zero means DefaultAttemptTimeout
	Factory  TransportFactory
	Signaler Signaler
	Logger   *zap.Logger

	// OnConnected / OnClosed surface state transitions to the embedder
	// (peer-count display, video sink attach/detach). Called without the
	// registry lock held.
	OnConnected func(remoteID string)
	OnClosed    func(remoteID string)
}

// Registry owns every Session of one local client, keyed by remote userId.
// It enforces the per-peer invariants: at most one non-closed Session per
// remote userId, no self-sessions, no state regression.
type Registry struct {
	mu       sync.Mutex
	localID  string
	timeout  time.Duration
	factory  TransportFactory
	signaler Signaler
	log      *zap.Logger

	sessions map[string]*Session
	inflight map[string]bool

	onConnected func(string)
	onClosed    func(string)
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg Config) *Registry {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultAttemptTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		localID:     cfg.LocalID,
		timeout:     timeout,
		factory:     cfg.Factory,
		signaler:    cfg.Signaler,
		log:         logger,
		sessions:    make(map[string]*Session),
		inflight:    make(map[string]bool),
		onConnected: cfg.OnConnected,
		onClosed:    cfg.OnClosed,
	}
}

// Engaged reports whether a non-closed Session exists for remoteID or an
// attempt toward it is already in flight. The reconciler skips engaged
// peers.
func (r *Registry) Engaged(remoteID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engagedLocked(remoteID)
}

func (r *Registry) engagedLocked(remoteID string) bool {
	if r.inflight[remoteID] {
		return true
	}
	s, ok := r.sessions[remoteID]
	return ok && s.state != StateClosed
}

// ConnectedCount returns how many sessions are currently connected.
func (r *Registry) ConnectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.state == StateConnected {
			n++
		}
	}
	return n
}

// Initiate starts an outgoing connection attempt toward remoteID: builds a
// transport, sends an offer and arms the attempt timeout. Duplicate or
// self-directed attempts are no-ops.
func (r *Registry) Initiate(ctx context.Context, remoteID string) {
	if remoteID == r.localID || remoteID == "" {
		return
	}

	r.mu.Lock()
	if r.engagedLocked(remoteID) {
		r.mu.Unlock()
		r.log.Debug("attempt already engaged, skipping", zap.String("remote", remoteID))
		return
	}
	r.inflight[remoteID] = true
	r.mu.Unlock()

	transport, err := r.factory(remoteID, r.callbacksFor(remoteID))
	if err != nil {
		r.log.Warn("transport create failed", zap.String("remote", remoteID), zap.Error(err))
		r.clearInflight(remoteID)
		return
	}

	sess := &Session{
		RemoteID:  remoteID,
		state:     StatePending,
		transport: transport,
		startedAt: time.Now(),
	}
	r.mu.Lock()
	r.sessions[remoteID] = sess
	r.mu.Unlock()

	offer, err := transport.Offer(ctx)
	if err != nil {
		r.log.Warn("offer build failed", zap.String("remote", remoteID), zap.Error(err))
		r.Close(remoteID)
		return
	}
	if err := r.signaler.SendOffer(remoteID, offer); err != nil {
		r.log.Warn("offer send failed", zap.String("remote", remoteID), zap.Error(err))
		r.Close(remoteID)
		return
	}

	r.mu.Lock()
	if sess.state == StatePending { // not already torn down concurrently
		sess.state = StateConnecting
		r.armTimeoutLocked(sess)
	}
	r.mu.Unlock()

	r.log.Info("initiated session", zap.String("remote", remoteID))
}

// HandleOffer services an incoming connection attempt: answers immediately
// with the local media source and transitions to connecting, awaiting the
// remote stream. Duplicate or self-directed offers are no-ops.
func (r *Registry) HandleOffer(ctx context.Context, remoteID string, offer json.RawMessage) {
	if remoteID == r.localID || remoteID == "" {
		return
	}

	r.mu.Lock()
	if r.engagedLocked(remoteID) {
		r.mu.Unlock()
		r.log.Debug("offer for engaged peer, ignoring", zap.String("remote", remoteID))
		return
	}
	r.inflight[remoteID] = true
	r.mu.Unlock()

	transport, err := r.factory(remoteID, r.callbacksFor(remoteID))
	if err != nil {
		r.log.Warn("transport create failed", zap.String("remote", remoteID), zap.Error(err))
		r.clearInflight(remoteID)
		return
	}

	sess := &Session{
		RemoteID:  remoteID,
		state:     StatePending,
		transport: transport,
		startedAt: time.Now(),
	}
	r.mu.Lock()
	r.sessions[remoteID] = sess
	r.mu.Unlock()

	answer, err := transport.HandleOffer(ctx, offer)
	if err != nil {
		r.log.Warn("answer build failed", zap.String("remote", remoteID), zap.Error(err))
		r.Close(remoteID)
		return
	}
	if err := r.signaler.SendAnswer(remoteID, answer); err != nil {
		r.log.Warn("answer send failed", zap.String("remote", remoteID), zap.Error(err))
		r.Close(remoteID)
		return
	}

	r.mu.Lock()
	if sess.state == StatePending {
		sess.state = StateConnecting
		r.armTimeoutLocked(sess)
	}
	r.mu.Unlock()

	r.log.Info("answered session", zap.String("remote", remoteID))
}

// HandleAnswer applies a remote answer to an outgoing attempt. Answers for
// unknown, connected or closed sessions are stale and ignored: state never
// regresses.
func (r *Registry) HandleAnswer(ctx context.Context, remoteID string, answer json.RawMessage) {
	r.mu.Lock()
	sess, ok := r.sessions[remoteID]
	if !ok || (sess.state != StatePending && sess.state != StateConnecting) {
		r.mu.Unlock()
		r.log.Debug("stale answer ignored", zap.String("remote", remoteID))
		return
	}
	transport := sess.transport
	r.mu.Unlock()

	if err := transport.HandleAnswer(ctx, answer); err != nil {
		r.log.Warn("answer apply failed", zap.String("remote", remoteID), zap.Error(err))
		r.Close(remoteID)
	}
}

// HandleCandidate applies a relayed connectivity candidate. Candidates for
// peers without a live session are ignored, not errors: the relay
// over-broadcasts and receivers filter by relevance.
func (r *Registry) HandleCandidate(remoteID string, candidate json.RawMessage) {
	r.mu.Lock()
	sess, ok := r.sessions[remoteID]
	if !ok || sess.state == StateClosed {
		r.mu.Unlock()
		return
	}
	transport := sess.transport
	r.mu.Unlock()

	if err := transport.AddCandidate(candidate); err != nil {
		r.log.Debug("candidate apply failed", zap.String("remote", remoteID), zap.Error(err))
	}
}

// Close transitions the session to closed, cancels its timeout, clears the
// in-flight marker and removes the record so a later Reconciler tick can
// retry from scratch. Closing an unknown or already-closed session is a
// no-op.
func (r *Registry) Close(remoteID string) {
	r.mu.Lock()
	sess, ok := r.sessions[remoteID]
	if !ok {
		delete(r.inflight, remoteID)
		r.mu.Unlock()
		return
	}
	sess.state = StateClosed
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
	delete(r.sessions, remoteID)
	delete(r.inflight, remoteID)
	transport := sess.transport
	r.mu.Unlock()

	if transport != nil {
		transport.Close()
	}
	r.log.Info("session closed", zap.String("remote", remoteID))
	if r.onClosed != nil {
		r.onClosed(remoteID)
	}
}

// CloseAll tears down every session; used on room leave.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Close(id)
	}
}

// ForEachActive runs fn for every non-closed session's transport under the
// registry lock, so a swap of the shared outgoing media applies atomically:
// a session initiated mid-swap cannot interleave and pick up the old track.
func (r *Registry) ForEachActive(fn func(remoteID string, t Transport)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.state != StateClosed {
			fn(id, s.transport)
		}
	}
}

func (r *Registry) clearInflight(remoteID string) {
	r.mu.Lock()
	delete(r.inflight, remoteID)
	r.mu.Unlock()
}

// armTimeoutLocked schedules the attempt timeout for sess. The callback
// checks pointer identity so a stale timer cannot kill a newer session for
// the same remote.
func (r *Registry) armTimeoutLocked(sess *Session) {
	remoteID := sess.RemoteID
	sess.timer = time.AfterFunc(r.timeout, func() {
		r.mu.Lock()
		current, ok := r.sessions[remoteID]
		expired := ok && current == sess && current.state != StateConnected
		r.mu.Unlock()
		if expired {
			r.log.Info("attempt timed out", zap.String("remote", remoteID))
			r.Close(remoteID)
		}
	})
}

// callbacksFor binds transport events to registry state transitions.
func (r *Registry) callbacksFor(remoteID string) Callbacks {
	return Callbacks{
		OnStream: func() { r.markConnected(remoteID) },
		OnCandidate: func(candidate json.RawMessage) {
			if err := r.signaler.SendCandidate(remoteID, candidate); err != nil {
				r.log.Debug("candidate send failed", zap.String("remote", remoteID), zap.Error(err))
			}
		},
		OnClose: func() { r.Close(remoteID) },
		OnError: func(err error) {
			r.log.Warn("transport error", zap.String("remote", remoteID), zap.Error(err))
			r.Close(remoteID)
		},
	}
}

// markConnected is the stream-attached transition. Idempotent; ignored for
// closed sessions (no regression).
func (r *Registry) markConnected(remoteID string) {
	r.mu.Lock()
	sess, ok := r.sessions[remoteID]
	if !ok || sess.state == StateClosed || sess.state == StateConnected {
		r.mu.Unlock()
		return
	}
	sess.state = StateConnected
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
	delete(r.inflight, remoteID)
	r.mu.Unlock()

	r.log.Info("session connected", zap.String("remote", remoteID))
	if r.onConnected != nil {
		r.onConnected(remoteID)
	}
}
