// Package agent runs a headless room participant: local media source,
// signaling client, session registry and discovery reconciler wired
// together the way a browser client would be.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mossy-p/video-rooms/internal/discovery"
	"github.com/mossy-p/video-rooms/internal/media"
	"github.com/mossy-p/video-rooms/internal/rtc"
	"github.com/mossy-p/video-rooms/internal/session"
	"github.com/mossy-p/video-rooms/internal/signalws"
)

// Config wires an Agent.
type Config struct {
	ServerURL string
	RoomID    string
	UserID    string // empty means a fresh tab-scoped identity

	SessionTimeout time.Duration // zero means session.DefaultAttemptTimeout
	PollInterval   time.Duration // zero means discovery.DefaultInterval

	// Redis, when set, enables the announce discovery channel alongside
	// the relay push events and the presence poll.
	Redis *redis.Client

	Logger *zap.Logger
}

// videoReplacer is the optional transport capability the screen-share path
// uses; the relayed-call transport implements it.
type videoReplacer interface {
	ReplaceVideoTrack(track webrtc.TrackLocal) error
}

// Agent is one participant in one room.
type Agent struct {
	log    *zap.Logger
	roomID string
	userID string

	source     *media.Source
	signal     *signalws.Client
	registry   *session.Registry
	reconciler *discovery.Reconciler
	channel    *discovery.RedisChannel
	poll       *discovery.PollSource

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the agent. Media source creation failure is fatal: an agent
// without local media never joins any session.
func New(cfg Config) (*Agent, error) {
	if cfg.ServerURL == "" || cfg.RoomID == "" {
		return nil, fmt.Errorf("server URL and room ID are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	userID := cfg.UserID
	if userID == "" {
		userID = uuid.New().String()
	}
	addr := cfg.RoomID + "-" + userID

	source, err := media.NewSource()
	if err != nil {
		return nil, fmt.Errorf("local media: %w", err)
	}

	a := &Agent{
		log:    logger.With(zap.String("room", cfg.RoomID), zap.String("user", userID)),
		roomID: cfg.RoomID,
		userID: userID,
		source: source,
	}

	signal, err := signalws.New(cfg.ServerURL, cfg.RoomID, userID, signalws.Events{
		OnJoined:           a.onJoined,
		OnPeerConnected:    a.onPeerConnected,
		OnPeerDisconnected: a.onPeerDisconnected,
		OnOffer:            a.onOffer,
		OnAnswer:           a.onAnswer,
		OnCandidate:        a.onCandidate,
		OnConnectionState:  a.onRelayState,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.signal = signal

	a.registry = session.NewRegistry(session.Config{
		LocalID:  userID,
		Timeout:  cfg.SessionTimeout,
		Factory:  rtc.NewFactory(rtc.DefaultConfiguration(), source, logger),
		Signaler: signal,
		Logger:   logger,
		OnConnected: func(remoteID string) {
			a.log.Info("peer connected", zap.String("peer", remoteID))
		},
		OnClosed: func(remoteID string) {
			a.log.Info("peer gone", zap.String("peer", remoteID))
		},
	})

	a.poll = discovery.NewPollSource(cfg.ServerURL, cfg.RoomID, userID, addr)
	sources := []discovery.Source{a.poll}
	announcers := []discovery.Announcer{a.poll}
	if cfg.Redis != nil {
		a.channel = discovery.NewRedisChannel(cfg.Redis, cfg.RoomID, userID, addr, logger)
		sources = append(sources, a.channel)
		announcers = append(announcers, a.channel)
	}

	a.reconciler = discovery.NewReconciler(discovery.Config{
		LocalID:    userID,
		Interval:   cfg.PollInterval,
		Sources:    sources,
		Announcers: announcers,
		Sessions:   a.registry,
		Logger:     logger,
	})

	return a, nil
}

// UserID returns the agent's tab-scoped identity.
func (a *Agent) UserID() string { return a.userID }

// PeerCount reports the reconciler's current known-peers view.
func (a *Agent) PeerCount() int { return a.reconciler.PeerCount() }

// ConnectedCount reports how many sessions are live.
func (a *Agent) ConnectedCount() int { return a.registry.ConnectedCount() }

// Run joins the room and blocks until ctx is cancelled, then leaves
// cleanly: sessions closed, presence withdrawn, timers stopped.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	defer cancel()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.signal.Run(ctx)
	}()

	if a.channel != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.channel.Listen(ctx)
		}()
		if err := a.channel.Announce(ctx); err != nil {
			a.log.Debug("initial announce failed", zap.Error(err))
		}
	}
	if err := a.poll.Announce(ctx); err != nil {
		a.log.Debug("initial presence upsert failed", zap.Error(err))
	}

	a.log.Info("joined room")
	a.reconciler.Run(ctx) // blocks until cancel, withdraws on the way out

	a.registry.CloseAll()
	a.signal.Close()
	a.wg.Wait()
	a.log.Info("left room")
	return ctx.Err()
}

// Leave ends the room membership; Run returns shortly after.
func (a *Agent) Leave() {
	if a.cancel != nil {
		a.cancel()
	}
}

// ShareScreen swaps the outgoing video of every active session to a fresh
// screen track. The swap runs under the registry lock, so a session
// initiated mid-swap cannot pick up the old track.
func (a *Agent) ShareScreen() error {
	track, err := media.NewScreenTrack()
	if err != nil {
		return err
	}
	a.source.SetVideo(track)
	a.registry.ForEachActive(func(remoteID string, t session.Transport) {
		if vr, ok := t.(videoReplacer); ok {
			if err := vr.ReplaceVideoTrack(track); err != nil {
				a.log.Warn("track swap failed", zap.String("peer", remoteID), zap.Error(err))
			}
		}
	})
	return nil
}

func (a *Agent) onJoined() {
	// Initial room-member enumeration: peers already present won't get a
	// user-connected push about themselves, so reconcile immediately.
	go a.reconciler.Tick(context.Background())
}

func (a *Agent) onPeerConnected(userID string) {
	a.reconciler.NotifyUp(context.Background(), userID)
}

func (a *Agent) onPeerDisconnected(userID string) {
	a.reconciler.NotifyDown(userID)
}

func (a *Agent) onOffer(from string, payload json.RawMessage) {
	a.registry.HandleOffer(context.Background(), from, payload)
}

func (a *Agent) onAnswer(from string, payload json.RawMessage) {
	a.registry.HandleAnswer(context.Background(), from, payload)
}

func (a *Agent) onCandidate(from string, payload json.RawMessage) {
	a.registry.HandleCandidate(from, payload)
}

func (a *Agent) onRelayState(connected bool) {
	if connected {
		return
	}
	// Poll-based discovery keeps running while the relay link is down;
	// nothing to switch, just worth noting.
	a.log.Warn("relay link lost, relying on poll discovery until reconnect")
}
