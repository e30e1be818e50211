// Package rtc is the relayed-call session transport: a pion PeerConnection
// negotiated through the signaling relay, exposed behind the uniform
// session.Transport surface.
package rtc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/mossy-p/video-rooms/internal/media"
	"github.com/mossy-p/video-rooms/internal/session"
)

// DefaultConfiguration mirrors the STUN set browsers in the same rooms use,
// so both sides gather comparable candidates.
func DefaultConfiguration() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
			{URLs: []string{"stun:stun1.l.google.com:19302"}},
			{URLs: []string{"stun:stun2.l.google.com:19302"}},
		},
	}
}

// Transport drives one PeerConnection toward one remote participant.
type Transport struct {
	pc *webrtc.PeerConnection
}

// NewFactory returns a session.TransportFactory producing relayed-call
// transports that send from the shared media source.
func NewFactory(cfg webrtc.Configuration, src *media.Source, logger *zap.Logger) session.TransportFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(remoteID string, cb session.Callbacks) (session.Transport, error) {
		pc, err := webrtc.NewPeerConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("new peer connection: %w", err)
		}

		for _, track := range src.Tracks() {
			if _, err := pc.AddTrack(track); err != nil {
				pc.Close()
				return nil, fmt.Errorf("add track: %w", err)
			}
		}

		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil {
				return
			}
			payload, err := json.Marshal(c.ToJSON())
			if err != nil {
				logger.Debug("candidate marshal failed", zap.Error(err))
				return
			}
			cb.OnCandidate(payload)
		})

		pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			logger.Info("remote track attached",
				zap.String("remote", remoteID),
				zap.String("codec", tr.Codec().MimeType))
			cb.OnStream()
			// Drain the track so the interceptor pipeline keeps flowing;
			// the agent has no renderer.
			go func() {
				buf := make([]byte, 1500)
				for {
					if _, _, err := tr.Read(buf); err != nil {
						return
					}
				}
			}()
		})

		pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
			logger.Debug("peer connection state",
				zap.String("remote", remoteID), zap.Stringer("state", s))
			switch s {
			case webrtc.PeerConnectionStateFailed:
				cb.OnError(fmt.Errorf("peer connection failed"))
			case webrtc.PeerConnectionStateClosed:
				cb.OnClose()
			}
		})

		return &Transport{pc: pc}, nil
	}
}

// Offer builds and applies the local offer.
func (t *Transport) Offer(ctx context.Context) (json.RawMessage, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	payload, err := json.Marshal(t.pc.LocalDescription())
	if err != nil {
		return nil, fmt.Errorf("marshal offer: %w", err)
	}
	return payload, nil
}

// HandleOffer applies the remote offer and returns the local answer.
func (t *Transport) HandleOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(offer, &desc); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	payload, err := json.Marshal(t.pc.LocalDescription())
	if err != nil {
		return nil, fmt.Errorf("marshal answer: %w", err)
	}
	return payload, nil
}

// HandleAnswer applies the remote answer to an outgoing attempt.
func (t *Transport) HandleAnswer(ctx context.Context, answer json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(answer, &desc); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// AddCandidate applies a trickled remote candidate.
func (t *Transport) AddCandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	if err := t.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

// ReplaceVideoTrack swaps the outgoing video sender's track in place.
func (t *Transport) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	for _, sender := range t.pc.GetSenders() {
		current := sender.Track()
		if current == nil || current.Kind() != webrtc.RTPCodecTypeVideo {
			continue
		}
		if err := sender.ReplaceTrack(track); err != nil {
			return fmt.Errorf("replace track: %w", err)
		}
	}
	return nil
}

// Close shuts the peer connection down.
func (t *Transport) Close() error {
	return t.pc.Close()
}
