// Package media holds the agent's local media source: the single shared
// set of outgoing tracks that every session sends from. It stands in for
// camera/microphone capture, which stays outside this system.
package media

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Source is the shared local capture. One instance per agent; every
// outgoing session attaches its tracks.
type Source struct {
	mu    sync.Mutex
	audio webrtc.TrackLocal
	video webrtc.TrackLocal
}

// NewSource builds the synthetic camera/microphone pair. Failure here is
// fatal to the whole agent: without local media we never join a session.
func NewSource() (*Source, error) {
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "camera",
	)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "microphone",
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	return &Source{audio: audio, video: video}, nil
}

// Tracks returns the current outgoing tracks for attaching to a new
// session.
func (s *Source) Tracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []webrtc.TrackLocal{s.audio, s.video}
}

// Video returns the current outgoing video track.
func (s *Source) Video() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

// SetVideo records track as the current outgoing video, so sessions
// initiated from now on pick it up. Existing sessions swap via their
// transports; see the agent's screen-share path.
func (s *Source) SetVideo(track webrtc.TrackLocal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.video = track
}

// NewScreenTrack builds a replacement video track for screen sharing.
func NewScreenTrack() (webrtc.TrackLocal, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "screen",
	)
	if err != nil {
		return nil, fmt.Errorf("create screen track: %w", err)
	}
	return track, nil
}
