package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mossy-p/video-rooms/internal/models"
)

// PollStaleness matches the server-side presence threshold.
const PollStaleness = 30 * time.Second

// PollSource discovers peers by polling the fallback HTTP discovery API.
// It is also an Announcer: the /api/presence upsert doubles as the outward
// announcement.
type PollSource struct {
	baseURL string
	roomID  string
	userID  string
	addr    string
	client  *http.Client
}

// NewPollSource creates a PollSource against the signaling server at
// baseURL (scheme://host[:port], no trailing slash).
func NewPollSource(baseURL, roomID, userID, addr string) *PollSource {
	return &PollSource{
		baseURL: baseURL,
		roomID:  roomID,
		userID:  userID,
		addr:    addr,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *PollSource) Name() string             { return "poll" }
func (p *PollSource) Staleness() time.Duration { return PollStaleness }

func (p *PollSource) Peers(ctx context.Context) ([]PeerInfo, error) {
	endpoint := fmt.Sprintf("%s/api/room/%s/users", p.baseURL, url.PathEscape(p.roomID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll room users: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll room users: status %s", resp.Status)
	}

	var body models.RoomUsersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode room users: %w", err)
	}

	peers := make([]PeerInfo, 0, len(body.Users))
	for _, u := range body.Users {
		peers = append(peers, PeerInfo{
			UserID:   u.ID,
			Addr:     u.PeerID,
			LastSeen: time.UnixMilli(u.LastSeen),
		})
	}
	return peers, nil
}

// Announce upserts the local entry via GET /api/presence.
func (p *PollSource) Announce(ctx context.Context) error {
	q := url.Values{}
	q.Set("room", p.roomID)
	q.Set("userId", p.userID)
	q.Set("peerId", p.addr)
	q.Set("t", strconv.FormatInt(time.Now().UnixMilli(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/presence?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("announce presence: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("announce presence: status %s", resp.Status)
	}
	return nil
}

// Withdraw is a no-op for the poll channel: the server evicts the entry at
// its staleness threshold once heartbeats stop.
func (p *PollSource) Withdraw(context.Context) error { return nil }
