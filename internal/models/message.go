package models

import "encoding/json"

// SignalType represents the type of WebRTC signaling message
type SignalType string

const (
	SignalTypeJoin         SignalType = "join"
	SignalTypeConnected    SignalType = "user-connected"
	SignalTypeDisconnected SignalType = "user-disconnected"
	SignalTypeOffer        SignalType = "offer"
	SignalTypeAnswer       SignalType = "answer"
	SignalTypeCandidate    SignalType = "ice-candidate"
	SignalTypeError        SignalType = "error"
)

// SignalMessage represents a WebRTC signaling message. The relay never
// inspects Payload; offers, answers and candidates pass through opaque.
type SignalMessage struct {
	Type    SignalType      `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}
