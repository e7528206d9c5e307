package domain

import "github.com/pion/webrtc/v3"

// Signal message types exchanged over the relay websocket.
const (
	SignalConnected  = "connected"
	SignalJoinRoom   = "join-room"
	SignalOtherUser  = "other-user"
	SignalUserJoined = "user-joined"
	SignalOffer      = "offer"
	SignalAnswer     = "answer"
	SignalCandidate  = "ice-candidate"
	SignalCallEnd    = "call-end"
	SignalError      = "error"
)

type SignalMessage struct {
	Type      string                     `json:"type"`
	Room      string                     `json:"room,omitempty"`
	SenderID  string                     `json:"sender_id,omitempty"`
	TargetID  string                     `json:"target_id,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Payload   map[string]any             `json:"payload,omitempty"`
}

// ErrorMessage builds the error event sent back to a participant.
func ErrorMessage(reason string) SignalMessage {
	return SignalMessage{
		Type:    SignalError,
		Payload: map[string]any{"error": reason},
	}
}
