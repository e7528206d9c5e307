package engine

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v3"
)

// ErrPermissionDenied reports that local media acquisition was refused.
var ErrPermissionDenied = errors.New("media permission denied")

// TrackSource names where an outbound video track comes from.
type TrackSource string

const (
	SourceCamera TrackSource = "camera"
	SourceScreen TrackSource = "screen"
)

// ConnState is the coarse transport state a controller observes; it does
// not drive the transition, only reacts to it.
type ConnState int

const (
	ConnConnecting ConnState = iota
	ConnConnected
	ConnFailed
	ConnClosed
)

// ICEConfig carries the server list handed to the engine when a peer is
// created.
type ICEConfig struct {
	STUNServers  []string
	TURNServers  []string
	TURNUsername string
	TURNPassword string
}

// Track is an outbound media track owned by exactly one call session.
type Track interface {
	ID() string
	Kind() string // "audio" or "video"
	Stop() error
}

// RemoteTrack is an inbound track announced by the engine.
type RemoteTrack interface {
	ID() string
	Kind() string
}

// PeerHooks are the engine callbacks a controller subscribes to. The
// controller never trusts their firing order; every hook is re-checked
// against session state before acting.
type PeerHooks struct {
	OnNegotiationNeeded     func()
	OnICECandidate          func(webrtc.ICECandidateInit)
	OnTrack                 func(RemoteTrack)
	OnSignalingStateChange  func(stable bool)
	OnConnectionStateChange func(ConnState)
}

// Engine is the external real-time media engine. The core consumes this
// interface and never reaches into the implementation.
type Engine interface {
	// CaptureTracks acquires local media. SourceCamera yields audio plus
	// video, SourceScreen yields a single video track.
	CaptureTracks(ctx context.Context, source TrackSource) ([]Track, error)

	// NewPeer creates a fresh local peer object. One per call; never
	// reused.
	NewPeer(cfg ICEConfig, hooks PeerHooks) (Peer, error)
}

// Peer is the engine's local peer object. CreateOffer and CreateAnswer
// also install the produced description locally, so the returned value is
// ready to be sent to the remote side.
type Peer interface {
	AddTrack(t Track) error
	ReplaceVideoTrack(t Track) error
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error
	AddICECandidate(cand webrtc.ICECandidateInit) error
	Close() error
}
