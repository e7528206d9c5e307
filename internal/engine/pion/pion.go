package pion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/vkotelnikov/duocall/internal/engine"
)

// Adapter implements engine.Engine on top of pion/webrtc. Capture devices
// are out of scope here: tracks are static sample tracks the application
// feeds, which is enough for negotiation and track replacement.
type Adapter struct{}

func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) CaptureTracks(ctx context.Context, source engine.TrackSource) ([]engine.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch source {
	case engine.SourceCamera:
		audio, err := newSampleTrack(webrtc.MimeTypeOpus, "audio")
		if err != nil {
			return nil, err
		}
		video, err := newSampleTrack(webrtc.MimeTypeVP8, "video")
		if err != nil {
			return nil, err
		}
		return []engine.Track{audio, video}, nil

	case engine.SourceScreen:
		video, err := newSampleTrack(webrtc.MimeTypeVP8, "video")
		if err != nil {
			return nil, err
		}
		return []engine.Track{video}, nil

	default:
		return nil, fmt.Errorf("unknown track source %q", source)
	}
}

func (a *Adapter) NewPeer(cfg engine.ICEConfig, hooks engine.PeerHooks) (engine.Peer, error) {
	iceServers := []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	if len(cfg.TURNServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       cfg.TURNServers,
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNPassword,
		})
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	if hooks.OnNegotiationNeeded != nil {
		pc.OnNegotiationNeeded(hooks.OnNegotiationNeeded)
	}
	if hooks.OnICECandidate != nil {
		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil {
				return
			}
			hooks.OnICECandidate(c.ToJSON())
		})
	}
	if hooks.OnTrack != nil {
		pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			hooks.OnTrack(remoteTrack{tr})
		})
	}
	if hooks.OnSignalingStateChange != nil {
		pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
			hooks.OnSignalingStateChange(s == webrtc.SignalingStateStable)
		})
	}
	if hooks.OnConnectionStateChange != nil {
		pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
			hooks.OnConnectionStateChange(connState(s))
		})
	}

	return &peer{pc: pc, senders: make(map[string]*webrtc.RTPSender)}, nil
}

func connState(s webrtc.PeerConnectionState) engine.ConnState {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return engine.ConnConnected
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		return engine.ConnFailed
	case webrtc.PeerConnectionStateClosed:
		return engine.ConnClosed
	default:
		return engine.ConnConnecting
	}
}

type peer struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	senders map[string]*webrtc.RTPSender // by track kind
}

func (p *peer) AddTrack(t engine.Track) error {
	st, ok := t.(*SampleTrack)
	if !ok {
		return errors.New("track was not produced by this engine")
	}

	sender, err := p.pc.AddTrack(st.local)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	p.mu.Lock()
	p.senders[t.Kind()] = sender
	p.mu.Unlock()
	return nil
}

func (p *peer) ReplaceVideoTrack(t engine.Track) error {
	st, ok := t.(*SampleTrack)
	if !ok {
		return errors.New("track was not produced by this engine")
	}

	p.mu.Lock()
	sender, ok := p.senders["video"]
	p.mu.Unlock()
	if !ok {
		return errors.New("no outbound video sender")
	}

	if err := sender.ReplaceTrack(st.local); err != nil {
		return fmt.Errorf("replace track: %w", err)
	}
	return nil
}

func (p *peer) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return *p.pc.LocalDescription(), nil
}

func (p *peer) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return *p.pc.LocalDescription(), nil
}

func (p *peer) SetRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.pc.SetRemoteDescription(desc)
}

func (p *peer) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(cand)
}

func (p *peer) Close() error {
	return p.pc.Close()
}

// SampleTrack wraps a pion static sample track behind engine.Track.
type SampleTrack struct {
	local *webrtc.TrackLocalStaticSample
	id    string
	kind  string
}

func newSampleTrack(mimeType, kind string) (*SampleTrack, error) {
	id := uuid.New().String()
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeType},
		kind+"-"+id,
		"duocall",
	)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	return &SampleTrack{local: local, id: id, kind: kind}, nil
}

func (t *SampleTrack) ID() string   { return t.id }
func (t *SampleTrack) Kind() string { return t.kind }

// Stop is a no-op for sample tracks; real capture devices would release
// hardware here.
func (t *SampleTrack) Stop() error { return nil }

// WriteSample lets the application feed media into the track.
func (t *SampleTrack) WriteSample(s media.Sample) error {
	return t.local.WriteSample(s)
}

type remoteTrack struct {
	tr *webrtc.TrackRemote
}

func (t remoteTrack) ID() string   { return t.tr.ID() }
func (t remoteTrack) Kind() string { return t.tr.Kind().String() }
