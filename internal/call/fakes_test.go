package call

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
	"github.com/vkotelnikov/duocall/internal/domain"
	"github.com/vkotelnikov/duocall/internal/engine"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTrack struct {
	id   string
	kind string

	mu      sync.Mutex
	stopped bool
}

func (t *fakeTrack) ID() string   { return t.id }
func (t *fakeTrack) Kind() string { return t.kind }

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fakeEngine stands in for the media engine. Created peers emulate the
// signaling sub-state transitions a real engine reports: creating an offer
// leaves stable, applying an answer (or creating one) returns to it, and
// negotiation-needed only fires while stable.
type fakeEngine struct {
	mu          sync.Mutex
	captureErr  error
	remoteErr   error
	autoConnect bool
	captured    []*fakeTrack
	peers       []*fakePeer
	seq         int

	// captureGate, when set, blocks CaptureTracks until a value is sent,
	// standing in for a slow permission prompt.
	captureGate chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{autoConnect: true}
}

func (e *fakeEngine) CaptureTracks(_ context.Context, source engine.TrackSource) ([]engine.Track, error) {
	e.mu.Lock()
	gate := e.captureGate
	e.mu.Unlock()
	if gate != nil {
		<-gate
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.captureErr != nil {
		return nil, e.captureErr
	}

	var tracks []engine.Track
	newTrack := func(kind string) *fakeTrack {
		e.seq++
		ft := &fakeTrack{id: fmt.Sprintf("%s-%s-%d", source, kind, e.seq), kind: kind}
		e.captured = append(e.captured, ft)
		return ft
	}

	if source == engine.SourceCamera {
		tracks = append(tracks, newTrack("audio"))
	}
	tracks = append(tracks, newTrack("video"))
	return tracks, nil
}

func (e *fakeEngine) NewPeer(_ engine.ICEConfig, hooks engine.PeerHooks) (engine.Peer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := &fakePeer{
		hooks:       hooks,
		autoConnect: e.autoConnect,
		remoteErr:   e.remoteErr,
		stable:      true,
	}
	e.peers = append(e.peers, p)
	return p, nil
}

// peer waits for the i-th peer object to exist; peers are created on the
// controller goroutine after a command is posted.
func (e *fakeEngine) peer(t *testing.T, i int) *fakePeer {
	t.Helper()

	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return len(e.peers) > i
	}, time.Second, 5*time.Millisecond)

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peers[i]
}

func (e *fakeEngine) peerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.peers)
}

func (e *fakeEngine) capturedTracks() []*fakeTrack {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*fakeTrack(nil), e.captured...)
}

type fakePeer struct {
	hooks       engine.PeerHooks
	autoConnect bool
	remoteErr   error

	mu       sync.Mutex
	stable   bool
	needNeg  bool
	tracks   []engine.Track
	replaced []engine.Track
	cands    []webrtc.ICECandidateInit
	offers   int
	answers  int
	closed   bool
}

func (p *fakePeer) AddTrack(t engine.Track) error {
	p.mu.Lock()
	p.tracks = append(p.tracks, t)
	p.needNeg = true
	fire := p.stable
	if fire {
		p.needNeg = false
	}
	p.mu.Unlock()

	if fire {
		p.hooks.OnNegotiationNeeded()
	}
	return nil
}

func (p *fakePeer) ReplaceVideoTrack(t engine.Track) error {
	p.mu.Lock()
	p.replaced = append(p.replaced, t)
	p.needNeg = true
	fire := p.stable
	if fire {
		p.needNeg = false
	}
	p.mu.Unlock()

	if fire {
		p.hooks.OnNegotiationNeeded()
	}
	return nil
}

func (p *fakePeer) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	p.offers++
	n := p.offers
	p.stable = false
	p.needNeg = false
	p.mu.Unlock()

	p.hooks.OnSignalingStateChange(false)
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("v=0 offer %d", n),
	}, nil
}

func (p *fakePeer) CreateAnswer(context.Context) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	p.answers++
	n := p.answers
	p.stable = true
	p.needNeg = false
	connect := p.autoConnect
	p.mu.Unlock()

	p.hooks.OnSignalingStateChange(true)
	if connect {
		p.hooks.OnConnectionStateChange(engine.ConnConnected)
	}
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  fmt.Sprintf("v=0 answer %d", n),
	}, nil
}

func (p *fakePeer) SetRemoteDescription(_ context.Context, desc webrtc.SessionDescription) error {
	p.mu.Lock()
	if err := p.remoteErr; err != nil {
		p.mu.Unlock()
		return err
	}

	stable := desc.Type == webrtc.SDPTypeAnswer
	p.stable = stable
	connect := stable && p.autoConnect
	refire := stable && p.needNeg
	if refire {
		p.needNeg = false
	}
	p.mu.Unlock()

	p.hooks.OnSignalingStateChange(stable)
	if connect {
		p.hooks.OnConnectionStateChange(engine.ConnConnected)
	}
	if refire {
		p.hooks.OnNegotiationNeeded()
	}
	return nil
}

func (p *fakePeer) AddICECandidate(cand webrtc.ICECandidateInit) error {
	p.mu.Lock()
	p.cands = append(p.cands, cand)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) Candidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.cands...)
}

func (p *fakePeer) Offers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers
}

func (p *fakePeer) Answers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.answers
}

func (p *fakePeer) Replaced() []engine.Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]engine.Track(nil), p.replaced...)
}

func (p *fakePeer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeSender records everything the controller pushes toward the relay.
type fakeSender struct {
	ch chan domain.SignalMessage
}

func newFakeSender() *fakeSender {
	return &fakeSender{ch: make(chan domain.SignalMessage, 64)}
}

func (s *fakeSender) Send(msg domain.SignalMessage) { s.ch <- msg }

// next returns the first message of the given type, skipping others (e.g.
// interleaved candidates).
func (s *fakeSender) next(t *testing.T, typ string) domain.SignalMessage {
	t.Helper()

	deadline := time.After(time.Second)
	for {
		select {
		case msg := <-s.ch:
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q message", typ)
			return domain.SignalMessage{}
		}
	}
}

func (s *fakeSender) expectNone(t *testing.T, typ string) {
	t.Helper()

	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case msg := <-s.ch:
			if msg.Type == typ {
				t.Fatalf("unexpected %q message", typ)
			}
		case <-timeout:
			return
		}
	}
}
