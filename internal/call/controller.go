package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/vkotelnikov/duocall/internal/domain"
	"github.com/vkotelnikov/duocall/internal/engine"
	"github.com/vkotelnikov/duocall/lib/logger/sl"
)

var (
	// ErrRemoteDescriptionRejected means the engine refused a received
	// description; the session fails over to Ending.
	ErrRemoteDescriptionRejected = errors.New("remote description rejected")

	// ErrNegotiationTimeout fires for sessions stuck in Outgoing or
	// IncomingPending past the configured deadline.
	ErrNegotiationTimeout = errors.New("negotiation timed out")

	// ErrRoomFull surfaces the relay's rejection of a third participant.
	ErrRoomFull = errors.New("room is full")

	// ErrRelayUnreachable reports a lost relay connection; affected
	// sessions are force-ended locally.
	ErrRelayUnreachable = errors.New("relay unreachable")
)

// Sender delivers signaling messages toward the relay.
type Sender interface {
	Send(msg domain.SignalMessage)
}

// Hooks notify the embedding application. They are invoked from the
// controller's own goroutine and must not block.
type Hooks struct {
	OnStateChange func(State)
	OnPaired      func(remoteID string, initiator bool)
	OnRemoteTrack func(t engine.RemoteTrack)
	OnError       func(err error)
}

type ControllerConfig struct {
	Engine             engine.Engine
	ICE                engine.ICEConfig
	Signals            Sender
	RoomID             string
	NegotiationTimeout time.Duration
	Log                *slog.Logger
	Hooks              Hooks
}

// Controller owns the per-call negotiation state machine. All mutation
// happens on the single Run goroutine; external inputs (signal messages,
// engine callbacks, user commands) are posted onto one event channel, which
// serializes transitions by arrival order. Engine work that can block runs
// in helper goroutines tagged with a generation counter, so completions
// that land after teardown are no-ops.
type Controller struct {
	engine  engine.Engine
	ice     engine.ICEConfig
	signals Sender
	roomID  string
	timeout time.Duration
	log     *slog.Logger
	hooks   Hooks

	events chan event
	done   chan struct{}
	once   sync.Once

	// Everything below is owned by the Run goroutine.
	state             State
	localID           string
	remoteID          string
	peer              engine.Peer
	tracks            []engine.Track
	buffer            *CandidateBuffer
	pendingOffer      *webrtc.SessionDescription
	captureInFlight   bool
	remoteApplied     bool
	connected         bool
	stable            bool
	offerInFlight     bool
	renegotiateQueued bool
	gen               int
	timer             *time.Timer

	// mu guards the published snapshot read by State, LocalID and
	// RemoteID.
	mu        sync.RWMutex
	pubState  State
	pubLocal  string
	pubRemote string
}

type event any

type (
	cmdCall         struct{}
	cmdAccept       struct{}
	cmdReject       struct{}
	cmdEnd          struct{}
	cmdReplaceVideo struct{ source engine.TrackSource }

	evtSignal            struct{ msg domain.SignalMessage }
	evtRelayLost         struct{}
	evtNegotiationNeeded struct{}
	evtLocalCandidate    struct {
		gen  int
		cand webrtc.ICECandidateInit
	}
	evtSignalingState struct {
		gen    int
		stable bool
	}
	evtConnState struct {
		gen int
		st  engine.ConnState
	}
	evtDescriptionDone struct {
		gen  int
		kind string // "offer" or "answer"
		desc webrtc.SessionDescription
		err  error
	}
	evtRemoteApplied struct {
		gen int
		err error
	}
	evtTracksDone struct {
		gen     int
		purpose capturePurpose
		tracks  []engine.Track
		err     error
	}
	evtTimeout struct{ gen int }
)

// capturePurpose records which transition asked for local media, so the
// completion can be routed (or discarded) against the state the session is
// in by the time the tracks arrive.
type capturePurpose int

const (
	captureForCall capturePurpose = iota
	captureForAccept
	captureForReplace
)

func NewController(cfg ControllerConfig) *Controller {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		engine:  cfg.Engine,
		ice:     cfg.ICE,
		signals: cfg.Signals,
		roomID:  cfg.RoomID,
		timeout: cfg.NegotiationTimeout,
		log:     log,
		hooks:   cfg.Hooks,
		events:  make(chan event, 128),
		done:    make(chan struct{}),
		buffer:  NewCandidateBuffer(),
		state:   StateIdle,
	}
}

// Run processes events until Stop. It must be running before any command
// or signal is delivered.
func (c *Controller) Run() {
	for {
		select {
		case e := <-c.events:
			c.handle(e)
		case <-c.done:
			return
		}
	}
}

func (c *Controller) Stop() {
	c.once.Do(func() { close(c.done) })
}

// Call initiates an outgoing call to the paired participant.
func (c *Controller) Call() { c.post(cmdCall{}) }

// Accept takes a held incoming offer and answers it.
func (c *Controller) Accept() { c.post(cmdAccept{}) }

// Reject declines a held incoming offer.
func (c *Controller) Reject() { c.post(cmdReject{}) }

// EndCall tears the session down. Idempotent.
func (c *Controller) EndCall() { c.post(cmdEnd{}) }

// ReplaceOutboundVideo swaps the outbound video track for one captured
// from the given source. Used for both starting and stopping screen share.
func (c *Controller) ReplaceOutboundVideo(source engine.TrackSource) {
	c.post(cmdReplaceVideo{source: source})
}

// HandleSignal feeds one message received from the relay.
func (c *Controller) HandleSignal(msg domain.SignalMessage) { c.post(evtSignal{msg: msg}) }

// ConnectionLost reports that the relay connection is gone; the session is
// forced to Ending locally.
func (c *Controller) ConnectionLost() { c.post(evtRelayLost{}) }

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pubState
}

// LocalID returns the relay-assigned identifier, empty until the relay
// handshake completes.
func (c *Controller) LocalID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pubLocal
}

func (c *Controller) RemoteID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pubRemote
}

func (c *Controller) post(e event) {
	select {
	case c.events <- e:
	case <-c.done:
	default:
		c.log.Warn("event queue full, dropping event", slog.String("event", fmt.Sprintf("%T", e)))
	}
}

func (c *Controller) handle(e event) {
	switch e := e.(type) {
	case cmdCall:
		c.handleCall()
	case cmdAccept:
		c.handleAccept()
	case cmdReject:
		if c.state == StateIncomingPending {
			c.teardown(true)
		}
	case cmdEnd:
		if c.state == StateEnding || c.state == StateIdle {
			return
		}
		c.teardown(true)
	case cmdReplaceVideo:
		c.handleReplaceVideo(e.source)
	case evtSignal:
		c.handleSignalMessage(e.msg)
	case evtRelayLost:
		if c.state != StateEnding {
			c.hooks.onError(ErrRelayUnreachable)
			c.teardown(false)
		}
	case evtNegotiationNeeded:
		c.maybeNegotiate()
	case evtLocalCandidate:
		if e.gen != c.gen || c.remoteID == "" {
			return
		}
		c.signals.Send(domain.SignalMessage{
			Type:      domain.SignalCandidate,
			Room:      c.roomID,
			SenderID:  c.localID,
			TargetID:  c.remoteID,
			Candidate: &e.cand,
		})
	case evtSignalingState:
		c.handleSignalingState(e)
	case evtConnState:
		c.handleConnState(e)
	case evtDescriptionDone:
		c.handleDescriptionDone(e)
	case evtRemoteApplied:
		c.handleRemoteApplied(e)
	case evtTracksDone:
		if e.gen != c.gen {
			// The session was torn down while media was acquired.
			if e.err == nil {
				c.stopTracks(e.tracks)
			}
			return
		}
		c.handleTracksDone(e)
	case evtTimeout:
		if e.gen != c.gen {
			return
		}
		if c.state == StateOutgoing || c.state == StateIncomingPending {
			c.hooks.onError(ErrNegotiationTimeout)
			c.teardown(true)
		}
	}
}

func (c *Controller) handleSignalMessage(msg domain.SignalMessage) {
	switch msg.Type {
	case domain.SignalConnected:
		if id, ok := msg.Payload["participant_id"].(string); ok {
			c.localID = id
			c.publish()
		}

	case domain.SignalOtherUser:
		c.remoteID = msg.SenderID
		c.publish()
		if c.hooks.OnPaired != nil {
			c.hooks.OnPaired(msg.SenderID, true)
		}

	case domain.SignalUserJoined:
		c.remoteID = msg.SenderID
		c.publish()
		if c.hooks.OnPaired != nil {
			c.hooks.OnPaired(msg.SenderID, false)
		}

	case domain.SignalOffer:
		c.handleRemoteOffer(msg)

	case domain.SignalAnswer:
		c.handleRemoteAnswer(msg)

	case domain.SignalCandidate:
		c.handleRemoteCandidate(msg)

	case domain.SignalCallEnd:
		if c.state != StateEnding && c.state != StateIdle {
			c.teardown(false)
		}

	case domain.SignalError:
		reason, _ := msg.Payload["error"].(string)
		if reason == "room is full" {
			c.hooks.onError(ErrRoomFull)
			return
		}
		c.hooks.onError(fmt.Errorf("relay error: %s", reason))
	}
}

func (c *Controller) handleCall() {
	if c.state != StateIdle || c.captureInFlight {
		c.log.Warn("call ignored", slog.String("state", c.state.String()))
		return
	}
	if c.remoteID == "" {
		c.hooks.onError(errors.New("no paired participant to call"))
		return
	}

	// Media acquisition can block on a permission prompt, so it runs off
	// the loop; the session stays Idle until the tracks arrive.
	c.captureAsync(captureForCall, engine.SourceCamera)
}

func (c *Controller) handleAccept() {
	if c.state != StateIncomingPending || c.pendingOffer == nil || c.captureInFlight {
		c.log.Warn("accept ignored", slog.String("state", c.state.String()))
		return
	}

	c.captureAsync(captureForAccept, engine.SourceCamera)
}

// captureAsync acquires local media in a helper goroutine; the completion
// is routed back through the loop as an event.
func (c *Controller) captureAsync(purpose capturePurpose, source engine.TrackSource) {
	c.captureInFlight = true
	gen := c.gen
	go func() {
		tracks, err := c.engine.CaptureTracks(context.Background(), source)
		c.post(evtTracksDone{gen: gen, purpose: purpose, tracks: tracks, err: err})
	}()
}

func (c *Controller) handleTracksDone(e evtTracksDone) {
	c.captureInFlight = false

	if e.err != nil {
		// Media acquisition refused: for a call the session never left
		// Idle; for an accept it stays IncomingPending until the timeout
		// or a reject.
		c.hooks.onError(fmt.Errorf("capture tracks: %w", e.err))
		return
	}

	switch e.purpose {
	case captureForCall:
		if c.state != StateIdle {
			// An incoming offer won the race while media was acquired;
			// the outgoing attempt is abandoned.
			c.stopTracks(e.tracks)
			return
		}
		c.startOutgoing(e.tracks)

	case captureForAccept:
		if c.state != StateIncomingPending || c.pendingOffer == nil {
			c.stopTracks(e.tracks)
			return
		}
		c.startAnswering(e.tracks)

	case captureForReplace:
		if c.state != StateActive {
			c.stopTracks(e.tracks)
			return
		}
		c.swapVideo(e.tracks)
	}
}

func (c *Controller) startOutgoing(tracks []engine.Track) {
	if err := c.createPeer(); err != nil {
		c.stopTracks(tracks)
		c.hooks.onError(err)
		return
	}
	c.tracks = tracks

	for _, t := range tracks {
		if err := c.peer.AddTrack(t); err != nil {
			c.hooks.onError(fmt.Errorf("add track: %w", err))
			c.teardown(false)
			return
		}
	}

	// Adding tracks makes the engine fire negotiation-needed, which
	// produces and sends the offer.
	c.setState(StateOutgoing)
	c.armTimeout()
}

func (c *Controller) startAnswering(tracks []engine.Track) {
	if err := c.createPeer(); err != nil {
		c.stopTracks(tracks)
		c.hooks.onError(err)
		return
	}
	c.tracks = tracks

	offer := *c.pendingOffer
	c.pendingOffer = nil
	c.setState(StateNegotiating)
	c.disarmTimeout()

	gen := c.gen
	peer := c.peer
	go func() {
		if err := peer.SetRemoteDescription(context.Background(), offer); err != nil {
			c.post(evtRemoteApplied{gen: gen, err: err})
			return
		}
		for _, t := range tracks {
			if err := peer.AddTrack(t); err != nil {
				c.post(evtDescriptionDone{gen: gen, kind: domain.SignalAnswer, err: err})
				return
			}
		}
		desc, err := peer.CreateAnswer(context.Background())
		c.post(evtDescriptionDone{gen: gen, kind: domain.SignalAnswer, desc: desc, err: err})
	}()
}

func (c *Controller) handleRemoteOffer(msg domain.SignalMessage) {
	if msg.SDP == nil {
		return
	}

	switch c.state {
	case StateIdle:
		// Hold the offer; the peer object is created on accept so the
		// UI can prompt first.
		sdp := *msg.SDP
		c.pendingOffer = &sdp
		if msg.SenderID != "" {
			c.remoteID = msg.SenderID
		}
		c.setState(StateIncomingPending)
		c.armTimeout()

	case StateActive, StateNegotiating:
		// Remote renegotiation (e.g. the far side started screen
		// share): answer it if our own signaling state allows.
		if c.peer == nil || !c.remoteApplied {
			return
		}
		offer := *msg.SDP
		gen := c.gen
		peer := c.peer
		go func() {
			if err := peer.SetRemoteDescription(context.Background(), offer); err != nil {
				c.post(evtRemoteApplied{gen: gen, err: err})
				return
			}
			desc, err := peer.CreateAnswer(context.Background())
			c.post(evtDescriptionDone{gen: gen, kind: domain.SignalAnswer, desc: desc, err: err})
		}()

	case StateOutgoing:
		// Glare: we already have an offer outstanding. Ours wins by
		// construction (only the track-attaching side offers), so the
		// colliding offer is ignored, never surfaced as an error.
		c.log.Warn("negotiation conflict, ignoring colliding offer",
			slog.String("sender_id", msg.SenderID))

	default:
		c.log.Debug("offer ignored", slog.String("state", c.state.String()))
	}
}

func (c *Controller) handleRemoteAnswer(msg domain.SignalMessage) {
	if c.state != StateOutgoing || c.peer == nil || msg.SDP == nil {
		c.log.Debug("answer ignored", slog.String("state", c.state.String()))
		return
	}

	answer := *msg.SDP
	gen := c.gen
	peer := c.peer
	go func() {
		err := peer.SetRemoteDescription(context.Background(), answer)
		c.post(evtRemoteApplied{gen: gen, err: err})
	}()
}

func (c *Controller) handleRemoteCandidate(msg domain.SignalMessage) {
	if msg.Candidate == nil {
		return
	}

	if c.state == StateEnding {
		// Stale candidate for a session that is already gone.
		c.log.Debug("dropping stale candidate")
		return
	}

	if c.peer != nil && c.remoteApplied {
		if err := c.peer.AddICECandidate(*msg.Candidate); err != nil {
			c.log.Warn("failed to add candidate", sl.Err(err))
		}
		return
	}

	c.buffer.Add(*msg.Candidate)
}

func (c *Controller) handleSignalingState(e evtSignalingState) {
	if e.gen != c.gen {
		return
	}
	c.stable = e.stable
	if c.stable && c.renegotiateQueued {
		c.renegotiateQueued = false
		c.maybeNegotiate()
	}
}

func (c *Controller) handleConnState(e evtConnState) {
	if e.gen != c.gen {
		return
	}

	switch e.st {
	case engine.ConnConnected:
		// The transport can report a usable connection before or after
		// the final description lands; never trust the ordering.
		c.connected = true
		if c.state == StateNegotiating {
			c.setState(StateActive)
		}
	case engine.ConnFailed:
		if c.state != StateEnding {
			c.hooks.onError(errors.New("transport failed"))
			c.teardown(true)
		}
	}
}

func (c *Controller) handleDescriptionDone(e evtDescriptionDone) {
	if e.gen != c.gen || c.state == StateEnding {
		return
	}

	if e.kind == domain.SignalOffer {
		c.offerInFlight = false
	}

	if e.err != nil {
		c.hooks.onError(fmt.Errorf("negotiation failed: %w", e.err))
		c.teardown(true)
		return
	}

	desc := e.desc
	c.signals.Send(domain.SignalMessage{
		Type:     e.kind,
		Room:     c.roomID,
		SenderID: c.localID,
		TargetID: c.remoteID,
		SDP:      &desc,
	})

	if e.kind == domain.SignalAnswer {
		// Our answer implies the remote description was applied.
		c.remoteApplied = true
		c.drainBuffer()
	}
}

func (c *Controller) handleRemoteApplied(e evtRemoteApplied) {
	if e.gen != c.gen || c.state == StateEnding {
		return
	}

	if e.err != nil {
		c.hooks.onError(fmt.Errorf("%w: %v", ErrRemoteDescriptionRejected, e.err))
		c.teardown(true)
		return
	}

	c.remoteApplied = true
	if c.state == StateOutgoing {
		c.setState(StateNegotiating)
		c.disarmTimeout()
		if c.connected {
			c.setState(StateActive)
		}
	}
	c.drainBuffer()
}

func (c *Controller) handleReplaceVideo(source engine.TrackSource) {
	if c.state != StateActive || c.captureInFlight {
		c.log.Warn("replace video ignored", slog.String("state", c.state.String()))
		return
	}

	c.captureAsync(captureForReplace, source)
}

func (c *Controller) swapVideo(tracks []engine.Track) {
	var video engine.Track
	for _, t := range tracks {
		if t.Kind() == "video" {
			video = t
			break
		}
	}
	if video == nil {
		c.hooks.onError(errors.New("source produced no video track"))
		return
	}

	if err := c.peer.ReplaceVideoTrack(video); err != nil {
		c.hooks.onError(fmt.Errorf("replace video: %w", err))
		return
	}

	for i, t := range c.tracks {
		if t.Kind() == "video" {
			if err := t.Stop(); err != nil {
				c.log.Warn("failed to stop replaced track", sl.Err(err))
			}
			c.tracks[i] = video
			break
		}
	}
	// The engine reports negotiation-needed for the swapped track; the
	// renegotiation offer goes out once the signaling state is stable.
}

// maybeNegotiate creates and sends an offer, deferring when the signaling
// sub-state is not stable. Deferred requests are retried on the next stable
// notification, never dropped.
func (c *Controller) maybeNegotiate() {
	if c.peer == nil {
		return
	}
	switch c.state {
	case StateOutgoing, StateNegotiating, StateActive:
	default:
		return
	}

	if c.offerInFlight {
		// The offer being created already covers the current tracks.
		return
	}
	if !c.stable {
		c.renegotiateQueued = true
		return
	}

	c.offerInFlight = true
	gen := c.gen
	peer := c.peer
	go func() {
		desc, err := peer.CreateOffer(context.Background())
		c.post(evtDescriptionDone{gen: gen, kind: domain.SignalOffer, desc: desc, err: err})
	}()
}

func (c *Controller) createPeer() error {
	gen := c.gen
	hooks := engine.PeerHooks{
		OnNegotiationNeeded: func() {
			c.post(evtNegotiationNeeded{})
		},
		OnICECandidate: func(cand webrtc.ICECandidateInit) {
			c.post(evtLocalCandidate{gen: gen, cand: cand})
		},
		OnTrack: func(t engine.RemoteTrack) {
			if c.hooks.OnRemoteTrack != nil {
				c.hooks.OnRemoteTrack(t)
			}
		},
		OnSignalingStateChange: func(stable bool) {
			c.post(evtSignalingState{gen: gen, stable: stable})
		},
		OnConnectionStateChange: func(st engine.ConnState) {
			c.post(evtConnState{gen: gen, st: st})
		},
	}

	peer, err := c.engine.NewPeer(c.ice, hooks)
	if err != nil {
		return fmt.Errorf("create peer: %w", err)
	}

	c.peer = peer
	c.stable = true
	c.remoteApplied = false
	c.connected = false
	c.offerInFlight = false
	c.renegotiateQueued = false
	return nil
}

func (c *Controller) drainBuffer() {
	for _, cand := range c.buffer.Drain() {
		if err := c.peer.AddICECandidate(cand); err != nil {
			c.log.Warn("failed to apply buffered candidate", sl.Err(err))
		}
	}
}

// teardown releases everything the session owns and parks it in Ending.
// Ending is terminal: a fresh session must be constructed for the next
// call.
func (c *Controller) teardown(notifyRemote bool) {
	if c.state == StateEnding {
		return
	}

	if notifyRemote && c.remoteID != "" {
		c.signals.Send(domain.SignalMessage{
			Type:     domain.SignalCallEnd,
			Room:     c.roomID,
			SenderID: c.localID,
			TargetID: c.remoteID,
		})
	}

	c.gen++
	c.disarmTimeout()

	if c.peer != nil {
		if err := c.peer.Close(); err != nil {
			c.log.Warn("failed to close peer", sl.Err(err))
		}
		c.peer = nil
	}
	c.stopTracks(c.tracks)
	c.tracks = nil
	c.buffer.Clear()
	c.pendingOffer = nil
	c.captureInFlight = false
	c.remoteID = ""
	c.remoteApplied = false
	c.connected = false
	c.stable = false
	c.offerInFlight = false
	c.renegotiateQueued = false

	c.setState(StateEnding)
}

func (c *Controller) stopTracks(tracks []engine.Track) {
	for _, t := range tracks {
		if err := t.Stop(); err != nil {
			c.log.Warn("failed to stop track", sl.Err(err))
		}
	}
}

func (c *Controller) armTimeout() {
	if c.timeout <= 0 {
		return
	}
	c.disarmTimeout()
	gen := c.gen
	c.timer = time.AfterFunc(c.timeout, func() {
		c.post(evtTimeout{gen: gen})
	})
}

func (c *Controller) disarmTimeout() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.log.Info("session state changed",
		slog.String("from", c.state.String()),
		slog.String("to", s.String()),
	)
	c.state = s
	c.publish()
	if c.hooks.OnStateChange != nil {
		c.hooks.OnStateChange(s)
	}
}

func (c *Controller) publish() {
	c.mu.Lock()
	c.pubState = c.state
	c.pubLocal = c.localID
	c.pubRemote = c.remoteID
	c.mu.Unlock()
}

func (h Hooks) onError(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}
