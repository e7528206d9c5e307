package call

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/vkotelnikov/duocall/internal/domain"
	"github.com/vkotelnikov/duocall/internal/engine"
	"github.com/vkotelnikov/duocall/internal/signaling"
)

// SessionOptions configure one call session.
type SessionOptions struct {
	Engine             engine.Engine
	ICE                engine.ICEConfig
	NegotiationTimeout time.Duration
	Log                *slog.Logger
	Hooks              Hooks
}

// Session ties one relay connection to one negotiation controller. A
// session serves at most one call; construct a new one for the next call.
type Session struct {
	client    *signaling.Client
	ctrl      *Controller
	roomID    string
	log       *slog.Logger
	closeOnce sync.Once
}

// Dial connects to the relay, joins the room and starts the negotiation
// controller. serverURL is the relay base, e.g. "ws://localhost:8080".
func Dial(serverURL, roomID, displayName string, opts SessionOptions) (*Session, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("room_id", roomID))

	wsURL := fmt.Sprintf("%s/ws?name=%s", serverURL, url.QueryEscape(displayName))
	client := signaling.NewClient(wsURL)
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	ctrl := NewController(ControllerConfig{
		Engine:             opts.Engine,
		ICE:                opts.ICE,
		Signals:            client,
		RoomID:             roomID,
		NegotiationTimeout: opts.NegotiationTimeout,
		Log:                log,
		Hooks:              opts.Hooks,
	})

	s := &Session{
		client: client,
		ctrl:   ctrl,
		roomID: roomID,
		log:    log,
	}

	go ctrl.Run()
	go s.route()

	return s, nil
}

// route feeds relay messages into the controller and joins the room once
// the relay has assigned our identifier.
func (s *Session) route() {
	for msg := range s.client.Incoming() {
		s.ctrl.HandleSignal(msg)

		if msg.Type == domain.SignalConnected {
			s.client.Send(domain.SignalMessage{
				Type: domain.SignalJoinRoom,
				Room: s.roomID,
			})
		}
	}
	// Incoming closed: the relay connection is gone.
	s.ctrl.ConnectionLost()
}

func (s *Session) Call()   { s.ctrl.Call() }
func (s *Session) Accept() { s.ctrl.Accept() }
func (s *Session) Reject() { s.ctrl.Reject() }

// EndCall is idempotent; ending an already-ended session is a no-op.
func (s *Session) EndCall() { s.ctrl.EndCall() }

func (s *Session) ReplaceOutboundVideo(source engine.TrackSource) {
	s.ctrl.ReplaceOutboundVideo(source)
}

func (s *Session) State() State     { return s.ctrl.State() }
func (s *Session) LocalID() string  { return s.ctrl.LocalID() }
func (s *Session) RemoteID() string { return s.ctrl.RemoteID() }

// Close ends any active call and releases the relay connection.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.ctrl.EndCall()

		// Give the controller a moment to run teardown and flush the
		// call-end notification before the transport goes away.
		deadline := time.Now().Add(500 * time.Millisecond)
		for time.Now().Before(deadline) {
			if st := s.ctrl.State(); st == StateEnding || st == StateIdle {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}

		s.client.Close()
		s.ctrl.Stop()
	})
}
