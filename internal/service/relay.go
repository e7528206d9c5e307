package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vkotelnikov/duocall/internal/domain"
)

// Relay routes signaling messages between the two participants of a room by
// participant identifier. It holds no negotiation state of its own:
// forwarding is best-effort, at-most-once, FIFO per source/target pair
// (each participant's queue is drained by a single write pump).
type Relay struct {
	registry *RoomRegistry
	log      *slog.Logger

	mu           sync.RWMutex
	participants map[string]*domain.Participant
}

func NewRelay(registry *RoomRegistry, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		registry:     registry,
		log:          log,
		participants: make(map[string]*domain.Participant),
	}
}

// Attach registers a freshly accepted connection and announces its assigned
// identifier to it.
func (r *Relay) Attach(p *domain.Participant) {
	r.mu.Lock()
	r.participants[p.ID] = p
	r.mu.Unlock()

	p.EnqueueEvent(domain.SignalMessage{
		Type:    domain.SignalConnected,
		Payload: map[string]any{"participant_id": p.ID},
	})

	r.log.Info("participant attached", slog.String("participant_id", p.ID))
}

// Detach removes a disconnected participant, clears its room membership and
// tells the peer left behind that the call is over.
func (r *Relay) Detach(ctx context.Context, p *domain.Participant) {
	r.mu.Lock()
	delete(r.participants, p.ID)
	r.mu.Unlock()

	if roomID := p.Room(); roomID != "" {
		remaining := r.registry.Leave(ctx, roomID, p.ID)
		if remaining != "" {
			r.forward(remaining, domain.SignalMessage{
				Type:     domain.SignalCallEnd,
				Room:     roomID,
				SenderID: p.ID,
			})
		}
	}

	p.CloseEvents()
	r.log.Info("participant detached", slog.String("participant_id", p.ID))
}

// HandleSignal processes one inbound message from a participant's read
// loop. Messages from a single participant arrive here in order.
func (r *Relay) HandleSignal(ctx context.Context, p *domain.Participant, msg *domain.SignalMessage) error {
	const op = "service.relay.signal"
	if msg == nil {
		return errors.New("message is required")
	}

	log := r.log.With(
		slog.String("op", op),
		slog.String("participant_id", p.ID),
		slog.String("type", msg.Type),
	)
	log.Debug("signal received")

	switch msg.Type {
	case domain.SignalJoinRoom:
		return r.handleJoin(ctx, p, msg)

	case domain.SignalOffer, domain.SignalAnswer:
		r.forward(msg.TargetID, domain.SignalMessage{
			Type:     msg.Type,
			Room:     msg.Room,
			SenderID: p.ID,
			SDP:      msg.SDP,
		})

	case domain.SignalCandidate:
		r.forward(msg.TargetID, domain.SignalMessage{
			Type:      msg.Type,
			Room:      msg.Room,
			SenderID:  p.ID,
			Candidate: msg.Candidate,
		})

	case domain.SignalCallEnd:
		roomID := msg.Room
		if roomID == "" {
			roomID = p.Room()
		}
		r.registry.Leave(ctx, roomID, p.ID)
		p.SetRoom("")
		if msg.TargetID != "" {
			r.registry.Leave(ctx, roomID, msg.TargetID)
			// The target's seat is vacated here, so its room binding must
			// be dropped as well. Otherwise its eventual disconnect would
			// fire a call-end into whoever occupies the room by then.
			r.mu.RLock()
			target, ok := r.participants[msg.TargetID]
			r.mu.RUnlock()
			if ok && target.Room() == roomID {
				target.SetRoom("")
			}
			r.forward(msg.TargetID, domain.SignalMessage{
				Type:     domain.SignalCallEnd,
				Room:     roomID,
				SenderID: p.ID,
			})
		}

	default:
		return fmt.Errorf("%s: unsupported signal type %q", op, msg.Type)
	}

	return nil
}

func (r *Relay) handleJoin(ctx context.Context, p *domain.Participant, msg *domain.SignalMessage) error {
	const op = "service.relay.join"

	if msg.Room == "" {
		p.EnqueueEvent(domain.ErrorMessage("room is required"))
		return nil
	}

	remote, err := r.registry.Join(ctx, msg.Room, p.ID)
	if err != nil {
		if errors.Is(err, ErrRoomFull) {
			p.EnqueueEvent(domain.ErrorMessage("room is full"))
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	p.SetRoom(msg.Room)

	if remote == "" {
		return nil
	}

	// Second participant completed the pair: tell the joiner who is
	// already there and the first participant who arrived, each exactly
	// once.
	p.EnqueueEvent(domain.SignalMessage{
		Type:     domain.SignalOtherUser,
		Room:     msg.Room,
		SenderID: remote,
		Payload:  map[string]any{"display_name": r.displayName(remote)},
	})
	r.forward(remote, domain.SignalMessage{
		Type:     domain.SignalUserJoined,
		Room:     msg.Room,
		SenderID: p.ID,
		Payload:  map[string]any{"display_name": p.DisplayName},
	})

	return nil
}

// forward delivers to a connected target or silently drops the message.
func (r *Relay) forward(targetID string, msg domain.SignalMessage) {
	r.mu.RLock()
	target, ok := r.participants[targetID]
	r.mu.RUnlock()

	if !ok {
		r.log.Debug("dropping signal for unknown target",
			slog.String("target_id", targetID),
			slog.String("type", msg.Type),
		)
		return
	}
	if !target.EnqueueEvent(msg) {
		r.log.Debug("dropping signal, target queue unavailable",
			slog.String("target_id", targetID),
			slog.String("type", msg.Type),
		)
	}
}

// DisplayNames resolves connected participants' names for inspection
// endpoints.
func (r *Relay) DisplayNames(ids []string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make(map[string]string, len(ids))
	for _, id := range ids {
		if p, ok := r.participants[id]; ok {
			names[id] = p.DisplayName
		}
	}
	return names
}

func (r *Relay) displayName(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.participants[id]; ok {
		return p.DisplayName
	}
	return ""
}
