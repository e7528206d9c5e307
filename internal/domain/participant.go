package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const participantQueueSize = 32

// Participant is one live relay connection. The ID is assigned when the
// websocket is accepted and has no meaning outside the relay.
type Participant struct {
	ID          string
	DisplayName string
	JoinedAt    time.Time

	mu     sync.Mutex
	roomID string
	closed bool

	// Events is drained by the connection's single write pump, which is
	// what gives per-target FIFO delivery.
	Events chan SignalMessage
}

func NewParticipant(displayName string) *Participant {
	return &Participant{
		ID:          uuid.New().String(),
		DisplayName: displayName,
		JoinedAt:    time.Now().UTC(),
		Events:      make(chan SignalMessage, participantQueueSize),
	}
}

// EnqueueEvent queues an outbound message. Delivery is best-effort: a full
// queue or a closed connection drops the message.
func (p *Participant) EnqueueEvent(event SignalMessage) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}

	select {
	case p.Events <- event:
		return true
	default:
		return false
	}
}

// CloseEvents shuts the outbound queue exactly once.
func (p *Participant) CloseEvents() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		p.closed = true
		close(p.Events)
	}
}

func (p *Participant) SetRoom(roomID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roomID = roomID
}

func (p *Participant) Room() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roomID
}
