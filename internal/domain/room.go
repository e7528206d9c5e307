package domain

import (
	"sync"
	"time"
)

// RoomCapacity caps a room at a single caller/callee pair.
const RoomCapacity = 2

// Room holds the ordered set of participants currently joined under one
// room identifier. Membership is mutated only under Mutex; the registry
// keeps a separate lock for the room map itself, so operations on
// different rooms never contend.
type Room struct {
	Mutex        sync.Mutex
	ID           string
	Participants []string
	CreatedAt    time.Time

	// Closed marks a room that has been removed from the registry. A
	// holder of a stale pointer must not join it; it fetches a fresh room
	// instead. Caller must hold Mutex.
	Closed bool
}

func NewRoom(id string) *Room {
	return &Room{
		ID:           id,
		Participants: make([]string, 0, RoomCapacity),
		CreatedAt:    time.Now().UTC(),
	}
}

// Other returns the participant paired with the given one. Caller must
// hold Mutex.
func (r *Room) Other(participantID string) (string, bool) {
	for _, id := range r.Participants {
		if id != participantID {
			return id, true
		}
	}
	return "", false
}

// Contains reports membership. Caller must hold Mutex.
func (r *Room) Contains(participantID string) bool {
	for _, id := range r.Participants {
		if id == participantID {
			return true
		}
	}
	return false
}

// Remove deletes the participant, preserving join order of the rest.
// Caller must hold Mutex.
func (r *Room) Remove(participantID string) {
	for i, id := range r.Participants {
		if id == participantID {
			r.Participants = append(r.Participants[:i], r.Participants[i+1:]...)
			return
		}
	}
}
