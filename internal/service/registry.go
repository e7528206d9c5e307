package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vkotelnikov/duocall/internal/domain"
	"github.com/vkotelnikov/duocall/internal/repository"
	"github.com/vkotelnikov/duocall/lib/logger/sl"
)

// ErrRoomFull rejects a third join into a two-party room. Rejection (rather
// than evicting the oldest member) keeps an established call undisturbed.
var ErrRoomFull = errors.New("room is full")

// RoomRegistry maps room identifiers to the pair of participants joined
// there. It only tracks membership; notification of pairing events is the
// relay's job.
type RoomRegistry struct {
	rooms repository.RoomRepository
	log   *slog.Logger
}

func NewRoomRegistry(rooms repository.RoomRepository, log *slog.Logger) *RoomRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &RoomRegistry{rooms: rooms, log: log}
}

// Join registers the participant in the room. When a peer is already
// present its identifier is returned, which is the pairing event.
func (s *RoomRegistry) Join(ctx context.Context, roomID, participantID string) (string, error) {
	const op = "service.registry.join"

	var (
		room *domain.Room
		err  error
	)
	for {
		room, err = s.rooms.GetOrCreate(ctx, roomID)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}

		room.Mutex.Lock()
		if !room.Closed {
			break
		}
		// The room was deleted between lookup and lock; fetch a fresh one.
		room.Mutex.Unlock()
	}
	defer room.Mutex.Unlock()

	// A repeated join must not re-announce the pairing.
	if room.Contains(participantID) {
		return "", nil
	}
	if len(room.Participants) >= domain.RoomCapacity {
		return "", ErrRoomFull
	}

	room.Participants = append(room.Participants, participantID)
	remote, _ := room.Other(participantID)

	s.log.Info("participant joined room",
		slog.String("op", op),
		slog.String("room_id", roomID),
		slog.String("participant_id", participantID),
		slog.Int("occupancy", len(room.Participants)),
	)
	return remote, nil
}

// Leave removes the participant and reports who is left behind. Unknown
// rooms and participants are ignored; empty rooms are deleted.
func (s *RoomRegistry) Leave(ctx context.Context, roomID, participantID string) string {
	const op = "service.registry.leave"

	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return ""
	}

	room.Mutex.Lock()
	if room.Closed {
		room.Mutex.Unlock()
		return ""
	}
	room.Remove(participantID)
	remaining, _ := room.Other(participantID)
	empty := len(room.Participants) == 0
	room.Mutex.Unlock()

	if empty {
		// Emptiness is re-checked under the room mutex inside the delete,
		// so a join landing after the unlock above keeps the room alive.
		if _, err := s.rooms.DeleteIfEmpty(ctx, roomID); err != nil {
			s.log.Error("failed to delete room", slog.String("op", op), sl.Err(err))
		}
	}

	s.log.Info("participant left room",
		slog.String("op", op),
		slog.String("room_id", roomID),
		slog.String("participant_id", participantID),
	)
	return remaining
}

// Snapshot returns the room's current membership for inspection endpoints.
func (s *RoomRegistry) Snapshot(ctx context.Context, roomID string) (*domain.Room, error) {
	return s.rooms.GetByID(ctx, roomID)
}

func (s *RoomRegistry) List(ctx context.Context) ([]*domain.Room, error) {
	return s.rooms.List(ctx)
}
