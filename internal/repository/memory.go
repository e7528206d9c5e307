package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/vkotelnikov/duocall/internal/domain"
)

var ErrRoomNotFound = errors.New("room not found")

// InMemoryRoomRepository keeps live rooms in a process-local map. The map
// lock covers lookups; membership changes happen under the room's own
// mutex, so traffic in one room never blocks another. Deletion takes both
// locks, map lock first.
type InMemoryRoomRepository struct {
	mu    sync.RWMutex
	rooms map[string]*domain.Room
}

func NewInMemoryRoomRepository() *InMemoryRoomRepository {
	return &InMemoryRoomRepository{
		rooms: make(map[string]*domain.Room),
	}
}

func (r *InMemoryRoomRepository) GetOrCreate(ctx context.Context, id string) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		room = domain.NewRoom(id)
		r.rooms[id] = room
	}
	return room, nil
}

func (r *InMemoryRoomRepository) GetByID(ctx context.Context, id string) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// DeleteIfEmpty holds the map lock and the room mutex together (map lock
// first), so no join can slip between the emptiness check and the delete.
func (r *InMemoryRoomRepository) DeleteIfEmpty(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return false, nil
	}

	room.Mutex.Lock()
	defer room.Mutex.Unlock()

	if len(room.Participants) > 0 {
		return false, nil
	}

	room.Closed = true
	delete(r.rooms, id)
	return true, nil
}

func (r *InMemoryRoomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]*domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	return rooms, nil
}
