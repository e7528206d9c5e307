package repository

import (
	"context"

	"github.com/vkotelnikov/duocall/internal/domain"
)

type RoomRepository interface {
	GetOrCreate(ctx context.Context, id string) (*domain.Room, error)
	GetByID(ctx context.Context, id string) (*domain.Room, error)

	// DeleteIfEmpty removes the room only if it still has no participants,
	// checked under the room's own mutex, and marks it closed so stale
	// holders of the pointer do not join a deleted room. Reports whether
	// the room was deleted.
	DeleteIfEmpty(ctx context.Context, id string) (bool, error)

	List(ctx context.Context) ([]*domain.Room, error)
}
