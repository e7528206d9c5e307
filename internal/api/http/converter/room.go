package converter

import (
	"time"

	"github.com/vkotelnikov/duocall/internal/domain"
)

type RoomResponse struct {
	ID           string                `json:"id"`
	Participants []ParticipantResponse `json:"participants"`
	Full         bool                  `json:"full"`
	CreatedAt    time.Time             `json:"created_at"`
}

type ParticipantResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

func RoomToApi(r *domain.Room, names map[string]string) *RoomResponse {
	r.Mutex.Lock()
	ids := make([]string, len(r.Participants))
	copy(ids, r.Participants)
	createdAt := r.CreatedAt
	r.Mutex.Unlock()

	participants := make([]ParticipantResponse, 0, len(ids))
	for _, id := range ids {
		participants = append(participants, ParticipantResponse{
			ID:          id,
			DisplayName: names[id],
		})
	}

	return &RoomResponse{
		ID:           r.ID,
		Participants: participants,
		Full:         len(ids) >= domain.RoomCapacity,
		CreatedAt:    createdAt,
	}
}
