package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vkotelnikov/duocall/internal/api/http/converter"
	"github.com/vkotelnikov/duocall/internal/repository"
	"github.com/vkotelnikov/duocall/internal/service"
)

// RoomController exposes read-only inspection of live rooms.
type RoomController struct {
	registry *service.RoomRegistry
	relay    *service.Relay
}

func NewRoomController(registry *service.RoomRegistry, relay *service.Relay) *RoomController {
	return &RoomController{registry: registry, relay: relay}
}

func (c *RoomController) GetRoom(ctx *gin.Context) {
	room, err := c.registry.Snapshot(ctx.Request.Context(), ctx.Param("roomID"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		ctx.JSON(status, gin.H{"error": err.Error()})
		return
	}

	room.Mutex.Lock()
	ids := make([]string, len(room.Participants))
	copy(ids, room.Participants)
	room.Mutex.Unlock()

	ctx.JSON(http.StatusOK, gin.H{"room": converter.RoomToApi(room, c.relay.DisplayNames(ids))})
}

func (c *RoomController) ListRooms(ctx *gin.Context) {
	rooms, err := c.registry.List(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]*converter.RoomResponse, 0, len(rooms))
	for _, room := range rooms {
		room.Mutex.Lock()
		ids := make([]string, len(room.Participants))
		copy(ids, room.Participants)
		room.Mutex.Unlock()
		out = append(out, converter.RoomToApi(room, c.relay.DisplayNames(ids)))
	}

	ctx.JSON(http.StatusOK, gin.H{"rooms": out})
}
