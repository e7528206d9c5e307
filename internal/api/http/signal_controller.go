package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/vkotelnikov/duocall/internal/domain"
	"github.com/vkotelnikov/duocall/internal/service"
	"github.com/vkotelnikov/duocall/lib/logger/sl"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound message size. SDP blobs fit comfortably.
	maxMessageSize = 64 * 1024
)

// SignalController upgrades /ws requests and bridges each connection to the
// relay. One reader goroutine and one writer goroutine per connection.
type SignalController struct {
	relay    *service.Relay
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewSignalController(relay *service.Relay, log *slog.Logger) *SignalController {
	if log == nil {
		log = slog.Default()
	}
	return &SignalController{
		relay: relay,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (c *SignalController) Connect(ctx *gin.Context) {
	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.log.Error("failed to upgrade connection", sl.Err(err))
		return
	}

	participant := domain.NewParticipant(ctx.Query("name"))
	c.relay.Attach(participant)

	go c.writePump(conn, participant)
	c.readPump(conn, participant)
}

// readPump owns all reads on the connection. It exits on the first read
// error, which detaches the participant and ends the call for its peer.
func (c *SignalController) readPump(conn *websocket.Conn, p *domain.Participant) {
	defer func() {
		c.relay.Detach(context.Background(), p)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg domain.SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read error", slog.String("participant_id", p.ID), sl.Err(err))
			}
			return
		}

		if err := c.relay.HandleSignal(context.Background(), p, &msg); err != nil {
			c.log.Warn("signal rejected",
				slog.String("participant_id", p.ID),
				slog.String("type", msg.Type),
				sl.Err(err),
			)
			p.EnqueueEvent(domain.ErrorMessage(err.Error()))
		}
	}
}

// writePump owns all writes on the connection, draining the participant's
// event queue in order and keeping the connection alive with pings.
func (c *SignalController) writePump(conn *websocket.Conn, p *domain.Participant) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-p.Events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
