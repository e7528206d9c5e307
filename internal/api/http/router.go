package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRouter(signalController *SignalController, roomController *RoomController, allowOrigins []string) *gin.Engine {
	router := gin.Default()

	config := cors.DefaultConfig()
	config.AllowOrigins = allowOrigins
	config.AllowCredentials = true
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	router.Use(cors.New(config))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	if signalController != nil {
		router.GET("/ws", signalController.Connect)
	}

	api := router.Group("/api")
	if roomController != nil {
		rooms := api.Group("/rooms")
		rooms.GET("", roomController.ListRooms)
		rooms.GET("/:roomID", roomController.GetRoom)
	}

	return router
}
