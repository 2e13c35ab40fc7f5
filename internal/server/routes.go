// Package server wires the REST endpoints and the WebSocket upgrade into a
// gin engine for the relay application.
package server

import (
	"github.com/gin-gonic/gin"
)

// NewRouter builds the HTTP routing engine: health check, WebSocket upgrade,
// and the message API backed by the persistence gateway.
func NewRouter(hub *Hub, messages MessageStore) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", HealthHandler)
	engine.GET("/ws", func(c *gin.Context) {
		ServeWebSocket(hub, c.Writer, c.Request)
	})

	rest := &restHandlers{hub: hub, store: messages}
	api := engine.Group("/api")
	{
		api.GET("/messages", rest.listMessages)
		api.POST("/messages", rest.postMessage)
		api.GET("/messages/unread", rest.unreadCount)
		api.POST("/messages/seen", rest.markSeen)
		api.DELETE("/messages", rest.clearAll)
	}

	return engine
}
