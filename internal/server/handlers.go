// Package server exposes the WebSocket upgrade and health handlers.
package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// ServeWebSocket upgrades the HTTP connection and hands the resulting
// connection to the hub, which launches its read/write pumps. The connection
// stays unregistered (no user identity) until a register event arrives.
func ServeWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, hub, r.RemoteAddr)
	hub.register <- client
}

// HealthHandler provides a simple liveness endpoint.
func HealthHandler(c *gin.Context) {
	c.Header("Content-Type", "text/plain")
	fmt.Fprint(c.Writer, "Relay server is running!")
}
