// Package server exposes the REST mutation handlers that combine a
// persistence call with a best-effort broadcast so every live connection
// stays in sync with the durable message log.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/duochat/duochat-server/internal/store"
)

// MessageStore is the persistence gateway contract the relay layer consumes.
// *store.Store satisfies it; tests substitute stubs.
type MessageStore interface {
	Insert(ctx context.Context, sender string, content json.RawMessage, timeString string) (store.Message, error)
	ListAll(ctx context.Context) ([]store.Message, error)
	ListSeen(ctx context.Context, sender string) ([]store.Message, error)
	CountUnread(ctx context.Context, sender string) (int, error)
	MarkSeen(ctx context.Context, sender string, at time.Time) (int64, error)
	ClearAll(ctx context.Context) error
}

// restHandlers holds the dependencies of the message API endpoints.
type restHandlers struct {
	hub   *Hub
	store MessageStore
}

// postMessageRequest is the body of POST /api/messages.
type postMessageRequest struct {
	Sender     string          `json:"sender"`
	Content    json.RawMessage `json:"content"`
	TimeString string          `json:"timeString"`
}

// newMessagePayload is a persisted record plus the computed recipient, as
// broadcast in new_message events and returned to the REST caller.
type newMessagePayload struct {
	store.Message
	Recipient string `json:"recipient,omitempty"`
}

// listMessages returns the full message log, oldest first.
func (h *restHandlers) listMessages(c *gin.Context) {
	messages, err := h.store.ListAll(c.Request.Context())
	if err != nil {
		log.Printf("Error listing messages: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, messages)
}

// postMessage persists a message, then broadcasts the persisted record and an
// unread-count nudge for the recipient. The broadcast is best-effort and
// independent of the HTTP response.
func (h *restHandlers) postMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Sender == "" || len(req.Content) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sender and content are required"})
		return
	}

	msg, err := h.store.Insert(c.Request.Context(), req.Sender, req.Content, req.TimeString)
	if err != nil {
		log.Printf("Error inserting message from %q: %v", req.Sender, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}

	payload := newMessagePayload{Message: msg, Recipient: h.hub.Counterpart(req.Sender)}
	h.hub.Broadcast(encodeEvent(EventNewMessage, payload))
	if payload.Recipient != "" {
		h.hub.Broadcast(encodeEvent(EventUnreadCount, map[string]string{"recipient": payload.Recipient}))
	}

	c.JSON(http.StatusCreated, payload)
}

// unreadCount reports how many messages the viewing user has not seen,
// derived fresh from the store on every call.
func (h *restHandlers) unreadCount(c *gin.Context) {
	viewer := c.Query("user")
	sender := h.hub.Counterpart(viewer)
	if sender == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown user"})
		return
	}

	count, err := h.store.CountUnread(c.Request.Context(), sender)
	if err != nil {
		log.Printf("Error counting unread for %q: %v", viewer, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": viewer, "count": count})
}

// markSeen flips every unseen message from the viewer's counterpart to seen,
// then re-reads and broadcasts the complete seen list so clients converge
// even when nothing was newly updated.
func (h *restHandlers) markSeen(c *gin.Context) {
	var req struct {
		User string `json:"user"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.User == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user is required"})
		return
	}
	sender := h.hub.Counterpart(req.User)
	if sender == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown user"})
		return
	}

	ctx := c.Request.Context()
	updated, err := h.store.MarkSeen(ctx, sender, time.Now())
	if err != nil {
		log.Printf("Error marking messages seen for %q: %v", req.User, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	seen, err := h.store.ListSeen(ctx, sender)
	if err != nil {
		log.Printf("Error listing seen messages for %q: %v", req.User, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}

	h.hub.Broadcast(encodeEvent(EventMessagesSeen, seen))

	c.JSON(http.StatusOK, gin.H{"updated": updated, "messages": seen})
}

// clearAll irreversibly empties the message log and resets identifier
// assignment. A failed broadcast after a successful delete is acceptable;
// the broadcast is notification, not a durability boundary.
func (h *restHandlers) clearAll(c *gin.Context) {
	if err := h.store.ClearAll(c.Request.Context()); err != nil {
		log.Printf("Error clearing messages: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}

	h.hub.Broadcast(encodeEvent(EventChatCleared, nil))
	c.Status(http.StatusNoContent)
}
