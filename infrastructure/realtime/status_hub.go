package realtime

import (
	"net/http"
	"sync"
	"time"

	"crosspost/domain/model"

	"github.com/gin-gonic/gin"
)

const heartbeatInterval = 25 * time.Second

// Hub fans cross-post events out to the requester's open SSE streams.
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[chan model.CrossPostEvent]struct{}
}

func NewStatusHub() *Hub {
	return &Hub{users: make(map[string]map[chan model.CrossPostEvent]struct{})}
}

// Serve streams events for the authenticated user (user_id set by middleware).
// An optional status_id query parameter narrows the stream to one operation.
func (h *Hub) Serve(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.Status(http.StatusUnauthorized)
		return
	}
	statusID := c.Query("status_id")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ch := make(chan model.CrossPostEvent, 16)
	h.addSubscriber(userID, ch)
	defer h.removeSubscriber(userID, ch)

	_, _ = c.Writer.Write([]byte(":ok\n\n"))
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			_, _ = c.Writer.Write([]byte(":ping\n\n"))
			c.Writer.Flush()
		case evt := <-ch:
			if statusID != "" && evt.StatusID != statusID {
				continue
			}
			c.SSEvent(evt.Type, evt)
			c.Writer.Flush()
		}
	}
}

// Subscribers reports how many streams userID has open.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

func (h *Hub) addSubscriber(userID string, ch chan model.CrossPostEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[userID] == nil {
		h.users[userID] = make(map[chan model.CrossPostEvent]struct{})
	}
	h.users[userID][ch] = struct{}{}
}

func (h *Hub) removeSubscriber(userID string, ch chan model.CrossPostEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.users[userID]; subs != nil {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.users, userID)
		}
	}
}

// Broadcast delivers evt to the requester's streams. Slow streams miss events
// rather than blocking the caller.
func (h *Hub) Broadcast(evt model.CrossPostEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.users[evt.RequesterID] {
		select {
		case ch <- evt:
		default:
		}
	}
}
