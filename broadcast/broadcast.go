// Package broadcast fans out worker-to-page messages to every
// connected page context over websockets.
package broadcast

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// TypeSyncCompleted is broadcast after every replay pass.
const TypeSyncCompleted = "SYNC_COMPLETED"

// Message is a cross-context message from the worker to page contexts.
type Message struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// SyncCompleted builds the message broadcast when a replay pass finishes.
func SyncCompleted(at time.Time) Message {
	return Message{
		Type:      TypeSyncCompleted,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

type pageContext struct {
	id   string
	url  string
	conn *websocket.Conn
}

// Hub tracks connected page contexts and broadcasts messages to all
// of them. A slow or broken context never blocks the others.
type Hub struct {
	log      zerolog.Logger
	mutex    *sync.RWMutex
	contexts map[string]*pageContext
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		log:      logger,
		mutex:    &sync.RWMutex{},
		contexts: make(map[string]*pageContext),
	}
}

// ServeHTTP accepts a websocket connection from a page context.
// The page URL is taken from the "url" query parameter and kept for
// notification-click routing. The connection is held open until the
// client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("Could not accept page context connection")
		return
	}
	pc := &pageContext{
		id:   uuid.NewString(),
		url:  r.URL.Query().Get("url"),
		conn: conn,
	}
	h.mutex.Lock()
	h.contexts[pc.id] = pc
	h.mutex.Unlock()
	h.log.Debug().Str("context", pc.id).Str("url", pc.url).Msg("Page context connected")

	// block until the client disconnects; reads are discarded since
	// page contexts never send anything meaningful on this channel
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	h.remove(pc.id)
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) remove(id string) {
	h.mutex.Lock()
	delete(h.contexts, id)
	h.mutex.Unlock()
	h.log.Debug().Str("context", id).Msg("Page context disconnected")
}

// Broadcast sends the message to every connected page context.
func (h *Hub) Broadcast(msg Message) {
	h.mutex.RLock()
	contexts := make([]*pageContext, 0, len(h.contexts))
	for _, pc := range h.contexts {
		contexts = append(contexts, pc)
	}
	h.mutex.RUnlock()

	for _, pc := range contexts {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := wsjson.Write(ctx, pc.conn, msg)
		cancel()
		if err != nil {
			h.log.Debug().Err(err).Str("context", pc.id).Msg("Could not write to page context")
			h.remove(pc.id)
		}
	}
}

// ContextURLs returns the id and URL of every connected page context.
func (h *Hub) ContextURLs() map[string]string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	urls := make(map[string]string, len(h.contexts))
	for id, pc := range h.contexts {
		urls[id] = pc.url
	}
	return urls
}

// Count returns the number of connected page contexts.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.contexts)
}
