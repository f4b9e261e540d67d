package offlinegate

import (
	"io"
	"net/http"

	"github.com/offline-gate/offline-gate/broadcast"
	pushnotify "github.com/offline-gate/offline-gate/pkg/push-notify"
)

// HandlePush turns an incoming push-message payload into a
// notification and shows it on every connected page context.
// Malformed payloads degrade to a default notification.
func (g *Gateway) HandlePush(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		g.log.Error().Err(err).Msg("Could not read push payload")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	notification := pushnotify.Parse(payload, "/")
	g.log.Debug().Str("title", notification.Title).Msg("Showing push notification")
	g.hub.Broadcast(broadcast.Message{
		Type:    "NOTIFICATION",
		Payload: notification,
	})
	g.sendJSON(w, http.StatusOK, notification)
}

type clickResponse struct {
	Outcome string `json:"outcome"`
	Context string `json:"context,omitempty"`
	URL     string `json:"url,omitempty"`
}

// HandleNotificationClick resolves a notification click: the close
// action only dismisses, anything else focuses an open page context at
// the target URL or opens a new one.
func (g *Gateway) HandleNotificationClick(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	target := r.URL.Query().Get("url")

	contexts := make([]pushnotify.PageContext, 0)
	for id, url := range g.hub.ContextURLs() {
		contexts = append(contexts, pushnotify.PageContext{ID: id, URL: url})
	}

	outcome, value := pushnotify.ResolveClick(action, target, contexts)
	switch outcome {
	case pushnotify.OutcomeDismiss:
		g.sendJSON(w, http.StatusOK, clickResponse{Outcome: "dismiss"})
	case pushnotify.OutcomeFocus:
		g.sendJSON(w, http.StatusOK, clickResponse{Outcome: "focus", Context: value})
	default:
		g.sendJSON(w, http.StatusOK, clickResponse{Outcome: "open", URL: value})
	}
}

// Status is the aggregate state exposed to the page UI.
type Status struct {
	Online           bool   `json:"online"`
	QueueDepth       int    `json:"queueDepth"`
	PageContexts     int    `json:"pageContexts"`
	StaticGeneration string `json:"staticGeneration"`
	DataGeneration   string `json:"dataGeneration"`
}

// HandleStatus reports queue depth and cache generations.
func (g *Gateway) HandleStatus(w http.ResponseWriter, r *http.Request) {
	entries, err := g.queue.All()
	if err != nil {
		g.log.Error().Err(err).Msg("Could not read sync queue for status")
	}
	g.sendJSON(w, http.StatusOK, Status{
		Online:           g.Online(),
		QueueDepth:       len(entries),
		PageContexts:     g.hub.Count(),
		StaticGeneration: g.staticKeyer.Generation,
		DataGeneration:   g.dataKeyer.Generation,
	})
}

// HandleSync triggers queued-request replay on demand.
func (g *Gateway) HandleSync(w http.ResponseWriter, r *http.Request) {
	g.RequestSync()
	w.WriteHeader(http.StatusAccepted)
}
