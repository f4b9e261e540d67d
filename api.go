package offlinegate

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	serializer "github.com/offline-gate/offline-gate/pkg/response-serializer"
	synctrigger "github.com/offline-gate/offline-gate/pkg/sync-trigger"
	"github.com/offline-gate/offline-gate/queue"
)

// queuedAck is the body returned to the caller when a mutating request
// was captured for later replay. The caller must not perceive queueing
// as an error.
type queuedAck struct {
	Message string `json:"message"`
	Queued  bool   `json:"queued"`
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// handleAPI implements offline-first handling for requests under the
// API prefix. All paths resolve to a response; a network exception
// never escapes to the caller.
func (g *Gateway) handleAPI(w http.ResponseWriter, r *http.Request) {
	// the body stream is single-read, so buffer it up front: the live
	// fetch and the queueing operation both need it
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			g.log.Error().Err(err).Msg("Could not read request body")
			g.sendJSON(w, http.StatusBadRequest, apiError{
				Error:   "bad-request",
				Message: "Could not read request body",
			})
			return
		}
	}

	key := g.dataKeyer.GetKey(r)
	cached, cachedFound, err := g.dataCache.Get(key)
	if err != nil {
		g.log.Error().Err(err).Str("key", key).Msg("Could not read data cache")
		cachedFound = false
	}

	res, err := g.fetchAPI(r, body)
	if err != nil {
		g.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Network unavailable for api request")
		g.respondOffline(w, r, body, cached, cachedFound)
		return
	}
	defer res.Body.Close()

	// cache successful responses for offline reads
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		bts, err := serializer.StoredResponseToBytes(serializer.StoredResponse{
			Response: res,
			StoredAt: time.Now(),
		})
		if err != nil {
			g.log.Error().Err(err).Str("key", key).Msg("Could not serialize api response")
		} else if err := g.dataCache.Put(key, bts); err != nil {
			g.log.Error().Err(err).Str("key", key).Msg("Could not write data cache")
		}
	}

	copyHeader(w.Header(), res.Header)
	w.Header().Set(gateStatusHeader, "live")
	w.WriteHeader(res.StatusCode)
	if _, err := io.Copy(w, res.Body); err != nil {
		g.log.Error().Err(err).Msg("Could not write response body to client")
	}
}

// fetchAPI attempts a live network fetch of the original request,
// unmodified apart from routing to the origin.
func (g *Gateway) fetchAPI(r *http.Request, body []byte) (*http.Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, g.fetchURL(r).String(), reader)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	return g.client.Do(req)
}

// respondOffline resolves an api request whose network fetch failed:
// cached copy if one exists, queued acknowledgment for mutating
// requests, synthetic error otherwise.
func (g *Gateway) respondOffline(w http.ResponseWriter, r *http.Request, body, cached []byte, cachedFound bool) {
	if cachedFound {
		g.sendStoredResponse(w, cached, "offline-hit")
		return
	}
	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		g.queueRequest(r, body)
		w.Header().Set(gateStatusHeader, "queued")
		g.sendJSON(w, http.StatusOK, queuedAck{
			Message: "Request queued for sync",
			Queued:  true,
		})
		return
	}
	w.Header().Set(gateStatusHeader, "unavailable")
	g.sendJSON(w, http.StatusServiceUnavailable, apiError{
		Error:   "offline",
		Message: "No network connection and no cached response",
	})
}

// queueRequest durably captures a mutating request for later replay
// and registers a one-shot replay trigger. Store failures are logged
// and swallowed: durability is best-effort, and the caller still gets
// the queued acknowledgment.
func (g *Gateway) queueRequest(r *http.Request, body []byte) {
	entry := queue.Entry{
		URL:         r.URL.RequestURI(),
		Method:      r.Method,
		Headers:     flattenHeader(r.Header),
		Credentials: credentialsMode(r),
		Body:        body,
		EnqueuedAt:  time.Now(),
	}
	id, err := g.queue.Append(entry)
	if err != nil {
		g.log.Error().Err(err).Str("url", entry.URL).Msg("Could not queue request for sync")
		return
	}
	g.log.Debug().Int64("id", id).Str("method", entry.Method).Str("url", entry.URL).
		Msg("Queued request for sync")
	// registering an already-pending trigger is a no-op
	g.triggers.Register(synctrigger.TagSyncQueue)
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.log.Error().Err(err).Msg("Could not write json body to client")
	}
}

// credentialsMode derives the stored credentials mode for a request.
func credentialsMode(r *http.Request) string {
	if r.Header.Get("Authorization") != "" || r.Header.Get("Cookie") != "" {
		return "include"
	}
	return "same-origin"
}

// flattenHeader flattens headers to a plain mapping, joining repeated
// fields the same way they appear on the wire.
func flattenHeader(h http.Header) map[string]string {
	flat := make(map[string]string, len(h))
	for name, values := range h {
		flat[name] = strings.Join(values, ", ")
	}
	return flat
}
