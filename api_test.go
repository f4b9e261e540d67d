package offlinegate

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/offline-gate/offline-gate/queue"
)

var errStoreBroken = errors.New("store broken")

func apiRequest(g *Gateway, method, target, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, target, reader)
	r.Host = g.originURL.Host
	return r
}

func TestAPISuccessIsServedLiveAndCached(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[1,2]}`))
	}))
	g := newTestGateway(t, origin.URL, nil)

	rr := httptest.NewRecorder()
	g.ServeHTTP(rr, apiRequest(g, "GET", "/api/items", ""))
	if rr.Code != http.StatusOK || rr.Body.String() != `{"items":[1,2]}` {
		t.Fatalf("Response is %d %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Offline-Gate") != "live" {
		t.Fatalf("Gate status is %s", rr.Header().Get("X-Offline-Gate"))
	}

	// go offline: the cached copy must now be served
	origin.Close()
	rr = httptest.NewRecorder()
	g.ServeHTTP(rr, apiRequest(g, "GET", "/api/items", ""))
	if rr.Body.String() != `{"items":[1,2]}` {
		t.Fatalf("Offline body is %s", rr.Body.String())
	}
	if rr.Header().Get("X-Offline-Gate") != "offline-hit" {
		t.Fatalf("Gate status is %s", rr.Header().Get("X-Offline-Gate"))
	}
}

func TestAPIErrorStatusIsNotCached(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	g := newTestGateway(t, origin.URL, nil)

	rr := httptest.NewRecorder()
	g.ServeHTTP(rr, apiRequest(g, "GET", "/api/items", ""))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("Status is %d", rr.Code)
	}

	origin.Close()
	rr = httptest.NewRecorder()
	g.ServeHTTP(rr, apiRequest(g, "GET", "/api/items", ""))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("Error response was cached, offline status is %d", rr.Code)
	}
}

func TestFailedPostIsQueuedWithAcknowledgment(t *testing.T) {
	g := newTestGateway(t, closedOrigin(t), nil)

	r := apiRequest(g, "POST", "/api/items", `{"x":1}`)
	r.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	g.ServeHTTP(rr, r)

	if rr.Code != http.StatusOK {
		t.Fatalf("Status is %d", rr.Code)
	}
	var ack struct {
		Message string `json:"message"`
		Queued  bool   `json:"queued"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &ack); err != nil {
		t.Fatal(err)
	}
	if !ack.Queued || ack.Message != "Request queued for sync" {
		t.Fatalf("Ack is %+v", ack)
	}

	entries, err := g.queue.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("Queue has %d entries", len(entries))
	}
	entry := entries[0]
	if entry.ID != 1 || entry.Method != "POST" || entry.URL != "/api/items" {
		t.Fatalf("Entry is %+v", entry)
	}
	if entry.Processed {
		t.Fatal("New entry marked processed")
	}
	if string(entry.Body) != `{"x":1}` {
		t.Fatalf("Entry body is %s", entry.Body)
	}
	if entry.Headers["Content-Type"] != "application/json" {
		t.Fatalf("Entry headers are %v", entry.Headers)
	}
	if !g.triggers.Pending("sync-queue") {
		t.Fatal("Replay trigger not registered")
	}
}

func TestFailedPutIsQueued(t *testing.T) {
	g := newTestGateway(t, closedOrigin(t), nil)

	rr := httptest.NewRecorder()
	g.ServeHTTP(rr, apiRequest(g, "PUT", "/api/items/1", `{"x":2}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("Status is %d", rr.Code)
	}
	entries, _ := g.queue.All()
	if len(entries) != 1 || entries[0].Method != "PUT" {
		t.Fatalf("Queue entries: %+v", entries)
	}
}

func TestFailedGetWithoutCacheReturnsServiceUnavailable(t *testing.T) {
	g := newTestGateway(t, closedOrigin(t), nil)

	rr := httptest.NewRecorder()
	g.ServeHTTP(rr, apiRequest(g, "GET", "/api/items", ""))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("Status is %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type is %s", ct)
	}
	entries, _ := g.queue.All()
	if len(entries) != 0 {
		t.Fatal("GET request was queued")
	}
}

func TestFailedDeleteIsNotQueued(t *testing.T) {
	g := newTestGateway(t, closedOrigin(t), nil)

	rr := httptest.NewRecorder()
	g.ServeHTTP(rr, apiRequest(g, "DELETE", "/api/items/1", ""))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("Status is %d", rr.Code)
	}
	entries, _ := g.queue.All()
	if len(entries) != 0 {
		t.Fatal("DELETE request was queued")
	}
}

func TestQueueStoreFailureStillAcknowledges(t *testing.T) {
	g := newTestGateway(t, closedOrigin(t), func(c *Config) {
		c.Queue = failingStore{}
	})

	rr := httptest.NewRecorder()
	g.ServeHTTP(rr, apiRequest(g, "POST", "/api/items", `{"x":1}`))

	// durability is best-effort: the caller must still see success
	if rr.Code != http.StatusOK {
		t.Fatalf("Status is %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"queued":true`) {
		t.Fatalf("Body is %s", rr.Body.String())
	}
}

type failingStore struct{}

func (failingStore) Append(queue.Entry) (int64, error)    { return 0, errStoreBroken }
func (failingStore) All() ([]queue.Entry, error)          { return nil, errStoreBroken }
func (failingStore) Delete(int64) error                   { return errStoreBroken }
func (failingStore) MarkProcessed(int64, time.Time) error { return errStoreBroken }
func (failingStore) Close() error                         { return nil }
