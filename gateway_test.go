package offlinegate

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/offline-gate/offline-gate/cache"
	serializer "github.com/offline-gate/offline-gate/pkg/response-serializer"
	"github.com/offline-gate/offline-gate/queue"

	"github.com/rs/zerolog"
)

// newTestGateway builds a gateway backed by in-memory stores, with the
// connectivity probe disabled.
func newTestGateway(t *testing.T, origin string, configure func(*Config)) *Gateway {
	t.Helper()
	originURL, err := url.Parse(origin)
	if err != nil {
		t.Fatal(err)
	}
	logger := zerolog.Nop()
	config := Config{
		StaticCache:   cache.NewMemCache(),
		DataCache:     cache.NewMemCache(),
		Queue:         queue.NewMemStore(),
		OriginURL:     *originURL,
		ProbeInterval: -1,
		Logger:        &logger,
	}
	if configure != nil {
		configure(&config)
	}
	g := CreateGateway(config)
	t.Cleanup(g.Close)
	return g
}

// closedOrigin returns the URL of a server that is no longer
// listening, so fetches against it fail immediately.
func closedOrigin(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()
	return server.URL
}

// storeResponse puts a response snapshot into the given cache under
// the key for a GET of the given path.
func storeResponse(t *testing.T, g *Gateway, provider cache.Provider, generation, path, body string) {
	t.Helper()
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "text/html")
	rec.Write([]byte(body))
	bts, err := serializer.StoredResponseToBytes(serializer.StoredResponse{
		Response: rec.Result(),
		StoredAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	var key string
	if generation == g.dataKeyer.Generation {
		key = g.dataKeyer.GetKey(req)
	} else {
		key = g.staticKeyer.GetKey(req)
	}
	if err := provider.Put(key, bts); err != nil {
		t.Fatal(err)
	}
}
