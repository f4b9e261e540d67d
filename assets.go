package offlinegate

import (
	"context"
	"io"
	"net/http"
	"time"

	serializer "github.com/offline-gate/offline-gate/pkg/response-serializer"
)

// gateStatusHeader reports how the gateway resolved a request.
const gateStatusHeader = "X-Offline-Gate"

// resolveAsset serves a static-asset request, favoring freshness
// without sacrificing availability. A cache hit is returned right away
// with a fire-and-forget background refresh; a miss goes to the
// network and is cached for next time. Network errors never reach the
// caller: navigations degrade to the offline fallback page and
// sub-resources to a synthetic unavailable response.
func (g *Gateway) resolveAsset(w http.ResponseWriter, r *http.Request) {
	key := g.staticKeyer.GetKey(r)
	if bytes, found, err := g.staticCache.Get(key); err != nil {
		g.log.Error().Err(err).Str("key", key).Msg("Could not read static cache")
	} else if found {
		// detach from the request context, the refresh outlives the response
		refresh := r.Clone(context.Background())
		refresh.Body = nil
		go g.refreshAsset(refresh)
		g.sendStoredResponse(w, bytes, "hit")
		return
	}

	res, err := g.fetchAsset(r)
	if err != nil {
		g.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Network unavailable for asset")
		g.sendOfflineFallback(w, r)
		return
	}
	defer res.Body.Close()

	bts, err := serializer.StoredResponseToBytes(serializer.StoredResponse{
		Response: res,
		StoredAt: time.Now(),
	})
	if err != nil {
		g.log.Error().Err(err).Str("key", key).Msg("Could not serialize response")
	} else if err := g.staticCache.Put(key, bts); err != nil {
		g.log.Error().Err(err).Str("key", key).Msg("Could not write static cache")
	}

	copyHeader(w.Header(), res.Header)
	w.Header().Set(gateStatusHeader, "miss")
	w.WriteHeader(res.StatusCode)
	if _, err := io.Copy(w, res.Body); err != nil {
		g.log.Error().Err(err).Msg("Could not write response body to client")
	}
}

// fetchAsset fetches a static asset from the network.
// The fetch URL gets a cache-bust token when it targets the origin
// host; cross-origin asset fetches are left untouched to avoid
// breaking CORS. The outbound request carries a no-store directive so
// that no intermediate holds on to a stale copy.
func (g *Gateway) fetchAsset(r *http.Request) (*http.Response, error) {
	u := g.fetchURL(r)
	if u.Hostname() == g.originURL.Hostname() {
		u = g.buster.BustURL(u)
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	req.Header.Set("Cache-Control", "no-store")
	return g.client.Do(req)
}

// refreshAsset refetches an asset in the background and recaches it
// under the original request key. Failures are only logged, the
// response already served to the client is unaffected.
func (g *Gateway) refreshAsset(r *http.Request) {
	res, err := g.fetchAsset(r)
	if err != nil {
		g.log.Trace().Err(err).Str("url", r.URL.String()).Msg("Background refresh failed")
		return
	}
	defer res.Body.Close()
	bts, err := serializer.StoredResponseToBytes(serializer.StoredResponse{
		Response: res,
		StoredAt: time.Now(),
	})
	if err != nil {
		g.log.Error().Err(err).Msg("Could not serialize refreshed response")
		return
	}
	key := g.staticKeyer.GetKey(r)
	if err := g.staticCache.Put(key, bts); err != nil {
		g.log.Error().Err(err).Str("key", key).Msg("Could not recache refreshed response")
		return
	}
	g.log.Trace().Str("key", key).Msg("Refreshed cached asset")
}

// sendOfflineFallback degrades a failed asset fetch: the offline
// fallback page for navigations, a minimal unavailable response for
// sub-resources.
func (g *Gateway) sendOfflineFallback(w http.ResponseWriter, r *http.Request) {
	if isNavigation(r) {
		fallbackReq, err := http.NewRequest(http.MethodGet, g.fallbackPath, nil)
		if err == nil {
			key := g.staticKeyer.GetKey(fallbackReq)
			if bytes, found, err := g.staticCache.Get(key); err == nil && found {
				g.sendStoredResponse(w, bytes, "fallback")
				return
			}
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set(gateStatusHeader, "unavailable")
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("content unavailable offline"))
}

// sendStoredResponse writes a serialized cache entry to the client.
func (g *Gateway) sendStoredResponse(w http.ResponseWriter, bytes []byte, status string) {
	stored, err := serializer.BytesToStoredResponse(bytes)
	if err != nil {
		g.log.Error().Err(err).Msg("Could not deserialize stored response")
		w.Header().Set(gateStatusHeader, "unavailable")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	res := stored.Response
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.Header().Set(gateStatusHeader, status)
	w.WriteHeader(res.StatusCode)
	if _, err := io.Copy(w, res.Body); err != nil {
		g.log.Error().Err(err).Msg("Could not write response body to client")
	}
}
