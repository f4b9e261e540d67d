package cachekey

import (
	"fmt"
	"net/http"
	"strings"
)

const separator = ":"

// Keyer builds cache keys for a single cache generation and maps
// them back to requests.
type Keyer struct {
	// Name of the cache generation, e.g. "pwa-cache-v1".
	Generation string
	// Key prefix for this generation
	GenerationPrefix string
}

func NewKeyer(generation string) Keyer {
	return Keyer{
		Generation:       generation,
		GenerationPrefix: generation + separator,
	}
}

// MethodPrefix gets the key prefix for the generation with the given method.
// E.g. prefix for all GET requests in the cache.
func (k Keyer) MethodPrefix(method string) string {
	return k.GenerationPrefix + method + separator
}

// GetKey returns the cache key for a request.
// The key is built from the original request URI, so cache-busted
// fetch URLs must never be passed here. Absolute URLs keep their host
// in the key, so same-path resources on different hosts do not collide.
func (k Keyer) GetKey(r *http.Request) string {
	uri := r.URL.RequestURI()
	if r.URL.IsAbs() {
		uri = r.URL.String()
	}
	return k.GenerationPrefix + r.Method + separator + uri
}

// GetRequestFromKey generates a caching-wise equal request to the request
// that resulted in the provided key.
// It returns an error if the request cannot for some reason be deducted.
func (k Keyer) GetRequestFromKey(key string) (*http.Request, error) {
	if !strings.HasPrefix(key, k.GenerationPrefix) {
		return nil, fmt.Errorf("key and generation do not match")
	}
	rest := strings.TrimPrefix(key, k.GenerationPrefix)
	method, uri, found := strings.Cut(rest, separator)
	if !found {
		return nil, fmt.Errorf("malformed key: %s", key)
	}
	return http.NewRequest(method, uri, nil)
}
