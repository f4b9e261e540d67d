package offlinegate

import (
	"net/http"
	"strings"
)

// Classification is the handling category of an intercepted request.
type Classification int

const (
	// ClassOutOfScope requests are passed through untouched.
	ClassOutOfScope Classification = iota
	// ClassStaticAsset requests go through the cache-or-network resolver.
	ClassStaticAsset
	// ClassAPIData requests get offline-first read-through and
	// write-queue-on-failure handling.
	ClassAPIData
)

func (c Classification) String() string {
	switch c {
	case ClassStaticAsset:
		return "static-asset"
	case ClassAPIData:
		return "api-data"
	default:
		return "out-of-scope"
	}
}

// Classifier maps an incoming request to its handling category.
// It is a pure decision function over the immutable host whitelist and
// the API path prefix.
type Classifier struct {
	hosts     map[string]bool
	apiPrefix string
}

// NewClassifier builds a classifier for the given whitelisted hostnames
// and API prefix. The whitelist is copied and never mutated afterwards.
func NewClassifier(hosts []string, apiPrefix string) Classifier {
	whitelist := make(map[string]bool, len(hosts))
	for _, host := range hosts {
		if host != "" {
			whitelist[host] = true
		}
	}
	return Classifier{
		hosts:     whitelist,
		apiPrefix: apiPrefix,
	}
}

// Classify returns the handling category for the request.
// Requests under the API prefix are api-data regardless of hostname.
// Other requests are static-asset when the hostname is whitelisted and
// out-of-scope otherwise.
func (c Classifier) Classify(r *http.Request) Classification {
	if strings.HasPrefix(r.URL.Path, c.apiPrefix) {
		return ClassAPIData
	}
	if c.hosts[hostnameOf(r)] {
		return ClassStaticAsset
	}
	return ClassOutOfScope
}
