// Package cachebust appends a monotonically increasing token to fetch
// URLs in order to defeat intermediate caching layers between the
// gateway and the origin.
package cachebust

import (
	"net/url"
	"strconv"
	"sync"
	"time"
)

// ParamName is the query parameter carrying the cache-bust token.
const ParamName = "cache-bust"

// Buster issues cache-bust tokens. Tokens are based on the current
// clock but strictly increase even within the same millisecond.
type Buster struct {
	mutex *sync.Mutex
	last  int64
}

func NewBuster() *Buster {
	return &Buster{mutex: &sync.Mutex{}}
}

// Token returns the next cache-bust token.
func (b *Buster) Token() int64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	token := time.Now().UnixMilli()
	if token <= b.last {
		token = b.last + 1
	}
	b.last = token
	return token
}

// BustURL returns a copy of the given URL with the cache-bust parameter
// appended. Existing query parameters are preserved.
func (b *Buster) BustURL(u *url.URL) *url.URL {
	busted := *u
	q := busted.Query()
	q.Set(ParamName, strconv.FormatInt(b.Token(), 10))
	busted.RawQuery = q.Encode()
	return &busted
}
