// Package offlinegate implements an offline-first content delivery
// gateway. It intercepts requests in front of an origin server, serves
// cached content when the origin is unreachable, and queues failed
// mutating API requests durably for replay once connectivity returns.
package offlinegate

import (
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/offline-gate/offline-gate/broadcast"
	"github.com/offline-gate/offline-gate/cache"
	cachebust "github.com/offline-gate/offline-gate/pkg/cache-bust"
	cachekey "github.com/offline-gate/offline-gate/pkg/cache-key"
	synctrigger "github.com/offline-gate/offline-gate/pkg/sync-trigger"
	"github.com/offline-gate/offline-gate/queue"

	"github.com/rs/zerolog"
)

const (
	defaultStaticGeneration = "pwa-cache-v1"
	defaultDataGeneration   = "data-cache-v1"
	defaultAPIPrefix        = "/api/"
	defaultFallbackPath     = "/offline.html"
	defaultMockEndpoint     = "/api/mock-endpoint"
	defaultProbeInterval    = 30 * time.Second
)

type Config struct {
	// Storage for static-asset cache entries (app shell).
	StaticCache cache.Provider
	// Storage for api-data cache entries (offline reads).
	DataCache cache.Provider
	// Durable store for queued mutating requests.
	Queue queue.Store
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Additional hostnames eligible for static-asset caching,
	// besides the origin's own hostname.
	Hosts []string
	// Path prefix of api-data requests. Defaults to "/api/".
	APIPrefix string
	// Name of the live static-asset cache generation.
	StaticGeneration string
	// Name of the live data cache generation.
	DataGeneration string
	// Asset paths to pre-populate into the static cache on install.
	PrecacheManifest []string
	// Path of the offline fallback page served to failed navigations.
	OfflineFallbackPath string
	// Path treated as a mock endpoint during replay: entries for it
	// are deleted unconditionally.
	MockEndpointPath string
	// Interval for the origin connectivity probe. Zero means the
	// default, a negative value disables the probe.
	ProbeInterval time.Duration
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// HTTP client used for origin fetches. Defaults are used if nil.
	Client *http.Client
}

type Gateway struct {
	staticCache  cache.Provider
	dataCache    cache.Provider
	queue        queue.Store
	originURL    url.URL
	classifier   Classifier
	staticKeyer  cachekey.Keyer
	dataKeyer    cachekey.Keyer
	manifest     []string
	fallbackPath string
	mockPath     string
	log          zerolog.Logger
	client       *http.Client
	buster       *cachebust.Buster
	triggers     *synctrigger.Registry
	hub          *broadcast.Hub
	reverseproxy httputil.ReverseProxy

	replayMutex sync.Mutex

	onlineMutex sync.Mutex
	online      bool

	probeInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// CreateGateway initializes the gateway instance.
// It starts the needed background processes
// and sets up the needed variables.
func CreateGateway(config Config) *Gateway {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Logger()

	if config.APIPrefix == "" {
		config.APIPrefix = defaultAPIPrefix
	}
	if config.StaticGeneration == "" {
		config.StaticGeneration = defaultStaticGeneration
	}
	if config.DataGeneration == "" {
		config.DataGeneration = defaultDataGeneration
	}
	if config.OfflineFallbackPath == "" {
		config.OfflineFallbackPath = defaultFallbackPath
	}
	if config.MockEndpointPath == "" {
		config.MockEndpointPath = defaultMockEndpoint
	}
	if config.ProbeInterval == 0 {
		config.ProbeInterval = defaultProbeInterval
	}
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	hosts := append([]string{config.OriginURL.Hostname()}, config.Hosts...)

	g := &Gateway{
		staticCache:   config.StaticCache,
		dataCache:     config.DataCache,
		queue:         config.Queue,
		originURL:     config.OriginURL,
		classifier:    NewClassifier(hosts, config.APIPrefix),
		staticKeyer:   cachekey.NewKeyer(config.StaticGeneration),
		dataKeyer:     cachekey.NewKeyer(config.DataGeneration),
		manifest:      config.PrecacheManifest,
		fallbackPath:  config.OfflineFallbackPath,
		mockPath:      config.MockEndpointPath,
		log:           logger,
		client:        client,
		buster:        cachebust.NewBuster(),
		triggers:      synctrigger.NewRegistry(),
		hub:           broadcast.NewHub(logger),
		probeInterval: config.ProbeInterval,
		online:        true,
		stopCh:        make(chan struct{}),
	}

	g.reverseproxy = httputil.ReverseProxy{
		Director: createDirector(config.OriginURL.Scheme, config.OriginURL.Host),
	}

	g.wg.Add(1)
	go g.syncLoop()
	if g.probeInterval > 0 {
		g.wg.Add(1)
		go g.probeLoop()
	}

	return g
}

// Close stops the background processes. Stores and caches passed in
// via Config are not closed, they belong to the caller.
func (g *Gateway) Close() {
	g.stopOnce.Do(func() { close(g.stopCh) })
	g.wg.Wait()
}

// Hub returns the page-context broadcaster, for mounting its
// websocket endpoint.
func (g *Gateway) Hub() *broadcast.Hub {
	return g.hub
}

// ServeHTTP implements the http.Handler interface.
// Requests are classified and dispatched to the matching handler;
// out-of-scope requests are proxied through untouched.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch g.classifier.Classify(r) {
	case ClassAPIData:
		g.handleAPI(w, r)
	case ClassStaticAsset:
		g.resolveAsset(w, r)
	default:
		g.log.Trace().Str("url", r.URL.String()).Msg("Out of scope, passing through")
		g.reverseproxy.ServeHTTP(w, r)
	}
}

// fetchURL resolves the outbound URL for a request. Same-origin
// requests go to the configured origin; whitelisted foreign hosts are
// fetched directly.
func (g *Gateway) fetchURL(r *http.Request) *url.URL {
	u := *r.URL
	if r.URL.IsAbs() && r.URL.Hostname() != g.originURL.Hostname() {
		return &u
	}
	u.Scheme = g.originURL.Scheme
	u.Host = g.originURL.Host
	return &u
}

func (g *Gateway) setOnline(online bool) (changed bool) {
	g.onlineMutex.Lock()
	defer g.onlineMutex.Unlock()
	changed = g.online != online
	g.online = online
	return changed
}

// Online reports the last observed origin connectivity state.
func (g *Gateway) Online() bool {
	g.onlineMutex.Lock()
	defer g.onlineMutex.Unlock()
	return g.online
}

func createDirector(scheme, host string) func(req *http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = scheme
		req.URL.Host = host
	}
}

func hostnameOf(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.Hostname()
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}

// isNavigation reports whether the request is a page navigation rather
// than a sub-resource fetch.
func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
