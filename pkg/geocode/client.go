// Package geocode resolves free-text addresses to coordinates with the
// Nominatim search API. Lookups are cached and share a process-wide rate gate.
package geocode

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/ttlcache"
)

const (
	defaultBaseURL   = "https://nominatim.openstreetmap.org"
	defaultUserAgent = "outreach-cli/1.0"
	defaultCacheTTL  = 24 * time.Hour
)

// Client geocodes addresses.
type Client interface {
	// Geocode returns the best match for address, or nil when nothing was
	// found or the provider could not be reached after retries.
	Geocode(ctx context.Context, address string) (*Result, error)

	// BatchGeocode geocodes addresses in order. onProgress, when set, is
	// called after each address with the number completed so far.
	BatchGeocode(ctx context.Context, addresses []string, onProgress func(done, total int)) ([]*Result, error)

	// CacheStats reports the lookup cache state.
	CacheStats() ttlcache.Stats
}

// Result is a resolved address.
type Result struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	DisplayName string  `json:"display_name"`
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithBaseURL overrides the Nominatim base URL.
func WithBaseURL(u string) Option {
	return func(g *geocoder) {
		if u != "" {
			g.baseURL = u
		}
	}
}

// WithUserAgent sets the User-Agent header Nominatim requires.
func WithUserAgent(ua string) Option {
	return func(g *geocoder) {
		if ua != "" {
			g.userAgent = ua
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithGate shares a rate gate with other clients.
func WithGate(w Waiter) Option {
	return func(g *geocoder) {
		g.gate = w
	}
}

// WithCache injects the lookup cache.
func WithCache(c *ttlcache.Cache[string, *Result]) Option {
	return func(g *geocoder) {
		g.cache = c
	}
}

// WithRetryPolicy overrides the retry policy for throttled or failed lookups.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(g *geocoder) {
		g.retry = p
	}
}

// WithObserver registers fn to run after every provider lookup, cache hits
// excluded. err is the final error after retries.
func WithObserver(fn func(err error)) Option {
	return func(g *geocoder) {
		g.observe = fn
	}
}

type geocoder struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	gate       Waiter
	cache      *ttlcache.Cache[string, *Result]
	retry      resilience.Policy
	observe    func(error)
}

// NewClient creates a geocoding Client with the given options.
func NewClient(opts ...Option) Client {
	g := &geocoder{
		baseURL:    defaultBaseURL,
		userAgent:  defaultUserAgent,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      resilience.ExternalCallPolicy(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.gate == nil {
		g.gate = NewGate(1)
	}
	if g.cache == nil {
		g.cache = ttlcache.New[string, *Result](defaultCacheTTL)
	}
	if g.retry.OnRetry == nil {
		g.retry.OnRetry = resilience.LogRetry("nominatim", "search")
	}
	return g
}

// Geocode looks the address up in the cache first. Misses, including
// not-found outcomes, are cached for the cache TTL.
func (g *geocoder) Geocode(ctx context.Context, address string) (*Result, error) {
	key := cacheKey(address)
	if key == "" {
		return nil, nil
	}

	if r, ok := g.cache.Get(key); ok {
		return r, nil
	}

	r, err := g.search(ctx, address)
	if err != nil {
		return nil, err
	}
	g.cache.Set(key, r)
	return r, nil
}

// BatchGeocode geocodes sequentially; the gate paces the requests.
func (g *geocoder) BatchGeocode(ctx context.Context, addresses []string, onProgress func(done, total int)) ([]*Result, error) {
	results := make([]*Result, len(addresses))
	for i, addr := range addresses {
		r, err := g.Geocode(ctx, addr)
		if err != nil {
			return results, err
		}
		results[i] = r
		if onProgress != nil {
			onProgress(i+1, len(addresses))
		}
	}

	matched := 0
	for _, r := range results {
		if r != nil {
			matched++
		}
	}
	zap.L().Debug("geocode batch complete",
		zap.Int("total", len(addresses)),
		zap.Int("matched", matched),
	)
	return results, nil
}

func (g *geocoder) CacheStats() ttlcache.Stats {
	return g.cache.Stats()
}
