package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/ttlcache"
)

const sfResponse = `[{"lat":"37.7749295","lon":"-122.4194155","display_name":"San Francisco, California, United States"}]`

func newTestClient(srvURL string, opts ...Option) Client {
	base := []Option{
		WithBaseURL(srvURL),
		WithGate(newTestLimiter()),
		WithRetryPolicy(newTestPolicy(nil)),
	}
	return NewClient(append(base, opts...)...)
}

func TestGeocode_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "San Francisco, CA", q.Get("q"))
		assert.Equal(t, "json", q.Get("format"))
		assert.Equal(t, "1", q.Get("limit"))
		assert.Equal(t, "1", q.Get("addressdetails"))
		assert.Equal(t, "outreach-test/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = io.WriteString(w, sfResponse)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, WithUserAgent("outreach-test/1.0"))
	r, err := c.Geocode(context.Background(), "San Francisco, CA")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.InDelta(t, 37.7749, r.Latitude, 0.0001)
	assert.InDelta(t, -122.4194, r.Longitude, 0.0001)
	assert.Equal(t, "San Francisco, California, United States", r.DisplayName)
}

func TestGeocode_EmptyAddress(t *testing.T) {
	c := NewClient(WithBaseURL("http://127.0.0.1:1"))
	r, err := c.Geocode(context.Background(), "   ")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestGeocode_CachesByNormalizedAddress(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, sfResponse)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	ctx := context.Background()

	_, err := c.Geocode(ctx, "San Francisco, CA")
	require.NoError(t, err)
	r, err := c.Geocode(ctx, "  san francisco, ca ")
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.Equal(t, int32(1), calls.Load())
	stats := c.CacheStats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestGeocode_NotFoundIsCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	for range 2 {
		r, err := c.Geocode(context.Background(), "Nowhere")
		require.NoError(t, err)
		assert.Nil(t, r)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestGeocode_CacheExpires(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, sfResponse)
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cache := ttlcache.New[string, *Result](24*time.Hour, ttlcache.WithClock(func() time.Time { return now }))
	c := newTestClient(srv.URL, WithCache(cache))

	_, err := c.Geocode(context.Background(), "San Francisco")
	require.NoError(t, err)
	now = now.Add(25 * time.Hour)
	_, err = c.Geocode(context.Background(), "San Francisco")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGeocode_RetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, sfResponse)
	}))
	defer srv.Close()

	var delays []time.Duration
	c := newTestClient(srv.URL, WithRetryPolicy(newTestPolicy(&delays)))
	r, err := c.Geocode(context.Background(), "San Francisco")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestGeocode_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var delays []time.Duration
	c := newTestClient(srv.URL, WithRetryPolicy(newTestPolicy(&delays)))
	r, err := c.Geocode(context.Background(), "San Francisco")
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
}

func TestGeocode_ServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	r, err := c.Geocode(context.Background(), "San Francisco")
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGeocode_Observer(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, sfResponse)
	}))
	defer srv.Close()

	var errs []error
	c := newTestClient(srv.URL, WithObserver(func(err error) { errs = append(errs, err) }))
	ctx := context.Background()

	_, err := c.Geocode(ctx, "San Francisco")
	require.NoError(t, err)
	_, err = c.Geocode(ctx, "San Francisco")
	require.NoError(t, err)

	fail.Store(true)
	_, err = c.Geocode(ctx, "Oakland")
	require.NoError(t, err)

	require.Len(t, errs, 2)
	assert.NoError(t, errs[0])
	assert.Error(t, errs[1])
}

func TestGeocode_MalformedJSONRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = io.WriteString(w, `{not json`)
			return
		}
		_, _ = io.WriteString(w, sfResponse)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	r, err := c.Geocode(context.Background(), "San Francisco")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGeocode_InvalidCoordinates(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"lat out of range", `[{"lat":"91.5","lon":"10"}]`},
		{"lon out of range", `[{"lat":"10","lon":"-181"}]`},
		{"not a number", `[{"lat":"abc","lon":"10"}]`},
		{"nan", `[{"lat":"NaN","lon":"10"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			r, err := newTestClient(srv.URL).Geocode(context.Background(), "somewhere")
			require.NoError(t, err)
			assert.Nil(t, r)
		})
	}
}

func TestGeocode_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(srv.URL).Geocode(ctx, "San Francisco")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGeocode_DefaultBaseURLRewritten(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		_, _ = io.WriteString(w, sfResponse)
	}))
	defer srv.Close()

	c := NewClient(
		WithHTTPClient(newRewriteClient(srv.URL, defaultBaseURL)),
		WithGate(newTestLimiter()),
	)
	r, err := c.Geocode(context.Background(), "San Francisco")
	require.NoError(t, err)
	require.NotNil(t, r)
}

func TestBatchGeocode_Progress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "Nowhere" {
			_, _ = io.WriteString(w, `[]`)
			return
		}
		_, _ = io.WriteString(w, sfResponse)
	}))
	defer srv.Close()

	var progress [][2]int
	results, err := newTestClient(srv.URL).BatchGeocode(context.Background(),
		[]string{"San Francisco", "Nowhere", ""},
		func(done, total int) { progress = append(progress, [2]int{done, total}) },
	)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.NotNil(t, results[0])
	assert.Nil(t, results[1])
	assert.Nil(t, results[2])
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, progress)
}

func TestGate_Wait(t *testing.T) {
	g := NewGate(0)
	require.NoError(t, g.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, g.Wait(ctx))
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "san francisco, ca", cacheKey("  San Francisco, CA "))
	assert.Empty(t, cacheKey("   "))
}
