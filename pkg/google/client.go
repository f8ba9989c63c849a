// Package google is a client for the Places text search API.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

const (
	defaultBaseURL = "https://maps.googleapis.com/maps/api/place"

	// MaxRadiusMeters is the largest search radius the API accepts.
	MaxRadiusMeters = 50000

	metersPerMile = 1609.34
)

// Status values returned in the response body.
const (
	StatusOK          = "OK"
	StatusZeroResults = "ZERO_RESULTS"
)

// Client performs Places API operations.
type Client interface {
	TextSearch(ctx context.Context, req TextSearchRequest) (*TextSearchResponse, error)
}

// TextSearchRequest is a free-text place query biased to a circle.
type TextSearchRequest struct {
	Query        string
	Latitude     float64
	Longitude    float64
	RadiusMeters int
}

// RadiusFromMiles converts a radius in miles to meters, capped at
// MaxRadiusMeters.
func RadiusFromMiles(miles float64) int {
	m := int(math.Round(miles * metersPerMile))
	if m > MaxRadiusMeters {
		return MaxRadiusMeters
	}
	if m < 0 {
		return 0
	}
	return m
}

// TextSearchResponse is the response from Places text search.
type TextSearchResponse struct {
	Status       string  `json:"status"`
	Results      []Place `json:"results"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// Place is a single search result.
type Place struct {
	PlaceID          string   `json:"place_id"`
	Name             string   `json:"name"`
	FormattedAddress string   `json:"formatted_address"`
	Geometry         Geometry `json:"geometry"`
	Types            []string `json:"types"`
}

// Geometry holds a place's location.
type Geometry struct {
	Location LatLng `json:"location"`
}

// LatLng is a coordinate pair as the API encodes it.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Waiter blocks until a request may be sent.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithGate paces requests through a shared rate gate.
func WithGate(w Waiter) Option {
	return func(c *httpClient) {
		c.gate = w
	}
}

// WithRetryPolicy overrides the retry policy for transient failures.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(c *httpClient) {
		c.retry = p
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	gate    Waiter
	retry   resilience.Policy
}

// NewClient creates a Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		retry: resilience.ExternalCallPolicy(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.LogRetry("places", "textsearch")
	}
	return c
}

func (c *httpClient) TextSearch(ctx context.Context, req TextSearchRequest) (*TextSearchResponse, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*TextSearchResponse, error) {
		return c.textSearchOnce(ctx, req)
	})
}

func (c *httpClient) textSearchOnce(ctx context.Context, req TextSearchRequest) (*TextSearchResponse, error) {
	if c.gate != nil {
		if err := c.gate.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params := url.Values{
		"query": {req.Query},
		"key":   {c.apiKey},
	}
	if req.RadiusMeters > 0 {
		params.Set("location", fmt.Sprintf("%s,%s",
			strconv.FormatFloat(req.Latitude, 'f', -1, 64),
			strconv.FormatFloat(req.Longitude, 'f', -1, 64)))
		params.Set("radius", strconv.Itoa(min(req.RadiusMeters, MaxRadiusMeters)))
	}
	reqURL := strings.TrimRight(c.baseURL, "/") + "/textsearch/json?" + params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "google: create request")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "google: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "google: read response"), 0)
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("google: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.Transient(err, resp.StatusCode)
		}
		return nil, err
	}

	var result TextSearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "google: unmarshal response")
	}

	switch result.Status {
	case StatusOK, StatusZeroResults:
		return &result, nil
	case "OVER_QUERY_LIMIT":
		return nil, resilience.Transient(eris.Errorf("google: status %s", result.Status), http.StatusTooManyRequests)
	default:
		return nil, eris.Errorf("google: status %s: %s", result.Status, result.ErrorMessage)
	}
}
