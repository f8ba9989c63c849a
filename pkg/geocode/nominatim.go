package geocode

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

// nominatimPlace is one element of the Nominatim search response.
type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// search queries Nominatim, retrying throttled responses and transport or
// decode failures. Exhausted retries resolve to a nil result.
func (g *geocoder) search(ctx context.Context, address string) (*Result, error) {
	r, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*Result, error) {
		return g.searchOnce(ctx, address)
	})
	if g.observe != nil {
		g.observe(err)
	}
	if err == nil {
		return r, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, eris.Wrap(ctxErr, "geocode: search")
	}

	zap.L().Warn("geocode lookup failed",
		zap.String("address", address),
		zap.Error(err),
	)
	return nil, nil
}

func (g *geocoder) searchOnce(ctx context.Context, address string) (*Result, error) {
	if err := g.gate.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"q":              {address},
		"format":         {"json"},
		"limit":          {"1"},
		"addressdetails": {"1"},
	}
	reqURL := strings.TrimRight(g.baseURL, "/") + "/search?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "geocode: request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, resilience.Transient(eris.New("geocode: rate limited"), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		zap.L().Debug("geocode: non-OK status",
			zap.String("address", address),
			zap.Int("status", resp.StatusCode),
		)
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "geocode: read body"), 0)
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "geocode: parse response"), 0)
	}
	if len(places) == 0 {
		return nil, nil
	}

	return toResult(places[0]), nil
}

// toResult converts a place, rejecting unparseable or out-of-range
// coordinates.
func toResult(p nominatimPlace) *Result {
	lat, err := strconv.ParseFloat(strings.TrimSpace(p.Lat), 64)
	if err != nil {
		return nil
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(p.Lon), 64)
	if err != nil {
		return nil
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil
	}
	return &Result{Latitude: lat, Longitude: lon, DisplayName: p.DisplayName}
}
