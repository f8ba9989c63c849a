package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/pkg/google"
	"github.com/sells-group/outreach-cli/pkg/google/mocks"
)

func place(id, name string, at [2]float64) google.Place {
	p := google.Place{PlaceID: id, Name: name}
	p.Geometry.Location.Lat = at[0]
	p.Geometry.Location.Lng = at[1]
	return p
}

func okResponse(places ...google.Place) *google.TextSearchResponse {
	return &google.TextSearchResponse{Status: google.StatusOK, Results: places}
}

func forQuery(q string) any {
	return mock.MatchedBy(func(req google.TextSearchRequest) bool { return req.Query == q })
}

func TestExternalResearch_NoClient(t *testing.T) {
	st := newMockStore()
	c := NewExternalResearch(st, nil, ResearchConfig{})

	for range 2 {
		cands, err := c.Collect(context.Background(), *testCampaign(), testNow)
		require.NoError(t, err)
		assert.Empty(t, cands)
	}
	assert.Empty(t, st.upserted)
}

func TestExternalResearch_BuildsLeads(t *testing.T) {
	st := newMockStore()
	existing := leadAt("director@gg.org", oakland, LeadContacted)
	existing.Organization = "Golden Gate Chorus"
	existing = st.addLead(existing)

	places := mocks.NewMockClient(t)
	places.On("TextSearch", mock.Anything, mock.MatchedBy(func(req google.TextSearchRequest) bool {
		return req.Query == "choir in San Francisco, CA" &&
			req.Latitude == sf[0] && req.Longitude == sf[1] &&
			req.RadiusMeters == google.RadiusFromMiles(50)
	})).Return(okResponse(
		place("p1", "Bay Area Youth Choir", [2]float64{37.78, -122.41}),
		place("p2", "Pizza Palace", [2]float64{37.78, -122.41}),
		place("p3", "Los Angeles Master Chorale", la),
	), nil).Once()
	places.On("TextSearch", mock.Anything, forQuery("chorus in San Francisco, CA")).
		Return(okResponse(
			place("p4", "golden gate chorus", oakland),
		), nil).Once()

	c := NewExternalResearch(st, places, ResearchConfig{Keywords: []string{"choir", "chorus"}})
	cands, err := c.Collect(context.Background(), *testCampaign(), testNow)
	require.NoError(t, err)
	require.Len(t, cands, 2)

	// Bay Area Youth Choir: 30 music + 15 proximity; Golden Gate Chorus: 20 + 15.
	youth := cands[0]
	assert.Equal(t, SourceAIResearch, youth.Source)
	assert.Equal(t, "Contact", youth.Lead.FirstName)
	assert.Equal(t, "at Bay Area Youth Choir", youth.Lead.LastName)
	assert.Equal(t, "contact@bay-area-youth-choir.placeholder.local", youth.Lead.Email)
	assert.Equal(t, 30, youth.Lead.Score)
	assert.NotEmpty(t, youth.Lead.ID)

	gg := cands[1]
	assert.Equal(t, existing.ID, gg.Lead.ID)
	assert.Equal(t, "director@gg.org", gg.Lead.Email)
	assert.InDelta(t, 8.3, gg.Distance, 0.5)

	require.Len(t, st.upserted, 2)
}

func TestExternalResearch_KeywordFailureIsSkipped(t *testing.T) {
	st := newMockStore()
	places := mocks.NewMockClient(t)
	places.On("TextSearch", mock.Anything, forQuery("choir in San Francisco, CA")).
		Return(nil, errors.New("google: status REQUEST_DENIED")).Once()
	places.On("TextSearch", mock.Anything, forQuery("chorus in San Francisco, CA")).
		Return(okResponse(place("p1", "Mission Chorus", [2]float64{37.76, -122.42})), nil).Once()

	var seen []string
	c := NewExternalResearch(st, places, ResearchConfig{Keywords: []string{"choir", "chorus"}})
	c.OnQuery(func(kw string, err error) { seen = append(seen, kw) })

	cands, err := c.Collect(context.Background(), *testCampaign(), testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"contact@mission-chorus.placeholder.local"}, emails(cands))
	assert.Equal(t, []string{"choir", "chorus"}, seen)
}

func TestExternalResearch_DedupesByOrganizationKeepingNearest(t *testing.T) {
	st := newMockStore()
	places := mocks.NewMockClient(t)
	places.On("TextSearch", mock.Anything, forQuery("choir in San Francisco, CA")).
		Return(okResponse(place("far", "City Choir", [2]float64{37.95, -122.2})), nil).Once()
	places.On("TextSearch", mock.Anything, forQuery("church choir in San Francisco, CA")).
		Return(okResponse(place("near", "City Choir", [2]float64{37.775, -122.42})), nil).Once()

	c := NewExternalResearch(st, places, ResearchConfig{Keywords: []string{"choir", "church choir"}})
	cands, err := c.Collect(context.Background(), *testCampaign(), testNow)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Less(t, cands[0].Distance, 1.0)
	require.NotNil(t, cands[0].Lead.Latitude)
	assert.Equal(t, 37.775, *cands[0].Lead.Latitude)
}

func TestExternalResearch_CollapsesSharedPlaceholderEmail(t *testing.T) {
	st := newMockStore()
	places := mocks.NewMockClient(t)
	places.On("TextSearch", mock.Anything, forQuery("choir in San Francisco, CA")).
		Return(okResponse(place("p1", "St. Mark's Choir", [2]float64{37.95, -122.2})), nil).Once()
	places.On("TextSearch", mock.Anything, forQuery("church choir in San Francisco, CA")).
		Return(okResponse(place("p2", "St Mark's Choir", [2]float64{37.775, -122.42})), nil).Once()

	c := NewExternalResearch(st, places, ResearchConfig{Keywords: []string{"choir", "church choir"}})
	cands, err := c.Collect(context.Background(), *testCampaign(), testNow)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "contact@st-mark-s-choir.placeholder.local", cands[0].Lead.Email)
	assert.Equal(t, "St Mark's Choir", cands[0].Lead.Organization)
	assert.Less(t, cands[0].Distance, 1.0)

	require.Len(t, st.upserted, 1)
}

func TestExternalResearch_SamePlaceFromSeveralKeywords(t *testing.T) {
	st := newMockStore()
	places := mocks.NewMockClient(t)
	shared := place("shared", "Golden Gate Barbershop Chorus", [2]float64{37.78, -122.42})
	places.On("TextSearch", mock.Anything, forQuery("chorus in San Francisco, CA")).
		Return(okResponse(shared), nil).Once()
	places.On("TextSearch", mock.Anything, forQuery("barbershop in San Francisco, CA")).
		Return(okResponse(shared, place("other", "Mission Choir", [2]float64{37.76, -122.42})), nil).Once()

	c := NewExternalResearch(st, places, ResearchConfig{Keywords: []string{"chorus", "barbershop"}, MaxResults: 2})
	cands, err := c.Collect(context.Background(), *testCampaign(), testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"contact@golden-gate-barbershop-chorus.placeholder.local",
		"contact@mission-choir.placeholder.local",
	}, emails(cands))
}

func TestExternalResearch_TopResultsOnly(t *testing.T) {
	st := newMockStore()
	places := mocks.NewMockClient(t)
	places.On("TextSearch", mock.Anything, mock.Anything).Return(okResponse(
		place("a", "Chorus One", [2]float64{37.78, -122.42}),
		place("b", "Chorus Two", [2]float64{37.78, -122.42}),
		place("c", "Youth Choir Three", [2]float64{37.78, -122.42}),
	), nil).Once()

	c := NewExternalResearch(st, places, ResearchConfig{Keywords: []string{"choir"}, MaxResults: 2})
	cands, err := c.Collect(context.Background(), *testCampaign(), testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"contact@youth-choir-three.placeholder.local",
		"contact@chorus-one.placeholder.local",
	}, emails(cands))
}

func TestExternalResearch_BreakerStopsQueries(t *testing.T) {
	st := newMockStore()
	places := mocks.NewMockClient(t)
	places.On("TextSearch", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused")).Times(2)

	c := NewExternalResearch(st, places, ResearchConfig{
		Keywords:         []string{"a", "b", "c", "d"},
		BreakerThreshold: 2,
	})
	cands, err := c.Collect(context.Background(), *testCampaign(), testNow)
	require.NoError(t, err)
	assert.Empty(t, cands)
	places.AssertNumberOfCalls(t, "TextSearch", 2)
}

func TestExternalResearch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	places := mocks.NewMockClient(t)
	c := NewExternalResearch(newMockStore(), places, ResearchConfig{})
	_, err := c.Collect(ctx, *testCampaign(), testNow)
	assert.ErrorIs(t, err, context.Canceled)
	places.AssertNotCalled(t, "TextSearch", mock.Anything, mock.Anything)
}
