package discovery

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/geo"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/google"
)

// DefaultResearchKeywords are the places queries issued per campaign.
var DefaultResearchKeywords = []string{
	"choir",
	"chorus",
	"barbershop",
	"a cappella",
	"vocal ensemble",
	"music school",
	"youth choir",
	"church choir",
}

const (
	// DefaultResearchMaxResults caps the places kept per run.
	DefaultResearchMaxResults = 20
	// researchBaseScore is the stored score of a newly created research lead.
	researchBaseScore = 30
)

// ResearchConfig tunes ExternalResearch.
type ResearchConfig struct {
	Keywords         []string
	MaxResults       int
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// ExternalResearch discovers organizations through a places text search and
// turns them into leads.
type ExternalResearch struct {
	store      Store
	places     google.Client
	breaker    *resilience.Breaker
	keywords   []string
	maxResults int
	onResult   func(keyword string, err error)

	warnOnce sync.Once
}

// NewExternalResearch creates the collector. A nil places client disables
// it; Collect then returns no candidates.
func NewExternalResearch(store Store, places google.Client, cfg ResearchConfig) *ExternalResearch {
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = DefaultResearchKeywords
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultResearchMaxResults
	}
	return &ExternalResearch{
		store:      store,
		places:     places,
		keywords:   cfg.Keywords,
		maxResults: cfg.MaxResults,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Threshold: cfg.BreakerThreshold,
			Cooldown:  cfg.BreakerCooldown,
			OnStateChange: func(from, to resilience.State) {
				zap.L().Warn("discovery: places breaker state change",
					zap.Stringer("from", from), zap.Stringer("to", to))
			},
		}),
	}
}

// OnQuery registers a callback run after each places query.
func (c *ExternalResearch) OnQuery(fn func(keyword string, err error)) {
	c.onResult = fn
}

func (c *ExternalResearch) Source() Source { return SourceAIResearch }

// researchHit is a places result that passed the radius and music filters.
type researchHit struct {
	place     google.Place
	distance  float64
	relevance int
}

func (c *ExternalResearch) Collect(ctx context.Context, campaign Campaign, _ time.Time) ([]Candidate, error) {
	if c.places == nil {
		c.warnOnce.Do(func() {
			zap.L().Warn("discovery: places api key not configured, skipping external research")
		})
		return nil, nil
	}
	if err := campaign.Center().Validate(); err != nil {
		return nil, eris.Wrapf(err, "discovery: campaign %s", campaign.ID)
	}

	hits := c.search(ctx, campaign)
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "discovery: external research")
	}
	if len(hits) == 0 {
		return nil, nil
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].relevance > hits[j].relevance })
	if len(hits) > c.maxResults {
		hits = hits[:c.maxResults]
	}

	cands, err := c.toCandidates(ctx, hits)
	if err != nil {
		return nil, err
	}
	return c.persist(ctx, cands)
}

// search runs one places query per keyword and scores the results, keeping
// one hit per place id.
func (c *ExternalResearch) search(ctx context.Context, campaign Campaign) []researchHit {
	center := campaign.Center()
	radiusMeters := google.RadiusFromMiles(campaign.Radius)
	var hits []researchHit
	byPlace := make(map[string]int)

	for _, kw := range c.keywords {
		if ctx.Err() != nil {
			return hits
		}
		log := zap.L().With(zap.String("keyword", kw), zap.String("campaign_id", campaign.ID))

		resp, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*google.TextSearchResponse, error) {
			return c.places.TextSearch(ctx, google.TextSearchRequest{
				Query:        kw + " in " + campaign.BaseLocation,
				Latitude:     campaign.Latitude,
				Longitude:    campaign.Longitude,
				RadiusMeters: radiusMeters,
			})
		})
		if c.onResult != nil {
			c.onResult(kw, err)
		}
		if errors.Is(err, resilience.ErrOpen) {
			log.Warn("discovery: places breaker open, skipping remaining keywords")
			return hits
		}
		if err != nil {
			log.Warn("discovery: places query failed", zap.Error(err))
			continue
		}

		for _, p := range resp.Results {
			pt := geo.Point{Lat: p.Geometry.Location.Lat, Lon: p.Geometry.Location.Lng}
			d, err := geo.DistanceMiles(center, pt)
			if err != nil || d > campaign.Radius {
				continue
			}
			music := MusicScore(p.Name)
			if music == 0 {
				continue
			}
			hit := researchHit{
				place:     p,
				distance:  d,
				relevance: music + ProximityBonus(d, campaign.Radius),
			}
			// Several keywords often return the same place.
			if p.PlaceID != "" {
				if i, seen := byPlace[p.PlaceID]; seen {
					if hit.relevance > hits[i].relevance {
						hits[i] = hit
					}
					continue
				}
				byPlace[p.PlaceID] = len(hits)
			}
			hits = append(hits, hit)
		}
	}
	return hits
}

// toCandidates maps hits to leads, reusing existing leads by organization,
// and keeps the nearest hit per lead email. Names differing only in
// punctuation or accents share a placeholder email and collapse here.
func (c *ExternalResearch) toCandidates(ctx context.Context, hits []researchHit) ([]Candidate, error) {
	names := make([]string, 0, len(hits))
	for _, h := range hits {
		names = append(names, h.place.Name)
	}
	existing, err := c.store.FindLeadsByOrganization(ctx, names)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: external research lookup")
	}

	index := make(map[string]int, len(hits))
	var cands []Candidate
	for _, h := range hits {
		lead, ok := existing[strings.ToLower(h.place.Name)]
		if !ok {
			lead = syntheticLead(h.place)
		}
		cand := Candidate{Lead: lead, Distance: h.distance, Source: SourceAIResearch}
		key := emailKey(lead.Email)

		if i, seen := index[key]; seen {
			if h.distance < cands[i].Distance {
				cands[i] = cand
			}
			continue
		}
		index[key] = len(cands)
		cands = append(cands, cand)
	}
	return cands, nil
}

// persist upserts the candidates' leads by email and attaches stored ids.
func (c *ExternalResearch) persist(ctx context.Context, cands []Candidate) ([]Candidate, error) {
	leads := make([]Lead, len(cands))
	for i, cand := range cands {
		leads[i] = cand.Lead
	}
	stored, err := c.store.UpsertLeads(ctx, leads)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: external research upsert")
	}
	byEmail := make(map[string]Lead, len(stored))
	for _, l := range stored {
		byEmail[l.Email] = l
	}
	for i := range cands {
		if l, ok := byEmail[cands[i].Lead.Email]; ok {
			cands[i].Lead.ID = l.ID
		}
	}
	return cands, nil
}

func syntheticLead(p google.Place) Lead {
	lat, lon := p.Geometry.Location.Lat, p.Geometry.Location.Lng
	return Lead{
		FirstName:    "Contact",
		LastName:     "at " + p.Name,
		Email:        PlaceholderEmail(p.Name),
		Organization: p.Name,
		Status:       LeadNew,
		Score:        researchBaseScore,
		Latitude:     &lat,
		Longitude:    &lon,
		Source:       string(SourceAIResearch),
	}
}
