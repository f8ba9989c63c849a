package discovery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/orgtype"
	"github.com/sells-group/outreach-cli/internal/recommend"
)

// Recorder observes discovery activity. internal/metrics provides the
// Prometheus implementation.
type Recorder interface {
	ObserveCollector(source Source, found int, err error)
	ObserveRun(result *Result, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCollector(Source, int, error) {}
func (nopRecorder) ObserveRun(*Result, error)          {}

// Result summarizes one discovery run.
type Result struct {
	CampaignID    string              `json:"campaign_id"`
	Total         int                 `json:"total"`
	Inserted      int64               `json:"inserted"`
	Skipped       int                 `json:"skipped"`
	BySource      map[Source]int      `json:"by_source"`
	AvgScore      float64             `json:"avg_score"`
	ScoreStats    ScoreStats          `json:"score_stats"`
	Deduplication DedupStats          `json:"deduplication"`
	Duplicates    map[string][]Source `json:"duplicates,omitempty"`
	Duration      time.Duration       `json:"duration"`

	// Candidates are the scored, deduplicated candidates of this run.
	Candidates []Candidate `json:"-"`
}

// Stats describes the persisted associations of a campaign.
type Stats struct {
	CampaignID string                     `json:"campaign_id"`
	Total      int                        `json:"total"`
	BySource   map[Source]int             `json:"by_source"`
	ByStatus   map[CampaignLeadStatus]int `json:"by_status"`
	AvgScore   float64                    `json:"avg_score"`
	ScoreStats ScoreStats                 `json:"score_stats"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCollectors replaces the default collectors.
func WithCollectors(cs ...Collector) Option {
	return func(o *Orchestrator) { o.collectors = cs }
}

// WithClock sets the time source used for scoring and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRecorder sets the run observer.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// Orchestrator runs collectors, scores their candidates, and persists new
// campaign leads.
type Orchestrator struct {
	store      Store
	engine     *recommend.Engine
	collectors []Collector
	now        func() time.Time
	recorder   Recorder
}

// NewOrchestrator creates an Orchestrator. Without WithCollectors it uses
// the store-backed collectors plus a disabled ExternalResearch.
func NewOrchestrator(store Store, engine *recommend.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  store,
		engine: engine,
		collectors: []Collector{
			NewPastClients(store),
			NewDormantLeads(store, DefaultDormantMonths),
			NewSimilarOrganizations(store),
			NewExternalResearch(store, nil, ResearchConfig{}),
		},
		now:      time.Now,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Discover finds, scores, and persists candidate leads for a campaign.
// Pairs already associated with the campaign are skipped, so re-running is
// safe.
func (o *Orchestrator) Discover(ctx context.Context, campaignID string) (*Result, error) {
	res, err := o.discover(ctx, campaignID)
	o.recorder.ObserveRun(res, err)
	return res, err
}

func (o *Orchestrator) discover(ctx context.Context, campaignID string) (*Result, error) {
	start := o.now()
	log := zap.L().With(zap.String("campaign_id", campaignID))

	campaign, err := o.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := campaign.Validate(); err != nil {
		return nil, err
	}

	all, bySource, err := o.collect(ctx, *campaign, start)
	if err != nil {
		return nil, err
	}

	cands := Deduplicate(all)
	res := &Result{
		CampaignID:    campaignID,
		Total:         len(cands),
		BySource:      bySource,
		Deduplication: DeduplicationStats(len(all), len(cands)),
		Duplicates:    FindDuplicates(all),
	}
	log.Info("discovery: candidates collected",
		zap.Int("found", len(all)),
		zap.Int("unique", len(cands)),
		zap.Any("by_source", bySource),
	)

	scores := make([]int, len(cands))
	for i := range cands {
		o.score(ctx, &cands[i], *campaign, start)
		scores[i] = cands[i].Score
	}
	res.ScoreStats = ComputeScoreStats(scores)
	res.AvgScore = res.ScoreStats.Avg
	res.Candidates = cands

	fresh, err := o.newCandidates(ctx, campaignID, cands)
	if err != nil {
		return nil, err
	}
	res.Skipped = len(cands) - len(fresh)

	if len(fresh) > 0 {
		rows := make([]CampaignLead, len(fresh))
		for i, c := range fresh {
			rows[i] = toCampaignLead(campaignID, c, start)
		}
		n, err := o.store.InsertCampaignLeads(ctx, rows)
		if err != nil {
			return nil, eris.Wrapf(err, "discovery: persist campaign leads for %s", campaignID)
		}
		res.Inserted = n
	}

	res.Duration = o.now().Sub(start)
	log.Info("discovery: run complete",
		zap.Int64("inserted", res.Inserted),
		zap.Int("skipped", res.Skipped),
		zap.Float64("avg_score", res.AvgScore),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// collect runs every collector concurrently. A failing collector contributes
// nothing; only cancellation of ctx fails the run.
func (o *Orchestrator) collect(ctx context.Context, campaign Campaign, now time.Time) ([]Candidate, map[Source]int, error) {
	results := make([][]Candidate, len(o.collectors))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range o.collectors {
		g.Go(func() error {
			cands, err := c.Collect(gctx, campaign, now)
			o.recorder.ObserveCollector(c.Source(), len(cands), err)
			if err != nil {
				zap.L().Warn("discovery: collector failed",
					zap.String("campaign_id", campaign.ID),
					zap.String("source", string(c.Source())),
					zap.Error(err),
				)
				return nil
			}
			results[i] = cands
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, eris.Wrapf(err, "discovery: collect candidates for %s", campaign.ID)
	}

	bySource := make(map[Source]int, len(Sources))
	for _, s := range Sources {
		bySource[s] = 0
	}
	var all []Candidate
	for _, r := range results {
		for _, c := range r {
			bySource[c.Source]++
		}
		all = append(all, r...)
	}
	return all, bySource, nil
}

// score attaches recommendations and the final score to c. A recommendation
// failure leaves the lead without recommendations.
func (o *Orchestrator) score(ctx context.Context, c *Candidate, campaign Campaign, now time.Time) {
	t := orgtype.Unknown
	if c.Lead.Organization != "" {
		t = orgtype.Classify(c.Lead.Organization)
	}

	if o.engine != nil {
		matches, err := o.engine.Recommend(ctx, recommend.Input{
			Organization:     c.Lead.Organization,
			PastServices:     c.Lead.PastServices(),
			OrganizationType: t,
			CampaignService:  campaign.ServiceType(),
		})
		if err != nil {
			zap.L().Warn("discovery: recommendations unavailable",
				zap.String("lead_id", c.Lead.ID), zap.Error(err))
		}
		c.Recommendations = matches
	}
	c.RecommendationBonus = recommend.Bonus(c.Recommendations)
	c.Score = clampScore(Score(*c, campaign, now) + c.RecommendationBonus)
}

// newCandidates drops candidates without a stored lead id and those already
// associated with the campaign.
func (o *Orchestrator) newCandidates(ctx context.Context, campaignID string, cands []Candidate) ([]Candidate, error) {
	ids := make([]string, 0, len(cands))
	for _, c := range cands {
		if c.Lead.ID != "" {
			ids = append(ids, c.Lead.ID)
		}
	}
	existing, err := o.store.ExistingCampaignLeadIDs(ctx, campaignID, ids)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: existing campaign leads for %s", campaignID)
	}

	var fresh []Candidate
	for _, c := range cands {
		if c.Lead.ID == "" || existing[c.Lead.ID] {
			continue
		}
		fresh = append(fresh, c)
	}
	return fresh, nil
}

func toCampaignLead(campaignID string, c Candidate, now time.Time) CampaignLead {
	cl := CampaignLead{
		ID:                   uuid.NewString(),
		CampaignID:           campaignID,
		LeadID:               c.Lead.ID,
		Score:                c.Score,
		Distance:             c.Distance,
		Source:               c.Source,
		Status:               CampaignLeadPending,
		RecommendationReason: recommend.BuildReason(c.Recommendations),
		CreatedAt:            now,
	}
	for _, m := range c.Recommendations {
		cl.RecommendedServices = append(cl.RecommendedServices, string(m.ServiceType))
	}
	if c.RecommendationBonus > 0 {
		bonus := c.RecommendationBonus
		cl.RecommendationScore = &bonus
	}
	return cl
}

// ClearDiscoveredLeads deletes every campaign lead of the campaign so
// discovery can start over.
func (o *Orchestrator) ClearDiscoveredLeads(ctx context.Context, campaignID string) (int64, error) {
	n, err := o.store.DeleteCampaignLeads(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	zap.L().Info("discovery: cleared campaign leads",
		zap.String("campaign_id", campaignID), zap.Int64("deleted", n))
	return n, nil
}

// GetDiscoveryStats summarizes a campaign's persisted leads without running
// discovery.
func (o *Orchestrator) GetDiscoveryStats(ctx context.Context, campaignID string) (*Stats, error) {
	if _, err := o.store.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	cls, err := o.store.ListCampaignLeads(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	st := &Stats{
		CampaignID: campaignID,
		Total:      len(cls),
		BySource:   make(map[Source]int, len(Sources)),
		ByStatus:   make(map[CampaignLeadStatus]int, len(CampaignLeadStatuses)),
	}
	for _, s := range Sources {
		st.BySource[s] = 0
	}
	for _, s := range CampaignLeadStatuses {
		st.ByStatus[s] = 0
	}

	scores := make([]int, len(cls))
	for i, cl := range cls {
		st.BySource[cl.Source]++
		st.ByStatus[cl.Status]++
		scores[i] = cl.Score
	}
	st.ScoreStats = ComputeScoreStats(scores)
	st.AvgScore = st.ScoreStats.Avg
	return st, nil
}
