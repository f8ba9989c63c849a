package recommend

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/orgtype"
	"github.com/sells-group/outreach-cli/internal/ttlcache"
)

const (
	// MaxMatches is the number of recommendations returned per lead.
	MaxMatches = 5

	// DefaultCacheTTL is how long loaded rules are reused.
	DefaultCacheTTL = time.Hour

	pastBookingFactor = 0.8
	orgFactor         = 0.9

	activeRulesKey = "active"
)

// RuleSource loads active rules.
type RuleSource interface {
	ListActiveRules(ctx context.Context) ([]Rule, error)
}

// Match is a single recommended service for a lead.
type Match struct {
	ServiceType ServiceType `json:"service_type"`
	Reason      string      `json:"reason"`
	Weight      float64     `json:"weight"`
	Priority    int         `json:"priority"`
	PitchPoints []string    `json:"pitch_points"`
	TemplateID  string      `json:"template_id,omitempty"`
}

// Input describes the lead being matched.
type Input struct {
	// Organization is the lead's organization name, if any.
	Organization string
	// PastServices are the service types of the lead's completed or
	// confirmed bookings. Duplicates are ignored.
	PastServices []ServiceType
	// OrganizationType is the classified type of Organization.
	OrganizationType orgtype.Type
	// CampaignService is the service type of the booking that triggered the
	// campaign, or empty.
	CampaignService ServiceType
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRuleCache injects the rule cache.
func WithRuleCache(c *ttlcache.Cache[string, []Rule]) EngineOption {
	return func(e *Engine) {
		e.cache = c
	}
}

// Engine matches leads against the active rules.
type Engine struct {
	source RuleSource
	cache  *ttlcache.Cache[string, []Rule]
}

// NewEngine creates an Engine reading rules from source.
func NewEngine(source RuleSource, opts ...EngineOption) *Engine {
	e := &Engine{source: source}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = ttlcache.New[string, []Rule](DefaultCacheTTL)
	}
	return e
}

// ClearCache drops cached rules so the next call reloads them.
func (e *Engine) ClearCache() {
	e.cache.Invalidate()
}

// Rules returns the active rules ordered by priority then weight, both
// descending.
func (e *Engine) Rules(ctx context.Context) ([]Rule, error) {
	if rules, ok := e.cache.Get(activeRulesKey); ok {
		return rules, nil
	}

	rules, err := e.source.ListActiveRules(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "recommend: load rules")
	}
	rules = slices.Clone(rules)
	slices.SortStableFunc(rules, func(a, b Rule) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		switch {
		case a.Weight > b.Weight:
			return -1
		case a.Weight < b.Weight:
			return 1
		}
		return 0
	})

	e.cache.Set(activeRulesKey, rules)
	zap.L().Debug("recommendation rules loaded", zap.Int("count", len(rules)))
	return rules, nil
}

// Recommend returns up to MaxMatches recommendations for in, strongest first.
func (e *Engine) Recommend(ctx context.Context, in Input) ([]Match, error) {
	rules, err := e.Rules(ctx)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	var matches []Match
	seen := make(map[ServiceType]bool)
	// Campaign-triggered rules are all kept; later passes skip services
	// already recommended.
	add := func(r Rule, reason string, weight float64, dedupe bool) {
		if dedupe && seen[r.RecommendedService] {
			return
		}
		seen[r.RecommendedService] = true
		matches = append(matches, Match{
			ServiceType: r.RecommendedService,
			Reason:      reason,
			Weight:      weight,
			Priority:    r.Priority,
			PitchPoints: slices.Clone(r.PitchPoints),
			TemplateID:  r.MessageTemplate,
		})
	}

	if in.CampaignService != "" {
		reason := "Since you booked " + FormatServiceType(in.CampaignService)
		for _, r := range rules {
			if r.TriggerServiceType != nil && *r.TriggerServiceType == in.CampaignService {
				add(r, reason, r.Weight, false)
			}
		}
	}

	pastSeen := make(map[ServiceType]bool)
	for _, past := range in.PastServices {
		if past == "" || pastSeen[past] {
			continue
		}
		pastSeen[past] = true
		reason := fmt.Sprintf("Based on your past %s booking", FormatServiceType(past))
		for _, r := range rules {
			if r.TriggerServiceType != nil && *r.TriggerServiceType == past {
				add(r, reason, r.Weight*pastBookingFactor, true)
			}
		}
	}

	if in.OrganizationType != "" && in.OrganizationType != orgtype.Unknown {
		org := in.Organization
		if org == "" {
			org = "yours"
		}
		for _, r := range rules {
			if r.AppliesToOrg(in.OrganizationType) {
				reason := fmt.Sprintf("Organizations like %s often benefit from %s", org, FormatServiceType(r.RecommendedService))
				add(r, reason, r.Weight*orgFactor, true)
			}
		}
	}

	slices.SortStableFunc(matches, func(a, b Match) int {
		wa, wb := WeightedPriority(a), WeightedPriority(b)
		switch {
		case wa > wb:
			return -1
		case wa < wb:
			return 1
		}
		return 0
	})
	if len(matches) > MaxMatches {
		matches = matches[:MaxMatches]
	}
	return matches, nil
}
