package discovery

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/geo"
	"github.com/sells-group/outreach-cli/internal/orgtype"
)

// DefaultDormantMonths is how long a lead must go uncontacted to be dormant.
const DefaultDormantMonths = 6

// Collector gathers candidates for a campaign from one source. now anchors
// any time-based predicate.
type Collector interface {
	Source() Source
	Collect(ctx context.Context, campaign Campaign, now time.Time) ([]Candidate, error)
}

var closedStatuses = []LeadStatus{LeadWon, LeadCompleted}

// PastClients finds won or completed leads near the campaign.
type PastClients struct {
	store Store
}

// NewPastClients creates a PastClients collector.
func NewPastClients(store Store) *PastClients { return &PastClients{store: store} }

func (c *PastClients) Source() Source { return SourcePastClient }

func (c *PastClients) Collect(ctx context.Context, campaign Campaign, _ time.Time) ([]Candidate, error) {
	box, err := campaignBox(campaign)
	if err != nil {
		return nil, err
	}
	leads, err := c.store.FindLeads(ctx, LeadQuery{Box: box, Statuses: closedStatuses})
	if err != nil {
		return nil, eris.Wrap(err, "discovery: past clients")
	}
	for i := range leads {
		leads[i].Bookings = filterBookings(leads[i].Bookings, BookingCompleted, BookingConfirmed)
	}
	return withinRadius(leads, campaign, SourcePastClient), nil
}

// DormantLeads finds open leads that went cold: not contacted for a while,
// or with a declined or expired inquiry.
type DormantLeads struct {
	store  Store
	months int
}

// NewDormantLeads creates a DormantLeads collector. months <= 0 uses
// DefaultDormantMonths.
func NewDormantLeads(store Store, months int) *DormantLeads {
	if months <= 0 {
		months = DefaultDormantMonths
	}
	return &DormantLeads{store: store, months: months}
}

func (c *DormantLeads) Source() Source { return SourceDormant }

func (c *DormantLeads) Collect(ctx context.Context, campaign Campaign, now time.Time) ([]Candidate, error) {
	box, err := campaignBox(campaign)
	if err != nil {
		return nil, err
	}
	leads, err := c.store.FindLeads(ctx, LeadQuery{
		Box:             box,
		ExcludeStatuses: closedStatuses,
		Dormant: &Dormancy{
			ContactedBefore: now.AddDate(0, -c.months, 0),
			InquiryStatuses: []InquiryStatus{InquiryDeclined, InquiryExpired},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "discovery: dormant leads")
	}
	for i := range leads {
		leads[i].Inquiries = filterInquiries(leads[i].Inquiries, InquiryDeclined, InquiryExpired)
	}
	return withinRadius(leads, campaign, SourceDormant), nil
}

// SimilarOrganizations finds open leads whose organization resembles the
// venue of the campaign's triggering booking.
type SimilarOrganizations struct {
	store Store
}

// NewSimilarOrganizations creates a SimilarOrganizations collector.
func NewSimilarOrganizations(store Store) *SimilarOrganizations {
	return &SimilarOrganizations{store: store}
}

func (c *SimilarOrganizations) Source() Source { return SourceSimilarOrg }

func (c *SimilarOrganizations) Collect(ctx context.Context, campaign Campaign, _ time.Time) ([]Candidate, error) {
	if campaign.Booking == nil || campaign.Booking.Location == "" {
		return nil, nil
	}
	t := orgtype.ClassifyFromLocation(campaign.Booking.Location)
	keywords := orgtype.Keywords(t)
	if t == orgtype.Unknown || len(keywords) == 0 {
		zap.L().Debug("discovery: no similarity basis",
			zap.String("campaign_id", campaign.ID),
			zap.String("location", campaign.Booking.Location),
		)
		return nil, nil
	}

	box, err := campaignBox(campaign)
	if err != nil {
		return nil, err
	}
	leads, err := c.store.FindLeads(ctx, LeadQuery{
		Box:                  box,
		ExcludeStatuses:      closedStatuses,
		OrganizationKeywords: keywords,
	})
	if err != nil {
		return nil, eris.Wrap(err, "discovery: similar organizations")
	}

	cands := withinRadius(leads, campaign, SourceSimilarOrg)
	for i := range cands {
		cands[i].OrgType = t
	}
	return cands, nil
}

func campaignBox(campaign Campaign) (geo.BoundingBox, error) {
	box, err := geo.NewBoundingBox(campaign.Center(), campaign.Radius)
	if err != nil {
		return geo.BoundingBox{}, eris.Wrapf(err, "discovery: campaign %s", campaign.ID)
	}
	return box, nil
}

// withinRadius keeps leads whose exact distance from the campaign center is
// within the radius. Leads without usable coordinates are dropped.
func withinRadius(leads []Lead, campaign Campaign, source Source) []Candidate {
	center := campaign.Center()
	out := make([]Candidate, 0, len(leads))
	for _, l := range leads {
		p, ok := l.Point()
		if !ok {
			continue
		}
		d, err := geo.DistanceMiles(center, p)
		if err != nil || d > campaign.Radius {
			continue
		}
		out = append(out, Candidate{Lead: l, Distance: d, Source: source})
	}
	return out
}

func filterBookings(bs []Booking, keep ...BookingStatus) []Booking {
	var out []Booking
	for _, b := range bs {
		for _, k := range keep {
			if b.Status == k {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

func filterInquiries(qs []Inquiry, keep ...InquiryStatus) []Inquiry {
	var out []Inquiry
	for _, q := range qs {
		for _, k := range keep {
			if q.Status == k {
				out = append(out, q)
				break
			}
		}
	}
	return out
}
