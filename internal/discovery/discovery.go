// Package discovery finds, scores, and persists candidate leads for a
// geographically bounded outreach campaign.
package discovery

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/geo"
	"github.com/sells-group/outreach-cli/internal/orgtype"
	"github.com/sells-group/outreach-cli/internal/recommend"
)

// ErrCampaignNotFound is returned when a campaign id does not exist.
var ErrCampaignNotFound = eris.New("discovery: campaign not found")

// Source identifies which collector produced a candidate.
type Source string

// Candidate sources.
const (
	SourcePastClient Source = "PAST_CLIENT"
	SourceDormant    Source = "DORMANT"
	SourceSimilarOrg Source = "SIMILAR_ORG"
	SourceAIResearch Source = "AI_RESEARCH"
)

// Sources lists every source in collection order.
var Sources = []Source{SourcePastClient, SourceDormant, SourceSimilarOrg, SourceAIResearch}

// LeadStatus is a lead's pipeline status.
type LeadStatus string

// Lead statuses.
const (
	LeadNew       LeadStatus = "NEW"
	LeadContacted LeadStatus = "CONTACTED"
	LeadQualified LeadStatus = "QUALIFIED"
	LeadProposal  LeadStatus = "PROPOSAL"
	LeadWon       LeadStatus = "WON"
	LeadCompleted LeadStatus = "COMPLETED"
	LeadDormant   LeadStatus = "DORMANT"
	LeadLost      LeadStatus = "LOST"
)

// BookingStatus is a booking's status.
type BookingStatus string

// Booking statuses.
const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingCancelled BookingStatus = "CANCELLED"
)

// InquiryStatus is an inquiry's status.
type InquiryStatus string

// Inquiry statuses.
const (
	InquiryPending  InquiryStatus = "PENDING"
	InquiryQuoted   InquiryStatus = "QUOTED"
	InquiryAccepted InquiryStatus = "ACCEPTED"
	InquiryDeclined InquiryStatus = "DECLINED"
	InquiryExpired  InquiryStatus = "EXPIRED"
)

// CampaignLeadStatus is the outreach workflow state of a campaign lead.
type CampaignLeadStatus string

// Campaign lead statuses.
const (
	CampaignLeadPending   CampaignLeadStatus = "PENDING"
	CampaignLeadContacted CampaignLeadStatus = "CONTACTED"
	CampaignLeadOpened    CampaignLeadStatus = "OPENED"
	CampaignLeadClicked   CampaignLeadStatus = "CLICKED"
	CampaignLeadResponded CampaignLeadStatus = "RESPONDED"
	CampaignLeadBooked    CampaignLeadStatus = "BOOKED"
	CampaignLeadDeclined  CampaignLeadStatus = "DECLINED"
	CampaignLeadRemoved   CampaignLeadStatus = "REMOVED"
)

// CampaignLeadStatuses lists every workflow state.
var CampaignLeadStatuses = []CampaignLeadStatus{
	CampaignLeadPending, CampaignLeadContacted, CampaignLeadOpened, CampaignLeadClicked,
	CampaignLeadResponded, CampaignLeadBooked, CampaignLeadDeclined, CampaignLeadRemoved,
}

// Booking is a booked service.
type Booking struct {
	ID          string                `json:"id" db:"id"`
	LeadID      string                `json:"lead_id" db:"lead_id"`
	ServiceType recommend.ServiceType `json:"service_type" db:"service_type"`
	Status      BookingStatus         `json:"status" db:"status"`
	Location    string                `json:"location,omitempty" db:"location"`
}

// Inquiry is a lead's request for a quote.
type Inquiry struct {
	ID        string        `json:"id" db:"id"`
	LeadID    string        `json:"lead_id" db:"lead_id"`
	Status    InquiryStatus `json:"status" db:"status"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// Campaign is a geographic outreach campaign around a center point.
type Campaign struct {
	ID           string   `json:"id" db:"id" validate:"required"`
	Name         string   `json:"name" db:"name"`
	BaseLocation string   `json:"base_location" db:"base_location"`
	Latitude     float64  `json:"latitude" db:"latitude" validate:"gte=-90,lte=90"`
	Longitude    float64  `json:"longitude" db:"longitude" validate:"gte=-180,lte=180"`
	Radius       float64  `json:"radius" db:"radius" validate:"gt=0"`
	Booking      *Booking `json:"booking,omitempty"`
}

var validate = validator.New()

// Validate checks the campaign's center and radius.
func (c Campaign) Validate() error {
	if err := validate.Struct(c); err != nil {
		return eris.Wrapf(err, "discovery: invalid campaign %s", c.ID)
	}
	return nil
}

// Center returns the campaign's center point.
func (c Campaign) Center() geo.Point {
	return geo.Point{Lat: c.Latitude, Lon: c.Longitude}
}

// ServiceType returns the triggering booking's service type, or "".
func (c Campaign) ServiceType() recommend.ServiceType {
	if c.Booking == nil {
		return ""
	}
	return c.Booking.ServiceType
}

// Lead is a contact that may be surfaced for a campaign.
type Lead struct {
	ID              string     `json:"id" db:"id"`
	FirstName       string     `json:"first_name" db:"first_name"`
	LastName        string     `json:"last_name" db:"last_name"`
	Email           string     `json:"email" db:"email"`
	Phone           string     `json:"phone,omitempty" db:"phone"`
	Organization    string     `json:"organization,omitempty" db:"organization"`
	Status          LeadStatus `json:"status" db:"status"`
	Score           int        `json:"score" db:"score"`
	Latitude        *float64   `json:"latitude,omitempty" db:"latitude"`
	Longitude       *float64   `json:"longitude,omitempty" db:"longitude"`
	LastContactedAt *time.Time `json:"last_contacted_at,omitempty" db:"last_contacted_at"`
	Source          string     `json:"source,omitempty" db:"source"`
	Bookings        []Booking  `json:"bookings,omitempty"`
	Inquiries       []Inquiry  `json:"inquiries,omitempty"`
}

// Point returns the lead's location, or false when it has none.
func (l Lead) Point() (geo.Point, bool) {
	if l.Latitude == nil || l.Longitude == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *l.Latitude, Lon: *l.Longitude}, true
}

// PastServices returns the service types of completed or confirmed bookings.
func (l Lead) PastServices() []recommend.ServiceType {
	var out []recommend.ServiceType
	for _, b := range l.Bookings {
		if b.Status == BookingCompleted || b.Status == BookingConfirmed {
			out = append(out, b.ServiceType)
		}
	}
	return out
}

// Contact returns the lead's template contact fields.
func (l Lead) Contact() recommend.Contact {
	return recommend.Contact{
		FirstName:    l.FirstName,
		LastName:     l.LastName,
		Organization: l.Organization,
		Email:        l.Email,
		Phone:        l.Phone,
	}
}

// Candidate is a lead found by a collector for one discovery run.
type Candidate struct {
	Lead     Lead         `json:"lead"`
	Distance float64      `json:"distance"`
	Source   Source       `json:"source"`
	OrgType  orgtype.Type `json:"org_type,omitempty"`

	Recommendations     []recommend.Match `json:"recommendations,omitempty"`
	RecommendationBonus int               `json:"recommendation_bonus"`
	Score               int               `json:"score"`
}

// CampaignLead is a persisted association between a campaign and a lead.
type CampaignLead struct {
	ID                   string             `json:"id" db:"id"`
	CampaignID           string             `json:"campaign_id" db:"campaign_id"`
	LeadID               string             `json:"lead_id" db:"lead_id"`
	Score                int                `json:"score" db:"score"`
	Distance             float64            `json:"distance" db:"distance"`
	Source               Source             `json:"source" db:"source"`
	Status               CampaignLeadStatus `json:"status" db:"status"`
	RecommendedServices  []string           `json:"recommended_services,omitempty" db:"recommended_services"`
	RecommendationReason string             `json:"recommendation_reason,omitempty" db:"recommendation_reason"`
	RecommendationScore  *int               `json:"recommendation_score,omitempty" db:"recommendation_score"`
	CreatedAt            time.Time          `json:"created_at" db:"created_at"`

	// Lead is populated by ListCampaignLeads.
	Lead *Lead `json:"lead,omitempty"`
}

// Dormancy selects leads that went cold: last contacted before
// ContactedBefore, or holding an inquiry in one of InquiryStatuses.
type Dormancy struct {
	ContactedBefore time.Time
	InquiryStatuses []InquiryStatus
}

// LeadQuery filters leads. Leads without coordinates never match.
type LeadQuery struct {
	Box geo.BoundingBox

	// Statuses, when set, keeps leads in one of these statuses.
	Statuses []LeadStatus
	// ExcludeStatuses drops leads in any of these statuses.
	ExcludeStatuses []LeadStatus
	// OrganizationKeywords, when set, keeps leads whose organization contains
	// any keyword, case-insensitively.
	OrganizationKeywords []string
	// Dormant, when set, keeps only cold leads.
	Dormant *Dormancy
}
