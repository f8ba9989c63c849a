// Package recommend matches leads to follow-up services using weighted rules
// and turns the matches into score bonuses and template variables.
package recommend

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/outreach-cli/internal/orgtype"
)

// ServiceType is a bookable service.
type ServiceType string

// Service types.
const (
	Arrangement        ServiceType = "ARRANGEMENT"
	GroupCoaching      ServiceType = "GROUP_COACHING"
	IndividualCoaching ServiceType = "INDIVIDUAL_COACHING"
	Workshop           ServiceType = "WORKSHOP"
	Speaking           ServiceType = "SPEAKING"
	Masterclass        ServiceType = "MASTERCLASS"
	Consultation       ServiceType = "CONSULTATION"
)

// ServiceTypes lists every service type.
var ServiceTypes = []ServiceType{
	Arrangement, GroupCoaching, IndividualCoaching, Workshop, Speaking, Masterclass, Consultation,
}

// ParseServiceType validates s as a service type.
func ParseServiceType(s string) (ServiceType, bool) {
	st := ServiceType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range ServiceTypes {
		if st == known {
			return st, true
		}
	}
	return "", false
}

// FormatServiceType renders a service type for display: GROUP_COACHING
// becomes "Group Coaching".
func FormatServiceType(st ServiceType) string {
	words := strings.ReplaceAll(strings.ToLower(string(st)), "_", " ")
	return cases.Title(language.English).String(words)
}

// Rule maps a trigger to a recommended service. A rule is triggered either by
// a previously booked service or by organization types, never both.
type Rule struct {
	ID                 string         `json:"id" yaml:"id,omitempty"`
	Name               string         `json:"name" yaml:"name" validate:"required"`
	TriggerServiceType *ServiceType   `json:"trigger_service_type,omitempty" yaml:"trigger_service_type,omitempty" validate:"omitempty,oneof=ARRANGEMENT GROUP_COACHING INDIVIDUAL_COACHING WORKSHOP SPEAKING MASTERCLASS CONSULTATION"`
	RecommendedService ServiceType    `json:"recommended_service" yaml:"recommended_service" validate:"required,oneof=ARRANGEMENT GROUP_COACHING INDIVIDUAL_COACHING WORKSHOP SPEAKING MASTERCLASS CONSULTATION"`
	OrgTypes           []orgtype.Type `json:"org_types,omitempty" yaml:"org_types,omitempty"`
	Weight             float64        `json:"weight" yaml:"weight" validate:"gte=0.5,lte=2"`
	Priority           int            `json:"priority" yaml:"priority" validate:"gte=1,lte=10"`
	PitchPoints        []string       `json:"pitch_points" yaml:"pitch_points"`
	MessageTemplate    string         `json:"message_template,omitempty" yaml:"message_template,omitempty"`
	Active             bool           `json:"active" yaml:"active"`
}

var validate = validator.New()

// Validate checks field bounds and the trigger/org-types invariant.
func (r Rule) Validate() error {
	if err := validate.Struct(r); err != nil {
		return eris.Wrapf(err, "recommend: invalid rule %q", r.Name)
	}

	hasTrigger := r.TriggerServiceType != nil
	hasOrgTypes := len(r.OrgTypes) > 0
	switch {
	case hasTrigger && hasOrgTypes:
		return eris.Errorf("recommend: rule %q sets both a trigger service and org types", r.Name)
	case !hasTrigger && !hasOrgTypes:
		return eris.Errorf("recommend: rule %q needs a trigger service or org types", r.Name)
	}

	for _, t := range r.OrgTypes {
		if _, ok := orgtype.Parse(string(t)); !ok || t == orgtype.Unknown {
			return eris.Errorf("recommend: rule %q has unknown org type %q", r.Name, t)
		}
	}
	return nil
}

// IsServiceTriggered reports whether the rule fires on a booked service.
func (r Rule) IsServiceTriggered() bool {
	return r.TriggerServiceType != nil
}

// AppliesToOrg reports whether t is one of the rule's org types.
func (r Rule) AppliesToOrg(t orgtype.Type) bool {
	for _, ot := range r.OrgTypes {
		if ot == t {
			return true
		}
	}
	return false
}

func servicePtr(st ServiceType) *ServiceType { return &st }
