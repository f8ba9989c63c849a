package recommend

import "strings"

// MaxPitchPoints caps the pitch points exposed to templates.
const MaxPitchPoints = 5

// TemplateVars are the recommendation variables available to message
// templates.
type TemplateVars struct {
	RecommendedServices  []string `json:"recommended_services"`
	RecommendationReason string   `json:"recommendation_reason"`
	PitchPoints          []string `json:"pitch_points"`
	TopRecommendation    string   `json:"top_recommendation"`
}

// BuildReason returns the top match's reason, or "".
func BuildReason(matches []Match) string {
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Reason
}

// FormatForTemplate flattens matches into template variables.
func FormatForTemplate(matches []Match) TemplateVars {
	vars := TemplateVars{
		RecommendedServices: []string{},
		PitchPoints:         []string{},
	}
	if len(matches) == 0 {
		return vars
	}

	for _, m := range matches {
		vars.RecommendedServices = append(vars.RecommendedServices, FormatServiceType(m.ServiceType))
	}
	vars.RecommendationReason = BuildReason(matches)
	vars.PitchPoints = uniquePitchPoints(matches)
	vars.TopRecommendation = FormatServiceType(matches[0].ServiceType)
	return vars
}

func uniquePitchPoints(matches []Match) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, m := range matches {
		for _, p := range m.PitchPoints {
			if seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
			if len(out) == MaxPitchPoints {
				return out
			}
		}
	}
	return out
}

// Contact is the lead data a template can reference.
type Contact struct {
	FirstName    string
	LastName     string
	Organization string
	Email        string
	Phone        string
}

// TemplateContext is the full variable set for rendering an outreach message.
type TemplateContext struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Organization string `json:"organization"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`

	TemplateVars
	HasRecommendations bool `json:"has_recommendations"`
}

// BuildTemplateContext combines contact fields with fresh matches.
func BuildTemplateContext(c Contact, matches []Match) TemplateContext {
	return TemplateContext{
		FirstName:          c.FirstName,
		LastName:           c.LastName,
		Organization:       organizationOrName(c),
		Email:              c.Email,
		Phone:              c.Phone,
		TemplateVars:       FormatForTemplate(matches),
		HasRecommendations: len(matches) > 0,
	}
}

// ContextFromCampaignLead rebuilds a context from recommendations stored on a
// campaign lead. Pitch points are not stored, so none are returned.
func ContextFromCampaignLead(c Contact, services []string, reason string) TemplateContext {
	formatted := make([]string, 0, len(services))
	for _, s := range services {
		formatted = append(formatted, FormatServiceType(ServiceType(s)))
	}

	ctx := TemplateContext{
		FirstName:    c.FirstName,
		LastName:     c.LastName,
		Organization: organizationOrName(c),
		Email:        c.Email,
		Phone:        c.Phone,
		TemplateVars: TemplateVars{
			RecommendedServices:  formatted,
			RecommendationReason: reason,
			PitchPoints:          []string{},
		},
		HasRecommendations: len(services) > 0,
	}
	if len(formatted) > 0 {
		ctx.TopRecommendation = formatted[0]
	}
	return ctx
}

func organizationOrName(c Contact) string {
	if strings.TrimSpace(c.Organization) != "" {
		return c.Organization
	}
	return c.FirstName + " " + c.LastName
}
