package recommend

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/outreach-cli/internal/orgtype"
)

// RuleStore persists rules.
type RuleStore interface {
	RuleSource
	ListRuleNames(ctx context.Context) ([]string, error)
	InsertRules(ctx context.Context, rules []Rule) (int64, error)
	DeleteRules(ctx context.Context) (int64, error)
}

func serviceRule(trigger, recommended ServiceType, weight float64, priority int, pitch ...string) Rule {
	return Rule{
		Name:               FormatServiceType(trigger) + " → " + FormatServiceType(recommended),
		TriggerServiceType: servicePtr(trigger),
		RecommendedService: recommended,
		Weight:             weight,
		Priority:           priority,
		PitchPoints:        pitch,
		Active:             true,
	}
}

func orgRule(name string, orgTypes []orgtype.Type, recommended ServiceType, weight float64, priority int, pitch ...string) Rule {
	return Rule{
		Name:               name,
		RecommendedService: recommended,
		OrgTypes:           orgTypes,
		Weight:             weight,
		Priority:           priority,
		PitchPoints:        pitch,
		Active:             true,
	}
}

// DefaultRules returns the built-in rule set: service-to-service rules
// followed by organization rules.
func DefaultRules() []Rule {
	return []Rule{
		serviceRule(Workshop, Masterclass, 1.5, 8,
			"Deeper dive into advanced techniques", "Certification opportunity",
			"Intensive learning experience", "Perfect for ensemble leaders"),
		serviceRule(Speaking, Workshop, 1.3, 7,
			"Hands-on learning for your team", "Team building opportunity",
			"Practical skills development", "Interactive follow-up"),
		serviceRule(Masterclass, IndividualCoaching, 1.2, 6,
			"Personalized guidance", "One-on-one attention",
			"Tailored to your specific needs", "Accelerated skill development"),
		serviceRule(Workshop, GroupCoaching, 1.2, 7,
			"Ongoing support for your ensemble", "Regular progress check-ins",
			"Long-term skill building", "Ensemble cohesion"),
		serviceRule(GroupCoaching, Speaking, 1.1, 5,
			"Inspire your broader community", "Share success stories",
			"Motivational presentation", "Event centerpiece"),
		serviceRule(Consultation, Workshop, 1.3, 7,
			"Put consultation insights into action", "Team implementation support",
			"Practical skill-building", "Natural next step"),
		serviceRule(Speaking, Consultation, 1.0, 5,
			"Strategic planning session", "Customized roadmap",
			"Expert guidance", "Organizational assessment"),
		serviceRule(Arrangement, Workshop, 1.0, 5,
			"Learn arrangement techniques", "Bring arrangements to life",
			"Performance preparation", "Vocal skill development"),

		orgRule("University/College → Group Coaching",
			[]orgtype.Type{orgtype.University, orgtype.College}, GroupCoaching, 1.2, 6,
			"Student ensemble development", "Semester-long support",
			"Performance preparation", "Competition readiness"),
		orgRule("University/College → Masterclass",
			[]orgtype.Type{orgtype.University, orgtype.College}, Masterclass, 1.3, 7,
			"Advanced vocal techniques", "Student enrichment",
			"Guest artist experience", "Educational excellence"),
		orgRule("High School → Workshop",
			[]orgtype.Type{orgtype.HighSchool}, Workshop, 1.3, 7,
			"Student engagement", "Curriculum alignment",
			"Fun and educational", "Performance skills"),
		orgRule("Church → Arrangement",
			[]orgtype.Type{orgtype.Church, orgtype.Synagogue, orgtype.Temple, orgtype.Mosque}, Arrangement, 1.1, 6,
			"Custom sacred music", "Perfect for your choir",
			"Worship enhancement", "Congregation engagement"),
		orgRule("Corporate → Speaking",
			[]orgtype.Type{orgtype.Corporate}, Speaking, 1.2, 7,
			"Team inspiration", "Leadership insights",
			"Conference highlight", "Professional development"),
		orgRule("Conservatory → Individual Coaching",
			[]orgtype.Type{orgtype.Conservatory, orgtype.MusicSchool}, IndividualCoaching, 1.2, 6,
			"Professional development", "Career guidance",
			"Technical mastery", "Industry insights"),
		orgRule("Community Group → Workshop",
			[]orgtype.Type{orgtype.CommunityCenter, orgtype.Choir, orgtype.Nonprofit}, Workshop, 1.0, 5,
			"Community building", "Accessible learning",
			"Group bonding", "Fun for all levels"),
		orgRule("Theatre → Speaking",
			[]orgtype.Type{orgtype.Theatre, orgtype.Theater, orgtype.PerformingArts}, Speaking, 1.1, 6,
			"Vocal performance insights", "Industry expertise",
			"Artistic inspiration", "Professional perspective"),
		orgRule("Festival/Conference → Speaking",
			[]orgtype.Type{orgtype.Festival, orgtype.Conference, orgtype.Convention}, Speaking, 1.3, 8,
			"Keynote presentation", "Event highlight",
			"Attendee engagement", "Industry thought leadership"),
		orgRule("Arts Center → Workshop",
			[]orgtype.Type{orgtype.ArtsCenter, orgtype.PerformingArts}, Workshop, 1.1, 6,
			"Community engagement", "Arts education",
			"Public programming", "Artist development"),
	}
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRulesFile reads rules from a YAML file with a top-level "rules" list.
// Rules default to active unless the file says otherwise.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "recommend: read rules file %s", path)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rule list.
func ParseRules(data []byte) ([]Rule, error) {
	var raw struct {
		Rules []yaml.Node `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "recommend: parse rules")
	}

	rules := make([]Rule, 0, len(raw.Rules))
	for i := range raw.Rules {
		r := Rule{Active: true}
		if err := raw.Rules[i].Decode(&r); err != nil {
			return nil, eris.Wrapf(err, "recommend: decode rule %d", i)
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// MarshalRules encodes rules in the format ParseRules reads.
func MarshalRules(rules []Rule) ([]byte, error) {
	out, err := yaml.Marshal(ruleFile{Rules: rules})
	if err != nil {
		return nil, eris.Wrap(err, "recommend: marshal rules")
	}
	return out, nil
}

// SeedResult reports a seeding run.
type SeedResult struct {
	Created int64 `json:"created"`
	Skipped int   `json:"skipped"`
	Cleared int64 `json:"cleared"`
}

// Seed inserts rules whose names are not already stored. With clear set, all
// existing rules are deleted first.
func Seed(ctx context.Context, store RuleStore, rules []Rule, clear bool) (*SeedResult, error) {
	res := &SeedResult{}
	log := zap.L().With(zap.String("component", "recommend.seed"))

	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}

	if clear {
		n, err := store.DeleteRules(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "recommend: clear rules")
		}
		res.Cleared = n
		log.Info("cleared existing rules", zap.Int64("count", n))
	}

	names, err := store.ListRuleNames(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "recommend: list rule names")
	}
	existing := make(map[string]bool, len(names))
	for _, n := range names {
		existing[n] = true
	}

	var toInsert []Rule
	for _, r := range rules {
		if existing[r.Name] {
			log.Debug("skipping existing rule", zap.String("name", r.Name))
			res.Skipped++
			continue
		}
		existing[r.Name] = true
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		toInsert = append(toInsert, r)
	}

	if len(toInsert) > 0 {
		n, err := store.InsertRules(ctx, toInsert)
		if err != nil {
			return nil, eris.Wrap(err, "recommend: insert rules")
		}
		res.Created = n
	}

	log.Info("seeded recommendation rules",
		zap.Int64("created", res.Created),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

// Summary counts rules by kind and priority band.
type Summary struct {
	Total            int `json:"total"`
	ServiceToService int `json:"service_to_service"`
	OrgBased         int `json:"org_based"`
	ByPriority       struct {
		High   int `json:"high"`
		Medium int `json:"medium"`
		Low    int `json:"low"`
	} `json:"by_priority"`
}

// Summarize counts rules. High priority is 8+, medium 5-7, low below 5.
func Summarize(rules []Rule) Summary {
	var s Summary
	s.Total = len(rules)
	for _, r := range rules {
		if r.IsServiceTriggered() {
			s.ServiceToService++
		} else {
			s.OrgBased++
		}
		switch {
		case r.Priority >= 8:
			s.ByPriority.High++
		case r.Priority >= 5:
			s.ByPriority.Medium++
		default:
			s.ByPriority.Low++
		}
	}
	return s
}
