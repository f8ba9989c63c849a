package discovery

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/outreach-cli/internal/recommend"
)

// mockStore is an in-memory Store. FindLeads applies LeadQuery the way the
// SQL stores do.
type mockStore struct {
	mu sync.Mutex

	campaigns     map[string]*Campaign
	leads         []Lead
	campaignLeads []CampaignLead
	rules         []recommend.Rule

	queries     []LeadQuery
	upserted    []Lead
	insertCalls int
	findErr     error
	insertErr   error
	existingErr error
}

func newMockStore() *mockStore {
	return &mockStore{campaigns: make(map[string]*Campaign)}
}

func (m *mockStore) addLead(l Lead) Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	m.leads = append(m.leads, l)
	return l
}

func (m *mockStore) GetCampaign(_ context.Context, id string) (*Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockStore) FindLeads(_ context.Context, q LeadQuery) ([]Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []Lead
	for _, l := range m.leads {
		if matchesQuery(l, q) {
			out = append(out, l)
		}
	}
	return out, nil
}

func matchesQuery(l Lead, q LeadQuery) bool {
	p, ok := l.Point()
	if !ok || !q.Box.Contains(p) {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, l.Status) {
		return false
	}
	if slices.Contains(q.ExcludeStatuses, l.Status) {
		return false
	}
	if len(q.OrganizationKeywords) > 0 {
		org := strings.ToLower(l.Organization)
		found := false
		for _, kw := range q.OrganizationKeywords {
			if strings.Contains(org, strings.ToLower(kw)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if d := q.Dormant; d != nil {
		cold := l.LastContactedAt != nil && l.LastContactedAt.Before(d.ContactedBefore)
		for _, inq := range l.Inquiries {
			if slices.Contains(d.InquiryStatuses, inq.Status) {
				cold = true
			}
		}
		if !cold {
			return false
		}
	}
	return true
}

func (m *mockStore) FindLeadsByOrganization(_ context.Context, orgs []string) (map[string]Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Lead)
	for _, o := range orgs {
		key := strings.ToLower(o)
		for _, l := range m.leads {
			if strings.ToLower(l.Organization) == key {
				out[key] = l
				break
			}
		}
	}
	return out, nil
}

func (m *mockStore) UpsertLeads(_ context.Context, leads []Lead) ([]Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Lead, len(leads))
	for i, l := range leads {
		m.upserted = append(m.upserted, l)
		idx := slices.IndexFunc(m.leads, func(x Lead) bool { return x.Email == l.Email })
		if idx >= 0 {
			l.ID = m.leads[idx].ID
		} else {
			if l.ID == "" {
				l.ID = uuid.NewString()
			}
			m.leads = append(m.leads, l)
		}
		out[i] = l
	}
	return out, nil
}

func (m *mockStore) ExistingCampaignLeadIDs(_ context.Context, campaignID string, leadIDs []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existingErr != nil {
		return nil, m.existingErr
	}
	out := make(map[string]bool)
	for _, cl := range m.campaignLeads {
		if cl.CampaignID == campaignID && slices.Contains(leadIDs, cl.LeadID) {
			out[cl.LeadID] = true
		}
	}
	return out, nil
}

func (m *mockStore) InsertCampaignLeads(_ context.Context, cls []CampaignLead) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.campaignLeads = append(m.campaignLeads, cls...)
	return int64(len(cls)), nil
}

func (m *mockStore) DeleteCampaignLeads(_ context.Context, campaignID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []CampaignLead
	var n int64
	for _, cl := range m.campaignLeads {
		if cl.CampaignID == campaignID {
			n++
			continue
		}
		kept = append(kept, cl)
	}
	m.campaignLeads = kept
	return n, nil
}

func (m *mockStore) ListCampaignLeads(_ context.Context, campaignID string) ([]CampaignLead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CampaignLead
	for _, cl := range m.campaignLeads {
		if cl.CampaignID == campaignID {
			out = append(out, cl)
		}
	}
	return out, nil
}

func (m *mockStore) ListActiveRules(context.Context) ([]recommend.Rule, error) {
	return m.rules, nil
}

func (m *mockStore) ListRuleNames(context.Context) ([]string, error) {
	var names []string
	for _, r := range m.rules {
		names = append(names, r.Name)
	}
	return names, nil
}

func (m *mockStore) InsertRules(_ context.Context, rules []recommend.Rule) (int64, error) {
	m.rules = append(m.rules, rules...)
	return int64(len(rules)), nil
}

func (m *mockStore) DeleteRules(context.Context) (int64, error) {
	n := int64(len(m.rules))
	m.rules = nil
	return n, nil
}

func (m *mockStore) Migrate(context.Context) error { return nil }
func (m *mockStore) Close() error                  { return nil }

var _ Store = (*mockStore)(nil)

// Fixtures around San Francisco.
var (
	testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	sf      = [2]float64{37.7749, -122.4194}
	oakland = [2]float64{37.8044, -122.2712}
	la      = [2]float64{34.0522, -118.2437}
)

func testCampaign() *Campaign {
	return &Campaign{
		ID:           "camp-1",
		Name:         "Bay Area Spring",
		BaseLocation: "San Francisco, CA",
		Latitude:     sf[0],
		Longitude:    sf[1],
		Radius:       50,
	}
}

func leadAt(email string, at [2]float64, status LeadStatus) Lead {
	lat, lon := at[0], at[1]
	return Lead{
		FirstName: "Test",
		LastName:  email,
		Email:     email,
		Status:    status,
		Latitude:  &lat,
		Longitude: &lon,
	}
}

func timePtr(t time.Time) *time.Time { return &t }
