package recommend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/orgtype"
)

type memRuleStore struct {
	rules     []Rule
	insertErr error
}

func (m *memRuleStore) ListActiveRules(context.Context) ([]Rule, error) {
	var out []Rule
	for _, r := range m.rules {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRuleStore) ListRuleNames(context.Context) ([]string, error) {
	names := make([]string, 0, len(m.rules))
	for _, r := range m.rules {
		names = append(names, r.Name)
	}
	return names, nil
}

func (m *memRuleStore) InsertRules(_ context.Context, rules []Rule) (int64, error) {
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.rules = append(m.rules, rules...)
	return int64(len(rules)), nil
}

func (m *memRuleStore) DeleteRules(context.Context) (int64, error) {
	n := int64(len(m.rules))
	m.rules = nil
	return n, nil
}

func TestDefaultRules_Valid(t *testing.T) {
	rules := DefaultRules()
	require.Len(t, rules, 18)
	names := map[string]bool{}
	for _, r := range rules {
		require.NoError(t, r.Validate(), r.Name)
		assert.False(t, names[r.Name], "duplicate name %s", r.Name)
		names[r.Name] = true
		assert.Len(t, r.PitchPoints, 4)
	}
	assert.Equal(t, "Workshop → Masterclass", rules[0].Name)
	assert.Equal(t, "Masterclass → Individual Coaching", rules[2].Name)
}

func TestSummarize(t *testing.T) {
	s := Summarize(DefaultRules())
	assert.Equal(t, 18, s.Total)
	assert.Equal(t, 8, s.ServiceToService)
	assert.Equal(t, 10, s.OrgBased)
	assert.Equal(t, 2, s.ByPriority.High)
	assert.Equal(t, 16, s.ByPriority.Medium)
	assert.Equal(t, 0, s.ByPriority.Low)
}

func TestSeed_SkipsExisting(t *testing.T) {
	store := &memRuleStore{rules: []Rule{{Name: "Workshop → Masterclass", Active: true}}}

	res, err := Seed(context.Background(), store, DefaultRules(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(17), res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, store.rules, 18)
	for _, r := range store.rules[1:] {
		assert.NotEmpty(t, r.ID)
	}

	res, err = Seed(context.Background(), store, DefaultRules(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Created)
	assert.Equal(t, 18, res.Skipped)
}

func TestSeed_Clear(t *testing.T) {
	store := &memRuleStore{rules: []Rule{{Name: "Workshop → Masterclass"}, {Name: "custom"}}}

	res, err := Seed(context.Background(), store, DefaultRules(), true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Cleared)
	assert.Equal(t, int64(18), res.Created)
	assert.Len(t, store.rules, 18)
}

func TestSeed_InvalidRule(t *testing.T) {
	store := &memRuleStore{}
	_, err := Seed(context.Background(), store, []Rule{{Name: "broken", RecommendedService: Workshop, Weight: 1, Priority: 5}}, true)
	require.Error(t, err)
	assert.Empty(t, store.rules)
}

func TestSeed_InsertError(t *testing.T) {
	store := &memRuleStore{insertErr: errors.New("constraint")}
	_, err := Seed(context.Background(), store, DefaultRules(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recommend: insert rules")
}

func TestParseRules(t *testing.T) {
	data := []byte(`
rules:
  - name: Choir to Workshop
    org_types: [CHOIR]
    recommended_service: WORKSHOP
    weight: 1.1
    priority: 6
    pitch_points: ["Group bonding"]
  - name: Workshop to Speaking
    trigger_service_type: WORKSHOP
    recommended_service: SPEAKING
    weight: 1.0
    priority: 4
    active: false
`)
	rules, err := ParseRules(data)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, []orgtype.Type{orgtype.Choir}, rules[0].OrgTypes)
	assert.True(t, rules[0].Active)
	require.NotNil(t, rules[1].TriggerServiceType)
	assert.Equal(t, Workshop, *rules[1].TriggerServiceType)
	assert.False(t, rules[1].Active)
}

func TestParseRules_Invalid(t *testing.T) {
	_, err := ParseRules([]byte("rules:\n  - name: x\n    recommended_service: WORKSHOP\n    weight: 1\n    priority: 5\n"))
	require.Error(t, err)

	_, err = ParseRules([]byte("rules: [\n"))
	require.Error(t, err)
}

func TestLoadRulesFile_RoundTripsDefaults(t *testing.T) {
	data, err := MarshalRules(DefaultRules())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	rules, err := LoadRulesFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)
}

func TestLoadRulesFile_Missing(t *testing.T) {
	_, err := LoadRulesFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
