package discovery

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/geo"
	"github.com/sells-group/outreach-cli/internal/orgtype"
	"github.com/sells-group/outreach-cli/internal/recommend"
)

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func mustBox(t *testing.T) geo.BoundingBox {
	t.Helper()
	box, err := geo.NewBoundingBox(geo.Point{Lat: sf[0], Lon: sf[1]}, 50)
	require.NoError(t, err)
	return box
}

var leadCols = []string{
	"id", "first_name", "last_name", "email", "phone", "organization", "status", "score",
	"latitude", "longitude", "last_contacted_at", "source",
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestPostgresStore_GetCampaign(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresStore(mock)

	mock.ExpectQuery(`FROM campaigns c\s+LEFT JOIN bookings b`).
		WithArgs("camp-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "base_location", "latitude", "longitude", "radius",
			"b.id", "lead_id", "service_type", "status", "location",
		}).AddRow("camp-1", "Spring", "San Francisco, CA", 37.7749, -122.4194, 50.0,
			strPtr("bk-1"), strPtr("lead-9"), strPtr("WORKSHOP"), strPtr("CONFIRMED"), strPtr("Grace Cathedral, San Francisco")))

	c, err := store.GetCampaign(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, "San Francisco, CA", c.BaseLocation)
	assert.Equal(t, 50.0, c.Radius)
	require.NotNil(t, c.Booking)
	assert.Equal(t, recommend.Workshop, c.Booking.ServiceType)
	assert.Equal(t, BookingConfirmed, c.Booking.Status)
	assert.Equal(t, "Grace Cathedral, San Francisco", c.Booking.Location)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCampaign_NotFound(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresStore(mock)

	mock.ExpectQuery(`FROM campaigns c`).WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	_, err := store.GetCampaign(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrCampaignNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCampaign_Error(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresStore(mock)

	mock.ExpectQuery(`FROM campaigns c`).WithArgs("camp-1").WillReturnError(errors.New("conn reset"))

	_, err := store.GetCampaign(context.Background(), "camp-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCampaignNotFound)
}

func TestPostgresStore_FindLeads(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresStore(mock)

	box := mustBox(t)
	contacted := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM leads WHERE latitude IS NOT NULL AND longitude IS NOT NULL AND latitude BETWEEN $1 AND $2 AND longitude BETWEEN $3 AND $4 AND status IN ($5, $6) ORDER BY created_at, id`)).
		WithArgs(box.MinLat, box.MaxLat, box.MinLon, box.MaxLon, "WON", "COMPLETED").
		WillReturnRows(pgxmock.NewRows(leadCols).
			AddRow("lead-1", "Ada", "Lovelace", "ada@x.com", "555", "Oakland Choir", LeadWon, 0,
				floatPtr(37.8), floatPtr(-122.27), &contacted, "import"))

	mock.ExpectQuery(regexp.QuoteMeta(`FROM bookings WHERE lead_id = ANY($1)`)).
		WithArgs([]string{"lead-1"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "lead_id", "service_type", "status", "location"}).
			AddRow("bk-1", "lead-1", recommend.Workshop, BookingCompleted, "Oakland"))

	mock.ExpectQuery(regexp.QuoteMeta(`FROM inquiries WHERE lead_id = ANY($1)`)).
		WithArgs([]string{"lead-1"}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "lead_id", "status", "created_at"}).
			AddRow("inq-1", "lead-1", InquiryAccepted, contacted))

	leads, err := store.FindLeads(context.Background(), LeadQuery{Box: box, Statuses: closedStatuses})
	require.NoError(t, err)
	require.Len(t, leads, 1)

	l := leads[0]
	assert.Equal(t, "Oakland Choir", l.Organization)
	require.NotNil(t, l.Latitude)
	assert.Equal(t, 37.8, *l.Latitude)
	assert.Equal(t, contacted, *l.LastContactedAt)
	require.Len(t, l.Bookings, 1)
	assert.Equal(t, recommend.Workshop, l.Bookings[0].ServiceType)
	require.Len(t, l.Inquiries, 1)
	assert.Equal(t, InquiryAccepted, l.Inquiries[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindLeads_Empty(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresStore(mock)

	box := mustBox(t)
	mock.ExpectQuery(`FROM leads WHERE`).
		WithArgs(box.MinLat, box.MaxLat, box.MinLon, box.MaxLon).
		WillReturnRows(pgxmock.NewRows(leadCols))

	leads, err := store.FindLeads(context.Background(), LeadQuery{Box: box})
	require.NoError(t, err)
	assert.Empty(t, leads)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindLeadsByOrganization(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresStore(mock)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE LOWER(organization) = ANY($1)`)).
		WithArgs([]string{"golden gate chorus", "mission choir"}).
		WillReturnRows(pgxmock.NewRows(leadCols).
			AddRow("lead-1", "A", "B", "a@gg.org", "", "Golden Gate Chorus", LeadNew, 0,
				(*float64)(nil), (*float64)(nil), (*time.Time)(nil), "").
			AddRow("lead-2", "C", "D", "c@gg.org", "", "golden gate chorus", LeadNew, 0,
				(*float64)(nil), (*float64)(nil), (*time.Time)(nil), ""))

	got, err := store.FindLeadsByOrganization(context.Background(), []string{"Golden Gate Chorus", "Mission Choir"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "lead-1", got["golden gate chorus"].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertLeads(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresStore(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_leads"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_leads"}, []string{
		"id", "first_name", "last_name", "email", "phone", "organization",
		"status", "score", "latitude", "longitude", "geom", "source",
	}).WillReturnResult(1)
	mock.ExpectQuery(regexp.QuoteMeta(`ON CONFLICT ("email") DO UPDATE SET "organization" = EXCLUDED."organization"`)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "email"}).AddRow("stored-id", "contact@choir.placeholder.local"))
	mock.ExpectCommit()

	lat, lon := 37.78, -122.41
	out, err := store.UpsertLeads(context.Background(), []Lead{{
		FirstName: "Contact", LastName: "at Choir", Email: "contact@choir.placeholder.local",
		Organization: "Choir", Latitude: &lat, Longitude: &lon,
	}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "stored-id", out[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertLeads_Empty(t *testing.T) {
	mock := newMockPool(t)
	out, err := NewPostgresStore(mock).UpsertLeads(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExistingCampaignLeadIDs(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresStore(mock)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT lead_id FROM campaign_leads WHERE campaign_id = $1 AND lead_id = ANY($2)`)).
		WithArgs("camp-1", []string{"l1", "l2"}).
		WillReturnRows(pgxmock.NewRows([]string{"lead_id"}).AddRow("l2"))

	got, err := store.ExistingCampaignLeadIDs(context.Background(), "camp-1", []string{"l1", "l2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"l2": true}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExistingCampaignLeadIDs_NoIDs(t *testing.T) {
	mock := newMockPool(t)
	got, err := NewPostgresStore(mock).ExistingCampaignLeadIDs(context.Background(), "camp-1", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertCampaignLeads(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresStore(mock)

	mock.ExpectCopyFrom(pgx.Identifier{"campaign_leads"}, campaignLeadColumns).WillReturnResult(2)

	n, err := store.InsertCampaignLeads(context.Background(), []CampaignLead{
		{ID: "cl-1", CampaignID: "camp-1", LeadID: "l1", Score: 90, Source: SourcePastClient, Status: CampaignLeadPending,
			RecommendedServices: []string{"MASTERCLASS"}, RecommendationScore: intPtr(12)},
		{ID: "cl-2", CampaignID: "camp-1", LeadID: "l2", Score: 40, Source: SourceDormant, Status: CampaignLeadPending},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertCampaignLeads_Error(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresStore(mock)

	mock.ExpectCopyFrom(pgx.Identifier{"campaign_leads"}, campaignLeadColumns).
		WillReturnError(errors.New("duplicate key"))

	_, err := store.InsertCampaignLeads(context.Background(), []CampaignLead{{ID: "cl-1"}})
	assert.ErrorContains(t, err, "insert campaign leads")
}

func TestPostgresStore_DeleteCampaignLeads(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresStore(mock)

	mock.ExpectExec(`DELETE FROM campaign_leads WHERE campaign_id = \$1`).
		WithArgs("camp-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := store.DeleteCampaignLeads(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCampaignLeads(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresStore(mock)
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM campaign_leads cl\s+JOIN leads l`).
		WithArgs("camp-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "campaign_id", "lead_id", "score", "distance", "source", "status",
			"recommended_services", "recommendation_reason", "recommendation_score", "created_at",
			"first_name", "last_name", "email", "phone", "organization", "l.status",
		}).AddRow("cl-1", "camp-1", "l1", 88, 4.2, SourcePastClient, CampaignLeadBooked,
			[]string{"MASTERCLASS"}, "Since you booked Workshop", intPtr(15), created,
			"Ada", "Lovelace", "ada@x.com", "", "Oakland Choir", LeadWon))

	cls, err := store.ListCampaignLeads(context.Background(), "camp-1")
	require.NoError(t, err)
	require.Len(t, cls, 1)
	assert.Equal(t, CampaignLeadBooked, cls[0].Status)
	assert.Equal(t, []string{"MASTERCLASS"}, cls[0].RecommendedServices)
	assert.Equal(t, 15, *cls[0].RecommendationScore)
	require.NotNil(t, cls[0].Lead)
	assert.Equal(t, "l1", cls[0].Lead.ID)
	assert.Equal(t, "ada@x.com", cls[0].Lead.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListActiveRules(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresStore(mock)

	mock.ExpectQuery(`FROM recommendation_rules\s+WHERE active`).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "trigger_service_type", "recommended_service", "org_types",
			"weight", "priority", "pitch_points", "message_template", "active",
		}).
			AddRow("r1", "Workshop → Masterclass", strPtr("WORKSHOP"), recommend.Masterclass, []string{},
				1.5, 8, []string{"Deeper dive"}, "", true).
			AddRow("r2", "High School → Workshop", (*string)(nil), recommend.Workshop, []string{"HIGH_SCHOOL"},
				1.3, 7, []string{"Student engagement"}, "tmpl-hs", true))

	rules, err := store.ListActiveRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 2)

	require.NotNil(t, rules[0].TriggerServiceType)
	assert.Equal(t, recommend.Workshop, *rules[0].TriggerServiceType)
	assert.Nil(t, rules[0].OrgTypes)
	assert.True(t, rules[0].IsServiceTriggered())

	assert.Nil(t, rules[1].TriggerServiceType)
	assert.Equal(t, []orgtype.Type{orgtype.HighSchool}, rules[1].OrgTypes)
	assert.Equal(t, "tmpl-hs", rules[1].MessageTemplate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertRules(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresStore(mock)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_recommendation_rules"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_recommendation_rules"}, []string{
		"id", "name", "trigger_service_type", "recommended_service", "org_types",
		"weight", "priority", "pitch_points", "message_template", "active",
	}).WillReturnResult(2)
	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT ("name") DO NOTHING`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	rules := recommend.DefaultRules()[:2]
	n, err := store.InsertRules(context.Background(), rules)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuleNamesAndDelete(t *testing.T) {
	mock := newMockPool(t)
	store := NewPostgresStore(mock)

	mock.ExpectQuery(`SELECT name FROM recommendation_rules`).
		WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("a").AddRow("b"))
	mock.ExpectExec(`DELETE FROM recommendation_rules`).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	names, err := store.ListRuleNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	n, err := store.DeleteRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS postgis`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, NewPostgresStore(mock).Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
