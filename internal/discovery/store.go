package discovery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/db"
	"github.com/sells-group/outreach-cli/internal/orgtype"
	"github.com/sells-group/outreach-cli/internal/recommend"
)

// Store defines persistence operations for the discovery subsystem.
type Store interface {
	recommend.RuleStore

	GetCampaign(ctx context.Context, id string) (*Campaign, error)
	// FindLeads returns leads matching q with their bookings and inquiries.
	FindLeads(ctx context.Context, q LeadQuery) ([]Lead, error)
	// FindLeadsByOrganization returns the first lead for each organization
	// name, keyed by lower-cased name.
	FindLeadsByOrganization(ctx context.Context, orgs []string) (map[string]Lead, error)
	// UpsertLeads inserts leads keyed by email, refreshing organization and
	// location of existing rows. The returned leads carry stored ids.
	UpsertLeads(ctx context.Context, leads []Lead) ([]Lead, error)
	ExistingCampaignLeadIDs(ctx context.Context, campaignID string, leadIDs []string) (map[string]bool, error)
	InsertCampaignLeads(ctx context.Context, cls []CampaignLead) (int64, error)
	DeleteCampaignLeads(ctx context.Context, campaignID string) (int64, error)
	ListCampaignLeads(ctx context.Context, campaignID string) ([]CampaignLead, error)
	Migrate(ctx context.Context) error
	Close() error
}

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgresStore creates a new PostgresStore. The pool is not closed by
// Close; use NewPostgresStoreOwned for that.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// NewPostgresStoreOwned creates a PostgresStore that closes pool on Close.
func NewPostgresStoreOwned(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	first_name        TEXT NOT NULL DEFAULT '',
	last_name         TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL UNIQUE,
	phone             TEXT NOT NULL DEFAULT '',
	organization      TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'NEW',
	score             INTEGER NOT NULL DEFAULT 0,
	latitude          DOUBLE PRECISION,
	longitude         DOUBLE PRECISION,
	geom              geometry(Point, 4326),
	last_contacted_at TIMESTAMPTZ,
	source            TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS bookings (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id      TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	service_type TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'PENDING',
	location     TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS inquiries (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id    TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	status     TEXT NOT NULL DEFAULT 'PENDING',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS campaigns (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name          TEXT NOT NULL DEFAULT '',
	base_location TEXT NOT NULL DEFAULT '',
	latitude      DOUBLE PRECISION NOT NULL,
	longitude     DOUBLE PRECISION NOT NULL,
	radius        DOUBLE PRECISION NOT NULL,
	booking_id    TEXT REFERENCES bookings(id),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS campaign_leads (
	id                    TEXT PRIMARY KEY,
	campaign_id           TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	lead_id               TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	score                 INTEGER NOT NULL,
	distance              DOUBLE PRECISION NOT NULL,
	source                TEXT NOT NULL,
	status                TEXT NOT NULL DEFAULT 'PENDING',
	recommended_services  TEXT[] NOT NULL DEFAULT '{}',
	recommendation_reason TEXT NOT NULL DEFAULT '',
	recommendation_score  INTEGER,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (campaign_id, lead_id)
);

CREATE TABLE IF NOT EXISTS recommendation_rules (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL UNIQUE,
	trigger_service_type TEXT,
	recommended_service  TEXT NOT NULL,
	org_types            TEXT[] NOT NULL DEFAULT '{}',
	weight               DOUBLE PRECISION NOT NULL DEFAULT 1,
	priority             INTEGER NOT NULL DEFAULT 5,
	pitch_points         TEXT[] NOT NULL DEFAULT '{}',
	message_template     TEXT NOT NULL DEFAULT '',
	active               BOOLEAN NOT NULL DEFAULT true
);

CREATE INDEX IF NOT EXISTS idx_leads_lat_lon ON leads(latitude, longitude);
CREATE INDEX IF NOT EXISTS idx_leads_geom ON leads USING GIST (geom);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_bookings_lead_id ON bookings(lead_id);
CREATE INDEX IF NOT EXISTS idx_inquiries_lead_id ON inquiries(lead_id);
CREATE INDEX IF NOT EXISTS idx_campaign_leads_campaign_id ON campaign_leads(campaign_id);
`

// Migrate creates the discovery tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "discovery: migrate")
}

// Close releases the pool when the store owns it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// GetCampaign loads a campaign and its triggering booking.
func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	var (
		c                                       Campaign
		bookingID, svc, status, location, leadID *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT c.id, c.name, c.base_location, c.latitude, c.longitude, c.radius,
			b.id, b.lead_id, b.service_type, b.status, b.location
		FROM campaigns c
		LEFT JOIN bookings b ON b.id = c.booking_id
		WHERE c.id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.BaseLocation, &c.Latitude, &c.Longitude, &c.Radius,
		&bookingID, &leadID, &svc, &status, &location)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrCampaignNotFound, "campaign %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: get campaign %s", id)
	}
	if bookingID != nil {
		c.Booking = &Booking{
			ID:          *bookingID,
			LeadID:      deref(leadID),
			ServiceType: recommend.ServiceType(deref(svc)),
			Status:      BookingStatus(deref(status)),
			Location:    deref(location),
		}
	}
	return &c, nil
}

const leadColumns = `id, first_name, last_name, email, phone, organization, status, score,
	latitude, longitude, last_contacted_at, source`

// FindLeads returns leads matching q with their bookings and inquiries.
func (s *PostgresStore) FindLeads(ctx context.Context, q LeadQuery) ([]Lead, error) {
	var args []any
	where := leadWhere(q, postgresBinder(&args), func(t time.Time) any { return t })

	rows, err := s.pool.Query(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: find leads")
	}
	leads, err := scanLeads(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachHistory(ctx, leads); err != nil {
		return nil, err
	}
	return leads, nil
}

// FindLeadsByOrganization returns the earliest lead per organization name.
func (s *PostgresStore) FindLeadsByOrganization(ctx context.Context, orgs []string) (map[string]Lead, error) {
	out := make(map[string]Lead)
	if len(orgs) == 0 {
		return out, nil
	}
	lowered := make([]string, len(orgs))
	for i, o := range orgs {
		lowered[i] = strings.ToLower(o)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE LOWER(organization) = ANY($1) ORDER BY created_at, id`,
		lowered)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: find leads by organization")
	}
	leads, err := scanLeads(rows)
	if err != nil {
		return nil, err
	}
	for _, l := range leads {
		key := strings.ToLower(l.Organization)
		if _, ok := out[key]; !ok {
			out[key] = l
		}
	}
	return out, nil
}

// UpsertLeads stages leads with COPY and merges them on email.
func (s *PostgresStore) UpsertLeads(ctx context.Context, leads []Lead) ([]Lead, error) {
	if len(leads) == 0 {
		return nil, nil
	}

	rows := make([][]any, len(leads))
	for i, l := range leads {
		id := l.ID
		if id == "" {
			id = uuid.NewString()
		}
		var geom []byte
		if p, ok := l.Point(); ok {
			b, err := p.EWKB()
			if err != nil {
				return nil, eris.Wrapf(err, "discovery: encode location for %s", l.Email)
			}
			geom = b
		}
		status := l.Status
		if status == "" {
			status = LeadNew
		}
		rows[i] = []any{
			id, l.FirstName, l.LastName, l.Email, l.Phone, l.Organization,
			string(status), l.Score, l.Latitude, l.Longitude, geom, l.Source,
		}
	}

	cfg := db.UpsertConfig{
		Table: "leads",
		Columns: []string{
			"id", "first_name", "last_name", "email", "phone", "organization",
			"status", "score", "latitude", "longitude", "geom", "source",
		},
		ConflictKeys: []string{"email"},
		UpdateCols:   []string{"organization", "latitude", "longitude", "geom"},
		Returning:    []string{"id", "email"},
	}

	ids := make(map[string]string, len(leads))
	err := db.BulkUpsertReturning(ctx, s.pool, cfg, rows, func(res pgx.Rows) error {
		for res.Next() {
			var id, email string
			if err := res.Scan(&id, &email); err != nil {
				return eris.Wrap(err, "discovery: scan upserted lead")
			}
			ids[email] = id
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "discovery: upsert leads")
	}

	out := make([]Lead, len(leads))
	for i, l := range leads {
		l.ID = ids[l.Email]
		out[i] = l
	}
	return out, nil
}

// ExistingCampaignLeadIDs reports which of leadIDs are already associated
// with the campaign.
func (s *PostgresStore) ExistingCampaignLeadIDs(ctx context.Context, campaignID string, leadIDs []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(leadIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT lead_id FROM campaign_leads WHERE campaign_id = $1 AND lead_id = ANY($2)`,
		campaignID, leadIDs)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: existing campaign leads %s", campaignID)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "discovery: scan campaign lead id")
		}
		out[id] = true
	}
	return out, rows.Err()
}

var campaignLeadColumns = []string{
	"id", "campaign_id", "lead_id", "score", "distance", "source", "status",
	"recommended_services", "recommendation_reason", "recommendation_score", "created_at",
}

// InsertCampaignLeads writes all associations in one COPY batch.
func (s *PostgresStore) InsertCampaignLeads(ctx context.Context, cls []CampaignLead) (int64, error) {
	rows := make([][]any, len(cls))
	for i, cl := range cls {
		services := cl.RecommendedServices
		if services == nil {
			services = []string{}
		}
		rows[i] = []any{
			cl.ID, cl.CampaignID, cl.LeadID, cl.Score, cl.Distance, string(cl.Source), string(cl.Status),
			services, cl.RecommendationReason, cl.RecommendationScore, cl.CreatedAt,
		}
	}
	n, err := db.CopyFrom(ctx, s.pool, "campaign_leads", campaignLeadColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "discovery: insert campaign leads")
	}
	return n, nil
}

// DeleteCampaignLeads removes every association for the campaign.
func (s *PostgresStore) DeleteCampaignLeads(ctx context.Context, campaignID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM campaign_leads WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return 0, eris.Wrapf(err, "discovery: delete campaign leads %s", campaignID)
	}
	return tag.RowsAffected(), nil
}

// ListCampaignLeads returns the campaign's associations with their leads,
// best score first.
func (s *PostgresStore) ListCampaignLeads(ctx context.Context, campaignID string) ([]CampaignLead, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cl.id, cl.campaign_id, cl.lead_id, cl.score, cl.distance, cl.source, cl.status,
			cl.recommended_services, cl.recommendation_reason, cl.recommendation_score, cl.created_at,
			l.first_name, l.last_name, l.email, l.phone, l.organization, l.status
		FROM campaign_leads cl
		JOIN leads l ON l.id = cl.lead_id
		WHERE cl.campaign_id = $1
		ORDER BY cl.score DESC, cl.created_at`, campaignID)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: list campaign leads %s", campaignID)
	}
	defer rows.Close()

	var out []CampaignLead
	for rows.Next() {
		var cl CampaignLead
		l := &Lead{}
		if err := rows.Scan(&cl.ID, &cl.CampaignID, &cl.LeadID, &cl.Score, &cl.Distance, &cl.Source, &cl.Status,
			&cl.RecommendedServices, &cl.RecommendationReason, &cl.RecommendationScore, &cl.CreatedAt,
			&l.FirstName, &l.LastName, &l.Email, &l.Phone, &l.Organization, &l.Status); err != nil {
			return nil, eris.Wrap(err, "discovery: scan campaign lead")
		}
		l.ID = cl.LeadID
		cl.Lead = l
		out = append(out, cl)
	}
	return out, rows.Err()
}

// ListActiveRules returns every active recommendation rule.
func (s *PostgresStore) ListActiveRules(ctx context.Context) ([]recommend.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, trigger_service_type, recommended_service, org_types,
			weight, priority, pitch_points, message_template, active
		FROM recommendation_rules
		WHERE active
		ORDER BY priority DESC, weight DESC, name`)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: list active rules")
	}
	defer rows.Close()

	var rules []recommend.Rule
	for rows.Next() {
		var (
			r        recommend.Rule
			trigger  *string
			orgTypes []string
		)
		if err := rows.Scan(&r.ID, &r.Name, &trigger, &r.RecommendedService, &orgTypes,
			&r.Weight, &r.Priority, &r.PitchPoints, &r.MessageTemplate, &r.Active); err != nil {
			return nil, eris.Wrap(err, "discovery: scan rule")
		}
		r.TriggerServiceType = serviceTypePtr(trigger)
		r.OrgTypes = toOrgTypes(orgTypes)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// ListRuleNames returns the names of all stored rules.
func (s *PostgresStore) ListRuleNames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM recommendation_rules ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: list rule names")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "discovery: scan rule name")
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// InsertRules inserts rules, skipping names that already exist.
func (s *PostgresStore) InsertRules(ctx context.Context, rules []recommend.Rule) (int64, error) {
	rows := make([][]any, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		rows[i] = []any{
			r.ID, r.Name, triggerString(r.TriggerServiceType), string(r.RecommendedService),
			fromOrgTypes(r.OrgTypes), r.Weight, r.Priority, nonNil(r.PitchPoints),
			r.MessageTemplate, r.Active,
		}
	}
	cfg := db.UpsertConfig{
		Table: "recommendation_rules",
		Columns: []string{
			"id", "name", "trigger_service_type", "recommended_service", "org_types",
			"weight", "priority", "pitch_points", "message_template", "active",
		},
		ConflictKeys: []string{"name"},
		UpdateCols:   []string{},
	}
	n, err := db.BulkUpsert(ctx, s.pool, cfg, rows)
	if err != nil {
		return 0, eris.Wrap(err, "discovery: insert rules")
	}
	return n, nil
}

// DeleteRules removes every rule.
func (s *PostgresStore) DeleteRules(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recommendation_rules`)
	if err != nil {
		return 0, eris.Wrap(err, "discovery: delete rules")
	}
	return tag.RowsAffected(), nil
}

// attachHistory loads bookings and inquiries for leads in place.
func (s *PostgresStore) attachHistory(ctx context.Context, leads []Lead) error {
	if len(leads) == 0 {
		return nil
	}
	ids, index := leadIndex(leads)

	rows, err := s.pool.Query(ctx,
		`SELECT id, lead_id, service_type, status, location FROM bookings WHERE lead_id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return eris.Wrap(err, "discovery: load bookings")
	}
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ID, &b.LeadID, &b.ServiceType, &b.Status, &b.Location); err != nil {
			rows.Close()
			return eris.Wrap(err, "discovery: scan booking")
		}
		l := &leads[index[b.LeadID]]
		l.Bookings = append(l.Bookings, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "discovery: load bookings")
	}

	rows, err = s.pool.Query(ctx,
		`SELECT id, lead_id, status, created_at FROM inquiries WHERE lead_id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return eris.Wrap(err, "discovery: load inquiries")
	}
	defer rows.Close()
	for rows.Next() {
		var q Inquiry
		if err := rows.Scan(&q.ID, &q.LeadID, &q.Status, &q.CreatedAt); err != nil {
			return eris.Wrap(err, "discovery: scan inquiry")
		}
		l := &leads[index[q.LeadID]]
		l.Inquiries = append(l.Inquiries, q)
	}
	return eris.Wrap(rows.Err(), "discovery: load inquiries")
}

func scanLeads(rows pgx.Rows) ([]Lead, error) {
	defer rows.Close()
	var leads []Lead
	for rows.Next() {
		var l Lead
		if err := rows.Scan(&l.ID, &l.FirstName, &l.LastName, &l.Email, &l.Phone, &l.Organization,
			&l.Status, &l.Score, &l.Latitude, &l.Longitude, &l.LastContactedAt, &l.Source); err != nil {
			return nil, eris.Wrap(err, "discovery: scan lead")
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "discovery: iterate leads")
}

func leadIndex(leads []Lead) ([]string, map[string]int) {
	ids := make([]string, len(leads))
	index := make(map[string]int, len(leads))
	for i, l := range leads {
		ids[i] = l.ID
		index[l.ID] = i
	}
	return ids, index
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func serviceTypePtr(s *string) *recommend.ServiceType {
	if s == nil || *s == "" {
		return nil
	}
	st := recommend.ServiceType(*s)
	return &st
}

func triggerString(st *recommend.ServiceType) *string {
	if st == nil {
		return nil
	}
	s := string(*st)
	return &s
}

func toOrgTypes(ss []string) []orgtype.Type {
	if len(ss) == 0 {
		return nil
	}
	out := make([]orgtype.Type, len(ss))
	for i, s := range ss {
		out[i] = orgtype.Type(s)
	}
	return out
}

func fromOrgTypes(ts []orgtype.Type) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}

var _ Store = (*PostgresStore)(nil)
