package discovery

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/outreach-cli/internal/recommend"
)

// SQLiteStore implements Store using modernc.org/sqlite. List columns are
// stored as JSON text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens a SQLite database at dsn and configures WAL mode.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY,
	first_name        TEXT NOT NULL DEFAULT '',
	last_name         TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL UNIQUE,
	phone             TEXT NOT NULL DEFAULT '',
	organization      TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'NEW',
	score             INTEGER NOT NULL DEFAULT 0,
	latitude          REAL,
	longitude         REAL,
	last_contacted_at DATETIME,
	source            TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS bookings (
	id           TEXT PRIMARY KEY,
	lead_id      TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	service_type TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'PENDING',
	location     TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS inquiries (
	id         TEXT PRIMARY KEY,
	lead_id    TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	status     TEXT NOT NULL DEFAULT 'PENDING',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS campaigns (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	base_location TEXT NOT NULL DEFAULT '',
	latitude      REAL NOT NULL,
	longitude     REAL NOT NULL,
	radius        REAL NOT NULL,
	booking_id    TEXT REFERENCES bookings(id),
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS campaign_leads (
	id                    TEXT PRIMARY KEY,
	campaign_id           TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
	lead_id               TEXT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	score                 INTEGER NOT NULL,
	distance              REAL NOT NULL,
	source                TEXT NOT NULL,
	status                TEXT NOT NULL DEFAULT 'PENDING',
	recommended_services  TEXT NOT NULL DEFAULT '[]',
	recommendation_reason TEXT NOT NULL DEFAULT '',
	recommendation_score  INTEGER,
	created_at            DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS recommendation_rules (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL UNIQUE,
	trigger_service_type TEXT,
	recommended_service  TEXT NOT NULL,
	org_types            TEXT NOT NULL DEFAULT '[]',
	weight               REAL NOT NULL DEFAULT 1,
	priority             INTEGER NOT NULL DEFAULT 5,
	pitch_points         TEXT NOT NULL DEFAULT '[]',
	message_template     TEXT NOT NULL DEFAULT '',
	active               INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_leads_lat_lon ON leads(latitude, longitude);
CREATE INDEX IF NOT EXISTS idx_bookings_lead_id ON bookings(lead_id);
CREATE INDEX IF NOT EXISTS idx_inquiries_lead_id ON inquiries(lead_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_campaign_leads_campaign_lead ON campaign_leads(campaign_id, lead_id);
`

// Migrate creates the discovery tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	var (
		c                                        Campaign
		bookingID, leadID, svc, status, location sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.name, c.base_location, c.latitude, c.longitude, c.radius,
			b.id, b.lead_id, b.service_type, b.status, b.location
		FROM campaigns c
		LEFT JOIN bookings b ON b.id = c.booking_id
		WHERE c.id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.BaseLocation, &c.Latitude, &c.Longitude, &c.Radius,
		&bookingID, &leadID, &svc, &status, &location)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrCampaignNotFound, "campaign %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get campaign %s", id)
	}
	if bookingID.Valid {
		c.Booking = &Booking{
			ID:          bookingID.String,
			LeadID:      leadID.String,
			ServiceType: recommend.ServiceType(svc.String),
			Status:      BookingStatus(status.String),
			Location:    location.String,
		}
	}
	return &c, nil
}

func (s *SQLiteStore) FindLeads(ctx context.Context, q LeadQuery) ([]Lead, error) {
	var args []any
	where := leadWhere(q, sqliteBinder(&args), func(t time.Time) any { return t.UTC() })

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find leads")
	}
	leads, err := scanSQLiteLeads(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachHistory(ctx, leads); err != nil {
		return nil, err
	}
	return leads, nil
}

func (s *SQLiteStore) FindLeadsByOrganization(ctx context.Context, orgs []string) (map[string]Lead, error) {
	out := make(map[string]Lead)
	if len(orgs) == 0 {
		return out, nil
	}
	var args []any
	bind := sqliteBinder(&args)
	ph := make([]string, len(orgs))
	for i, o := range orgs {
		ph[i] = bind(strings.ToLower(o))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE LOWER(organization) IN (`+strings.Join(ph, ", ")+`) ORDER BY created_at, id`,
		args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find leads by organization")
	}
	leads, err := scanSQLiteLeads(rows)
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

func (s *SQLiteStore) UpsertLeads(ctx context.Context, leads []Lead) ([]Lead, error) {
	if len(leads) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert leads: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO leads (id, first_name, last_name, email, phone, organization, status, score, latitude, longitude, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			organization = excluded.organization,
			latitude = excluded.latitude,
			longitude = excluded.longitude
		RETURNING id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert leads: prepare")
	}
	defer stmt.Close()

	out := make([]Lead, len(leads))
	for i, l := range leads {
		id := l.ID
		if id == "" {
			id = uuid.NewString()
		}
		status := l.Status
		if status == "" {
			status = LeadNew
		}
		if err := stmt.QueryRowContext(ctx, id, l.FirstName, l.LastName, l.Email, l.Phone, l.Organization,
			string(status), l.Score, nullFloat(l.Latitude), nullFloat(l.Longitude), l.Source,
		).Scan(&l.ID); err != nil {
			return nil, eris.Wrapf(err, "sqlite: upsert lead %s", l.Email)
		}
		out[i] = l
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert leads: commit")
	}
	return out, nil
}

func (s *SQLiteStore) ExistingCampaignLeadIDs(ctx context.Context, campaignID string, leadIDs []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(leadIDs) == 0 {
		return out, nil
	}
	args := []any{campaignID}
	bind := sqliteBinder(&args)
	ph := make([]string, len(leadIDs))
	for i, id := range leadIDs {
		ph[i] = bind(id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT lead_id FROM campaign_leads WHERE campaign_id = ? AND lead_id IN (`+strings.Join(ph, ", ")+`)`,
		args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: existing campaign leads %s", campaignID)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan campaign lead id")
		}
		out[id] = true
	}
	return out, eris.Wrap(rows.Err(), "sqlite: existing campaign leads iterate")
}

// InsertCampaignLeads writes all associations in one transaction.
func (s *SQLiteStore) InsertCampaignLeads(ctx context.Context, cls []CampaignLead) (int64, error) {
	if len(cls) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert campaign leads: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO campaign_leads (id, campaign_id, lead_id, score, distance, source, status,
			recommended_services, recommendation_reason, recommendation_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert campaign leads: prepare")
	}
	defer stmt.Close()

	for _, cl := range cls {
		services, err := json.Marshal(nonNil(cl.RecommendedServices))
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal recommended services")
		}
		var recScore sql.NullInt64
		if cl.RecommendationScore != nil {
			recScore = sql.NullInt64{Int64: int64(*cl.RecommendationScore), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, cl.ID, cl.CampaignID, cl.LeadID, cl.Score, cl.Distance,
			string(cl.Source), string(cl.Status), string(services), cl.RecommendationReason,
			recScore, cl.CreatedAt.UTC()); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert campaign lead %s", cl.LeadID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: insert campaign leads: commit")
	}
	return int64(len(cls)), nil
}

func (s *SQLiteStore) DeleteCampaignLeads(ctx context.Context, campaignID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM campaign_leads WHERE campaign_id = ?`, campaignID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete campaign leads %s", campaignID)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: delete campaign leads rows affected")
}

func (s *SQLiteStore) ListCampaignLeads(ctx context.Context, campaignID string) ([]CampaignLead, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cl.id, cl.campaign_id, cl.lead_id, cl.score, cl.distance, cl.source, cl.status,
			cl.recommended_services, cl.recommendation_reason, cl.recommendation_score, cl.created_at,
			l.first_name, l.last_name, l.email, l.phone, l.organization, l.status
		FROM campaign_leads cl
		JOIN leads l ON l.id = cl.lead_id
		WHERE cl.campaign_id = ?
		ORDER BY cl.score DESC, cl.created_at`, campaignID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list campaign leads %s", campaignID)
	}
	defer rows.Close()

	var out []CampaignLead
	for rows.Next() {
		var (
			cl       CampaignLead
			services string
			recScore sql.NullInt64
		)
		l := &Lead{}
		if err := rows.Scan(&cl.ID, &cl.CampaignID, &cl.LeadID, &cl.Score, &cl.Distance, &cl.Source, &cl.Status,
			&services, &cl.RecommendationReason, &recScore, &cl.CreatedAt,
			&l.FirstName, &l.LastName, &l.Email, &l.Phone, &l.Organization, &l.Status); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan campaign lead")
		}
		if err := json.Unmarshal([]byte(services), &cl.RecommendedServices); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal recommended services")
		}
		if recScore.Valid {
			v := int(recScore.Int64)
			cl.RecommendationScore = &v
		}
		l.ID = cl.LeadID
		cl.Lead = l
		out = append(out, cl)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list campaign leads iterate")
}

func (s *SQLiteStore) ListActiveRules(ctx context.Context) ([]recommend.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, trigger_service_type, recommended_service, org_types,
			weight, priority, pitch_points, message_template, active
		FROM recommendation_rules
		WHERE active = 1
		ORDER BY priority DESC, weight DESC, name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active rules")
	}
	defer rows.Close()

	var rules []recommend.Rule
	for rows.Next() {
		var (
			r                   recommend.Rule
			trigger             sql.NullString
			orgTypes, pitchJSON string
		)
		if err := rows.Scan(&r.ID, &r.Name, &trigger, &r.RecommendedService, &orgTypes,
			&r.Weight, &r.Priority, &pitchJSON, &r.MessageTemplate, &r.Active); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rule")
		}
		if trigger.Valid {
			r.TriggerServiceType = serviceTypePtr(&trigger.String)
		}
		var types []string
		if err := json.Unmarshal([]byte(orgTypes), &types); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal org types for rule %s", r.Name)
		}
		r.OrgTypes = toOrgTypes(types)
		if err := json.Unmarshal([]byte(pitchJSON), &r.PitchPoints); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal pitch points for rule %s", r.Name)
		}
		rules = append(rules, r)
	}
	return rules, eris.Wrap(rows.Err(), "sqlite: list active rules iterate")
}

func (s *SQLiteStore) ListRuleNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM recommendation_rules ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rule names")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rule name")
		}
		names = append(names, n)
	}
	return names, eris.Wrap(rows.Err(), "sqlite: list rule names iterate")
}

func (s *SQLiteStore) InsertRules(ctx context.Context, rules []recommend.Rule) (int64, error) {
	if len(rules) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert rules: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var created int64
	for _, r := range rules {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		orgTypes, err := json.Marshal(fromOrgTypes(r.OrgTypes))
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal org types")
		}
		pitch, err := json.Marshal(nonNil(r.PitchPoints))
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal pitch points")
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO recommendation_rules (id, name, trigger_service_type, recommended_service, org_types,
				weight, priority, pitch_points, message_template, active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO NOTHING`,
			r.ID, r.Name, triggerString(r.TriggerServiceType), string(r.RecommendedService), string(orgTypes),
			r.Weight, r.Priority, string(pitch), r.MessageTemplate, r.Active)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert rule %s", r.Name)
		}
		n, _ := res.RowsAffected()
		created += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: insert rules: commit")
	}
	return created, nil
}

func (s *SQLiteStore) DeleteRules(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recommendation_rules`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete rules")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: delete rules rows affected")
}

func (s *SQLiteStore) attachHistory(ctx context.Context, leads []Lead) error {
	if len(leads) == 0 {
		return nil
	}
	ids, index := leadIndex(leads)
	var args []any
	bind := sqliteBinder(&args)
	ph := make([]string, len(ids))
	for i, id := range ids {
		ph[i] = bind(id)
	}
	in := strings.Join(ph, ", ")

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, service_type, status, location FROM bookings WHERE lead_id IN (`+in+`) ORDER BY created_at, id`, args...)
	if err != nil {
		return eris.Wrap(err, "sqlite: load bookings")
	}
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ID, &b.LeadID, &b.ServiceType, &b.Status, &b.Location); err != nil {
			rows.Close()
			return eris.Wrap(err, "sqlite: scan booking")
		}
		l := &leads[index[b.LeadID]]
		l.Bookings = append(l.Bookings, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "sqlite: load bookings")
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, lead_id, status, created_at FROM inquiries WHERE lead_id IN (`+in+`) ORDER BY created_at, id`, args...)
	if err != nil {
		return eris.Wrap(err, "sqlite: load inquiries")
	}
	defer rows.Close()
	for rows.Next() {
		var q Inquiry
		if err := rows.Scan(&q.ID, &q.LeadID, &q.Status, &q.CreatedAt); err != nil {
			return eris.Wrap(err, "sqlite: scan inquiry")
		}
		l := &leads[index[q.LeadID]]
		l.Inquiries = append(l.Inquiries, q)
	}
	return eris.Wrap(rows.Err(), "sqlite: load inquiries")
}

func scanSQLiteLeads(rows *sql.Rows) ([]Lead, error) {
	defer rows.Close()
	var leads []Lead
	for rows.Next() {
		var (
			l        Lead
			lat, lon sql.NullFloat64
			last     sql.NullTime
		)
		if err := rows.Scan(&l.ID, &l.FirstName, &l.LastName, &l.Email, &l.Phone, &l.Organization,
			&l.Status, &l.Score, &lat, &lon, &last, &l.Source); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		if lat.Valid && lon.Valid {
			l.Latitude, l.Longitude = &lat.Float64, &lon.Float64
		}
		if last.Valid {
			t := last.Time
			l.LastContactedAt = &t
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: iterate leads")
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

var _ Store = (*SQLiteStore)(nil)
