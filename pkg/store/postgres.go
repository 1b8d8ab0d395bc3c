package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	apperrors "github.com/ebrland/orchestrator/internal/errors"
	"github.com/ebrland/orchestrator/pkg/types"
)

// Postgres is the production Store implementation, backed by sqlx over
// lib/pq. Writes that must be race-free against concurrent workers rely on
// a Postgres unique constraint: idempotency reservation maps its violation
// to ErrConflict, and lock acquisition reports a lock held by another
// holder as false.
type Postgres struct {
	db *sqlx.DB
}

// Open connects to dsn and returns a Postgres store.
func Open(dsn string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, apperrors.NewDatabaseError("connect", err)
	}
	return &Postgres{db: db}, nil
}

func isUniqueViolation(err error) bool {
	// lib/pq reports unique_violation as SQLSTATE 23505 in the Code field of
	// the *pq.Error that sqlx passes through; the message text omits it.
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

const leadColumns = `id, owner_id, parcel_id, market_code, motivation_score,
	pipeline_stage, last_reply_classification,
	followup_count, next_followup_at, last_alerted_at, blast_sent_at, created_at, updated_at`

func (p *Postgres) GetLead(ctx context.Context, id int64) (*types.Lead, error) {
	var l types.Lead
	err := p.db.GetContext(ctx, &l, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("lead")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_lead", err)
	}
	return &l, nil
}

func (p *Postgres) GetLeadByOwnerParcel(ctx context.Context, ownerID, parcelID int64) (*types.Lead, error) {
	var l types.Lead
	err := p.db.GetContext(ctx, &l, `SELECT `+leadColumns+` FROM leads WHERE owner_id = $1 AND parcel_id = $2`, ownerID, parcelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("lead")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_lead_by_owner_parcel", err)
	}
	return &l, nil
}

// GetLeadByPhone resolves an inbound webhook's From number to the owner it
// belongs to, then returns that owner's most recently updated lead. Phone
// lives on owners, not leads, so a STOP or reply on one parcel's lead is
// reachable from any of that owner's other leads too.
func (p *Postgres) GetLeadByPhone(ctx context.Context, phone string) (*types.Lead, error) {
	var l types.Lead
	err := p.db.GetContext(ctx, &l, `SELECT l.id, l.owner_id, l.parcel_id, l.market_code, l.motivation_score,
		l.pipeline_stage, l.last_reply_classification,
		l.followup_count, l.next_followup_at, l.last_alerted_at, l.blast_sent_at, l.created_at, l.updated_at
		FROM leads l JOIN owners o ON o.id = l.owner_id
		WHERE o.phone_primary = $1 ORDER BY l.updated_at DESC LIMIT 1`, phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("lead")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_lead_by_phone", err)
	}
	return &l, nil
}

// UpsertLead inserts a new lead for the (owner, parcel) pair, or returns the
// existing row unchanged — new leads always start at INGESTED/score 0 per
// the entity-resolution invariant; scoring updates go through UpdateLeadScore.
func (p *Postgres) UpsertLead(ctx context.Context, lead *types.Lead) (*types.Lead, error) {
	existing, err := p.GetLeadByOwnerParcel(ctx, lead.OwnerID, lead.ParcelID)
	if err == nil {
		return existing, nil
	}
	if !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		return nil, err
	}

	var id int64
	err = p.db.QueryRowContext(ctx, `INSERT INTO leads
		(owner_id, parcel_id, market_code, motivation_score, pipeline_stage, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 'INGESTED', now(), now())
		ON CONFLICT (owner_id, parcel_id) DO NOTHING
		RETURNING id`,
		lead.OwnerID, lead.ParcelID, lead.MarketCode).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return p.GetLeadByOwnerParcel(ctx, lead.OwnerID, lead.ParcelID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("upsert_lead", err)
	}
	return p.GetLead(ctx, id)
}

func (p *Postgres) UpdateLeadScore(ctx context.Context, leadID int64, score int, stage types.PipelineStage) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE leads SET motivation_score = $1, pipeline_stage = $2, updated_at = now() WHERE id = $3`,
		score, stage, leadID)
	if err != nil {
		return apperrors.NewDatabaseError("update_lead_score", err)
	}
	return nil
}

func (p *Postgres) UpdateLeadReply(ctx context.Context, leadID int64, classification types.ReplyClassification, stage types.PipelineStage) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE leads SET last_reply_classification = $1, pipeline_stage = $2, updated_at = now() WHERE id = $3`,
		classification, stage, leadID)
	if err != nil {
		return apperrors.NewDatabaseError("update_lead_reply", err)
	}
	return nil
}

func (p *Postgres) UpdateLeadFollowup(ctx context.Context, leadID int64, count int, next *time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE leads SET followup_count = $1, next_followup_at = $2, updated_at = now() WHERE id = $3`,
		count, next, leadID)
	if err != nil {
		return apperrors.NewDatabaseError("update_lead_followup", err)
	}
	return nil
}

// MarkOptedOut records a STOP/DECEASED/WRONG_NUMBER reply against the
// owner, not the lead it arrived on, so it blocks outreach to every lead
// that owner holds. Scheduled followups for all of their leads are
// cancelled in the same transaction.
func (p *Postgres) MarkOptedOut(ctx context.Context, ownerID int64) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseError("mark_opted_out_begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE owners SET opt_out = true, opt_out_at = now() WHERE id = $1`, ownerID); err != nil {
		return apperrors.NewDatabaseError("mark_opted_out", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE leads SET next_followup_at = NULL, updated_at = now() WHERE owner_id = $1`, ownerID); err != nil {
		return apperrors.NewDatabaseError("mark_opted_out_cancel_followups", err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError("mark_opted_out_commit", err)
	}
	return nil
}

func (p *Postgres) LeadsDueForFollowup(ctx context.Context, marketCode string, asOf time.Time) ([]*types.Lead, error) {
	var leads []*types.Lead
	err := p.db.SelectContext(ctx, &leads, `SELECT l.id, l.owner_id, l.parcel_id, l.market_code, l.motivation_score,
		l.pipeline_stage, l.last_reply_classification,
		l.followup_count, l.next_followup_at, l.last_alerted_at, l.blast_sent_at, l.created_at, l.updated_at
		FROM leads l JOIN owners o ON o.id = l.owner_id
		WHERE l.market_code = $1 AND l.pipeline_stage != 'HOT'
		AND (l.last_reply_classification IS NULL OR l.last_reply_classification NOT IN ('NOT_INTERESTED', 'DEAD'))
		AND o.opt_out = false AND o.is_dnr = false
		AND l.next_followup_at IS NOT NULL AND l.next_followup_at <= $2`, marketCode, asOf)
	if err != nil {
		return nil, apperrors.NewDatabaseError("leads_due_for_followup", err)
	}
	return leads, nil
}

func (p *Postgres) LeadsForInitialOutreach(ctx context.Context, marketCode string, minScore, limit int) ([]*types.Lead, error) {
	var leads []*types.Lead
	err := p.db.SelectContext(ctx, &leads, `SELECT l.id, l.owner_id, l.parcel_id, l.market_code, l.motivation_score,
		l.pipeline_stage, l.last_reply_classification,
		l.followup_count, l.next_followup_at, l.last_alerted_at, l.blast_sent_at, l.created_at, l.updated_at
		FROM leads l JOIN owners o ON o.id = l.owner_id
		WHERE l.market_code = $1 AND l.pipeline_stage = 'NEW' AND l.followup_count = 0
		AND l.motivation_score >= $2 AND o.opt_out = false AND o.is_dnr = false
		ORDER BY l.motivation_score DESC LIMIT $3`, marketCode, minScore, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("leads_for_initial_outreach", err)
	}
	return leads, nil
}

func (p *Postgres) HotLeadsForAlerts(ctx context.Context, marketCode string, minScore, limit int) ([]*types.Lead, error) {
	var leads []*types.Lead
	err := p.db.SelectContext(ctx, &leads, `SELECT `+leadColumns+` FROM leads
		WHERE market_code = $1 AND pipeline_stage = 'HOT' AND motivation_score >= $2
		ORDER BY motivation_score DESC LIMIT $3`, marketCode, minScore, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("hot_leads_for_alerts", err)
	}
	return leads, nil
}

func (p *Postgres) ListLeads(ctx context.Context, filter types.LeadFilter) ([]*types.Lead, error) {
	query := `SELECT l.id, l.owner_id, l.parcel_id, l.market_code, l.motivation_score,
		l.pipeline_stage, l.last_reply_classification,
		l.followup_count, l.next_followup_at, l.last_alerted_at, l.blast_sent_at, l.created_at, l.updated_at
		FROM leads l JOIN owners o ON o.id = l.owner_id WHERE 1=1`
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.MarketCode != "" {
		query += " AND l.market_code = " + arg(filter.MarketCode)
	}
	if filter.Stage != "" {
		query += " AND l.pipeline_stage = " + arg(string(filter.Stage))
	}
	if filter.MinScore > 0 {
		query += " AND l.motivation_score >= " + arg(filter.MinScore)
	}
	if filter.TCPASafeOnly {
		query += " AND o.is_tcpa_safe = true AND o.opt_out = false AND o.is_dnr = false"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY l.id DESC LIMIT %s OFFSET %s", arg(limit), arg(filter.Offset))

	var leads []*types.Lead
	if err := p.db.SelectContext(ctx, &leads, query, args...); err != nil {
		return nil, apperrors.NewDatabaseError("list_leads", err)
	}
	return leads, nil
}

func (p *Postgres) GetParty(ctx context.Context, id int64) (*types.Party, error) {
	var party types.Party
	err := p.db.GetContext(ctx, &party, `SELECT id, display_name, match_hash, zip FROM parties WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("party")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_party", err)
	}
	return &party, nil
}

func (p *Postgres) FindPartyByMatchHash(ctx context.Context, hash string) (*types.Party, error) {
	var party types.Party
	err := p.db.GetContext(ctx, &party, `SELECT id, display_name, match_hash, zip FROM parties WHERE match_hash = $1`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("party")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("find_party_by_match_hash", err)
	}
	return &party, nil
}

func (p *Postgres) UpsertParty(ctx context.Context, party *types.Party) (*types.Party, error) {
	if existing, err := p.FindPartyByMatchHash(ctx, party.MatchHash); err == nil {
		return existing, nil
	}
	var id int64
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO parties (display_name, match_hash, zip) VALUES ($1, $2, $3)
		 ON CONFLICT (match_hash) DO NOTHING RETURNING id`,
		party.DisplayName, party.MatchHash, party.Zip).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return p.FindPartyByMatchHash(ctx, party.MatchHash)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("upsert_party", err)
	}
	return p.GetParty(ctx, id)
}

const ownerColumns = `id, party_id, phone_primary, email, is_tcpa_safe, is_dnr, opt_out, opt_out_at`

func (p *Postgres) GetOwner(ctx context.Context, id int64) (*types.Owner, error) {
	var owner types.Owner
	err := p.db.GetContext(ctx, &owner, `SELECT `+ownerColumns+` FROM owners WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("owner")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_owner", err)
	}
	return &owner, nil
}

func (p *Postgres) GetOwnerByParty(ctx context.Context, partyID int64) (*types.Owner, error) {
	var owner types.Owner
	err := p.db.GetContext(ctx, &owner, `SELECT `+ownerColumns+` FROM owners WHERE party_id = $1`, partyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("owner")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_owner_by_party", err)
	}
	return &owner, nil
}

// UpsertOwner enforces one Owner per Party, merging a freshly resolved
// phone/email into an existing row rather than dropping it on re-ingestion.
func (p *Postgres) UpsertOwner(ctx context.Context, owner *types.Owner) (*types.Owner, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `INSERT INTO owners (party_id, phone_primary, email, is_tcpa_safe)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (party_id) DO UPDATE SET
			phone_primary = COALESCE(EXCLUDED.phone_primary, owners.phone_primary),
			is_tcpa_safe = CASE WHEN EXCLUDED.phone_primary IS NOT NULL THEN EXCLUDED.is_tcpa_safe ELSE owners.is_tcpa_safe END,
			email = CASE WHEN EXCLUDED.email != '' THEN EXCLUDED.email ELSE owners.email END
		RETURNING id`,
		owner.PartyID, owner.PhonePrimary, owner.Email, owner.IsTCPASafe).Scan(&id)
	if err != nil {
		return nil, apperrors.NewDatabaseError("upsert_owner", err)
	}
	return p.GetOwner(ctx, id)
}

func (p *Postgres) GetParcel(ctx context.Context, id int64) (*types.Parcel, error) {
	var parcel types.Parcel
	err := p.db.GetContext(ctx, &parcel, `SELECT id, parcel_id, situs_address, situs_zip, parish, acreage,
		assessed_land_val, improvement_value, vacant_land, adjudicated, delinquent_years, latitude, longitude
		FROM parcels WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("parcel")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_parcel", err)
	}
	return &parcel, nil
}

func (p *Postgres) FindParcelByCanonicalID(ctx context.Context, parcelID string) (*types.Parcel, error) {
	var parcel types.Parcel
	err := p.db.GetContext(ctx, &parcel, `SELECT id, parcel_id, situs_address, situs_zip, parish, acreage,
		assessed_land_val, improvement_value, vacant_land, adjudicated, delinquent_years, latitude, longitude
		FROM parcels WHERE parcel_id = $1`, parcelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("parcel")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("find_parcel_by_canonical_id", err)
	}
	return &parcel, nil
}

func (p *Postgres) UpsertParcel(ctx context.Context, parcel *types.Parcel) (*types.Parcel, error) {
	_, err := p.db.ExecContext(ctx, `INSERT INTO parcels
		(parcel_id, situs_address, situs_zip, parish, acreage, assessed_land_val, improvement_value,
		 vacant_land, adjudicated, delinquent_years, latitude, longitude)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (parcel_id) DO UPDATE SET
			situs_address = EXCLUDED.situs_address,
			situs_zip = EXCLUDED.situs_zip,
			acreage = COALESCE(EXCLUDED.acreage, parcels.acreage),
			assessed_land_val = COALESCE(EXCLUDED.assessed_land_val, parcels.assessed_land_val),
			improvement_value = COALESCE(EXCLUDED.improvement_value, parcels.improvement_value),
			vacant_land = EXCLUDED.vacant_land,
			adjudicated = EXCLUDED.adjudicated,
			delinquent_years = EXCLUDED.delinquent_years,
			latitude = COALESCE(EXCLUDED.latitude, parcels.latitude),
			longitude = COALESCE(EXCLUDED.longitude, parcels.longitude)`,
		parcel.ParcelID, parcel.SitusAddress, parcel.SitusZip, parcel.Parish, parcel.Acreage,
		parcel.AssessedLandVal, parcel.ImprovementValue, parcel.VacantLand,
		parcel.Adjudicated, parcel.DelinquentYears, parcel.Latitude, parcel.Longitude)
	if err != nil {
		return nil, apperrors.NewDatabaseError("upsert_parcel", err)
	}
	return p.FindParcelByCanonicalID(ctx, parcel.ParcelID)
}

// InsertOutreachAttempt reserves an idempotency key via a unique constraint;
// ErrConflict signals the caller should look up the existing attempt instead.
func (p *Postgres) InsertOutreachAttempt(ctx context.Context, a *types.OutreachAttempt) (*types.OutreachAttempt, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `INSERT INTO outreach_attempts
		(lead_id, direction, body, status, idempotency_key, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now(),now()) RETURNING id`,
		a.LeadID, a.Direction, a.Body, a.Status, a.IdempotencyKey).Scan(&id)
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("insert_outreach_attempt", err)
	}
	a.ID = id
	return a, nil
}

func (p *Postgres) FindOutreachByIdempotencyKey(ctx context.Context, key string) (*types.OutreachAttempt, error) {
	var a types.OutreachAttempt
	err := p.db.GetContext(ctx, &a, `SELECT id, lead_id, direction, body, status, result, error_code,
		idempotency_key, provider_sid, created_at, updated_at FROM outreach_attempts WHERE idempotency_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("outreach_attempt")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("find_outreach_by_key", err)
	}
	return &a, nil
}

func (p *Postgres) FindOutreachByProviderSID(ctx context.Context, sid string) (*types.OutreachAttempt, error) {
	var a types.OutreachAttempt
	err := p.db.GetContext(ctx, &a, `SELECT id, lead_id, direction, body, status, result, error_code,
		idempotency_key, provider_sid, created_at, updated_at FROM outreach_attempts WHERE provider_sid = $1`, sid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("outreach_attempt")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("find_outreach_by_provider_sid", err)
	}
	return &a, nil
}

func (p *Postgres) UpdateOutreachAttempt(ctx context.Context, a *types.OutreachAttempt) error {
	_, err := p.db.ExecContext(ctx, `UPDATE outreach_attempts SET status=$1, result=$2, error_code=$3,
		provider_sid=$4, updated_at=now() WHERE id=$5`, a.Status, a.Result, a.ErrorCode, a.ProviderSID, a.ID)
	if err != nil {
		return apperrors.NewDatabaseError("update_outreach_attempt", err)
	}
	return nil
}

func (p *Postgres) InsertTimelineEvent(ctx context.Context, e *types.TimelineEvent) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO timeline_events (lead_id, kind, detail, created_at) VALUES ($1,$2,$3,now())`,
		e.LeadID, e.Kind, e.Detail)
	if err != nil {
		return apperrors.NewDatabaseError("insert_timeline_event", err)
	}
	return nil
}

func (p *Postgres) ListTimelineEvents(ctx context.Context, leadID int64) ([]*types.TimelineEvent, error) {
	var events []*types.TimelineEvent
	err := p.db.SelectContext(ctx, &events,
		`SELECT id, lead_id, kind, detail, created_at FROM timeline_events WHERE lead_id = $1 ORDER BY created_at`, leadID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_timeline_events", err)
	}
	return events, nil
}

func (p *Postgres) GetAlertConfig(ctx context.Context, marketCode string) (*types.AlertConfig, error) {
	var cfg types.AlertConfig
	err := p.db.GetContext(ctx, &cfg, `SELECT id, market_code, enabled, hot_score_threshold, alert_phone,
		slack_webhook_url, dedup_hours FROM alert_configs WHERE market_code = $1`, marketCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("alert_config")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_alert_config", err)
	}
	return &cfg, nil
}

func (p *Postgres) UpsertAlertConfig(ctx context.Context, cfg *types.AlertConfig) (*types.AlertConfig, error) {
	_, err := p.db.ExecContext(ctx, `INSERT INTO alert_configs
		(market_code, enabled, hot_score_threshold, alert_phone, slack_webhook_url, dedup_hours)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (market_code) DO UPDATE SET enabled=EXCLUDED.enabled,
			hot_score_threshold=EXCLUDED.hot_score_threshold, alert_phone=EXCLUDED.alert_phone,
			slack_webhook_url=EXCLUDED.slack_webhook_url, dedup_hours=EXCLUDED.dedup_hours`,
		cfg.MarketCode, cfg.Enabled, cfg.HotScoreThreshold, cfg.AlertPhone, cfg.SlackWebhookURL, cfg.DedupHours)
	if err != nil {
		return nil, apperrors.NewDatabaseError("upsert_alert_config", err)
	}
	return p.GetAlertConfig(ctx, cfg.MarketCode)
}

func (p *Postgres) CreateTask(ctx context.Context, t *types.BackgroundTask) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO background_tasks (id, name, status, created_at) VALUES ($1,$2,$3,now())`,
		t.ID, t.Name, t.Status)
	if err != nil {
		return apperrors.NewDatabaseError("create_task", err)
	}
	return nil
}

func (p *Postgres) UpdateTask(ctx context.Context, t *types.BackgroundTask) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE background_tasks SET status=$1, result=$2, error=$3, started_at=$4, ended_at=$5 WHERE id=$6`,
		t.Status, t.Result, t.Error, t.StartedAt, t.EndedAt, t.ID)
	if err != nil {
		return apperrors.NewDatabaseError("update_task", err)
	}
	return nil
}

func (p *Postgres) GetTask(ctx context.Context, id string) (*types.BackgroundTask, error) {
	var t types.BackgroundTask
	err := p.db.GetContext(ctx, &t, `SELECT id, name, status, result, error, started_at, ended_at, created_at
		FROM background_tasks WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("task")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_task", err)
	}
	return &t, nil
}

func (p *Postgres) DeleteOldTasks(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM background_tasks WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, apperrors.NewDatabaseError("delete_old_tasks", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *Postgres) AcquireSchedulerLock(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO scheduler_locks (name, holder_id, expires_at) VALUES ($1, $2, now() + $3::interval)
		ON CONFLICT (name) DO UPDATE SET holder_id = $2, expires_at = now() + $3::interval
		WHERE scheduler_locks.holder_id = $2 OR scheduler_locks.expires_at < now()`,
		name, holderID, ttl.String())
	if err != nil {
		return false, apperrors.NewDatabaseError("acquire_scheduler_lock", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (p *Postgres) ExtendSchedulerLock(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE scheduler_locks SET expires_at = now() + $3::interval WHERE name = $1 AND holder_id = $2`,
		name, holderID, ttl.String())
	if err != nil {
		return false, apperrors.NewDatabaseError("extend_scheduler_lock", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (p *Postgres) ReleaseSchedulerLock(ctx context.Context, name, holderID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM scheduler_locks WHERE name = $1 AND holder_id = $2`, name, holderID)
	if err != nil {
		return apperrors.NewDatabaseError("release_scheduler_lock", err)
	}
	return nil
}

func (p *Postgres) AcquireSendLock(ctx context.Context, leadID int64, holderID string, ttl time.Duration) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO send_locks (lead_id, holder_id, expires_at) VALUES ($1, $2, now() + $3::interval)
		ON CONFLICT (lead_id) DO UPDATE SET holder_id = $2, expires_at = now() + $3::interval
		WHERE send_locks.holder_id = $2 OR send_locks.expires_at < now()`,
		leadID, holderID, ttl.String())
	if err != nil {
		return false, apperrors.NewDatabaseError("acquire_send_lock", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (p *Postgres) ReleaseSendLock(ctx context.Context, leadID int64, holderID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM send_locks WHERE lead_id = $1 AND holder_id = $2`, leadID, holderID)
	if err != nil {
		return apperrors.NewDatabaseError("release_send_lock", err)
	}
	return nil
}

func (p *Postgres) ListBuyersForMarket(ctx context.Context, marketCode string) ([]*types.Buyer, error) {
	var buyers []*types.Buyer
	err := p.db.SelectContext(ctx, &buyers, `SELECT b.id, b.name, b.phone, b.email, b.vip, b.pof_verified,
		b.min_acreage, b.max_acreage, b.min_budget, b.max_budget
		FROM buyers b JOIN buyer_markets bm ON bm.buyer_id = b.id WHERE bm.market_code = $1`, marketCode)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list_buyers_for_market", err)
	}
	return buyers, nil
}

func (p *Postgres) GetBuyer(ctx context.Context, id int64) (*types.Buyer, error) {
	var b types.Buyer
	err := p.db.GetContext(ctx, &b, `SELECT id, name, phone, email, vip, pof_verified,
		min_acreage, max_acreage, min_budget, max_budget FROM buyers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("buyer")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_buyer", err)
	}
	var markets []string
	if err := p.db.SelectContext(ctx, &markets, `SELECT DISTINCT market_code FROM buyer_markets WHERE buyer_id = $1`, id); err != nil {
		return nil, apperrors.NewDatabaseError("get_buyer_markets", err)
	}
	b.Markets = markets
	return &b, nil
}

// UpsertBuyer inserts a new buyer, or replaces the named fields and market
// coverage of an existing one when b.ID is set. Market/county coverage is
// always fully replaced rather than merged, matching how the call site
// (a single POST /buyers body) represents a buyer's full preferences.
func (p *Postgres) UpsertBuyer(ctx context.Context, b *types.Buyer) (*types.Buyer, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewDatabaseError("upsert_buyer_begin", err)
	}
	defer tx.Rollback()

	var id int64
	if b.ID == 0 {
		err = tx.QueryRowContext(ctx, `INSERT INTO buyers (name, phone, email, vip, pof_verified,
			min_acreage, max_acreage, min_budget, max_budget) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING id`, b.Name, b.Phone, b.Email, b.VIP, b.POFVerified,
			b.MinAcreage, b.MaxAcreage, b.MinBudget, b.MaxBudget).Scan(&id)
	} else {
		id = b.ID
		_, err = tx.ExecContext(ctx, `UPDATE buyers SET name=$1, phone=$2, email=$3, vip=$4, pof_verified=$5,
			min_acreage=$6, max_acreage=$7, min_budget=$8, max_budget=$9 WHERE id=$10`,
			b.Name, b.Phone, b.Email, b.VIP, b.POFVerified, b.MinAcreage, b.MaxAcreage, b.MinBudget, b.MaxBudget, id)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("upsert_buyer", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM buyer_markets WHERE buyer_id = $1`, id); err != nil {
		return nil, apperrors.NewDatabaseError("upsert_buyer_clear_markets", err)
	}
	counties := b.Counties
	if len(counties) == 0 {
		counties = []string{""}
	}
	for _, mkt := range b.Markets {
		for _, county := range counties {
			if _, err := tx.ExecContext(ctx, `INSERT INTO buyer_markets (buyer_id, market_code, county)
				VALUES ($1,$2,$3) ON CONFLICT DO NOTHING`, id, mkt, county); err != nil {
				return nil, apperrors.NewDatabaseError("upsert_buyer_market", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewDatabaseError("upsert_buyer_commit", err)
	}
	b.ID = id
	return b, nil
}

func (p *Postgres) GetBuyerDeal(ctx context.Context, buyerID, leadID int64) (*types.BuyerDeal, error) {
	var d types.BuyerDeal
	err := p.db.GetContext(ctx, &d, `SELECT id, buyer_id, lead_id, blast_sent_at FROM buyer_deals
		WHERE buyer_id = $1 AND lead_id = $2`, buyerID, leadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("buyer_deal")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get_buyer_deal", err)
	}
	return &d, nil
}

func (p *Postgres) UpsertBuyerDeal(ctx context.Context, d *types.BuyerDeal) (*types.BuyerDeal, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `INSERT INTO buyer_deals (buyer_id, lead_id, blast_sent_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (buyer_id, lead_id) DO UPDATE SET blast_sent_at = EXCLUDED.blast_sent_at
		RETURNING id`, d.BuyerID, d.LeadID, d.BlastSentAt).Scan(&id)
	if err != nil {
		return nil, apperrors.NewDatabaseError("upsert_buyer_deal", err)
	}
	d.ID = id
	return d, nil
}
