// Package store defines the persistence interface used by every domain
// component, plus a PostgreSQL-backed implementation.
package store

import (
	"context"
	"time"

	"github.com/ebrland/orchestrator/pkg/types"
)

// Store is the persistence boundary every domain component depends on.
// Components never talk to sqlx/pgx directly — this keeps the scoring,
// outreach, and conversation packages storage-agnostic and trivially
// testable against an in-memory fake.
type Store interface {
	GetLead(ctx context.Context, id int64) (*types.Lead, error)
	GetLeadByOwnerParcel(ctx context.Context, ownerID, parcelID int64) (*types.Lead, error)
	// GetLeadByPhone looks up the lead an inbound webhook's From number
	// belongs to. phone must already be E.164-normalized.
	GetLeadByPhone(ctx context.Context, phone string) (*types.Lead, error)
	UpsertLead(ctx context.Context, lead *types.Lead) (*types.Lead, error)
	UpdateLeadScore(ctx context.Context, leadID int64, score int, stage types.PipelineStage) error
	// UpdateLeadReply persists the durable outcome of a classified inbound
	// reply alongside the stage transition it triggers. Kept separate from
	// UpdateLeadScore, which belongs to the automated scoring pass only.
	UpdateLeadReply(ctx context.Context, leadID int64, classification types.ReplyClassification, stage types.PipelineStage) error
	UpdateLeadFollowup(ctx context.Context, leadID int64, count int, next *time.Time) error
	// MarkOptedOut records a STOP/DECEASED/WRONG_NUMBER reply against the
	// owner, not the lead that received it — one owner may hold several
	// leads and opting out applies to all of them.
	MarkOptedOut(ctx context.Context, ownerID int64) error
	LeadsDueForFollowup(ctx context.Context, marketCode string, asOf time.Time) ([]*types.Lead, error)
	// LeadsForInitialOutreach returns NEW-stage, never-contacted leads in
	// marketCode with motivation_score >= minScore, highest score first.
	LeadsForInitialOutreach(ctx context.Context, marketCode string, minScore, limit int) ([]*types.Lead, error)
	// HotLeadsForAlerts returns HOT-stage leads in marketCode with
	// motivation_score >= minScore, for the nightly alert pass.
	HotLeadsForAlerts(ctx context.Context, marketCode string, minScore, limit int) ([]*types.Lead, error)
	// ListLeads returns leads matching filter, newest first, for the
	// lead-browsing API surface.
	ListLeads(ctx context.Context, filter types.LeadFilter) ([]*types.Lead, error)

	GetParty(ctx context.Context, id int64) (*types.Party, error)
	FindPartyByMatchHash(ctx context.Context, hash string) (*types.Party, error)
	UpsertParty(ctx context.Context, p *types.Party) (*types.Party, error)

	GetOwner(ctx context.Context, id int64) (*types.Owner, error)
	GetOwnerByParty(ctx context.Context, partyID int64) (*types.Owner, error)
	UpsertOwner(ctx context.Context, o *types.Owner) (*types.Owner, error)

	GetParcel(ctx context.Context, id int64) (*types.Parcel, error)
	FindParcelByCanonicalID(ctx context.Context, parcelID string) (*types.Parcel, error)
	UpsertParcel(ctx context.Context, p *types.Parcel) (*types.Parcel, error)

	InsertOutreachAttempt(ctx context.Context, a *types.OutreachAttempt) (*types.OutreachAttempt, error)
	FindOutreachByIdempotencyKey(ctx context.Context, key string) (*types.OutreachAttempt, error)
	// FindOutreachByProviderSID looks up the attempt a delivery-status
	// webhook's MessageSid refers to.
	FindOutreachByProviderSID(ctx context.Context, sid string) (*types.OutreachAttempt, error)
	UpdateOutreachAttempt(ctx context.Context, a *types.OutreachAttempt) error

	InsertTimelineEvent(ctx context.Context, e *types.TimelineEvent) error
	ListTimelineEvents(ctx context.Context, leadID int64) ([]*types.TimelineEvent, error)

	GetAlertConfig(ctx context.Context, marketCode string) (*types.AlertConfig, error)
	UpsertAlertConfig(ctx context.Context, cfg *types.AlertConfig) (*types.AlertConfig, error)

	CreateTask(ctx context.Context, t *types.BackgroundTask) error
	UpdateTask(ctx context.Context, t *types.BackgroundTask) error
	GetTask(ctx context.Context, id string) (*types.BackgroundTask, error)
	DeleteOldTasks(ctx context.Context, olderThan time.Time) (int, error)

	AcquireSchedulerLock(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error)
	ExtendSchedulerLock(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error)
	ReleaseSchedulerLock(ctx context.Context, name, holderID string) error

	AcquireSendLock(ctx context.Context, leadID int64, holderID string, ttl time.Duration) (bool, error)
	ReleaseSendLock(ctx context.Context, leadID int64, holderID string) error

	ListBuyersForMarket(ctx context.Context, marketCode string) ([]*types.Buyer, error)
	GetBuyer(ctx context.Context, id int64) (*types.Buyer, error)
	UpsertBuyer(ctx context.Context, b *types.Buyer) (*types.Buyer, error)
	GetBuyerDeal(ctx context.Context, buyerID, leadID int64) (*types.BuyerDeal, error)
	UpsertBuyerDeal(ctx context.Context, d *types.BuyerDeal) (*types.BuyerDeal, error)
}

// ErrConflict is returned by InsertOutreachAttempt when a row with the same
// idempotency key already exists (a unique-constraint violation at the
// storage layer). Acquire* operations report a held lock as false instead.
var ErrConflict = &conflictError{}

type conflictError struct{}

func (c *conflictError) Error() string { return "store: conflicting write" }
