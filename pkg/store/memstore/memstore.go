// Package memstore is an in-memory store.Store fake used by unit tests
// across the domain packages, so scoring, outreach, and conversation logic
// can be exercised without a PostgreSQL instance.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/ebrland/orchestrator/internal/errors"
	"github.com/ebrland/orchestrator/pkg/store"
	"github.com/ebrland/orchestrator/pkg/types"
)

type Memstore struct {
	mu sync.Mutex

	nextID int64

	leads     map[int64]*types.Lead
	parties   map[int64]*types.Party
	owners    map[int64]*types.Owner
	parcels   map[int64]*types.Parcel
	attempts  map[int64]*types.OutreachAttempt
	events    []*types.TimelineEvent
	alerts    map[string]*types.AlertConfig
	tasks     map[string]*types.BackgroundTask
	schedLock map[string]schedLockRow
	sendLock  map[int64]schedLockRow
	buyers    map[int64]*types.Buyer
	deals     map[string]*types.BuyerDeal
}

type schedLockRow struct {
	holderID  string
	expiresAt time.Time
}

func New() *Memstore {
	return &Memstore{
		leads:     make(map[int64]*types.Lead),
		parties:   make(map[int64]*types.Party),
		owners:    make(map[int64]*types.Owner),
		parcels:   make(map[int64]*types.Parcel),
		attempts:  make(map[int64]*types.OutreachAttempt),
		alerts:    make(map[string]*types.AlertConfig),
		tasks:     make(map[string]*types.BackgroundTask),
		schedLock: make(map[string]schedLockRow),
		sendLock:  make(map[int64]schedLockRow),
		buyers:    make(map[int64]*types.Buyer),
		deals:     make(map[string]*types.BuyerDeal),
	}
}

func (m *Memstore) id() int64 {
	m.nextID++
	return m.nextID
}

var _ store.Store = (*Memstore)(nil)

func (m *Memstore) GetLead(ctx context.Context, id int64) (*types.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("lead")
	}
	cp := *l
	return &cp, nil
}

func (m *Memstore) GetLeadByOwnerParcel(ctx context.Context, ownerID, parcelID int64) (*types.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.leads {
		if l.OwnerID == ownerID && l.ParcelID == parcelID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, apperrors.NewNotFoundError("lead")
}

// GetLeadByPhone resolves an inbound webhook's From number to an owner, then
// returns that owner's most recently updated lead (an owner may hold leads
// on several parcels; the conversation belongs to whichever one they most
// recently heard from us about).
func (m *Memstore) GetLeadByPhone(ctx context.Context, phone string) (*types.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ownerID int64
	found := false
	for _, o := range m.owners {
		if o.PhonePrimary != nil && *o.PhonePrimary == phone {
			ownerID = o.ID
			found = true
			break
		}
	}
	if !found {
		return nil, apperrors.NewNotFoundError("lead")
	}
	var best *types.Lead
	for _, l := range m.leads {
		if l.OwnerID != ownerID {
			continue
		}
		if best == nil || l.UpdatedAt.After(best.UpdatedAt) {
			best = l
		}
	}
	if best == nil {
		return nil, apperrors.NewNotFoundError("lead")
	}
	cp := *best
	return &cp, nil
}

func (m *Memstore) UpsertLead(ctx context.Context, lead *types.Lead) (*types.Lead, error) {
	if existing, err := m.GetLeadByOwnerParcel(ctx, lead.OwnerID, lead.ParcelID); err == nil {
		return existing, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	now := time.Now()
	cp := *lead
	cp.ID = id
	cp.PipelineStage = types.StageIngested
	cp.CreatedAt, cp.UpdatedAt = now, now
	l := &cp
	m.leads[id] = l
	result := *l
	return &result, nil
}

func (m *Memstore) UpdateLeadScore(ctx context.Context, leadID int64, score int, stage types.PipelineStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[leadID]
	if !ok {
		return apperrors.NewNotFoundError("lead")
	}
	l.MotivationScore = score
	l.PipelineStage = stage
	l.UpdatedAt = time.Now()
	return nil
}

func (m *Memstore) UpdateLeadReply(ctx context.Context, leadID int64, classification types.ReplyClassification, stage types.PipelineStage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[leadID]
	if !ok {
		return apperrors.NewNotFoundError("lead")
	}
	l.LastReplyClassification = classification
	l.PipelineStage = stage
	l.UpdatedAt = time.Now()
	return nil
}

func (m *Memstore) UpdateLeadFollowup(ctx context.Context, leadID int64, count int, next *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[leadID]
	if !ok {
		return apperrors.NewNotFoundError("lead")
	}
	l.FollowupCount = count
	l.NextFollowupAt = next
	l.UpdatedAt = time.Now()
	return nil
}

func (m *Memstore) MarkOptedOut(ctx context.Context, ownerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.owners[ownerID]
	if !ok {
		return apperrors.NewNotFoundError("owner")
	}
	now := time.Now()
	o.OptOut = true
	o.OptOutAt = &now
	for _, l := range m.leads {
		if l.OwnerID == ownerID {
			l.NextFollowupAt = nil
		}
	}
	return nil
}

// blockedOwner reports whether ownerID has opted out or been marked
// do-not-reach; callers hold m.mu.
func (m *Memstore) blockedOwner(ownerID int64) bool {
	o, ok := m.owners[ownerID]
	if !ok {
		return true
	}
	return o.OptOut || o.IsDNR
}

func (m *Memstore) LeadsDueForFollowup(ctx context.Context, marketCode string, asOf time.Time) ([]*types.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Lead
	for _, l := range m.leads {
		if l.MarketCode != marketCode || l.PipelineStage == types.StageHot {
			continue
		}
		if l.LastReplyClassification.BlocksOutreach() {
			continue
		}
		if m.blockedOwner(l.OwnerID) {
			continue
		}
		if l.NextFollowupAt != nil && !l.NextFollowupAt.After(asOf) {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memstore) LeadsForInitialOutreach(ctx context.Context, marketCode string, minScore, limit int) ([]*types.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Lead
	for _, l := range m.leads {
		if l.MarketCode != marketCode || l.PipelineStage != types.StageNew || l.FollowupCount != 0 {
			continue
		}
		if m.blockedOwner(l.OwnerID) || l.MotivationScore < minScore {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MotivationScore > out[j].MotivationScore })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memstore) HotLeadsForAlerts(ctx context.Context, marketCode string, minScore, limit int) ([]*types.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Lead
	for _, l := range m.leads {
		if l.MarketCode != marketCode || l.PipelineStage != types.StageHot || l.MotivationScore < minScore {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MotivationScore > out[j].MotivationScore })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memstore) GetParty(ctx context.Context, id int64) (*types.Party, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parties[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("party")
	}
	cp := *p
	return &cp, nil
}

func (m *Memstore) FindPartyByMatchHash(ctx context.Context, hash string) (*types.Party, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.parties {
		if p.MatchHash == hash {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperrors.NewNotFoundError("party")
}

func (m *Memstore) UpsertParty(ctx context.Context, party *types.Party) (*types.Party, error) {
	if existing, err := m.FindPartyByMatchHash(ctx, party.MatchHash); err == nil {
		return existing, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	p := &types.Party{ID: id, DisplayName: party.DisplayName, MatchHash: party.MatchHash, Zip: party.Zip}
	m.parties[id] = p
	cp := *p
	return &cp, nil
}

func (m *Memstore) GetOwner(ctx context.Context, id int64) (*types.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.owners[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("owner")
	}
	cp := *o
	return &cp, nil
}

func (m *Memstore) GetOwnerByParty(ctx context.Context, partyID int64) (*types.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.owners {
		if o.PartyID == partyID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, apperrors.NewNotFoundError("owner")
}

// UpsertOwner inserts a new owner row for owner.PartyID, or merges the
// incoming contact fields into the existing one. A later ingestion run that
// resolves a fresher phone number for the same party updates it in place
// rather than being silently dropped.
func (m *Memstore) UpsertOwner(ctx context.Context, owner *types.Owner) (*types.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.owners {
		if o.PartyID == owner.PartyID {
			if owner.PhonePrimary != nil {
				o.PhonePrimary = owner.PhonePrimary
				o.IsTCPASafe = owner.IsTCPASafe
			}
			if owner.Email != "" {
				o.Email = owner.Email
			}
			cp := *o
			return &cp, nil
		}
	}
	id := m.id()
	o := &types.Owner{
		ID: id, PartyID: owner.PartyID, PhonePrimary: owner.PhonePrimary,
		Email: owner.Email, IsTCPASafe: owner.IsTCPASafe,
	}
	m.owners[id] = o
	cp := *o
	return &cp, nil
}

func (m *Memstore) GetParcel(ctx context.Context, id int64) (*types.Parcel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parcels[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("parcel")
	}
	cp := *p
	return &cp, nil
}

func (m *Memstore) FindParcelByCanonicalID(ctx context.Context, parcelID string) (*types.Parcel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.parcels {
		if p.ParcelID == parcelID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperrors.NewNotFoundError("parcel")
}

func (m *Memstore) UpsertParcel(ctx context.Context, parcel *types.Parcel) (*types.Parcel, error) {
	if existing, err := m.FindParcelByCanonicalID(ctx, parcel.ParcelID); err == nil {
		m.mu.Lock()
		p := m.parcels[existing.ID]
		p.SitusAddress = parcel.SitusAddress
		p.SitusZip = parcel.SitusZip
		if parcel.Acreage != nil {
			p.Acreage = parcel.Acreage
		}
		if parcel.AssessedLandVal != nil {
			p.AssessedLandVal = parcel.AssessedLandVal
		}
		if parcel.ImprovementValue != nil {
			p.ImprovementValue = parcel.ImprovementValue
		}
		p.VacantLand = parcel.VacantLand
		p.Adjudicated = parcel.Adjudicated
		p.DelinquentYears = parcel.DelinquentYears
		cp := *p
		m.mu.Unlock()
		return &cp, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	cp := *parcel
	cp.ID = id
	m.parcels[id] = &cp
	out := cp
	return &out, nil
}

func (m *Memstore) InsertOutreachAttempt(ctx context.Context, a *types.OutreachAttempt) (*types.OutreachAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.attempts {
		if existing.IdempotencyKey == a.IdempotencyKey {
			return nil, store.ErrConflict
		}
	}
	id := m.id()
	now := time.Now()
	cp := *a
	cp.ID = id
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.attempts[id] = &cp
	out := cp
	return &out, nil
}

func (m *Memstore) FindOutreachByIdempotencyKey(ctx context.Context, key string) (*types.OutreachAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.IdempotencyKey == key {
			cp := *a
			return &cp, nil
		}
	}
	return nil, apperrors.NewNotFoundError("outreach_attempt")
}

func (m *Memstore) FindOutreachByProviderSID(ctx context.Context, sid string) (*types.OutreachAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.ProviderSID == sid {
			cp := *a
			return &cp, nil
		}
	}
	return nil, apperrors.NewNotFoundError("outreach_attempt")
}

func (m *Memstore) UpdateOutreachAttempt(ctx context.Context, a *types.OutreachAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.attempts[a.ID]
	if !ok {
		return apperrors.NewNotFoundError("outreach_attempt")
	}
	existing.Status = a.Status
	existing.Result = a.Result
	existing.ErrorCode = a.ErrorCode
	existing.ProviderSID = a.ProviderSID
	existing.UpdatedAt = time.Now()
	return nil
}

func (m *Memstore) InsertTimelineEvent(ctx context.Context, e *types.TimelineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	cp.ID = m.id()
	cp.CreatedAt = time.Now()
	m.events = append(m.events, &cp)
	return nil
}

func (m *Memstore) ListTimelineEvents(ctx context.Context, leadID int64) ([]*types.TimelineEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.TimelineEvent
	for _, e := range m.events {
		if e.LeadID == leadID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memstore) GetAlertConfig(ctx context.Context, marketCode string) (*types.AlertConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.alerts[marketCode]
	if !ok {
		return nil, apperrors.NewNotFoundError("alert_config")
	}
	cp := *cfg
	return &cp, nil
}

func (m *Memstore) UpsertAlertConfig(ctx context.Context, cfg *types.AlertConfig) (*types.AlertConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cfg
	m.alerts[cfg.MarketCode] = &cp
	out := cp
	return &out, nil
}

func (m *Memstore) CreateTask(ctx context.Context, t *types.BackgroundTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	cp.CreatedAt = time.Now()
	m.tasks[t.ID] = &cp
	return nil
}

func (m *Memstore) UpdateTask(ctx context.Context, t *types.BackgroundTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.tasks[t.ID]
	if !ok {
		return apperrors.NewNotFoundError("task")
	}
	existing.Status = t.Status
	existing.Result = t.Result
	existing.Error = t.Error
	existing.StartedAt = t.StartedAt
	existing.EndedAt = t.EndedAt
	return nil
}

func (m *Memstore) GetTask(ctx context.Context, id string) (*types.BackgroundTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("task")
	}
	cp := *t
	return &cp, nil
}

func (m *Memstore) DeleteOldTasks(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, t := range m.tasks {
		if t.CreatedAt.Before(olderThan) {
			delete(m.tasks, id)
			n++
		}
	}
	return n, nil
}

func (m *Memstore) AcquireSchedulerLock(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	row, exists := m.schedLock[name]
	if exists && row.holderID != holderID && row.expiresAt.After(now) {
		return false, nil
	}
	m.schedLock[name] = schedLockRow{holderID: holderID, expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *Memstore) ExtendSchedulerLock(ctx context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, exists := m.schedLock[name]
	if !exists || row.holderID != holderID {
		return false, nil
	}
	m.schedLock[name] = schedLockRow{holderID: holderID, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (m *Memstore) ReleaseSchedulerLock(ctx context.Context, name, holderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.schedLock[name]; ok && row.holderID == holderID {
		delete(m.schedLock, name)
	}
	return nil
}

func (m *Memstore) AcquireSendLock(ctx context.Context, leadID int64, holderID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	row, exists := m.sendLock[leadID]
	if exists && row.holderID != holderID && row.expiresAt.After(now) {
		return false, nil
	}
	m.sendLock[leadID] = schedLockRow{holderID: holderID, expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *Memstore) ReleaseSendLock(ctx context.Context, leadID int64, holderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.sendLock[leadID]; ok && row.holderID == holderID {
		delete(m.sendLock, leadID)
	}
	return nil
}

func (m *Memstore) ListLeads(ctx context.Context, filter types.LeadFilter) ([]*types.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Lead
	for _, l := range m.leads {
		if filter.MarketCode != "" && l.MarketCode != filter.MarketCode {
			continue
		}
		if filter.Stage != "" && l.PipelineStage != filter.Stage {
			continue
		}
		if l.MotivationScore < filter.MinScore {
			continue
		}
		if filter.TCPASafeOnly {
			o, ok := m.owners[l.OwnerID]
			if !ok || !o.IsTCPASafe || o.OptOut || o.IsDNR {
				continue
			}
		}
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memstore) ListBuyersForMarket(ctx context.Context, marketCode string) ([]*types.Buyer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Buyer
	for _, b := range m.buyers {
		for _, mk := range b.Markets {
			if mk == marketCode {
				cp := *b
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

// AddBuyer is a test helper, not part of store.Store.
func (m *Memstore) AddBuyer(b *types.Buyer) *types.Buyer {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	cp := *b
	cp.ID = id
	m.buyers[id] = &cp
	out := cp
	return &out
}

func (m *Memstore) GetBuyer(ctx context.Context, id int64) (*types.Buyer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buyers[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("buyer")
	}
	cp := *b
	return &cp, nil
}

func (m *Memstore) UpsertBuyer(ctx context.Context, b *types.Buyer) (*types.Buyer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	if cp.ID == 0 {
		cp.ID = m.id()
	}
	m.buyers[cp.ID] = &cp
	result := cp
	return &result, nil
}

func dealKey(buyerID, leadID int64) string {
	return fmt.Sprintf("%d:%d", buyerID, leadID)
}

func (m *Memstore) GetBuyerDeal(ctx context.Context, buyerID, leadID int64) (*types.BuyerDeal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deals[dealKey(buyerID, leadID)]
	if !ok {
		return nil, apperrors.NewNotFoundError("buyer_deal")
	}
	cp := *d
	return &cp, nil
}

func (m *Memstore) UpsertBuyerDeal(ctx context.Context, d *types.BuyerDeal) (*types.BuyerDeal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dealKey(d.BuyerID, d.LeadID)
	existing, ok := m.deals[key]
	if ok {
		existing.BlastSentAt = d.BlastSentAt
		cp := *existing
		return &cp, nil
	}
	cp := *d
	cp.ID = m.id()
	m.deals[key] = &cp
	out := cp
	return &out, nil
}
