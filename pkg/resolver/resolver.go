// Package resolver turns raw ingestion rows into canonical Party/Owner/
// Parcel/Lead records, grounded on the original tax-roll ingestion pipeline's
// upsert order: parcel, then party, then owner, then lead.
package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/ebrland/orchestrator/pkg/phone"
	"github.com/ebrland/orchestrator/pkg/store"
	"github.com/ebrland/orchestrator/pkg/types"
)

var nonAlphaNum = regexp.MustCompile(`[^A-Za-z0-9]`)

// CanonicalParcelID normalizes a raw parcel identifier: strip non-alphanumeric
// characters, uppercase, right-pad with '0' to 12 characters, truncate at 12.
// Applying this twice to an already-canonical ID is a no-op.
func CanonicalParcelID(raw string) string {
	cleaned := strings.ToUpper(nonAlphaNum.ReplaceAllString(raw, ""))
	for len(cleaned) < 12 {
		cleaned += "0"
	}
	return cleaned[:12]
}

// MatchHash computes the Party identity hash: SHA256(UPPER(name)+"|"+zip).
func MatchHash(name, zip string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(strings.TrimSpace(name)) + "|" + strings.TrimSpace(zip)))
	return hex.EncodeToString(sum[:])
}

// RawRecord is one row of ingested tax-roll/adjudicated/GIS data.
type RawRecord struct {
	ParcelID         string
	OwnerName        string
	OwnerZip         string
	SitusAddress     string
	SitusZip         string
	Parish           string
	Acreage          *float64
	AssessedLandVal  *float64
	ImprovementValue *float64
	VacantLand       bool
	Adjudicated      bool
	DelinquentYears  int
	Phone            *string
	MarketCode       string
}

// Resolver resolves raw records into persisted Party/Owner/Parcel/Lead rows.
type Resolver struct {
	store store.Store
}

func New(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Result reports the entities produced for one raw record.
type Result struct {
	Parcel  *types.Parcel
	Party   *types.Party
	Owner   *types.Owner
	Lead    *types.Lead
	Created bool // true if the Lead row was newly created (not pre-existing)
}

// Resolve upserts the parcel, party, owner, and lead for rec, in that order,
// so a batch failure partway through never leaves a lead referencing a
// missing parcel or owner.
func (r *Resolver) Resolve(ctx context.Context, rec RawRecord) (*Result, error) {
	canonicalID := CanonicalParcelID(rec.ParcelID)

	parcel, err := r.store.UpsertParcel(ctx, &types.Parcel{
		ParcelID:         canonicalID,
		SitusAddress:     rec.SitusAddress,
		SitusZip:         rec.SitusZip,
		Parish:           rec.Parish,
		Acreage:          rec.Acreage,
		AssessedLandVal:  rec.AssessedLandVal,
		ImprovementValue: rec.ImprovementValue,
		VacantLand:       rec.VacantLand,
		Adjudicated:      rec.Adjudicated,
		DelinquentYears:  rec.DelinquentYears,
	})
	if err != nil {
		return nil, err
	}

	party, err := r.store.UpsertParty(ctx, &types.Party{
		DisplayName: rec.OwnerName,
		MatchHash:   MatchHash(rec.OwnerName, rec.OwnerZip),
		Zip:         rec.OwnerZip,
	})
	if err != nil {
		return nil, err
	}

	// Normalize and classify the phone once here, at ingestion, rather than
	// re-deriving TCPA safety on every outreach attempt. The phone and its
	// TCPA status live on the Owner, not the Lead, since one Owner can carry
	// several Leads and they all share the same contact channel.
	var normalizedPhone *string
	phoneValidated := false
	if rec.Phone != nil {
		if e164 := phone.NormalizeE164(*rec.Phone); e164 != "" {
			normalizedPhone = &e164
			phoneValidated = phone.IsTCPASafe(e164)
		}
	}

	owner, err := r.store.UpsertOwner(ctx, &types.Owner{
		PartyID: party.ID, PhonePrimary: normalizedPhone, IsTCPASafe: phoneValidated,
	})
	if err != nil {
		return nil, err
	}

	existing, err := r.store.GetLeadByOwnerParcel(ctx, owner.ID, parcel.ID)
	created := false
	if err != nil {
		lead, err := r.store.UpsertLead(ctx, &types.Lead{
			OwnerID: owner.ID, ParcelID: parcel.ID, MarketCode: rec.MarketCode,
		})
		if err != nil {
			return nil, err
		}
		existing = lead
		created = true
	}

	return &Result{Parcel: parcel, Party: party, Owner: owner, Lead: existing, Created: created}, nil
}
