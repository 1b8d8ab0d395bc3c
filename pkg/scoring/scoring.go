// Package scoring computes a deterministic 0-100 motivation score for a
// lead from parcel and owner attributes, and maps the score onto pipeline
// stage transitions that never regress a manually-advanced lead.
package scoring

import (
	"context"

	"github.com/ebrland/orchestrator/pkg/store"
	"github.com/ebrland/orchestrator/pkg/types"
)

const (
	HotThreshold     = 65
	ContactThreshold = 45
	RejectThreshold  = 30
)

const (
	weightAdjudicated     = 40
	weightDelinquencyYear = 5
	weightDelinquencyCap  = 20
	weightLowImprovement  = 20
	weightAbsenteeOwner   = 10
	weightLotSizeIdeal    = 10
)

const (
	lotSizeIdealMin = 0.5
	lotSizeIdealMax = 5.0
)

// Breakdown is the per-factor detail behind a lead's motivation score.
type Breakdown struct {
	LeadID          int64
	MotivationScore int
	Factors         []types.ScoreFactor
	Disqualified    bool
	Reason          string
}

// Engine scores leads against their parcel and owner records and persists
// the resulting score and stage transition.
type Engine struct {
	store store.Store
}

func New(s store.Store) *Engine {
	return &Engine{store: s}
}

// Compute scores a single lead against its parcel and owning party.
// Disqualification (no assessed land value, i.e. nothing to base a score
// on) short-circuits to a zero score.
//
// Five independent, additive factors make up the score:
//   - adjudicated (40): parcel.Adjudicated is true.
//   - tax_delinquent_per_year (5/year, capped at 20): parcel.DelinquentYears.
//   - low_improvement (20): improvement value under 10% of land value, or
//     the parcel is flagged vacant land outright.
//   - absentee_owner (10): the party's mailing zip differs from the
//     parcel's situs zip.
//   - lot_size_ideal (10): acreage between 0.5 and 5 acres, inclusive.
func Compute(lead *types.Lead, parcel *types.Parcel, party *types.Party) Breakdown {
	if parcel.AssessedLandVal == nil || *parcel.AssessedLandVal <= 0 {
		return Breakdown{LeadID: lead.ID, MotivationScore: 0, Disqualified: true, Reason: "no assessed land value"}
	}

	var factors []types.ScoreFactor
	score := 0

	adjudicatedValue := 0.0
	if parcel.Adjudicated {
		adjudicatedValue = weightAdjudicated
	}
	factors = append(factors, types.ScoreFactor{Name: "adjudicated", Weight: weightAdjudicated, Value: adjudicatedValue})
	score += int(adjudicatedValue)

	delinquencyValue := parcel.DelinquentYears * weightDelinquencyYear
	if delinquencyValue > weightDelinquencyCap {
		delinquencyValue = weightDelinquencyCap
	}
	factors = append(factors, types.ScoreFactor{Name: "tax_delinquent_per_year", Weight: weightDelinquencyCap, Value: float64(delinquencyValue)})
	score += delinquencyValue

	lowImprovement := parcel.VacantLand
	if !lowImprovement && parcel.ImprovementValue != nil {
		lowImprovement = *parcel.ImprovementValue < 0.10**parcel.AssessedLandVal
	}
	lowImprovementValue := 0.0
	if lowImprovement {
		lowImprovementValue = weightLowImprovement
	}
	factors = append(factors, types.ScoreFactor{Name: "low_improvement", Weight: weightLowImprovement, Value: lowImprovementValue})
	score += int(lowImprovementValue)

	absenteeValue := 0.0
	if party != nil && party.Zip != "" && parcel.SitusZip != "" && party.Zip != parcel.SitusZip {
		absenteeValue = weightAbsenteeOwner
	}
	factors = append(factors, types.ScoreFactor{Name: "absentee_owner", Weight: weightAbsenteeOwner, Value: absenteeValue})
	score += int(absenteeValue)

	lotSizeValue := 0.0
	if parcel.Acreage != nil && *parcel.Acreage >= lotSizeIdealMin && *parcel.Acreage <= lotSizeIdealMax {
		lotSizeValue = weightLotSizeIdeal
	}
	factors = append(factors, types.ScoreFactor{Name: "lot_size_ideal", Weight: weightLotSizeIdeal, Value: lotSizeValue})
	score += int(lotSizeValue)

	if score > 100 {
		score = 100
	}

	return Breakdown{LeadID: lead.ID, MotivationScore: score, Factors: factors}
}

// NextStage derives the pipeline stage implied by breakdown, preserving any
// manually-advanced stage the lead already holds. A score below
// RejectThreshold is treated as a rejected lead and sent back to INGESTED;
// between RejectThreshold and ContactThreshold it waits in PRE_SCORE for a
// later re-score (e.g. after a tax-roll refresh raises its delinquency
// years); ContactThreshold and above enters the NEW queue; HotThreshold and
// above goes straight to HOT.
func NextStage(currentStage types.PipelineStage, breakdown Breakdown) types.PipelineStage {
	if currentStage.IsManuallyAdvanced() {
		return currentStage
	}
	switch {
	case breakdown.Disqualified, breakdown.MotivationScore < RejectThreshold:
		return types.StageIngested
	case breakdown.MotivationScore >= HotThreshold:
		return types.StageHot
	case breakdown.MotivationScore >= ContactThreshold:
		return types.StageNew
	default:
		return types.StagePreScore
	}
}

// ScoreLead computes and atomically persists a lead's score and stage.
func (e *Engine) ScoreLead(ctx context.Context, leadID int64) (Breakdown, error) {
	lead, err := e.store.GetLead(ctx, leadID)
	if err != nil {
		return Breakdown{}, err
	}
	parcel, err := e.store.GetParcel(ctx, lead.ParcelID)
	if err != nil {
		return Breakdown{}, err
	}
	owner, err := e.store.GetOwner(ctx, lead.OwnerID)
	if err != nil {
		return Breakdown{}, err
	}
	party, err := e.store.GetParty(ctx, owner.PartyID)
	if err != nil {
		return Breakdown{}, err
	}

	breakdown := Compute(lead, parcel, party)
	stage := NextStage(lead.PipelineStage, breakdown)

	if err := e.store.UpdateLeadScore(ctx, leadID, breakdown.MotivationScore, stage); err != nil {
		return Breakdown{}, err
	}
	return breakdown, nil
}
