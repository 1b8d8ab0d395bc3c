package scoring

import (
	"testing"

	"github.com/ebrland/orchestrator/pkg/types"
)

func acreage(v float64) *float64 { return &v }
func value(v float64) *float64   { return &v }

func TestCompute_DisqualifiesMissingAssessedValue(t *testing.T) {
	lead := &types.Lead{ID: 1}
	parcel := &types.Parcel{}
	party := &types.Party{}
	b := Compute(lead, parcel, party)
	if !b.Disqualified || b.MotivationScore != 0 {
		t.Fatalf("expected disqualified zero score, got %+v", b)
	}
}

// TestCompute_WorkedExampleScoresOneHundred reproduces the adjudicated,
// absentee, ideal-lot-size parcel that sums to exactly 100: adjudicated
// (40) + 4 years delinquent capped at 20 + zero improvement value on a
// $20,000 lot (20) + mailing zip != situs zip (10) + 2 acres (10).
func TestCompute_WorkedExampleScoresOneHundred(t *testing.T) {
	lead := &types.Lead{ID: 1}
	parcel := &types.Parcel{
		AssessedLandVal:  value(20000),
		ImprovementValue: value(0),
		Adjudicated:      true,
		DelinquentYears:  4,
		Acreage:          acreage(2),
		SitusZip:         "70112",
	}
	party := &types.Party{Zip: "70001"}

	b := Compute(lead, parcel, party)
	if b.Disqualified {
		t.Fatal("should not be disqualified")
	}
	if b.MotivationScore != 100 {
		t.Errorf("expected worked-example score of 100, got %d: %+v", b.MotivationScore, b.Factors)
	}
}

func TestCompute_DelinquencyYearsCapAtTwentyPoints(t *testing.T) {
	lead := &types.Lead{ID: 1}
	parcel := &types.Parcel{AssessedLandVal: value(20000), DelinquentYears: 10}
	party := &types.Party{}

	b := Compute(lead, parcel, party)
	for _, f := range b.Factors {
		if f.Name == "tax_delinquent_per_year" && f.Value != weightDelinquencyCap {
			t.Errorf("expected delinquency factor capped at %d, got %v", weightDelinquencyCap, f.Value)
		}
	}
}

func TestCompute_LotSizeBoundary(t *testing.T) {
	lead := &types.Lead{ID: 1}
	party := &types.Party{}

	atBoundary := &types.Parcel{AssessedLandVal: value(20000), Acreage: acreage(5.0)}
	b := Compute(lead, atBoundary, party)
	if b.MotivationScore != weightLotSizeIdeal {
		t.Errorf("expected 5.0 acres to earn the lot-size bonus, got %d", b.MotivationScore)
	}

	pastBoundary := &types.Parcel{AssessedLandVal: value(20000), Acreage: acreage(5.01)}
	b = Compute(lead, pastBoundary, party)
	if b.MotivationScore != 0 {
		t.Errorf("expected 5.01 acres to miss the lot-size bonus, got %d", b.MotivationScore)
	}
}

func TestNextStage_NeverRegressesManualStage(t *testing.T) {
	b := Breakdown{MotivationScore: 0, Disqualified: true}
	stage := NextStage(types.StageContacted, b)
	if stage != types.StageContacted {
		t.Errorf("expected manual stage preserved, got %s", stage)
	}
}

func TestNextStage_BelowRejectThresholdGoesToIngested(t *testing.T) {
	b := Breakdown{MotivationScore: RejectThreshold - 1}
	stage := NextStage(types.StageIngested, b)
	if stage != types.StageIngested {
		t.Errorf("expected INGESTED, got %s", stage)
	}
}

func TestNextStage_BetweenRejectAndContactWaitsInPreScore(t *testing.T) {
	b := Breakdown{MotivationScore: RejectThreshold}
	stage := NextStage(types.StageIngested, b)
	if stage != types.StagePreScore {
		t.Errorf("expected PRE_SCORE, got %s", stage)
	}
}

func TestNextStage_ContactThresholdPromotesToNew(t *testing.T) {
	b := Breakdown{MotivationScore: ContactThreshold}
	stage := NextStage(types.StageIngested, b)
	if stage != types.StageNew {
		t.Errorf("expected NEW, got %s", stage)
	}
}

// TestNextStage_HotThresholdPromotesToHot checks the boundary case where a
// lead's score lands exactly on HotThreshold.
func TestNextStage_HotThresholdPromotesToHot(t *testing.T) {
	b := Breakdown{MotivationScore: HotThreshold}
	stage := NextStage(types.StageNew, b)
	if stage != types.StageHot {
		t.Errorf("expected HOT, got %s", stage)
	}
}
