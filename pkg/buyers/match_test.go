package buyers

import (
	"testing"

	"github.com/ebrland/orchestrator/pkg/types"
)

func acres(v float64) *float64   { return &v }
func dollars(v float64) *float64 { return &v }

func TestScoreBuyer_FullMatchScoresMax(t *testing.T) {
	buyer := types.Buyer{
		Markets: []string{"NOLA"}, Counties: []string{"St. Tammany"},
		VIP: true, POFVerified: true,
		MinAcreage: acres(1), MaxAcreage: acres(50),
		MinBudget: dollars(10000), MaxBudget: dollars(500000),
	}
	match := ScoreBuyer(buyer, "NOLA", "St. Tammany Parish", 10, 50000)
	if match.TotalScore != maxPossibleScore {
		t.Errorf("expected full score %d, got %d (%+v)", maxPossibleScore, match.TotalScore, match.Factors)
	}
}

func TestScoreBuyer_NoCountyPreferenceMatches(t *testing.T) {
	buyer := types.Buyer{Markets: []string{"NOLA"}}
	match := ScoreBuyer(buyer, "NOLA", "Orleans Parish", 5, 0)
	for _, f := range match.Factors {
		if f.Name == "county" && !f.Matched {
			t.Error("expected no county preference to match any county")
		}
	}
}

func TestScoreBuyer_OutOfAcreageRangeFails(t *testing.T) {
	buyer := types.Buyer{Markets: []string{"NOLA"}, MaxAcreage: acres(5)}
	match := ScoreBuyer(buyer, "NOLA", "", 20, 0)
	for _, f := range match.Factors {
		if f.Name == "acreage" && f.Matched {
			t.Error("expected acreage above max to fail the match")
		}
	}
}

func TestScoreBuyer_WrongMarketScoresZeroOnThatFactor(t *testing.T) {
	buyer := types.Buyer{Markets: []string{"BATON_ROUGE"}}
	match := ScoreBuyer(buyer, "NOLA", "", 5, 0)
	for _, f := range match.Factors {
		if f.Name == "market" && f.Matched {
			t.Error("expected mismatched market to score zero")
		}
	}
}
