// Package buyers scores a lead against the registered buyer list and
// fans the resulting deal out to the matched buyers, grounded on the
// original buyer-matching and buyer-blast services.
package buyers

import (
	"context"
	"sort"
	"strings"

	"github.com/ebrland/orchestrator/pkg/types"
)

// weights mirrors the original service's scoring rubric exactly; the
// total of 100 is the match percentage denominator.
var weights = struct {
	market, county, acreage, budget, vip, pofVerified, spread int
}{market: 25, county: 20, acreage: 15, budget: 15, vip: 10, pofVerified: 10, spread: 5}

const maxPossibleScore = 25 + 20 + 15 + 15 + 10 + 10 + 5

// Factor is one component of a buyer match score.
type Factor struct {
	Name    string
	Score   int
	Max     int
	Matched bool
	Details string
}

// Match is a single buyer scored against a lead.
type Match struct {
	Buyer           types.Buyer
	TotalScore      int
	MatchPercentage float64
	Factors         []Factor
	ExistingDeal    *types.BuyerDeal
}

// ScoreBuyer computes a buyer's match score against a lead's market,
// county, acreage, and an optional anticipated offer price (0 if unknown).
func ScoreBuyer(buyer types.Buyer, marketCode, county string, acreage, offerPrice float64) Match {
	var factors []Factor
	total := 0

	marketMatched := containsFold(buyer.Markets, marketCode)
	total += addFactor(&factors, "market", weights.market, marketMatched, "market preference")

	countyMatched := len(buyer.Counties) == 0 || countyOverlap(buyer.Counties, county)
	total += addFactor(&factors, "county", weights.county, countyMatched, "county preference")

	acreageMatched := true
	if buyer.MinAcreage != nil && acreage < *buyer.MinAcreage {
		acreageMatched = false
	} else if buyer.MaxAcreage != nil && acreage > *buyer.MaxAcreage {
		acreageMatched = false
	}
	total += addFactor(&factors, "acreage", weights.acreage, acreageMatched, "acreage range")

	budgetMatched := true
	if offerPrice > 0 {
		if buyer.MinBudget != nil && offerPrice < *buyer.MinBudget {
			budgetMatched = false
		} else if buyer.MaxBudget != nil && offerPrice > *buyer.MaxBudget {
			budgetMatched = false
		}
	}
	total += addFactor(&factors, "budget", weights.budget, budgetMatched, "budget range")

	total += addFactor(&factors, "vip", weights.vip, buyer.VIP, "VIP status")
	total += addFactor(&factors, "pof_verified", weights.pofVerified, buyer.POFVerified, "proof of funds on file")

	// Target-spread compatibility isn't modeled on the buyer record yet,
	// so this factor always matches, same as the original's simplified
	// placeholder.
	total += addFactor(&factors, "spread", weights.spread, true, "target spread")

	return Match{
		Buyer:           buyer,
		TotalScore:      total,
		MatchPercentage: float64(total) / float64(maxPossibleScore) * 100,
		Factors:         factors,
	}
}

func addFactor(factors *[]Factor, name string, weight int, matched bool, details string) int {
	score := 0
	if matched {
		score = weight
	}
	*factors = append(*factors, Factor{Name: name, Score: score, Max: weight, Matched: matched, Details: details})
	return score
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

// countyOverlap mirrors the original's loose substring match in either
// direction, tolerating "St. Tammany" vs "St. Tammany Parish" style
// variance between buyer preferences and parcel records.
func countyOverlap(preferred []string, county string) bool {
	if county == "" {
		return false
	}
	upperCounty := strings.ToUpper(county)
	for _, c := range preferred {
		upperPref := strings.ToUpper(c)
		if strings.Contains(upperCounty, upperPref) || strings.Contains(upperPref, upperCounty) {
			return true
		}
	}
	return false
}

// Matcher ranks the full buyer list for a market against a lead.
type Matcher struct {
	listBuyers func(ctx context.Context, marketCode string) ([]*types.Buyer, error)
}

func NewMatcher(listBuyers func(ctx context.Context, marketCode string) ([]*types.Buyer, error)) *Matcher {
	return &Matcher{listBuyers: listBuyers}
}

// MatchBuyers returns buyers for marketCode scoring at or above minScore,
// sorted VIP-first then by descending score, capped at limit.
func (m *Matcher) MatchBuyers(ctx context.Context, marketCode, county string, acreage, offerPrice, minScore float64, limit int) ([]Match, error) {
	buyers, err := m.listBuyers(ctx, marketCode)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, b := range buyers {
		match := ScoreBuyer(*b, marketCode, county, acreage, offerPrice)
		if match.MatchPercentage >= minScore {
			matches = append(matches, match)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Buyer.VIP != matches[j].Buyer.VIP {
			return matches[i].Buyer.VIP
		}
		return matches[i].TotalScore > matches[j].TotalScore
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
