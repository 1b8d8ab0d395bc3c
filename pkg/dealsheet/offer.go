// Package dealsheet computes a justified cash-offer range for a parcel
// and assembles the call-prep sheet a negotiator works from. Offer
// calculation is grounded on the original offer helper service: never a
// single number, always a range with explicit warnings about missing
// data, and never a per-acre figure when acreage is unknown.
package dealsheet

import (
	"fmt"

	"github.com/ebrland/orchestrator/pkg/types"
)

const (
	defaultDiscountLow  = 0.55
	defaultDiscountHigh = 0.70

	adjudicatedDiscount       = 0.15
	delinquentDiscountPerYear = 0.02
	delinquentDiscountMax     = 0.10
	smallLotPremium           = 0.05
	largeLotDiscount          = 0.05

	minDiscountLow  = 0.30
	maxDiscountLow  = 0.90
	minDiscountHigh = 0.35
	maxDiscountHigh = 0.95
)

// ComputeOfferRange derives a cash-offer range from parcel's assessed land
// value, applying the same lot-size, adjudication, and tax-delinquency
// adjustments the original helper service used.
func ComputeOfferRange(parcel *types.Parcel) types.OfferRange {
	if parcel == nil {
		return types.OfferRange{
			CanMakeOffer: false,
			Reason:       "No parcel data available. Ingest parcel records first.",
			Warnings:     []string{"no_parcel_data"},
			Confidence:   "cannot_compute",
		}
	}

	if parcel.AssessedLandVal == nil || *parcel.AssessedLandVal <= 0 {
		warnings := []string{"missing_land_value"}
		if parcel.AssessedLandVal != nil && *parcel.AssessedLandVal == 0 {
			warnings = append(warnings, "zero_land_value")
		}
		return types.OfferRange{
			Acreage:      parcel.Acreage,
			CanMakeOffer: false,
			Reason:       "No assessed land value on record. Check parish assessor records.",
			Warnings:     warnings,
			Confidence:   "cannot_compute",
		}
	}

	landValue := *parcel.AssessedLandVal
	discountLow, discountHigh := defaultDiscountLow, defaultDiscountHigh
	var justifications []string
	var warnings []string

	justifications = append(justifications, fmt.Sprintf("Based on $%.0f assessed land value", landValue))

	if parcel.Acreage == nil {
		warnings = append(warnings, "missing_acreage")
		justifications = append(justifications, "Acreage unknown - per-acre pricing unavailable")
	} else {
		acreage := *parcel.Acreage
		justifications = append(justifications, fmt.Sprintf("%.2f acres", acreage))
		switch {
		case acreage < 1:
			discountLow += smallLotPremium
			discountHigh += smallLotPremium
			justifications = append(justifications, "Small lot (<1 acre) - easier to sell")
		case acreage > 10:
			discountLow -= largeLotDiscount
			discountHigh -= largeLotDiscount
			justifications = append(justifications, "Large lot (>10 acres) - harder to sell")
		}
	}

	if parcel.Adjudicated {
		discountLow -= adjudicatedDiscount
		discountHigh -= adjudicatedDiscount
		warnings = append(warnings, "adjudicated_title_risk")
		justifications = append(justifications, "Property is adjudicated - title clearing required")
	}

	if parcel.DelinquentYears > 0 {
		delinquentDiscount := float64(parcel.DelinquentYears) * delinquentDiscountPerYear
		if delinquentDiscount > delinquentDiscountMax {
			delinquentDiscount = delinquentDiscountMax
		}
		discountLow -= delinquentDiscount
		discountHigh -= delinquentDiscount
		warnings = append(warnings, "tax_delinquent")
		justifications = append(justifications, fmt.Sprintf("%d years tax delinquent", parcel.DelinquentYears))
	}

	discountLow = clamp(discountLow, minDiscountLow, maxDiscountLow)
	discountHigh = clamp(discountHigh, minDiscountHigh, maxDiscountHigh)

	low := roundDownToHundred(int(landValue * discountLow))
	high := roundDownToHundred(int(landValue * discountHigh))
	if low > high {
		low, high = high, low
	}
	if low < 500 {
		low = 500
	}
	if high < 1000 {
		high = 1000
	}

	confidence, reason := confidenceFor(parcel)

	return types.OfferRange{
		Low:            low,
		High:           high,
		LandValue:      &landValue,
		Acreage:        parcel.Acreage,
		DiscountLow:    discountLow,
		DiscountHigh:   discountHigh,
		Justifications: justifications,
		CanMakeOffer:   true,
		Reason:         reason,
		Warnings:       warnings,
		Confidence:     confidence,
	}
}

func confidenceFor(parcel *types.Parcel) (confidence, reason string) {
	switch {
	case parcel.Acreage != nil && !parcel.Adjudicated && parcel.DelinquentYears == 0:
		return "high", "All data available - high confidence estimate"
	case parcel.Acreage == nil:
		return "medium", "Missing acreage data - per-acre pricing unavailable"
	case parcel.Adjudicated:
		return "medium", "Adjudicated property - verify title status before closing"
	default:
		return "medium", "Some data quality issues - verify before final offer"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundDownToHundred(v int) int {
	return (v / 100) * 100
}

// PricePerAcre returns the low/high per-acre figures, or (0, 0, false)
// when acreage is unknown or no offer could be computed — never a
// guessed per-acre number.
func PricePerAcre(o types.OfferRange) (low, high int, ok bool) {
	if !o.CanMakeOffer || o.Acreage == nil || *o.Acreage <= 0 {
		return 0, 0, false
	}
	return int(float64(o.Low) / *o.Acreage), int(float64(o.High) / *o.Acreage), true
}
