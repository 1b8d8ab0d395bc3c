package outreach

import (
	apperrors "github.com/ebrland/orchestrator/internal/errors"
	"github.com/ebrland/orchestrator/pkg/phone"
	"github.com/ebrland/orchestrator/pkg/types"
)

// Validate runs the TCPA gate against lead/owner before a send is
// attempted, in priority order: owner opt-out, owner do-not-reach, a
// blocking last-reply classification (NOT_INTERESTED/DEAD), missing phone,
// then phone-number shape. Opt-out and do-not-reach are never bypassable,
// matching the original service's hard stop on is_dnr/opt_out; a blocking
// reply classification can be overridden with force for an
// operator-confirmed manual send.
func Validate(lead *types.Lead, owner *types.Owner, force bool) (string, error) {
	if owner.OptOut {
		return "", apperrors.New(apperrors.ErrorTypeValidation, "owner has opted out").
			WithDetails("STOP request honored; outreach permanently blocked")
	}
	if owner.IsDNR {
		return "", apperrors.New(apperrors.ErrorTypeValidation, "owner is marked do-not-reach")
	}
	if lead.LastReplyClassification.BlocksOutreach() && !force {
		return "", apperrors.New(apperrors.ErrorTypeValidation, "lead is blocked").
			WithDetailsf("reason: %s (retry with force to override)", lead.LastReplyClassification)
	}
	if owner.PhonePrimary == nil || *owner.PhonePrimary == "" {
		return "", apperrors.New(apperrors.ErrorTypeValidation, "owner has no phone number")
	}

	result := phone.ValidateForSMS(*owner.PhonePrimary)
	if !result.IsValid {
		return "", apperrors.New(apperrors.ErrorTypeValidation, "owner phone number is invalid").
			WithDetails(*owner.PhonePrimary)
	}
	if !force && !result.IsMobile {
		return "", apperrors.New(apperrors.ErrorTypeValidation, "owner phone number is not a mobile line").
			WithDetails("toll-free/business numbers are excluded from SMS outreach")
	}

	return result.E164, nil
}
