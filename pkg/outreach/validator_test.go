package outreach

import (
	"testing"

	"github.com/ebrland/orchestrator/pkg/types"
)

func TestValidate_RejectsMissingPhone(t *testing.T) {
	lead := &types.Lead{ID: 1}
	owner := &types.Owner{ID: 1}
	if _, err := Validate(lead, owner, false); err == nil {
		t.Fatal("expected missing phone to fail validation")
	}
}

func TestValidate_RejectsTollFreeUnlessForced(t *testing.T) {
	p := "8005551234"
	lead := &types.Lead{ID: 1}
	owner := &types.Owner{ID: 1, PhonePrimary: &p}
	if _, err := Validate(lead, owner, false); err == nil {
		t.Fatal("expected toll-free number to fail validation without force")
	}
	if _, err := Validate(lead, owner, true); err != nil {
		t.Fatalf("expected force to bypass the mobile-line heuristic, got %v", err)
	}
}

func TestValidate_AcceptsLikelyMobile(t *testing.T) {
	p := "504-555-0101"
	lead := &types.Lead{ID: 1}
	owner := &types.Owner{ID: 1, PhonePrimary: &p}
	to, err := Validate(lead, owner, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if to != "+15045550101" {
		t.Errorf("expected normalized E.164 number, got %q", to)
	}
}

func TestValidate_OptOutNeverBypassable(t *testing.T) {
	p := "504-555-0101"
	lead := &types.Lead{ID: 1}
	owner := &types.Owner{ID: 1, PhonePrimary: &p, OptOut: true}
	if _, err := Validate(lead, owner, true); err == nil {
		t.Fatal("expected opt-out to block even with force=true")
	}
}

func TestValidate_DoNotReachNeverBypassable(t *testing.T) {
	p := "504-555-0101"
	lead := &types.Lead{ID: 1}
	owner := &types.Owner{ID: 1, PhonePrimary: &p, IsDNR: true}
	if _, err := Validate(lead, owner, true); err == nil {
		t.Fatal("expected do-not-reach to block even with force=true")
	}
}

func TestValidate_BlockingReplyClassificationBypassableWithForce(t *testing.T) {
	p := "504-555-0101"
	lead := &types.Lead{ID: 1, LastReplyClassification: types.ReplyNotInterested}
	owner := &types.Owner{ID: 1, PhonePrimary: &p}
	if _, err := Validate(lead, owner, false); err == nil {
		t.Fatal("expected NOT_INTERESTED classification to block outreach without force")
	}
	if _, err := Validate(lead, owner, true); err != nil {
		t.Fatalf("expected force to bypass the classification block, got %v", err)
	}
}
