package dealsheet

import (
	"context"
	"strings"
	"testing"

	"github.com/ebrland/orchestrator/pkg/store/memstore"
	"github.com/ebrland/orchestrator/pkg/types"
)

func acres(v float64) *float64 { return &v }
func dollars(v float64) *float64 { return &v }

func TestGenerate_ComputesOfferAndScript(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	parcel, err := s.UpsertParcel(ctx, &types.Parcel{
		ParcelID:        "LA-ST-TAMMANY-12345",
		SitusAddress:    "123 Bayou Rd",
		Acreage:         acres(5),
		AssessedLandVal: dollars(100000),
	})
	if err != nil {
		t.Fatalf("unexpected error upserting parcel: %v", err)
	}

	lead, err := s.UpsertLead(ctx, &types.Lead{
		ParcelID:        parcel.ID,
		MarketCode:      "NOLA",
		MotivationScore: 85,
	})
	if err != nil {
		t.Fatalf("unexpected error upserting lead: %v", err)
	}

	gen := NewGenerator(s)
	sheet, err := gen.Generate(ctx, lead.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sheet.OfferRange.CanMakeOffer {
		t.Fatalf("expected an offer to be computable, got %+v", sheet.OfferRange)
	}
	if sheet.OfferRange.Low <= 0 || sheet.OfferRange.High <= sheet.OfferRange.Low {
		t.Errorf("expected a positive, ordered offer range, got %+v", sheet.OfferRange)
	}
	if !strings.Contains(sheet.Script, "123 Bayou Rd") {
		t.Errorf("expected script to mention the property address, got: %s", sheet.Script)
	}
	if !strings.Contains(sheet.Script, "Offer range") {
		t.Errorf("expected script to mention the offer range, got: %s", sheet.Script)
	}
}

type stubDescribeLLM struct {
	description string
	calls       int
}

func (s *stubDescribeLLM) Classify(ctx context.Context, replyText, leadContext string) (string, float64, error) {
	return "", 0, nil
}

func (s *stubDescribeLLM) Describe(ctx context.Context, prompt string) (string, error) {
	s.calls++
	return s.description, nil
}

func TestGenerate_NoLLMConfiguredLeavesDescriptionEmpty(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	parcel, _ := s.UpsertParcel(ctx, &types.Parcel{
		ParcelID: "LA-ORLEANS-54321", SitusAddress: "9 Levee St",
		Acreage: acres(2), AssessedLandVal: dollars(50000),
	})
	lead, _ := s.UpsertLead(ctx, &types.Lead{ParcelID: parcel.ID, MarketCode: "NOLA", MotivationScore: 70})

	gen := NewGenerator(s)
	sheet, err := gen.Generate(ctx, lead.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sheet.AIDescription != "" {
		t.Errorf("expected no AI description without a configured LLM, got %q", sheet.AIDescription)
	}
}

func TestGenerate_WithLLMPopulatesDescription(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	parcel, _ := s.UpsertParcel(ctx, &types.Parcel{
		ParcelID: "LA-ORLEANS-99999", SitusAddress: "12 Canal St",
		Acreage: acres(3), AssessedLandVal: dollars(75000),
	})
	lead, _ := s.UpsertLead(ctx, &types.Lead{ParcelID: parcel.ID, MarketCode: "NOLA", MotivationScore: 70})

	llm := &stubDescribeLLM{description: "A quiet three-acre lot near the canal."}
	gen := NewGenerator(s).WithLLM(llm, nil)
	sheet, err := gen.Generate(ctx, lead.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sheet.AIDescription != llm.description {
		t.Errorf("expected generated description %q, got %q", llm.description, sheet.AIDescription)
	}
	if llm.calls != 1 {
		t.Errorf("expected exactly one Describe call, got %d", llm.calls)
	}
}

func TestGenerate_NoParcelDataYieldsNoOffer(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	lead, err := s.UpsertLead(ctx, &types.Lead{ParcelID: 9999, MarketCode: "NOLA"})
	if err != nil {
		t.Fatalf("unexpected error upserting lead: %v", err)
	}

	gen := NewGenerator(s)
	sheet, err := gen.Generate(ctx, lead.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sheet.OfferRange.CanMakeOffer {
		t.Errorf("expected no offer to be computable without parcel data, got %+v", sheet.OfferRange)
	}
	if !strings.Contains(sheet.Script, "cannot compute") {
		t.Errorf("expected script to explain the missing offer, got: %s", sheet.Script)
	}
}
