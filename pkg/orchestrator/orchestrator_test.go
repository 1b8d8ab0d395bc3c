package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/ebrland/orchestrator/pkg/alerts"
	"github.com/ebrland/orchestrator/pkg/circuitbreaker"
	"github.com/ebrland/orchestrator/pkg/market"
	"github.com/ebrland/orchestrator/pkg/outreach"
	"github.com/ebrland/orchestrator/pkg/store/memstore"
	"github.com/ebrland/orchestrator/pkg/types"
)

type fakeSender struct{ calls int }

func (f *fakeSender) SendSMS(ctx context.Context, to, body string) (types.SendResult, error) {
	f.calls++
	return types.SendResult{ProviderSID: "SM1", Status: "queued"}, nil
}

func phoneOf(s string) *string   { return &s }
func landVal(v float64) *float64 { return &v }

func newTestOwner(s *memstore.Memstore, ctx context.Context, phone string) *types.Owner {
	party, _ := s.UpsertParty(ctx, &types.Party{DisplayName: "Test Owner", MatchHash: phone})
	owner, _ := s.UpsertOwner(ctx, &types.Owner{PartyID: party.ID, PhonePrimary: phoneOf(phone), IsTCPASafe: true})
	return owner
}

func newOrchestrator(s *memstore.Memstore, sender *fakeSender) *Orchestrator {
	dispatcher := outreach.NewDispatcher(outreach.DispatcherConfig{
		Store: s, Breaker: circuitbreaker.NewManager(nil), Sender: sender, HolderID: "nightly-1",
	})
	alertDispatcher := alerts.New(s, circuitbreaker.NewManager(nil), sender)
	registry := market.NewRegistry("default")
	return New(s, dispatcher, alertDispatcher, registry, "nightly-1", func(l *types.Lead, n int) string {
		return "checking in"
	})
}

func TestRunNightlyPipeline_ScoresAndSendsInitialOutreach(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	parcel, _ := s.UpsertParcel(ctx, &types.Parcel{
		SitusAddress:    "123 Main St",
		Parish:          "Orleans",
		Acreage:         landVal(1.2),
		AssessedLandVal: landVal(20000),
		Adjudicated:     true,
		DelinquentYears: 1,
	})
	owner := newTestOwner(s, ctx, "504-555-0150")
	lead, _ := s.UpsertLead(ctx, &types.Lead{
		MarketCode: "default",
		ParcelID:   parcel.ID,
		OwnerID:    owner.ID,
	})

	sender := &fakeSender{}
	o := newOrchestrator(s, sender)

	result, err := o.RunNightlyPipeline(ctx, []string{"default"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Markets) != 1 {
		t.Fatalf("expected one market result, got %d", len(result.Markets))
	}
	mr := result.Markets[0]
	if mr.Scored != 1 {
		t.Errorf("expected one lead scored, got %d", mr.Scored)
	}

	updated, err := s.GetLead(ctx, lead.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.MotivationScore <= 0 {
		t.Errorf("expected lead to receive a positive motivation score, got %d", updated.MotivationScore)
	}

	if updated.PipelineStage != types.StageNew {
		t.Errorf("expected score %d to place the lead in NEW, got %s", updated.MotivationScore, updated.PipelineStage)
	}
	if mr.Outreach.Sent != 1 || sender.calls != 1 {
		t.Errorf("expected initial outreach sent, got %+v (calls=%d)", mr.Outreach, sender.calls)
	}
}

func TestRunNightlyPipeline_DryRunSkipsOutreach(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	parcel, _ := s.UpsertParcel(ctx, &types.Parcel{
		SitusAddress:    "456 Oak St",
		AssessedLandVal: landVal(10000),
		Adjudicated:     true,
		DelinquentYears: 6,
	})
	owner := newTestOwner(s, ctx, "504-555-0151")
	s.UpsertLead(ctx, &types.Lead{
		MarketCode: "default",
		ParcelID:   parcel.ID,
		OwnerID:    owner.ID,
	})

	sender := &fakeSender{}
	o := newOrchestrator(s, sender)

	result, err := o.RunNightlyPipeline(ctx, []string{"default"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.calls != 0 {
		t.Errorf("expected no sends in dry run, got %d calls", sender.calls)
	}
	if result.Markets[0].Outreach.Sent != 0 {
		t.Errorf("expected zero outreach sent in dry run, got %+v", result.Markets[0].Outreach)
	}
}

func TestRunNightlyPipeline_AlertsHotLeads(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	s.UpsertAlertConfig(ctx, &types.AlertConfig{MarketCode: "default", Enabled: true, AlertPhone: "504-555-0199"})

	parcel, _ := s.UpsertParcel(ctx, &types.Parcel{SitusAddress: "1 Hot Ln"})
	owner := newTestOwner(s, ctx, "504-555-0152")
	lead, _ := s.UpsertLead(ctx, &types.Lead{
		MarketCode: "default",
		ParcelID:   parcel.ID,
		OwnerID:    owner.ID,
	})
	if err := s.UpdateLeadScore(ctx, lead.ID, 90, types.StageHot); err != nil {
		t.Fatalf("setup failed to mark lead hot: %v", err)
	}

	sender := &fakeSender{}
	o := newOrchestrator(s, sender)

	result, err := o.RunNightlyPipeline(ctx, []string{"default"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Markets[0].Alerted != 1 {
		t.Errorf("expected one hot lead alerted, got %+v", result.Markets[0])
	}
}

func TestRunNightlyPipeline_LockedRunFailsFast(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	sender := &fakeSender{}
	o := newOrchestrator(s, sender)

	ok, err := s.AcquireSchedulerLock(ctx, lockName, "other-holder", time.Hour)
	if err != nil || !ok {
		t.Fatalf("setup failed to acquire lock: ok=%v err=%v", ok, err)
	}

	_, err = o.RunNightlyPipeline(ctx, []string{"default"}, true)
	if err == nil {
		t.Fatal("expected an error when the scheduler lock is already held")
	}
}
