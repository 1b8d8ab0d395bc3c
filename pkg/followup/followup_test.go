package followup

import (
	"context"
	"testing"
	"time"

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

func phoneOf(s string) *string { return &s }

func newTestOwner(s *memstore.Memstore, ctx context.Context, partyID int64, phone string) *types.Owner {
	owner, _ := s.UpsertOwner(ctx, &types.Owner{PartyID: partyID, PhonePrimary: phoneOf(phone), IsTCPASafe: true})
	return owner
}

func TestRunFollowups_SendsAndAdvancesSchedule(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	owner := newTestOwner(s, ctx, 1, "504-555-0110")
	lead, _ := s.UpsertLead(ctx, &types.Lead{MarketCode: "default", OwnerID: owner.ID})
	if err := s.UpdateLeadFollowup(ctx, lead.ID, 0, &past); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	sender := &fakeSender{}
	dispatcher := outreach.NewDispatcher(outreach.DispatcherConfig{
		Store: s, Breaker: circuitbreaker.NewManager(nil), Sender: sender, HolderID: "scheduler-1",
	})
	registry := market.NewRegistry("default")
	sched := New(s, dispatcher, registry, func(l *types.Lead, n int) string { return "checking in" })

	summary, err := sched.RunFollowups(ctx, "default", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Sent != 1 {
		t.Fatalf("expected one followup sent, got %+v", summary)
	}

	updated, _ := s.GetLead(ctx, lead.ID)
	if updated.FollowupCount != 1 {
		t.Errorf("expected followup count 1, got %d", updated.FollowupCount)
	}
	if updated.NextFollowupAt == nil {
		t.Error("expected next followup scheduled")
	}
}

func TestRunFollowups_SkipsLeadAtMaxFollowups(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	owner := newTestOwner(s, ctx, 2, "504-555-0111")
	lead, _ := s.UpsertLead(ctx, &types.Lead{MarketCode: "default", OwnerID: owner.ID})
	if err := s.UpdateLeadFollowup(ctx, lead.ID, 4, &past); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	sender := &fakeSender{}
	dispatcher := outreach.NewDispatcher(outreach.DispatcherConfig{
		Store: s, Breaker: circuitbreaker.NewManager(nil), Sender: sender, HolderID: "scheduler-1",
	})
	registry := market.NewRegistry("default")
	sched := New(s, dispatcher, registry, func(l *types.Lead, n int) string { return "checking in" })

	summary, err := sched.RunFollowups(ctx, "default", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Skipped != 1 || sender.calls != 0 {
		t.Fatalf("expected lead skipped with no send, got %+v (calls=%d)", summary, sender.calls)
	}

	updated, _ := s.GetLead(ctx, lead.ID)
	if updated.NextFollowupAt != nil {
		t.Error("expected next followup cleared once max followups reached")
	}
}
