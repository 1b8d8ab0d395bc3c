package outreach

import (
	"context"
	"testing"

	"github.com/ebrland/orchestrator/pkg/circuitbreaker"
	"github.com/ebrland/orchestrator/pkg/store/memstore"
	"github.com/ebrland/orchestrator/pkg/types"
)

type fakeSender struct {
	result types.SendResult
	err    error
	calls  int
}

func (f *fakeSender) SendSMS(ctx context.Context, to, body string) (types.SendResult, error) {
	f.calls++
	return f.result, f.err
}

func phoneOf(s string) *string { return &s }

var testPartySeq int64

func nextTestPartyID() int64 {
	testPartySeq++
	return testPartySeq
}

// newTestLeadWithOwner creates an owner carrying phoneNum and a lead bound
// to it, returning both so a test can mutate the owner's TCPA/opt-out state
// before dispatching.
func newTestLeadWithOwner(s *memstore.Memstore, phoneNum string) (*types.Lead, *types.Owner) {
	ctx := context.Background()
	owner, _ := s.UpsertOwner(ctx, &types.Owner{PartyID: nextTestPartyID(), PhonePrimary: phoneOf(phoneNum), IsTCPASafe: true})
	lead, _ := s.UpsertLead(ctx, &types.Lead{OwnerID: owner.ID, ParcelID: 1})
	return lead, owner
}

func newTestLead(s *memstore.Memstore, phoneNum string) *types.Lead {
	lead, _ := newTestLeadWithOwner(s, phoneNum)
	return lead
}

func TestSendFirstText_SendsAndFinalizes(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	lead := newTestLead(s, "504-555-0101")

	sender := &fakeSender{result: types.SendResult{ProviderSID: "SM1", Status: "queued"}}
	d := NewDispatcher(DispatcherConfig{
		Store: s, Breaker: circuitbreaker.NewManager(nil), Sender: sender, HolderID: "worker-1",
	})

	attempt, err := d.SendFirstText(ctx, lead.ID, false, "Hi, interested in your land?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempt.Status != "sent" || attempt.ProviderSID != "SM1" {
		t.Errorf("expected sent attempt with provider sid, got %+v", attempt)
	}
	if sender.calls != 1 {
		t.Errorf("expected exactly one gateway call, got %d", sender.calls)
	}
}

func TestSendFirstText_SecondCallIsIdempotent(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	lead := newTestLead(s, "504-555-0102")

	sender := &fakeSender{result: types.SendResult{ProviderSID: "SM2", Status: "queued"}}
	d := NewDispatcher(DispatcherConfig{
		Store: s, Breaker: circuitbreaker.NewManager(nil), Sender: sender, HolderID: "worker-1",
	})

	body := "Hi, interested in your land?"
	first, err := d.SendFirstText(ctx, lead.ID, false, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := d.SendFirstText(ctx, lead.ID, false, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected same attempt id on retry, got %d and %d", first.ID, second.ID)
	}
	if sender.calls != 1 {
		t.Errorf("expected gateway called exactly once despite retry, got %d", sender.calls)
	}
}

func TestSendFirstText_RejectsOptedOutLead(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	_, owner := newTestLeadWithOwner(s, "504-555-0103")
	if err := s.MarkOptedOut(ctx, owner.ID); err != nil {
		t.Fatalf("unexpected error marking opt-out: %v", err)
	}
	lead, err := s.GetLeadByOwnerParcel(ctx, owner.ID, 1)
	if err != nil {
		t.Fatalf("unexpected error fetching lead: %v", err)
	}

	sender := &fakeSender{result: types.SendResult{ProviderSID: "SM3", Status: "queued"}}
	d := NewDispatcher(DispatcherConfig{
		Store: s, Breaker: circuitbreaker.NewManager(nil), Sender: sender, HolderID: "worker-1",
	})

	if _, err := d.SendFirstText(ctx, lead.ID, true, "anything"); err == nil {
		t.Fatal("expected opt-out to block send even with force=true")
	}
	if sender.calls != 0 {
		t.Errorf("expected no gateway call for an opted-out lead, got %d", sender.calls)
	}
}

func TestSendFirstText_BlockingClassificationBypassableWithForce(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	lead, _ := newTestLeadWithOwner(s, "504-555-0104")
	if err := s.UpdateLeadReply(ctx, lead.ID, types.ReplyNotInterested, types.StageContacted); err != nil {
		t.Fatalf("unexpected error setting reply classification: %v", err)
	}

	sender := &fakeSender{result: types.SendResult{ProviderSID: "SM4", Status: "queued"}}
	d := NewDispatcher(DispatcherConfig{
		Store: s, Breaker: circuitbreaker.NewManager(nil), Sender: sender, HolderID: "worker-1",
	})

	if _, err := d.SendFirstText(ctx, lead.ID, false, "anything"); err == nil {
		t.Fatal("expected blocking classification to stop an unforced send")
	}
	if _, err := d.SendFirstText(ctx, lead.ID, true, "anything"); err != nil {
		t.Fatalf("expected force to bypass the blocking classification, got %v", err)
	}
}

func TestSendFirstText_MapsTwilioErrorCode(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	lead := newTestLead(s, "504-555-0105")

	sender := &fakeSender{err: &TwilioError{Code: 21610, Message: "blacklisted"}}
	d := NewDispatcher(DispatcherConfig{
		Store: s, Breaker: circuitbreaker.NewManager(nil), Sender: sender, HolderID: "worker-1",
	})

	attempt, err := d.SendFirstText(ctx, lead.ID, false, "anything")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempt.Status != "failed" || attempt.Result != "blacklisted" {
		t.Errorf("expected failed/blacklisted attempt, got %+v", attempt)
	}
}
