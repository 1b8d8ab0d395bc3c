package buyers

import (
	"context"
	"testing"

	"github.com/ebrland/orchestrator/pkg/store/memstore"
	"github.com/ebrland/orchestrator/pkg/types"
)

type fakeBuyerSender struct{ calls int }

func (f *fakeBuyerSender) SendSMS(ctx context.Context, to, body string) (types.SendResult, error) {
	f.calls++
	return types.SendResult{ProviderSID: "SM1", Status: "sent"}, nil
}

func TestSendBlast_ContactsMatchedBuyersOnce(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	s.AddBuyer(&types.Buyer{Name: "Cash Buyer LLC", Phone: "504-555-0150", Markets: []string{"NOLA"}, VIP: true})

	lead, _ := s.UpsertLead(ctx, &types.Lead{MarketCode: "NOLA"})
	matcher := NewMatcher(s.ListBuyersForMarket)
	sender := &fakeBuyerSender{}
	blaster := NewBlaster(s, matcher, sender, func(b types.Buyer, leadID int64) string {
		return "New deal available in your market"
	})

	result, err := blaster.SendBlast(ctx, lead, "", 10, 50000, 10, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BuyersBlasted != 1 || sender.calls != 1 {
		t.Fatalf("expected exactly one buyer blasted, got %+v (calls=%d)", result, sender.calls)
	}

	second, err := blaster.SendBlast(ctx, lead, "", 10, 50000, 10, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.BuyersSkipped != 1 || sender.calls != 1 {
		t.Fatalf("expected second blast to skip the already-notified buyer, got %+v (calls=%d)", second, sender.calls)
	}
}
