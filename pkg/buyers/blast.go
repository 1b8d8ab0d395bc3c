package buyers

import (
	"context"
	"fmt"
	"time"

	"github.com/ebrland/orchestrator/pkg/idempotency"
	"github.com/ebrland/orchestrator/pkg/store"
	"github.com/ebrland/orchestrator/pkg/types"
)

func nowPtr() *time.Time {
	t := time.Now()
	return &t
}

// DealMessageFunc renders the outbound deal-sheet message for a matched
// buyer, letting the caller plug in the deal sheet content.
type DealMessageFunc func(buyer types.Buyer, leadID int64) string

// BlastResult summarizes one send_blast run.
type BlastResult struct {
	LeadID        int64
	BuyersMatched int
	BuyersBlasted int
	BuyersSkipped int
	BuyersFailed  int
	Errors        []string
}

// Blaster fans a lead's deal sheet out to its matched buyers, one per-day
// idempotency reservation per (buyer, lead) pair so a retried blast never
// double-contacts a buyer already notified about the same deal.
type Blaster struct {
	store   store.Store
	matcher *Matcher
	sender  types.MessageSender
	message DealMessageFunc
}

func NewBlaster(s store.Store, matcher *Matcher, sender types.MessageSender, message DealMessageFunc) *Blaster {
	return &Blaster{store: s, matcher: matcher, sender: sender, message: message}
}

// SendBlast matches the lead's market, county and acreage against the
// buyer list and blasts up to maxBuyers of the matches the deal sheet for
// lead.
func (b *Blaster) SendBlast(ctx context.Context, lead *types.Lead, county string, acreage, offerPrice, minMatchScore float64, maxBuyers int) (BlastResult, error) {
	result := BlastResult{LeadID: lead.ID}

	matches, err := b.matcher.MatchBuyers(ctx, lead.MarketCode, county, acreage, offerPrice, minMatchScore, maxBuyers*2)
	if err != nil {
		return result, err
	}
	result.BuyersMatched = len(matches)

	if len(matches) > maxBuyers {
		matches = matches[:maxBuyers]
	}

	for _, match := range matches {
		if b.alreadyBlasted(ctx, match.Buyer.ID, lead.ID) {
			result.BuyersSkipped++
			continue
		}
		if err := b.blastOne(ctx, match.Buyer, lead.ID); err != nil {
			result.BuyersFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("buyer %d: %v", match.Buyer.ID, err))
			continue
		}
		result.BuyersBlasted++
	}
	return result, nil
}

func (b *Blaster) alreadyBlasted(ctx context.Context, buyerID, leadID int64) bool {
	deal, err := b.store.GetBuyerDeal(ctx, buyerID, leadID)
	return err == nil && deal.BlastSentAt != nil
}

func (b *Blaster) blastOne(ctx context.Context, buyer types.Buyer, leadID int64) error {
	if buyer.Phone == "" {
		return fmt.Errorf("buyer has no phone number")
	}

	body := b.message(buyer, leadID)
	key := idempotency.Key("buyer-blast", fmt.Sprintf("%d", buyer.ID), fmt.Sprintf("%d", leadID), time.Now().UTC().Format("2006-01-02"))
	outcome, err := idempotency.Reserve(ctx, b.store, leadID, "outbound", body, key)
	if err != nil {
		return err
	}
	if !outcome.Reserved {
		return nil
	}

	result, sendErr := b.sender.SendSMS(ctx, buyer.Phone, body)
	status, providerSID := "sent", result.ProviderSID
	if sendErr != nil {
		status = "failed"
	}
	if err := idempotency.Finalize(ctx, b.store, outcome.Attempt, status, status, "", providerSID); err != nil {
		return err
	}
	if sendErr != nil {
		return sendErr
	}

	_, err = b.store.UpsertBuyerDeal(ctx, &types.BuyerDeal{BuyerID: buyer.ID, LeadID: leadID, BlastSentAt: nowPtr()})
	return err
}
