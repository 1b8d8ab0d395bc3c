// Package followup runs the scheduled re-contact pass: pull leads whose
// next_followup_at has come due, update their followup counters and
// schedule before sending (so a crash mid-run can never double-send on
// retry), then dispatch the message.
package followup

import (
	"context"
	"time"

	"github.com/ebrland/orchestrator/pkg/market"
	"github.com/ebrland/orchestrator/pkg/outreach"
	"github.com/ebrland/orchestrator/pkg/store"
	"github.com/ebrland/orchestrator/pkg/types"
)

// MessageFunc produces the followup body for a lead given its (1-indexed)
// followup attempt number.
type MessageFunc func(lead *types.Lead, followupNum int) string

// Scheduler runs the followup pass for a market.
type Scheduler struct {
	store      store.Store
	dispatcher *outreach.Dispatcher
	registry   *market.Registry
	message    MessageFunc
	now        func() time.Time
}

func New(s store.Store, dispatcher *outreach.Dispatcher, registry *market.Registry, message MessageFunc) *Scheduler {
	return &Scheduler{store: s, dispatcher: dispatcher, registry: registry, message: message, now: time.Now}
}

// Summary reports the outcome of one followup pass.
type Summary struct {
	Considered int
	Sent       int
	Skipped    int
	Errored    int
}

// RunFollowups processes up to limit leads due for followup in marketCode.
func (s *Scheduler) RunFollowups(ctx context.Context, marketCode string, limit int) (Summary, error) {
	leads, err := s.store.LeadsDueForFollowup(ctx, marketCode, s.now())
	if err != nil {
		return Summary{}, err
	}
	if limit > 0 && len(leads) > limit {
		leads = leads[:limit]
	}

	summary := Summary{Considered: len(leads)}
	for _, lead := range leads {
		switch outcome, err := s.processOne(ctx, lead); {
		case err != nil:
			summary.Errored++
		case outcome == outcomeSent:
			summary.Sent++
		default:
			summary.Skipped++
		}
	}
	return summary, nil
}

type followupOutcome int

const (
	outcomeSkipped followupOutcome = iota
	outcomeSent
)

func (s *Scheduler) processOne(ctx context.Context, lead *types.Lead) (followupOutcome, error) {
	cfg := s.registry.Get(lead.MarketCode)
	if lead.FollowupCount >= cfg.MaxFollowups {
		return outcomeSkipped, s.store.UpdateLeadFollowup(ctx, lead.ID, lead.FollowupCount, nil)
	}

	followupNum := lead.FollowupCount + 1
	next := s.nextFollowupAt(cfg, followupNum)

	// Update state before sending: a retried run after a crash here will
	// see the updated counter and naturally skip ahead rather than resend.
	if err := s.store.UpdateLeadFollowup(ctx, lead.ID, followupNum, next); err != nil {
		return outcomeSkipped, err
	}

	body := s.message(lead, followupNum)
	if _, err := s.dispatcher.SendFollowup(ctx, lead.ID, followupNum, body); err != nil {
		return outcomeSkipped, err
	}
	return outcomeSent, nil
}

func (s *Scheduler) nextFollowupAt(cfg market.Config, followupNum int) *time.Time {
	if followupNum >= cfg.MaxFollowups {
		return nil
	}
	days := cfg.FollowupIntervalDays(followupNum)
	if days < 0 {
		return nil
	}
	t := s.now().Add(time.Duration(days) * 24 * time.Hour)
	return &t
}
