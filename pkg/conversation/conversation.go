// Package conversation processes an inbound SMS reply end to end: classify
// intent, apply TCPA-critical handling immediately, update the lead's
// pipeline stage and followup schedule, and surface whether the reply
// needs a human alert.
package conversation

import (
	"context"
	"time"

	"github.com/ebrland/orchestrator/pkg/circuitbreaker"
	"github.com/ebrland/orchestrator/pkg/classifier"
	"github.com/ebrland/orchestrator/pkg/market"
	"github.com/ebrland/orchestrator/pkg/store"
	"github.com/ebrland/orchestrator/pkg/types"
)

// notInterestedFollowupDelay is the fixed cooldown applied when a seller
// says they aren't interested, as long as the longest entry in the default
// followup cadence so repeated outreach doesn't read as pressure.
const notInterestedFollowupDelay = 30 * 24 * time.Hour

// Action is the result of processing one inbound message: the lead
// mutation already applied, the reply text to send back, and whether the
// reply warrants a human alert.
type Action struct {
	Intent         classifier.Intent
	Response       string
	AlertNeeded    bool
	AlertMessage   string
	NextStage      types.PipelineStage
	FollowupQueued bool
}

// Engine wires the classifier to the lead store and the per-market
// followup cadence.
type Engine struct {
	store    store.Store
	breaker  *circuitbreaker.Manager
	llm      types.LLM
	registry *market.Registry
	now      func() time.Time
}

func New(s store.Store, breaker *circuitbreaker.Manager, llm types.LLM, registry *market.Registry) *Engine {
	return &Engine{store: s, breaker: breaker, llm: llm, registry: registry, now: time.Now}
}

// ProcessReply classifies an inbound message from lead, applies the
// resulting lead updates, and returns the action taken.
func (e *Engine) ProcessReply(ctx context.Context, leadID int64, message string) (Action, error) {
	lead, err := e.store.GetLead(ctx, leadID)
	if err != nil {
		return Action{}, err
	}

	result := classifier.Classify(ctx, e.llm, e.breaker, message)

	switch result.Intent {
	case classifier.IntentStop:
		return e.handleOptOut(ctx, lead, message, result,
			"STOP request received", "You have been unsubscribed and will not receive further messages.")
	case classifier.IntentDeceased:
		return e.handleOptOut(ctx, lead, message, result,
			"deceased", "We apologize for the inconvenience. Our condolences.")
	case classifier.IntentWrongNumber:
		return e.handleOptOut(ctx, lead, message, result,
			"wrong_number", "Apologies for the confusion. We'll remove this number from our list.")
	}

	return e.handleOngoing(ctx, lead, message, result)
}

// handleOptOut covers STOP, DECEASED, and WRONG_NUMBER alike: the owner is
// opted out permanently, the lead is classified DEAD, and a single
// acknowledgement is sent. The original service draws no distinction
// between these three beyond the ack copy and the timeline detail.
func (e *Engine) handleOptOut(ctx context.Context, lead *types.Lead, message string, result classifier.Result, logDetail, response string) (Action, error) {
	if err := e.store.MarkOptedOut(ctx, lead.OwnerID); err != nil {
		return Action{}, err
	}
	if err := e.store.UpdateLeadReply(ctx, lead.ID, types.ReplyDead, types.StageContacted); err != nil {
		return Action{}, err
	}
	e.logEvent(ctx, lead.ID, types.EventOptOut, logDetail+": "+truncate(message, 200))

	return Action{
		Intent:    result.Intent,
		Response:  response,
		NextStage: types.StageContacted,
	}, nil
}

func (e *Engine) handleOngoing(ctx context.Context, lead *types.Lead, message string, result classifier.Result) (Action, error) {
	nextStage := lead.PipelineStage
	alertNeeded := false
	alertMessage := ""

	switch result.Intent {
	case classifier.IntentInterested, classifier.IntentAskingPrice:
		nextStage = types.StageHot
		if result.Intent == classifier.IntentAskingPrice {
			alertNeeded, alertMessage = true, "HOT LEAD: Seller asking for price!"
		} else {
			alertNeeded, alertMessage = true, "Qualified lead expressing interest"
		}
	case classifier.IntentNotInterested:
		nextStage = types.StageContacted
	}

	if classification, ok := replyClassificationFor(result.Intent); ok {
		if err := e.store.UpdateLeadReply(ctx, lead.ID, classification, nextStage); err != nil {
			return Action{}, err
		}
	} else if err := e.store.UpdateLeadScore(ctx, lead.ID, lead.MotivationScore, nextStage); err != nil {
		return Action{}, err
	}

	followupCount := lead.FollowupCount + 1
	nextFollowup := e.calculateFollowup(lead, result)
	if err := e.store.UpdateLeadFollowup(ctx, lead.ID, followupCount, nextFollowup); err != nil {
		return Action{}, err
	}

	e.logEvent(ctx, lead.ID, types.EventReplyReceived, string(result.Intent)+": "+truncate(message, 200))

	return Action{
		Intent:         result.Intent,
		Response:       responseFor(result.Intent),
		AlertNeeded:    alertNeeded,
		AlertMessage:   alertMessage,
		NextStage:      nextStage,
		FollowupQueued: nextFollowup != nil,
	}, nil
}

// calculateFollowup mirrors the original engine's scheduling rule: a HOT
// lead and the terminal intents never get an automated followup — HOT
// leads move to the alert path instead — not_interested gets a long
// cooldown, and everything else follows the market's standard cadence
// capped at its configured number of attempts.
func (e *Engine) calculateFollowup(lead *types.Lead, result classifier.Result) *time.Time {
	if result.Intent == classifier.IntentInterested || result.Intent == classifier.IntentAskingPrice {
		return nil
	}
	if result.Intent == classifier.IntentNotInterested {
		t := e.now().Add(notInterestedFollowupDelay)
		return &t
	}

	cfg := e.registry.Get(lead.MarketCode)
	days := cfg.FollowupIntervalDays(lead.FollowupCount)
	if days < 0 {
		return nil
	}
	t := e.now().Add(time.Duration(days) * 24 * time.Hour)
	return &t
}

// replyClassificationFor maps a classified intent to the durable reply
// classification persisted on the lead. Intents with no lasting bearing on
// future outreach eligibility (negotiating, scheduling, spam) return false
// and leave the lead's classification untouched.
func replyClassificationFor(intent classifier.Intent) (types.ReplyClassification, bool) {
	switch intent {
	case classifier.IntentInterested:
		return types.ReplyInterested, true
	case classifier.IntentAskingPrice:
		return types.ReplySendOffer, true
	case classifier.IntentNotInterested:
		return types.ReplyNotInterested, true
	case classifier.IntentConfused:
		return types.ReplyConfused, true
	default:
		return "", false
	}
}

func (e *Engine) logEvent(ctx context.Context, leadID int64, kind types.TimelineEventKind, detail string) {
	_ = e.store.InsertTimelineEvent(ctx, &types.TimelineEvent{LeadID: leadID, Kind: kind, Detail: detail})
}

func responseFor(intent classifier.Intent) string {
	switch intent {
	case classifier.IntentInterested:
		return "Great to hear! Can you tell me a bit more about what you're looking for in a sale?"
	case classifier.IntentAskingPrice:
		return "Thanks for asking - let me pull together a cash offer for your property and get back to you shortly."
	case classifier.IntentNotInterested:
		return "No problem at all, thanks for letting us know. We'll leave you be."
	case classifier.IntentNegotiating:
		return "Understood - let's find a number that works for both of us."
	case classifier.IntentScheduling:
		return "Sounds good, what day and time works best for a call?"
	default:
		return "Thanks for the reply! Just to confirm, is this regarding the land you own?"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
