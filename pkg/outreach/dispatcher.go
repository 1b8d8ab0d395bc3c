package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/ebrland/orchestrator/internal/errors"
	"github.com/ebrland/orchestrator/pkg/circuitbreaker"
	"github.com/ebrland/orchestrator/pkg/idempotency"
	"github.com/ebrland/orchestrator/pkg/locks"
	"github.com/ebrland/orchestrator/pkg/ratelimit"
	"github.com/ebrland/orchestrator/pkg/retry"
	"github.com/ebrland/orchestrator/pkg/store"
	"github.com/ebrland/orchestrator/pkg/types"
	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
)

const breakerName = "twilio"

// twilioResultByCode maps the Twilio error codes the original sender
// handled explicitly to a (status, result) pair recorded on the outreach
// attempt. Codes not in this table fall back to a generic failure.
var twilioResultByCode = map[int]struct{ status, result string }{
	21211: {"failed", "invalid_number"},
	21408: {"failed", "geo_restricted"},
	21610: {"failed", "blacklisted"},
	21608: {"failed", "unverified_recipient"},
	21614: {"failed", "invalid_to_number"},
	20003: {"failed", "auth_error"},
	20429: {"failed", "rate_limited"},
	429:   {"failed", "rate_limited"},
}

// Dispatcher sends the first-touch and followup SMS to a lead, gated by
// TCPA validation, the per-lead send lock, and the idempotency reservation,
// with the live gateway call protected by a circuit breaker and a fixed
// rate limiter.
type Dispatcher struct {
	store     store.Store
	locks     *locks.SendLocks
	breaker   *circuitbreaker.Manager
	limiter   *ratelimit.Limiter
	sender    types.MessageSender
	holderID  string
	dryRun    bool
}

type DispatcherConfig struct {
	Store    store.Store
	Breaker  *circuitbreaker.Manager
	Sender   types.MessageSender
	HolderID string
	// MaxPerMinute bounds outbound sends across the whole dispatcher
	// instance; zero or a negative value falls back to 60 per minute.
	MaxPerMinute int
	DryRun       bool
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	maxPerMinute := cfg.MaxPerMinute
	if maxPerMinute <= 0 {
		maxPerMinute = 60
	}
	return &Dispatcher{
		store:    cfg.Store,
		locks:    locks.NewSendLocks(cfg.Store),
		breaker:  cfg.Breaker,
		limiter:  ratelimit.New(maxPerMinute, time.Minute),
		sender:   cfg.Sender,
		holderID: cfg.HolderID,
		dryRun:   cfg.DryRun,
	}
}

// SendFirstText sends leadID's first outreach message, or the message
// given by messageBody if non-empty. force bypasses a blocking last-reply
// classification but never an owner's opt-out or do-not-reach.
func (d *Dispatcher) SendFirstText(ctx context.Context, leadID int64, force bool, messageBody string) (*types.OutreachAttempt, error) {
	return d.send(ctx, leadID, force, messageBody, "first_contact")
}

// SendFollowup sends a followup message for leadID, keyed separately from
// the first-touch send so both can be idempotently retried independently.
func (d *Dispatcher) SendFollowup(ctx context.Context, leadID int64, followupCount int, messageBody string) (*types.OutreachAttempt, error) {
	return d.send(ctx, leadID, false, messageBody, fmt.Sprintf("followup:%d", followupCount))
}

func (d *Dispatcher) send(ctx context.Context, leadID int64, force bool, messageBody, stage string) (*types.OutreachAttempt, error) {
	lead, err := d.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	owner, err := d.store.GetOwner(ctx, lead.OwnerID)
	if err != nil {
		return nil, err
	}

	to, err := Validate(lead, owner, force)
	if err != nil {
		return nil, err
	}
	if messageBody == "" {
		return nil, apperrors.NewValidationError("message body is required")
	}

	var result *types.OutreachAttempt
	err = d.locks.WithLock(ctx, leadID, d.holderID, func(ctx context.Context) error {
		key := idempotency.Key(fmt.Sprintf("lead:%d", leadID), stage, messageBody)
		outcome, err := idempotency.Reserve(ctx, d.store, leadID, "outbound", messageBody, key)
		if err != nil {
			return err
		}
		if !outcome.Reserved {
			result = outcome.Attempt
			return nil
		}

		sendResult, sendErr := d.dispatch(ctx, to, messageBody)
		status, res, errCode, sid := classify(sendResult, sendErr)
		if finalizeErr := idempotency.Finalize(ctx, d.store, outcome.Attempt, status, res, errCode, sid); finalizeErr != nil {
			return finalizeErr
		}
		result = outcome.Attempt

		if status == "sent" || status == "dry_run" {
			_ = d.store.InsertTimelineEvent(ctx, &types.TimelineEvent{
				LeadID: leadID, Kind: types.EventOutreachSent, Detail: res,
			})
		}

		// A hard gateway failure (auth, unverified trial recipient) should
		// surface to the caller even though the attempt row is finalized —
		// the operator needs to know the dispatch itself failed, not just
		// that the message wasn't delivered.
		if sendErr != nil && (res == "auth_error" || res == "unverified_recipient") {
			return sendErr
		}
		return nil
	})

	return result, err
}

// dispatch makes the live gateway call, retrying transient failures with
// the general backoff policy and rate-limited failures with the wider,
// randomized rate-limit policy. Permanent failures (invalid number, auth
// error, unverified recipient, open circuit) are never retried.
func (d *Dispatcher) dispatch(ctx context.Context, to, body string) (types.SendResult, error) {
	if d.dryRun {
		return types.SendResult{ProviderSID: "dry_run", Status: "dry_run"}, nil
	}
	if !d.limiter.CanProceed() {
		return types.SendResult{}, apperrors.New(apperrors.ErrorTypeRateLimit, "outreach rate limit exceeded").
			WithDetailsf("retry in %s", d.limiter.WaitTime())
	}

	attempt := func() (types.SendResult, error) {
		v, err := d.breaker.Execute(ctx, breakerName, func(ctx context.Context) (interface{}, error) {
			return d.sender.SendSMS(ctx, to, body)
		})
		if err != nil {
			return types.SendResult{}, classifyDispatchErr(err)
		}
		return v.(types.SendResult), nil
	}

	result, firstErr := attempt()
	d.limiter.RecordCall()
	if firstErr == nil {
		return result, nil
	}
	var permanent *backoff.PermanentError
	if errors.As(firstErr, &permanent) {
		return result, permanent.Err
	}

	var retryErr error
	if isRateLimitErr(firstErr) {
		result, retryErr = retry.DoRateLimited(ctx, attempt)
	} else {
		result, retryErr = retry.Do(ctx, attempt)
	}
	return result, retryErr
}

// classifyDispatchErr normalizes a gateway failure and marks the ones the
// retry policies must never re-attempt as permanent.
func classifyDispatchErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError("twilio send")
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return retry.Permanent(err)
	}
	var twilioErr *TwilioError
	if errors.As(err, &twilioErr) {
		switch twilioErr.Code {
		case 20429, 429:
			return err
		case 21211, 21408, 21610, 21608, 21614, 20003:
			return retry.Permanent(err)
		}
	}
	return err
}

func isRateLimitErr(err error) bool {
	var twilioErr *TwilioError
	if errors.As(err, &twilioErr) {
		return twilioErr.Code == 20429 || twilioErr.Code == 429
	}
	return errors.Is(err, gobreaker.ErrTooManyRequests) || apperrors.IsType(err, apperrors.ErrorTypeRateLimit)
}

func classify(result types.SendResult, err error) (status, res, errorCode, providerSID string) {
	if err == nil {
		if result.Status == "dry_run" {
			return "dry_run", "dry_run", "", "dry_run"
		}
		return "sent", "sent", "", result.ProviderSID
	}

	var twilioErr *TwilioError
	if errors.As(err, &twilioErr) {
		if mapped, ok := twilioResultByCode[twilioErr.Code]; ok {
			return mapped.status, mapped.result, fmt.Sprintf("%d", twilioErr.Code), ""
		}
		return "failed", "twilio_error", fmt.Sprintf("%d", twilioErr.Code), ""
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "failed", "circuit_open", string(apperrors.ErrorTypeCircuitOpen), ""
	}
	if apperrors.IsType(err, apperrors.ErrorTypeRateLimit) {
		return "failed", "rate_limited", string(apperrors.ErrorTypeRateLimit), ""
	}
	return "failed", "send_error", "", ""
}
