// Package alerts sends hot-lead and interested-reply notifications to an
// operator over SMS and Slack, deduplicating per lead within a configurable
// window and rate-limiting the total alert volume, grounded on the original
// notification service's _should_alert/_mark_alerted pairing.
package alerts

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/ebrland/orchestrator/internal/errors"
	"github.com/ebrland/orchestrator/pkg/circuitbreaker"
	"github.com/ebrland/orchestrator/pkg/ratelimit"
	"github.com/ebrland/orchestrator/pkg/store"
	"github.com/ebrland/orchestrator/pkg/types"
	"github.com/slack-go/slack"
)

const (
	defaultDedupHours = 24
	smsBreakerName     = "twilio-alerts"
	slackBreakerName    = "slack-alerts"
)

// SMSSender is the subset of types.MessageSender alerts needs; satisfied
// by the same Twilio-backed sender the outreach dispatcher uses.
type SMSSender = types.MessageSender

// Dispatcher sends lead alerts over SMS and/or Slack, depending on what a
// market's AlertConfig has configured.
type Dispatcher struct {
	store   store.Store
	breaker *circuitbreaker.Manager
	limiter *ratelimit.Limiter
	sms     SMSSender
	now     func() time.Time
}

func New(s store.Store, breaker *circuitbreaker.Manager, sms SMSSender) *Dispatcher {
	return &Dispatcher{store: s, breaker: breaker, limiter: ratelimit.New(10, time.Minute), sms: sms, now: time.Now}
}

// AlertHotLead notifies the configured channels that lead has crossed the
// hot threshold, for reason. Returns whether any channel actually sent.
func (d *Dispatcher) AlertHotLead(ctx context.Context, lead *types.Lead, parcelAddress, ownerName, reason string) (bool, error) {
	message := fmt.Sprintf(
		"HOT LEAD ALERT (%s)\n\nOwner: %s\nProperty: %s\nScore: %d\nReason: %s\n\nLead ID: %d",
		lead.MarketCode, ownerName, parcelAddress, lead.MotivationScore, reason, lead.ID,
	)
	return d.send(ctx, lead, message)
}

// AlertInterestedReply notifies the configured channels that lead replied
// with intent classification, quoting replyText.
func (d *Dispatcher) AlertInterestedReply(ctx context.Context, lead *types.Lead, classification, replyText string) (bool, error) {
	message := fmt.Sprintf(
		"%s REPLY (%s)\n\nLead ID: %d\nMessage: %s",
		classification, lead.MarketCode, lead.ID, truncate(replyText, 200),
	)
	return d.send(ctx, lead, message)
}

func (d *Dispatcher) send(ctx context.Context, lead *types.Lead, message string) (bool, error) {
	cfg, err := d.store.GetAlertConfig(ctx, lead.MarketCode)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			return false, nil
		}
		return false, err
	}
	if !d.shouldAlert(lead, cfg) {
		return false, nil
	}

	sent := false
	if cfg.AlertPhone != "" {
		if d.sendSMS(ctx, cfg.AlertPhone, message) {
			sent = true
		}
	}
	if cfg.SlackWebhookURL != "" {
		if d.sendSlack(ctx, cfg.SlackWebhookURL, message) {
			sent = true
		}
	}

	if sent {
		lead.LastAlertedAt = timePtr(d.now())
		_ = d.store.UpdateLeadScore(ctx, lead.ID, lead.MotivationScore, lead.PipelineStage)
	}
	return sent, nil
}

// shouldAlert applies the dedup window and the global alert rate limit.
func (d *Dispatcher) shouldAlert(lead *types.Lead, cfg *types.AlertConfig) bool {
	if !cfg.Enabled {
		return false
	}
	dedupHours := cfg.DedupHours
	if dedupHours <= 0 {
		dedupHours = defaultDedupHours
	}
	if lead.LastAlertedAt != nil && d.now().Sub(*lead.LastAlertedAt) < time.Duration(dedupHours)*time.Hour {
		return false
	}
	return d.limiter.CanProceed()
}

func (d *Dispatcher) sendSMS(ctx context.Context, phone, message string) bool {
	_, err := d.breaker.Execute(ctx, smsBreakerName, func(ctx context.Context) (interface{}, error) {
		return d.sms.SendSMS(ctx, phone, message)
	})
	if err != nil {
		return false
	}
	d.limiter.RecordCall()
	return true
}

func (d *Dispatcher) sendSlack(ctx context.Context, webhookURL, message string) bool {
	_, err := d.breaker.Execute(ctx, slackBreakerName, func(ctx context.Context) (interface{}, error) {
		return nil, slack.PostWebhookContext(ctx, webhookURL, &slack.WebhookMessage{Text: message})
	})
	if err != nil {
		return false
	}
	d.limiter.RecordCall()
	return true
}

func timePtr(t time.Time) *time.Time { return &t }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
