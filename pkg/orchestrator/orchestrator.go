// Package orchestrator runs the nightly per-market pipeline: score new
// leads, send initial outreach to the highest-motivation candidates,
// process due followups, and alert on hot leads — the whole run wrapped
// in a cluster-wide scheduler lock and a task record for visibility.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/ebrland/orchestrator/internal/errors"
	"github.com/ebrland/orchestrator/pkg/alerts"
	"github.com/ebrland/orchestrator/pkg/followup"
	"github.com/ebrland/orchestrator/pkg/locks"
	"github.com/ebrland/orchestrator/pkg/market"
	"github.com/ebrland/orchestrator/pkg/outreach"
	"github.com/ebrland/orchestrator/pkg/scoring"
	"github.com/ebrland/orchestrator/pkg/store"
	"github.com/ebrland/orchestrator/pkg/types"
	"github.com/ebrland/orchestrator/pkg/workerpool"
)

const (
	lockName                 = "nightly_pipeline"
	scoringBatchSize         = 100
	initialOutreachBatchSize = 50
	hotLeadAlertBatchSize    = 10
	defaultFollowupBatchSize = 100
	defaultMarketConcurrency = 4
)

// MarketResult summarizes one market's pass through the pipeline.
type MarketResult struct {
	Market    string
	Scored    int
	Outreach  outreachSummary
	Followups followup.Summary
	Alerted   int
	Error     string
}

type outreachSummary struct {
	Sent    int
	Blocked int
	Failed  int
}

// RunResult summarizes a full nightly run.
type RunResult struct {
	TaskID    string
	StartedAt time.Time
	EndedAt   time.Time
	DryRun    bool
	Markets   []MarketResult
}

// Orchestrator wires the scoring, outreach, followup, and alert
// components together into the nightly run.
type Orchestrator struct {
	store      store.Store
	schedLocks *locks.SchedulerLocks
	scoring    *scoring.Engine
	dispatcher *outreach.Dispatcher
	followups  *followup.Scheduler
	alerts     *alerts.Dispatcher
	registry   *market.Registry
	holderID   string
	now        func() time.Time
}

func New(
	s store.Store,
	dispatcher *outreach.Dispatcher,
	alertDispatcher *alerts.Dispatcher,
	registry *market.Registry,
	holderID string,
	messageFn followup.MessageFunc,
) *Orchestrator {
	return &Orchestrator{
		store:      s,
		schedLocks: locks.NewSchedulerLocks(s),
		scoring:    scoring.New(s),
		dispatcher: dispatcher,
		followups:  followup.New(s, dispatcher, registry, messageFn),
		alerts:     alertDispatcher,
		registry:   registry,
		holderID:   holderID,
		now:        time.Now,
	}
}

// RunNightlyPipeline runs the pipeline for the given markets (or every
// configured market when markets is empty), serialized across the fleet
// by the nightly_pipeline scheduler lock. If the lock is already held,
// it returns immediately with an error rather than blocking — another
// instance is already running the pass.
func (o *Orchestrator) RunNightlyPipeline(ctx context.Context, markets []string, dryRun bool) (*RunResult, error) {
	if len(markets) == 0 {
		markets = o.registry.Codes()
	}

	taskID := "nightly:" + uuid.NewString()
	startedAt := o.now()

	task := &types.BackgroundTask{
		ID:        taskID,
		Name:      "nightly_pipeline",
		Status:    types.TaskPending,
		CreatedAt: startedAt,
	}
	if err := o.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	result := &RunResult{TaskID: taskID, StartedAt: startedAt, DryRun: dryRun}

	err := o.schedLocks.WithLock(ctx, lockName, o.holderID, func(ctx context.Context) error {
		task.Status = types.TaskRunning
		now := o.now()
		task.StartedAt = &now
		if err := o.store.UpdateTask(ctx, task); err != nil {
			return err
		}

		marketResults, runErr := workerpool.RunCollect(ctx, defaultMarketConcurrency, markets, func(ctx context.Context, m string) (MarketResult, error) {
			return o.runMarket(ctx, m, dryRun), nil
		})
		result.Markets = marketResults
		return runErr
	})

	endedAt := o.now()
	result.EndedAt = endedAt
	task.EndedAt = &endedAt
	if err != nil {
		task.Status = types.TaskFailed
		task.Error = err.Error()
		_ = o.store.UpdateTask(ctx, task)
		return result, err
	}
	task.Status = types.TaskCompleted
	_ = o.store.UpdateTask(ctx, task)
	return result, nil
}

// runMarket runs the scoring, outreach, followup, and alert steps for a
// single market. A failure in one step is recorded on the result and
// does not abort the remaining markets in the run.
func (o *Orchestrator) runMarket(ctx context.Context, marketCode string, dryRun bool) MarketResult {
	result := MarketResult{Market: marketCode}
	cfg := o.registry.Get(marketCode)

	scored, err := o.runScoring(ctx, marketCode)
	result.Scored = scored
	if err != nil {
		result.Error = err.Error()
		return result
	}

	if !dryRun {
		result.Outreach = o.runInitialOutreach(ctx, marketCode, cfg)
	}

	followupSummary, err := o.followups.RunFollowups(ctx, marketCode, defaultFollowupBatchSize)
	result.Followups = followupSummary
	if err != nil && result.Error == "" {
		result.Error = err.Error()
	}

	alerted, err := o.runHotLeadAlerts(ctx, marketCode)
	result.Alerted = alerted
	if err != nil && result.Error == "" {
		result.Error = err.Error()
	}

	return result
}

// runScoring rescans every INGESTED (never scored) and PRE_SCORE (scored
// below the CONTACT threshold, waiting for a tax-roll refresh to change the
// picture) lead in marketCode and recomputes its motivation score.
func (o *Orchestrator) runScoring(ctx context.Context, marketCode string) (int, error) {
	ingested, err := o.store.ListLeads(ctx, types.LeadFilter{
		MarketCode: marketCode, Stage: types.StageIngested, Limit: scoringBatchSize,
	})
	if err != nil {
		return 0, err
	}
	preScore, err := o.store.ListLeads(ctx, types.LeadFilter{
		MarketCode: marketCode, Stage: types.StagePreScore, Limit: scoringBatchSize,
	})
	if err != nil {
		return 0, err
	}
	leads := append(ingested, preScore...)

	scored := 0
	for _, lead := range leads {
		if _, err := o.scoring.ScoreLead(ctx, lead.ID); err == nil {
			scored++
		}
	}
	return scored, nil
}

func (o *Orchestrator) runInitialOutreach(ctx context.Context, marketCode string, cfg market.Config) outreachSummary {
	var summary outreachSummary
	candidates, err := o.store.LeadsForInitialOutreach(ctx, marketCode, cfg.MinMotivationScore, initialOutreachBatchSize)
	if err != nil {
		return summary
	}

	for _, lead := range candidates {
		parcel, err := o.store.GetParcel(ctx, lead.ParcelID)
		if err != nil {
			summary.Blocked++
			continue
		}
		body := introMessage(parcel)
		if _, err := o.dispatcher.SendFirstText(ctx, lead.ID, false, body); err != nil {
			if apperrors.IsType(err, apperrors.ErrorTypeValidation) || apperrors.IsType(err, apperrors.ErrorTypeLockHeld) {
				summary.Blocked++
			} else {
				summary.Failed++
			}
			continue
		}
		summary.Sent++
	}
	return summary
}

func (o *Orchestrator) runHotLeadAlerts(ctx context.Context, marketCode string) (int, error) {
	hotLeads, err := o.store.HotLeadsForAlerts(ctx, marketCode, scoring.HotThreshold, hotLeadAlertBatchSize)
	if err != nil {
		return 0, err
	}
	alerted := 0
	for _, lead := range hotLeads {
		parcel, _ := o.store.GetParcel(ctx, lead.ParcelID)
		address := ""
		if parcel != nil {
			address = parcel.SitusAddress
		}
		sent, err := o.alerts.AlertHotLead(ctx, lead, address, "", "high motivation score")
		if err != nil {
			continue
		}
		if sent {
			alerted++
		}
	}
	return alerted, nil
}

func introMessage(parcel *types.Parcel) string {
	if parcel == nil || parcel.SitusAddress == "" {
		return "Hi, I'm interested in buying your land. Would you consider selling? Reply STOP to opt out."
	}
	return fmt.Sprintf("Hi, I'm interested in buying your property at %s. Would you consider selling? Reply STOP to opt out.", parcel.SitusAddress)
}
