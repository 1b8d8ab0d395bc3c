// Command scheduler runs one pass of the nightly pipeline: score, send
// initial outreach, process due followups, and alert on hot leads,
// across every configured market (or a subset named with -markets). It
// is meant to be invoked once per run by an external cron or CronJob,
// not to loop internally.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/ebrland/orchestrator/internal/config"
	"github.com/ebrland/orchestrator/internal/database"
	applog "github.com/ebrland/orchestrator/internal/logging"
	"github.com/ebrland/orchestrator/pkg/alerts"
	"github.com/ebrland/orchestrator/pkg/circuitbreaker"
	"github.com/ebrland/orchestrator/pkg/market"
	"github.com/ebrland/orchestrator/pkg/orchestrator"
	"github.com/ebrland/orchestrator/pkg/outreach"
	applogfields "github.com/ebrland/orchestrator/pkg/shared/logging"
	"github.com/ebrland/orchestrator/pkg/store"
	"github.com/ebrland/orchestrator/pkg/types"
)

const (
	exitOK             = 0
	exitConfigInvalid  = 1
	exitDatabaseDown   = 2
	exitPipelineFailed = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	marketsFlag := flag.String("markets", "", "comma-separated market codes to run (default: every configured market)")
	dryRun := flag.Bool("dry-run", false, "skip outreach sends but still score, follow up, and alert")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitConfigInvalid
	}

	logger := applog.New(cfg.Logging)

	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Name, cfg.Database.SSLMode)
	if cfg.Database.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Database.Password)
	}

	pgStore, err := store.Open(dsn)
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		return exitDatabaseDown
	}

	dbCfg := &database.Config{
		Host: cfg.Database.Host, Port: cfg.Database.Port, User: cfg.Database.User,
		Password: cfg.Database.Password, Database: cfg.Database.Name, SSLMode: cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns, MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
	readinessPool, err := database.Connect(dbCfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to open readiness pool")
		return exitDatabaseDown
	}
	defer readinessPool.Close()
	if err := readinessPool.Ping(context.Background()); err != nil {
		logger.WithError(err).Error("database unreachable")
		return exitDatabaseDown
	}

	breaker := circuitbreaker.NewManager(func(name string, from, to gobreaker.State) {
		logger.WithFields(logrus.Fields{"breaker": name, "from": from, "to": to}).Warn("circuit breaker state change")
	})

	twilioSender := outreach.NewTwilioClient(outreach.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		From:       cfg.Twilio.FromNumber,
	})

	dispatcher := outreach.NewDispatcher(outreach.DispatcherConfig{
		Store:    pgStore,
		Breaker:  breaker,
		Sender:   twilioSender,
		HolderID: "scheduler",
		DryRun:   cfg.Actions.DryRun || *dryRun,
	})

	registry := market.NewRegistry(cfg.Market.DefaultMarket)
	registry.Set(market.Config{
		Code:               cfg.Market.DefaultMarket,
		Timezone:           cfg.Market.Timezone,
		OutreachStartHour:  9,
		OutreachEndHour:    20,
		FollowupIntervals:  []int{cfg.Market.FollowupDay1, cfg.Market.FollowupDay2, 14, 30},
		MaxFollowups:       cfg.Market.MaxFollowups,
		MinMotivationScore: cfg.Market.MinMotivationScore,
	})

	alertDispatcher := alerts.New(pgStore, breaker, twilioSender)

	orch := orchestrator.New(pgStore, dispatcher, alertDispatcher, registry, "scheduler", followupMessage)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var markets []string
	if *marketsFlag != "" {
		for _, m := range strings.Split(*marketsFlag, ",") {
			if m = strings.TrimSpace(m); m != "" {
				markets = append(markets, m)
			}
		}
	}

	logger.WithFields(logrus.Fields{"markets": markets, "dry_run": cfg.Actions.DryRun || *dryRun}).Info("starting nightly pipeline run")

	result, err := orch.RunNightlyPipeline(ctx, markets, cfg.Actions.DryRun || *dryRun)
	if err != nil {
		logger.WithError(err).Error("nightly pipeline run failed")
		return exitPipelineFailed
	}

	for _, m := range result.Markets {
		fields := applogfields.WorkflowFields("nightly_pipeline", m.Market).
			Custom("scored", m.Scored).
			Custom("sent", m.Outreach.Sent).
			Custom("blocked", m.Outreach.Blocked).
			Custom("failed", m.Outreach.Failed).
			Custom("followups", m.Followups.Sent).
			Custom("alerted", m.Alerted)
		if m.Error != "" {
			logger.WithFields(fields.Error(errors.New(m.Error)).ToLogrus()).Warn("market pass completed with errors")
			continue
		}
		logger.WithFields(fields.ToLogrus()).Info("market pass completed")
	}

	logger.WithFields(applogfields.PerformanceFields("nightly_pipeline", result.EndedAt.Sub(result.StartedAt), true).ToLogrus()).
		Info("nightly pipeline run finished")
	return exitOK
}

// followupMessage renders the body for a scheduled re-contact attempt.
// It never references the first-touch script so a lead who went quiet
// doesn't see a repeated opener.
func followupMessage(lead *types.Lead, followupNum int) string {
	switch {
	case followupNum <= 1:
		return "Hi again, just following up on my interest in buying your land. Let me know if you'd consider an offer. Reply STOP to opt out."
	case followupNum == 2:
		return "Still interested in your property if you'd like to discuss a cash offer, no pressure either way. Reply STOP to opt out."
	default:
		return "Last check-in from me about your land — happy to talk whenever works for you. Reply STOP to opt out."
	}
}
