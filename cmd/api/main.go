// Command api serves the lead-management and call-prep HTTP surface plus
// the Twilio inbound SMS and delivery-status webhooks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/ebrland/orchestrator/internal/config"
	"github.com/ebrland/orchestrator/internal/database"
	applog "github.com/ebrland/orchestrator/internal/logging"
	"github.com/ebrland/orchestrator/pkg/ai/llm"
	"github.com/ebrland/orchestrator/pkg/alerts"
	"github.com/ebrland/orchestrator/pkg/buyers"
	"github.com/ebrland/orchestrator/pkg/cache"
	"github.com/ebrland/orchestrator/pkg/circuitbreaker"
	"github.com/ebrland/orchestrator/pkg/conversation"
	"github.com/ebrland/orchestrator/pkg/market"
	"github.com/ebrland/orchestrator/pkg/orchestrator"
	"github.com/ebrland/orchestrator/pkg/outreach"
	"github.com/ebrland/orchestrator/pkg/store"
	"github.com/ebrland/orchestrator/pkg/types"
	"github.com/ebrland/orchestrator/pkg/webhooksec"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
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
		os.Exit(2)
	}

	// A second, pgx-backed pool dedicated to /healthz readiness checks —
	// cheap to ping without borrowing a connection the sqlx pool is using
	// for an in-flight request.
	dbCfg := &database.Config{
		Host: cfg.Database.Host, Port: cfg.Database.Port, User: cfg.Database.User,
		Password: cfg.Database.Password, Database: cfg.Database.Name, SSLMode: cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns, MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
	readinessPool, err := database.Connect(dbCfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to open readiness pool")
		os.Exit(2)
	}
	defer readinessPool.Close()

	var classifierLLM types.LLM
	if cfg.Anthropic.APIKey != "" {
		classifierLLM, err = llm.NewClient(cfg.Anthropic)
		if err != nil {
			logger.WithError(err).Warn("anthropic client unavailable, classifier will rely on keywords only")
		}
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
		HolderID: "api",
		DryRun:   cfg.Actions.DryRun,
	})

	registry := market.NewRegistry(cfg.Market.DefaultMarket)
	applyMarketDefaults(registry, cfg.Market)

	if stopWatch, err := config.Watch(*configPath, logger, func(reloaded *config.Config) {
		applyMarketDefaults(registry, reloaded.Market)
		logger.WithField("market", reloaded.Market.DefaultMarket).Info("reloaded market defaults from config change")
	}); err != nil {
		logger.WithError(err).Warn("config hot-reload disabled, continuing with static config")
	} else {
		defer stopWatch()
	}

	convoEngine := conversation.New(pgStore, breaker, classifierLLM, registry)
	alertDispatcher := alerts.New(pgStore, breaker, twilioSender)
	dealGen := dealsheetGenerator(pgStore)
	if classifierLLM != nil {
		var descCache *cache.Cache
		if cfg.Redis.Addr != "" {
			descCache = cache.New(cache.NewClient(cfg.Redis.Addr), "orchestrator:")
		}
		dealGen.WithLLM(classifierLLM, descCache)
	}
	matcher := buyers.NewMatcher(pgStore.ListBuyersForMarket)
	blaster := buyers.NewBlaster(pgStore, matcher, twilioSender, dealMessage(dealGen))
	orch := orchestrator.New(pgStore, dispatcher, alertDispatcher, registry, "api", followupMessage)

	validator := webhooksec.NewValidator(cfg.Twilio.AuthToken)

	srv := NewServer(ServerDeps{
		Store:         pgStore,
		ReadinessPool: readinessPool,
		Dispatcher:    dispatcher,
		Conversation:  convoEngine,
		Alerts:        alertDispatcher,
		DealSheets:    dealGen,
		Matcher:       matcher,
		Blaster:       blaster,
		Registry:      registry,
		Orchestrator:  orch,
		WebhookSig:    validator,
		DryRun:        cfg.Actions.DryRun,
		Logger:        logger,
	})

	addr := ":" + cfg.Server.APIPort
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.WithField("addr", addr).Info("api server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("api server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down api server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}

// applyMarketDefaults installs the configured default market into registry,
// overwriting the prior entry for that market code. Safe to call again on
// every config hot-reload since Registry.Set replaces rather than merges.
func applyMarketDefaults(registry *market.Registry, defaults config.MarketDefaults) {
	registry.Set(market.Config{
		Code:               defaults.DefaultMarket,
		Timezone:           defaults.Timezone,
		OutreachStartHour:  9,
		OutreachEndHour:    20,
		FollowupIntervals:  []int{defaults.FollowupDay1, defaults.FollowupDay2, 14, 30},
		MaxFollowups:       defaults.MaxFollowups,
		MinMotivationScore: defaults.MinMotivationScore,
	})
}

// followupMessage renders the body for a scheduled re-contact attempt
// triggered by the on-demand POST /pipeline/nightly route.
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
