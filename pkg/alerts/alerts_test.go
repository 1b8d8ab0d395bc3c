package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/ebrland/orchestrator/pkg/circuitbreaker"
	"github.com/ebrland/orchestrator/pkg/store/memstore"
	"github.com/ebrland/orchestrator/pkg/types"
)

type fakeSMS struct{ calls int }

func (f *fakeSMS) SendSMS(ctx context.Context, to, body string) (types.SendResult, error) {
	f.calls++
	return types.SendResult{ProviderSID: "SM1", Status: "sent"}, nil
}

func TestAlertHotLead_SendsWhenNoRecentAlert(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	s.UpsertAlertConfig(ctx, &types.AlertConfig{MarketCode: "default", Enabled: true, AlertPhone: "504-555-0199"})
	lead := &types.Lead{ID: 1, MarketCode: "default", MotivationScore: 90}

	sms := &fakeSMS{}
	d := New(s, circuitbreaker.NewManager(nil), sms)

	sent, err := d.AlertHotLead(ctx, lead, "123 Main St", "Jane Doe", "score crossed threshold")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sent || sms.calls != 1 {
		t.Fatalf("expected one alert sent, got sent=%v calls=%d", sent, sms.calls)
	}
}

func TestAlertHotLead_DedupedWithinWindow(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	s.UpsertAlertConfig(ctx, &types.AlertConfig{MarketCode: "default", Enabled: true, AlertPhone: "504-555-0199", DedupHours: 24})
	recent := time.Now().Add(-time.Hour)
	lead := &types.Lead{ID: 1, MarketCode: "default", MotivationScore: 90, LastAlertedAt: &recent}

	sms := &fakeSMS{}
	d := New(s, circuitbreaker.NewManager(nil), sms)

	sent, err := d.AlertHotLead(ctx, lead, "123 Main St", "Jane Doe", "score crossed threshold")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent || sms.calls != 0 {
		t.Fatalf("expected alert deduped within window, got sent=%v calls=%d", sent, sms.calls)
	}
}

func TestAlertHotLead_DisabledConfigSendsNothing(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	s.UpsertAlertConfig(ctx, &types.AlertConfig{MarketCode: "default", Enabled: false, AlertPhone: "504-555-0199"})
	lead := &types.Lead{ID: 1, MarketCode: "default", MotivationScore: 90}

	sms := &fakeSMS{}
	d := New(s, circuitbreaker.NewManager(nil), sms)

	sent, err := d.AlertHotLead(ctx, lead, "123 Main St", "Jane Doe", "score crossed threshold")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent || sms.calls != 0 {
		t.Fatalf("expected no alert for disabled config, got sent=%v calls=%d", sent, sms.calls)
	}
}
