package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/ebrland/orchestrator/pkg/alerts"
	"github.com/ebrland/orchestrator/pkg/buyers"
	"github.com/ebrland/orchestrator/pkg/circuitbreaker"
	"github.com/ebrland/orchestrator/pkg/conversation"
	"github.com/ebrland/orchestrator/pkg/dealsheet"
	"github.com/ebrland/orchestrator/pkg/market"
	"github.com/ebrland/orchestrator/pkg/orchestrator"
	"github.com/ebrland/orchestrator/pkg/outreach"
	"github.com/ebrland/orchestrator/pkg/store/memstore"
	"github.com/ebrland/orchestrator/pkg/types"
	"github.com/ebrland/orchestrator/pkg/webhooksec"
)

type fakeSender struct{ sent int }

func (f *fakeSender) SendSMS(ctx context.Context, to, body string) (types.SendResult, error) {
	f.sent++
	return types.SendResult{ProviderSID: "SM-test", Status: "queued"}, nil
}

func phoneOf(s string) *string   { return &s }
func landVal(v float64) *float64 { return &v }

func newTestServer(t *testing.T) (*Server, *memstore.Memstore, *fakeSender) {
	t.Helper()
	s := memstore.New()
	sender := &fakeSender{}
	breaker := circuitbreaker.NewManager(nil)

	dispatcher := outreach.NewDispatcher(outreach.DispatcherConfig{
		Store: s, Breaker: breaker, Sender: sender, HolderID: "api-test",
	})
	registry := market.NewRegistry("default")
	convoEngine := conversation.New(s, breaker, nil, registry)
	alertDispatcher := alerts.New(s, breaker, sender)
	dealGen := dealsheet.NewGenerator(s)
	matcher := buyers.NewMatcher(s.ListBuyersForMarket)
	blaster := buyers.NewBlaster(s, matcher, sender, func(b types.Buyer, leadID int64) string { return "new deal" })
	orch := orchestrator.New(s, dispatcher, alertDispatcher, registry, "api-test", func(l *types.Lead, n int) string { return "checking in" })

	srv := NewServer(ServerDeps{
		Store:        s,
		Dispatcher:   dispatcher,
		Conversation: convoEngine,
		Alerts:       alertDispatcher,
		DealSheets:   dealGen,
		Matcher:      matcher,
		Blaster:      blaster,
		Registry:     registry,
		Orchestrator: orch,
		WebhookSig:   webhooksec.NewValidator("test-token"),
		DryRun:       true,
	})
	return srv, s, sender
}

func doRequest(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(t, srv.Router(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCreateAndGetLead(t *testing.T) {
	srv, s, _ := newTestServer(t)
	ctx := context.Background()
	parcel, _ := s.UpsertParcel(ctx, &types.Parcel{SitusAddress: "1 Oak Ln", Parish: "Orleans"})

	owner, _ := s.UpsertOwner(ctx, &types.Owner{PartyID: 1, PhonePrimary: phoneOf("504-555-0100")})
	rec := doRequest(t, srv.Router(), http.MethodPost, "/leads/", map[string]interface{}{
		"owner_id":    owner.ID,
		"parcel_id":   parcel.ID,
		"market_code": "default",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created types.Lead
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected a created lead id, got 0")
	}

	rec = doRequest(t, srv.Router(), http.MethodGet, "/leads/"+itoa(created.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleListLeads_FiltersByMarket(t *testing.T) {
	srv, s, _ := newTestServer(t)
	ctx := context.Background()
	parcel, _ := s.UpsertParcel(ctx, &types.Parcel{SitusAddress: "2 Elm St", Parish: "Jefferson"})
	s.UpsertLead(ctx, &types.Lead{OwnerID: 1, ParcelID: parcel.ID, MarketCode: "default", MotivationScore: 70})
	s.UpsertLead(ctx, &types.Lead{OwnerID: 2, ParcelID: parcel.ID, MarketCode: "other", MotivationScore: 70})

	rec := doRequest(t, srv.Router(), http.MethodGet, "/leads/?market=default", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var leads []types.Lead
	if err := json.Unmarshal(rec.Body.Bytes(), &leads); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	for _, l := range leads {
		if l.MarketCode != "default" {
			t.Errorf("expected only default-market leads, got %q", l.MarketCode)
		}
	}
}

func TestHandleCreateAndGetBuyer(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv.Router(), http.MethodPost, "/buyers", map[string]interface{}{
		"name":    "Bayou Land Partners",
		"phone":   "504-555-0200",
		"markets": []string{"default"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created types.Buyer
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	rec = doRequest(t, srv.Router(), http.MethodGet, "/buyers/"+itoa(created.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleOutreachLead_SendsFirstText(t *testing.T) {
	srv, s, sender := newTestServer(t)
	ctx := context.Background()
	parcel, _ := s.UpsertParcel(ctx, &types.Parcel{SitusAddress: "3 Pine Rd", Parish: "Orleans"})
	owner, _ := s.UpsertOwner(ctx, &types.Owner{PartyID: 3, PhonePrimary: phoneOf("504-555-0300"), IsTCPASafe: true})
	lead, _ := s.UpsertLead(ctx, &types.Lead{OwnerID: owner.ID, ParcelID: parcel.ID, MarketCode: "default"})

	rec := doRequest(t, srv.Router(), http.MethodPost, "/outreach/lead/"+itoa(lead.ID), map[string]interface{}{})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if sender.sent != 1 {
		t.Fatalf("expected exactly one send, got %d", sender.sent)
	}
}

func TestHandlePipelineNightly_DryRun(t *testing.T) {
	srv, s, sender := newTestServer(t)
	ctx := context.Background()
	parcel, _ := s.UpsertParcel(ctx, &types.Parcel{SitusAddress: "4 Cypress Ave", Parish: "Orleans", AssessedLandVal: landVal(15000)})
	owner, _ := s.UpsertOwner(ctx, &types.Owner{PartyID: 4, PhonePrimary: phoneOf("504-555-0400"), IsTCPASafe: true})
	lead, _ := s.UpsertLead(ctx, &types.Lead{OwnerID: owner.ID, ParcelID: parcel.ID, MarketCode: "default"})
	s.UpdateLeadScore(ctx, lead.ID, 70, types.StageNew)

	rec := doRequest(t, srv.Router(), http.MethodPost, "/pipeline/nightly", map[string]interface{}{
		"markets": []string{"default"},
		"dry_run": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if sender.sent != 0 {
		t.Fatalf("dry run must not send outreach, got %d sends", sender.sent)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
