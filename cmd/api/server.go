package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	apperrors "github.com/ebrland/orchestrator/internal/errors"
	"github.com/ebrland/orchestrator/pkg/alerts"
	"github.com/ebrland/orchestrator/pkg/buyers"
	"github.com/ebrland/orchestrator/pkg/conversation"
	"github.com/ebrland/orchestrator/pkg/dealsheet"
	"github.com/ebrland/orchestrator/pkg/market"
	"github.com/ebrland/orchestrator/pkg/metrics"
	"github.com/ebrland/orchestrator/pkg/orchestrator"
	"github.com/ebrland/orchestrator/pkg/outreach"
	"github.com/ebrland/orchestrator/pkg/store"
	"github.com/ebrland/orchestrator/pkg/types"
	"github.com/ebrland/orchestrator/pkg/webhooksec"
)

// ServerDeps are the components the HTTP surface is wired against.
type ServerDeps struct {
	Store        store.Store
	Dispatcher   *outreach.Dispatcher
	Conversation *conversation.Engine
	Alerts       *alerts.Dispatcher
	DealSheets   *dealsheet.Generator
	Matcher      *buyers.Matcher
	Blaster      *buyers.Blaster
	Registry      *market.Registry
	Orchestrator  *orchestrator.Orchestrator
	ReadinessPool *pgxpool.Pool
	WebhookSig    *webhooksec.Validator
	Metrics       *metrics.Metrics
	DryRun        bool
	Logger        *logrus.Logger
}

// Server holds the HTTP routing for the lead-management API and the
// Twilio webhooks.
type Server struct {
	deps     ServerDeps
	validate *validator.Validate
}

func NewServer(deps ServerDeps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Server{deps: deps, validate: validator.New()}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.deps.Metrics.Handler())

	r.Route("/leads", func(r chi.Router) {
		r.Get("/", s.handleListLeads)
		r.Post("/", s.handleCreateLead)
		r.Get("/{id}", s.handleGetLead)
		r.Patch("/{id}", s.handleUpdateLeadStatus)
	})

	r.Route("/calls/{id}", func(r chi.Router) {
		r.Get("/prep-pack", s.handleCallPrepPack)
		r.Get("/offer", s.handleCallOffer)
		r.Get("/script", s.handleCallScript)
	})

	r.Post("/buyers", s.handleCreateBuyer)
	r.Get("/buyers/{id}", s.handleGetBuyer)
	r.Post("/blasts/{lead_id}", s.handleBlast)

	r.Post("/outreach/batch", s.handleOutreachBatch)
	r.Post("/outreach/lead/{id}", s.handleOutreachLead)
	r.Post("/pipeline/nightly", s.handlePipelineNightly)

	r.Post("/webhooks/sms", s.handleInboundSMS)
	r.Post("/webhooks/status", s.handleDeliveryStatus)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.ReadinessPool != nil {
		if err := s.deps.ReadinessPool.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.LeadFilter{
		MarketCode:   q.Get("market"),
		Stage:        types.PipelineStage(q.Get("stage")),
		TCPASafeOnly: q.Get("tcpa_safe_only") == "true",
	}
	if v := q.Get("min_score"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.MinScore = n
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	leads, err := s.deps.Store.ListLeads(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leads)
}

type createLeadRequest struct {
	OwnerID    int64  `json:"owner_id" validate:"required"`
	ParcelID   int64  `json:"parcel_id" validate:"required"`
	MarketCode string `json:"market_code" validate:"required"`
}

func (s *Server) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	var req createLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewValidationError("invalid request body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	lead := &types.Lead{OwnerID: req.OwnerID, ParcelID: req.ParcelID, MarketCode: req.MarketCode}
	created, err := s.deps.Store.UpsertLead(r.Context(), lead)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetLead(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	lead, err := s.deps.Store.GetLead(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

type updateLeadStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (s *Server) handleUpdateLeadStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateLeadStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewValidationError("invalid request body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	lead, err := s.deps.Store.GetLead(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Store.UpdateLeadScore(r.Context(), id, lead.MotivationScore, types.PipelineStage(req.Status)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

func (s *Server) handleCallPrepPack(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	sheet, err := s.deps.DealSheets.Generate(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

func (s *Server) handleCallOffer(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	sheet, err := s.deps.DealSheets.Generate(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sheet.OfferRange)
}

func (s *Server) handleCallScript(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	sheet, err := s.deps.DealSheets.Generate(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"script": sheet.Script})
}

type createBuyerRequest struct {
	Name       string   `json:"name" validate:"required"`
	Phone      string   `json:"phone" validate:"required"`
	Email      string   `json:"email" validate:"omitempty,email"`
	Markets    []string `json:"markets"`
	Counties   []string `json:"counties"`
	MinAcreage *float64 `json:"min_acreage"`
	MaxAcreage *float64 `json:"max_acreage"`
	MinBudget  *float64 `json:"min_budget"`
	MaxBudget  *float64 `json:"max_budget"`
}

func (s *Server) handleCreateBuyer(w http.ResponseWriter, r *http.Request) {
	var req createBuyerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewValidationError("invalid request body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, apperrors.NewValidationError(err.Error()))
		return
	}
	buyer := &types.Buyer{
		Name: req.Name, Phone: req.Phone, Email: req.Email,
		Markets: req.Markets, Counties: req.Counties,
		MinAcreage: req.MinAcreage, MaxAcreage: req.MaxAcreage,
		MinBudget: req.MinBudget, MaxBudget: req.MaxBudget,
	}
	created, err := s.deps.Store.UpsertBuyer(r.Context(), buyer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetBuyer(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	buyer, err := s.deps.Store.GetBuyer(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buyer)
}

type blastRequest struct {
	BuyerIDs      []int64 `json:"buyer_ids"`
	MaxBuyers     int     `json:"max_buyers"`
	MinMatchScore float64 `json:"min_match_score"`
	DryRun        bool    `json:"dry_run"`
}

func (s *Server) handleBlast(w http.ResponseWriter, r *http.Request) {
	leadID, err := idParam(r, "lead_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req blastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.NewValidationError("invalid request body"))
		return
	}
	maxBuyers := req.MaxBuyers
	if maxBuyers <= 0 {
		maxBuyers = 5
	}

	lead, err := s.deps.Store.GetLead(r.Context(), leadID)
	if err != nil {
		writeError(w, err)
		return
	}
	parcel, err := s.deps.Store.GetParcel(r.Context(), lead.ParcelID)
	if err != nil {
		writeError(w, err)
		return
	}
	acreage := 0.0
	if parcel.Acreage != nil {
		acreage = *parcel.Acreage
	}

	if req.DryRun || s.deps.DryRun {
		matches, err := s.deps.Matcher.MatchBuyers(r.Context(), lead.MarketCode, parcel.Parish, acreage, 0, req.MinMatchScore, maxBuyers)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"dry_run": true, "matched": len(matches)})
		return
	}

	result, err := s.deps.Blaster.SendBlast(r.Context(), lead, parcel.Parish, acreage, 0, req.MinMatchScore, maxBuyers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type outreachBatchRequest struct {
	Limit    int `json:"limit"`
	MinScore int `json:"min_score"`
}

type outreachBatchResult struct {
	Market  string `json:"market"`
	Sent    int    `json:"sent"`
	Skipped int    `json:"skipped"`
}

// handleOutreachBatch sends initial outreach to up to Limit eligible leads
// per configured market, for an operator who wants to run a batch outside
// the nightly schedule. It reuses the same eligibility query as the
// nightly pipeline (NEW stage, never contacted, score >= MinScore).
func (s *Server) handleOutreachBatch(w http.ResponseWriter, r *http.Request) {
	var req outreachBatchRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperrors.NewValidationError("invalid request body"))
			return
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}

	var results []outreachBatchResult
	for _, code := range s.deps.Registry.Codes() {
		leads, err := s.deps.Store.LeadsForInitialOutreach(r.Context(), code, req.MinScore, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		result := outreachBatchResult{Market: code}
		for _, lead := range leads {
			parcel, err := s.deps.Store.GetParcel(r.Context(), lead.ParcelID)
			if err != nil {
				result.Skipped++
				continue
			}
			if _, err := s.deps.Dispatcher.SendFirstText(r.Context(), lead.ID, false, introMessage(parcel)); err != nil {
				result.Skipped++
				continue
			}
			result.Sent++
		}
		s.deps.Metrics.OutreachSent.WithLabelValues(code).Add(float64(result.Sent))
		results = append(results, result)
	}
	writeJSON(w, http.StatusOK, results)
}

type outreachLeadRequest struct {
	Context string `json:"context"`
}

// handleOutreachLead sends an on-demand first-touch text to a single
// lead, outside the batch/nightly flows. Context, when given, is folded
// into the opener the same way the nightly pipeline folds in the
// parcel's situs address.
func (s *Server) handleOutreachLead(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req outreachLeadRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperrors.NewValidationError("invalid request body"))
			return
		}
	}

	lead, err := s.deps.Store.GetLead(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	parcel, err := s.deps.Store.GetParcel(r.Context(), lead.ParcelID)
	if err != nil {
		writeError(w, err)
		return
	}
	body := introMessage(parcel)
	if req.Context != "" {
		body = req.Context + " " + body
	}
	attempt, err := s.deps.Dispatcher.SendFirstText(r.Context(), id, false, body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

type pipelineNightlyRequest struct {
	Markets []string `json:"markets"`
	DryRun  bool     `json:"dry_run"`
}

func (s *Server) handlePipelineNightly(w http.ResponseWriter, r *http.Request) {
	var req pipelineNightlyRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apperrors.NewValidationError("invalid request body"))
			return
		}
	}
	result, err := s.deps.Orchestrator.RunNightlyPipeline(r.Context(), req.Markets, req.DryRun || s.deps.DryRun)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, m := range result.Markets {
		s.deps.Metrics.LeadsScored.WithLabelValues(m.Market).Add(float64(m.Scored))
		s.deps.Metrics.OutreachSent.WithLabelValues(m.Market).Add(float64(m.Outreach.Sent))
		s.deps.Metrics.OutreachBlocked.WithLabelValues(m.Market).Add(float64(m.Outreach.Blocked))
		s.deps.Metrics.OutreachFailed.WithLabelValues(m.Market).Add(float64(m.Outreach.Failed))
		s.deps.Metrics.AlertsSent.WithLabelValues(m.Market).Add(float64(m.Alerted))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleInboundSMS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, apperrors.NewValidationError("invalid form body"))
		return
	}

	if !s.deps.DryRun {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		sig := r.Header.Get("X-Twilio-Signature")
		if !s.deps.WebhookSig.Verify(fullURL(r), params, sig) {
			writeError(w, apperrors.NewAuthError("invalid webhook signature"))
			return
		}
	}

	from := r.PostForm.Get("From")
	body := r.PostForm.Get("Body")
	if from == "" {
		writeError(w, apperrors.NewValidationError("missing From"))
		return
	}

	lead, err := s.deps.Store.GetLeadByPhone(r.Context(), from)
	if err != nil {
		writeError(w, err)
		return
	}

	action, err := s.deps.Conversation.ProcessReply(r.Context(), lead.ID, body)
	if err != nil {
		writeError(w, err)
		return
	}

	if action.AlertNeeded {
		_, _ = s.deps.Alerts.AlertInterestedReply(r.Context(), lead, string(action.Intent), body)
	}

	writeTwiML(w, action.Response)
}

func (s *Server) handleDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, apperrors.NewValidationError("invalid form body"))
		return
	}

	if !s.deps.DryRun {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		sig := r.Header.Get("X-Twilio-Signature")
		if !s.deps.WebhookSig.Verify(fullURL(r), params, sig) {
			writeError(w, apperrors.NewAuthError("invalid webhook signature"))
			return
		}
	}

	sid := r.PostForm.Get("MessageSid")
	status := r.PostForm.Get("MessageStatus")
	attempt, err := s.deps.Store.FindOutreachByProviderSID(r.Context(), sid)
	if err == nil && attempt != nil {
		attempt.Status = status
		_ = s.deps.Store.UpdateOutreachAttempt(r.Context(), attempt)
	}

	w.WriteHeader(http.StatusNoContent)
}

func introMessage(parcel *types.Parcel) string {
	if parcel == nil || parcel.SitusAddress == "" {
		return "Hi, I'm interested in buying your land. Would you consider selling? Reply STOP to opt out."
	}
	return "Hi, I'm interested in buying your property at " + parcel.SitusAddress + ". Would you consider selling? Reply STOP to opt out."
}

func dealsheetGenerator(s store.Store) *dealsheet.Generator {
	return dealsheet.NewGenerator(s)
}

// dealMessage renders the SMS sent to a matched buyer: one fixed, generic
// teaser with no offer numbers and no lead-specific content (gen is not
// consulted), so the details stay behind the API for a human to review first.
func dealMessage(gen *dealsheet.Generator) buyers.DealMessageFunc {
	return func(buyer types.Buyer, leadID int64) string {
		return "New off-market land deal available in your area. Reply for details."
	}
}

func idParam(r *http.Request, key string) (int64, error) {
	raw := chi.URLParam(r, key)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.NewValidationError("invalid id: " + raw)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := apperrors.GetStatusCode(err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeTwiML(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Response><Message>` + escapeXML(message) + `</Message></Response>`))
}

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

func fullURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
