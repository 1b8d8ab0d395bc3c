// Package types defines the domain entities shared across the ingestion,
// scoring, outreach, and scheduling packages.
package types

import (
	"context"
	"time"
)

type PipelineStage string

const (
	StageIngested  PipelineStage = "INGESTED"
	StagePreScore  PipelineStage = "PRE_SCORE"
	StageNew       PipelineStage = "NEW"
	StageContacted PipelineStage = "CONTACTED"
	StageReview    PipelineStage = "REVIEW"
	StageHot       PipelineStage = "HOT"
	StageOffer     PipelineStage = "OFFER"
	StageContract  PipelineStage = "CONTRACT"
)

// manuallyAdvancedStages are the stages an operator (not the scoring engine)
// moves a lead into. Automated scoring never regresses a lead out of one.
var manuallyAdvancedStages = map[PipelineStage]bool{
	StageContacted: true,
	StageReview:    true,
	StageOffer:     true,
	StageContract:  true,
}

// IsManuallyAdvanced reports whether s is a stage only a human moves a lead
// into or out of, never the automated scoring pass.
func (s PipelineStage) IsManuallyAdvanced() bool {
	return manuallyAdvancedStages[s]
}

// ReplyClassification records the durable outcome of the most recent inbound
// reply on a Lead. The zero value means no reply has been classified yet.
type ReplyClassification string

const (
	ReplyInterested    ReplyClassification = "INTERESTED"
	ReplyNotInterested ReplyClassification = "NOT_INTERESTED"
	ReplySendOffer     ReplyClassification = "SEND_OFFER"
	ReplyConfused      ReplyClassification = "CONFUSED"
	ReplyDead          ReplyClassification = "DEAD"
)

// BlocksOutreach reports whether this classification gates further
// automated outreach to the lead until an operator forces a send.
func (c ReplyClassification) BlocksOutreach() bool {
	return c == ReplyNotInterested || c == ReplyDead
}

type Party struct {
	ID          int64
	DisplayName string
	MatchHash   string
	Zip         string // mailing zip
}

// Owner is the contact channel bound to a Party. One Owner can be attached
// to many Leads (one per parcel); opt-out and do-not-reach are recorded here
// so they apply to every property that Owner is contacted about, not just
// the one whose reply triggered them.
type Owner struct {
	ID           int64
	PartyID      int64
	PhonePrimary *string
	Email        string
	IsTCPASafe   bool
	IsDNR        bool
	OptOut       bool
	OptOutAt     *time.Time
}

type Parcel struct {
	ID               int64
	ParcelID         string // canonical, normalized
	SitusAddress     string
	SitusZip         string
	Parish           string
	Acreage          *float64
	AssessedLandVal  *float64
	ImprovementValue *float64
	VacantLand       bool
	Adjudicated      bool
	DelinquentYears  int
	Latitude         *float64
	Longitude        *float64
}

type Lead struct {
	ID                      int64
	OwnerID                 int64
	ParcelID                int64
	MarketCode              string
	MotivationScore         int
	PipelineStage           PipelineStage
	LastReplyClassification ReplyClassification
	FollowupCount           int
	NextFollowupAt          *time.Time
	LastAlertedAt           *time.Time
	BlastSentAt             *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// LeadFilter narrows a ListLeads call. Zero values are treated as
// "unfiltered" for that field; a Limit of zero or less is replaced by 50
// in the store, and no upper cap is applied.
type LeadFilter struct {
	MarketCode    string
	Stage         PipelineStage
	MinScore      int
	TCPASafeOnly  bool
	Limit         int
	Offset        int
}

type ScoreFactor struct {
	Name   string
	Weight int
	Value  float64
}

type OutreachAttempt struct {
	ID            int64
	LeadID        int64
	Direction     string // "outbound" | "inbound"
	Body          string
	Status        string // queued, sent, delivered, failed
	Result        string
	ErrorCode     string
	IdempotencyKey string
	ProviderSID   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type TimelineEventKind string

const (
	EventOutreachSent    TimelineEventKind = "outreach_sent"
	EventReplyReceived   TimelineEventKind = "reply_received"
	EventStageChanged    TimelineEventKind = "stage_changed"
	EventAlertSent       TimelineEventKind = "alert_sent"
	EventFollowupQueued  TimelineEventKind = "followup_queued"
	EventOptOut          TimelineEventKind = "opt_out"
)

type TimelineEvent struct {
	ID        int64
	LeadID    int64
	Kind      TimelineEventKind
	Detail    string
	CreatedAt time.Time
}

type AlertConfig struct {
	ID               int64
	MarketCode       string
	Enabled          bool
	HotScoreThreshold int
	AlertPhone       string
	SlackWebhookURL  string
	DedupHours       int
}

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

type BackgroundTask struct {
	ID        string
	Name      string
	Status    TaskStatus
	Result    string
	Error     string
	StartedAt *time.Time
	EndedAt   *time.Time
	CreatedAt time.Time
}

type SchedulerLock struct {
	Name       string
	HolderID   string
	ExpiresAt  time.Time
}

type Buyer struct {
	ID           int64
	Name         string
	Phone        string
	Email        string
	VIP          bool
	POFVerified  bool
	Markets      []string
	Counties     []string
	MinAcreage   *float64
	MaxAcreage   *float64
	MinBudget    *float64
	MaxBudget    *float64
}

type BuyerDeal struct {
	ID          int64
	BuyerID     int64
	LeadID      int64
	BlastSentAt *time.Time
	Stats       map[string]int
}

type OfferRange struct {
	Low            int
	High           int
	LandValue      *float64
	Acreage        *float64
	DiscountLow    float64
	DiscountHigh   float64
	Justifications []string
	CanMakeOffer   bool
	Reason         string
	Warnings       []string
	Confidence     string
}

type DealSheet struct {
	LeadID        int64
	OfferRange    OfferRange
	Script        string
	AIDescription string
	GeneratedAt   time.Time
	ExpiresAt     time.Time
}

// MessageSender is implemented by outbound SMS gateways (Twilio in
// production, a recording fake in tests).
type MessageSender interface {
	SendSMS(ctx context.Context, to, body string) (SendResult, error)
}

type SendResult struct {
	ProviderSID string
	Status      string
}

// AlertSink is a single-message alert channel. No type in this module
// implements it: pkg/alerts sends SMS through its own sender interface and
// posts to Slack webhooks directly.
type AlertSink interface {
	Send(ctx context.Context, message string) error
}

// LLM is implemented by the reply classifier's fallback model client.
type LLM interface {
	Classify(ctx context.Context, replyText string, leadContext string) (string, float64, error)
	// Describe generates free-text from prompt, used for deal-sheet
	// narrative descriptions rather than reply classification.
	Describe(ctx context.Context, prompt string) (string, error)
}
