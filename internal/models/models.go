package models

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"time"
)

// EventType discriminates the event union on the wire
const (
	EventTypeTransaction = "transaction"
	EventTypeClaim       = "claim"
)

// Channel enum values for transaction events
const (
	ChannelWeb    = "web"
	ChannelMobile = "mobile"
	ChannelATM    = "atm"
	ChannelPOS    = "pos"
	ChannelPhone  = "phone"
	ChannelAPI    = "api"
)

// ClaimType enum values for claim events
const (
	ClaimTypeAuto   = "auto"
	ClaimTypeHome   = "home"
	ClaimTypeHealth = "health"
	ClaimTypeLife   = "life"
	ClaimTypeTravel = "travel"
	ClaimTypeOther  = "other"
)

// Action enum values for decisions
const (
	ActionAllow    = "allow"
	ActionHold     = "hold"
	ActionBlock    = "block"
	ActionEscalate = "escalate"
)

// Reason codes emitted by the decision engine
const (
	ReasonVelocityHigh     = "velocity_high"
	ReasonIPProxyMatch     = "ip_proxy_match"
	ReasonUntrustedChannel = "untrusted_channel"
	ReasonEntityWatchlist  = "entity_watchlist"
	ReasonIPWatchlist      = "ip_watchlist"
	ReasonDeviceWatchlist  = "device_watchlist"
	ReasonVelocityAnomaly  = "velocity_anomaly"
	ReasonGraphAnomaly     = "graph_anomaly"
)

// Evidence bundle types persisted by the auditor
const (
	EvidenceTypeAuditEvent = "audit_event"
	EvidenceTypeDecision   = "decision"
	EvidenceTypeCaseEvent  = "case_event"
)

// Case lifecycle states for the investigation workflow
const (
	CaseStatusOpen          = "open"
	CaseStatusAssigned      = "assigned"
	CaseStatusInvestigating = "investigating"
	CaseStatusResolved      = "resolved"
	CaseStatusClosed        = "closed"
)

// Case priorities, ordered by SLA urgency
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

var validChannels = map[string]bool{
	ChannelWeb: true, ChannelMobile: true, ChannelATM: true,
	ChannelPOS: true, ChannelPhone: true, ChannelAPI: true,
}

var validClaimTypes = map[string]bool{
	ClaimTypeAuto: true, ClaimTypeHome: true, ClaimTypeHealth: true,
	ClaimTypeLife: true, ClaimTypeTravel: true, ClaimTypeOther: true,
}

var validActions = map[string]bool{
	ActionAllow: true, ActionHold: true, ActionBlock: true, ActionEscalate: true,
}

var validCaseStatuses = map[string]bool{
	CaseStatusOpen: true, CaseStatusAssigned: true, CaseStatusInvestigating: true,
	CaseStatusResolved: true, CaseStatusClosed: true,
}

var validPriorities = map[string]bool{
	PriorityCritical: true, PriorityHigh: true, PriorityMedium: true, PriorityLow: true,
}

// ValidChannel reports whether ch is an accepted transaction channel.
func ValidChannel(ch string) bool { return validChannels[ch] }

// ValidClaimType reports whether ct is an accepted claim type.
func ValidClaimType(ct string) bool { return validClaimTypes[ct] }

// ValidAction reports whether a is in the decision action set.
func ValidAction(a string) bool { return validActions[a] }

// ValidCaseStatus reports whether s is a recognized case state.
func ValidCaseStatus(s string) bool { return validCaseStatuses[s] }

// ValidPriority reports whether p is a recognized case priority.
func ValidPriority(p string) bool { return validPriorities[p] }

// TransactionEvent is the payload published to events.txns.v1
type TransactionEvent struct {
	EventID           string    `json:"event_id"`
	EntityID          string    `json:"entity_id"`
	EventType         string    `json:"event_type"`
	Timestamp         time.Time `json:"timestamp"`
	Amount            float64   `json:"amount"`
	Currency          string    `json:"currency"`
	Channel           string    `json:"channel"`
	MerchantID        string    `json:"merchant_id,omitempty"`
	MerchantCategory  string    `json:"merchant_category,omitempty"`
	IPAddress         string    `json:"ip_address,omitempty"`
	DeviceFingerprint string    `json:"device_fingerprint,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	SessionID         string    `json:"session_id,omitempty"`
	Metadata          JSONB     `json:"metadata,omitempty"`
}

// Validate checks the event against the schema. Errors are deterministic:
// identical inputs always produce the identical first error.
func (e *TransactionEvent) Validate() error {
	if e.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if e.Amount < 0 || math.IsNaN(e.Amount) || math.IsInf(e.Amount, 0) {
		return fmt.Errorf("amount must be a finite non-negative number")
	}
	if !currencyPattern.MatchString(e.Currency) {
		return fmt.Errorf("currency must be a 3-letter ISO 4217 code")
	}
	if !ValidChannel(e.Channel) {
		return fmt.Errorf("channel must be one of web, mobile, atm, pos, phone, api")
	}
	return nil
}

// ClaimEvent is the payload published to events.claims.v1
type ClaimEvent struct {
	EventID          string    `json:"event_id"`
	EntityID         string    `json:"entity_id"`
	EventType        string    `json:"event_type"`
	Timestamp        time.Time `json:"timestamp"`
	ClaimAmount      float64   `json:"claim_amount"`
	ClaimType        string    `json:"claim_type"`
	PolicyID         string    `json:"policy_id,omitempty"`
	IncidentDate     string    `json:"incident_date,omitempty"`
	IncidentLocation JSONB     `json:"incident_location,omitempty"`
	ClaimDescription string    `json:"claim_description,omitempty"`
	Metadata         JSONB     `json:"metadata,omitempty"`
}

// Validate checks the claim against the schema.
func (e *ClaimEvent) Validate() error {
	if e.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if e.ClaimAmount < 0 || math.IsNaN(e.ClaimAmount) || math.IsInf(e.ClaimAmount, 0) {
		return fmt.Errorf("claim_amount must be a finite non-negative number")
	}
	if !ValidClaimType(e.ClaimType) {
		return fmt.Errorf("claim_type must be one of auto, home, health, life, travel, other")
	}
	return nil
}

// Geolocation is the resolved location for an IP address
type Geolocation struct {
	Country   string  `json:"country,omitempty"`
	Region    string  `json:"region,omitempty"`
	City      string  `json:"city,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// FeatureMetadata records how a feature vector was computed
type FeatureMetadata struct {
	ComputationTimeMs    float64 `json:"computation_time_ms"`
	CacheHit             bool    `json:"cache_hit"`
	DataFreshnessMinutes float64 `json:"data_freshness_minutes"`
}

// FeatureVector is the payload published to features.online.v1
type FeatureVector struct {
	EventID           string          `json:"event_id"`
	EntityID          string          `json:"entity_id"`
	Timestamp         time.Time       `json:"timestamp"`
	Amount            float64         `json:"amount"`
	Currency          string          `json:"currency,omitempty"`
	Channel           string          `json:"channel,omitempty"`
	Velocity1h        int             `json:"velocity_1h"`
	Velocity24h       int             `json:"velocity_24h"`
	Velocity7d        int             `json:"velocity_7d"`
	IPAddress         string          `json:"ip_address,omitempty"`
	IPRisk            float64         `json:"ip_risk"`
	IPGeolocation     *Geolocation    `json:"ip_geolocation,omitempty"`
	GeoDistanceKm     float64         `json:"geo_distance_km"`
	MerchantRisk      float64         `json:"merchant_risk"`
	MerchantCategory  string          `json:"merchant_category,omitempty"`
	AgeDays           int             `json:"age_days"`
	DeviceFingerprint string          `json:"device_fingerprint,omitempty"`
	SessionID         string          `json:"session_id,omitempty"`
	UserAgentHash     string          `json:"user_agent_hash,omitempty"`
	FeaturesVersion   string          `json:"features_version"`
	FeatureMetadata   FeatureMetadata `json:"feature_metadata"`
}

// ModelScores holds the sub-scores and derived scores, all in [0,1]
type ModelScores struct {
	XGB        float64 `json:"xgb"`
	NN         float64 `json:"nn"`
	Rules      float64 `json:"rules"`
	Ensemble   float64 `json:"ensemble"`
	Calibrated float64 `json:"calibrated"`
}

// FeatureContribution pairs a feature name with its signed importance
type FeatureContribution struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// FeatureExplanation carries the top attributions for a scored example
type FeatureExplanation struct {
	TopFeatures       []FeatureContribution `json:"top_features"`
	FeatureImportance map[string]float64    `json:"feature_importance,omitempty"`
}

// ScoreOutput is the payload published to alerts.scores.v1.
// The feature vector rides along so the decision stage can derive
// reason codes without a cross-topic join.
type ScoreOutput struct {
	EventID           string              `json:"event_id"`
	Scores            ModelScores         `json:"scores"`
	Explain           *FeatureExplanation `json:"explain,omitempty"`
	ModelVersion      string              `json:"model_version"`
	ComputationTimeMs float64             `json:"computation_time_ms"`
	Features          *FeatureVector      `json:"features,omitempty"`
}

// DecisionOutput is the payload published to alerts.decisions.v1
type DecisionOutput struct {
	EventID         string   `json:"event_id"`
	EntityID        string   `json:"entity_id,omitempty"`
	Risk            float64  `json:"risk"`
	Action          string   `json:"action"`
	Policy          string   `json:"policy"`
	Reasons         []string `json:"reasons"`
	CaseID          string   `json:"case_id,omitempty"`
	WatchlistHits   []string `json:"watchlist_hits,omitempty"`
	VelocityAnomaly bool     `json:"velocity_anomaly"`
	GraphAnomaly    bool     `json:"graph_anomaly"`
	DecisionTimeMs  float64  `json:"decision_time_ms"`
}

// EvidenceBundle is the content-addressed record written to the object store
type EvidenceBundle struct {
	BundleID     string    `json:"bundle_id"`
	EventID      string    `json:"event_id"`
	EvidenceType string    `json:"evidence_type"`
	Payload      JSONB     `json:"payload"`
	CreatedAt    time.Time `json:"created_at"`
	SHA256       string    `json:"sha256"`
	SizeBytes    int       `json:"size_bytes"`
}

// AuditRecord is one row in the audit_events index
type AuditRecord struct {
	ID           int64     `json:"id"`
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	EntityID     string    `json:"entity_id,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	Action       string    `json:"action,omitempty"`
	Details      JSONB     `json:"details,omitempty"`
	EvidenceHash string    `json:"evidence_hash,omitempty"`
	EvidencePath string    `json:"evidence_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ModelMetricRow is one row in the model_metrics index
type ModelMetricRow struct {
	ID          int64     `json:"id"`
	ModelName   string    `json:"model_name"`
	MetricType  string    `json:"metric_type"`
	MetricValue float64   `json:"metric_value"`
	Metadata    JSONB     `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// FeatureDriftRow is one row in the feature_drift index
type FeatureDriftRow struct {
	ID                   int64     `json:"id"`
	FeatureName          string    `json:"feature_name"`
	PSIValue             float64   `json:"psi_value"`
	ReferencePeriodStart time.Time `json:"reference_period_start"`
	ReferencePeriodEnd   time.Time `json:"reference_period_end"`
	CurrentPeriodStart   time.Time `json:"current_period_start"`
	CurrentPeriodEnd     time.Time `json:"current_period_end"`
	CreatedAt            time.Time `json:"created_at"`
}

// PolicyRecord is one row in the decision_policy table
type PolicyRecord struct {
	ID            int64     `json:"id"`
	PolicyConfig  JSONB     `json:"policy_config"`
	Version       string    `json:"version"`
	IsActive      bool      `json:"is_active"`
	EffectiveDate time.Time `json:"effective_date"`
}

// CaseRecord is one row in the cases table. CaseID is the identifier
// minted by the decision engine, so a replayed decision maps back to
// the same case.
type CaseRecord struct {
	ID             int64        `json:"id"`
	CaseID         string       `json:"case_id"`
	EventID        string       `json:"event_id"`
	EntityID       string       `json:"entity_id,omitempty"`
	Status         string       `json:"status"`
	Priority       string       `json:"priority"`
	AssignedTo     string       `json:"assigned_to,omitempty"`
	RiskScore      float64      `json:"risk_score"`
	DecisionAction string       `json:"decision_action"`
	ReasonCodes    []string     `json:"reason_codes,omitempty"`
	SLADeadline    time.Time    `json:"sla_deadline"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	Notes          []CaseNote   `json:"notes,omitempty"`
	Actions        []CaseAction `json:"actions,omitempty"`
}

// CaseNote is an analyst annotation on a case
type CaseNote struct {
	ID         int64     `json:"id"`
	NoteID     string    `json:"note_id"`
	CaseID     string    `json:"case_id"`
	Author     string    `json:"author"`
	Content    string    `json:"content"`
	IsInternal bool      `json:"is_internal"`
	CreatedAt  time.Time `json:"created_at"`
}

// CaseAction is one step taken on a case (assignment, status change,
// or a free-form investigation action)
type CaseAction struct {
	ID          int64     `json:"id"`
	ActionID    string    `json:"action_id"`
	CaseID      string    `json:"case_id"`
	ActionType  string    `json:"action_type"`
	Description string    `json:"description"`
	Outcome     string    `json:"outcome,omitempty"`
	PerformedBy string    `json:"performed_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// JSONB is a helper type for PostgreSQL JSONB columns and opaque metadata
type JSONB map[string]interface{}

func (j JSONB) Value() ([]byte, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}
