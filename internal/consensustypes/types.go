// Package consensustypes holds the value types shared by the consensus
// pipeline's components, kept dependency-free so circuitbreaker-, pricing-,
// and registry-shaped packages can all import it without cycles.
package consensustypes

import "time"

// Stage is one of the four roles a query passes through. Declaration order
// is the pipeline's total order.
type Stage int

const (
	Generator Stage = iota
	Refiner
	Validator
	Curator
)

func (s Stage) String() string {
	switch s {
	case Generator:
		return "generator"
	case Refiner:
		return "refiner"
	case Validator:
		return "validator"
	case Curator:
		return "curator"
	default:
		return "unknown"
	}
}

// Stages is the fixed visiting order of the pipeline.
var Stages = [4]Stage{Generator, Refiner, Validator, Curator}

// Role is the chat-message author for a stage prompt.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat-completion message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage is token accounting for one upstream call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Analytics is the per-stage cost/latency summary attached to a StageResult.
type Analytics struct {
	Cost       float64       `json:"cost"`
	LatencyMS  int64         `json:"latency_ms"`
	Duration   time.Duration `json:"-"`
	ModelUsed  string        `json:"model_used"`
	Fallback   bool          `json:"fallback"`
}

// StageResult is the immutable record produced by one completed stage.
type StageResult struct {
	StageID        int       `json:"stage_id"`
	StageName      string    `json:"stage_name"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	Model          string    `json:"model"`
	ConversationID string    `json:"conversation_id"`
	Timestamp      time.Time `json:"timestamp"`
	Usage          *Usage    `json:"usage,omitempty"`
	Analytics      *Analytics `json:"analytics,omitempty"`
}

// ConsensusResult is the aggregate returned for one pipeline request.
type ConsensusResult struct {
	Success              bool          `json:"success"`
	Result               *string       `json:"result,omitempty"`
	Error                *string       `json:"error,omitempty"`
	Stages               []StageResult `json:"stages"`
	ConversationID       string        `json:"conversation_id"`
	TotalDurationSeconds float64       `json:"total_duration_seconds"`
	TotalCost            float64       `json:"total_cost"`
}

// Tier is a model's pricing/quality tier.
type Tier int

const (
	Economy Tier = iota
	Standard
	Premium
	Flagship
)

func (t Tier) String() string {
	switch t {
	case Economy:
		return "economy"
	case Standard:
		return "standard"
	case Premium:
		return "premium"
	case Flagship:
		return "flagship"
	default:
		return "unknown"
	}
}

// Capability is an inferred model capability.
type Capability string

const (
	CapabilityMultimodal   Capability = "multimodal"
	CapabilityFastResponse Capability = "fast_response"
	CapabilityReasoning    Capability = "reasoning"
	CapabilityCreative     Capability = "creative"
	CapabilityLongContext  Capability = "long_context"
)

// ModelMetadata describes one upstream-visible model.
type ModelMetadata struct {
	ID              string       `json:"id"`
	Provider        string       `json:"provider"`
	Name            string       `json:"name"`
	Tier            Tier         `json:"tier"`
	Capabilities    []Capability `json:"capabilities"`
	ContextWindow   int          `json:"context_window"`
	CostPer1kInput  float64      `json:"cost_per_1k_input"`
	CostPer1kOutput float64      `json:"cost_per_1k_output"`
	AvgLatencyMS    float64      `json:"avg_latency_ms"`
	QualityScore    float64      `json:"quality_score"`
}

// ProfileEntry binds one stage to a model and its call parameters.
type ProfileEntry struct {
	ModelID     string
	Temperature float64
	MaxTokens   *int
}

// ConsensusProfile is a named four-tuple of per-stage model bindings.
type ConsensusProfile struct {
	Name    string
	Entries [4]ProfileEntry // indexed by Stage
}

// ErrorType classifies why a PerformanceEntry recorded a failure.
type ErrorType string

const (
	ErrorTypeNone      ErrorType = ""
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeServer    ErrorType = "server"
	ErrorTypeNetwork   ErrorType = "network"
	ErrorTypeProtocol  ErrorType = "protocol"
	ErrorTypeOther     ErrorType = "other"
)

// PerformanceEntry is one append-only record of an upstream call's outcome.
type PerformanceEntry struct {
	ID                string
	ModelID           string
	Timestamp         time.Time
	LatencyMS         int64
	TokensGenerated   int
	TokensPerSecond   float64
	Success           bool
	ErrorType         ErrorType
	QualityRating     *float64
	RequestType       string
}

// PerformanceMetrics is the derived rolling-window summary for one model.
type PerformanceMetrics struct {
	ModelID         string
	TotalRequests   int
	SuccessCount    int
	SuccessRate     float64
	P50LatencyMS    float64
	P95LatencyMS    float64
	P99LatencyMS    float64
	AvgLatencyMS    float64
	TokensPerSecond float64
	ErrorRate       float64
	TimeoutRate     float64
	QualityScore    float64
}

// HealthStatus is the derived health classification for a model.
type HealthStatus string

const (
	HealthUnavailable HealthStatus = "unavailable"
	HealthUnhealthy   HealthStatus = "unhealthy"
	HealthDegraded    HealthStatus = "degraded"
	HealthHealthy     HealthStatus = "healthy"
)

// ModelHealth wraps PerformanceMetrics with a derived status.
type ModelHealth struct {
	ModelID        string
	Status         HealthStatus
	Metrics        PerformanceMetrics
	Recommendation string
}

// CircuitState is one of the three circuit-breaker states.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (c CircuitState) String() string {
	switch c {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerState is the externally-observable per-model breaker state.
type CircuitBreakerState struct {
	ModelID                 string
	State                   CircuitState
	FailureCount            int
	LastFailure             *time.Time
	NextAttempt             *time.Time
	SuccessCountAfterRecover int
}

// CostEntry is one append-only record of an upstream call's cost.
type CostEntry struct {
	ID          string
	Timestamp   time.Time
	ModelID     string
	RequestType string
	InputTokens int
	OutputTokens int
	InputCost   float64
	OutputCost  float64
	TotalCost   float64
	DurationMS  int64
	Success     bool
}

// Tier names for UserUsageInfo / usage tracker.
type UserTier string

const (
	TierFree      UserTier = "free"
	TierBasic     UserTier = "basic"
	TierStandard  UserTier = "standard"
	TierPremium   UserTier = "premium"
	TierUnlimited UserTier = "unlimited"
	TierEnterprise UserTier = "enterprise"
)

// CreditPack is a purchased block of conversation credits.
type CreditPack struct {
	Count       int
	PurchasedAt time.Time
}

// UserUsageInfo is the per-user usage/quota record.
type UserUsageInfo struct {
	UserID           string
	Tier             UserTier
	DailyLimit       int
	DailyUsage       int
	UsageResetDate   *time.Time
	TrialActive      bool
	TrialEndDate     *time.Time
	CreditsRemaining int
	CreditPacks      []CreditPack
}

// NotificationType classifies a usage-tracker display notification.
type NotificationType string

const (
	NotificationInfo     NotificationType = "info"
	NotificationWarning  NotificationType = "warning"
	NotificationCritical NotificationType = "critical"
	NotificationBlocked  NotificationType = "blocked"
)

// NotificationAction is an optional call-to-action attached to a notification.
type NotificationAction struct {
	Label string
	URL   string
}

// Notification is a human-readable usage status message.
type Notification struct {
	Type    NotificationType
	Title   string
	Message string
	Action  *NotificationAction
}

// ABTestStatus is the lifecycle state of an A/B test.
type ABTestStatus string

const (
	ABTestPlanned   ABTestStatus = "planned"
	ABTestRunning   ABTestStatus = "running"
	ABTestCompleted ABTestStatus = "completed"
	ABTestPaused    ABTestStatus = "paused"
	ABTestCancelled ABTestStatus = "cancelled"
)

// ABTestConfig describes a model_a-vs-model_b comparison run, grounded on
// original_source/providers/openrouter/performance.rs's ABTestConfig.
type ABTestConfig struct {
	TestID            string
	Name              string
	Description       string
	ModelA            string
	ModelB            string
	SampleSize        int
	TestQueries       []string
	MetricsToCompare  []string
	StartedAt         time.Time
	DurationHours     int
	Status            ABTestStatus
}

// ABTestResult is one recorded query outcome against one of the two models.
type ABTestResult struct {
	TestID          string
	QueryID         string
	ModelID         string
	LatencyMS       int64
	TokensGenerated int
	Success         bool
	ErrorType       ErrorType
	QualityRating   *float64
	Timestamp       time.Time
}

// MetricComparison compares one metric between model A and model B.
type MetricComparison struct {
	MetricName       string
	ModelAValue      float64
	ModelBValue      float64
	Difference       float64
	PercentageChange float64
	BetterModel      string
}

// ABTestMetricsComparison bundles the four per-metric comparisons.
type ABTestMetricsComparison struct {
	Latency     MetricComparison
	SuccessRate MetricComparison
	Quality     MetricComparison
	Throughput  MetricComparison
}

// StatisticalSignificance is a simplified two-sample significance estimate.
type StatisticalSignificance struct {
	IsSignificant        bool
	PValue               float64
	ConfidenceIntervalLo float64
	ConfidenceIntervalHi float64
	EffectSize           float64
	Power                float64
}

// ABTestAnalysis is the completed statistical summary for a test.
type ABTestAnalysis struct {
	TestID                string
	ModelA                string
	ModelB                string
	SampleSizeA           int
	SampleSizeB           int
	MetricsComparison     ABTestMetricsComparison
	StatisticalSignificance StatisticalSignificance
	Recommendation        string
	ConfidenceLevel       float64
	CompletedAt           time.Time
}
