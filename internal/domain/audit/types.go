// Package audit implements the append-only audit trail with per-run
// rollups, filtered listing, and redacted JSON export.
package audit

import (
	"time"

	"github.com/clawguard/clawguard/internal/domain/policy"
)

// EventType categorizes audit entries.
type EventType string

const (
	EventRunStart        EventType = "run_start"
	EventInputReceived   EventType = "input_received"
	EventPolicyDecision  EventType = "policy_decision"
	EventToolCall        EventType = "tool_call"
	EventLLMCall         EventType = "llm_call"
	EventOutputGenerated EventType = "output_generated"
	EventRunComplete     EventType = "run_complete"
	EventError           EventType = "error"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunDenied    RunStatus = "denied"
)

// Entry is one audit record. The common header is always present; the
// event-specific fields are populated per EventType and serialized as a
// superset object.
type Entry struct {
	ID         uint64    `json:"id"`
	RunID      string    `json:"run_id"`
	Timestamp  time.Time `json:"timestamp"`
	EventType  EventType `json:"event_type"`
	UserID     string    `json:"user_id,omitempty"`
	OrgID      string    `json:"org_id,omitempty"`
	SessionKey string    `json:"session_key,omitempty"`

	// input_received / output_generated
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`

	// policy_decision / tool_call
	Tool      string           `json:"tool,omitempty"`
	Action    string           `json:"action,omitempty"`
	Decision  policy.Kind      `json:"decision,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	RuleID    string           `json:"rule_id,omitempty"`
	RiskLevel policy.RiskLevel `json:"risk_level,omitempty"`

	// llm_call
	Model     string  `json:"model,omitempty"`
	Tokens    int64   `json:"tokens,omitempty"`
	CostUSD   float64 `json:"cost_usd,omitempty"`
	LatencyMS int64   `json:"latency_ms,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// RunSummary is the derived rollup for one run.
type RunSummary struct {
	RunID            string           `json:"run_id"`
	UserID           string           `json:"user_id,omitempty"`
	OrgID            string           `json:"org_id,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	CompletedAt      time.Time        `json:"completed_at,omitzero"`
	Status           RunStatus        `json:"status"`
	TotalCostUSD     float64          `json:"total_cost_usd"`
	TotalTokens      int64            `json:"total_tokens"`
	ToolCalls        int              `json:"tool_calls"`
	LLMCalls         int              `json:"llm_calls"`
	PolicyDenials    int              `json:"policy_denials"`
	MaxRiskLevelSeen policy.RiskLevel `json:"max_risk_level_seen,omitempty"`
}

// ListFilter selects runs for ListRuns.
type ListFilter struct {
	UserID    string
	OrgID     string
	Status    RunStatus
	RiskLevel policy.RiskLevel
	Limit     int
	Offset    int
}

// Export is the self-contained JSON document returned by ExportRun.
type Export struct {
	RunID      string      `json:"runId"`
	Summary    *RunSummary `json:"summary"`
	Entries    []Entry     `json:"entries"`
	ExportedAt time.Time   `json:"exportedAt"`
	Notice     string      `json:"notice"`
}

// ExportNotice is the literal notice carried by every export.
const ExportNotice = "All secrets have been automatically redacted"

// Stats aggregates trail-wide counts.
type Stats struct {
	TotalRuns    int                      `json:"total_runs"`
	TotalEntries int                      `json:"total_entries"`
	RunsByStatus map[RunStatus]int        `json:"runs_by_status"`
	RunsByRisk   map[policy.RiskLevel]int `json:"runs_by_risk"`
}
