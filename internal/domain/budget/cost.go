package budget

import (
	"sync"
	"time"
)

// CostLimits configures the global cost budget consulted on every tool
// interception.
type CostLimits struct {
	DailyLimitUSD        float64
	PerRunLimitUSD       float64
	TokensPerRunLimit    int64
	ToolCallsPerRunLimit int
	WarningThreshold     float64
}

// DefaultCostLimits returns the built-in limits.
func DefaultCostLimits() CostLimits {
	return CostLimits{
		DailyLimitUSD:        10,
		PerRunLimitUSD:       1,
		TokensPerRunLimit:    100_000,
		ToolCallsPerRunLimit: 100,
		WarningThreshold:     0.8,
	}
}

// CostSnapshot is a point-in-time view of the global cost budget, in the
// shape the policy context consumes.
type CostSnapshot struct {
	TokensUsed     int64   `json:"tokens_used"`
	TokensLimit    int64   `json:"tokens_limit"`
	ToolCallsUsed  int     `json:"tool_calls_used"`
	ToolCallsLimit int     `json:"tool_calls_limit"`
	CostUSD        float64 `json:"cost_usd"`
	CostLimitUSD   float64 `json:"cost_limit_usd"`
	DailyCostUSD   float64 `json:"daily_cost_usd"`
	DailyLimitUSD  float64 `json:"daily_limit_usd"`
	Warning        bool    `json:"warning"`
}

// CostBudget tracks global run and daily usage. The daily counter rolls
// over when the UTC calendar day changes.
type CostBudget struct {
	mu     sync.Mutex
	limits CostLimits

	runTokens    int64
	runToolCalls int
	runCostUSD   float64

	dailyCostUSD float64
	dailyDate    string // YYYY-MM-DD in UTC
}

// NewCostBudget creates a cost budget with the given limits.
func NewCostBudget(limits CostLimits) *CostBudget {
	if limits.WarningThreshold <= 0 || limits.WarningThreshold > 1 {
		limits.WarningThreshold = 0.8
	}
	return &CostBudget{
		limits:    limits,
		dailyDate: utcDate(time.Now()),
	}
}

// RecordTokenUsage adds token and dollar spend to the run and daily
// counters.
func (c *CostBudget) RecordTokenUsage(tokens int64, costUSD float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	c.runTokens += tokens
	c.runCostUSD += costUSD
	c.dailyCostUSD += costUSD
}

// RecordToolCall increments the run tool-call counter.
func (c *CostBudget) RecordToolCall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runToolCalls++
}

// ResetRunUsage zeroes the per-run counters at run start.
func (c *CostBudget) ResetRunUsage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runTokens = 0
	c.runToolCalls = 0
	c.runCostUSD = 0
}

// Snapshot returns the current usage against limits.
func (c *CostBudget) Snapshot() CostSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()

	warning := false
	if c.limits.PerRunLimitUSD > 0 && c.runCostUSD >= c.limits.PerRunLimitUSD*c.limits.WarningThreshold {
		warning = true
	}
	if c.limits.DailyLimitUSD > 0 && c.dailyCostUSD >= c.limits.DailyLimitUSD*c.limits.WarningThreshold {
		warning = true
	}

	return CostSnapshot{
		TokensUsed:     c.runTokens,
		TokensLimit:    c.limits.TokensPerRunLimit,
		ToolCallsUsed:  c.runToolCalls,
		ToolCallsLimit: c.limits.ToolCallsPerRunLimit,
		CostUSD:        c.runCostUSD,
		CostLimitUSD:   c.limits.PerRunLimitUSD,
		DailyCostUSD:   c.dailyCostUSD,
		DailyLimitUSD:  c.limits.DailyLimitUSD,
		Warning:        warning,
	}
}

// rolloverLocked resets the daily counter when the UTC day has changed.
// Caller holds the lock.
func (c *CostBudget) rolloverLocked() {
	today := utcDate(time.Now())
	if today != c.dailyDate {
		c.dailyDate = today
		c.dailyCostUSD = 0
	}
}

func utcDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
