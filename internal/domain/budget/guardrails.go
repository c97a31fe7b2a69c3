package budget

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// maxViolations bounds the violation ring.
const maxViolations = 1000

// downgradeThreshold forces the cheap tier when daily or monthly spend
// reaches 90% of its limit.
const downgradeThreshold = 0.9

// Guardrails evaluates per-user and per-org budgets. The effective config
// for a check is user over org over default.
type Guardrails struct {
	mu         sync.Mutex
	defaults   Config
	userConfig map[string]Config
	orgConfig  map[string]Config
	userUsage  map[string]*Usage
	orgUsage   map[string]*Usage
	violations []Violation
	logger     *slog.Logger
}

// NewGuardrails creates guardrails with the given default config.
func NewGuardrails(defaults Config, logger *slog.Logger) *Guardrails {
	if logger == nil {
		logger = slog.Default()
	}
	if defaults.WarningThreshold <= 0 || defaults.WarningThreshold > 1 {
		defaults.WarningThreshold = 0.7
	}
	return &Guardrails{
		defaults:   defaults,
		userConfig: make(map[string]Config),
		orgConfig:  make(map[string]Config),
		userUsage:  make(map[string]*Usage),
		orgUsage:   make(map[string]*Usage),
		logger:     logger,
	}
}

// SetUserConfig overrides the budget for one user.
func (g *Guardrails) SetUserConfig(userID string, cfg Config) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.userConfig[userID] = cfg
}

// SetOrgConfig overrides the budget for one org.
func (g *Guardrails) SetOrgConfig(orgID string, cfg Config) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orgConfig[orgID] = cfg
}

// RecordUsage adds spend to the user's and org's counters, rolling over
// daily/monthly on their UTC boundaries.
func (g *Guardrails) RecordUsage(userID, orgID string, costUSD float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if userID != "" {
		addUsage(g.usageLocked(g.userUsage, userID), costUSD)
	}
	if orgID != "" {
		addUsage(g.usageLocked(g.orgUsage, orgID), costUSD)
	}
}

// ResetRunUsage zeroes the run counter for the user and org at run start.
func (g *Guardrails) ResetRunUsage(userID, orgID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if userID != "" {
		g.usageLocked(g.userUsage, userID).RunUSD = 0
	}
	if orgID != "" {
		g.usageLocked(g.orgUsage, orgID).RunUSD = 0
	}
}

// Check evaluates run, daily, and monthly spend (plus an estimated next
// cost) against the effective config and returns the resulting tier.
func (g *Guardrails) Check(userID, orgID string, estimatedCostUSD float64) Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	cfg, scope := g.effectiveConfigLocked(userID, orgID)
	usage := g.scopeUsageLocked(scope, userID, orgID)

	periods := []PeriodStatus{
		periodStatus("run", usage.RunUSD+estimatedCostUSD, cfg.PerRunUSD),
		periodStatus("daily", usage.DailyUSD+estimatedCostUSD, cfg.DailyUSD),
		periodStatus("monthly", usage.MonthlyUSD+estimatedCostUSD, cfg.MonthlyUSD),
	}

	status := Status{
		WithinBudget: true,
		CurrentTier:  TierSmart,
		Periods:      periods,
		Scope:        scope,
	}

	maxPercent := 0.0
	dailyMonthlyMax := 0.0
	for _, p := range periods {
		if p.Percent > maxPercent {
			maxPercent = p.Percent
		}
		if p.Period != "run" && p.Percent > dailyMonthlyMax {
			dailyMonthlyMax = p.Percent
		}
		if p.Percent >= 1 {
			status.WithinBudget = false
			action := ViolationWarn
			if cfg.HardStop {
				action = ViolationBlock
			}
			g.recordViolationLocked(Violation{
				UserID:    userID,
				OrgID:     orgID,
				Period:    p.Period,
				UsedUSD:   p.UsedUSD,
				LimitUSD:  p.LimitUSD,
				Action:    action,
				Timestamp: time.Now().UTC(),
			})
		}
	}

	switch {
	case maxPercent >= 1 && cfg.HardStop:
		status.CurrentTier = TierBlocked
	case maxPercent >= 1 && cfg.AutoDowngrade:
		status.CurrentTier = TierCheap
	case cfg.AutoDowngrade && dailyMonthlyMax >= downgradeThreshold:
		status.CurrentTier = TierCheap
	case cfg.AutoDowngrade && maxPercent >= cfg.WarningThreshold:
		status.CurrentTier = TierFast
	}

	if status.CurrentTier != TierSmart || maxPercent >= cfg.WarningThreshold {
		for _, p := range periods {
			if p.LimitUSD > 0 && p.Percent >= cfg.WarningThreshold {
				status.Warnings = append(status.Warnings,
					fmt.Sprintf("%s budget at %.0f%% ($%.2f of $%.2f)", p.Period, p.Percent*100, p.UsedUSD, p.LimitUSD))
			}
		}
	}

	return status
}

// Violations returns a copy of the violation ring, newest last.
func (g *Guardrails) Violations() []Violation {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Violation(nil), g.violations...)
}

// Dashboard summarises the effective config and usage for one scope.
func (g *Guardrails) Dashboard(userID, orgID string) (Config, Usage, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cfg, scope := g.effectiveConfigLocked(userID, orgID)
	usage := g.scopeUsageLocked(scope, userID, orgID)
	return cfg, *usage, scope
}

// effectiveConfigLocked resolves user > org > default. Caller holds lock.
func (g *Guardrails) effectiveConfigLocked(userID, orgID string) (Config, string) {
	if userID != "" {
		if cfg, ok := g.userConfig[userID]; ok {
			return cfg, "user"
		}
	}
	if orgID != "" {
		if cfg, ok := g.orgConfig[orgID]; ok {
			return cfg, "org"
		}
	}
	return g.defaults, "default"
}

// scopeUsageLocked returns the usage record the effective config is
// evaluated against. Caller holds lock.
func (g *Guardrails) scopeUsageLocked(scope, userID, orgID string) *Usage {
	switch scope {
	case "org":
		return g.usageLocked(g.orgUsage, orgID)
	case "user":
		return g.usageLocked(g.userUsage, userID)
	default:
		if userID != "" {
			return g.usageLocked(g.userUsage, userID)
		}
		if orgID != "" {
			return g.usageLocked(g.orgUsage, orgID)
		}
		return &Usage{}
	}
}

// usageLocked returns (creating if needed) the usage record for key, with
// rollover applied. Caller holds lock.
func (g *Guardrails) usageLocked(m map[string]*Usage, key string) *Usage {
	usage, ok := m[key]
	if !ok {
		now := time.Now().UTC()
		usage = &Usage{LastResetDaily: now, LastResetMonthly: now}
		m[key] = usage
	}
	rollover(usage)
	return usage
}

func (g *Guardrails) recordViolationLocked(v Violation) {
	g.violations = append(g.violations, v)
	if len(g.violations) > maxViolations {
		g.violations = g.violations[len(g.violations)-maxViolations:]
	}
	g.logger.Warn("budget violation",
		"user_id", v.UserID,
		"org_id", v.OrgID,
		"period", v.Period,
		"used_usd", v.UsedUSD,
		"limit_usd", v.LimitUSD,
		"action", v.Action,
	)
}

func periodStatus(period string, used, limit float64) PeriodStatus {
	p := PeriodStatus{Period: period, UsedUSD: used, LimitUSD: limit}
	if limit > 0 {
		p.Percent = used / limit
	}
	return p
}

func addUsage(u *Usage, costUSD float64) {
	u.RunUSD += costUSD
	u.DailyUSD += costUSD
	u.MonthlyUSD += costUSD
}

// rollover resets daily/monthly counters when their UTC boundary passed.
func rollover(u *Usage) {
	now := time.Now().UTC()
	if u.LastResetDaily.UTC().Format("2006-01-02") != now.Format("2006-01-02") {
		u.DailyUSD = 0
		u.LastResetDaily = now
	}
	if u.LastResetMonthly.UTC().Format("2006-01") != now.Format("2006-01") {
		u.MonthlyUSD = 0
		u.LastResetMonthly = now
	}
}
