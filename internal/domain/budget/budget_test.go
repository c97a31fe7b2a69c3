package budget

import (
	"log/slog"
	"testing"
	"time"
)

func TestCostBudget_RunAccounting(t *testing.T) {
	c := NewCostBudget(DefaultCostLimits())

	c.RecordTokenUsage(5000, 0.25)
	c.RecordTokenUsage(3000, 0.15)
	c.RecordToolCall()
	c.RecordToolCall()

	snap := c.Snapshot()
	if snap.TokensUsed != 8000 {
		t.Errorf("TokensUsed = %d, want 8000", snap.TokensUsed)
	}
	if snap.ToolCallsUsed != 2 {
		t.Errorf("ToolCallsUsed = %d, want 2", snap.ToolCallsUsed)
	}
	if snap.CostUSD != 0.4 {
		t.Errorf("CostUSD = %v, want 0.4", snap.CostUSD)
	}
	if snap.DailyCostUSD != 0.4 {
		t.Errorf("DailyCostUSD = %v, want 0.4", snap.DailyCostUSD)
	}

	c.ResetRunUsage()
	snap = c.Snapshot()
	if snap.TokensUsed != 0 || snap.ToolCallsUsed != 0 || snap.CostUSD != 0 {
		t.Errorf("run counters survived reset: %+v", snap)
	}
	// Daily spend survives the run reset.
	if snap.DailyCostUSD != 0.4 {
		t.Errorf("DailyCostUSD = %v after run reset, want 0.4", snap.DailyCostUSD)
	}
}

func TestCostBudget_DailyRollover(t *testing.T) {
	c := NewCostBudget(DefaultCostLimits())
	c.RecordTokenUsage(100, 2.5)

	// Force yesterday's date; the next snapshot must roll over.
	c.mu.Lock()
	c.dailyDate = utcDate(time.Now().AddDate(0, 0, -1))
	c.mu.Unlock()

	if snap := c.Snapshot(); snap.DailyCostUSD != 0 {
		t.Errorf("DailyCostUSD = %v after rollover, want 0", snap.DailyCostUSD)
	}
}

func TestCostBudget_Warning(t *testing.T) {
	limits := DefaultCostLimits()
	limits.PerRunLimitUSD = 1
	limits.WarningThreshold = 0.8
	c := NewCostBudget(limits)

	c.RecordTokenUsage(1, 0.5)
	if c.Snapshot().Warning {
		t.Error("warning at 50%")
	}
	c.RecordTokenUsage(1, 0.35)
	if !c.Snapshot().Warning {
		t.Error("no warning at 85%")
	}
}

func newTestGuardrails(defaults Config) *Guardrails {
	return NewGuardrails(defaults, slog.Default())
}

// Budget hard stop: over-limit spend with hard_stop blocks the caller.
func TestGuardrails_HardStop(t *testing.T) {
	g := newTestGuardrails(Config{
		PerRunUSD:        1,
		DailyUSD:         10,
		MonthlyUSD:       100,
		WarningThreshold: 0.7,
		AutoDowngrade:    true,
		HardStop:         true,
	})

	g.RecordUsage("u1", "", 1.50)
	status := g.Check("u1", "", 0)

	if status.WithinBudget {
		t.Error("WithinBudget = true past the run limit")
	}
	if status.CurrentTier != TierBlocked {
		t.Errorf("CurrentTier = %q, want blocked", status.CurrentTier)
	}

	violations := g.Violations()
	if len(violations) == 0 {
		t.Fatal("no violation recorded")
	}
	if violations[0].Action != ViolationBlock {
		t.Errorf("violation action = %q, want block", violations[0].Action)
	}
}

func TestGuardrails_SoftLimit(t *testing.T) {
	g := newTestGuardrails(Config{
		PerRunUSD:        1,
		WarningThreshold: 0.7,
		AutoDowngrade:    true,
		HardStop:         false,
	})

	g.RecordUsage("u1", "", 1.2)
	status := g.Check("u1", "", 0)

	if status.WithinBudget {
		t.Error("WithinBudget = true past the limit")
	}
	if status.CurrentTier == TierBlocked {
		t.Error("blocked without hard_stop")
	}
	violations := g.Violations()
	if len(violations) == 0 || violations[0].Action != ViolationWarn {
		t.Errorf("violations = %+v, want one warn", violations)
	}
}

func TestGuardrails_TierLadder(t *testing.T) {
	cfg := Config{
		PerRunUSD:        10,
		DailyUSD:         10,
		WarningThreshold: 0.7,
		AutoDowngrade:    true,
		HardStop:         true,
	}

	cases := []struct {
		name  string
		spend float64
		want  Tier
	}{
		{"idle", 0, TierSmart},
		{"below warning", 5, TierSmart},
		{"warning band", 7.5, TierFast},
		{"daily at 90%", 9.2, TierCheap},
		{"over limit", 10.5, TierBlocked},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newTestGuardrails(cfg)
			if tc.spend > 0 {
				g.RecordUsage("u", "", tc.spend)
			}
			if got := g.Check("u", "", 0).CurrentTier; got != tc.want {
				t.Errorf("tier = %q, want %q", got, tc.want)
			}
		})
	}
}

// Estimated cost counts toward the check even before it is recorded.
func TestGuardrails_EstimatedCost(t *testing.T) {
	g := newTestGuardrails(Config{PerRunUSD: 1, WarningThreshold: 0.7, HardStop: true})

	g.RecordUsage("u1", "", 0.6)
	if status := g.Check("u1", "", 0); !status.WithinBudget {
		t.Error("within limit without estimate but reported over")
	}
	if status := g.Check("u1", "", 0.5); status.WithinBudget {
		t.Error("estimate pushing past limit not caught")
	}
}

func TestGuardrails_ConfigPrecedence(t *testing.T) {
	g := newTestGuardrails(Config{PerRunUSD: 100, WarningThreshold: 0.7})
	g.SetOrgConfig("acme", Config{PerRunUSD: 10, WarningThreshold: 0.7, HardStop: true})
	g.SetUserConfig("u1", Config{PerRunUSD: 1, WarningThreshold: 0.7, HardStop: true})

	// User config wins over org and default.
	g.RecordUsage("u1", "acme", 2)
	if status := g.Check("u1", "acme", 0); status.WithinBudget {
		t.Error("user limit (1) not applied")
	}

	// Another user in the same org falls back to the org config.
	g.RecordUsage("u2", "acme", 2)
	if status := g.Check("u2", "acme", 0); !status.WithinBudget {
		t.Error("org limit (10) not applied for u2")
	}
	if scope := func() string { _, _, s := g.Dashboard("u2", "acme"); return s }(); scope != "org" {
		t.Errorf("scope = %q, want org", scope)
	}
}

func TestGuardrails_ViolationRingBound(t *testing.T) {
	g := newTestGuardrails(Config{PerRunUSD: 0.01, WarningThreshold: 0.7, HardStop: true})
	g.RecordUsage("u", "", 1)
	for i := 0; i < maxViolations+50; i++ {
		g.Check("u", "", 0)
	}
	if n := len(g.Violations()); n > maxViolations {
		t.Errorf("violation ring grew to %d", n)
	}
}

func TestGuardrails_RunReset(t *testing.T) {
	g := newTestGuardrails(Config{PerRunUSD: 1, DailyUSD: 100, WarningThreshold: 0.7, HardStop: true})

	g.RecordUsage("u1", "", 1.5)
	g.ResetRunUsage("u1", "")

	status := g.Check("u1", "", 0)
	if !status.WithinBudget {
		t.Errorf("run usage survived reset: %+v", status.Periods)
	}
	// Daily spend is unaffected by run reset.
	_, usage, _ := g.Dashboard("u1", "")
	if usage.DailyUSD != 1.5 {
		t.Errorf("DailyUSD = %v, want 1.5", usage.DailyUSD)
	}
}
