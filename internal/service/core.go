// Package service composes the security core: it owns the process-wide
// singletons and runs the tool interception pipeline callers see.
package service

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/clawguard/clawguard/internal/config"
	"github.com/clawguard/clawguard/internal/domain/audit"
	"github.com/clawguard/clawguard/internal/domain/budget"
	"github.com/clawguard/clawguard/internal/domain/control"
	"github.com/clawguard/clawguard/internal/domain/policy"
	"github.com/clawguard/clawguard/internal/domain/ratelimit"
	"github.com/clawguard/clawguard/internal/domain/redact"
	"github.com/clawguard/clawguard/internal/domain/sanitize"
	"github.com/clawguard/clawguard/internal/domain/trust"
)

// SecurityCore owns every security singleton. It is created once at boot
// from the loaded configuration; all control-surface handlers and the
// interceptor operate on the same instance.
type SecurityCore struct {
	Config     *config.Config
	Redactor   *redact.Redactor
	Sanitizer  *sanitize.Sanitizer
	Trust      *trust.Store
	KillSwitch *control.KillSwitch
	Lockdown   *control.Lockdown
	Limiter    *ratelimit.Limiter
	Cost       *budget.CostBudget
	Guardrails *budget.Guardrails
	Engine     *policy.Engine
	Previews   *policy.PreviewStore
	Trail      *audit.Trail
	Attacks    *AttackLog

	logger *slog.Logger
	hooks  Hooks
	stop   chan struct{}
}

// SetHooks installs observation callbacks. Call before serving traffic.
func (c *SecurityCore) SetHooks(hooks Hooks) {
	c.hooks = hooks
}

// NewSecurityCore builds and seeds the core from configuration.
func NewSecurityCore(cfg *config.Config, logger *slog.Logger) (*SecurityCore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	redactor := redact.NewRedactor()
	sanitizer := sanitize.NewSanitizer(redactor)

	killSwitch, err := control.NewKillSwitch(cfg.KillSwitchConfirmCode, logger)
	if err != nil {
		return nil, fmt.Errorf("init kill switch: %w", err)
	}
	if cfg.KillSwitch {
		killSwitch.Activate("activated at boot via KILL_SWITCH", "environment")
	}

	lockdown := control.NewLockdown(logger)
	if len(cfg.LockdownNetworkAllowlist) > 0 {
		lockdown.Enable(control.LockdownOptions{OutboundNetworkAllowlist: cfg.LockdownNetworkAllowlist})
		if !cfg.LockdownMode {
			lockdown.Disable()
		}
	} else if cfg.LockdownMode {
		lockdown.Enable(control.LockdownOptions{})
	}

	engine := policy.NewEngine(&policy.Env{
		KillSwitch:    killSwitch,
		Lockdown:      lockdown,
		WorkspaceRoot: cfg.WorkspaceRoot,
	}, logger)
	engine.SetHITLMode(policy.ParseHITLMode(cfg.HITLMode))

	trustStore := trust.NewStore(sanitizer, redactor, logger)
	trustStore.SetTTL(cfg.QuarantineTTL)

	core := &SecurityCore{
		Config:     cfg,
		Redactor:   redactor,
		Sanitizer:  sanitizer,
		Trust:      trustStore,
		KillSwitch: killSwitch,
		Lockdown:   lockdown,
		Limiter:    ratelimit.NewLimiter(cfg.RateLimiterConfig(), logger),
		Cost: budget.NewCostBudget(budget.CostLimits{
			DailyLimitUSD:        cfg.Budget.DailyCostLimitUSD,
			PerRunLimitUSD:       cfg.Budget.PerRunCostLimitUSD,
			TokensPerRunLimit:    cfg.Budget.TokensPerRunLimit,
			ToolCallsPerRunLimit: cfg.Budget.ToolCallsPerRunLimit,
			WarningThreshold:     cfg.Budget.WarningThreshold,
		}),
		Guardrails: budget.NewGuardrails(budget.Config{
			PerRunUSD:        cfg.Budget.PerRunCostLimitUSD,
			DailyUSD:         cfg.Budget.DailyCostLimitUSD,
			MonthlyUSD:       cfg.Budget.DailyCostLimitUSD * 30,
			WarningThreshold: cfg.Budget.WarningThreshold,
			AutoDowngrade:    cfg.Budget.AutoDowngrade,
			HardStop:         cfg.Budget.HardStop,
		}, logger),
		Engine:   engine,
		Previews: policy.NewPreviewStore(logger),
		Trail:    audit.NewTrail(redactor, logger),
		Attacks:  NewAttackLog(),
		logger:   logger,
		stop:     make(chan struct{}),
	}
	return core, nil
}

// Start launches the background sweepers.
func (c *SecurityCore) Start() {
	c.Trust.StartSweeper(5*time.Minute, c.stop)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.Previews.Sweep()
			}
		}
	}()
}

// Stop terminates the background sweepers.
func (c *SecurityCore) Stop() {
	close(c.stop)
}

// SecurityStatus returns the combined control status.
func (c *SecurityCore) SecurityStatus() control.SecurityStatus {
	return control.Status(c.KillSwitch, c.Lockdown)
}

// QuarantineExternal sanitizes and quarantines external content, and
// records detected injection attacks above medium severity.
func (c *SecurityCore) QuarantineExternal(content string, source trust.Source, metadata map[string]string) *trust.QuarantineEntry {
	entry := c.Trust.Quarantine(content, source, metadata)
	if entry.Detections > 0 {
		fire(c.hooks.OnInjection)
		severity := sanitize.InjectionSeverity(entry.MaxSeverity)
		if severity.AtLeast(sanitize.InjectionMedium) {
			c.Attacks.Record(AttackIncident{
				Source:      string(source),
				Detections:  entry.Detections,
				MaxSeverity: entry.MaxSeverity,
				ContentHash: entry.ContentHash,
				Timestamp:   time.Now().UTC(),
			})
			c.Trail.Log(audit.Entry{
				RunID:     metadata["run_id"],
				EventType: audit.EventPolicyDecision,
				Reason:    fmt.Sprintf("prompt injection detected in %s content (%d patterns, max severity %s)", source, entry.Detections, entry.MaxSeverity),
				RiskLevel: policy.RiskHigh,
			})
		}
	}
	return entry
}
