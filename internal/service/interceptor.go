package service

import (
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/clawguard/clawguard/internal/domain/audit"
	"github.com/clawguard/clawguard/internal/domain/guard"
	"github.com/clawguard/clawguard/internal/domain/policy"
	"github.com/clawguard/clawguard/internal/domain/trust"
)

// ToolCallRequest is a candidate tool invocation presented to the core.
type ToolCallRequest struct {
	RunID      string                 `json:"run_id"`
	UserID     string                 `json:"user_id,omitempty"`
	OrgID      string                 `json:"org_id,omitempty"`
	SessionKey string                 `json:"session_key,omitempty"`
	SourceZone trust.Zone             `json:"source_zone"`
	Tool       string                 `json:"tool"`
	Action     string                 `json:"action,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// InterceptResult is what the caller gets back: the decision, and on
// require_confirmation the preview id the human must approve.
type InterceptResult struct {
	Decision  policy.Decision `json:"decision"`
	PreviewID string          `json:"preview_id,omitempty"`
	Context   policy.Context  `json:"context"`
}

// urlParamKeys are the parameter names checked for URL-shaped values.
var urlParamKeys = []string{"url", "targetUrl", "endpoint"}

// Tool/action sets for risk derivation.
var (
	destructiveTools   = map[string]bool{"delete": true, "remove": true, "drop": true, "truncate": true, "destroy": true, "wipe": true}
	destructiveActions = map[string]bool{"delete": true, "remove": true, "drop": true, "destroy": true, "truncate": true, "overwrite": true}
	externalTools      = map[string]bool{"message": true, "send": true, "email": true, "sms": true, "post": true, "tweet": true, "upload": true, "fetch": true, "web_fetch": true, "browser": true, "webhook": true}
	sendingTools       = map[string]bool{"message": true, "send": true, "email": true, "sms": true, "post": true, "tweet": true, "upload": true, "webhook": true}
	configTools        = map[string]bool{"settings": true, "config": true, "configure": true}
	configActions      = map[string]bool{"set_config": true, "update_config": true, "configure": true}
)

// destructiveCommandRe mirrors the command classifier used by the policy
// rules for exec-style tools.
var destructiveCommandRe = regexp.MustCompile(`(?i)\brm\s+-[a-z]*[rf]|\bdrop\s+(?:table|database)\b|\bdelete\s+from\b|\btruncate\s+table\b|\bmkfs\b|\bdd\s+if=`)

// Interceptor runs the full interception pipeline. The pipeline for one
// request is atomic with respect to other requests: kill-switch check,
// policy evaluation, preview creation, accounting, and audit all happen
// under one mutex.
type Interceptor struct {
	core  *SecurityCore
	cache *decisionCache
	mu    sync.Mutex
}

// NewInterceptor creates an interceptor over the core.
func NewInterceptor(core *SecurityCore) *Interceptor {
	return &Interceptor{
		core:  core,
		cache: newDecisionCache(1000),
	}
}

// ClearCache drops cached decisions. Called on control-state transitions
// and custom-rule registration.
func (i *Interceptor) ClearCache() {
	i.cache.clear()
}

// InterceptToolCall evaluates one candidate tool call end to end and
// returns the decision plus preview id when confirmation is required.
func (i *Interceptor) InterceptToolCall(req ToolCallRequest) InterceptResult {
	i.mu.Lock()
	defer i.mu.Unlock()

	// Kill switch short-circuits before any other work.
	if i.core.KillSwitch.IsActive() {
		decision := policy.Decision{
			Kind:   policy.KindDeny,
			Reason: "kill switch active: all agent actions are disabled",
			RuleID: "kill-switch",
		}
		i.auditDecision(req, decision, policy.RiskLow)
		return InterceptResult{Decision: decision}
	}

	// Tool calls may not originate in the untrusted zone.
	if origin := i.core.Trust.ValidateToolCallOrigin(req.SourceZone, req.Tool); !origin.Valid {
		decision := policy.Decision{Kind: policy.KindDeny, Reason: origin.Reason}
		i.auditDecision(req, decision, policy.RiskHigh)
		return InterceptResult{Decision: decision}
	}

	// Exec commands face the SSRF and exfiltration guards before generic
	// interception.
	if isExecTool(req.Tool) {
		if blocked, decision := i.checkExecGuards(req); blocked {
			i.auditDecision(req, decision, policy.RiskCritical)
			return InterceptResult{Decision: decision}
		}
	}

	// Rate limit for tool calls; a refusal is an auditable deny.
	if limit := i.core.Limiter.AllowToolCall(req.RunID); !limit.Allowed {
		fireLabel(i.core.hooks.OnRateLimitRefusal, "tool")
		decision := policy.Decision{Kind: policy.KindDeny, Reason: limit.Reason}
		i.auditDecision(req, decision, policy.RiskLow)
		return InterceptResult{Decision: decision}
	}

	pctx := i.buildContext(req)

	decision, cached := i.evaluate(&pctx)

	result := InterceptResult{Decision: decision, Context: pctx}
	if decision.Kind == policy.KindRequireConfirmation {
		preview := i.core.Previews.Create(policy.PreviewRequest{
			Tool:        req.Tool,
			Action:      req.Action,
			Description: previewDescription(req, decision),
			Context:     &pctx,
		})
		result.PreviewID = preview.ID
	}

	if decision.Kind != policy.KindDeny {
		i.core.Cost.RecordToolCall()
	}

	i.auditDecision(req, decision, policy.DeriveRiskLevel(pctx.Risk))
	if decision.Kind == policy.KindDeny && !cached {
		i.core.logger.Warn("tool call denied",
			"tool", req.Tool,
			"rule_id", decision.RuleID,
			"reason", decision.Reason,
		)
	}
	return result
}

// evaluate consults the decision cache, then the engine. Contexts under
// budget pressure bypass the cache entirely.
func (i *Interceptor) evaluate(pctx *policy.Context) (policy.Decision, bool) {
	cacheable := (pctx.Budget.ToolCallsLimit == 0 || pctx.Budget.ToolCallsUsed < pctx.Budget.ToolCallsLimit) &&
		(pctx.Budget.CostLimitUSD == 0 || pctx.Budget.CostUSD < pctx.Budget.CostLimitUSD*0.9)

	if !cacheable {
		return i.core.Engine.Evaluate(pctx), false
	}

	key := cacheKey(pctx, i.core.Engine.HITLMode())
	if decision, ok := i.cache.get(key); ok {
		return decision, true
	}
	decision := i.core.Engine.Evaluate(pctx)
	i.cache.put(key, decision)
	return decision, false
}

// checkExecGuards runs both command guards; a failure is a deny and an
// attack incident.
func (i *Interceptor) checkExecGuards(req ToolCallRequest) (bool, policy.Decision) {
	command := commandParameter(req.Parameters)
	if command == "" {
		return false, policy.Decision{}
	}

	for _, check := range []guard.CheckResult{
		guard.ValidateCommandForSSRF(command),
		guard.ValidateCommandForExfiltration(command),
	} {
		if !check.Safe {
			i.core.Attacks.Record(AttackIncident{
				Source:      "exec",
				Detections:  1,
				MaxSeverity: "critical",
				Reason:      check.Reason,
				Timestamp:   time.Now().UTC(),
			})
			return true, policy.Decision{Kind: policy.KindDeny, Reason: check.Reason}
		}
	}
	return false, policy.Decision{}
}

// buildContext derives the full policy context from the request.
func (i *Interceptor) buildContext(req ToolCallRequest) policy.Context {
	pctx := policy.Context{
		Who: policy.Who{
			UserID:     req.UserID,
			SessionKey: req.SessionKey,
		},
		What: policy.What{
			Tool:       req.Tool,
			Action:     req.Action,
			Parameters: req.Parameters,
		},
	}

	// Locate the target from URL-shaped parameters.
	for _, key := range urlParamKeys {
		raw, ok := req.Parameters[key].(string)
		if !ok || raw == "" {
			continue
		}
		pctx.Where.URL = raw
		if host := guard.HostFromURL(raw); host != "" {
			if net.ParseIP(strings.Trim(host, "[]")) != nil {
				pctx.Where.IP = host
			} else {
				pctx.Where.Domain = host
			}
		}
		break
	}
	if path, ok := req.Parameters["path"].(string); ok {
		pctx.Where.FilePath = path
	} else if path, ok := req.Parameters["file_path"].(string); ok {
		pctx.Where.FilePath = path
	}
	if channel, ok := req.Parameters["channel"].(string); ok {
		pctx.Where.Channel = channel
	}

	pctx.Risk = i.deriveRisk(req)

	snap := i.core.Cost.Snapshot()
	pctx.Budget = policy.Budget{
		TokensUsed:     snap.TokensUsed,
		TokensLimit:    snap.TokensLimit,
		ToolCallsUsed:  snap.ToolCallsUsed,
		ToolCallsLimit: snap.ToolCallsLimit,
		CostUSD:        snap.CostUSD,
		CostLimitUSD:   snap.CostLimitUSD,
	}
	return pctx
}

// deriveRisk computes the risk flags from tool/action sets, command
// patterns, and a redactor scan over the parameters.
func (i *Interceptor) deriveRisk(req ToolCallRequest) policy.Risk {
	tool := strings.ToLower(req.Tool)
	action := strings.ToLower(req.Action)

	risk := policy.Risk{
		IsDestructive:  destructiveTools[tool] || destructiveActions[action],
		IsExternal:     externalTools[tool],
		SendsData:      sendingTools[tool],
		ModifiesConfig: configTools[tool] || configActions[action],
	}
	if command := commandParameter(req.Parameters); command != "" && destructiveCommandRe.MatchString(command) {
		risk.IsDestructive = true
	}
	if len(req.Parameters) > 0 {
		risk.AccessesSecrets = i.core.Redactor.ContainsSecrets(rawParameterText(req.Parameters))
		if !risk.AccessesSecrets {
			if data, err := json.Marshal(req.Parameters); err == nil {
				risk.AccessesSecrets = i.core.Redactor.ContainsSecrets(string(data))
			}
		}
	}
	return risk
}

// auditDecision records one policy decision in the trail.
func (i *Interceptor) auditDecision(req ToolCallRequest, decision policy.Decision, risk policy.RiskLevel) {
	fireLabel(i.core.hooks.OnDecision, string(decision.Kind))
	fire(i.core.hooks.OnAuditEntry)
	i.core.Trail.Log(audit.Entry{
		RunID:      req.RunID,
		EventType:  audit.EventPolicyDecision,
		UserID:     req.UserID,
		OrgID:      req.OrgID,
		SessionKey: req.SessionKey,
		Tool:       req.Tool,
		Action:     req.Action,
		Decision:   decision.Kind,
		Reason:     decision.Reason,
		RuleID:     decision.RuleID,
		RiskLevel:  risk,
	})
}

func isExecTool(tool string) bool {
	switch strings.ToLower(tool) {
	case "exec", "bash", "shell", "command", "terminal":
		return true
	}
	return false
}

func commandParameter(params map[string]interface{}) string {
	for _, key := range []string{"command", "cmd", "script"} {
		if v, ok := params[key].(string); ok {
			return v
		}
	}
	return ""
}

// rawParameterText concatenates string parameter values for secret
// scanning without JSON escaping getting in the way.
func rawParameterText(params map[string]interface{}) string {
	var b strings.Builder
	for _, v := range params {
		if s, ok := v.(string); ok {
			b.WriteString(s)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func previewDescription(req ToolCallRequest, decision policy.Decision) string {
	subject := req.Tool
	if command := commandParameter(req.Parameters); command != "" {
		subject = command
	}
	if decision.PreviewMessage != "" && strings.Contains(decision.PreviewMessage, "%s") {
		return fmt.Sprintf(decision.PreviewMessage, subject)
	}
	if decision.PreviewMessage != "" {
		return decision.PreviewMessage
	}
	return fmt.Sprintf("Confirm %s", subject)
}
