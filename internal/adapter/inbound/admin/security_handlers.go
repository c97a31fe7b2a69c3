package admin

import (
	"encoding/json"

	"github.com/clawguard/clawguard/internal/domain/audit"
	"github.com/clawguard/clawguard/internal/domain/budget"
	"github.com/clawguard/clawguard/internal/domain/control"
	"github.com/clawguard/clawguard/internal/domain/policy"
	"github.com/clawguard/clawguard/internal/service"
)

func (h *Handler) status(json.RawMessage) (interface{}, *rpcError) {
	return h.core.SecurityStatus(), nil
}

func (h *Handler) killSwitchSet(params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		Enabled     bool   `json:"enabled"`
		Reason      string `json:"reason"`
		ConfirmCode string `json:"confirmCode"`
		ActivatedBy string `json:"activatedBy"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	if p.Enabled {
		h.core.KillSwitch.Activate(p.Reason, p.ActivatedBy)
	} else {
		if !h.core.KillSwitch.Deactivate(p.ActivatedBy, p.ConfirmCode) {
			return nil, &rpcError{
				Code:    ErrCodeWrongConfirmCode,
				Message: "deactivation rejected: confirm code does not match",
			}
		}
	}
	h.interceptor.ClearCache()
	return h.core.KillSwitch.State(), nil
}

func (h *Handler) lockdownSet(params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	if p.Enabled {
		h.core.Lockdown.Enable(control.LockdownOptions{})
	} else {
		h.core.Lockdown.Disable()
	}
	h.interceptor.ClearCache()
	return h.core.Lockdown.Config(), nil
}

func (h *Handler) decisionsList(params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		Limit int `json:"limit"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	limit := clampLimit(p.Limit)
	var decisions []audit.Entry
	for _, entry := range h.core.Trail.Recent(maxListLimit) {
		if entry.EventType == audit.EventPolicyDecision {
			decisions = append(decisions, entry)
			if len(decisions) >= limit {
				break
			}
		}
	}
	return decisions, nil
}

func (h *Handler) pendingList(json.RawMessage) (interface{}, *rpcError) {
	return h.core.Previews.ListPending(), nil
}

func (h *Handler) pendingApprove(params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		PreviewID  string `json:"previewId"`
		ApprovedBy string `json:"approvedBy"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.PreviewID == "" {
		return nil, &rpcError{Code: ErrCodeInvalidParams, Message: "previewId is required"}
	}

	approved := h.core.Previews.Approve(p.PreviewID, p.ApprovedBy)
	if !approved {
		preview, ok := h.core.Previews.Get(p.PreviewID)
		if !ok {
			return nil, &rpcError{Code: ErrCodeNotFound, Message: "unknown preview id"}
		}
		return map[string]interface{}{"approved": false, "status": preview.Status}, nil
	}
	return map[string]interface{}{"approved": true}, nil
}

func (h *Handler) pendingDeny(params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		PreviewID string `json:"previewId"`
		Reason    string `json:"reason"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.PreviewID == "" {
		return nil, &rpcError{Code: ErrCodeInvalidParams, Message: "previewId is required"}
	}

	denied := h.core.Previews.Deny(p.PreviewID)
	if !denied {
		if _, ok := h.core.Previews.Get(p.PreviewID); !ok {
			return nil, &rpcError{Code: ErrCodeNotFound, Message: "unknown preview id"}
		}
	}
	return map[string]interface{}{"denied": denied}, nil
}

func (h *Handler) attacksList(params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		Limit int `json:"limit"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return h.core.Attacks.List(clampLimit(p.Limit)), nil
}

func (h *Handler) quarantineList(json.RawMessage) (interface{}, *rpcError) {
	return h.core.Trust.ListEntries(), nil
}

func (h *Handler) quarantineDelete(json.RawMessage) (interface{}, *rpcError) {
	removed := h.core.Trust.CleanupQuarantine(0)
	return map[string]interface{}{"removed": removed}, nil
}

func (h *Handler) costStatus(json.RawMessage) (interface{}, *rpcError) {
	return h.core.Cost.Snapshot(), nil
}

func (h *Handler) hitlStatus(json.RawMessage) (interface{}, *rpcError) {
	return map[string]interface{}{"mode": h.core.Engine.HITLMode()}, nil
}

func (h *Handler) hitlSet(params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		Mode string `json:"mode"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	switch policy.HITLMode(p.Mode) {
	case policy.HITLOff, policy.HITLSelective, policy.HITLFull:
	default:
		return nil, &rpcError{Code: ErrCodeInvalidParams, Message: "mode must be off, selective, or full"}
	}

	h.core.Engine.SetHITLMode(policy.HITLMode(p.Mode))
	h.interceptor.ClearCache()
	return map[string]interface{}{"mode": p.Mode}, nil
}

func (h *Handler) auditRuns(params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		UserID    string `json:"userId"`
		OrgID     string `json:"orgId"`
		Status    string `json:"status"`
		RiskLevel string `json:"riskLevel"`
		Limit     int    `json:"limit"`
		Offset    int    `json:"offset"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	runs, total := h.core.Trail.ListRuns(audit.ListFilter{
		UserID:    p.UserID,
		OrgID:     p.OrgID,
		Status:    audit.RunStatus(p.Status),
		RiskLevel: policy.RiskLevel(p.RiskLevel),
		Limit:     clampLimit(p.Limit),
		Offset:    p.Offset,
	})
	return map[string]interface{}{"runs": runs, "total": total}, nil
}

func (h *Handler) auditTrail(params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		RunID string `json:"runId"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.RunID == "" {
		return nil, &rpcError{Code: ErrCodeInvalidParams, Message: "runId is required"}
	}
	return h.core.Trail.RunTrail(p.RunID), nil
}

func (h *Handler) auditLog(params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		Limit int `json:"limit"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return h.core.Trail.Recent(clampLimit(p.Limit)), nil
}

func (h *Handler) auditExport(params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		RunID string `json:"runId"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.RunID == "" {
		return nil, &rpcError{Code: ErrCodeInvalidParams, Message: "runId is required"}
	}

	doc, err := h.core.Trail.ExportRun(p.RunID)
	if err != nil {
		return nil, &rpcError{Code: "EXPORT_FAILED", Message: err.Error()}
	}
	return json.RawMessage(doc), nil
}

func (h *Handler) auditStats(json.RawMessage) (interface{}, *rpcError) {
	return h.core.Trail.StatsSnapshot(), nil
}

func (h *Handler) budgetDashboard(params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		UserID string `json:"userId"`
		OrgID  string `json:"orgId"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	cfg, usage, scope := h.core.Guardrails.Dashboard(p.UserID, p.OrgID)
	return map[string]interface{}{
		"config": cfg,
		"usage":  usage,
		"scope":  scope,
		"status": h.core.Guardrails.Check(p.UserID, p.OrgID, 0),
	}, nil
}

func (h *Handler) budgetCheck(params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		UserID           string  `json:"userId"`
		OrgID            string  `json:"orgId"`
		EstimatedCostUSD float64 `json:"estimatedCostUsd"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return h.core.Guardrails.Check(p.UserID, p.OrgID, p.EstimatedCostUSD), nil
}

func (h *Handler) budgetViolations(json.RawMessage) (interface{}, *rpcError) {
	return h.core.Guardrails.Violations(), nil
}

func (h *Handler) budgetSetUser(params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		UserID string        `json:"userId"`
		Config budget.Config `json:"config"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.UserID == "" {
		return nil, &rpcError{Code: ErrCodeInvalidParams, Message: "userId is required"}
	}
	h.core.Guardrails.SetUserConfig(p.UserID, p.Config)
	return map[string]interface{}{"userId": p.UserID}, nil
}

func (h *Handler) budgetSetOrg(params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		OrgID  string        `json:"orgId"`
		Config budget.Config `json:"config"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.OrgID == "" {
		return nil, &rpcError{Code: ErrCodeInvalidParams, Message: "orgId is required"}
	}
	h.core.Guardrails.SetOrgConfig(p.OrgID, p.Config)
	return map[string]interface{}{"orgId": p.OrgID}, nil
}

func (h *Handler) rulesAdd(params json.RawMessage) (interface{}, *rpcError) {
	var spec service.CustomRuleSpec
	if err := decodeParams(params, &spec); err != nil {
		return nil, err
	}
	if err := h.policyAdmin.AddRule(spec); err != nil {
		return nil, &rpcError{Code: ErrCodeInvalidParams, Message: err.Error()}
	}
	return map[string]interface{}{"ruleId": spec.ID}, nil
}
