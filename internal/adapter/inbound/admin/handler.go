// Package admin exposes the control surface the surrounding gateway
// consumes: a JSON RPC endpoint dispatching the security.* methods.
package admin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/clawguard/clawguard/internal/service"
)

// Error codes surfaced in the {ok:false, error:{...}} envelope.
const (
	ErrCodeInvalidParams    = "INVALID_PARAMS"
	ErrCodeMethodNotFound   = "METHOD_NOT_FOUND"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeWrongConfirmCode = "WRONG_CONFIRM_CODE"
)

// maxListLimit clamps every list method.
const maxListLimit = 100

// rpcRequest is the envelope for one control-surface call.
type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// rpcError is the failure payload.
type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// rpcResponse is the success/failure envelope.
type rpcResponse struct {
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  *rpcError   `json:"error,omitempty"`
}

// methodFunc handles one RPC method.
type methodFunc func(params json.RawMessage) (interface{}, *rpcError)

// Handler dispatches control-surface methods onto the security core.
type Handler struct {
	core        *service.SecurityCore
	interceptor *service.Interceptor
	policyAdmin *service.PolicyAdmin
	logger      *slog.Logger
	methods     map[string]methodFunc
}

// NewHandler creates the control-surface handler.
func NewHandler(core *service.SecurityCore, interceptor *service.Interceptor, policyAdmin *service.PolicyAdmin, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		core:        core,
		interceptor: interceptor,
		policyAdmin: policyAdmin,
		logger:      logger,
	}
	h.methods = map[string]methodFunc{
		"security.status":            h.status,
		"security.killswitch.set":    h.killSwitchSet,
		"security.lockdown.set":      h.lockdownSet,
		"security.decisions.list":    h.decisionsList,
		"security.pending.list":      h.pendingList,
		"security.pending.approve":   h.pendingApprove,
		"security.pending.deny":      h.pendingDeny,
		"security.attacks.list":      h.attacksList,
		"security.quarantine.list":   h.quarantineList,
		"security.quarantine.delete": h.quarantineDelete,
		"security.cost.status":       h.costStatus,
		"security.hitl.status":       h.hitlStatus,
		"security.hitl.set":          h.hitlSet,
		"security.audit.runs":        h.auditRuns,
		"security.audit.trail":       h.auditTrail,
		"security.audit.log":         h.auditLog,
		"security.audit.export":      h.auditExport,
		"security.audit.stats":       h.auditStats,
		"security.budget.dashboard":  h.budgetDashboard,
		"security.budget.check":      h.budgetCheck,
		"security.budget.violations": h.budgetViolations,
		"security.budget.setUser":    h.budgetSetUser,
		"security.budget.setOrg":     h.budgetSetOrg,
		"security.rules.add":         h.rulesAdd,
	}
	return h
}

// Register mounts the handler onto a mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /rpc", h.serveRPC)
}

// serveRPC decodes the envelope, dispatches, and writes the response.
// Internal errors never escape: a panic becomes an error envelope.
func (h *Handler) serveRPC(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("control surface panic", "panic", fmt.Sprint(rec))
			writeJSON(w, http.StatusOK, rpcResponse{
				OK:    false,
				Error: &rpcError{Code: "INTERNAL", Message: "internal error"},
			})
		}
	}()

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, rpcResponse{
			OK:    false,
			Error: &rpcError{Code: ErrCodeInvalidParams, Message: "malformed request body"},
		})
		return
	}

	method, ok := h.methods[req.Method]
	if !ok {
		writeJSON(w, http.StatusOK, rpcResponse{
			OK:    false,
			Error: &rpcError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)},
		})
		return
	}

	result, rpcErr := method(req.Params)
	if rpcErr != nil {
		writeJSON(w, http.StatusOK, rpcResponse{OK: false, Error: rpcErr})
		return
	}
	writeJSON(w, http.StatusOK, rpcResponse{OK: true, Result: result})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeParams unmarshals params into dst, tolerating absent params.
func decodeParams(params json.RawMessage, dst interface{}) *rpcError {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return &rpcError{Code: ErrCodeInvalidParams, Message: "malformed params: " + err.Error()}
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
