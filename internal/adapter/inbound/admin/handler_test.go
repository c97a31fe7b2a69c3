package admin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clawguard/clawguard/internal/config"
	"github.com/clawguard/clawguard/internal/domain/trust"
	"github.com/clawguard/clawguard/internal/service"
)

type testRig struct {
	server      *httptest.Server
	core        *service.SecurityCore
	interceptor *service.Interceptor
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	core, err := service.NewSecurityCore(cfg, slog.Default())
	if err != nil {
		t.Fatalf("NewSecurityCore: %v", err)
	}
	interceptor := service.NewInterceptor(core)
	policyAdmin, err := service.NewPolicyAdmin(core, interceptor)
	if err != nil {
		t.Fatalf("NewPolicyAdmin: %v", err)
	}

	mux := http.NewServeMux()
	NewHandler(core, interceptor, policyAdmin, slog.Default()).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &testRig{server: server, core: core, interceptor: interceptor}
}

func (r *testRig) call(t *testing.T, method string, params interface{}) rpcResponse {
	t.Helper()
	body := map[string]interface{}{"method": method}
	if params != nil {
		body["params"] = params
	}
	data, _ := json.Marshal(body)

	resp, err := http.Post(r.server.URL+"/rpc", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func resultMap(t *testing.T, resp rpcResponse) map[string]interface{} {
	t.Helper()
	data, _ := json.Marshal(resp.Result)
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("result not an object: %v", err)
	}
	return m
}

func TestRPC_Status(t *testing.T) {
	rig := newTestRig(t)

	resp := rig.call(t, "security.status", nil)
	if !resp.OK {
		t.Fatalf("error: %+v", resp.Error)
	}
	status := resultMap(t, resp)
	if status["can_execute_tools"] != true {
		t.Errorf("can_execute_tools = %v", status["can_execute_tools"])
	}
}

func TestRPC_KillSwitchLifecycle(t *testing.T) {
	rig := newTestRig(t)

	resp := rig.call(t, "security.killswitch.set", map[string]interface{}{
		"enabled": true, "reason": "drill", "activatedBy": "tester",
	})
	if !resp.OK {
		t.Fatalf("activate failed: %+v", resp.Error)
	}
	if !rig.core.KillSwitch.IsActive() {
		t.Fatal("kill switch not active")
	}

	// Wrong code: error envelope, state unchanged.
	resp = rig.call(t, "security.killswitch.set", map[string]interface{}{
		"enabled": false, "confirmCode": "wrong-code",
	})
	if resp.OK {
		t.Fatal("wrong code accepted")
	}
	if resp.Error.Code != ErrCodeWrongConfirmCode {
		t.Errorf("error code = %q", resp.Error.Code)
	}
	if !rig.core.KillSwitch.IsActive() {
		t.Fatal("kill switch deactivated by wrong code")
	}

	resp = rig.call(t, "security.killswitch.set", map[string]interface{}{
		"enabled": false, "confirmCode": "CONFIRM_DEACTIVATE",
	})
	if !resp.OK {
		t.Fatalf("deactivate failed: %+v", resp.Error)
	}
	if rig.core.KillSwitch.IsActive() {
		t.Fatal("kill switch still active")
	}
}

func TestRPC_LockdownSet(t *testing.T) {
	rig := newTestRig(t)

	if resp := rig.call(t, "security.lockdown.set", map[string]interface{}{"enabled": true}); !resp.OK {
		t.Fatalf("enable failed: %+v", resp.Error)
	}
	if !rig.core.Lockdown.IsEnabled() {
		t.Fatal("lockdown not enabled")
	}
	rig.call(t, "security.lockdown.set", map[string]interface{}{"enabled": false})
	if rig.core.Lockdown.IsEnabled() {
		t.Fatal("lockdown still enabled")
	}
}

func TestRPC_PendingApproveDeny(t *testing.T) {
	rig := newTestRig(t)

	result := rig.interceptor.InterceptToolCall(service.ToolCallRequest{
		RunID:      "r1",
		SourceZone: trust.ZoneReasoning,
		Tool:       "exec",
		Parameters: map[string]interface{}{"command": "ls"},
	})
	if result.PreviewID == "" {
		t.Fatal("no preview created")
	}

	resp := rig.call(t, "security.pending.list", nil)
	if !resp.OK {
		t.Fatalf("list failed: %+v", resp.Error)
	}

	resp = rig.call(t, "security.pending.approve", map[string]interface{}{"previewId": result.PreviewID})
	if !resp.OK {
		t.Fatalf("approve failed: %+v", resp.Error)
	}
	if m := resultMap(t, resp); m["approved"] != true {
		t.Errorf("approved = %v", m["approved"])
	}

	// Unknown preview id is NOT_FOUND.
	resp = rig.call(t, "security.pending.approve", map[string]interface{}{"previewId": "nope"})
	if resp.OK || resp.Error.Code != ErrCodeNotFound {
		t.Errorf("resp = %+v", resp)
	}
}

func TestRPC_HITL(t *testing.T) {
	rig := newTestRig(t)

	resp := rig.call(t, "security.hitl.status", nil)
	if m := resultMap(t, resp); m["mode"] != "selective" {
		t.Errorf("mode = %v", m["mode"])
	}

	resp = rig.call(t, "security.hitl.set", map[string]interface{}{"mode": "off"})
	if !resp.OK {
		t.Fatalf("set failed: %+v", resp.Error)
	}

	resp = rig.call(t, "security.hitl.set", map[string]interface{}{"mode": "sometimes"})
	if resp.OK || resp.Error.Code != ErrCodeInvalidParams {
		t.Errorf("bogus mode accepted: %+v", resp)
	}
}

func TestRPC_AuditSurface(t *testing.T) {
	rig := newTestRig(t)

	rig.interceptor.InterceptToolCall(service.ToolCallRequest{
		RunID:      "r1",
		SourceZone: trust.ZoneReasoning,
		Tool:       "read",
	})

	resp := rig.call(t, "security.audit.trail", map[string]interface{}{"runId": "r1"})
	if !resp.OK {
		t.Fatalf("trail failed: %+v", resp.Error)
	}

	resp = rig.call(t, "security.audit.export", map[string]interface{}{"runId": "r1"})
	if !resp.OK {
		t.Fatalf("export failed: %+v", resp.Error)
	}
	export := resultMap(t, resp)
	if export["notice"] != "All secrets have been automatically redacted" {
		t.Errorf("notice = %v", export["notice"])
	}

	resp = rig.call(t, "security.audit.stats", nil)
	if !resp.OK {
		t.Fatalf("stats failed: %+v", resp.Error)
	}

	// runId is mandatory for trail/export.
	resp = rig.call(t, "security.audit.export", nil)
	if resp.OK || resp.Error.Code != ErrCodeInvalidParams {
		t.Errorf("missing runId accepted: %+v", resp)
	}
}

func TestRPC_Budget(t *testing.T) {
	rig := newTestRig(t)

	resp := rig.call(t, "security.budget.setUser", map[string]interface{}{
		"userId": "u1",
		"config": map[string]interface{}{
			"per_run_usd": 1.0, "daily_usd": 5.0, "warning_threshold": 0.7, "hard_stop": true,
		},
	})
	if !resp.OK {
		t.Fatalf("setUser failed: %+v", resp.Error)
	}

	rig.core.Guardrails.RecordUsage("u1", "", 2.0)
	resp = rig.call(t, "security.budget.check", map[string]interface{}{"userId": "u1"})
	if !resp.OK {
		t.Fatalf("check failed: %+v", resp.Error)
	}
	check := resultMap(t, resp)
	if check["within_budget"] != false || check["current_tier"] != "blocked" {
		t.Errorf("check = %v", check)
	}

	resp = rig.call(t, "security.budget.violations", nil)
	if !resp.OK {
		t.Fatalf("violations failed: %+v", resp.Error)
	}
}

func TestRPC_Quarantine(t *testing.T) {
	rig := newTestRig(t)

	rig.core.QuarantineExternal("hello from the web", trust.SourceWeb, nil)

	resp := rig.call(t, "security.quarantine.list", nil)
	if !resp.OK {
		t.Fatalf("list failed: %+v", resp.Error)
	}

	resp = rig.call(t, "security.quarantine.delete", nil)
	if !resp.OK {
		t.Fatalf("delete failed: %+v", resp.Error)
	}
	if m := resultMap(t, resp); m["removed"] != float64(1) {
		t.Errorf("removed = %v", m["removed"])
	}
}

func TestRPC_UnknownMethodAndBadBody(t *testing.T) {
	rig := newTestRig(t)

	resp := rig.call(t, "security.nope", nil)
	if resp.OK || resp.Error.Code != ErrCodeMethodNotFound {
		t.Errorf("unknown method: %+v", resp)
	}

	raw, err := http.Post(rig.server.URL+"/rpc", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Body.Close()
	var out rpcResponse
	if err := json.NewDecoder(raw.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.OK || out.Error.Code != ErrCodeInvalidParams {
		t.Errorf("bad body: %+v", out)
	}
}

func TestRPC_DecisionsList(t *testing.T) {
	rig := newTestRig(t)

	for i := 0; i < 3; i++ {
		rig.interceptor.InterceptToolCall(service.ToolCallRequest{
			RunID:      fmt.Sprintf("r%d", i),
			SourceZone: trust.ZoneReasoning,
			Tool:       "read",
		})
	}

	resp := rig.call(t, "security.decisions.list", map[string]interface{}{"limit": 2})
	if !resp.OK {
		t.Fatalf("decisions failed: %+v", resp.Error)
	}
	data, _ := json.Marshal(resp.Result)
	var list []map[string]interface{}
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("result not a list: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("len = %d, want 2", len(list))
	}
}
