package policy

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/clawguard/clawguard/internal/domain/control"
)

func testEnv(t *testing.T) *Env {
	t.Helper()
	ks, err := control.NewKillSwitch("", slog.Default())
	if err != nil {
		t.Fatalf("NewKillSwitch: %v", err)
	}
	return &Env{
		KillSwitch:    ks,
		Lockdown:      control.NewLockdown(slog.Default()),
		WorkspaceRoot: "/workspace",
	}
}

func testEngine(t *testing.T) (*Engine, *Env) {
	t.Helper()
	env := testEnv(t)
	return NewEngine(env, slog.Default()), env
}

func execCtx(command string) *Context {
	return &Context{
		What: What{Tool: "exec", Parameters: map[string]interface{}{"command": command}},
	}
}

// Kill switch supremacy: every context is denied while the switch is on.
func TestEvaluate_KillSwitch(t *testing.T) {
	engine, env := testEngine(t)
	env.KillSwitch.Activate("test", "tester")

	contexts := []*Context{
		execCtx("ls"),
		{What: What{Tool: "read"}},
		{What: What{Tool: "fetch"}, Where: Where{Domain: "example.com"}},
		{},
	}
	for _, ctx := range contexts {
		d := engine.Evaluate(ctx)
		if d.Kind != KindDeny {
			t.Errorf("Evaluate(%+v).Kind = %q, want deny", ctx.What, d.Kind)
		}
		if !strings.Contains(d.Reason, "kill switch") {
			t.Errorf("reason %q does not mention kill switch", d.Reason)
		}
	}
}

// Kill switch overrides HITL off: deny bands cannot be disabled.
func TestEvaluate_KillSwitchOverridesHITLOff(t *testing.T) {
	engine, env := testEngine(t)
	engine.SetHITLMode(HITLOff)
	env.KillSwitch.Activate("emergency", "operator")

	d := engine.Evaluate(execCtx("ls"))
	if d.Kind != KindDeny {
		t.Fatalf("Kind = %q, want deny", d.Kind)
	}
	if !strings.Contains(d.Reason, "kill switch") {
		t.Errorf("reason %q does not mention kill switch", d.Reason)
	}
}

func TestEvaluate_AbsoluteDenies(t *testing.T) {
	engine, _ := testEngine(t)

	cases := []struct {
		name   string
		ctx    *Context
		reason string
	}{
		{"secret send", &Context{
			What: What{Tool: "email"},
			Risk: Risk{AccessesSecrets: true, SendsData: true},
		}, "secret"},
		{"secret print", &Context{
			What: What{Tool: "print"},
			Risk: Risk{AccessesSecrets: true},
		}, "secret"},
		{"ssrf hostname", &Context{
			What:  What{Tool: "fetch"},
			Where: Where{Domain: "localhost"},
		}, "SSRF"},
		{"ssrf private ip", &Context{
			What:  What{Tool: "fetch"},
			Where: Where{IP: "192.168.1.10"},
		}, "SSRF"},
		{"metadata url", &Context{
			What:  What{Tool: "fetch"},
			Where: Where{URL: "http://169.254.169.254/latest/meta-data"},
		}, "metadata"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := engine.Evaluate(tc.ctx)
			if d.Kind != KindDeny {
				t.Fatalf("Kind = %q, want deny (reason %q)", d.Kind, d.Reason)
			}
			if !strings.Contains(d.Reason, tc.reason) {
				t.Errorf("reason %q missing %q", d.Reason, tc.reason)
			}
		})
	}
}

func TestEvaluate_BudgetBand(t *testing.T) {
	engine, _ := testEngine(t)

	d := engine.Evaluate(&Context{
		What:   What{Tool: "read"},
		Budget: Budget{ToolCallsUsed: 100, ToolCallsLimit: 100},
	})
	if d.Kind != KindDeny || d.RuleID != "deny-tool-call-budget" {
		t.Errorf("decision = %+v, want tool-call budget deny", d)
	}

	d = engine.Evaluate(&Context{
		What:   What{Tool: "read"},
		Budget: Budget{CostUSD: 1.5, CostLimitUSD: 1},
	})
	if d.Kind != KindDeny || d.RuleID != "deny-cost-budget" {
		t.Errorf("decision = %+v, want cost budget deny", d)
	}

	// Below the limits the read tool is allowed.
	d = engine.Evaluate(&Context{
		What:   What{Tool: "read"},
		Budget: Budget{ToolCallsUsed: 5, ToolCallsLimit: 100, CostUSD: 0.1, CostLimitUSD: 1},
	})
	if d.Kind != KindAllow {
		t.Errorf("decision = %+v, want allow", d)
	}
}

func TestEvaluate_Lockdown(t *testing.T) {
	engine, env := testEngine(t)
	env.Lockdown.Enable(control.LockdownOptions{})

	// Shell denied outright under lockdown.
	if d := engine.Evaluate(execCtx("ls")); d.Kind != KindDeny {
		t.Errorf("shell under lockdown = %q, want deny", d.Kind)
	}

	// Network outside the allowlist denied.
	d := engine.Evaluate(&Context{
		What:  What{Tool: "fetch"},
		Where: Where{Domain: "evil.example"},
	})
	if d.Kind != KindDeny || d.RuleID != "lockdown-network-allowlist" {
		t.Errorf("decision = %+v, want allowlist deny", d)
	}

	// Allowlisted network targets fall through to the allow band.
	d = engine.Evaluate(&Context{
		What:  What{Tool: "fetch"},
		Where: Where{Domain: "api.github.com"},
	})
	if d.Kind != KindAllow {
		t.Errorf("allowlisted fetch = %+v, want allow", d)
	}

	// External sends require confirmation.
	d = engine.Evaluate(&Context{
		What: What{Tool: "message"},
		Risk: Risk{SendsData: true},
	})
	if d.Kind != KindRequireConfirmation || d.RuleID != "lockdown-external-comms" {
		t.Errorf("decision = %+v, want lockdown comms confirmation", d)
	}
}

func TestEvaluate_ConfirmBand(t *testing.T) {
	engine, _ := testEngine(t)

	cases := []struct {
		name   string
		ctx    *Context
		ruleID string
	}{
		{"shell", execCtx("ls -la"), "confirm-shell"},
		{"external send", &Context{What: What{Tool: "email"}}, "confirm-external-send"},
		{"destructive", &Context{What: What{Tool: "db", Action: "delete"}}, "confirm-destructive"},
		{"destructive command", execCtx("rm -rf /tmp/x"), "confirm-destructive"},
		{"browser", &Context{What: What{Tool: "browser"}}, "confirm-browser"},
		{"config change", &Context{What: What{Tool: "settings"}, Risk: Risk{ModifiesConfig: true}}, "confirm-config-change"},
		{"upload", &Context{What: What{Tool: "upload"}}, "confirm-upload"},
		{"write outside workspace", &Context{
			What:  What{Tool: "write"},
			Where: Where{FilePath: "/etc/crontab"},
		}, "confirm-file-write-outside"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := engine.Evaluate(tc.ctx)
			if d.Kind != KindRequireConfirmation {
				t.Fatalf("Kind = %q, want require_confirmation (%+v)", d.Kind, d)
			}
			if d.RuleID != tc.ruleID {
				t.Errorf("RuleID = %q, want %q", d.RuleID, tc.ruleID)
			}
			if !d.RequiresPreview {
				t.Error("RequiresPreview = false")
			}
		})
	}
}

func TestEvaluate_AllowBand(t *testing.T) {
	engine, _ := testEngine(t)

	cases := []struct {
		name   string
		ctx    *Context
		ruleID string
	}{
		{"read", &Context{What: What{Tool: "read"}}, "allow-read-only"},
		{"workspace write", &Context{
			What:  What{Tool: "write"},
			Where: Where{FilePath: "/workspace/notes.md"},
		}, "allow-workspace-write"},
		{"public fetch", &Context{
			What:  What{Tool: "fetch"},
			Where: Where{Domain: "example.com"},
		}, "allow-public-fetch"},
		{"canvas", &Context{What: What{Tool: "canvas"}}, "allow-canvas"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := engine.Evaluate(tc.ctx)
			if d.Kind != KindAllow || d.RuleID != tc.ruleID {
				t.Errorf("decision = %+v, want allow via %s", d, tc.ruleID)
			}
		})
	}
}

func TestEvaluate_UnknownActionDefault(t *testing.T) {
	engine, _ := testEngine(t)

	d := engine.Evaluate(&Context{What: What{Tool: "quantum_flux"}})
	if d.Kind != KindRequireConfirmation {
		t.Errorf("Kind = %q, want require_confirmation", d.Kind)
	}
	if d.Reason != "unknown action" {
		t.Errorf("Reason = %q, want \"unknown action\"", d.Reason)
	}
	if d.RuleID != "" {
		t.Errorf("RuleID = %q for default decision", d.RuleID)
	}
}

// A panicking condition fails closed with the rule id in the reason.
func TestEvaluate_FailClosed(t *testing.T) {
	engine, _ := testEngine(t)

	err := engine.AddRule(Rule{
		ID: "buggy-rule", Name: "Buggy", Priority: 7000,
		Condition: func(env *Env, ctx *Context) bool {
			var m map[string]int
			m["boom"] = 1 // nil map write
			return false
		},
		Decision: KindAllow,
	})
	if err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	d := engine.Evaluate(&Context{What: What{Tool: "quantum_flux"}})
	if d.Kind != KindDeny {
		t.Fatalf("Kind = %q, want deny", d.Kind)
	}
	if !strings.Contains(d.Reason, "buggy-rule") {
		t.Errorf("reason %q does not carry the rule id", d.Reason)
	}
}

// Priority monotonicity: when two rules match, the higher priority wins;
// equal priorities break ties by insertion order.
func TestEvaluate_PriorityOrder(t *testing.T) {
	engine, _ := testEngine(t)

	match := func(env *Env, ctx *Context) bool { return ctx.What.Tool == "custom_probe" }
	if err := engine.AddRule(Rule{ID: "low", Priority: 2000, Condition: match, Decision: KindDeny, Reason: "low"}); err != nil {
		t.Fatal(err)
	}
	if err := engine.AddRule(Rule{ID: "high", Priority: 7500, Condition: match, Decision: KindAllow, Reason: "high"}); err != nil {
		t.Fatal(err)
	}
	if err := engine.AddRule(Rule{ID: "high-second", Priority: 7500, Condition: match, Decision: KindDeny, Reason: "tie"}); err != nil {
		t.Fatal(err)
	}

	d := engine.Evaluate(&Context{What: What{Tool: "custom_probe"}})
	if d.RuleID != "high" {
		t.Errorf("RuleID = %q, want high (priority then insertion order)", d.RuleID)
	}
}

// Custom rules cannot enter the reserved bands after init.
func TestAddRule_ReservedBands(t *testing.T) {
	engine, _ := testEngine(t)

	err := engine.AddRule(Rule{
		ID: "sneaky", Priority: 9500,
		Condition: func(env *Env, ctx *Context) bool { return true },
		Decision:  KindAllow,
	})
	if err != ErrReservedPriority {
		t.Errorf("err = %v, want ErrReservedPriority", err)
	}

	if err := engine.AddRule(Rule{
		ID: "fine", Priority: 8999,
		Condition: func(env *Env, ctx *Context) bool { return false },
		Decision:  KindAllow,
	}); err != nil {
		t.Errorf("err = %v for priority 8999", err)
	}
}

func TestHITLModes(t *testing.T) {
	engine, _ := testEngine(t)

	shell := execCtx("ls -la")

	// Selective (default): shell needs confirmation.
	if d := engine.Evaluate(shell); d.Kind != KindRequireConfirmation {
		t.Errorf("selective: %q", d.Kind)
	}

	// Off: advisory confirmations become allows.
	engine.SetHITLMode(HITLOff)
	if d := engine.Evaluate(shell); d.Kind != KindAllow {
		t.Errorf("off: %q, want allow", d.Kind)
	}

	// Full: allows become confirmations.
	engine.SetHITLMode(HITLFull)
	if d := engine.Evaluate(&Context{What: What{Tool: "read"}}); d.Kind != KindRequireConfirmation {
		t.Errorf("full: read = %q, want require_confirmation", d.Kind)
	}
}

func TestHITLOff_KeepsLockdownConfirm(t *testing.T) {
	engine, env := testEngine(t)
	engine.SetHITLMode(HITLOff)
	env.Lockdown.Enable(control.LockdownOptions{})

	d := engine.Evaluate(&Context{
		What: What{Tool: "notify"},
		Risk: Risk{SendsData: true},
	})
	if d.Kind != KindRequireConfirmation {
		t.Errorf("lockdown comms with hitl off = %q, want require_confirmation", d.Kind)
	}
}

func TestWouldHelpers(t *testing.T) {
	engine, env := testEngine(t)

	if !engine.WouldRequireConfirmation(execCtx("ls")) {
		t.Error("WouldRequireConfirmation(shell) = false")
	}
	env.KillSwitch.Activate("x", "y")
	if !engine.WouldDeny(execCtx("ls")) {
		t.Error("WouldDeny under kill switch = false")
	}
}
