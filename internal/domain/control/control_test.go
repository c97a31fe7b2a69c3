package control

import (
	"log/slog"
	"testing"
)

func newTestKillSwitch(t *testing.T, code string) *KillSwitch {
	t.Helper()
	ks, err := NewKillSwitch(code, slog.Default())
	if err != nil {
		t.Fatalf("NewKillSwitch: %v", err)
	}
	return ks
}

func TestKillSwitch_ActivateDeactivate(t *testing.T) {
	ks := newTestKillSwitch(t, "")

	if ks.IsActive() {
		t.Fatal("kill switch active at init")
	}

	ks.Activate("anomalous tool usage", "operator")
	if !ks.IsActive() {
		t.Fatal("not active after Activate")
	}
	state := ks.State()
	if state.Reason != "anomalous tool usage" || state.ActivatedBy != "operator" {
		t.Errorf("state = %+v", state)
	}
	if state.ActivatedAt.IsZero() {
		t.Error("ActivatedAt not set")
	}

	if !ks.Deactivate("operator", DefaultConfirmCode) {
		t.Fatal("Deactivate with correct code returned false")
	}
	if ks.IsActive() {
		t.Error("still active after deactivation")
	}
}

// A wrong confirm code must return false and leave the switch active.
func TestKillSwitch_WrongCode(t *testing.T) {
	ks := newTestKillSwitch(t, "s3cret-code")

	ks.Activate("test", "tester")

	if ks.Deactivate("tester", "CONFIRM_DEACTIVATE") {
		t.Fatal("Deactivate with wrong code returned true")
	}
	if !ks.IsActive() {
		t.Fatal("kill switch deactivated by wrong code")
	}

	if !ks.Deactivate("tester", "s3cret-code") {
		t.Fatal("Deactivate with configured code returned false")
	}
}

func TestKillSwitch_ReactivateAfterDeactivate(t *testing.T) {
	ks := newTestKillSwitch(t, "")
	ks.Activate("first", "a")
	ks.Deactivate("a", DefaultConfirmCode)
	ks.Activate("second", "b")
	if !ks.IsActive() {
		t.Fatal("reactivation failed")
	}
	if ks.State().Reason != "second" {
		t.Errorf("reason = %q", ks.State().Reason)
	}
}

func TestLockdown_EnableDisable(t *testing.T) {
	l := NewLockdown(slog.Default())

	if l.IsEnabled() {
		t.Fatal("lockdown enabled at init")
	}

	off := false
	l.Enable(LockdownOptions{ShellBrowserDeny: &off})
	if !l.IsEnabled() {
		t.Fatal("not enabled after Enable")
	}
	cfg := l.Config()
	if cfg.ShellBrowserDeny {
		t.Error("ShellBrowserDeny override ignored")
	}
	if !cfg.ExternalCommsConfirm || !cfg.WritesDeletesConfirm {
		t.Error("defaults not kept for unset options")
	}

	l.Disable()
	if l.IsEnabled() {
		t.Error("still enabled after Disable")
	}
}

func TestLockdown_Allowlist(t *testing.T) {
	l := NewLockdown(slog.Default())

	if !l.IsDomainAllowed("api.anthropic.com") {
		t.Error("default allowlist missing api.anthropic.com")
	}
	if !l.IsDomainAllowed("uploads.api.github.com") {
		t.Error("subdomain of allowed domain rejected")
	}
	if l.IsDomainAllowed("evil.example") {
		t.Error("unknown domain allowed")
	}
	if l.IsDomainAllowed("notapi.github.com") {
		t.Error("suffix match must respect label boundary")
	}

	l.AddToAllowlist([]string{"Internal.Example.", "internal.example"})
	if !l.IsDomainAllowed("internal.example") {
		t.Error("added domain rejected")
	}

	l.RemoveFromAllowlist([]string{"internal.example"})
	if l.IsDomainAllowed("internal.example") {
		t.Error("removed domain still allowed")
	}
}

func TestStatus(t *testing.T) {
	ks := newTestKillSwitch(t, "")
	l := NewLockdown(slog.Default())

	status := Status(ks, l)
	if !status.CanExecuteTools || !status.CanSendExternal || !status.CanAccessNetwork {
		t.Errorf("open state wrong: %+v", status)
	}

	l.Enable(LockdownOptions{})
	status = Status(ks, l)
	if status.CanSendExternal {
		t.Error("external send allowed under lockdown with comms confirm")
	}
	if !status.CanExecuteTools {
		t.Error("tool execution blocked by lockdown alone")
	}

	ks.Activate("stop", "op")
	status = Status(ks, l)
	if status.CanExecuteTools || status.CanSendExternal || status.CanAccessNetwork {
		t.Errorf("kill switch did not zero capabilities: %+v", status)
	}
}
