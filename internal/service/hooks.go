package service

// Hooks are optional observation callbacks the host wires in (the CLI
// connects them to Prometheus). Nil fields are skipped.
type Hooks struct {
	OnDecision         func(kind string)
	OnRateLimitRefusal func(tier string)
	OnInjection        func()
	OnAuditEntry       func()
}

// fire invokes a callback when set.
func fire(f func()) {
	if f != nil {
		f()
	}
}

func fireLabel(f func(string), label string) {
	if f != nil {
		f(label)
	}
}
