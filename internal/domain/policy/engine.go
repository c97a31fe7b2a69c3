package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/clawguard/clawguard/internal/domain/control"
)

// reservedPriorityFloor is the lowest priority reserved for the
// kill-switch and absolute-deny bands. Rules at or above it can only be
// registered before the engine is sealed.
const reservedPriorityFloor = 9000

// maxCustomRules bounds runtime rule additions.
const maxCustomRules = 256

// ErrReservedPriority is returned when a post-seal rule targets the
// reserved bands.
var ErrReservedPriority = errors.New("priority 9000 and above is reserved for built-in rules")

// ErrTooManyRules is returned when the custom rule cap is reached.
var ErrTooManyRules = errors.New("custom rule limit reached")

// Env is the global state rules read during evaluation.
type Env struct {
	KillSwitch    *control.KillSwitch
	Lockdown      *control.Lockdown
	WorkspaceRoot string
}

// Engine evaluates contexts against the priority-ordered rule set.
// Built-in rules are registered before Seal; later additions are
// append-only and confined below the reserved bands.
type Engine struct {
	mu       sync.RWMutex
	env      *Env
	rules    []Rule // sorted by descending priority, stable
	sealed   bool
	custom   int
	hitlMode HITLMode
	logger   *slog.Logger
}

// NewEngine creates an engine with the built-in rule set registered and
// sealed. The env must carry the kill switch and lockdown singletons.
func NewEngine(env *Env, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		env:      env,
		hitlMode: HITLSelective,
		logger:   logger,
	}
	for _, rule := range builtinRules() {
		if err := e.addRule(rule); err != nil {
			// Built-in registration cannot fail; a bad table is a bug.
			panic(fmt.Sprintf("builtin rule %s: %v", rule.ID, err))
		}
	}
	e.Seal()
	return e
}

// Seal closes the reserved priority bands. Called once after init.
func (e *Engine) Seal() {
	e.mu.Lock()
	e.sealed = true
	e.mu.Unlock()
}

// AddRule appends a custom rule. After Seal, rules in the reserved bands
// are rejected; additions are append-only (there is no removal).
func (e *Engine) AddRule(rule Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sealed && rule.Priority >= reservedPriorityFloor {
		return ErrReservedPriority
	}
	if e.sealed {
		if e.custom >= maxCustomRules {
			return ErrTooManyRules
		}
		e.custom++
	}
	return e.addRuleLocked(rule)
}

func (e *Engine) addRule(rule Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addRuleLocked(rule)
}

func (e *Engine) addRuleLocked(rule Rule) error {
	if rule.ID == "" || rule.Condition == nil {
		return errors.New("rule needs an id and a condition")
	}
	// Copy-on-write: Evaluate iterates its snapshot outside the lock, so
	// the published slice is never mutated after assignment.
	next := make([]Rule, 0, len(e.rules)+1)
	next = append(next, e.rules...)
	next = append(next, rule)
	// Stable sort keeps insertion order within a priority.
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].Priority > next[j].Priority
	})
	e.rules = next
	return nil
}

// SetHITLMode switches the human-in-the-loop posture.
func (e *Engine) SetHITLMode(mode HITLMode) {
	e.mu.Lock()
	e.hitlMode = mode
	e.mu.Unlock()
}

// HITLMode returns the current human-in-the-loop posture.
func (e *Engine) HITLMode() HITLMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hitlMode
}

// Rules returns a copy of the current rule set in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// Evaluate runs the rule set against ctx and returns the first matching
// rule's decision. A condition that panics fails closed: the result is a
// deny carrying the offending rule id. With no match the default is
// require_confirmation ("unknown action").
func (e *Engine) Evaluate(ctx *Context) Decision {
	e.mu.RLock()
	rules := e.rules
	mode := e.hitlMode
	e.mu.RUnlock()

	for i := range rules {
		rule := &rules[i]
		matched, panicked := e.safeCondition(rule, ctx)
		if panicked {
			return Decision{
				Kind:   KindDeny,
				Reason: fmt.Sprintf("rule %s raised during evaluation; failing closed", rule.ID),
				RuleID: rule.ID,
			}
		}
		if !matched {
			continue
		}
		return e.applyHITL(mode, rule, Decision{
			Kind:            rule.Decision,
			Reason:          rule.Reason,
			RuleID:          rule.ID,
			RequiresPreview: rule.RequiresPreview,
			PreviewMessage:  rule.PreviewTemplate,
		})
	}

	return Decision{
		Kind:   KindRequireConfirmation,
		Reason: "unknown action",
	}
}

// WouldDeny reports whether ctx would be denied.
func (e *Engine) WouldDeny(ctx *Context) bool {
	return e.Evaluate(ctx).Kind == KindDeny
}

// WouldRequireConfirmation reports whether ctx would need confirmation.
func (e *Engine) WouldRequireConfirmation(ctx *Context) bool {
	return e.Evaluate(ctx).Kind == KindRequireConfirmation
}

// safeCondition runs a rule condition, converting a panic into a
// fail-closed signal.
func (e *Engine) safeCondition(rule *Rule, ctx *Context) (matched, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("policy rule condition panicked",
				"rule_id", rule.ID,
				"panic", fmt.Sprint(r),
			)
			matched = false
			panicked = true
		}
	}()
	return rule.Condition(e.env, ctx), false
}

// applyHITL adjusts a matched decision for the HITL posture. Only the
// advisory confirm band (priority < lockdown band) is weakened by "off";
// "full" upgrades allows to confirmations.
func (e *Engine) applyHITL(mode HITLMode, rule *Rule, d Decision) Decision {
	switch mode {
	case HITLOff:
		if d.Kind == KindRequireConfirmation && rule.Priority < bandLockdown {
			d.Kind = KindAllow
			d.RequiresPreview = false
			d.Reason = d.Reason + " (auto-approved: hitl off)"
		}
	case HITLFull:
		if d.Kind == KindAllow {
			d.Kind = KindRequireConfirmation
			d.RequiresPreview = true
			d.Reason = d.Reason + " (confirmation forced: hitl full)"
		}
	}
	return d
}
