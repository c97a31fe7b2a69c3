package service

import (
	"fmt"

	celgo "github.com/google/cel-go/cel"

	celeval "github.com/clawguard/clawguard/internal/adapter/outbound/cel"
	"github.com/clawguard/clawguard/internal/domain/policy"
)

// CustomRuleSpec is an operator-supplied policy rule. The condition is a
// CEL expression over the policy-context variables.
type CustomRuleSpec struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Priority   int    `json:"priority" yaml:"priority"`
	Expression string `json:"expression" yaml:"expression"`
	Decision   string `json:"decision" yaml:"decision"`
	Reason     string `json:"reason" yaml:"reason"`
}

// PolicyAdmin registers custom rules onto the engine. Additions are
// append-only, always below the reserved bands, and clear the decision
// cache.
type PolicyAdmin struct {
	core        *SecurityCore
	interceptor *Interceptor
	evaluator   *celeval.Evaluator
}

// NewPolicyAdmin creates the custom rule registrar.
func NewPolicyAdmin(core *SecurityCore, interceptor *Interceptor) (*PolicyAdmin, error) {
	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("init CEL evaluator: %w", err)
	}
	return &PolicyAdmin{core: core, interceptor: interceptor, evaluator: evaluator}, nil
}

// AddRule validates, compiles, and registers a custom rule.
func (a *PolicyAdmin) AddRule(spec CustomRuleSpec) error {
	if spec.ID == "" {
		return fmt.Errorf("rule id is required")
	}

	var kind policy.Kind
	switch policy.Kind(spec.Decision) {
	case policy.KindAllow, policy.KindRequireConfirmation, policy.KindDeny:
		kind = policy.Kind(spec.Decision)
	default:
		return fmt.Errorf("unknown decision %q", spec.Decision)
	}

	if err := a.evaluator.ValidateExpression(spec.Expression); err != nil {
		return err
	}
	prg, err := a.evaluator.Compile(spec.Expression)
	if err != nil {
		return err
	}

	reason := spec.Reason
	if reason == "" {
		reason = fmt.Sprintf("matched custom rule %s", spec.ID)
	}

	rule := policy.Rule{
		ID:              spec.ID,
		Name:            spec.Name,
		Priority:        spec.Priority,
		Condition:       a.celCondition(prg),
		Decision:        kind,
		Reason:          reason,
		RequiresPreview: kind == policy.KindRequireConfirmation,
	}
	if err := a.core.Engine.AddRule(rule); err != nil {
		return err
	}

	a.interceptor.ClearCache()
	a.core.logger.Info("custom policy rule registered",
		"rule_id", spec.ID,
		"priority", spec.Priority,
		"decision", spec.Decision,
	)
	return nil
}

// celCondition wraps a compiled program as an engine condition. An
// evaluation error propagates as a panic so the engine's fail-closed
// path converts it into a deny carrying the rule id.
func (a *PolicyAdmin) celCondition(prg celgo.Program) policy.Condition {
	return func(env *policy.Env, ctx *policy.Context) bool {
		matched, err := a.evaluator.Evaluate(prg, ctx)
		if err != nil {
			panic(err)
		}
		return matched
	}
}
