// Package cel compiles and evaluates CEL expressions used as conditions
// on custom policy rules. Built-in rules are plain Go functions; CEL is
// the extension surface for operator-authored rules.
package cel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/clawguard/clawguard/internal/domain/policy"
)

// maxExpressionLength bounds operator-supplied expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit, preventing cost-exhaustion
// through pathological expressions.
const maxCostBudget = 100_000

// maxNestingDepth bounds parenthesis/bracket nesting.
const maxNestingDepth = 50

// evalTimeout is the hard ceiling on a single evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (comprehension iterations) cancellation
// is checked.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates policy-context CEL expressions.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator creates an evaluator with the policy-context environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := newPolicyEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create policy environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// newPolicyEnvironment declares the variables and helper functions a
// custom rule condition may reference.
func newPolicyEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		// who
		cel.Variable("user_id", cel.StringType),
		cel.Variable("role", cel.StringType),
		cel.Variable("pairing_status", cel.StringType),
		cel.Variable("agent_id", cel.StringType),

		// what
		cel.Variable("tool", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("parameters", cel.MapType(cel.StringType, cel.DynType)),

		// where
		cel.Variable("domain", cel.StringType),
		cel.Variable("ip", cel.StringType),
		cel.Variable("file_path", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("url", cel.StringType),

		// risk
		cel.Variable("is_destructive", cel.BoolType),
		cel.Variable("is_external", cel.BoolType),
		cel.Variable("accesses_secrets", cel.BoolType),
		cel.Variable("modifies_config", cel.BoolType),
		cel.Variable("sends_data", cel.BoolType),

		// budget
		cel.Variable("tokens_used", cel.IntType),
		cel.Variable("tool_calls_used", cel.IntType),
		cel.Variable("cost_usd", cel.DoubleType),

		// glob: pattern match for tool names ("file_*").
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p, _ := pattern.Value().(string)
					n, _ := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// ip_in_cidr: checks whether an IP lies within a CIDR range.
		cel.Function("ip_in_cidr",
			cel.Overload("ip_in_cidr_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(ipVal, cidrVal ref.Val) ref.Val {
					ipStr, _ := ipVal.Value().(string)
					cidrStr, _ := cidrVal.Value().(string)
					ip := net.ParseIP(ipStr)
					if ip == nil {
						return types.Bool(false)
					}
					_, network, err := net.ParseCIDR(cidrStr)
					if err != nil {
						return types.Bool(false)
					}
					return types.Bool(network.Contains(ip))
				}),
			),
		),

		// domain_matches: glob match against a domain ("*.evil.example").
		cel.Function("domain_matches",
			cel.Overload("domain_matches_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(domainVal, patternVal ref.Val) ref.Val {
					domain, _ := domainVal.Value().(string)
					pattern, _ := patternVal.Value().(string)
					matched, _ := filepath.Match(pattern, domain)
					return types.Bool(matched)
				}),
			),
		),
	)
}

// Compile parses and type-checks an expression into a runnable program.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return prg, nil
}

// ValidateExpression checks an operator-supplied expression against the
// safety limits and compiles it.
func (e *Evaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	if _, err := e.Compile(expr); err != nil {
		return fmt.Errorf("invalid CEL expression: %w", err)
	}
	return nil
}

// validateNesting bounds parenthesis/bracket/brace nesting depth.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// Evaluate runs a compiled program against a policy context. Non-boolean
// results and evaluation errors are reported as errors; the policy engine
// converts them to a deny.
func (e *Evaluator) Evaluate(prg cel.Program, pctx *policy.Context) (bool, error) {
	activation := buildActivation(pctx)

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}
	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}
	return boolResult, nil
}

// buildActivation flattens a policy context into CEL variables.
func buildActivation(pctx *policy.Context) map[string]interface{} {
	params := pctx.What.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}
	return map[string]interface{}{
		"user_id":        pctx.Who.UserID,
		"role":           pctx.Who.Role,
		"pairing_status": pctx.Who.PairingStatus,
		"agent_id":       pctx.Who.AgentID,

		"tool":       pctx.What.Tool,
		"action":     pctx.What.Action,
		"parameters": params,

		"domain":    pctx.Where.Domain,
		"ip":        pctx.Where.IP,
		"file_path": pctx.Where.FilePath,
		"channel":   pctx.Where.Channel,
		"url":       pctx.Where.URL,

		"is_destructive":   pctx.Risk.IsDestructive,
		"is_external":      pctx.Risk.IsExternal,
		"accesses_secrets": pctx.Risk.AccessesSecrets,
		"modifies_config":  pctx.Risk.ModifiesConfig,
		"sends_data":       pctx.Risk.SendsData,

		"tokens_used":     pctx.Budget.TokensUsed,
		"tool_calls_used": int64(pctx.Budget.ToolCallsUsed),
		"cost_usd":        pctx.Budget.CostUSD,
	}
}
