// Package guard evaluates operator-supplied release policies. Policies
// are CEL boolean expressions checked before queue and execute commit;
// any rule returning false rejects the operation before state changes.
// An instance with no rules allows everything.
package guard

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/Custodia-Systems/timevault/pkg/contracts"
)

// Operation names visible to policy expressions as the `op` variable.
const (
	OpQueue   = "queue"
	OpExecute = "execute"
)

// Guard holds compiled release policies. Programs are compiled once and
// cached per expression.
type Guard struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
	rules    []string
}

// New compiles the environment for the given rules. Rule syntax errors
// surface on first evaluation, not here; an empty rule set is valid.
func New(rules ...string) (*Guard, error) {
	env, err := cel.NewEnv(
		cel.Variable("op", cel.StringType),
		cel.Variable("now", cel.IntType),
		cel.Variable("deposit", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("guard: create CEL environment: %w", err)
	}
	return &Guard{
		env:      env,
		prgCache: make(map[string]cel.Program),
		rules:    rules,
	}, nil
}

// Rules returns the configured policy expressions.
func (g *Guard) Rules() []string {
	out := make([]string, len(g.rules))
	copy(out, g.rules)
	return out
}

// Check evaluates every rule against the operation. Evaluation errors
// fail closed. A false verdict rejects with ErrGuardDenied.
func (g *Guard) Check(ctx context.Context, op string, dep contracts.Deposit, now int64) error {
	if g == nil || len(g.rules) == 0 {
		return nil
	}

	input := map[string]any{
		"op":  op,
		"now": now,
		"deposit": map[string]any{
			"id":                dep.ID.String(),
			"seq":               int64(dep.Seq),
			"description":       dep.Description,
			"from":              string(dep.From),
			"to":                string(dep.To),
			"amount":            dep.Amount,
			"release_timestamp": dep.ReleaseTimestamp,
			"claimed":           dep.Claimed,
		},
	}

	for i, rule := range g.rules {
		allowed, err := g.evaluateExpr(ctx, rule, input)
		if err != nil {
			return fmt.Errorf("guard: rule %d: %w", i, err)
		}
		if !allowed {
			return fmt.Errorf("%w: rule %d rejected %s of deposit %s", contracts.ErrGuardDenied, i, op, dep.ID)
		}
	}
	return nil
}

func (g *Guard) evaluateExpr(ctx context.Context, expr string, input map[string]any) (bool, error) {
	g.mu.RLock()
	prg, hit := g.prgCache[expr]
	g.mu.RUnlock()

	if !hit {
		g.mu.Lock()
		// Double check
		if prg, hit = g.prgCache[expr]; !hit {
			ast, issues := g.env.Compile(expr)
			if issues != nil && issues.Err() != nil {
				g.mu.Unlock()
				return false, fmt.Errorf("compile: %w", issues.Err())
			}
			p, err := g.env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				g.mu.Unlock()
				return false, fmt.Errorf("program: %w", err)
			}
			g.prgCache[expr] = p
			prg = p
		}
		g.mu.Unlock()
	}

	out, _, err := prg.ContextEval(ctx, input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}
