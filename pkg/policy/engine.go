package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// Engine holds compiled admission policies and evaluates resources
// against them. Each policy contributes the deny set of its package.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy *Policy
	pkg    string
	query  rego.PreparedEvalQuery
}

// compile parses p and prepares the query for data.<package>.deny.
func compile(ctx context.Context, p *Policy) (*compiledPolicy, error) {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	pkg := module.Package.Path.String()

	query, err := rego.New(
		rego.Query(pkg+".deny"),
		rego.ParsedModule(module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}
	return &compiledPolicy{policy: p, pkg: strings.TrimPrefix(pkg, "data."), query: query}, nil
}

// NewEngine returns an engine holding the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{logger: logger.With().Str("component", "policy-engine").Logger()}
	if err := e.resetToBuiltins(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

// resetToBuiltins replaces every policy with the built-in set. Callers
// hold the write lock or own e exclusively.
func (e *Engine) resetToBuiltins(ctx context.Context) error {
	policies := make(map[string]*compiledPolicy)
	for _, p := range GetBuiltinPolicies() {
		p := p
		cp, err := compile(ctx, &p)
		if err != nil {
			return fmt.Errorf("built-in policy %s: %w", p.Name, err)
		}
		policies[p.Name] = cp
	}
	e.policies = policies
	e.logger.Debug().Int("count", len(policies)).Msg("Built-in policies loaded")
	return nil
}

// LoadPolicies reads policy files and directories and adds them.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.AddPolicies(ctx, policies)
}

// AddPolicies compiles policies and stores them by name, replacing any
// policy of the same name. Nothing is stored when one fails to compile.
func (e *Engine) AddPolicies(ctx context.Context, policies []Policy) error {
	compiled := make([]*compiledPolicy, 0, len(policies))
	for i := range policies {
		cp, err := compile(ctx, &policies[i])
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		e.logger.Debug().Str("policy", cp.policy.Name).Str("package", cp.pkg).Msg("Policy compiled")
		compiled = append(compiled, cp)
	}

	e.mu.Lock()
	for _, cp := range compiled {
		e.policies[cp.policy.Name] = cp
	}
	e.mu.Unlock()

	e.logger.Info().Int("count", len(compiled)).Msg("Policies loaded")
	return nil
}

// ReplacePolicies keeps only the built-ins and adds policies on top. The
// watcher calls it with the full set whenever a policy file changes.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	err := e.resetToBuiltins(ctx)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	return e.AddPolicies(ctx, policies)
}

// Evaluate runs every enabled policy against input in name order. Blocking
// violations deny admission; the rest become warnings. A policy that fails
// to evaluate is logged and skipped.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Decision, error) {
	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	decision := &Decision{Allowed: true, EvaluatedPolicies: []string{}}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		decision.EvaluatedPolicies = append(decision.EvaluatedPolicies, name)

		results, err := cp.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("resource", input.Resource.Name).
				Msg("Policy evaluation failed")
			continue
		}

		for _, v := range violationsFrom(cp.policy, input.Resource.Name, results) {
			if v.Severity.Blocking() {
				decision.Allowed = false
				decision.Violations = append(decision.Violations, v)
			} else {
				decision.Warnings = append(decision.Warnings, v)
			}
		}
	}

	decision.Duration = time.Since(start)
	return decision, nil
}

// violationsFrom turns the members of a deny set into violations. Members
// are messages, or objects carrying "message" and optionally "severity".
func violationsFrom(p *Policy, resource string, results rego.ResultSet) []Violation {
	var out []Violation
	for _, r := range results {
		if len(r.Expressions) == 0 {
			continue
		}
		members, _ := r.Expressions[0].Value.([]interface{})
		for _, m := range members {
			v := Violation{Policy: p.Name, Resource: resource, Severity: p.Severity}
			switch m := m.(type) {
			case string:
				v.Message = m
			case map[string]interface{}:
				v.Message, _ = m["message"].(string)
				if sev, ok := m["severity"].(string); ok {
					v.Severity = Severity(sev)
				}
			default:
				v.Message = fmt.Sprint(m)
			}
			out = append(out, v)
		}
	}
	return out
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) lookup(name string) (*compiledPolicy, error) {
	cp, ok := e.policies[name]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp, nil
}

func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cp, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	return cp.policy, nil
}

// ListPolicies returns copies of all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		out = append(out, *e.policies[name].policy)
	}
	return out
}

func (e *Engine) EnablePolicy(name string) error  { return e.setEnabled(name, true) }
func (e *Engine) DisablePolicy(name string) error { return e.setEnabled(name, false) }

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp, err := e.lookup(name)
	if err != nil {
		return err
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}
