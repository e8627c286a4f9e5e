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
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"

	"github.com/openmission/openmission/pkg/engine"
	"github.com/openmission/openmission/pkg/telemetry"
)

// Engine evaluates mission definitions against loaded policies.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   *telemetry.Logger
	builtin  []Policy
}

// compiledPolicy is a policy with its parsed Rego module.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies
// loaded. A nil logger disables policy logging.
func NewEngine(logger *telemetry.Logger) (*Engine, error) {
	if logger != nil {
		logger = logger.NewComponentLogger("policy-engine")
	}

	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.New(),
		logger:   logger,
		builtin:  GetBuiltinPolicies(),
	}
	if err := e.loadBuiltin(); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	return e, nil
}

// EvaluateMission evaluates every enabled policy against a resolved
// mission definition. A policy that fails to evaluate is reported as a
// warning and never blocks the mission; only violations with a
// blocking severity do.
func (e *Engine) EvaluateMission(ctx context.Context, def *engine.MissionDefinition, evalCtx *EvalContext) (*Result, error) {
	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	if evalCtx == nil {
		evalCtx = &EvalContext{}
	}
	if evalCtx.Timestamp.IsZero() {
		evalCtx.Timestamp = start
	}
	input := &Input{Mission: def, Context: evalCtx}

	var violations []Violation
	var warnings []string
	evaluated := make([]string, 0, len(e.policies))

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		evaluated = append(evaluated, cp.policy.Name)

		found, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			if e.logger != nil {
				e.logger.WithError(err).WithField("policy", cp.policy.Name).
					Error("policy evaluation failed")
			}
			warnings = append(warnings, fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		violations = append(violations, found...)
	}

	allowed := true
	for i := range violations {
		if violations[i].Severity.Blocks() {
			allowed = false
			break
		}
	}

	result := &Result{
		Allowed:           allowed,
		Violations:        violations,
		Warnings:          warnings,
		EvaluatedPolicies: evaluated,
		EvaluatedAt:       time.Now(),
		Duration:          time.Since(start),
	}

	if e.logger != nil {
		e.logger.WithMissionID(def.Name).
			WithField("violations", len(violations)).
			WithField("allowed", allowed).
			Debug("mission policy evaluation completed")
	}
	return result, nil
}

// LoadPolicies loads and compiles policy files from the given paths,
// adding them to the engine.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.compileAndStore(&policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	if e.logger != nil {
		e.logger.WithField("count", len(policies)).Info("policies loaded")
	}
	return nil
}

// ReplacePolicies swaps the full policy set for the built-ins plus the
// given policies. Used by hot reload so removed files drop out.
func (e *Engine) ReplacePolicies(policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	if err := e.loadBuiltin(); err != nil {
		return err
	}
	for i := range policies {
		if err := e.compileAndStore(&policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	if e.logger != nil {
		e.logger.WithField("policy", name).WithField("enabled", enabled).
			Info("policy toggled")
	}
	return nil
}

// sortedNames returns policy names in stable order so evaluation and
// listing are deterministic. Callers hold at least a read lock.
func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// evaluatePolicy runs one policy's deny query against the input.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	query := fmt.Sprintf("data.%s.deny", extractPackageName(cp.policy.Rego))

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Store(e.store),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, e.toViolation(cp.policy, d))
			}
		}
	}
	return violations, nil
}

// toViolation converts one deny result into a Violation. A result may
// be a bare message string or an object with message, severity, and
// thread fields; missing fields fall back to the policy's defaults.
func (e *Engine) toViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:     policy.Name,
		Severity:   policy.Severity,
		DetectedAt: time.Now(),
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if thread, ok := v["thread"].(string); ok {
			violation.ThreadID = thread
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}
	return violation
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(code string) string {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "openmission.policies"
}

// compileAndStore parses a policy's Rego module and registers it.
// Callers hold the write lock.
func (e *Engine) compileAndStore(policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		compiled: time.Now(),
	}

	if e.logger != nil {
		e.logger.WithField("policy", policy.Name).Debug("policy compiled")
	}
	return nil
}

func (e *Engine) loadBuiltin() error {
	for i := range e.builtin {
		if err := e.compileAndStore(&e.builtin[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtin[i].Name, err)
		}
	}
	return nil
}
