// Package policy provides Rego-based admission control for mission
// definitions. A resolved mission is evaluated against a set of
// policies before the scheduler accepts it; policies can flag or block
// missions whose schedules, retry settings, or command content fall
// outside operational limits.
//
// The package ships built-in policies (loop bounds, retry ceilings,
// instrument naming, destructive command restrictions) and can load
// additional .rego or .json policy files from disk, with optional
// fsnotify-driven hot reload.
//
// Each policy is a Rego module whose deny rules yield violation
// objects. A violation with severity "error" or "critical" blocks the
// mission; "info" and "warning" violations are reported but do not
// block.
//
// Example:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//		return err
//	}
//	result, err := eng.EvaluateMission(ctx, def, &policy.EvalContext{
//		Environment: "production",
//	})
//	if err != nil {
//		return err
//	}
//	if !result.Allowed {
//		// refuse to start the run
//	}
package policy
