package engine

import "fmt"

// Action is the policy engine's decision after a step failure.
type Action string

const (
	// ActionRetry re-issues the same step.
	ActionRetry Action = "retry"

	// ActionSkip records the failure and advances to the next step.
	ActionSkip Action = "skip"

	// ActionAbort terminates the enclosing phase immediately.
	ActionAbort Action = "abort"
)

// ResolvePolicy returns the effective policy for a step: the step's
// onError override when set, otherwise the thread default. A missing
// thread default resolves to abort, the strictest choice.
func ResolvePolicy(step CommandStep, threadDefault Policy) Policy {
	if step.OnError != PolicyUnset {
		return step.OnError
	}
	if threadDefault == PolicyUnset {
		return PolicyAbort
	}
	return threadDefault
}

// Decide maps a step failure to an action. For the retry policy,
// retriesSoFar counts attempts already spent on this step instance;
// once the ceiling is reached the decision escalates to abort; a
// retry budget is a hard ceiling, not a downgrade to skip.
func Decide(policy Policy, retriesSoFar, maxRetries int) (Action, error) {
	switch policy {
	case PolicyRetry:
		if retriesSoFar < maxRetries {
			return ActionRetry, nil
		}
		return ActionAbort, nil
	case PolicySkip:
		return ActionSkip, nil
	case PolicyAbort:
		return ActionAbort, nil
	default:
		return ActionAbort, fmt.Errorf("unresolved error policy: %q", policy)
	}
}
