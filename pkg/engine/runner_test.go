package engine

import (
	"context"
	"testing"
	"time"
)

func newTestRunner(client InstrumentClient, clock Clock, handling ErrorHandling) *SequenceRunner {
	dispatcher := NewClientDispatcher(client, 5*time.Second, "run-1", nil, nil, nil, nil)
	return NewSequenceRunner("run-1", "0", handling, dispatcher, clock, nil, nil, nil)
}

func TestRunnerCompletesInOrder(t *testing.T) {
	client := newMockClient()
	runner := newTestRunner(client, newTestClock(), ErrorHandling{Default: PolicyAbort})

	seq := mustParseSeq(
		"SBE37_SIM_02, CLOCK_SYNC",
		"SBE37_SIM_02, execute_resource(START_AUTOSAMPLE)",
		"SBE37_SIM_02, execute_resource(STOP_AUTOSAMPLE)",
	)
	res := runner.Run(context.Background(), PhaseMain, seq)

	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v, want completed", res.Outcome)
	}
	calls := client.callLog()
	if len(calls) != 3 {
		t.Fatalf("dispatched %d calls, want 3", len(calls))
	}
	wantVerbs := []string{"CLOCK_SYNC", "execute_resource", "execute_resource"}
	for i, c := range calls {
		if c.verb != wantVerbs[i] {
			t.Errorf("call %d verb = %q, want %q", i, c.verb, wantVerbs[i])
		}
	}
}

func TestRunnerRetriesExactlyMaxThenAborts(t *testing.T) {
	client := newMockClient()
	client.failures["execute_resource"] = -1 // fails forever
	runner := newTestRunner(client, newTestClock(), ErrorHandling{Default: PolicyRetry, MaxRetries: 3})

	seq := mustParseSeq("SBE37_SIM_02, execute_resource(START_AUTOSAMPLE)")
	res := runner.Run(context.Background(), PhaseMain, seq)

	if res.Outcome != OutcomeAborted {
		t.Fatalf("outcome = %v, want aborted", res.Outcome)
	}
	if res.AbortedAt != 0 {
		t.Errorf("aborted at step %d, want 0", res.AbortedAt)
	}
	// Initial attempt plus exactly maxRetries re-issues.
	if got := client.callCount("execute_resource"); got != 4 {
		t.Errorf("dispatch count = %d, want 4", got)
	}
	if res.Retries != 3 {
		t.Errorf("recorded retries = %d, want 3", res.Retries)
	}
}

func TestRunnerRetryReissuesSameStep(t *testing.T) {
	client := newMockClient()
	client.failures["set_resource"] = 2
	runner := newTestRunner(client, newTestClock(), ErrorHandling{Default: PolicyRetry, MaxRetries: 5})

	seq := mustParseSeq(
		"SBE37_SIM_02, set_resource{INTERVAL, 10}",
		"SBE37_SIM_02, execute_resource(ACQUIRE_SAMPLE)",
	)
	res := runner.Run(context.Background(), PhaseMain, seq)

	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v, want completed", res.Outcome)
	}
	if got := client.callCount("set_resource"); got != 3 {
		t.Errorf("set_resource dispatched %d times, want 3", got)
	}
	if got := client.callCount("execute_resource"); got != 1 {
		t.Errorf("execute_resource dispatched %d times, want 1", got)
	}
}

func TestRunnerSkipAdvancesAndRecords(t *testing.T) {
	client := newMockClient()
	client.failures["execute_resource"] = -1
	runner := newTestRunner(client, newTestClock(), ErrorHandling{Default: PolicyRetry, MaxRetries: 3})

	seq := Sequence{
		mustParse("SBE37_SIM_02, CLOCK_SYNC"),
		func() CommandStep {
			s := mustParse("SBE37_SIM_02, execute_resource(ACQUIRE_SAMPLE)")
			s.OnError = PolicySkip
			return s
		}(),
		mustParse("SBE37_SIM_02, CLOCK_SYNC"),
	}
	res := runner.Run(context.Background(), PhaseMain, seq)

	if res.Outcome != OutcomePartiallySkipped {
		t.Fatalf("outcome = %v, want partially skipped", res.Outcome)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != 1 {
		t.Errorf("skipped = %v, want [1]", res.Skipped)
	}
	// Skip ignores retry counters: one failed attempt, no retries.
	if got := client.callCount("execute_resource"); got != 1 {
		t.Errorf("skipped step dispatched %d times, want 1", got)
	}
	if got := client.callCount("CLOCK_SYNC"); got != 2 {
		t.Errorf("surrounding steps dispatched %d times, want 2", got)
	}
}

func TestRunnerAbortStopsRemainingSteps(t *testing.T) {
	client := newMockClient()
	client.failures["execute_resource"] = -1
	runner := newTestRunner(client, newTestClock(), ErrorHandling{Default: PolicyAbort})

	seq := mustParseSeq(
		"SBE37_SIM_02, execute_resource(START_AUTOSAMPLE)",
		"SBE37_SIM_02, CLOCK_SYNC",
	)
	res := runner.Run(context.Background(), PhaseMain, seq)

	if res.Outcome != OutcomeAborted {
		t.Fatalf("outcome = %v, want aborted", res.Outcome)
	}
	if got := client.callCount("CLOCK_SYNC"); got != 0 {
		t.Errorf("steps after abort dispatched %d times, want 0", got)
	}
	if !IsTransient(res.Err) {
		t.Errorf("aborting error not a dispatch error: %v", res.Err)
	}
}

func TestRunnerWaitUsesClock(t *testing.T) {
	client := newMockClient()
	clock := newTestClock()
	runner := newTestRunner(client, clock, ErrorHandling{Default: PolicyAbort})

	seq := mustParseSeq(
		"SBE37_SIM_02, execute_resource(START_AUTOSAMPLE)",
		"wait(1)",
		"SBE37_SIM_02, execute_resource(STOP_AUTOSAMPLE)",
	)
	res := runner.Run(context.Background(), PhaseMain, seq)

	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v, want completed", res.Outcome)
	}
	if clock.sleptTotal() != time.Second {
		t.Errorf("slept %v, want 1s", clock.sleptTotal())
	}
	if got := client.callCount("execute_resource"); got != 2 {
		t.Errorf("dispatch count = %d, want 2", got)
	}
}

func TestRunnerCancelledAtStepBoundary(t *testing.T) {
	client := newMockClient()
	runner := newTestRunner(client, newTestClock(), ErrorHandling{Default: PolicyRetry, MaxRetries: 3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	seq := mustParseSeq("SBE37_SIM_02, CLOCK_SYNC")
	res := runner.Run(ctx, PhaseMain, seq)

	if res.Outcome != OutcomeAborted {
		t.Fatalf("outcome = %v, want aborted", res.Outcome)
	}
	if len(client.callLog()) != 0 {
		t.Errorf("dispatched %d calls after cancel, want 0", len(client.callLog()))
	}
}

func TestRunnerEmptySequenceCompletes(t *testing.T) {
	runner := newTestRunner(newMockClient(), newTestClock(), ErrorHandling{Default: PolicyAbort})
	res := runner.Run(context.Background(), PhasePre, nil)
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v, want completed", res.Outcome)
	}
}
