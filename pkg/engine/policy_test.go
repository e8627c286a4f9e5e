package engine

import "testing"

func TestResolvePolicy(t *testing.T) {
	tests := []struct {
		name          string
		override      Policy
		threadDefault Policy
		want          Policy
	}{
		{"override wins", PolicySkip, PolicyRetry, PolicySkip},
		{"unset inherits default", PolicyUnset, PolicyRetry, PolicyRetry},
		{"unset default falls back to abort", PolicyUnset, PolicyUnset, PolicyAbort},
		{"abort override", PolicyAbort, PolicySkip, PolicyAbort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := CommandStep{OnError: tt.override}
			if got := ResolvePolicy(step, tt.threadDefault); got != tt.want {
				t.Errorf("ResolvePolicy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecideRetryWithinCeiling(t *testing.T) {
	for i := 0; i < 3; i++ {
		action, err := Decide(PolicyRetry, i, 3)
		if err != nil {
			t.Fatalf("Decide: %v", err)
		}
		if action != ActionRetry {
			t.Errorf("Decide(retry, %d, 3) = %v, want retry", i, action)
		}
	}
}

func TestDecideRetryExhaustionEscalatesToAbort(t *testing.T) {
	action, err := Decide(PolicyRetry, 3, 3)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if action != ActionAbort {
		t.Errorf("Decide(retry, 3, 3) = %v, want abort", action)
	}
}

func TestDecideRetryZeroCeiling(t *testing.T) {
	action, err := Decide(PolicyRetry, 0, 0)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if action != ActionAbort {
		t.Errorf("Decide(retry, 0, 0) = %v, want abort", action)
	}
}

func TestDecideSkipIgnoresCounters(t *testing.T) {
	for _, retries := range []int{0, 5, 100} {
		action, err := Decide(PolicySkip, retries, 3)
		if err != nil {
			t.Fatalf("Decide: %v", err)
		}
		if action != ActionSkip {
			t.Errorf("Decide(skip, %d, 3) = %v, want skip", retries, action)
		}
	}
}

func TestDecideAbort(t *testing.T) {
	action, err := Decide(PolicyAbort, 0, 3)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if action != ActionAbort {
		t.Errorf("Decide(abort, 0, 3) = %v, want abort", action)
	}
}

func TestDecideUnresolvedPolicy(t *testing.T) {
	action, err := Decide(PolicyUnset, 0, 3)
	if err == nil {
		t.Fatal("Decide(unset) succeeded, want error")
	}
	if action != ActionAbort {
		t.Errorf("Decide(unset) = %v, want abort as the safe fallback", action)
	}
}
