package engine

import (
	"testing"
	"time"
)

func TestParseCommandTargetVerbArgs(t *testing.T) {
	step, err := ParseCommand("SBE37_SIM_02, execute_resource(START_AUTOSAMPLE)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step.Instrument != "SBE37_SIM_02" {
		t.Errorf("instrument = %q, want SBE37_SIM_02", step.Instrument)
	}
	if step.Verb != "execute_resource" {
		t.Errorf("verb = %q, want execute_resource", step.Verb)
	}
	if len(step.Args) != 1 || step.Args[0] != "START_AUTOSAMPLE" {
		t.Errorf("args = %v, want [START_AUTOSAMPLE]", step.Args)
	}
	if step.IsWait() {
		t.Error("command step reported as wait")
	}
}

func TestParseCommandBraceArgs(t *testing.T) {
	step, err := ParseCommand("RSN_SIM_01, set_resource{INTERVAL, 10}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step.Verb != "set_resource" {
		t.Errorf("verb = %q, want set_resource", step.Verb)
	}
	if len(step.Args) != 2 || step.Args[0] != "INTERVAL" || step.Args[1] != "10" {
		t.Errorf("args = %v, want [INTERVAL 10]", step.Args)
	}
}

func TestParseCommandNoArgs(t *testing.T) {
	for _, token := range []string{
		"SBE37_SIM_02, CLOCK_SYNC",
		"SBE37_SIM_02, CLOCK_SYNC()",
	} {
		step, err := ParseCommand(token)
		if err != nil {
			t.Fatalf("ParseCommand(%q): %v", token, err)
		}
		if step.Verb != "CLOCK_SYNC" {
			t.Errorf("ParseCommand(%q) verb = %q", token, step.Verb)
		}
		if len(step.Args) != 0 {
			t.Errorf("ParseCommand(%q) args = %v, want none", token, step.Args)
		}
	}
}

func TestParseCommandUnknownVerbOpaque(t *testing.T) {
	step, err := ParseCommand("PLAT_01, made_up_verb(a, b, c)")
	if err != nil {
		t.Fatalf("unknown verb rejected: %v", err)
	}
	if step.Verb != "made_up_verb" {
		t.Errorf("verb = %q, want made_up_verb", step.Verb)
	}
	if len(step.Args) != 3 {
		t.Errorf("args = %v, want 3 values", step.Args)
	}
}

func TestParseCommandNoTarget(t *testing.T) {
	step, err := ParseCommand("execute_resource(ACQUIRE_SAMPLE)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step.Instrument != "" {
		t.Errorf("instrument = %q, want empty for loader binding", step.Instrument)
	}
	if step.Verb != "execute_resource" {
		t.Errorf("verb = %q", step.Verb)
	}
}

func TestParseWait(t *testing.T) {
	tests := []struct {
		token string
		want  time.Duration
	}{
		{"wait(5)", 5 * time.Second},
		{"wait(0.5)", 500 * time.Millisecond},
		{"wait()", time.Second},
		{"wait", time.Second},
	}
	for _, tt := range tests {
		step, err := ParseCommand(tt.token)
		if err != nil {
			t.Fatalf("ParseCommand(%q): %v", tt.token, err)
		}
		if !step.IsWait() {
			t.Errorf("ParseCommand(%q) not recognized as wait", tt.token)
		}
		if step.WaitDuration != tt.want {
			t.Errorf("ParseCommand(%q) duration = %v, want %v", tt.token, step.WaitDuration, tt.want)
		}
	}
}

func TestParseWaitCustomUnit(t *testing.T) {
	p := Parser{WaitUnit: time.Minute}
	step, err := p.Parse("wait(2)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step.WaitDuration != 2*time.Minute {
		t.Errorf("duration = %v, want 2m", step.WaitDuration)
	}
}

func TestParseCommandErrors(t *testing.T) {
	for _, token := range []string{
		"",
		"   ",
		", execute_resource(GO)",
		"SBE37_SIM_02,",
		"SBE37_SIM_02, (GO)",
		"SBE37_SIM_02, execute_resource(GO",
		"wait(-3)",
		"wait(abc)",
		"wait(1, 2)",
	} {
		_, err := ParseCommand(token)
		if err == nil {
			t.Errorf("ParseCommand(%q) succeeded, want error", token)
			continue
		}
		if !IsDefinition(err) {
			t.Errorf("ParseCommand(%q) error class = %v, want definition", token, err)
		}
	}
}

func TestParseCommandKeepsRawToken(t *testing.T) {
	raw := "SBE37_SIM_02, execute_resource(STOP_AUTOSAMPLE)"
	step, err := ParseCommand(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if step.Raw != raw {
		t.Errorf("raw = %q, want %q", step.Raw, raw)
	}
}
