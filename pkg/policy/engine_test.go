package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmission/openmission/pkg/engine"
)

func testMission(threads ...engine.ThreadDefinition) *engine.MissionDefinition {
	return &engine.MissionDefinition{
		Name:       "test_mission",
		Version:    "1.0",
		PlatformID: "RSN_PLATFORM_01",
		Threads:    threads,
	}
}

func testThread(id string) engine.ThreadDefinition {
	return engine.ThreadDefinition{
		ID:            id,
		Instruments:   []string{"SBE37_SIM_02"},
		ErrorHandling: engine.ErrorHandling{Default: engine.PolicyRetry, MaxRetries: 3},
		Schedule: engine.Schedule{
			StartTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		Main: engine.Sequence{{
			Raw:        "SBE37_SIM_02, execute_resource(ACQUIRE_SAMPLE)",
			Instrument: "SBE37_SIM_02",
			Verb:       "execute_resource",
			Args:       []string{"ACQUIRE_SAMPLE"},
		}},
	}
}

func TestNewEngineLoadsBuiltins(t *testing.T) {
	eng, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("no built-in policies loaded")
	}

	expected := []string{
		"loop-bounds",
		"retry-ceiling",
		"instrument-naming",
		"destructive-commands",
	}
	for _, name := range expected {
		if _, err := eng.GetPolicy(name); err != nil {
			t.Errorf("built-in policy %s not loaded: %v", name, err)
		}
	}
}

func TestEvaluateMissionClean(t *testing.T) {
	eng, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	result, err := eng.EvaluateMission(context.Background(), testMission(testThread("0")), nil)
	if err != nil {
		t.Fatalf("EvaluateMission: %v", err)
	}
	if !result.Allowed {
		t.Errorf("clean mission blocked: %+v", result.Violations)
	}
	if len(result.Violations) != 0 {
		t.Errorf("violations = %+v, want none", result.Violations)
	}
	if len(result.EvaluatedPolicies) != 4 {
		t.Errorf("evaluated %d policies, want 4", len(result.EvaluatedPolicies))
	}
}

func TestEvaluateMissionInfiniteLoop(t *testing.T) {
	thread := testThread("0")
	thread.Schedule.Loop = engine.Loop{Quantity: -1, Value: 30, Units: engine.LoopUnitsMins}
	def := testMission(thread)

	eng, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	// Outside production an infinite loop is a warning only.
	result, err := eng.EvaluateMission(context.Background(), def, &EvalContext{Environment: "simulation"})
	if err != nil {
		t.Fatalf("EvaluateMission: %v", err)
	}
	if !result.Allowed {
		t.Errorf("infinite loop blocked outside production: %+v", result.Violations)
	}
	if len(result.Violations) != 1 || result.Violations[0].Severity != SeverityWarning {
		t.Errorf("violations = %+v, want one warning", result.Violations)
	}
	if result.Violations[0].ThreadID != "0" {
		t.Errorf("violation thread = %q, want 0", result.Violations[0].ThreadID)
	}

	// In production it blocks.
	result, err = eng.EvaluateMission(context.Background(), def, &EvalContext{Environment: "production"})
	if err != nil {
		t.Fatalf("EvaluateMission: %v", err)
	}
	if result.Allowed {
		t.Error("infinite loop allowed in production")
	}
	if len(result.Blocking()) == 0 {
		t.Errorf("no blocking violations: %+v", result.Violations)
	}
}

func TestEvaluateMissionRetryCeiling(t *testing.T) {
	thread := testThread("0")
	thread.ErrorHandling.MaxRetries = 50
	def := testMission(thread)

	eng, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	result, err := eng.EvaluateMission(context.Background(), def, nil)
	if err != nil {
		t.Fatalf("EvaluateMission: %v", err)
	}
	if result.Allowed {
		t.Error("retry ceiling of 50 allowed")
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "retry-ceiling" && v.Severity == SeverityError {
			found = true
		}
	}
	if !found {
		t.Errorf("no retry-ceiling violation in %+v", result.Violations)
	}
}

func TestEvaluateMissionInstrumentNaming(t *testing.T) {
	thread := testThread("0")
	thread.Instruments = []string{"sbe37-lowercase"}
	def := testMission(thread)

	eng, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	result, err := eng.EvaluateMission(context.Background(), def, nil)
	if err != nil {
		t.Fatalf("EvaluateMission: %v", err)
	}
	if result.Allowed {
		t.Error("lowercase instrument ID allowed")
	}
}

func TestEvaluateMissionDestructiveCommands(t *testing.T) {
	thread := testThread("0")
	thread.Post = engine.Sequence{{
		Raw:        "SBE37_SIM_02, FACTORY_RESET",
		Instrument: "SBE37_SIM_02",
		Verb:       "FACTORY_RESET",
	}}
	def := testMission(thread)

	eng, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	result, err := eng.EvaluateMission(context.Background(), def, &EvalContext{Environment: "production"})
	if err != nil {
		t.Fatalf("EvaluateMission: %v", err)
	}
	if result.Allowed {
		t.Error("destructive command allowed in production")
	}
	found := false
	for _, v := range result.Violations {
		if v.Policy == "destructive-commands" && v.Severity == SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Errorf("no destructive-commands violation in %+v", result.Violations)
	}

	// A dry-run validation pass is allowed through.
	result, err = eng.EvaluateMission(context.Background(), def, &EvalContext{Environment: "production", DryRun: true})
	if err != nil {
		t.Fatalf("EvaluateMission: %v", err)
	}
	if !result.Allowed {
		t.Errorf("dry run blocked: %+v", result.Violations)
	}
}

func TestDisablePolicy(t *testing.T) {
	thread := testThread("0")
	thread.ErrorHandling.MaxRetries = 50
	def := testMission(thread)

	eng, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if err := eng.DisablePolicy("retry-ceiling"); err != nil {
		t.Fatalf("DisablePolicy: %v", err)
	}

	result, err := eng.EvaluateMission(context.Background(), def, nil)
	if err != nil {
		t.Fatalf("EvaluateMission: %v", err)
	}
	for _, v := range result.Violations {
		if v.Policy == "retry-ceiling" {
			t.Error("disabled policy still produced violations")
		}
	}

	if err := eng.EnablePolicy("retry-ceiling"); err != nil {
		t.Fatalf("EnablePolicy: %v", err)
	}
	result, err = eng.EvaluateMission(context.Background(), def, nil)
	if err != nil {
		t.Fatalf("EvaluateMission: %v", err)
	}
	if result.Allowed {
		t.Error("re-enabled policy did not block")
	}
}

func TestLoadPoliciesFromFile(t *testing.T) {
	dir := t.TempDir()
	regoPath := filepath.Join(dir, "require-version.rego")
	const custom = `# Missions must declare a definition version.
package openmission.policies.version

import rego.v1

deny contains violation if {
	input.mission.version == ""
	violation := {
		"message": "mission must declare a version",
		"severity": "error",
	}
}
`
	if err := os.WriteFile(regoPath, []byte(custom), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	eng, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}

	loaded, err := eng.GetPolicy("require-version")
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if loaded.Description == "" {
		t.Error("description not extracted from leading comment")
	}

	def := testMission(testThread("0"))
	def.Version = ""
	result, err := eng.EvaluateMission(context.Background(), def, nil)
	if err != nil {
		t.Fatalf("EvaluateMission: %v", err)
	}
	if result.Allowed {
		t.Error("versionless mission allowed by custom policy")
	}
}

func TestListPoliciesFields(t *testing.T) {
	eng, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	for _, p := range eng.ListPolicies() {
		if p.Name == "" {
			t.Error("policy has empty name")
		}
		if p.Rego == "" {
			t.Errorf("policy %s has empty Rego code", p.Name)
		}
		if p.Severity == "" {
			t.Errorf("policy %s has empty severity", p.Name)
		}
	}
}

func TestReplacePolicies(t *testing.T) {
	eng, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	builtinCount := len(eng.ListPolicies())

	extra := Policy{
		Name:     "extra",
		Rego:     "package openmission.policies.extra\n\nimport rego.v1\n",
		Severity: SeverityInfo,
		Enabled:  true,
	}
	if err := eng.ReplacePolicies([]Policy{extra}); err != nil {
		t.Fatalf("ReplacePolicies: %v", err)
	}
	if got := len(eng.ListPolicies()); got != builtinCount+1 {
		t.Errorf("policy count = %d, want %d", got, builtinCount+1)
	}

	if err := eng.ReplacePolicies(nil); err != nil {
		t.Fatalf("ReplacePolicies: %v", err)
	}
	if got := len(eng.ListPolicies()); got != builtinCount {
		t.Errorf("policy count after reset = %d, want %d", got, builtinCount)
	}
}
