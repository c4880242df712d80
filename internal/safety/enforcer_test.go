package safety

import (
	"strings"
	"testing"

	"github.com/ayureze/astra/internal/capability"
)

func newTestEnforcer(t *testing.T) *Enforcer {
	t.Helper()
	cat, err := capability.DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	return NewEnforcer(cat, FirstSelector)
}

func TestEmergencyIsMandatoryRefusal(t *testing.T) {
	e := newTestEnforcer(t)
	v := e.Enforce("I have chest pain and can't breathe", capability.EmergencyRedirect, capability.ClassD)
	if v.Safe {
		t.Fatal("expected unsafe verdict")
	}
	if !v.HardStop || !v.Handoff {
		t.Fatalf("expected hard_stop and handoff, got %+v", v)
	}
	if v.RefusalCode != "REF_EMERG_001" {
		t.Fatalf("unexpected refusal code %s", v.RefusalCode)
	}
	if !strings.Contains(v.Message, "108") {
		t.Fatalf("expected emergency number in message, got %q", v.Message)
	}
}

func TestClassCRefusalKeyMapping(t *testing.T) {
	e := newTestEnforcer(t)
	tests := []struct {
		capability string
		code       string
	}{
		{"DIAGNOSIS", "REF_DIAG_001"},
		{"PRESCRIPTION", "REF_MED_001"},
		{"TREATMENT_MODIFICATION", "REF_DOSE_001"},
		{"SOMETHING_ELSE", "REF_GEN_002"},
	}
	for _, tt := range tests {
		v := e.Enforce("anything", tt.capability, capability.ClassC)
		if v.Safe {
			t.Errorf("%s: expected refusal", tt.capability)
		}
		if v.RefusalCode != tt.code {
			t.Errorf("%s: expected %s, got %s", tt.capability, tt.code, v.RefusalCode)
		}
		if v.HardStop {
			t.Errorf("%s: class C refusal should not hard stop", tt.capability)
		}
	}
}

func TestRefusalBypassesPatternChecks(t *testing.T) {
	e := newTestEnforcer(t)
	// Harmless text still refused for class D.
	v := e.Enforce("hello there", "ANY", capability.ClassD)
	if v.Safe || v.RefusalCode != "REF_EMERG_001" {
		t.Fatalf("expected class fallback refusal, got %+v", v)
	}
}

func TestDefaultRefusalWhenLibraryEmpty(t *testing.T) {
	cat, err := capability.ParseConfig([]byte(`
capabilities:
  - name: GENERAL_WELLNESS_CHAT
    intent_class: A
  - name: EMERGENCY_REDIRECT
    intent_class: D
`))
	if err != nil {
		t.Fatal(err)
	}
	e := NewEnforcer(cat, nil)
	v := e.Enforce("x", "DIAGNOSIS", capability.ClassC)
	if v.RefusalCode != CodeDefaultRefusal || !v.Handoff || v.HardStop {
		t.Fatalf("unexpected default refusal: %+v", v)
	}
	if v.Message != defaultRefusalMessage {
		t.Fatalf("unexpected message %q", v.Message)
	}
}

func TestSelectorChoosesMessage(t *testing.T) {
	cat, err := capability.DefaultConfig()
	if err != nil {
		t.Fatal(err)
	}
	entry := cat.RefusalLibrary[capability.ClassC]["DIAGNOSIS_CONFIRMATION"]
	last := func(n int) int { return n - 1 }
	v := NewEnforcer(cat, last).Enforce("x", "DIAGNOSIS", capability.ClassC)
	if v.Message != entry.Messages[len(entry.Messages)-1] {
		t.Fatalf("selector ignored: %q", v.Message)
	}
	outOfRange := func(int) int { return 99 }
	v = NewEnforcer(cat, outOfRange).Enforce("x", "DIAGNOSIS", capability.ClassC)
	if v.Message != entry.Messages[0] {
		t.Fatalf("out of range selector should fall back to first, got %q", v.Message)
	}
	for i := 0; i < 20; i++ {
		v := NewEnforcer(cat, nil).Enforce("x", "DIAGNOSIS", capability.ClassC)
		if v.RefusalCode != "REF_DIAG_001" {
			t.Fatalf("random selection changed refusal code: %s", v.RefusalCode)
		}
	}
}

func TestCapabilityRulesOnly(t *testing.T) {
	e := newTestEnforcer(t)
	// HERB_INFORMATION declares no_dosage_recommendation, not no_diagnosis.
	v := e.Enforce("do i have low vata", "HERB_INFORMATION", capability.ClassB)
	if !v.Safe {
		t.Fatalf("expected safe verdict for undeclared rule, got %+v", v)
	}
	v = e.Enforce("how many mg should I use", "HERB_INFORMATION", capability.ClassB)
	if v.Safe {
		t.Fatal("expected dosage violation")
	}
	if v.RefusalCode != CodeSafetyRuleViolation {
		t.Fatalf("unexpected code %s", v.RefusalCode)
	}
	if len(v.Violations) != 1 || v.Violations[0] != "no_dosage_recommendation" {
		t.Fatalf("unexpected violations %v", v.Violations)
	}
	if !strings.Contains(v.Message, "dosage") {
		t.Fatalf("expected rule replacement, got %q", v.Message)
	}
}

func TestUnknownCapabilityChecksAllRules(t *testing.T) {
	e := newTestEnforcer(t)
	v := e.Enforce("am I suffering from something", "UNKNOWN", capability.ClassA)
	if v.Safe {
		t.Fatal("expected violation against all rules")
	}
	if v.Violations[0] != "no_diagnosis" {
		t.Fatalf("unexpected first violation %v", v.Violations)
	}
}

func TestCapabilityWithoutRulesIsSafe(t *testing.T) {
	e := newTestEnforcer(t)
	v := e.Enforce("am I suffering from something", capability.AppointmentBooking, capability.ClassA)
	if !v.Safe {
		t.Fatalf("expected safe verdict, got %+v", v)
	}
}
