package capability

import (
	"testing"
)

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	cat, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	a, err := NewAgent(cat)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	return a
}

func TestIdentifyEmergencyWinsOverEverything(t *testing.T) {
	a := newTestAgent(t)
	inputs := []string{
		"I have chest pain and can't breathe",
		"I have chest pain, please prescribe something",
		"Do I have a stroke? book appointment",
		"SEVERE BLEEDING after a fall",
		"I can’t breathe properly",
		"my friend is unconscious, what dosha is that",
	}
	for _, in := range inputs {
		c := a.Identify(in)
		if c.Capability != EmergencyRedirect {
			t.Errorf("%q: expected %s, got %s", in, EmergencyRedirect, c.Capability)
		}
		if c.IntentClass != ClassD {
			t.Errorf("%q: expected CLASS_D, got %s", in, c.IntentClass)
		}
		if c.Confidence != 1.0 {
			t.Errorf("%q: expected confidence 1.0, got %v", in, c.Confidence)
		}
		if c.MatchedTrigger != "emergency" {
			t.Errorf("%q: expected trigger emergency, got %q", in, c.MatchedTrigger)
		}
	}
}

func TestIdentifySelfHarmButNotPlainRequestsForHelp(t *testing.T) {
	a := newTestAgent(t)
	if c := a.Identify("I want to kill myself"); c.Capability != EmergencyRedirect {
		t.Fatalf("expected %s for self-harm statement, got %s", EmergencyRedirect, c.Capability)
	}
	if c := a.Identify("can you help me book an appointment"); c.Capability == EmergencyRedirect {
		t.Fatal("an ordinary request for help must not be treated as an emergency")
	}
}

func TestIdentifyForbiddenCapabilities(t *testing.T) {
	a := newTestAgent(t)
	tests := []struct {
		in   string
		want string
	}{
		{"Can you diagnose my rash?", "DIAGNOSIS"},
		{"Please prescribe something for my cough", "PRESCRIPTION"},
		{"Should I stop taking my BP tablets", "TREATMENT_MODIFICATION"},
		{"do i have diabetes", "DIAGNOSIS"},
	}
	for _, tt := range tests {
		c := a.Identify(tt.in)
		if c.Capability != tt.want {
			t.Errorf("%q: expected %s, got %s", tt.in, tt.want, c.Capability)
		}
		if !c.Forbidden {
			t.Errorf("%q: expected forbidden=true", tt.in)
		}
		if c.Confidence != 1.0 {
			t.Errorf("%q: expected confidence 1.0, got %v", tt.in, c.Confidence)
		}
		if c.RedirectTo != AppointmentBooking {
			t.Errorf("%q: expected redirect to %s, got %s", tt.in, AppointmentBooking, c.RedirectTo)
		}
		if c.Reason == "" {
			t.Errorf("%q: expected a reason", tt.in)
		}
	}
}

func TestIdentifyForbiddenTriggerRespectsWordBoundary(t *testing.T) {
	a := newTestAgent(t)
	c := a.Identify("my prescriptions please")
	if c.Forbidden {
		t.Fatalf("expected non-forbidden match, got %+v", c)
	}
	if c.Capability != "PRESCRIPTION_VIEW" {
		t.Fatalf("expected PRESCRIPTION_VIEW, got %s", c.Capability)
	}
}

func TestIdentifyTriggerPriority(t *testing.T) {
	a := newTestAgent(t)
	// "sleep" (priority 5) and "appointment" (priority 2) both match.
	c := a.Identify("I want an appointment about my sleep")
	if c.Capability != AppointmentBooking {
		t.Fatalf("expected lower priority number to win, got %s", c.Capability)
	}
	if c.Confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %v", c.Confidence)
	}
	if c.MatchedTrigger == "" {
		t.Fatal("expected matched trigger")
	}
}

func TestIdentifyDefault(t *testing.T) {
	a := newTestAgent(t)
	c := a.Identify("tell me something nice")
	if c.Capability != GeneralWellnessChat || c.IntentClass != ClassA {
		t.Fatalf("expected default capability, got %+v", c)
	}
	if c.Confidence != 0.7 || c.MatchedTrigger != "default" {
		t.Fatalf("unexpected default classification: %+v", c)
	}
	if c.Forbidden {
		t.Fatal("default must not be forbidden")
	}
}

func TestIdentifyDosageQuestionIsHerbInformation(t *testing.T) {
	a := newTestAgent(t)
	c := a.Identify("What dosage of ashwagandha should I take?")
	if c.Capability != "HERB_INFORMATION" {
		t.Fatalf("expected HERB_INFORMATION, got %s", c.Capability)
	}
	def, ok := a.Definition(c.Capability)
	if !ok || !def.HasSafetyRule("no_dosage_recommendation") {
		t.Fatal("expected no_dosage_recommendation on HERB_INFORMATION")
	}
}

func TestIdentifyIsPure(t *testing.T) {
	a := newTestAgent(t)
	first := a.Identify("what is my dosha")
	for i := 0; i < 10; i++ {
		if got := a.Identify("what is my dosha"); got != first {
			t.Fatalf("identify not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestAgentHelpers(t *testing.T) {
	a := newTestAgent(t)
	if !a.IsForbidden("DIAGNOSIS") {
		t.Error("DIAGNOSIS should be forbidden")
	}
	if a.IsForbidden(GeneralWellnessChat) {
		t.Error("GENERAL_WELLNESS_CHAT should not be forbidden")
	}
	if len(a.AllowedTopics(GeneralWellnessChat)) == 0 {
		t.Error("expected allowed topics")
	}
	if a.AllowedTopics("NOPE") != nil {
		t.Error("expected nil topics for unknown capability")
	}
	names := a.Capabilities()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("capabilities not sorted: %v", names)
		}
	}
}

func TestNewAgentRejectsEmptyCatalog(t *testing.T) {
	if _, err := NewAgent(nil); err == nil {
		t.Fatal("expected error for nil catalog")
	}
	if _, err := NewAgent(&Catalog{}); err == nil {
		t.Fatal("expected error for empty catalog")
	}
}
