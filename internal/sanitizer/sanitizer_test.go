package sanitizer

import (
	"strings"
	"testing"

	"github.com/ayureze/astra/internal/capability"
)

func newTestSanitizer(t *testing.T) *Sanitizer {
	t.Helper()
	cat, err := capability.DefaultConfig()
	if err != nil {
		t.Fatalf("load catalogue: %v", err)
	}
	return New(cat)
}

func TestSanitizeDiscardsForbiddenOutput(t *testing.T) {
	s := newTestSanitizer(t)
	got := s.Sanitize("You can stop taking your medicine once you feel fine.", nil)
	if got != DiscardRefusal {
		t.Fatalf("expected discard refusal, got %q", got)
	}
}

func TestSanitizeReplacesDosageSentence(t *testing.T) {
	s := newTestSanitizer(t)
	in := "Ashwagandha is an adaptogenic herb. Adults often take 300 mg twice a day. It is used for stress."
	got := s.Sanitize(in, []string{"no_dosage_recommendation"})

	want := "Ashwagandha is an adaptogenic herb. I cannot recommend dosages. Please consult a qualified Ayurvedic doctor for dosage information. It is used for stress."
	if got != want {
		t.Fatalf("unexpected output:\n got: %q\nwant: %q", got, want)
	}
}

func TestSanitizeDosageNeedsRule(t *testing.T) {
	s := newTestSanitizer(t)
	in := "Many people drink it twice a day."
	if got := s.Sanitize(in, nil); got != in {
		t.Fatalf("expected no dosage rewrite without the rule, got %q", got)
	}
}

func TestSanitizeCollapsesAdjacentDosageSentences(t *testing.T) {
	s := newTestSanitizer(t)
	got := s.Sanitize("Use 5 g daily. Or 2 teaspoons at night.", []string{"no_dosage_recommendation"})
	if strings.Count(got, "I cannot recommend dosages.") != 1 {
		t.Fatalf("expected a single replacement, got %q", got)
	}
}

func TestSanitizeLegacyCategories(t *testing.T) {
	s := newTestSanitizer(t)
	got := s.Sanitize("It looks like arthritis. This will cure inflammation.", nil)
	if strings.Contains(got, "arthritis") || strings.Contains(got, "cure") {
		t.Fatalf("expected legacy substitutions, got %q", got)
	}
	if !strings.Contains(got, "Only a doctor can make a diagnosis.") {
		t.Fatalf("expected diagnosis replacement, got %q", got)
	}
}

func TestSanitizeDisclaimersOnce(t *testing.T) {
	s := newTestSanitizer(t)
	rules := []string{"must_recommend_doctor", "no_diagnosis"}
	in := "Poor sleep can be a sign of stress, and signs of imbalance are common. A severe headache needs attention."

	once := s.Sanitize(in, rules)
	twice := s.Sanitize(once, rules)
	if once != twice {
		t.Fatalf("expected idempotent output:\n once: %q\ntwice: %q", once, twice)
	}
	for _, d := range []string{DisclaimerMedicalAdvice, DisclaimerDiagnosis, DisclaimerEmergency} {
		if strings.Count(twice, d) != 1 {
			t.Fatalf("expected %q exactly once in %q", d, twice)
		}
	}
	if !strings.HasSuffix(twice, DisclaimerEmergency) {
		t.Fatalf("expected emergency disclaimer last, got %q", twice)
	}
}

func TestSanitizeDiagnosisDisclaimerNeedsLanguage(t *testing.T) {
	s := newTestSanitizer(t)
	got := s.Sanitize("Drink warm water in the morning.", []string{"no_diagnosis"})
	if strings.Contains(got, DisclaimerDiagnosis) {
		t.Fatalf("expected no diagnosis disclaimer, got %q", got)
	}
}

func TestWithEmergencyDisclaimer(t *testing.T) {
	s := New(nil)
	msg := "Please call 108 or 112."
	got := s.WithEmergencyDisclaimer(msg, "I have chest pain and can't breathe")
	if got != msg+DisclaimerEmergency {
		t.Fatalf("unexpected output %q", got)
	}
	if again := s.WithEmergencyDisclaimer(got, "chest pain"); again != got {
		t.Fatalf("expected disclaimer once, got %q", again)
	}
	if plain := s.WithEmergencyDisclaimer(msg, "hello"); plain != msg {
		t.Fatalf("expected no disclaimer, got %q", plain)
	}
}

func TestValidate(t *testing.T) {
	s := newTestSanitizer(t)
	rep := s.Validate("You should take ashwagandha. This condition is common.")
	if rep.Safe {
		t.Fatal("expected unsafe report")
	}
	if len(rep.Violations) == 0 || len(rep.Warnings) != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}

	if rep := s.Validate("You will improve with rest."); !rep.Safe {
		t.Fatalf("expected medium severity only to be safe, got %+v", rep)
	}
}
