package emotion

import "testing"

func TestDetect(t *testing.T) {
	d := NewDetector()
	tests := []struct {
		text string
		want Emotion
	}{
		{"", Neutral},
		{"ok", Neutral},
		{"I am worried and nervous about my sleep", Anxious},
		{"This is not working, I am fed up", Frustrated},
		{"Tell me why turmeric is used", Curious},
		{"I feel amazing today 😊", Happy},
		{"I don't understand, I am confused", Confused},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := d.Detect(tt.text); got != tt.want {
				t.Fatalf("Detect(%q) = %s, want %s", tt.text, got, tt.want)
			}
		})
	}
}

func TestDetectTieUsesDeclarationOrder(t *testing.T) {
	// one happy hit and one grateful hit: happy is declared first
	if got := NewDetector().Detect("great, appreciate it"); got != Happy {
		t.Fatalf("expected happy on tie, got %s", got)
	}
}

func TestIntensity(t *testing.T) {
	d := NewDetector()
	if got := d.Intensity("worried", Anxious); got != 0.2 {
		t.Fatalf("expected 0.2, got %v", got)
	}
	if got := d.Intensity("worried anxious nervous scared afraid concerned", Anxious); got != 1 {
		t.Fatalf("expected saturation at 1, got %v", got)
	}
	if got := d.Intensity("worried", Emotion("bored")); got != 0 {
		t.Fatalf("expected 0 for unknown emotion, got %v", got)
	}
}

func TestMapTone(t *testing.T) {
	m := NewMapper(NoPrefix)
	if got := m.MapTone(Happy, "EMERGENCY_REDIRECT"); got != ToneUrgent {
		t.Fatalf("expected urgent for emergency, got %s", got)
	}
	if got := m.MapTone(Anxious, "GENERAL_WELLNESS_CHAT"); got != ToneCalm {
		t.Fatalf("expected calm, got %s", got)
	}
	if got := m.MapTone(Emotion("bored"), "GENERAL_WELLNESS_CHAT"); got != ToneNeutral {
		t.Fatalf("expected neutral fallback, got %s", got)
	}
}

func TestApply(t *testing.T) {
	m := NewMapper(NoPrefix)
	if got := m.Apply("Rest well.", ToneNeutral); got != "Rest well." {
		t.Fatalf("unexpected neutral output %q", got)
	}
	if got := m.Apply("Call 108.", ToneUrgent); got != "⚠️ This is important: Call 108." {
		t.Fatalf("unexpected urgent output %q", got)
	}
	if got := m.Apply("🌿 Already", ToneEmpathetic); got != "I understand how you feel. 🌿 Already" {
		t.Fatalf("expected emoji not repeated, got %q", got)
	}
	if got := m.Apply("x", Tone("loud")); got != "x" {
		t.Fatalf("expected unknown tone passthrough, got %q", got)
	}
}

func TestGuidelines(t *testing.T) {
	m := NewMapper(nil)
	if got := m.Guidelines(ToneCalm); got != "Use a reassuring, peaceful, balanced tone." {
		t.Fatalf("unexpected guideline %q", got)
	}
	if got := m.Guidelines(Tone("x")); got != "Be professional and clear." {
		t.Fatalf("unexpected fallback %q", got)
	}
}
