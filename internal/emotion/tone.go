package emotion

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// Tone is the response style applied after sanitization.
type Tone string

const (
	ToneEmpathetic  Tone = "empathetic"
	ToneCalm        Tone = "calm"
	ToneNeutral     Tone = "neutral"
	ToneUrgent      Tone = "urgent"
	ToneEncouraging Tone = "encouraging"
	ToneEducational Tone = "educational"
)

const emergencyCapability = "EMERGENCY_REDIRECT"

var emotionTones = map[Emotion]Tone{
	Happy:      ToneEncouraging,
	Anxious:    ToneCalm,
	Frustrated: ToneEmpathetic,
	Curious:    ToneEducational,
	Grateful:   ToneEncouraging,
	Concerned:  ToneCalm,
	Confused:   ToneEducational,
	Neutral:    ToneNeutral,
}

type toneTemplate struct {
	prefixes []string
	style    string
	emoji    string
}

var templates = map[Tone]toneTemplate{
	ToneEmpathetic: {
		prefixes: []string{"I understand how you feel.", "I hear you.", "That sounds challenging."},
		style:    "warm, understanding, supportive",
		emoji:    "🌿",
	},
	ToneCalm: {
		prefixes: []string{"Let me help you with that.", "Take a deep breath.", "It's okay."},
		style:    "reassuring, peaceful, balanced",
		emoji:    "🧘",
	},
	ToneNeutral: {
		prefixes: []string{"", "Here's what I can tell you:", "Let me explain:"},
		style:    "professional, clear, informative",
	},
	ToneUrgent: {
		prefixes: []string{"This is important:", "Please note:", "Immediate action needed:"},
		style:    "direct, action-oriented, clear",
		emoji:    "⚠️",
	},
	ToneEncouraging: {
		prefixes: []string{"That's great!", "Well done!", "You're doing well!"},
		style:    "positive, motivating, supportive",
		emoji:    "✨",
	},
	ToneEducational: {
		prefixes: []string{"Let me explain:", "Here's how it works:", "To answer your question:"},
		style:    "clear, informative, patient",
		emoji:    "📚",
	},
}

// Chooser picks an index in [0, n).
type Chooser func(n int) int

// RandomChooser picks uniformly.
func RandomChooser(n int) int { return rand.IntN(n) }

// NoPrefix always picks the first prefix, which for the neutral tone is
// empty.
func NoPrefix(int) int { return 0 }

// Mapper maps emotions to tones and decorates responses.
type Mapper struct {
	choose Chooser
}

// NewMapper returns a mapper. A nil chooser selects RandomChooser.
func NewMapper(choose Chooser) *Mapper {
	if choose == nil {
		choose = RandomChooser
	}
	return &Mapper{choose: choose}
}

// MapTone picks the tone for an emotion. Emergencies are always urgent.
func (m *Mapper) MapTone(e Emotion, capability string) Tone {
	if capability == emergencyCapability {
		return ToneUrgent
	}
	if t, ok := emotionTones[e]; ok {
		return t
	}
	return ToneNeutral
}

// Guidelines describes a tone for a generation prompt.
func (m *Mapper) Guidelines(t Tone) string {
	tmpl, ok := templates[t]
	if !ok {
		return "Be professional and clear."
	}
	return fmt.Sprintf("Use a %s tone.", tmpl.style)
}

// Apply prefixes the response with a tone phrase and emoji. The emoji is not
// repeated when the response already starts with it.
func (m *Mapper) Apply(response string, t Tone) string {
	tmpl, ok := templates[t]
	if !ok {
		return response
	}
	out := response
	if len(tmpl.prefixes) > 0 {
		if p := tmpl.prefixes[m.choose(len(tmpl.prefixes))]; p != "" {
			out = p + " " + out
		}
	}
	if tmpl.emoji != "" && !strings.HasPrefix(response, tmpl.emoji) {
		out = tmpl.emoji + " " + out
	}
	return out
}
