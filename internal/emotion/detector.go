// Package emotion infers the emotional register of a single message and maps
// it to a response tone. It only shapes wording: nothing here affects safety,
// rules, or routing, and no state is kept between messages.
package emotion

import (
	"log/slog"
	"regexp"
)

// Emotion is a coarse register of the current message.
type Emotion string

const (
	Neutral    Emotion = "neutral"
	Happy      Emotion = "happy"
	Anxious    Emotion = "anxious"
	Frustrated Emotion = "frustrated"
	Curious    Emotion = "curious"
	Grateful   Emotion = "grateful"
	Concerned  Emotion = "concerned"
	Confused   Emotion = "confused"
)

type emotionPatterns struct {
	emotion  Emotion
	patterns []*regexp.Regexp
}

// Declaration order breaks ties in Detect.
var catalogue = []emotionPatterns{
	{Happy, compile(
		`(?i)\b(happy|great|wonderful|excellent|amazing|love|thank you)\b`,
		`😊|😄|😃|🙂|❤️|👍`,
		`(?i)\b(feeling good|doing well|much better)\b`,
	)},
	{Anxious, compile(
		`(?i)\b(worried|anxious|nervous|scared|afraid|concerned)\b`,
		`😰|😟|😥|😓`,
		`(?i)\b(what if|is it serious|should i worry)\b`,
	)},
	{Frustrated, compile(
		`(?i)\b(frustrated|annoyed|irritated|fed up|tired of)\b`,
		`😤|😠|😡`,
		`(?i)\b(not working|doesn't help|waste of time)\b`,
	)},
	{Curious, compile(
		`(?i)\b(how|why|what|when|where|tell me|explain|curious)\b`,
		`🤔|🧐`,
		`(?i)\b(want to know|interested in|learn about)\b`,
	)},
	{Grateful, compile(
		`(?i)\b(thank|thanks|grateful|appreciate|helpful)\b`,
		`🙏|😊|❤️`,
		`(?i)\b(you helped|very helpful|really appreciate)\b`,
	)},
	{Concerned, compile(
		`(?i)\b(concerned|worried about|not sure|uncertain)\b`,
		`😕|🤨`,
		`(?i)\b(is this normal|should i be|is it okay)\b`,
	)},
	{Confused, compile(
		`(?i)\b(confused|don't understand|unclear|not sure what)\b`,
		`😕|🤷`,
		`(?i)\b(what does|what do you mean|can you explain)\b`,
	)},
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// Detector scores text against fixed linguistic patterns.
type Detector struct{}

// NewDetector returns a detector.
func NewDetector() *Detector { return &Detector{} }

// Detect returns the emotion with the most pattern hits, Neutral if none.
func (d *Detector) Detect(text string) Emotion {
	best, bestScore := Neutral, 0
	for _, ep := range catalogue {
		if n := hits(ep.patterns, text); n > bestScore {
			best, bestScore = ep.emotion, n
		}
	}
	slog.Debug("Emotion detected", "emotion", best, "score", bestScore)
	return best
}

// Intensity scores e in [0, 1]; five or more hits saturate.
func (d *Detector) Intensity(text string, e Emotion) float64 {
	for _, ep := range catalogue {
		if ep.emotion != e {
			continue
		}
		v := float64(hits(ep.patterns, text)) / 5.0
		if v > 1 {
			v = 1
		}
		return v
	}
	return 0
}

func hits(patterns []*regexp.Regexp, text string) int {
	n := 0
	for _, p := range patterns {
		n += len(p.FindAllStringIndex(text, -1))
	}
	return n
}
