package capability

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultEmergencyKeywords is the built-in emergency phrase list. Matching
// is a case-insensitive substring scan.
func DefaultEmergencyKeywords() []string {
	return []string{
		"emergency", "urgent", "heart attack", "chest pain",
		"can't breathe", "cannot breathe", "breathlessness",
		"bleeding", "severe bleeding", "unconscious", "loss of consciousness",
		"seizure", "stroke", "sudden paralysis", "severe pain", "high fever",
		"suicidal", "self harm", "kill myself",
	}
}

const (
	emergencyConfidence = 1.0
	forbiddenConfidence = 1.0
	triggerConfidence   = 0.9
	defaultConfidence   = 0.7
)

type compiledCapability struct {
	def      *Definition
	triggers []namedRegex
}

type namedRegex struct {
	phrase string
	re     *regexp.Regexp
}

// Agent classifies user text against a catalogue. It holds no mutable
// state and is safe for concurrent use.
type Agent struct {
	catalog   *Catalog
	emergency []string
	forbidden []compiledCapability
	ordinary  []compiledCapability
}

// NewAgent compiles the trigger set of a validated catalogue.
func NewAgent(cat *Catalog) (*Agent, error) {
	if cat == nil || len(cat.capabilities) == 0 {
		return nil, fmt.Errorf("%w: no capabilities loaded", ErrInvalidConfig)
	}
	a := &Agent{catalog: cat}
	for _, kw := range cat.EmergencyKeywords {
		kw = normalize(kw)
		if kw != "" {
			a.emergency = append(a.emergency, kw)
		}
	}
	for _, def := range cat.capabilities {
		cc := compiledCapability{def: def}
		for _, t := range def.Triggers {
			re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(strings.TrimSpace(t)) + `\b`)
			if err != nil {
				return nil, fmt.Errorf("%w: capability %s trigger %q: %v", ErrInvalidConfig, def.Name, t, err)
			}
			cc.triggers = append(cc.triggers, namedRegex{phrase: t, re: re})
		}
		if def.Forbidden {
			a.forbidden = append(a.forbidden, cc)
		} else {
			a.ordinary = append(a.ordinary, cc)
		}
	}
	return a, nil
}

// Catalog returns the catalogue the agent was built from.
func (a *Agent) Catalog() *Catalog { return a.catalog }

// Definition returns the named capability definition.
func (a *Agent) Definition(name string) (*Definition, bool) {
	return a.catalog.Lookup(name)
}

// Capabilities returns the sorted capability names.
func (a *Agent) Capabilities() []string { return a.catalog.Names() }

// IsForbidden reports whether the named capability is forbidden.
func (a *Agent) IsForbidden(name string) bool {
	d, ok := a.catalog.Lookup(name)
	return ok && d.Forbidden
}

// AllowedTopics returns the allow-listed topics of a capability.
func (a *Agent) AllowedTopics(name string) []string {
	if d, ok := a.catalog.Lookup(name); ok {
		return d.AllowedTopics
	}
	return nil
}

// Identify classifies text. Evaluation order is emergency keywords,
// forbidden capabilities, ordinary triggers, then the default capability.
func (a *Agent) Identify(text string) Classification {
	lower := normalize(text)

	for _, kw := range a.emergency {
		if strings.Contains(lower, kw) {
			return a.classification(EmergencyRedirect, ClassD, emergencyConfidence, "emergency")
		}
	}

	for _, cc := range a.forbidden {
		for _, t := range cc.triggers {
			if t.re.MatchString(lower) {
				return Classification{
					Capability:     cc.def.Name,
					IntentClass:    cc.def.IntentClass,
					Confidence:     forbiddenConfidence,
					MatchedTrigger: t.phrase,
					Forbidden:      true,
					Reason:         cc.def.Reason,
					RedirectTo:     cc.def.RedirectTo,
					Priority:       cc.def.Priority,
				}
			}
		}
	}

	var best *Classification
	for _, cc := range a.ordinary {
		for _, t := range cc.triggers {
			if !t.re.MatchString(lower) {
				continue
			}
			c := Classification{
				Capability:     cc.def.Name,
				IntentClass:    cc.def.IntentClass,
				Confidence:     triggerConfidence,
				MatchedTrigger: t.phrase,
				Priority:       cc.def.Priority,
			}
			if best == nil || better(c, *best) {
				best = &c
			}
			break
		}
	}
	if best != nil {
		return *best
	}

	return a.classification(GeneralWellnessChat, ClassA, defaultConfidence, "default")
}

func (a *Agent) classification(name string, class IntentClass, confidence float64, trigger string) Classification {
	c := Classification{
		Capability:     name,
		IntentClass:    class,
		Confidence:     confidence,
		MatchedTrigger: trigger,
		Priority:       3,
	}
	if d, ok := a.catalog.Lookup(name); ok {
		c.Priority = d.Priority
	}
	return c
}

// better orders by lower priority number, then higher confidence. Earlier
// catalogue entries win remaining ties.
func better(a, b Classification) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Confidence > b.Confidence
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("’", "'", "‘", "'").Replace(s)
}
