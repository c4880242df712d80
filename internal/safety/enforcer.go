// Package safety implements the medical-safety gate that runs before any
// capability routing. It cannot be switched off.
package safety

import (
	"math/rand/v2"
	"strings"

	"github.com/ayureze/astra/internal/capability"
)

// Refusal codes that are not taken from the refusal library.
const (
	CodeDefaultRefusal      = "REF_GEN_001"
	CodeSafetyRuleViolation = "SAFETY_RULE_VIOLATION"
)

const (
	defaultRefusalMessage = "I cannot help with medical decisions. Please consult a qualified Ayurvedic doctor."
	defaultReplacement    = "I cannot provide this information. Please consult a licensed healthcare professional."
)

// Verdict is the outcome of a safety check.
type Verdict struct {
	Safe        bool     `json:"safe"`
	Violations  []string `json:"violations,omitempty"`
	Message     string   `json:"message,omitempty"`
	Handoff     bool     `json:"handoff"`
	HardStop    bool     `json:"hard_stop"`
	RefusalCode string   `json:"refusal_code,omitempty"`
}

// Selector picks one of n candidate refusal messages.
type Selector func(n int) int

// RandomSelector picks uniformly.
func RandomSelector(n int) int {
	if n <= 1 {
		return 0
	}
	return rand.IntN(n)
}

// FirstSelector always picks the first candidate.
func FirstSelector(int) int { return 0 }

// refusalKeys maps capabilities onto refusal-library keys.
var refusalKeys = map[string]string{
	"DIAGNOSIS":                  "DIAGNOSIS_CONFIRMATION",
	"PRESCRIPTION":               "MEDICINE_REQUEST",
	"TREATMENT_MODIFICATION":     "DOSAGE_CHANGE",
	capability.EmergencyRedirect: "EMERGENCY",
}

// classFallbackKeys is the class-level entry tried when the capability key
// has no entry.
var classFallbackKeys = map[capability.IntentClass]string{
	capability.ClassC: "GENERIC",
	capability.ClassD: "EMERGENCY",
}

// Enforcer applies mandatory refusals and capability safety rules.
type Enforcer struct {
	catalog  *capability.Catalog
	selector Selector
}

// NewEnforcer creates an enforcer. A nil selector picks randomly.
func NewEnforcer(cat *capability.Catalog, selector Selector) *Enforcer {
	if selector == nil {
		selector = RandomSelector
	}
	return &Enforcer{catalog: cat, selector: selector}
}

// Enforce checks text for the given capability and class. CLASS_C and
// CLASS_D requests are always refused without consulting patterns.
func (e *Enforcer) Enforce(text, capabilityName string, class capability.IntentClass) Verdict {
	if class.RequiresRefusal() {
		return e.refusal(capabilityName, class)
	}

	var rules []*capability.SafetyRule
	def, known := e.catalog.Lookup(capabilityName)
	switch {
	case !known:
		rules = e.catalog.Rules(nil)
	case len(def.SafetyRules) > 0:
		rules = e.catalog.Rules(def.SafetyRules)
	}

	v := Verdict{Safe: true}
	var first *capability.SafetyRule
	for _, r := range rules {
		for _, re := range r.Patterns {
			if re.MatchString(text) {
				v.Violations = append(v.Violations, r.Name)
				if first == nil {
					first = r
				}
				break
			}
		}
	}
	if first == nil {
		return v
	}
	v.Safe = false
	v.Message = first.Replacement
	if v.Message == "" {
		v.Message = defaultReplacement
	}
	v.Handoff = true
	v.RefusalCode = CodeSafetyRuleViolation
	return v
}

func (e *Enforcer) refusal(capabilityName string, class capability.IntentClass) Verdict {
	entry, ok := e.lookupRefusal(capabilityName, class)
	if !ok {
		return Verdict{
			Safe:        false,
			Violations:  []string{"mandatory_refusal_" + strings.ToLower(class.String())},
			Message:     defaultRefusalMessage,
			Handoff:     true,
			HardStop:    false,
			RefusalCode: CodeDefaultRefusal,
		}
	}
	idx := e.selector(len(entry.Messages))
	if idx < 0 || idx >= len(entry.Messages) {
		idx = 0
	}
	return Verdict{
		Safe:        false,
		Violations:  []string{"mandatory_refusal_" + strings.ToLower(class.String())},
		Message:     entry.Messages[idx],
		Handoff:     entry.Handoff,
		HardStop:    entry.HardStop,
		RefusalCode: entry.Code,
	}
}

func (e *Enforcer) lookupRefusal(capabilityName string, class capability.IntentClass) (capability.RefusalEntry, bool) {
	lib := e.catalog.RefusalLibrary[class]
	if lib == nil {
		return capability.RefusalEntry{}, false
	}
	key, ok := refusalKeys[capabilityName]
	if !ok {
		key = capabilityName
	}
	if entry, ok := lib[key]; ok && len(entry.Messages) > 0 {
		return entry, true
	}
	if fb, ok := classFallbackKeys[class]; ok {
		if entry, ok := lib[fb]; ok && len(entry.Messages) > 0 {
			return entry, true
		}
	}
	return capability.RefusalEntry{}, false
}
