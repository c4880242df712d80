// Package policy provides the legal and regulatory boundary checks that run
// after the safety gate.
package policy

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/ayureze/astra/internal/capability"
)

// Enforcement modes.
const (
	EnforceBlock           = "block"
	EnforceRequireConsent  = "require_consent"
	EnforceAppendStatement = "append_statement"
	EnforceLog             = "log"
)

// AppliesToAll matches every capability.
const AppliesToAll = "all"

// BoundaryStatement is appended to educational content.
const BoundaryStatement = "This explanation is for educational understanding of Ayurvedic concepts. " +
	"Diagnosis and treatment decisions must be taken by a qualified Ayurvedic doctor."

const consentRequiredMessage = "This action requires your consent. Please grant consent to continue."

// Rule is one legal rule.
type Rule struct {
	Name           string
	Description    string
	Regulation     string
	AppliesTo      []string
	AppliesToClass []capability.IntentClass
	Enforcement    string
	// ConsentKey names the metadata consent flag for require_consent rules.
	ConsentKey string
	// MinorsOnly limits a rule to requests flagged as coming from a minor.
	MinorsOnly bool
	Message    string
	Statement  string
}

func (r Rule) applies(capabilityName string, class capability.IntentClass) bool {
	if len(r.AppliesToClass) > 0 && !slices.Contains(r.AppliesToClass, class) {
		return false
	}
	if len(r.AppliesTo) == 0 {
		return len(r.AppliesToClass) > 0
	}
	return slices.Contains(r.AppliesTo, AppliesToAll) || slices.Contains(r.AppliesTo, capabilityName)
}

// Metadata is caller-supplied context for rule evaluation.
type Metadata struct {
	Consents map[string]bool `json:"consents,omitempty"`
	IsMinor  bool            `json:"is_minor,omitempty"`
}

// Verdict is the result of rule enforcement. Blocking violations take
// precedence over required actions.
type Verdict struct {
	Allowed           bool      `json:"allowed"`
	Violations        []string  `json:"violations,omitempty"`
	Message           string    `json:"message,omitempty"`
	RequiredActions   []string  `json:"required_actions,omitempty"`
	BoundaryStatement string    `json:"boundary_statement,omitempty"`
	Logged            []string  `json:"logged,omitempty"`
	Ts                time.Time `json:"ts"`
}

// Engine evaluates legal rules for a request.
type Engine interface {
	Enforce(capabilityName, text string, class capability.IntentClass, meta Metadata) Verdict
}

// DefaultEngine evaluates a fixed ordered rule list.
type DefaultEngine struct {
	Rules []Rule
}

// DefaultRules returns the built-in legal rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:           "no_diagnosis_without_license",
			Description:    "Only licensed practitioners may diagnose.",
			Regulation:     "Telemedicine Practice Guidelines 2020",
			AppliesToClass: []capability.IntentClass{capability.ClassC, capability.ClassD},
			Enforcement:    EnforceBlock,
			Message:        "I cannot diagnose medical conditions. Please consult a licensed healthcare professional for proper diagnosis.",
		},
		{
			Name:           "no_prescription_without_license",
			Description:    "Only licensed practitioners may prescribe.",
			Regulation:     "Drugs and Cosmetics Act 1940",
			AppliesToClass: []capability.IntentClass{capability.ClassC},
			Enforcement:    EnforceBlock,
			Message:        "I cannot prescribe medicines. Please consult a licensed Ayurvedic doctor for prescription.",
		},
		{
			Name:        "telemedicine_consent_required",
			Description: "Teleconsultation needs explicit patient consent.",
			Regulation:  "Telemedicine Practice Guidelines 2020",
			AppliesTo:   []string{capability.AppointmentBooking},
			Enforcement: EnforceRequireConsent,
			ConsentKey:  "telemedicine",
		},
		{
			Name:        "minor_guardian_consent",
			Description: "Minors need a guardian's consent.",
			Regulation:  "Digital Personal Data Protection Act 2023",
			AppliesTo:   []string{AppliesToAll},
			Enforcement: EnforceRequireConsent,
			ConsentKey:  "guardian_consent",
			MinorsOnly:  true,
		},
		{
			Name:        "data_minimization",
			Description: "Collect only the data the request needs.",
			Regulation:  "Digital Personal Data Protection Act 2023",
			AppliesTo:   []string{AppliesToAll},
			Enforcement: EnforceLog,
		},
		{
			Name:           "astra_boundary_statement",
			Description:    "Educational content carries a boundary statement.",
			Regulation:     "Telemedicine Practice Guidelines 2020",
			AppliesToClass: []capability.IntentClass{capability.ClassBPlus},
			Enforcement:    EnforceAppendStatement,
			Statement:      BoundaryStatement,
		},
	}
}

// NewDefaultEngine creates an engine with the built-in rules.
func NewDefaultEngine() *DefaultEngine {
	return &DefaultEngine{Rules: DefaultRules()}
}

// Enforce applies every matching rule in order.
func (e *DefaultEngine) Enforce(capabilityName, text string, class capability.IntentClass, meta Metadata) Verdict {
	v := Verdict{Allowed: true, Ts: time.Now()}
	var blockMessage string

	for _, r := range e.Rules {
		if !r.applies(capabilityName, class) {
			continue
		}
		switch r.Enforcement {
		case EnforceBlock:
			if class.RequiresRefusal() {
				v.Violations = append(v.Violations, r.Name)
				if blockMessage == "" {
					blockMessage = r.Message
				}
			}
		case EnforceRequireConsent:
			if r.MinorsOnly && !meta.IsMinor {
				continue
			}
			if !meta.Consents[r.ConsentKey] {
				v.RequiredActions = append(v.RequiredActions, "consent_required:"+r.Name)
			}
		case EnforceAppendStatement:
			v.BoundaryStatement = r.Statement
		case EnforceLog:
			v.Logged = append(v.Logged, r.Name)
			slog.Debug("Legal rule logged", "rule", r.Name, "capability", capabilityName, "text_len", len(text))
		default:
			slog.Warn("Unknown rule enforcement", "rule", r.Name, "enforcement", r.Enforcement)
		}
	}

	switch {
	case len(v.Violations) > 0:
		v.Allowed = false
		v.Message = blockMessage
	case len(v.RequiredActions) > 0:
		v.Allowed = false
		v.Message = consentRequiredMessage
	}
	return v
}

// Regulation describes a rule that governs a capability.
type Regulation struct {
	Rule        string `json:"rule"`
	Regulation  string `json:"regulation"`
	Description string `json:"description"`
	Enforcement string `json:"enforcement"`
}

// ApplicableRegulations lists the rules that govern a capability and class.
func (e *DefaultEngine) ApplicableRegulations(capabilityName string, class capability.IntentClass) []Regulation {
	var out []Regulation
	for _, r := range e.Rules {
		if !r.applies(capabilityName, class) {
			continue
		}
		out = append(out, Regulation{
			Rule:        r.Name,
			Regulation:  r.Regulation,
			Description: r.Description,
			Enforcement: r.Enforcement,
		})
	}
	return out
}

func (v Verdict) String() string {
	return fmt.Sprintf("allowed=%t violations=%v required=%v", v.Allowed, v.Violations, v.RequiredActions)
}
