// Package sanitizer is the last content filter on generated text before it
// reaches the user.
package sanitizer

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/ayureze/astra/internal/capability"
)

// DiscardRefusal replaces a response that trips the post-generation scan.
const DiscardRefusal = "I apologize, but I cannot provide that information as it contains medical advice or treatment recommendations. Please consult a qualified Ayurvedic doctor."

// Disclaimers, appended at most once each.
const (
	DisclaimerMedicalAdvice = "\n\n⚠️ This is not medical advice. Please consult a licensed healthcare professional."
	DisclaimerDiagnosis     = "\n\n⚠️ This is not a diagnosis. Only a licensed doctor can diagnose medical conditions."
	DisclaimerPrescription  = "\n\n⚠️ This is not a prescription. Please consult your doctor for proper medication."
	DisclaimerEmergency     = "\n\n🚨 If this is an emergency, please call 108/112 immediately."
)

// Append order of disclaimers.
var disclaimerOrder = []string{DisclaimerMedicalAdvice, DisclaimerDiagnosis, DisclaimerPrescription, DisclaimerEmergency}

const defaultDosageReplacement = "I cannot recommend dosages. Please consult a qualified Ayurvedic doctor for dosage information."

// Severity of a legacy category hit.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

type unsafePattern struct {
	category    string
	pattern     *regexp.Regexp
	replacement string
	severity    Severity
}

var legacyPatterns = []unsafePattern{
	{"diagnosis", regexp.MustCompile(`(?i)\b(you have|you are suffering from|diagnosed with|this is)\s+\w+`), "Please consult a doctor for proper diagnosis.", SeverityHigh},
	{"diagnosis", regexp.MustCompile(`(?i)\b(it seems like you have|appears to be|looks like)\s+\w+`), "Only a doctor can make a diagnosis.", SeverityHigh},
	{"prescription", regexp.MustCompile(`(?i)\b(take|use|try)\s+\d+\s*(mg|ml|tablets|capsules)`), "Please consult your doctor for dosage information.", SeverityHigh},
	{"prescription", regexp.MustCompile(`(?i)\b(prescribe|recommend taking|should take)\s+\w+`), "Please consult your doctor for prescription.", SeverityHigh},
	{"treatment", regexp.MustCompile(`(?i)\b(this will cure|this treats|this heals)\s+\w+`), "Please discuss treatment options with your doctor.", SeverityMedium},
	{"prognosis", regexp.MustCompile(`(?i)\b(you will|you should|it will)\s+(get better|heal|recover|improve)`), "Please consult your doctor about your prognosis.", SeverityMedium},
}

// Sentences that read as a dosage instruction. Only checked when the
// capability declares no_dosage_recommendation.
var dosagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b\d+(\.\d+)?\s*(mg|milligrams?|ml|g|grams?|tablets?|capsules?|teaspoons?|tsp|tablespoons?|drops)\b`),
	regexp.MustCompile(`(?i)\b(once|twice|thrice|\d+\s+times)\s+(a|per)\s+day\b`),
	regexp.MustCompile(`(?i)\b(recommended|usual|typical|daily)\s+(dose|dosage)\b`),
	regexp.MustCompile(`(?i)\b(dose|dosage)\s+(is|of)\b`),
}

var sentenceRE = regexp.MustCompile(`[^.!?\n]+[.!?]*`)

var diagnosticLanguage = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(symptoms of|signs of|indicates|suggests)\b`),
	regexp.MustCompile(`(?i)\b(condition|disease|disorder|syndrome)\b`),
	regexp.MustCompile(`(?i)\b(may have|might have|could be)\b`),
}

var emergencyLanguage = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(emergency|urgent|critical|severe)\b`),
	regexp.MustCompile(`(?i)\b(chest pain|heart attack|stroke)\b`),
	regexp.MustCompile(`(?i)\b(bleeding|unconscious|seizure)\b`),
}

// Sanitizer filters generated responses. The catalogue supplies the
// post-generation scan and rule replacement texts; it may be nil.
type Sanitizer struct {
	catalog *capability.Catalog
}

// New creates a sanitizer.
func New(cat *capability.Catalog) *Sanitizer {
	return &Sanitizer{catalog: cat}
}

// Sanitize cleans response for a capability that declared rules. It is
// idempotent: a second call with the same rules returns its input.
func (s *Sanitizer) Sanitize(response string, rules []string) string {
	if s.catalog != nil && s.catalog.PostLLMScan.Action == capability.ActionDiscardAndRefuse {
		for i, p := range s.catalog.PostLLMScan.Patterns {
			if p.MatchString(response) {
				slog.Warn("Forbidden pattern in generated text", "pattern", s.catalog.PostLLMScan.Expressions[i])
				return DiscardRefusal
			}
		}
	}

	body, present := splitDisclaimers(response)

	if s.catalog != nil && s.catalog.PostLLMScan.Action == capability.ActionRedact {
		for _, p := range s.catalog.PostLLMScan.Patterns {
			body = p.ReplaceAllString(body, "[REDACTED]")
		}
	}

	declared := make(map[string]bool, len(rules))
	for _, r := range rules {
		declared[r] = true
	}

	if declared["no_dosage_recommendation"] {
		body = s.replaceDosageSentences(body)
	}

	violations := 0
	for _, up := range legacyPatterns {
		if up.pattern.MatchString(body) {
			body = up.pattern.ReplaceAllString(body, up.replacement)
			violations++
			slog.Warn("Unsafe content sanitized", "category", up.category, "severity", up.severity)
		}
	}
	if violations > 0 {
		slog.Info("Response sanitized", "violations", violations)
	}

	if declared["must_recommend_doctor"] || declared["no_medical_advice"] {
		present[DisclaimerMedicalAdvice] = true
	}
	if declared["no_diagnosis"] && containsAny(diagnosticLanguage, body) {
		present[DisclaimerDiagnosis] = true
	}
	if containsAny(emergencyLanguage, response) {
		present[DisclaimerEmergency] = true
	}
	return joinDisclaimers(body, present)
}

// WithEmergencyDisclaimer appends the emergency disclaimer to response once
// when original contains emergency language.
func (s *Sanitizer) WithEmergencyDisclaimer(response, original string) string {
	if !containsAny(emergencyLanguage, original) || strings.Contains(response, DisclaimerEmergency) {
		return response
	}
	return response + DisclaimerEmergency
}

// ContainsEmergencyLanguage reports whether text mentions an emergency.
func ContainsEmergencyLanguage(text string) bool {
	return containsAny(emergencyLanguage, text)
}

func (s *Sanitizer) dosageReplacement() string {
	if s.catalog != nil {
		if r, ok := s.catalog.SafetyRules["no_dosage_recommendation"]; ok && r.Replacement != "" {
			return r.Replacement
		}
	}
	return defaultDosageReplacement
}

// replaceDosageSentences swaps each dosage-like sentence for the rule's
// replacement, collapsing adjacent replacements into one.
func (s *Sanitizer) replaceDosageSentences(body string) string {
	replacement := s.dosageReplacement()
	var b strings.Builder
	last := 0
	lastReplaced := false
	for _, loc := range sentenceRE.FindAllStringIndex(body, -1) {
		sentence := body[loc[0]:loc[1]]
		if !containsAny(dosagePatterns, sentence) {
			b.WriteString(body[last:loc[1]])
			last = loc[1]
			if strings.TrimSpace(sentence) != "" {
				lastReplaced = false
			}
			continue
		}
		gap := body[last:loc[0]]
		if lastReplaced {
			last = loc[1]
			continue
		}
		b.WriteString(gap)
		lead := sentence[:len(sentence)-len(strings.TrimLeft(sentence, " \t"))]
		b.WriteString(lead)
		b.WriteString(replacement)
		last = loc[1]
		lastReplaced = true
		slog.Warn("Dosage sentence replaced")
	}
	b.WriteString(body[last:])
	return b.String()
}

// splitDisclaimers removes known disclaimers from text and reports which
// were present.
func splitDisclaimers(text string) (string, map[string]bool) {
	present := make(map[string]bool)
	for _, d := range disclaimerOrder {
		if strings.Contains(text, d) {
			present[d] = true
			text = strings.ReplaceAll(text, d, "")
		}
	}
	return text, present
}

func joinDisclaimers(body string, present map[string]bool) string {
	for _, d := range disclaimerOrder {
		if present[d] {
			body += d
		}
	}
	return body
}

func containsAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Violation is one legacy category hit found by Validate.
type Violation struct {
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Pattern  string   `json:"pattern"`
}

// Report is the result of Validate.
type Report struct {
	Safe       bool        `json:"safe"`
	Violations []Violation `json:"violations"`
	Warnings   []string    `json:"warnings"`
}

// Validate inspects response without modifying it. Any high severity hit
// makes it unsafe.
func (s *Sanitizer) Validate(response string) Report {
	rep := Report{Safe: true}
	for _, up := range legacyPatterns {
		if up.pattern.MatchString(response) {
			rep.Violations = append(rep.Violations, Violation{Category: up.category, Severity: up.severity, Pattern: up.pattern.String()})
			if up.severity == SeverityHigh {
				rep.Safe = false
			}
		}
	}
	if s.catalog != nil {
		for _, p := range s.catalog.PostLLMScan.Patterns {
			if p.MatchString(response) {
				rep.Violations = append(rep.Violations, Violation{Category: "forbidden", Severity: SeverityHigh, Pattern: p.String()})
				rep.Safe = false
			}
		}
	}
	if containsAny(diagnosticLanguage, response) {
		rep.Warnings = append(rep.Warnings, "Response contains diagnostic language")
	}
	return rep
}
