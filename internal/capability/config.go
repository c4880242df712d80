package capability

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when the capability catalogue fails validation.
var ErrInvalidConfig = errors.New("invalid capability config")

//go:embed capabilities.yaml
var defaultCatalogue []byte

// Post-generation scan actions.
const (
	ActionDiscardAndRefuse = "DISCARD_AND_REFUSE"
	ActionRedact           = "REDACT"
)

// SafetyRule is a named pattern set. A rule with Action "append" carries a
// disclaimer Message instead of blocking patterns.
type SafetyRule struct {
	Name        string
	Expressions []string
	Patterns    []*regexp.Regexp
	Replacement string
	Action      string
	Message     string
}

// RefusalEntry is one refusal-library template.
type RefusalEntry struct {
	Messages []string
	Code     string
	Handoff  bool
	HardStop bool
}

// PostLLMScan configures the forbidden-pattern scan on generated text.
type PostLLMScan struct {
	Expressions []string
	Patterns    []*regexp.Regexp
	Action      string
}

// Catalog is the validated, immutable capability configuration.
type Catalog struct {
	capabilities []*Definition
	byName       map[string]*Definition
	ruleOrder    []string

	SafetyRules       map[string]*SafetyRule
	RefusalLibrary    map[IntentClass]map[string]RefusalEntry
	PostLLMScan       PostLLMScan
	DoctorHandoffCTA  string
	GlobalRateLimits  map[string]RateLimit
	EmergencyKeywords []string
}

// Capabilities returns definitions in catalogue order.
func (c *Catalog) Capabilities() []*Definition {
	out := make([]*Definition, len(c.capabilities))
	copy(out, c.capabilities)
	return out
}

// Lookup returns the named definition.
func (c *Catalog) Lookup(name string) (*Definition, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// Rules returns the named safety rules, skipping unknown names. An empty
// names list yields every rule in declaration order.
func (c *Catalog) Rules(names []string) []*SafetyRule {
	if len(names) == 0 {
		names = c.ruleOrder
	}
	out := make([]*SafetyRule, 0, len(names))
	for _, n := range names {
		if r, ok := c.SafetyRules[n]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Names returns capability names sorted alphabetically.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for n := range c.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type rawCatalogue struct {
	Capabilities      []rawCapability                  `yaml:"capabilities"`
	SafetyRules       yaml.Node                        `yaml:"safety_rules"`
	RefusalLibrary    map[string]map[string]rawRefusal `yaml:"refusal_library"`
	PostLLMSafetyScan rawPostScan                      `yaml:"post_llm_safety_scan"`
	DoctorHandoff     rawHandoff                       `yaml:"doctor_handoff"`
	RateLimits        map[string]string                `yaml:"rate_limits"`
	EmergencyKeywords []string                         `yaml:"emergency_keywords"`
}

type rawHandoff struct {
	CTAMessage string `yaml:"cta_message"`
}

type rawCapability struct {
	Name             string   `yaml:"name"`
	Description      string   `yaml:"description"`
	IntentClass      string   `yaml:"intent_class"`
	Triggers         []string `yaml:"triggers"`
	RequiresAI       bool     `yaml:"requires_ai"`
	RequiresConsent  bool     `yaml:"requires_consent"`
	RateLimit        string   `yaml:"rate_limit"`
	Forbidden        bool     `yaml:"forbidden"`
	Reason           string   `yaml:"reason"`
	RedirectTo       string   `yaml:"redirect_to"`
	Priority         *int     `yaml:"priority"`
	SafetyRules      []string `yaml:"safety_rules"`
	AllowedTopics    []string `yaml:"allowed_topics"`
	ResponseTemplate string   `yaml:"response_template"`
	Automation       string   `yaml:"automation"`
	RAGContext       string   `yaml:"rag_context"`
	GPUCost          int      `yaml:"gpu_cost"`
}

type rawRule struct {
	Patterns    []string `yaml:"patterns"`
	Replacement string   `yaml:"replacement"`
	Action      string   `yaml:"action"`
	Message     string   `yaml:"message"`
}

type rawRefusal struct {
	Messages    []string `yaml:"messages"`
	RefusalCode string   `yaml:"refusal_code"`
	Handoff     bool     `yaml:"handoff"`
	HardStop    bool     `yaml:"hard_stop"`
}

type rawPostScan struct {
	ForbiddenPatterns []string `yaml:"forbidden_patterns"`
	ActionOnViolation string   `yaml:"action_on_violation"`
}

// DefaultConfig returns the embedded catalogue.
func DefaultConfig() (*Catalog, error) {
	return ParseConfig(defaultCatalogue)
}

// LoadConfig reads and validates a catalogue file.
func LoadConfig(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capability config: %w", err)
	}
	cat, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cat, nil
}

// ParseConfig parses and validates catalogue YAML. Any malformed entry
// fails the whole load.
func ParseConfig(data []byte) (*Catalog, error) {
	var raw rawCatalogue
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %v", ErrInvalidConfig, err)
	}

	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	cat := &Catalog{
		byName:           make(map[string]*Definition),
		SafetyRules:      make(map[string]*SafetyRule),
		RefusalLibrary:   make(map[IntentClass]map[string]RefusalEntry),
		DoctorHandoffCTA: strings.TrimSpace(raw.DoctorHandoff.CTAMessage),
		GlobalRateLimits: make(map[string]RateLimit),
	}

	rules, err := decodeRules(&raw.SafetyRules)
	if err != nil {
		fail("safety_rules: %v", err)
	}
	for _, r := range rules {
		cat.SafetyRules[r.Name] = r
		cat.ruleOrder = append(cat.ruleOrder, r.Name)
	}

	if len(raw.Capabilities) == 0 {
		fail("no capabilities defined")
	}
	for i, rc := range raw.Capabilities {
		def, errs := buildDefinition(rc)
		for _, e := range errs {
			fail("capabilities[%d] %s: %s", i, rc.Name, e)
		}
		if def == nil {
			continue
		}
		if _, dup := cat.byName[def.Name]; dup {
			fail("capabilities[%d]: duplicate name %s", i, def.Name)
			continue
		}
		for _, rn := range def.SafetyRules {
			if _, ok := cat.SafetyRules[rn]; !ok {
				fail("capability %s: unknown safety rule %s", def.Name, rn)
			}
		}
		cat.capabilities = append(cat.capabilities, def)
		cat.byName[def.Name] = def
	}

	for _, def := range cat.capabilities {
		if def.Forbidden {
			if _, ok := cat.byName[def.RedirectTo]; !ok {
				fail("capability %s: redirect_to %s is not a capability", def.Name, def.RedirectTo)
			}
		}
	}
	for _, required := range []string{GeneralWellnessChat, EmergencyRedirect} {
		if _, ok := cat.byName[required]; !ok && len(raw.Capabilities) > 0 {
			fail("required capability %s missing", required)
		}
	}

	for className, entries := range raw.RefusalLibrary {
		class, err := ParseIntentClass(className)
		if err != nil {
			fail("refusal_library: %v", err)
			continue
		}
		lib := make(map[string]RefusalEntry, len(entries))
		for key, e := range entries {
			if len(e.Messages) == 0 {
				fail("refusal_library %s.%s: no messages", className, key)
				continue
			}
			if e.RefusalCode == "" {
				fail("refusal_library %s.%s: missing refusal_code", className, key)
			}
			lib[key] = RefusalEntry{Messages: e.Messages, Code: e.RefusalCode, Handoff: e.Handoff, HardStop: e.HardStop}
		}
		cat.RefusalLibrary[class] = lib
	}

	cat.PostLLMScan.Action = strings.ToUpper(strings.TrimSpace(raw.PostLLMSafetyScan.ActionOnViolation))
	if cat.PostLLMScan.Action == "" {
		cat.PostLLMScan.Action = ActionDiscardAndRefuse
	}
	if cat.PostLLMScan.Action != ActionDiscardAndRefuse && cat.PostLLMScan.Action != ActionRedact {
		fail("post_llm_safety_scan: unknown action %s", cat.PostLLMScan.Action)
	}
	for _, p := range raw.PostLLMSafetyScan.ForbiddenPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			fail("post_llm_safety_scan: pattern %q: %v", p, err)
			continue
		}
		cat.PostLLMScan.Expressions = append(cat.PostLLMScan.Expressions, p)
		cat.PostLLMScan.Patterns = append(cat.PostLLMScan.Patterns, re)
	}

	for scope, spec := range raw.RateLimits {
		rl, err := ParseRateLimit(spec)
		if err != nil {
			fail("rate_limits.%s: %v", scope, err)
			continue
		}
		cat.GlobalRateLimits[scope] = rl
	}

	cat.EmergencyKeywords = raw.EmergencyKeywords
	if len(cat.EmergencyKeywords) == 0 {
		cat.EmergencyKeywords = DefaultEmergencyKeywords()
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return cat, nil
}

func buildDefinition(rc rawCapability) (*Definition, []string) {
	var errs []string
	name := strings.TrimSpace(rc.Name)
	if name == "" {
		return nil, []string{"missing name"}
	}
	class, err := ParseIntentClass(rc.IntentClass)
	if err != nil {
		errs = append(errs, err.Error())
	}
	rl, err := ParseRateLimit(rc.RateLimit)
	if err != nil {
		errs = append(errs, err.Error())
	}
	for _, t := range rc.Triggers {
		if strings.TrimSpace(t) == "" {
			errs = append(errs, "empty trigger")
		}
	}

	d := &Definition{
		Name:             name,
		Description:      strings.TrimSpace(rc.Description),
		IntentClass:      class,
		Triggers:         rc.Triggers,
		RequiresAI:       rc.RequiresAI,
		RequiresConsent:  rc.RequiresConsent,
		RateLimit:        rl,
		Forbidden:        rc.Forbidden,
		Reason:           strings.TrimSpace(rc.Reason),
		RedirectTo:       strings.TrimSpace(rc.RedirectTo),
		SafetyRules:      rc.SafetyRules,
		AllowedTopics:    rc.AllowedTopics,
		ResponseTemplate: strings.TrimSpace(rc.ResponseTemplate),
		Automation:       strings.TrimSpace(rc.Automation),
		RAGContext:       strings.TrimSpace(rc.RAGContext),
		GPUCost:          rc.GPUCost,
	}
	if d.GPUCost <= 0 {
		d.GPUCost = 1
	}
	switch {
	case rc.Priority != nil:
		d.Priority = *rc.Priority
	case d.Forbidden:
		d.Priority = 1
	default:
		d.Priority = 3
	}
	if d.Forbidden {
		if d.Reason == "" {
			d.Reason = "This action is not allowed"
		}
		if d.RedirectTo == "" {
			d.RedirectTo = AppointmentBooking
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return d, nil
}

// decodeRules walks the safety_rules mapping node so declaration order is kept.
func decodeRules(node *yaml.Node) ([]*SafetyRule, error) {
	if node == nil || node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected mapping")
	}
	var out []*SafetyRule
	var errs []string
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var rr rawRule
		if err := node.Content[i+1].Decode(&rr); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		rule := &SafetyRule{
			Name:        name,
			Replacement: strings.TrimSpace(rr.Replacement),
			Action:      strings.ToLower(strings.TrimSpace(rr.Action)),
			Message:     rr.Message,
		}
		for _, p := range rr.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: pattern %q: %v", name, p, err))
				continue
			}
			rule.Expressions = append(rule.Expressions, p)
			rule.Patterns = append(rule.Patterns, re)
		}
		if rule.Action == "append" && strings.TrimSpace(rule.Message) == "" {
			errs = append(errs, fmt.Sprintf("%s: append action without message", name))
		}
		out = append(out, rule)
	}
	if len(errs) > 0 {
		return out, errors.New(strings.Join(errs, ", "))
	}
	return out, nil
}
