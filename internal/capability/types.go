// Package capability holds the capability catalogue and the deterministic
// intent classifier that maps user text onto it.
package capability

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IntentClass is the coarse risk tier of a capability.
type IntentClass int

const (
	ClassUnknown IntentClass = iota
	ClassA
	ClassB
	ClassBPlus
	ClassC
	ClassD
)

var intentClassNames = map[IntentClass]string{
	ClassA:     "CLASS_A",
	ClassB:     "CLASS_B",
	ClassBPlus: "CLASS_B_PLUS",
	ClassC:     "CLASS_C",
	ClassD:     "CLASS_D",
}

func (c IntentClass) String() string {
	if s, ok := intentClassNames[c]; ok {
		return s
	}
	return "CLASS_UNKNOWN"
}

// RequiresRefusal reports whether requests of this class are always refused.
func (c IntentClass) RequiresRefusal() bool {
	return c == ClassC || c == ClassD
}

// ParseIntentClass accepts CLASS_A .. CLASS_D, CLASS_B_PLUS and the short
// forms A, B, B+, C, D.
func ParseIntentClass(s string) (IntentClass, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "CLASS_")
	switch v {
	case "A":
		return ClassA, nil
	case "B":
		return ClassB, nil
	case "B+", "B_PLUS", "BPLUS":
		return ClassBPlus, nil
	case "C":
		return ClassC, nil
	case "D":
		return ClassD, nil
	}
	return ClassUnknown, fmt.Errorf("unknown intent class %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c IntentClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *IntentClass) UnmarshalText(b []byte) error {
	v, err := ParseIntentClass(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Well-known capability names the pipeline relies on.
const (
	GeneralWellnessChat = "GENERAL_WELLNESS_CHAT"
	EmergencyRedirect   = "EMERGENCY_REDIRECT"
	AppointmentBooking  = "APPOINTMENT_BOOKING"
)

// RateLimit is a parsed "N/unit" budget. Unlimited budgets have Limit 0.
type RateLimit struct {
	Limit     int
	Window    time.Duration
	Unlimited bool
}

func (r RateLimit) String() string {
	if r.Unlimited {
		return "unlimited"
	}
	switch r.Window {
	case time.Second:
		return fmt.Sprintf("%d/second", r.Limit)
	case time.Minute:
		return fmt.Sprintf("%d/minute", r.Limit)
	case time.Hour:
		return fmt.Sprintf("%d/hour", r.Limit)
	case 24 * time.Hour:
		return fmt.Sprintf("%d/day", r.Limit)
	}
	return fmt.Sprintf("%d/%s", r.Limit, r.Window)
}

// ParseRateLimit parses "10/minute", "5/hour", "100/day" or "unlimited".
func ParseRateLimit(s string) (RateLimit, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" || v == "unlimited" || v == "none" {
		return RateLimit{Unlimited: true}, nil
	}
	n, unit, ok := strings.Cut(v, "/")
	if !ok {
		return RateLimit{}, fmt.Errorf("rate limit %q: expected N/unit", s)
	}
	limit, err := strconv.Atoi(strings.TrimSpace(n))
	if err != nil || limit <= 0 {
		return RateLimit{}, fmt.Errorf("rate limit %q: invalid count", s)
	}
	var window time.Duration
	switch strings.TrimSpace(unit) {
	case "s", "sec", "second":
		window = time.Second
	case "m", "min", "minute":
		window = time.Minute
	case "h", "hour":
		window = time.Hour
	case "d", "day":
		window = 24 * time.Hour
	default:
		return RateLimit{}, fmt.Errorf("rate limit %q: unknown unit %q", s, unit)
	}
	return RateLimit{Limit: limit, Window: window}, nil
}

// Definition is one validated catalogue entry. It is never mutated after load.
type Definition struct {
	Name             string
	Description      string
	IntentClass      IntentClass
	Triggers         []string
	RequiresAI       bool
	RequiresConsent  bool
	RateLimit        RateLimit
	Forbidden        bool
	Reason           string
	RedirectTo       string
	Priority         int
	SafetyRules      []string
	AllowedTopics    []string
	ResponseTemplate string
	Automation       string
	RAGContext       string
	GPUCost          int
}

// HasSafetyRule reports whether the capability declares the named rule.
func (d *Definition) HasSafetyRule(name string) bool {
	for _, r := range d.SafetyRules {
		if r == name {
			return true
		}
	}
	return false
}

// Classification is the per-request result of Agent.Identify.
type Classification struct {
	Capability     string      `json:"capability"`
	IntentClass    IntentClass `json:"intent_class"`
	Confidence     float64     `json:"confidence"`
	MatchedTrigger string      `json:"matched_trigger"`
	Forbidden      bool        `json:"forbidden"`
	Reason         string      `json:"reason,omitempty"`
	RedirectTo     string      `json:"redirect_to,omitempty"`
	Priority       int         `json:"priority"`
}
