package ratelimit

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ayureze/astra/internal/capability"
)

// Global scopes.
const (
	ScopeText  = "text_ai_chat"
	ScopeVoice = "voice_chat"
)

// Reasons reported in a Decision.
const (
	ReasonAllowed   = "allowed"
	ReasonEmergency = "emergency"
)

// Unlimited is the limit reported for exempt requests.
const Unlimited = 999999

var defaultLimit = capability.RateLimit{Limit: 10, Window: time.Minute}

// Decision is the result of a limit check.
type Decision struct {
	Allowed    bool   `json:"allowed"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	RetryAfter int    `json:"retry_after"`
	Reason     string `json:"reason"`
}

// WindowStatus describes one window for Status.
type WindowStatus struct {
	Key       string        `json:"key"`
	Limit     int           `json:"limit"`
	Window    time.Duration `json:"window"`
	Remaining int           `json:"remaining"`
}

// Limiter tracks windows per (user, profile, scope). The global text or
// voice window is checked first, then the capability window.
type Limiter struct {
	global       map[string]capability.RateLimit
	capabilities map[string]capability.RateLimit
	now          func() time.Time

	mu      sync.Mutex
	windows map[string]map[string]*Window // user:profile -> window key
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithLimiterClock overrides the time source.
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) { l.now = now }
}

// WithGlobalLimit overrides a global scope.
func WithGlobalLimit(scope string, rl capability.RateLimit) LimiterOption {
	return func(l *Limiter) { l.global[scope] = rl }
}

// NewLimiter builds a limiter from the catalogue's global scopes and
// per-capability limits. A nil catalogue leaves only the built-in global
// defaults.
func NewLimiter(cat *capability.Catalog, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		global: map[string]capability.RateLimit{
			ScopeText:  {Limit: 10, Window: time.Minute},
			ScopeVoice: {Limit: 3, Window: time.Minute},
		},
		capabilities: make(map[string]capability.RateLimit),
		now:          time.Now,
		windows:      make(map[string]map[string]*Window),
	}
	if cat != nil {
		for scope, rl := range cat.GlobalRateLimits {
			l.global[scope] = rl
		}
		for _, def := range cat.Capabilities() {
			l.capabilities[def.Name] = def.RateLimit
		}
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func userKey(userID, profileID string) string { return userID + ":" + profileID }

func (l *Limiter) window(userID, profileID, key string, rl capability.RateLimit) *Window {
	uk := userKey(userID, profileID)
	ws, ok := l.windows[uk]
	if !ok {
		ws = make(map[string]*Window)
		l.windows[uk] = ws
	}
	w, ok := ws[key]
	if !ok {
		w = NewWindow(rl.Limit, rl.Window)
		ws[key] = w
	}
	return w
}

// Check applies the global window for the request type and, when
// capabilityName is set, the capability window. EMERGENCY_REDIRECT is never
// limited.
func (l *Limiter) Check(userID, profileID, capabilityName string, isVoice bool) Decision {
	if capabilityName == capability.EmergencyRedirect {
		return Decision{Allowed: true, Limit: Unlimited, Remaining: Unlimited, Reason: ReasonEmergency}
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	scope := ScopeText
	if isVoice {
		scope = ScopeVoice
	}
	grl, ok := l.global[scope]
	if !ok {
		grl = defaultLimit
	}
	gw := l.window(userID, profileID, "global_"+scope, grl)
	if !gw.Allow(now) {
		slog.Warn("Global rate limit exceeded", "user_id", userID, "scope", scope)
		return Decision{Limit: grl.Limit, RetryAfter: gw.RetryAfter(now), Reason: "global_" + scope + "_exceeded"}
	}
	decision := Decision{Allowed: true, Limit: grl.Limit, Remaining: gw.Remaining(now), Reason: ReasonAllowed}

	if capabilityName == "" {
		return decision
	}
	if cd := l.checkCapability(userID, profileID, capabilityName, now); !cd.Allowed {
		return cd
	}
	return decision
}

// CheckCapability applies only the capability window. Callers that already
// passed the global check with an empty capability use it once the
// capability is known.
func (l *Limiter) CheckCapability(userID, profileID, capabilityName string) Decision {
	if capabilityName == capability.EmergencyRedirect {
		return Decision{Allowed: true, Limit: Unlimited, Remaining: Unlimited, Reason: ReasonEmergency}
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkCapability(userID, profileID, capabilityName, now)
}

// checkCapability must be called with l.mu held.
func (l *Limiter) checkCapability(userID, profileID, capabilityName string, now time.Time) Decision {
	crl, known := l.capabilities[capabilityName]
	if !known {
		crl = defaultLimit
	}
	if crl.Unlimited {
		return Decision{Allowed: true, Limit: Unlimited, Remaining: Unlimited, Reason: ReasonAllowed}
	}
	cw := l.window(userID, profileID, "capability_"+capabilityName, crl)
	if !cw.Allow(now) {
		slog.Warn("Capability rate limit exceeded", "user_id", userID, "capability", capabilityName)
		return Decision{Limit: crl.Limit, RetryAfter: cw.RetryAfter(now), Reason: "capability_" + capabilityName + "_exceeded"}
	}
	return Decision{Allowed: true, Limit: crl.Limit, Remaining: cw.Remaining(now), Reason: ReasonAllowed}
}

// Reset drops every window for a user profile.
func (l *Limiter) Reset(userID, profileID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, userKey(userID, profileID))
	slog.Info("Rate limits reset", "user_id", userID, "profile_id", profileID)
}

// GlobalLimits returns a copy of the global scopes.
func (l *Limiter) GlobalLimits() map[string]capability.RateLimit {
	out := make(map[string]capability.RateLimit, len(l.global))
	for k, v := range l.global {
		out[k] = v
	}
	return out
}

// Status lists the windows of a user profile, sorted by key.
func (l *Limiter) Status(userID, profileID string) []WindowStatus {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	ws := l.windows[userKey(userID, profileID)]
	out := make([]WindowStatus, 0, len(ws))
	for key, w := range ws {
		out = append(out, WindowStatus{Key: key, Limit: w.Limit, Window: w.Duration, Remaining: w.Remaining(now)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Cleanup removes windows with no live requests and returns how many were
// dropped.
func (l *Limiter) Cleanup() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for uk, ws := range l.windows {
		for key, w := range ws {
			if w.Empty(now) {
				delete(ws, key)
				n++
			}
		}
		if len(ws) == 0 {
			delete(l.windows, uk)
		}
	}
	return n
}
