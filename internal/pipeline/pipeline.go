// Package pipeline runs every user message through the fixed sequence of
// rate-limit, language, safety, legal, consent and generation stages, and
// leaves exactly one audit log per run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ayureze/astra/internal/audit"
	"github.com/ayureze/astra/internal/capability"
	"github.com/ayureze/astra/internal/consent"
	"github.com/ayureze/astra/internal/emotion"
	"github.com/ayureze/astra/internal/memory"
	"github.com/ayureze/astra/internal/policy"
	"github.com/ayureze/astra/internal/provider"
	"github.com/ayureze/astra/internal/ratelimit"
	"github.com/ayureze/astra/internal/safety"
	"github.com/ayureze/astra/internal/sanitizer"
	"github.com/ayureze/astra/internal/translation"
)

// Step names, in execution order.
const (
	StepUserInput = "user_input"
	StepRateLimit = "rate_limit_check"
	StepLanguage  = "language_detection"
	StepNormalize = "normalization"
	StepIdentify  = "capability_identification"
	StepSafety    = "safety_enforcement"
	StepRules     = "rules_enforcement"
	StepConsent   = "consent_verification"
	StepRAG       = "rag_context_retrieval"
	StepEmotion   = "emotion_detection"
	StepTone      = "tone_mapping"
	StepRoute     = "capability_routing"
	StepQuota     = "quota_check"
	StepGenerate  = "ai_generation"
	StepSanitize  = "response_sanitization"
	StepWrap      = "emotional_wrapping"
	StepLocalize  = "localization"
	StepAudit     = "audit_logging"
	StepError     = "error"
)

// Outcome tells callers which terminal path produced a Response.
type Outcome string

const (
	OutcomeOK              Outcome = "ok"
	OutcomeRateLimited     Outcome = "rate_limited"
	OutcomeSafetyBlocked   Outcome = "safety_blocked"
	OutcomeRulesBlocked    Outcome = "rules_blocked"
	OutcomeConsentRequired Outcome = "consent_required"
	OutcomeQuotaExceeded   Outcome = "quota_exceeded"
	OutcomeError           Outcome = "error"
)

// Defaults applied by New.
const (
	DefaultGenerationTimeout = 30 * time.Second
	DefaultMaxLength         = 512
	DefaultTemperature       = 0.7
	DefaultRAGTopK           = 5
	DefaultRAGThreshold      = 0.7
)

// ErrMissingGate is returned by New when a mandatory gate is nil.
var ErrMissingGate = errors.New("pipeline gate not configured")

// Request is one user message.
type Request struct {
	Input     string          `json:"user_input"`
	UserID    string          `json:"user_id"`
	ProfileID string          `json:"profile_id"`
	Language  string          `json:"input_language,omitempty"`
	IsVoice   bool            `json:"is_voice"`
	Metadata  policy.Metadata `json:"user_metadata"`
}

// Metadata summarises which gates ran and what they decided.
type Metadata struct {
	RequiresAI      bool            `json:"requires_ai"`
	SafetyEnforced  bool            `json:"safety_enforced"`
	ConsentVerified bool            `json:"consent_verified"`
	RAGContextUsed  bool            `json:"rag_context_used"`
	Forbidden       bool            `json:"forbidden"`
	DoctorHandoff   bool            `json:"doctor_handoff"`
	HardStop        bool            `json:"hard_stop"`
	ConsentStatus   consent.Status  `json:"consent_status,omitempty"`
	ConsentPurpose  consent.Purpose `json:"consent_purpose,omitempty"`
	RetryAfter      int             `json:"retry_after,omitempty"`
	Violations      []string        `json:"violations,omitempty"`
}

// Response is the user-facing result of Process. It never carries internal
// error text.
type Response struct {
	Response      string          `json:"response"`
	Language      string          `json:"language"`
	Capability    string          `json:"capability"`
	IntentClass   string          `json:"intent_class"`
	Emotion       emotion.Emotion `json:"emotion,omitempty"`
	Tone          emotion.Tone    `json:"tone,omitempty"`
	AuditLogID    string          `json:"audit_log_id,omitempty"`
	CorrelationID string          `json:"correlation_id"`
	Outcome       Outcome         `json:"outcome"`
	BlockedReason string          `json:"blocked_reason,omitempty"`
	RefusalCode   string          `json:"refusal_code,omitempty"`
	Metadata      Metadata        `json:"metadata"`
}

// RateLimiter admits requests. Check with an empty capability applies only
// the global window; CheckCapability applies only the capability window.
type RateLimiter interface {
	Check(userID, profileID, capabilityName string, isVoice bool) ratelimit.Decision
	CheckCapability(userID, profileID, capabilityName string) ratelimit.Decision
}

// Identifier classifies a message and exposes the catalogue entry.
type Identifier interface {
	Identify(text string) capability.Classification
	Definition(name string) (*capability.Definition, bool)
}

// SafetyGate refuses unsafe requests.
type SafetyGate interface {
	Enforce(text, capabilityName string, class capability.IntentClass) safety.Verdict
}

// ConsentVerifier checks astra_usage and the capability's purpose.
type ConsentVerifier interface {
	Verify(ctx context.Context, userID, profileID, capabilityName string, purpose consent.Purpose) consent.Result
}

// MemoryRetriever returns stored context for a profile.
type MemoryRetriever interface {
	Retrieve(ctx context.Context, query string, t memory.Type, profileID string, topK int, threshold float64) (string, bool)
}

// QuotaChecker meters AI generation.
type QuotaChecker interface {
	Check(ctx context.Context, userID, profileID, capabilityName string, cost int) ratelimit.QuotaDecision
}

// AuditRecorder persists a finished log and returns its id, or "" when it
// could not be stored.
type AuditRecorder interface {
	Persist(ctx context.Context, l *audit.Log) string
}

// Options configures a Pipeline. Agent, Safety, Rules and Consent are
// mandatory; everything else has a default or is skipped when nil.
type Options struct {
	Catalog    *capability.Catalog
	Agent      Identifier
	Safety     SafetyGate
	Rules      policy.Engine
	Consent    ConsentVerifier
	Memory     MemoryRetriever
	Limiter    RateLimiter
	Quota      QuotaChecker
	Translator translation.Service
	Generator  provider.Generator
	Sanitizer  *sanitizer.Sanitizer
	Emotions   *emotion.Detector
	Tones      *emotion.Mapper
	Recorder   AuditRecorder

	Model             string
	GenerationTimeout time.Duration
	MaxLength         int
	Temperature       float64
	RAGTopK           int
	RAGThreshold      float64
	Clock             func() time.Time
}

// Pipeline is safe for concurrent use. Per-request state lives in a run.
type Pipeline struct {
	agent      Identifier
	safety     SafetyGate
	rules      policy.Engine
	consent    ConsentVerifier
	memory     MemoryRetriever
	limiter    RateLimiter
	quota      QuotaChecker
	translator translation.Service
	generator  provider.Generator
	sanitizer  *sanitizer.Sanitizer
	emotions   *emotion.Detector
	tones      *emotion.Mapper
	recorder   AuditRecorder

	handoffCTA        string
	model             string
	generationTimeout time.Duration
	maxLength         int
	temperature       float64
	ragTopK           int
	ragThreshold      float64
	now               func() time.Time
}

// New validates opts and fills defaults.
func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Agent == nil:
		return nil, fmt.Errorf("capability agent: %w", ErrMissingGate)
	case opts.Safety == nil:
		return nil, fmt.Errorf("safety enforcer: %w", ErrMissingGate)
	case opts.Rules == nil:
		return nil, fmt.Errorf("rules engine: %w", ErrMissingGate)
	case opts.Consent == nil:
		return nil, fmt.Errorf("consent manager: %w", ErrMissingGate)
	}

	p := &Pipeline{
		agent:             opts.Agent,
		safety:            opts.Safety,
		rules:             opts.Rules,
		consent:           opts.Consent,
		memory:            opts.Memory,
		limiter:           opts.Limiter,
		quota:             opts.Quota,
		translator:        opts.Translator,
		generator:         opts.Generator,
		sanitizer:         opts.Sanitizer,
		emotions:          opts.Emotions,
		tones:             opts.Tones,
		recorder:          opts.Recorder,
		handoffCTA:        defaultHandoffCTA,
		model:             opts.Model,
		generationTimeout: opts.GenerationTimeout,
		maxLength:         opts.MaxLength,
		temperature:       opts.Temperature,
		ragTopK:           opts.RAGTopK,
		ragThreshold:      opts.RAGThreshold,
		now:               opts.Clock,
	}
	if opts.Catalog != nil && opts.Catalog.DoctorHandoffCTA != "" {
		p.handoffCTA = opts.Catalog.DoctorHandoffCTA
	}
	if p.translator == nil {
		p.translator = translation.Passthrough{}
	}
	if p.sanitizer == nil {
		p.sanitizer = sanitizer.New(opts.Catalog)
	}
	if p.emotions == nil {
		p.emotions = emotion.NewDetector()
	}
	if p.tones == nil {
		p.tones = emotion.NewMapper(emotion.RandomChooser)
	}
	if p.generationTimeout <= 0 {
		p.generationTimeout = DefaultGenerationTimeout
	}
	if p.maxLength <= 0 {
		p.maxLength = DefaultMaxLength
	}
	if p.temperature <= 0 {
		p.temperature = DefaultTemperature
	}
	if p.ragTopK <= 0 {
		p.ragTopK = DefaultRAGTopK
	}
	if p.ragThreshold <= 0 {
		p.ragThreshold = DefaultRAGThreshold
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// run is the state of one Process call.
type run struct {
	req        Request
	log        *audit.Log
	lang       string
	normalized string
	class      capability.Classification
	def        *capability.Definition
	emotion    emotion.Emotion
	tone       emotion.Tone
	meta       Metadata
}

func (r *run) step(name string, status audit.Status, detail map[string]any) {
	r.log.Step(name, status, detail)
	slog.Debug("Pipeline step", "correlation_id", r.log.CorrelationID, "step", name, "status", status)
}

func (r *run) blocked(step, reason string) {
	slog.Warn("Pipeline gate failed", "correlation_id", r.log.CorrelationID, "step", step, "reason", reason)
}

// Process runs req through every stage. It never returns an error: gate
// failures, degraded collaborators and panics all become a Response, and
// an audit log is persisted on every path.
func (p *Pipeline) Process(ctx context.Context, req Request) (resp Response) {
	r := &run{
		req:  req,
		log:  audit.Begin(uuid.NewString(), req.UserID, req.ProfileID, req.IsVoice, p.now()),
		lang: translation.English,
	}
	slog.Info("Pipeline started", "correlation_id", r.log.CorrelationID, "user_id", req.UserID, "profile_id", req.ProfileID)

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Pipeline panic recovered", "correlation_id", r.log.CorrelationID, "panic", rec, "stack", string(debug.Stack()))
			resp = p.fail(ctx, r, fmt.Sprint(rec))
		}
	}()
	return p.process(ctx, r)
}

func (p *Pipeline) process(ctx context.Context, r *run) Response {
	req := r.req
	r.step(StepUserInput, audit.StatusOK, map[string]any{"input_length": len(req.Input), "is_voice": req.IsVoice})

	// Rate limit. The capability is not known yet, so only the global
	// window applies here.
	if p.limiter != nil {
		d := p.limiter.Check(req.UserID, req.ProfileID, "", req.IsVoice)
		detail := map[string]any{"allowed": d.Allowed, "limit": d.Limit, "remaining": d.Remaining, "reason": d.Reason}
		if !d.Allowed {
			detail["retry_after"] = d.RetryAfter
			r.step(StepRateLimit, audit.StatusBlocked, detail)
			return p.rateLimited(ctx, r, d, audit.ReasonRateLimit)
		}
		r.step(StepRateLimit, audit.StatusOK, detail)
	} else {
		r.step(StepRateLimit, audit.StatusSkipped, map[string]any{"allowed": true})
	}

	r.lang = p.detectLanguage(ctx, req)
	r.step(StepLanguage, audit.StatusOK, map[string]any{"language": r.lang, "provided": req.Language != ""})

	r.normalized = req.Input
	if r.lang != translation.English {
		r.normalized = p.translate(ctx, req.Input, r.lang, translation.English)
	}
	r.step(StepNormalize, audit.StatusOK, map[string]any{"normalized_length": len(r.normalized)})

	r.class = p.agent.Identify(r.normalized)
	def, ok := p.agent.Definition(r.class.Capability)
	if !ok {
		r.step(StepIdentify, audit.StatusError, map[string]any{"capability": r.class.Capability})
		return p.fail(ctx, r, "capability "+r.class.Capability+" has no definition")
	}
	r.def = def
	r.log.Capability = r.class.Capability
	r.log.IntentClass = r.class.IntentClass.String()
	r.meta.RequiresAI = def.RequiresAI
	r.meta.Forbidden = r.class.Forbidden
	r.step(StepIdentify, audit.StatusOK, map[string]any{
		"capability":      r.class.Capability,
		"intent_class":    r.log.IntentClass,
		"confidence":      r.class.Confidence,
		"matched_trigger": r.class.MatchedTrigger,
		"forbidden":       r.class.Forbidden,
	})

	sv := p.safety.Enforce(r.normalized, r.class.Capability, r.class.IntentClass)
	r.meta.SafetyEnforced = true
	r.meta.DoctorHandoff = sv.Handoff
	r.meta.HardStop = sv.HardStop
	safetyDetail := map[string]any{"safe": sv.Safe, "handoff": sv.Handoff, "hard_stop": sv.HardStop}
	if len(sv.Violations) > 0 {
		safetyDetail["violations"] = sv.Violations
	}
	if sv.RefusalCode != "" {
		safetyDetail["refusal_code"] = sv.RefusalCode
	}
	if !sv.Safe {
		r.step(StepSafety, audit.StatusBlocked, safetyDetail)
		return p.safetyBlocked(ctx, r, sv)
	}
	r.step(StepSafety, audit.StatusOK, safetyDetail)

	rv := p.rules.Enforce(r.class.Capability, r.normalized, r.class.IntentClass, req.Metadata)
	rulesDetail := map[string]any{"allowed": rv.Allowed, "boundary_statement": rv.BoundaryStatement != ""}
	if len(rv.Violations) > 0 {
		rulesDetail["violations"] = rv.Violations
	}
	if len(rv.RequiredActions) > 0 {
		rulesDetail["required_actions"] = rv.RequiredActions
	}
	if !rv.Allowed {
		r.step(StepRules, audit.StatusBlocked, rulesDetail)
		return p.rulesBlocked(ctx, r, rv)
	}
	r.step(StepRules, audit.StatusOK, rulesDetail)

	cv := p.consent.Verify(ctx, req.UserID, req.ProfileID, r.class.Capability, "")
	r.meta.ConsentVerified = cv.Granted
	r.meta.ConsentStatus = cv.Status
	r.meta.ConsentPurpose = cv.Purpose
	consentDetail := map[string]any{"granted": cv.Granted, "status": string(cv.Status), "purpose": string(cv.Purpose)}
	if !cv.Granted {
		r.step(StepConsent, audit.StatusBlocked, consentDetail)
		return p.consentRequired(ctx, r, cv)
	}
	r.step(StepConsent, audit.StatusOK, consentDetail)

	ragContext := p.retrieve(ctx, r)

	r.emotion = p.emotions.Detect(r.normalized)
	r.step(StepEmotion, audit.StatusOK, map[string]any{
		"emotion":   string(r.emotion),
		"intensity": p.emotions.Intensity(r.normalized, r.emotion),
	})

	r.tone = p.tones.MapTone(r.emotion, r.class.Capability)
	r.step(StepTone, audit.StatusOK, map[string]any{"tone": string(r.tone)})

	text, terminal := p.route(ctx, r, ragContext)
	if terminal != nil {
		return *terminal
	}

	report := p.sanitizer.Validate(text)
	flagged := make([]string, 0, len(report.Violations))
	for _, v := range report.Violations {
		flagged = append(flagged, v.Category)
	}
	if !report.Safe {
		slog.Warn("Unsafe language before sanitization", "correlation_id", r.log.CorrelationID, "categories", flagged)
	}
	sanitized := p.sanitizer.Sanitize(text, def.SafetyRules)
	if rv.BoundaryStatement != "" && !strings.Contains(sanitized, rv.BoundaryStatement) {
		sanitized += "\n\n" + rv.BoundaryStatement
	}
	r.step(StepSanitize, audit.StatusOK, map[string]any{
		"sanitized": sanitized != text,
		"flagged":   flagged,
		"unsafe":    !report.Safe,
	})

	wrapped := p.tones.Apply(sanitized, r.tone)
	r.step(StepWrap, audit.StatusOK, map[string]any{"tone_applied": string(r.tone)})

	localized := wrapped
	if r.lang != translation.English {
		localized = p.translate(ctx, wrapped, translation.English, r.lang)
	}
	r.step(StepLocalize, audit.StatusOK, map[string]any{"target_language": r.lang})

	resp := p.finish(ctx, r, OutcomeOK, localized)
	slog.Info("Pipeline completed", "correlation_id", resp.CorrelationID, "capability", resp.Capability)
	return resp
}

func (p *Pipeline) retrieve(ctx context.Context, r *run) string {
	if r.def.RAGContext == "" || p.memory == nil {
		r.step(StepRAG, audit.StatusSkipped, map[string]any{"required": r.def.RAGContext != ""})
		return ""
	}
	text, ok := p.memory.Retrieve(ctx, r.normalized, memory.Type(r.def.RAGContext), r.req.ProfileID, p.ragTopK, p.ragThreshold)
	r.meta.RAGContextUsed = ok
	r.step(StepRAG, audit.StatusOK, map[string]any{
		"context_type":   r.def.RAGContext,
		"context_found":  ok,
		"context_length": len(text),
	})
	return text
}

func (p *Pipeline) detectLanguage(ctx context.Context, req Request) string {
	if req.Language != "" {
		return req.Language
	}
	lang, err := p.translator.DetectLanguage(ctx, req.Input)
	if err != nil || lang == "" {
		if err != nil {
			slog.Warn("Language detection failed", "error", err)
		}
		return translation.English
	}
	return lang
}

// translate returns text unchanged when the translator fails.
func (p *Pipeline) translate(ctx context.Context, text, source, target string) string {
	out, err := p.translator.Translate(ctx, text, source, target)
	if err != nil || out == "" {
		if err != nil {
			slog.Warn("Translation failed", "source", source, "target", target, "error", err)
		}
		return text
	}
	return out
}

// localize translates a terminal message into the run's language.
func (p *Pipeline) localize(ctx context.Context, r *run, text string) string {
	if r.lang == translation.English {
		return text
	}
	return p.translate(ctx, text, translation.English, r.lang)
}

// finish stamps, persists and converts the run into a Response.
func (p *Pipeline) finish(ctx context.Context, r *run, outcome Outcome, text string) Response {
	r.step(StepAudit, audit.StatusOK, map[string]any{"log_id": r.log.ID})
	r.log.Finish(p.now())
	id := p.persist(ctx, r.log)
	return Response{
		Response:      text,
		Language:      r.lang,
		Capability:    r.log.Capability,
		IntentClass:   r.log.IntentClass,
		Emotion:       r.emotion,
		Tone:          r.tone,
		AuditLogID:    id,
		CorrelationID: r.log.CorrelationID,
		Outcome:       outcome,
		BlockedReason: r.log.BlockedReason,
		RefusalCode:   r.log.RefusalCode,
		Metadata:      r.meta,
	}
}

func (p *Pipeline) persist(ctx context.Context, l *audit.Log) string {
	if p.recorder == nil {
		slog.Warn("Audit recorder not configured, log not saved", "correlation_id", l.CorrelationID)
		return ""
	}
	return p.recorder.Persist(ctx, l)
}

func (p *Pipeline) fail(ctx context.Context, r *run, cause string) Response {
	slog.Error("Pipeline error", "correlation_id", r.log.CorrelationID, "error", cause)
	r.log.Step(StepError, audit.StatusError, map[string]any{"error": cause})
	r.log.Fail(cause)
	return p.finish(ctx, r, OutcomeError, msgPipelineError)
}

func (p *Pipeline) rateLimited(ctx context.Context, r *run, d ratelimit.Decision, reason string) Response {
	r.blocked(StepRateLimit, d.Reason)
	r.log.Block(reason, "")
	retry := d.RetryAfter
	if retry <= 0 {
		// limiter gave no window information
		retry = 60
	}
	r.meta.RetryAfter = retry
	return p.finish(ctx, r, OutcomeRateLimited, fmt.Sprintf(msgRateLimited, retry))
}

func (p *Pipeline) safetyBlocked(ctx context.Context, r *run, v safety.Verdict) Response {
	r.blocked(StepSafety, audit.ReasonSafety)
	r.log.Block(audit.ReasonSafety, v.RefusalCode)
	r.meta.Violations = v.Violations

	msg := v.Message
	if r.class.IntentClass == capability.ClassD {
		if !strings.Contains(msg, sanitizer.DisclaimerEmergency) {
			msg += sanitizer.DisclaimerEmergency
		}
	} else {
		msg = p.sanitizer.WithEmergencyDisclaimer(msg, r.normalized)
	}
	msg = p.localize(ctx, r, msg)
	if v.Handoff {
		msg += "\n\n" + p.localize(ctx, r, p.handoffCTA)
	}
	return p.finish(ctx, r, OutcomeSafetyBlocked, msg)
}

func (p *Pipeline) rulesBlocked(ctx context.Context, r *run, v policy.Verdict) Response {
	r.blocked(StepRules, audit.ReasonRules)
	r.log.Block(audit.ReasonRules, "")
	r.meta.Violations = v.Violations
	return p.finish(ctx, r, OutcomeRulesBlocked, p.localize(ctx, r, v.Message))
}

func (p *Pipeline) consentRequired(ctx context.Context, r *run, res consent.Result) Response {
	r.blocked(StepConsent, audit.ReasonConsent)
	r.log.Block(audit.ReasonConsent, "")
	msg := res.Message
	if msg == "" {
		msg = msgConsentRequired
	}
	return p.finish(ctx, r, OutcomeConsentRequired, p.localize(ctx, r, msg))
}
