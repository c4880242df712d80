package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ayureze/astra/internal/audit"
	"github.com/ayureze/astra/internal/capability"
	"github.com/ayureze/astra/internal/emotion"
)

const (
	msgRateLimited     = "You've reached your usage limit. Please try again in %d seconds."
	msgQuotaExceeded   = "You've reached today's AI usage limit. It resets at midnight UTC."
	msgForbidden       = "%s Please book an appointment with a licensed doctor for proper medical care."
	msgAIUnavailable   = "AI service is not available. Please try again later."
	msgGenerationError = "I apologize, but I'm having trouble generating a response. Please try again."
	msgDefault         = "I'm here to help! How can I assist you today?"
	msgPipelineError   = "I apologize, but I encountered an issue. Please try again or contact support."
	msgConsentRequired = "This feature requires your consent. Please grant consent in your profile settings."
	msgAutomation      = "Processing your request..."

	defaultForbiddenReason = "This action is not allowed"
	defaultHandoffCTA      = "Please consult a doctor."
)

// Static replies for capabilities served by systems outside the pipeline.
var automationMessages = map[string]string{
	"existing_appointment_system":  "Let me help you book an appointment. Please visit the appointments section or tell me your preferred date and time.",
	"existing_prescription_system": "Let me fetch your prescriptions. One moment please...",
	"existing_reminder_system":     "Let me help you manage your medicine reminders.",
	"timeline_service":             "Let me show you your health timeline.",
	"nudge_scheduler":              "I'll send you a gentle reminder.",
}

// Route kinds recorded on the routing step.
const (
	routeForbidden  = "forbidden"
	routeTemplate   = "template"
	routeAutomation = "automation"
	routeAI         = "ai"
	routeFallback   = "fallback"
)

func routeKind(c capability.Classification, def *capability.Definition) string {
	switch {
	case c.Forbidden:
		return routeForbidden
	case def.ResponseTemplate != "":
		return routeTemplate
	case def.Automation != "":
		return routeAutomation
	case def.RequiresAI:
		return routeAI
	}
	return routeFallback
}

// route produces the unsanitized reply. A non-nil Response means the run
// ended inside routing (capability rate limit or quota).
func (p *Pipeline) route(ctx context.Context, r *run, ragContext string) (string, *Response) {
	kind := routeKind(r.class, r.def)
	detail := map[string]any{"capability": r.class.Capability, "route": kind}

	if (kind == routeAutomation || kind == routeAI) && p.limiter != nil {
		d := p.limiter.CheckCapability(r.req.UserID, r.req.ProfileID, r.class.Capability)
		if !d.Allowed {
			detail["reason"] = d.Reason
			detail["retry_after"] = d.RetryAfter
			r.step(StepRoute, audit.StatusBlocked, detail)
			resp := p.rateLimited(ctx, r, d, audit.ReasonCapabilityRate)
			return "", &resp
		}
	}
	r.step(StepRoute, audit.StatusOK, detail)

	switch kind {
	case routeForbidden:
		reason := r.class.Reason
		if reason == "" {
			reason = defaultForbiddenReason
		}
		return fmt.Sprintf(msgForbidden, reason), nil
	case routeTemplate:
		return r.def.ResponseTemplate, nil
	case routeAutomation:
		if msg, ok := automationMessages[r.def.Automation]; ok {
			return msg, nil
		}
		return msgAutomation, nil
	case routeAI:
		return p.generateReply(ctx, r, ragContext)
	}
	return msgDefault, nil
}

func (p *Pipeline) generateReply(ctx context.Context, r *run, ragContext string) (string, *Response) {
	if p.generator == nil {
		r.step(StepGenerate, audit.StatusSkipped, map[string]any{"reason": "generator not configured"})
		return msgAIUnavailable, nil
	}

	if p.quota != nil {
		q := p.quota.Check(ctx, r.req.UserID, r.req.ProfileID, r.class.Capability, r.def.GPUCost)
		detail := map[string]any{"allowed": q.Allowed, "used": q.Used, "limit": q.Limit, "cost": r.def.GPUCost}
		if !q.Allowed {
			r.step(StepQuota, audit.StatusBlocked, detail)
			r.blocked(StepQuota, audit.ReasonQuota)
			r.log.Block(audit.ReasonQuota, "")
			resp := p.finish(ctx, r, OutcomeQuotaExceeded, p.localize(ctx, r, msgQuotaExceeded))
			return "", &resp
		}
		r.step(StepQuota, audit.StatusOK, detail)
	}

	prompt := buildPrompt(p.systemPrompt(r.def, r.tone), ragContext, r.normalized)
	r.log.ModelUsed = p.model
	text, err := p.generate(ctx, prompt)
	switch {
	case err != nil:
		timedOut := errors.Is(err, context.DeadlineExceeded)
		slog.Warn("AI generation failed, using fallback", "correlation_id", r.log.CorrelationID, "timeout", timedOut, "error", err)
		r.step(StepGenerate, audit.StatusError, map[string]any{"fallback": true, "timeout": timedOut})
		return msgGenerationError, nil
	case strings.TrimSpace(text) == "":
		r.step(StepGenerate, audit.StatusError, map[string]any{"fallback": true, "empty": true})
		return msgGenerationError, nil
	}
	r.step(StepGenerate, audit.StatusOK, map[string]any{"model": p.model, "response_length": len(text)})
	return text, nil
}

// generate bounds the generator call by the configured timeout. The call
// runs in its own goroutine so a generator that ignores cancellation still
// cannot hold the request past the deadline.
func (p *Pipeline) generate(ctx context.Context, prompt string) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, p.generationTimeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := p.generator.Generate(gctx, prompt, p.maxLength, p.temperature)
		done <- result{text, err}
	}()

	select {
	case res := <-done:
		return res.text, res.err
	case <-gctx.Done():
		return "", gctx.Err()
	}
}

// systemPrompt constrains generation to the capability's scope.
func (p *Pipeline) systemPrompt(def *capability.Definition, tone emotion.Tone) string {
	var b strings.Builder
	b.WriteString("You are Astra, an AI wellness companion for Ayureze. ")
	b.WriteString(def.Description)
	b.WriteString(" ")
	if def.HasSafetyRule("no_diagnosis") {
		b.WriteString("You MUST NOT diagnose any medical condition. ")
	}
	if def.HasSafetyRule("no_prescription") {
		b.WriteString("You MUST NOT prescribe any medicine or treatment. ")
	}
	if def.HasSafetyRule("no_dosage_recommendation") {
		b.WriteString("You MUST NOT recommend any dosage. ")
	}
	if def.HasSafetyRule("must_recommend_doctor") {
		b.WriteString("You MUST recommend consulting a doctor for medical advice. ")
	}
	if len(def.AllowedTopics) > 0 {
		fmt.Fprintf(&b, "You may only discuss: %s. ", strings.Join(def.AllowedTopics, ", "))
	}
	b.WriteString(p.tones.Guidelines(tone))
	b.WriteString(" Be empathetic, clear, and helpful within these boundaries.")
	return b.String()
}

func buildPrompt(system, ragContext, input string) string {
	var b strings.Builder
	b.WriteString(system)
	b.WriteString("\n\n")
	if ragContext != "" {
		b.WriteString("Context: ")
		b.WriteString(ragContext)
		b.WriteString("\n\n")
	}
	b.WriteString("User: ")
	b.WriteString(input)
	b.WriteString("\n\nAssistant:")
	return b.String()
}
