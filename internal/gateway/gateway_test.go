package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ayureze/astra/internal/audit"
	"github.com/ayureze/astra/internal/capability"
	"github.com/ayureze/astra/internal/consent"
	"github.com/ayureze/astra/internal/emotion"
	"github.com/ayureze/astra/internal/memory"
	"github.com/ayureze/astra/internal/pipeline"
	"github.com/ayureze/astra/internal/policy"
	"github.com/ayureze/astra/internal/ratelimit"
	"github.com/ayureze/astra/internal/safety"
)

type discardSink struct{}

func (discardSink) WriteAudit(_ context.Context, _ *audit.Log) error { return nil }

func setupTestRouter(t *testing.T, token string, limiter *ratelimit.Limiter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cat, err := capability.DefaultConfig()
	if err != nil {
		t.Fatalf("load catalogue: %v", err)
	}
	agent, err := capability.NewAgent(cat)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	consents := consent.NewManager(consent.NewMemoryStore())
	mem := memory.NewService(nil)

	opts := pipeline.Options{
		Catalog:  cat,
		Agent:    agent,
		Safety:   safety.NewEnforcer(cat, safety.FirstSelector),
		Rules:    policy.NewDefaultEngine(),
		Consent:  consents,
		Memory:   mem,
		Tones:    emotion.NewMapper(emotion.NoPrefix),
		Recorder: audit.NewRecorder(discardSink{}),
	}
	if limiter != nil {
		opts.Limiter = limiter
	}
	p, err := pipeline.New(opts)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	s := New(Options{
		Pipeline:  p,
		Catalog:   cat,
		Rules:     policy.NewDefaultEngine(),
		Consents:  consents,
		Memory:    mem,
		AuthToken: token,
	})
	return s.Router()
}

func doJSON(r http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func grantUsage(t *testing.T, r http.Handler, token string) {
	t.Helper()
	w := doJSON(r, "POST", "/astra/consent/grant", map[string]any{
		"user_id": "u1", "profile_id": "p1", "purpose": "astra_usage",
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("grant astra_usage: status %d body %s", w.Code, w.Body.String())
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	r := setupTestRouter(t, "secret", nil)

	w := doJSON(r, "GET", "/astra/health", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	decode(t, w, &body)
	if body.Status != "healthy" {
		t.Fatalf("expected healthy, got %q (%v)", body.Status, body.Components)
	}
}

func TestHealthDegradedWithoutComponents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := New(Options{}).Router()

	w := doJSON(r, "GET", "/astra/health", nil, "")
	var body struct {
		Status string `json:"status"`
	}
	decode(t, w, &body)
	if body.Status != "degraded" {
		t.Fatalf("expected degraded, got %q", body.Status)
	}

	w = doJSON(r, "POST", "/astra/chat", map[string]any{"message": "hi", "user_id": "u1", "profile_id": "p1"}, "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without pipeline, got %d", w.Code)
	}
}

func TestBearerTokenRequired(t *testing.T) {
	r := setupTestRouter(t, "secret", nil)

	w := doJSON(r, "GET", "/astra/capabilities", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	for _, bad := range []string{"wrong", "secre", "secret2", "SECRET"} {
		w = doJSON(r, "GET", "/astra/capabilities", nil, bad)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 with token %q, got %d", bad, w.Code)
		}
	}
	w = doJSON(r, "GET", "/astra/capabilities", nil, "secret")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
}

func TestListCapabilities(t *testing.T) {
	r := setupTestRouter(t, "", nil)

	w := doJSON(r, "GET", "/astra/capabilities", nil, "")
	var caps []CapabilityInfo
	decode(t, w, &caps)

	byName := map[string]CapabilityInfo{}
	for _, c := range caps {
		byName[c.Name] = c
	}
	emergency, ok := byName["EMERGENCY_REDIRECT"]
	if !ok {
		t.Fatalf("expected EMERGENCY_REDIRECT in %d capabilities", len(caps))
	}
	if emergency.RateLimit != "unlimited" {
		t.Fatalf("expected emergency unlimited, got %q", emergency.RateLimit)
	}
	if diag, ok := byName["DIAGNOSIS"]; !ok || !diag.Forbidden {
		t.Fatalf("expected DIAGNOSIS listed as forbidden, got %+v", diag)
	}
	var rules []string
	for _, reg := range byName["APPOINTMENT_BOOKING"].Regulations {
		rules = append(rules, reg.Rule)
	}
	if !slices.Contains(rules, "telemedicine_consent_required") {
		t.Fatalf("expected telemedicine rule on APPOINTMENT_BOOKING, got %v", rules)
	}
}

func TestChatRequiresFields(t *testing.T) {
	r := setupTestRouter(t, "", nil)

	w := doJSON(r, "POST", "/astra/chat", map[string]any{"message": "hello"}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	w = doJSON(r, "POST", "/astra/chat", map[string]any{"message": "   ", "user_id": "u1", "profile_id": "p1"}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank message, got %d", w.Code)
	}
}

func TestChatWithoutUsageConsent(t *testing.T) {
	r := setupTestRouter(t, "", nil)

	w := doJSON(r, "POST", "/astra/chat", map[string]any{"message": "namaste", "user_id": "u1", "profile_id": "p1"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp pipeline.Response
	decode(t, w, &resp)
	if resp.Outcome != pipeline.OutcomeConsentRequired {
		t.Fatalf("expected consent_required, got %q", resp.Outcome)
	}
	if resp.BlockedReason != audit.ReasonConsent {
		t.Fatalf("expected %s, got %q", audit.ReasonConsent, resp.BlockedReason)
	}
}

func TestChatGreeting(t *testing.T) {
	r := setupTestRouter(t, "", nil)
	grantUsage(t, r, "")

	w := doJSON(r, "POST", "/astra/chat", map[string]any{"message": "namaste", "user_id": "u1", "profile_id": "p1"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		pipeline.Response
		Timestamp time.Time `json:"timestamp"`
	}
	decode(t, w, &resp)
	if resp.Capability != "GREETING" || resp.Outcome != pipeline.OutcomeOK {
		t.Fatalf("expected ok GREETING, got %q/%q", resp.Capability, resp.Outcome)
	}
	if resp.CorrelationID == "" || resp.Timestamp.IsZero() {
		t.Fatalf("expected correlation id and timestamp, got %+v", resp)
	}
}

func TestChatRateLimited(t *testing.T) {
	limiter := ratelimit.NewLimiter(nil, ratelimit.WithGlobalLimit(ratelimit.ScopeText, capability.RateLimit{Limit: 1, Window: time.Minute}))
	r := setupTestRouter(t, "", limiter)
	grantUsage(t, r, "")

	msg := map[string]any{"message": "namaste", "user_id": "u1", "profile_id": "p1"}
	if w := doJSON(r, "POST", "/astra/chat", msg, ""); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	w := doJSON(r, "POST", "/astra/chat", msg, "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestConsentRoutes(t *testing.T) {
	r := setupTestRouter(t, "", nil)

	w := doJSON(r, "POST", "/astra/consent/grant", map[string]any{
		"user_id": "u1", "profile_id": "p1", "purpose": "mind_reading",
	}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown purpose, got %d", w.Code)
	}

	w = doJSON(r, "POST", "/astra/consent/revoke", map[string]any{
		"user_id": "u1", "profile_id": "p1", "purpose": "document_upload",
	}, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 revoking missing consent, got %d", w.Code)
	}

	w = doJSON(r, "POST", "/astra/consent/grant", map[string]any{
		"user_id": "u1", "profile_id": "p1", "purpose": "document_upload", "duration_days": 30,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 granting, got %d", w.Code)
	}

	w = doJSON(r, "GET", "/astra/consent/u1/p1", nil, "")
	var list struct {
		ProfileID string           `json:"profile_id"`
		Consents  []consent.Result `json:"consents"`
		Count     int              `json:"count"`
	}
	decode(t, w, &list)
	if list.Count != len(consent.Purposes()) {
		t.Fatalf("expected %d purposes, got %d", len(consent.Purposes()), list.Count)
	}
	for _, c := range list.Consents {
		want := consent.StatusNotRequested
		if c.Purpose == consent.PurposeDocumentUpload {
			want = consent.StatusGranted
		}
		if c.Status != want {
			t.Errorf("purpose %s: expected %s, got %s", c.Purpose, want, c.Status)
		}
	}

	w = doJSON(r, "POST", "/astra/consent/revoke", map[string]any{
		"user_id": "u1", "profile_id": "p1", "purpose": "document_upload",
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 revoking, got %d", w.Code)
	}
}

func TestMemoryRoutes(t *testing.T) {
	r := setupTestRouter(t, "", nil)

	w := doJSON(r, "POST", "/astra/memory/store", map[string]any{
		"profile_id": "p1", "memory_type": "diagnosis_progress", "content": "x",
	}, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for forbidden type, got %d", w.Code)
	}

	content := "Prefers vegetarian meals"
	w = doJSON(r, "POST", "/astra/memory/store", map[string]any{
		"profile_id": "p1", "memory_type": "user_preferences", "content": content,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 storing, got %d: %s", w.Code, w.Body.String())
	}
	var stored memory.StoreResult
	decode(t, w, &stored)
	if !stored.Success || stored.MemoryID == "" {
		t.Fatalf("unexpected store result %+v", stored)
	}

	w = doJSON(r, "GET", "/astra/memory/p1?type=user_preferences&query=Prefers+vegetarian+meals", nil, "")
	var got struct {
		Found   bool   `json:"found"`
		Context string `json:"context"`
	}
	decode(t, w, &got)
	if !got.Found || got.Context != content {
		t.Fatalf("expected stored content back, got %+v", got)
	}

	w = doJSON(r, "GET", "/astra/memory/p1?type=user_preferences&top_k=zero", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad top_k, got %d", w.Code)
	}

	w = doJSON(r, "DELETE", "/astra/memory/p1?memory_type=user_preferences", nil, "")
	var cleared struct {
		DeletedCount int `json:"deleted_count"`
	}
	decode(t, w, &cleared)
	if cleared.DeletedCount != 1 {
		t.Fatalf("expected 1 deleted, got %d", cleared.DeletedCount)
	}
}
