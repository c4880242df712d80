// Package audit records one decision trail per pipeline run and persists
// it exactly once.
package audit

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status of a pipeline step.
type Status string

const (
	StatusOK      Status = "ok"
	StatusBlocked Status = "blocked"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Blocked reasons recorded on terminal responses.
const (
	ReasonRateLimit      = "RATE_LIMIT_EXCEEDED"
	ReasonSafety         = "SAFETY_VIOLATION"
	ReasonRules          = "LEGAL_RULE_VIOLATION"
	ReasonConsent        = "CONSENT_REQUIRED"
	ReasonQuota          = "GPU_QUOTA_EXCEEDED"
	ReasonPipelineError  = "PIPELINE_ERROR"
	ReasonCapabilityRate = "CAPABILITY_RATE_LIMIT_EXCEEDED"
)

// Step is one pipeline stage outcome.
type Step struct {
	Order  int            `json:"step"`
	Name   string         `json:"name"`
	Status Status         `json:"status"`
	Detail map[string]any `json:"detail,omitempty"`
	At     time.Time      `json:"at"`
}

// Log is the audit record of a single run. It is written by the goroutine
// running the pipeline and must not be mutated after persistence.
type Log struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	UserID        string    `json:"user_id"`
	ProfileID     string    `json:"profile_id"`
	IsVoice       bool      `json:"is_voice"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
	Steps         []Step    `json:"steps"`
	Capability    string    `json:"capability"`
	IntentClass   string    `json:"intent_class"`
	BlockedReason string    `json:"blocked_reason,omitempty"`
	RefusalCode   string    `json:"refusal_code,omitempty"`
	ModelUsed     string    `json:"model_used,omitempty"`
	Error         string    `json:"error,omitempty"`
	Persisted     bool      `json:"-"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a time-sortable log id.
func NewID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Begin opens a log for a run. Capability and intent class start as
// UNKNOWN until identification succeeds.
func Begin(correlationID, userID, profileID string, isVoice bool, now time.Time) *Log {
	return &Log{
		ID:            NewID(now),
		CorrelationID: correlationID,
		UserID:        userID,
		ProfileID:     profileID,
		IsVoice:       isVoice,
		StartedAt:     now.UTC(),
		Capability:    "UNKNOWN",
		IntentClass:   "UNKNOWN",
	}
}

// Step appends a step numbered after the previous one.
func (l *Log) Step(name string, status Status, detail map[string]any) {
	l.Steps = append(l.Steps, Step{
		Order:  len(l.Steps) + 1,
		Name:   name,
		Status: status,
		Detail: detail,
		At:     time.Now().UTC(),
	})
}

// Block marks the run as terminated by a gate.
func (l *Log) Block(reason, refusalCode string) {
	l.BlockedReason = reason
	l.RefusalCode = refusalCode
}

// Fail records an unexpected error.
func (l *Log) Fail(err string) {
	l.Error = err
	l.BlockedReason = ReasonPipelineError
}

// Finish stamps the end time.
func (l *Log) Finish(now time.Time) {
	l.FinishedAt = now.UTC()
}

// StepNames lists step names in order.
func (l *Log) StepNames() []string {
	out := make([]string, len(l.Steps))
	for i, s := range l.Steps {
		out[i] = s.Name
	}
	return out
}
