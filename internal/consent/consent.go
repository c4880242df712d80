// Package consent manages purpose-scoped, time-boxed and revocable user
// consent.
package consent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Purpose is a specific permitted use of user data.
type Purpose string

const (
	PurposeAstraUsage                 Purpose = "astra_usage"
	PurposeDocumentUpload             Purpose = "document_upload"
	PurposeLabReportAnalysis          Purpose = "lab_report_analysis"
	PurposePrescriptionInterpretation Purpose = "prescription_interpretation"
	PurposeRAGMemoryStorage           Purpose = "rag_memory_storage"
	PurposeHealthTimelineAccess       Purpose = "health_timeline_access"
	PurposeTelemedicineConsultation   Purpose = "telemedicine_consultation"
	PurposeFamilyProfileAccess        Purpose = "family_profile_access"
)

// Purposes lists every known purpose.
func Purposes() []Purpose {
	return []Purpose{
		PurposeAstraUsage,
		PurposeDocumentUpload,
		PurposeLabReportAnalysis,
		PurposePrescriptionInterpretation,
		PurposeRAGMemoryStorage,
		PurposeHealthTimelineAccess,
		PurposeTelemedicineConsultation,
		PurposeFamilyProfileAccess,
	}
}

// ParsePurpose validates a purpose string.
func ParsePurpose(s string) (Purpose, error) {
	for _, p := range Purposes() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPurpose, s)
}

// Status is the evaluated state of a consent.
type Status string

const (
	StatusGranted      Status = "granted"
	StatusRevoked      Status = "revoked"
	StatusExpired      Status = "expired"
	StatusPending      Status = "pending"
	StatusNotRequested Status = "not_requested"
)

var (
	// ErrNotFound is returned by a Store when no record exists.
	ErrNotFound = errors.New("consent record not found")
	// ErrUnknownPurpose is returned for purposes outside the fixed set.
	ErrUnknownPurpose = errors.New("unknown consent purpose")
	// ErrGuardianConsentUnimplemented marks guardian consent verification,
	// which has no agreed product behaviour yet.
	ErrGuardianConsentUnimplemented = errors.New("guardian consent verification is not implemented")
)

// DefaultDurationDays is the validity of a grant when none is given.
const DefaultDurationDays = 365

// capabilityPurposes maps capabilities onto the purpose they need beyond
// astra_usage.
var capabilityPurposes = map[string]Purpose{
	"DOCUMENT_INTERPRETATION":  PurposeDocumentUpload,
	"SYMPTOM_DOCUMENTATION":    PurposeRAGMemoryStorage,
	"MEDICATION_REMINDER_CHAT": PurposeRAGMemoryStorage,
	"HEALTH_TIMELINE":          PurposeHealthTimelineAccess,
	"APPOINTMENT_BOOKING":      PurposeTelemedicineConsultation,
}

// PurposeFor returns the purpose a capability requires, if any.
func PurposeFor(capabilityName string) (Purpose, bool) {
	p, ok := capabilityPurposes[capabilityName]
	return p, ok
}

// Record is a persisted consent. (UserID, ProfileID, Purpose) is its key.
type Record struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	ProfileID string     `json:"profile_id"`
	Purpose   Purpose    `json:"purpose"`
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	IsActive  bool       `json:"is_active"`
}

// StatusAt evaluates the record at the given time.
func (r *Record) StatusAt(now time.Time) Status {
	switch {
	case r == nil:
		return StatusNotRequested
	case r.RevokedAt != nil:
		return StatusRevoked
	case now.After(r.ExpiresAt):
		return StatusExpired
	case !r.IsActive:
		return StatusPending
	}
	return StatusGranted
}

// Store persists consent records.
type Store interface {
	// GetConsent returns the record for the key or ErrNotFound.
	GetConsent(ctx context.Context, userID, profileID string, purpose Purpose) (*Record, error)
	// PutConsent inserts or replaces the record for its key.
	PutConsent(ctx context.Context, rec *Record) error
	// RevokeConsent sets revoked_at on an existing record.
	RevokeConsent(ctx context.Context, userID, profileID string, purpose Purpose, at time.Time) error
	// ListConsents returns every record of a profile.
	ListConsents(ctx context.Context, userID, profileID string) ([]Record, error)
}

// Result is the outcome of a verification.
type Result struct {
	Granted   bool       `json:"granted"`
	Status    Status     `json:"status"`
	Purpose   Purpose    `json:"purpose"`
	Message   string     `json:"message,omitempty"`
	GrantedAt *time.Time `json:"granted_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

const (
	astraUsageRequiredMessage = "Astra is a wellness and Ayurvedic knowledge companion. " +
		"It does not provide medical diagnosis or treatment. " +
		"All medical decisions must be taken by a qualified Ayurvedic doctor. " +
		"Please grant consent to Astra's terms to continue."
	revokedMessage = "Consent has been revoked. Please grant consent again if needed."
	expiredMessage = "Consent has expired. Please renew consent."
	pendingMessage = "Consent is pending confirmation."
)

func notFoundMessage(p Purpose) string {
	if p == PurposeAstraUsage {
		return astraUsageRequiredMessage
	}
	return fmt.Sprintf("Purpose-specific consent required for %s. Please grant consent in your profile settings.", p)
}

func resultFor(p Purpose, rec *Record, now time.Time) Result {
	status := rec.StatusAt(now)
	res := Result{Granted: status == StatusGranted, Status: status, Purpose: p}
	if rec != nil {
		g, e := rec.GrantedAt, rec.ExpiresAt
		res.GrantedAt, res.ExpiresAt = &g, &e
	}
	switch status {
	case StatusNotRequested:
		res.Message = notFoundMessage(p)
	case StatusRevoked:
		res.Message = revokedMessage
	case StatusExpired:
		res.Message = expiredMessage
	case StatusPending:
		res.Message = pendingMessage
	}
	return res
}
