package memory

import (
	"errors"
	"fmt"
	"time"
)

// Type is a memory category.
type Type string

// Allowed memory types.
const (
	TypeChatHistorySummary Type = "chat_history_summary"
	TypeUserPreferences    Type = "user_preferences"
	TypeDoctorInstructions Type = "doctor_instructions"
	TypeReminders          Type = "reminders"
	TypeUserStatedGoals    Type = "user_stated_goals"
)

// Categories that must never be stored.
const (
	TypeDiagnosisProgress      Type = "diagnosis_progress"
	TypeTreatmentEffectiveness Type = "treatment_effectiveness"
	TypeEmotionalDependency    Type = "emotional_dependency"
	TypeMentalHealthInference  Type = "mental_health_inference"
)

var allowedTypes = map[Type]bool{
	TypeChatHistorySummary: true,
	TypeUserPreferences:    true,
	TypeDoctorInstructions: true,
	TypeReminders:          true,
	TypeUserStatedGoals:    true,
}

var deniedTypes = map[Type]bool{
	TypeDiagnosisProgress:      true,
	TypeTreatmentEffectiveness: true,
	TypeEmotionalDependency:    true,
	TypeMentalHealthInference:  true,
}

// AllowedTypes lists the storable types.
func AllowedTypes() []Type {
	return []Type{TypeChatHistorySummary, TypeUserPreferences, TypeDoctorInstructions, TypeReminders, TypeUserStatedGoals}
}

// ErrDisallowedType is returned for any type outside the allow-list.
var ErrDisallowedType = errors.New("memory type not allowed")

// CheckType returns ErrDisallowedType unless t is allow-listed.
func CheckType(t Type) error {
	if allowedTypes[t] {
		return nil
	}
	if deniedTypes[t] {
		return fmt.Errorf("%w: %s is a forbidden category", ErrDisallowedType, t)
	}
	return fmt.Errorf("%w: %q", ErrDisallowedType, t)
}

// DefaultTTLDays is the retention of a memory when none is given.
const DefaultTTLDays = 90

// Retrieval defaults.
const (
	DefaultTopK      = 5
	DefaultThreshold = 0.7
)

// Record is one stored memory. The metadata record owns the lifecycle; the
// vector index only holds the embedding at Row.
type Record struct {
	ID        string            `json:"id"`
	ProfileID string            `json:"profile_id"`
	Type      Type              `json:"memory_type"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float32         `json:"-"`
	Row       int               `json:"-"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Expired reports whether the record is past its TTL.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// StoreResult is the outcome of Memory.Store.
type StoreResult struct {
	Success   bool      `json:"success"`
	MemoryID  string    `json:"memory_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}
