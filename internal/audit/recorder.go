package audit

import (
	"context"
	"log/slog"
	"time"
)

// Sink receives finished logs.
type Sink interface {
	WriteAudit(ctx context.Context, l *Log) error
}

// DefaultPersistTimeout bounds a single persistence attempt.
const DefaultPersistTimeout = 5 * time.Second

// Recorder persists each log once to a primary sink and mirrors it to any
// secondary sinks. Secondary failures are logged and dropped.
type Recorder struct {
	primary     Sink
	secondaries []Sink
	timeout     time.Duration
}

// NewRecorder creates a recorder. primary may be nil, in which case the log
// is only mirrored and no id is returned.
func NewRecorder(primary Sink, secondaries ...Sink) *Recorder {
	return &Recorder{primary: primary, secondaries: secondaries, timeout: DefaultPersistTimeout}
}

// Persist writes l unless it was already persisted. The write uses a
// context detached from ctx so a cancelled caller never loses its audit
// entry. It returns the log id, or "" when the primary write failed.
func (r *Recorder) Persist(ctx context.Context, l *Log) string {
	if l.Persisted {
		return l.ID
	}
	l.Persisted = true
	if l.FinishedAt.IsZero() {
		l.Finish(time.Now())
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	id := ""
	if r.primary != nil {
		if err := r.primary.WriteAudit(wctx, l); err != nil {
			slog.Error("Audit log persist failed", "correlation_id", l.CorrelationID, "error", err)
		} else {
			id = l.ID
		}
	} else {
		slog.Warn("No audit store configured, audit log not saved", "correlation_id", l.CorrelationID)
	}
	for _, s := range r.secondaries {
		if err := s.WriteAudit(wctx, l); err != nil {
			slog.Warn("Audit mirror failed", "correlation_id", l.CorrelationID, "error", err)
		}
	}
	slog.Info("Audit log saved", "id", id, "correlation_id", l.CorrelationID, "intent_class", l.IntentClass, "blocked_reason", l.BlockedReason)
	return id
}
