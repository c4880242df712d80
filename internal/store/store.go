// Package store is the SQLite persistence layer shared by consent, audit,
// memory metadata and quota usage.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ayureze/astra/internal/audit"
	"github.com/ayureze/astra/internal/consent"
	"github.com/ayureze/astra/internal/memory"
	"github.com/ayureze/astra/internal/ratelimit"
)

// ErrNotFound is returned when a keyed lookup has no row.
var ErrNotFound = errors.New("not found")

// Store wraps a SQLite database.
type Store struct {
	db *sql.DB
}

var (
	_ consent.Store        = (*Store)(nil)
	_ audit.Sink           = (*Store)(nil)
	_ ratelimit.UsageStore = (*Store)(nil)
)

// Open opens or creates the database at dbPath and applies the schema.
// ":memory:" opens a private in-memory database.
func Open(dbPath string) (*Store, error) {
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if dbPath == ":memory:" {
		dsn = ":memory:"
	} else if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open astra db: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if _, err := db.Exec(memory.Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply memory schema: %w", err)
	}
	// Best-effort migration for databases created before model tracking.
	_, _ = db.Exec(`ALTER TABLE audit_logs ADD COLUMN model_used TEXT DEFAULT ''`)
	return &Store{db: db}, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

// MemoryMetadata returns the memory metadata store on this database.
func (s *Store) MemoryMetadata() (*memory.SQLiteMetadataStore, error) {
	return memory.NewSQLiteMetadataStore(s.db)
}

// --- consent ---

func (s *Store) GetConsent(ctx context.Context, userID, profileID string, purpose consent.Purpose) (*consent.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, profile_id, purpose, granted_at, expires_at, revoked_at, is_active
		FROM consent_records WHERE user_id = ? AND profile_id = ? AND purpose = ?
	`, userID, profileID, string(purpose))
	rec, err := scanConsent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, consent.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsent(r rowScanner) (*consent.Record, error) {
	var (
		rec     consent.Record
		purpose string
		revoked sql.NullTime
	)
	if err := r.Scan(&rec.ID, &rec.UserID, &rec.ProfileID, &purpose, &rec.GrantedAt, &rec.ExpiresAt, &revoked, &rec.IsActive); err != nil {
		return nil, err
	}
	rec.Purpose = consent.Purpose(purpose)
	if revoked.Valid {
		t := revoked.Time
		rec.RevokedAt = &t
	}
	return &rec, nil
}

func (s *Store) PutConsent(ctx context.Context, rec *consent.Record) error {
	var revoked any
	if rec.RevokedAt != nil {
		revoked = rec.RevokedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO consent_records (id, user_id, profile_id, purpose, granted_at, expires_at, revoked_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, profile_id, purpose) DO UPDATE SET
			id = excluded.id,
			granted_at = excluded.granted_at,
			expires_at = excluded.expires_at,
			revoked_at = excluded.revoked_at,
			is_active = excluded.is_active
	`, rec.ID, rec.UserID, rec.ProfileID, string(rec.Purpose), rec.GrantedAt.UTC(), rec.ExpiresAt.UTC(), revoked, rec.IsActive)
	return err
}

func (s *Store) RevokeConsent(ctx context.Context, userID, profileID string, purpose consent.Purpose, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE consent_records SET revoked_at = ?, is_active = 0
		WHERE user_id = ? AND profile_id = ? AND purpose = ?
	`, at.UTC(), userID, profileID, string(purpose))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return consent.ErrNotFound
	}
	return nil
}

func (s *Store) ListConsents(ctx context.Context, userID, profileID string) ([]consent.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, profile_id, purpose, granted_at, expires_at, revoked_at, is_active
		FROM consent_records WHERE user_id = ? AND profile_id = ?
		ORDER BY purpose ASC
	`, userID, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []consent.Record
	for rows.Next() {
		rec, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// --- audit ---

func (s *Store) WriteAudit(ctx context.Context, l *audit.Log) error {
	steps, err := json.Marshal(l.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	var finished any
	if !l.FinishedAt.IsZero() {
		finished = l.FinishedAt.UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, correlation_id, user_id, profile_id, is_voice, capability, intent_class,
			blocked_reason, refusal_code, model_used, error_text, steps, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.CorrelationID, l.UserID, l.ProfileID, l.IsVoice, l.Capability, l.IntentClass,
		l.BlockedReason, l.RefusalCode, l.ModelUsed, l.Error, string(steps), l.StartedAt.UTC(), finished)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

const auditColumns = `id, correlation_id, user_id, profile_id, is_voice, capability, intent_class,
	blocked_reason, refusal_code, model_used, error_text, steps, started_at, finished_at`

func scanAudit(r rowScanner) (*audit.Log, error) {
	var (
		l                                audit.Log
		steps                            string
		finished                         sql.NullTime
		blocked, refusal, model, errText sql.NullString
	)
	if err := r.Scan(&l.ID, &l.CorrelationID, &l.UserID, &l.ProfileID, &l.IsVoice, &l.Capability, &l.IntentClass,
		&blocked, &refusal, &model, &errText, &steps, &l.StartedAt, &finished); err != nil {
		return nil, err
	}
	l.BlockedReason, l.RefusalCode, l.ModelUsed, l.Error = blocked.String, refusal.String, model.String, errText.String
	if finished.Valid {
		l.FinishedAt = finished.Time
	}
	if err := json.Unmarshal([]byte(steps), &l.Steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	l.Persisted = true
	return &l, nil
}

// GetAuditLog returns the log of one run.
func (s *Store) GetAuditLog(ctx context.Context, correlationID string) (*audit.Log, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE correlation_id = ?`, correlationID)
	l, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("audit log %s: %w", correlationID, ErrNotFound)
	}
	return l, err
}

// AuditFilter narrows ListAuditLogs.
type AuditFilter struct {
	UserID        string
	ProfileID     string
	BlockedReason string
	Limit         int
}

// ListAuditLogs returns logs newest first.
func (s *Store) ListAuditLogs(ctx context.Context, f AuditFilter) ([]audit.Log, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.ProfileID != "" {
		where = append(where, "profile_id = ?")
		args = append(args, f.ProfileID)
	}
	if f.BlockedReason != "" {
		where = append(where, "blocked_reason = ?")
		args = append(args, f.BlockedReason)
	}
	q := `SELECT ` + auditColumns + ` FROM audit_logs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	q += " ORDER BY id DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []audit.Log
	for rows.Next() {
		l, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// --- quota ---

func (s *Store) LoadUsage(ctx context.Context, userID, profileID, day string) (int, error) {
	var used int
	err := s.db.QueryRowContext(ctx, `SELECT used FROM quota_usage WHERE user_id = ? AND profile_id = ? AND day = ?`,
		userID, profileID, day).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return used, err
}

func (s *Store) SaveUsage(ctx context.Context, userID, profileID, day string, used int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quota_usage (user_id, profile_id, day, used, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, profile_id, day) DO UPDATE SET used = excluded.used, updated_at = CURRENT_TIMESTAMP
	`, userID, profileID, day, used)
	return err
}

// PruneUsage deletes usage rows older than day.
func (s *Store) PruneUsage(ctx context.Context, before string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM quota_usage WHERE day < ?`, before)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
