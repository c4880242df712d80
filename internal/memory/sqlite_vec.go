package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// MetadataStore persists memory records so the in-process index can be
// rebuilt after a restart.
type MetadataStore interface {
	SaveMemory(ctx context.Context, rec *Record) error
	DeleteMemory(ctx context.Context, id string) error
	DeleteProfileMemories(ctx context.Context, profileID string, t Type) (int, error)
	LoadMemories(ctx context.Context) ([]Record, error)
	PruneMemories(ctx context.Context, now time.Time) (int, error)
}

// Schema creates the memory_records table.
const Schema = `
CREATE TABLE IF NOT EXISTS memory_records (
	id TEXT PRIMARY KEY,
	profile_id TEXT NOT NULL,
	memory_type TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	embedding BLOB,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_records_profile ON memory_records(profile_id, memory_type);
CREATE INDEX IF NOT EXISTS idx_memory_records_expiry ON memory_records(expires_at);
`

// SQLiteMetadataStore keeps memory records in a shared SQLite database.
// Embeddings are stored as little-endian float32 BLOBs.
type SQLiteMetadataStore struct {
	db *sql.DB
}

// NewSQLiteMetadataStore creates the store and ensures its table exists.
func NewSQLiteMetadataStore(db *sql.DB) (*SQLiteMetadataStore, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("apply memory schema: %w", err)
	}
	return &SQLiteMetadataStore{db: db}, nil
}

func (s *SQLiteMetadataStore) SaveMemory(ctx context.Context, rec *Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal memory metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_records (id, profile_id, memory_type, content, metadata, embedding, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			expires_at = excluded.expires_at
	`, rec.ID, rec.ProfileID, string(rec.Type), rec.Content, string(meta),
		encodeFloat32s(rec.Embedding), rec.CreatedAt.UnixNano(), rec.ExpiresAt.UnixNano())
	return err
}

func (s *SQLiteMetadataStore) DeleteMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_records WHERE id = ?`, id)
	return err
}

func (s *SQLiteMetadataStore) DeleteProfileMemories(ctx context.Context, profileID string, t Type) (int, error) {
	var (
		res sql.Result
		err error
	)
	if t == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM memory_records WHERE profile_id = ?`, profileID)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM memory_records WHERE profile_id = ? AND memory_type = ?`, profileID, string(t))
	}
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteMetadataStore) LoadMemories(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, memory_type, content, metadata, embedding, created_at, expires_at
		FROM memory_records
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                  Record
			memType, meta      string
			blob               []byte
			created, expiresAt int64
		)
		if err := rows.Scan(&r.ID, &r.ProfileID, &memType, &r.Content, &meta, &blob, &created, &expiresAt); err != nil {
			return nil, err
		}
		r.Type = Type(memType)
		if meta != "" && meta != "null" {
			_ = json.Unmarshal([]byte(meta), &r.Metadata)
		}
		r.Embedding = decodeFloat32s(blob)
		r.CreatedAt = time.Unix(0, created).UTC()
		r.ExpiresAt = time.Unix(0, expiresAt).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteMetadataStore) PruneMemories(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_records WHERE expires_at < ?`, now.UnixNano())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// encodeFloat32s converts a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s converts little-endian bytes back to a float32 slice.
func decodeFloat32s(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
