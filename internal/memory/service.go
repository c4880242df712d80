package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

// RedactionMarker replaces content that describes a diagnosis or treatment
// outcome.
const RedactionMarker = "[REDACTED]"

var redactionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)diagnosed with`),
	regexp.MustCompile(`(?i)you have`),
	regexp.MustCompile(`(?i)suffering from`),
	regexp.MustCompile(`(?i)condition is`),
	regexp.MustCompile(`(?i)treatment is working`),
	regexp.MustCompile(`(?i)medicine is effective`),
	regexp.MustCompile(`(?i)getting better`),
	regexp.MustCompile(`(?i)healing progress`),
}

// Redact replaces every diagnosis or effectiveness phrase with the marker.
func Redact(content string) string {
	for _, p := range redactionPatterns {
		content = p.ReplaceAllString(content, RedactionMarker)
	}
	return content
}

// profileIndex is the vector index and metadata for one profile. Rows that
// have no entry in records are orphaned: their vectors stay in the index.
type profileIndex struct {
	mu      sync.Mutex
	index   Index
	records map[string]*Record
	byRow   map[int]string
}

// Stats summarises the service state.
type Stats struct {
	Profiles int `json:"profiles"`
	Records  int `json:"records"`
	Vectors  int `json:"vectors"`
	Orphaned int `json:"orphaned"`
}

// Service is the per-profile RAG memory. If meta is nil, records live only
// in process.
type Service struct {
	embedder Embedder
	meta     MetadataStore
	now      func() time.Time

	mu       sync.Mutex
	profiles map[string]*profileIndex
}

// Option configures a Service.
type Option func(*Service)

// WithMetadataStore persists records through s.
func WithMetadataStore(s MetadataStore) Option {
	return func(m *Service) { m.meta = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Service) { m.now = now }
}

// NewService creates a memory service. A nil embedder selects the hash
// fallback.
func NewService(embedder Embedder, opts ...Option) *Service {
	if embedder == nil {
		embedder = NewHashEmbedder(DefaultDimension)
	}
	m := &Service{
		embedder: embedder,
		now:      time.Now,
		profiles: make(map[string]*profileIndex),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Service) profile(id string) *profileIndex {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		p = &profileIndex{
			index:   NewFlatL2Index(m.embedder.Dimension()),
			records: make(map[string]*Record),
			byRow:   make(map[int]string),
		}
		m.profiles[id] = p
	}
	return p
}

// lookupProfile returns the profile without creating it.
func (m *Service) lookupProfile(id string) *profileIndex {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[id]
}

func memoryID(profileID string, t Type, content string, now time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%d", profileID, t, content, now.UnixNano())))
	return hex.EncodeToString(sum[:])[:16]
}

// Store redacts, embeds and indexes content for a profile. A disallowed type
// fails before anything is written. ttlDays <= 0 selects DefaultTTLDays.
func (m *Service) Store(ctx context.Context, profileID string, t Type, content string, meta map[string]string, ttlDays int) StoreResult {
	if err := CheckType(t); err != nil {
		slog.Warn("Rejected memory write", "profile_id", profileID, "memory_type", t)
		return StoreResult{Error: err.Error()}
	}
	if profileID == "" {
		return StoreResult{Error: "profile_id is required"}
	}
	if ttlDays <= 0 {
		ttlDays = DefaultTTLDays
	}

	clean := Redact(content)
	vec, err := m.embedder.Embed(ctx, clean)
	if err != nil {
		slog.Error("Memory embedding failed", "profile_id", profileID, "error", err)
		return StoreResult{Error: "embedding failed"}
	}

	now := m.now().UTC()
	rec := &Record{
		ID:        memoryID(profileID, t, clean, now),
		ProfileID: profileID,
		Type:      t,
		Content:   clean,
		Metadata:  copyMeta(meta),
		Embedding: vec,
		CreatedAt: now,
		ExpiresAt: now.AddDate(0, 0, ttlDays),
	}

	p := m.profile(profileID)
	p.mu.Lock()
	defer p.mu.Unlock()
	row, err := p.index.Add(vec)
	if err != nil {
		slog.Error("Memory index insert failed", "profile_id", profileID, "error", err)
		return StoreResult{Error: "index insert failed"}
	}
	rec.Row = row
	p.records[rec.ID] = rec
	p.byRow[row] = rec.ID

	if m.meta != nil {
		if err := m.meta.SaveMemory(ctx, rec); err != nil {
			slog.Warn("Memory metadata persist failed", "id", rec.ID, "error", err)
		}
	}
	slog.Debug("Stored memory", "id", rec.ID, "profile_id", profileID, "memory_type", t)
	return StoreResult{Success: true, MemoryID: rec.ID, ExpiresAt: rec.ExpiresAt}
}

// Retrieve returns the contents of this profile's memories of type t whose
// similarity to query meets threshold, joined by blank lines in ascending
// distance order. ok is false when nothing qualifies.
func (m *Service) Retrieve(ctx context.Context, query string, t Type, profileID string, topK int, threshold float64) (string, bool) {
	if err := CheckType(t); err != nil {
		slog.Warn("Rejected memory read", "profile_id", profileID, "memory_type", t)
		return "", false
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	p := m.lookupProfile(profileID)
	if p == nil {
		return "", false
	}

	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("Memory query embedding failed", "profile_id", profileID, "error", err)
		return "", false
	}

	now := m.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	// Over-fetch so orphaned and filtered rows do not starve the result.
	hits, err := p.index.Search(vec, topK*3)
	if err != nil {
		slog.Warn("Memory search failed", "profile_id", profileID, "error", err)
		return "", false
	}

	var parts []string
	for _, h := range hits {
		if len(parts) >= topK {
			break
		}
		if Similarity(h.Distance) < threshold {
			continue
		}
		id, ok := p.byRow[h.Row]
		if !ok {
			continue
		}
		rec := p.records[id]
		if rec == nil || rec.Type != t || rec.Expired(now) {
			continue
		}
		parts = append(parts, rec.Content)
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n\n"), true
}

// Delete removes a memory's metadata. The vector stays in the index but is
// no longer reachable.
func (m *Service) Delete(ctx context.Context, profileID, id string) bool {
	p := m.lookupProfile(profileID)
	if p == nil {
		return false
	}
	p.mu.Lock()
	rec, ok := p.records[id]
	if ok {
		delete(p.records, id)
		delete(p.byRow, rec.Row)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	if m.meta != nil {
		if err := m.meta.DeleteMemory(ctx, id); err != nil {
			slog.Warn("Memory metadata delete failed", "id", id, "error", err)
		}
	}
	return true
}

// ClearProfile logically deletes a profile's memories, optionally limited to
// one type. It returns the number of records removed.
func (m *Service) ClearProfile(ctx context.Context, profileID string, t Type) int {
	p := m.lookupProfile(profileID)
	n := 0
	if p != nil {
		p.mu.Lock()
		for id, rec := range p.records {
			if t != "" && rec.Type != t {
				continue
			}
			delete(p.records, id)
			delete(p.byRow, rec.Row)
			n++
		}
		p.mu.Unlock()
	}
	if m.meta != nil {
		if _, err := m.meta.DeleteProfileMemories(ctx, profileID, t); err != nil {
			slog.Warn("Memory metadata clear failed", "profile_id", profileID, "error", err)
		}
	}
	if n > 0 {
		slog.Info("Cleared memories", "profile_id", profileID, "memory_type", t, "count", n)
	}
	return n
}

// Prune drops expired metadata across all profiles.
func (m *Service) Prune(ctx context.Context) int {
	now := m.now()
	m.mu.Lock()
	profiles := make([]*profileIndex, 0, len(m.profiles))
	for _, p := range m.profiles {
		profiles = append(profiles, p)
	}
	m.mu.Unlock()

	n := 0
	for _, p := range profiles {
		p.mu.Lock()
		for id, rec := range p.records {
			if rec.Expired(now) {
				delete(p.records, id)
				delete(p.byRow, rec.Row)
				n++
			}
		}
		p.mu.Unlock()
	}
	if m.meta != nil {
		if _, err := m.meta.PruneMemories(ctx, now); err != nil {
			slog.Warn("Memory metadata prune failed", "error", err)
		}
	}
	if n > 0 {
		slog.Info("Pruned expired memories", "count", n)
	}
	return n
}

// Stats reports record and vector counts.
func (m *Service) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Profiles: len(m.profiles)}
	for _, p := range m.profiles {
		p.mu.Lock()
		s.Records += len(p.records)
		s.Vectors += p.index.Len()
		p.mu.Unlock()
	}
	s.Orphaned = s.Vectors - s.Records
	return s
}

// Rehydrate rebuilds the in-process indexes from the metadata store.
// Expired records are skipped.
func (m *Service) Rehydrate(ctx context.Context) (int, error) {
	if m.meta == nil {
		return 0, nil
	}
	recs, err := m.meta.LoadMemories(ctx)
	if err != nil {
		return 0, fmt.Errorf("load memories: %w", err)
	}
	now := m.now()
	n := 0
	for i := range recs {
		rec := recs[i]
		if rec.Expired(now) || CheckType(rec.Type) != nil {
			continue
		}
		if len(rec.Embedding) != m.embedder.Dimension() {
			vec, err := m.embedder.Embed(ctx, rec.Content)
			if err != nil {
				slog.Warn("Re-embedding memory failed", "id", rec.ID, "error", err)
				continue
			}
			rec.Embedding = vec
		}
		p := m.profile(rec.ProfileID)
		p.mu.Lock()
		if _, exists := p.records[rec.ID]; exists {
			p.mu.Unlock()
			continue
		}
		row, err := p.index.Add(rec.Embedding)
		if err == nil {
			rec.Row = row
			p.records[rec.ID] = &rec
			p.byRow[row] = rec.ID
			n++
		}
		p.mu.Unlock()
	}
	slog.Info("Rehydrated memory index", "records", n)
	return n, nil
}

func copyMeta(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
