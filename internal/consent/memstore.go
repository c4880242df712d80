package consent

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	reads   int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) GetConsent(_ context.Context, userID, profileID string, purpose Purpose) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	rec, ok := s.records[cacheKey(userID, profileID, purpose)]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) PutConsent(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[cacheKey(rec.UserID, rec.ProfileID, rec.Purpose)] = *rec
	return nil
}

func (s *MemoryStore) RevokeConsent(_ context.Context, userID, profileID string, purpose Purpose, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cacheKey(userID, profileID, purpose)
	rec, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}
	rec.RevokedAt = &at
	rec.IsActive = false
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) ListConsents(_ context.Context, userID, profileID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, r := range s.records {
		if r.UserID == userID && r.ProfileID == profileID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Purpose < out[j].Purpose })
	return out, nil
}

// Reads returns how many GetConsent calls reached the store.
func (s *MemoryStore) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
