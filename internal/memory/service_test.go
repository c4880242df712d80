package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ayureze/astra/internal/provider"
)

type fixedEmbedder struct {
	vectors map[string][]float32
	dim     int
}

func (f *fixedEmbedder) Dimension() int { return f.dim }

func (f *fixedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return make([]float32, f.dim), nil
}

type failingProvider struct{}

func (failingProvider) Embed(context.Context, *provider.EmbeddingRequest) (*provider.EmbeddingResponse, error) {
	return nil, errors.New("embed failed")
}

func TestStoreRejectsDeniedType(t *testing.T) {
	meta := newMemoryMeta()
	m := NewService(nil, WithMetadataStore(meta))

	res := m.Store(context.Background(), "p1", TypeDiagnosisProgress, "feeling better", nil, 0)
	if res.Success {
		t.Fatal("expected diagnosis_progress to be rejected")
	}
	if res.MemoryID != "" || res.Error == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := m.Stats(); got.Records != 0 || got.Vectors != 0 {
		t.Fatalf("expected nothing indexed, got %+v", got)
	}
	if len(meta.saved) != 0 {
		t.Fatalf("expected nothing persisted, got %d", len(meta.saved))
	}
}

func TestStoreRejectsUnknownType(t *testing.T) {
	m := NewService(nil)
	if res := m.Store(context.Background(), "p1", Type("shopping_list"), "rice", nil, 0); res.Success {
		t.Fatal("expected unknown type to be rejected")
	}
}

func TestStoreAndRetrieveSameType(t *testing.T) {
	m := NewService(nil)
	ctx := context.Background()
	content := "I prefer morning yoga and warm herbal tea"

	res := m.Store(ctx, "p1", TypeUserPreferences, content, map[string]string{"source": "chat"}, 0)
	if !res.Success || res.MemoryID == "" {
		t.Fatalf("store failed: %+v", res)
	}
	if len(res.MemoryID) != 16 {
		t.Fatalf("expected 16 char id, got %q", res.MemoryID)
	}

	got, ok := m.Retrieve(ctx, content, TypeUserPreferences, "p1", DefaultTopK, DefaultThreshold)
	if !ok || got != content {
		t.Fatalf("expected stored content, got %q ok=%v", got, ok)
	}
}

func TestRetrieveMismatchedTypeReturnsNothing(t *testing.T) {
	m := NewService(nil)
	ctx := context.Background()
	content := "Walk for twenty minutes after dinner"
	m.Store(ctx, "p1", TypeUserPreferences, content, nil, 0)

	if got, ok := m.Retrieve(ctx, content, TypeReminders, "p1", 5, 0.0); ok {
		t.Fatalf("expected nothing for mismatched type, got %q", got)
	}
}

func TestRetrieveRejectsDeniedType(t *testing.T) {
	m := NewService(nil)
	if _, ok := m.Retrieve(context.Background(), "x", TypeMentalHealthInference, "p1", 5, 0); ok {
		t.Fatal("expected denied type read to return nothing")
	}
}

func TestRetrieveIsolatesProfiles(t *testing.T) {
	m := NewService(nil)
	ctx := context.Background()
	content := "Remind me to drink water"
	m.Store(ctx, "p1", TypeReminders, content, nil, 0)

	if got, ok := m.Retrieve(ctx, content, TypeReminders, "p2", 5, 0); ok {
		t.Fatalf("expected no cross-profile result, got %q", got)
	}
}

func TestRetrieveThresholdAndOrder(t *testing.T) {
	e := &fixedEmbedder{dim: 2, vectors: map[string][]float32{
		"near":  {1, 0},
		"far":   {0, 3},
		"query": {0.9, 0},
	}}
	m := NewService(e)
	ctx := context.Background()
	m.Store(ctx, "p1", TypeUserStatedGoals, "far", nil, 0)
	m.Store(ctx, "p1", TypeUserStatedGoals, "near", nil, 0)

	got, ok := m.Retrieve(ctx, "query", TypeUserStatedGoals, "p1", 5, 0.5)
	if !ok || got != "near" {
		t.Fatalf("expected only near above threshold, got %q", got)
	}

	got, ok = m.Retrieve(ctx, "query", TypeUserStatedGoals, "p1", 5, 0)
	if !ok || got != "near\n\nfar" {
		t.Fatalf("expected ascending distance order, got %q", got)
	}
}

func TestRetrieveSkipsExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewService(nil, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	m.Store(ctx, "p1", TypeReminders, "take a walk", nil, 1)

	now = now.Add(48 * time.Hour)
	if _, ok := m.Retrieve(ctx, "take a walk", TypeReminders, "p1", 5, 0); ok {
		t.Fatal("expected expired memory to be skipped")
	}
	if n := m.Prune(ctx); n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
}

func TestStoreRedactsDiagnosisLanguage(t *testing.T) {
	m := NewService(nil)
	ctx := context.Background()
	res := m.Store(ctx, "p1", TypeChatHistorySummary, "User said they were diagnosed with diabetes and are getting better", nil, 0)
	if !res.Success {
		t.Fatalf("store failed: %+v", res)
	}
	want := "User said they were [REDACTED] diabetes and are [REDACTED]"
	got, ok := m.Retrieve(ctx, want, TypeChatHistorySummary, "p1", 5, DefaultThreshold)
	if !ok || got != want {
		t.Fatalf("expected redacted content %q, got %q", want, got)
	}
}

// Deleting is logical: the vector stays in the index but no longer resolves
// to a record.
func TestDeleteIsLogicalNotPhysical(t *testing.T) {
	m := NewService(nil)
	ctx := context.Background()
	content := "Doctor said to rest on weekends"
	res := m.Store(ctx, "p1", TypeDoctorInstructions, content, nil, 0)

	if !m.Delete(ctx, "p1", res.MemoryID) {
		t.Fatal("expected delete to succeed")
	}
	if _, ok := m.Retrieve(ctx, content, TypeDoctorInstructions, "p1", 5, 0); ok {
		t.Fatal("expected deleted memory to be unreachable")
	}
	s := m.Stats()
	if s.Vectors != 1 || s.Records != 0 || s.Orphaned != 1 {
		t.Fatalf("expected vector to remain orphaned, got %+v", s)
	}
	if m.Delete(ctx, "p1", res.MemoryID) {
		t.Fatal("expected second delete to report missing")
	}
}

func TestClearProfileByType(t *testing.T) {
	m := NewService(nil)
	ctx := context.Background()
	m.Store(ctx, "p1", TypeReminders, "a", nil, 0)
	m.Store(ctx, "p1", TypeReminders, "b", nil, 0)
	m.Store(ctx, "p1", TypeUserPreferences, "c", nil, 0)

	if n := m.ClearProfile(ctx, "p1", TypeReminders); n != 2 {
		t.Fatalf("expected 2 cleared, got %d", n)
	}
	if _, ok := m.Retrieve(ctx, "c", TypeUserPreferences, "p1", 5, 0); !ok {
		t.Fatal("expected other type to survive")
	}
	if n := m.ClearProfile(ctx, "p1", ""); n != 1 {
		t.Fatalf("expected 1 cleared, got %d", n)
	}
}

func TestFallbackEmbedderUsesHash(t *testing.T) {
	e := NewFallbackEmbedder(NewProviderEmbedder(failingProvider{}, "m", 8))
	v, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("expected fallback, got %v", err)
	}
	if len(v) != 8 {
		t.Fatalf("expected 8 dims, got %d", len(v))
	}
	w, _ := NewHashEmbedder(8).Embed(context.Background(), "hello")
	for i := range v {
		if v[i] != w[i] {
			t.Fatal("expected deterministic hash vector")
		}
	}
}

func TestConcurrentStoreSameProfile(t *testing.T) {
	m := NewService(nil)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Store(ctx, "p1", TypeReminders, strings.Repeat("x", i+1), nil, 0)
		}(i)
	}
	wg.Wait()
	if s := m.Stats(); s.Records != 20 || s.Vectors != 20 {
		t.Fatalf("expected 20 records and vectors, got %+v", s)
	}
}

// memoryMeta is an in-process MetadataStore.
type memoryMeta struct {
	mu    sync.Mutex
	saved map[string]Record
}

func newMemoryMeta() *memoryMeta { return &memoryMeta{saved: make(map[string]Record)} }

func (s *memoryMeta) SaveMemory(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[rec.ID] = *rec
	return nil
}

func (s *memoryMeta) DeleteMemory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, id)
	return nil
}

func (s *memoryMeta) DeleteProfileMemories(_ context.Context, profileID string, t Type) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.saved {
		if r.ProfileID == profileID && (t == "" || r.Type == t) {
			delete(s.saved, id)
			n++
		}
	}
	return n, nil
}

func (s *memoryMeta) LoadMemories(context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.saved))
	for _, r := range s.saved {
		out = append(out, r)
	}
	return out, nil
}

func (s *memoryMeta) PruneMemories(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.saved {
		if r.Expired(now) {
			delete(s.saved, id)
			n++
		}
	}
	return n, nil
}
