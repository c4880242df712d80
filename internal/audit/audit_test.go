package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/segmentio/kafka-go"
)

type countingSink struct {
	mu    sync.Mutex
	calls int
	err   error
	ctxOK bool
}

func (s *countingSink) WriteAudit(ctx context.Context, _ *Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.ctxOK = ctx.Err() == nil
	return s.err
}

func TestLogSteps(t *testing.T) {
	l := Begin("corr-1", "u1", "p1", false, time.Now())
	l.Step("user_input", StatusOK, nil)
	l.Step("rate_limit_check", StatusBlocked, map[string]any{"retry_after": 30})
	l.Block(ReasonRateLimit, "")

	if diff := cmp.Diff([]string{"user_input", "rate_limit_check"}, l.StepNames()); diff != "" {
		t.Fatalf("step names mismatch (-want +got):\n%s", diff)
	}
	if l.Steps[1].Order != 2 || l.BlockedReason != ReasonRateLimit {
		t.Fatalf("unexpected log %+v", l)
	}
	if len(l.ID) != 26 {
		t.Fatalf("expected ULID id, got %q", l.ID)
	}
}

func TestIDsSortByTime(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewID(base)
	b := NewID(base.Add(time.Millisecond))
	if a >= b {
		t.Fatalf("expected %s < %s", a, b)
	}
}

func TestRecorderPersistsOnce(t *testing.T) {
	primary := &countingSink{}
	mirror := &countingSink{}
	r := NewRecorder(primary, mirror)
	l := Begin("corr-1", "u1", "p1", false, time.Now())

	id := r.Persist(context.Background(), l)
	if id != l.ID {
		t.Fatalf("expected id %s, got %s", l.ID, id)
	}
	if again := r.Persist(context.Background(), l); again != l.ID {
		t.Fatalf("expected same id on repeat, got %s", again)
	}
	if primary.calls != 1 || mirror.calls != 1 {
		t.Fatalf("expected one write per sink, got %d and %d", primary.calls, mirror.calls)
	}
	if l.FinishedAt.IsZero() {
		t.Fatal("expected finish time to be stamped")
	}
}

func TestRecorderIgnoresCallerCancellation(t *testing.T) {
	primary := &countingSink{}
	r := NewRecorder(primary)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := Begin("corr-2", "u1", "p1", false, time.Now())
	if id := r.Persist(ctx, l); id == "" {
		t.Fatal("expected persist to succeed after cancellation")
	}
	if !primary.ctxOK {
		t.Fatal("expected sink to see a live context")
	}
}

func TestRecorderPrimaryFailure(t *testing.T) {
	primary := &countingSink{err: errors.New("disk full")}
	mirror := &countingSink{}
	r := NewRecorder(primary, mirror)
	l := Begin("corr-3", "u1", "p1", false, time.Now())
	if id := r.Persist(context.Background(), l); id != "" {
		t.Fatalf("expected empty id on failure, got %s", id)
	}
	if mirror.calls != 1 {
		t.Fatal("expected mirror still written")
	}
	if !l.Persisted {
		t.Fatal("expected log to be marked persisted")
	}
}

func TestChainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "astra.jsonl")
	c := NewChainFile(path)
	for i := 0; i < 3; i++ {
		l := Begin("corr", "u1", "p1", false, time.Now())
		l.Step("user_input", StatusOK, map[string]any{"input_length": i})
		if err := c.WriteAudit(context.Background(), l); err != nil {
			t.Fatal(err)
		}
	}
	n, err := VerifyChain(path)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 valid lines, got %d err=%v", n, err)
	}

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	var obj map[string]any
	_ = json.Unmarshal([]byte(lines[1]), &obj)
	obj["user_id"] = "tampered"
	edited, _ := json.Marshal(obj)
	lines[1] = string(edited)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if n, err := VerifyChain(path); err == nil || n != 1 {
		t.Fatalf("expected break at line 2, got %d err=%v", n, err)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{w: w}
	l := Begin("corr-9", "u1", "p1", true, time.Now())
	l.IntentClass = "CLASS_D"
	if err := p.WriteAudit(context.Background(), l); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "corr-9" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	var got Log
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatal(err)
	}
	if got.CorrelationID != "corr-9" || !got.IsVoice || got.IntentClass != "CLASS_D" {
		t.Fatalf("unexpected payload %+v", got)
	}
}
