package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ayureze/astra/internal/capability"
)

// DefaultDailyQuota is the GPU units a profile may spend per UTC day.
const DefaultDailyQuota = 100

// UsageStore persists daily usage so quotas survive restarts.
type UsageStore interface {
	LoadUsage(ctx context.Context, userID, profileID, day string) (int, error)
	SaveUsage(ctx context.Context, userID, profileID, day string, used int) error
}

// QuotaDecision is the result of a quota check.
type QuotaDecision struct {
	Allowed   bool      `json:"allowed"`
	Used      int       `json:"quota_used"`
	Limit     int       `json:"quota_limit"`
	Remaining int       `json:"quota_remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

// QuotaStatus is a read-only view of a profile's usage.
type QuotaStatus struct {
	Used       int       `json:"quota_used"`
	Limit      int       `json:"quota_limit"`
	Remaining  int       `json:"quota_remaining"`
	Percentage float64   `json:"percentage_used"`
	ResetsAt   time.Time `json:"resets_at"`
}

// GlobalStats summarises today's usage.
type GlobalStats struct {
	Date        string `json:"date"`
	ActiveUsers int    `json:"active_users"`
	TotalUsed   int    `json:"total_gpu_usage"`
}

type dailyUsage struct {
	day  string
	used int
}

// QuotaManager tracks daily GPU usage per (user, profile). Usage resets at
// UTC midnight.
type QuotaManager struct {
	limit int
	store UsageStore
	now   func() time.Time

	mu    sync.Mutex
	usage map[string]*dailyUsage
}

// QuotaOption configures a QuotaManager.
type QuotaOption func(*QuotaManager)

// WithUsageStore persists usage through s.
func WithUsageStore(s UsageStore) QuotaOption {
	return func(q *QuotaManager) { q.store = s }
}

// WithQuotaClock overrides the time source.
func WithQuotaClock(now func() time.Time) QuotaOption {
	return func(q *QuotaManager) { q.now = now }
}

// NewQuotaManager creates a manager. limit <= 0 selects DefaultDailyQuota.
func NewQuotaManager(limit int, opts ...QuotaOption) *QuotaManager {
	if limit <= 0 {
		limit = DefaultDailyQuota
	}
	q := &QuotaManager{limit: limit, now: time.Now, usage: make(map[string]*dailyUsage)}
	for _, o := range opts {
		o(q)
	}
	return q
}

func dayOf(t time.Time) string { return t.UTC().Format("2006-01-02") }

// nextReset is the next UTC midnight after t.
func nextReset(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}

// current returns today's usage entry, loading it from the store on first
// access. Callers hold q.mu.
func (q *QuotaManager) current(ctx context.Context, userID, profileID string, now time.Time) *dailyUsage {
	key := userKey(userID, profileID)
	day := dayOf(now)
	u, ok := q.usage[key]
	if ok && u.day == day {
		return u
	}
	u = &dailyUsage{day: day}
	if q.store != nil {
		used, err := q.store.LoadUsage(ctx, userID, profileID, day)
		if err != nil {
			slog.Warn("Load quota usage failed", "user_id", userID, "error", err)
		} else {
			u.used = used
		}
	}
	q.usage[key] = u
	return u
}

// Check admits a request costing cost units and records it if it fits.
// Emergencies are exempt and never counted.
func (q *QuotaManager) Check(ctx context.Context, userID, profileID, capabilityName string, cost int) QuotaDecision {
	now := q.now()
	resets := nextReset(now)
	if capabilityName == capability.EmergencyRedirect {
		return QuotaDecision{Allowed: true, Limit: q.limit, Remaining: q.limit, ResetsAt: resets}
	}
	if cost <= 0 {
		cost = 1
	}

	q.mu.Lock()
	u := q.current(ctx, userID, profileID, now)
	if u.used+cost > q.limit {
		used := u.used
		q.mu.Unlock()
		slog.Warn("GPU quota exceeded", "user_id", userID, "profile_id", profileID, "used", used, "limit", q.limit)
		return QuotaDecision{Used: used, Limit: q.limit, ResetsAt: resets}
	}
	u.used += cost
	used := u.used
	// Saved under q.mu so concurrent checks persist totals in order.
	if q.store != nil {
		if err := q.store.SaveUsage(ctx, userID, profileID, u.day, used); err != nil {
			slog.Warn("Save quota usage failed", "user_id", userID, "error", err)
		}
	}
	q.mu.Unlock()
	return QuotaDecision{Allowed: true, Used: used, Limit: q.limit, Remaining: q.limit - used, ResetsAt: resets}
}

// Status reports today's usage without consuming quota.
func (q *QuotaManager) Status(ctx context.Context, userID, profileID string) QuotaStatus {
	now := q.now()
	q.mu.Lock()
	used := q.current(ctx, userID, profileID, now).used
	q.mu.Unlock()
	remaining := q.limit - used
	if remaining < 0 {
		remaining = 0
	}
	return QuotaStatus{
		Used:       used,
		Limit:      q.limit,
		Remaining:  remaining,
		Percentage: float64(used) * 100 / float64(q.limit),
		ResetsAt:   nextReset(now),
	}
}

// Reset zeroes today's usage for a profile.
func (q *QuotaManager) Reset(ctx context.Context, userID, profileID string) {
	now := q.now()
	day := dayOf(now)
	q.mu.Lock()
	q.usage[userKey(userID, profileID)] = &dailyUsage{day: day}
	if q.store != nil {
		_ = q.store.SaveUsage(ctx, userID, profileID, day, 0)
	}
	q.mu.Unlock()
	slog.Info("GPU quota reset", "user_id", userID, "profile_id", profileID)
}

// Cleanup drops entries from previous days.
func (q *QuotaManager) Cleanup() int {
	today := dayOf(q.now())
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for k, u := range q.usage {
		if u.day != today {
			delete(q.usage, k)
			n++
		}
	}
	return n
}

// GlobalStats sums today's in-process usage.
func (q *QuotaManager) GlobalStats() GlobalStats {
	today := dayOf(q.now())
	q.mu.Lock()
	defer q.mu.Unlock()
	s := GlobalStats{Date: today}
	for _, u := range q.usage {
		if u.day == today && u.used > 0 {
			s.ActiveUsers++
			s.TotalUsed += u.used
		}
	}
	return s
}
