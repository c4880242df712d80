package consent

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Manager verifies, grants and revokes consent. Granted records are cached
// per (user, profile, purpose); every cache hit re-checks expiry.
type Manager struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]Record
	gen   map[string]uint64

	loads singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a consent manager backed by store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		now:   time.Now,
		cache: make(map[string]Record),
		gen:   make(map[string]uint64),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func cacheKey(userID, profileID string, purpose Purpose) string {
	return userID + ":" + profileID + ":" + string(purpose)
}

// Verify checks astra_usage first, then the purpose the capability maps to
// (or the explicit purpose when non-empty). A failing astra_usage check
// short-circuits.
func (m *Manager) Verify(ctx context.Context, userID, profileID, capabilityName string, purpose Purpose) Result {
	base := m.check(ctx, userID, profileID, PurposeAstraUsage)
	if !base.Granted {
		slog.Info("Astra usage consent missing", "user", userID, "profile", profileID, "status", base.Status)
		return base
	}

	if purpose == "" {
		p, ok := PurposeFor(capabilityName)
		if !ok {
			return base
		}
		purpose = p
	}
	if purpose == PurposeAstraUsage {
		return base
	}
	return m.check(ctx, userID, profileID, purpose)
}

// Check evaluates a single purpose without the astra_usage precondition.
func (m *Manager) Check(ctx context.Context, userID, profileID string, purpose Purpose) Result {
	return m.check(ctx, userID, profileID, purpose)
}

func (m *Manager) check(ctx context.Context, userID, profileID string, purpose Purpose) Result {
	key := cacheKey(userID, profileID, purpose)
	now := m.now()

	m.mu.Lock()
	cached, hit := m.cache[key]
	gen := m.gen[key]
	m.mu.Unlock()
	if hit {
		res := resultFor(purpose, &cached, now)
		if res.Granted {
			return res
		}
		m.invalidate(key)
		return res
	}

	v, err, _ := m.loads.Do(key, func() (any, error) {
		return m.store.GetConsent(ctx, userID, profileID, purpose)
	})
	var rec *Record
	switch {
	case err == nil:
		rec = v.(*Record)
	case errors.Is(err, ErrNotFound):
	default:
		slog.Error("Consent lookup failed", "user", userID, "profile", profileID, "purpose", purpose, "error", err)
	}

	res := resultFor(purpose, rec, now)
	if res.Granted {
		m.mu.Lock()
		// Skip caching when a grant or revoke raced with the load.
		if m.gen[key] == gen {
			m.cache[key] = *rec
		}
		m.mu.Unlock()
	}
	return res
}

// Grant records consent valid for durationDays (DefaultDurationDays when
// negative). A zero-day grant expires as soon as the clock moves.
func (m *Manager) Grant(ctx context.Context, userID, profileID string, purpose Purpose, durationDays int) (*Record, error) {
	if _, err := ParsePurpose(string(purpose)); err != nil {
		return nil, err
	}
	if durationDays < 0 {
		durationDays = DefaultDurationDays
	}
	key := cacheKey(userID, profileID, purpose)
	m.invalidate(key)

	now := m.now()
	rec := &Record{
		ID:        newConsentID(),
		UserID:    userID,
		ProfileID: profileID,
		Purpose:   purpose,
		GrantedAt: now,
		ExpiresAt: now.AddDate(0, 0, durationDays),
		IsActive:  true,
	}
	if err := m.store.PutConsent(ctx, rec); err != nil {
		return nil, fmt.Errorf("save consent: %w", err)
	}
	slog.Info("Consent granted", "user", userID, "profile", profileID, "purpose", purpose, "expires_at", rec.ExpiresAt)
	return rec, nil
}

// Revoke marks the consent revoked now.
func (m *Manager) Revoke(ctx context.Context, userID, profileID string, purpose Purpose) (time.Time, error) {
	key := cacheKey(userID, profileID, purpose)
	m.invalidate(key)
	at := m.now()
	if err := m.store.RevokeConsent(ctx, userID, profileID, purpose, at); err != nil {
		return time.Time{}, fmt.Errorf("revoke consent: %w", err)
	}
	m.invalidate(key)
	slog.Info("Consent revoked", "user", userID, "profile", profileID, "purpose", purpose)
	return at, nil
}

// List returns the evaluated status of every purpose for a profile.
func (m *Manager) List(ctx context.Context, userID, profileID string) ([]Result, error) {
	recs, err := m.store.ListConsents(ctx, userID, profileID)
	if err != nil {
		return nil, fmt.Errorf("list consents: %w", err)
	}
	byPurpose := make(map[Purpose]*Record, len(recs))
	for i := range recs {
		byPurpose[recs[i].Purpose] = &recs[i]
	}
	now := m.now()
	out := make([]Result, 0, len(Purposes()))
	for _, p := range Purposes() {
		out = append(out, resultFor(p, byPurpose[p], now))
	}
	return out, nil
}

// VerifyGuardian always returns ErrGuardianConsentUnimplemented. Callers
// must treat that as "not verified".
func (m *Manager) VerifyGuardian(ctx context.Context, userID, minorProfileID, guardianID string) (Result, error) {
	return Result{Status: StatusNotRequested, Purpose: PurposeFamilyProfileAccess}, ErrGuardianConsentUnimplemented
}

// InvalidateAll drops every cached record.
func (m *Manager) InvalidateAll() {
	m.mu.Lock()
	for k := range m.cache {
		m.gen[k]++
	}
	m.cache = make(map[string]Record)
	m.mu.Unlock()
}

func (m *Manager) invalidate(key string) {
	m.mu.Lock()
	delete(m.cache, key)
	m.gen[key]++
	m.mu.Unlock()
	m.loads.Forget(key)
}

func newConsentID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err == nil {
		return "cns-" + hex.EncodeToString(b[:])
	}
	return fmt.Sprintf("cns-%d", time.Now().UnixNano())
}
