// Package gateway exposes the pipeline and its management surfaces over
// HTTP.
package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ayureze/astra/internal/capability"
	"github.com/ayureze/astra/internal/consent"
	"github.com/ayureze/astra/internal/memory"
	"github.com/ayureze/astra/internal/pipeline"
	"github.com/ayureze/astra/internal/policy"
)

const maxMessageLength = 5000

// Chatter runs one message through the pipeline.
type Chatter interface {
	Process(ctx context.Context, req pipeline.Request) pipeline.Response
}

// ConsentService grants, revokes and lists consent.
type ConsentService interface {
	Grant(ctx context.Context, userID, profileID string, purpose consent.Purpose, durationDays int) (*consent.Record, error)
	Revoke(ctx context.Context, userID, profileID string, purpose consent.Purpose) (time.Time, error)
	List(ctx context.Context, userID, profileID string) ([]consent.Result, error)
}

// MemoryService stores and retrieves profile memory.
type MemoryService interface {
	Store(ctx context.Context, profileID string, t memory.Type, content string, meta map[string]string, ttlDays int) memory.StoreResult
	Retrieve(ctx context.Context, query string, t memory.Type, profileID string, topK int, threshold float64) (string, bool)
	ClearProfile(ctx context.Context, profileID string, t memory.Type) int
	Stats() memory.Stats
}

// RegulationSource lists the legal rules that govern a capability.
type RegulationSource interface {
	ApplicableRegulations(capabilityName string, class capability.IntentClass) []policy.Regulation
}

// Options wires the server. Nil services answer 503. Rules is optional.
type Options struct {
	Pipeline  Chatter
	Catalog   *capability.Catalog
	Rules     RegulationSource
	Consents  ConsentService
	Memory    MemoryService
	AuthToken string
}

// Server is the HTTP gateway.
type Server struct {
	pipeline  Chatter
	catalog   *capability.Catalog
	rules     RegulationSource
	consents  ConsentService
	memory    MemoryService
	authToken string
	started   time.Time
}

// New creates a gateway server.
func New(opts Options) *Server {
	return &Server{
		pipeline:  opts.Pipeline,
		catalog:   opts.Catalog,
		rules:     opts.Rules,
		consents:  opts.Consents,
		memory:    opts.Memory,
		authToken: strings.TrimSpace(opts.AuthToken),
		started:   time.Now(),
	}
}

// Router builds the gin engine with every /astra route.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/astra/health", s.health)

	api := r.Group("/astra", s.requireToken)
	api.POST("/chat", s.chat)
	api.GET("/capabilities", s.listCapabilities)
	api.POST("/consent/grant", s.grantConsent)
	api.POST("/consent/revoke", s.revokeConsent)
	api.GET("/consent/:user/:profile", s.listConsents)
	api.POST("/memory/store", s.storeMemory)
	api.GET("/memory/:profile", s.retrieveMemory)
	api.DELETE("/memory/:profile", s.clearMemory)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

// Run serves on addr until ctx is cancelled, then drains in-flight
// requests for up to ten seconds.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Gateway listening", "addr", addr, "auth", s.authToken != "")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("Gateway stopped")
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) requireToken(c *gin.Context) {
	if s.authToken == "" {
		c.Next()
		return
	}
	got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(s.authToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func unavailable(c *gin.Context, component string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": component + " not initialized"})
}

type chatRequest struct {
	Message      string          `json:"message" binding:"required"`
	UserID       string          `json:"user_id" binding:"required"`
	ProfileID    string          `json:"profile_id" binding:"required"`
	Language     string          `json:"language"`
	IsVoice      bool            `json:"is_voice"`
	UserMetadata policy.Metadata `json:"user_metadata"`
}

type chatResponse struct {
	pipeline.Response
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) chat(c *gin.Context) {
	if s.pipeline == nil {
		unavailable(c, "pipeline")
		return
	}
	var in chatRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(in.Message) == "" || len(in.Message) > maxMessageLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message must be between 1 and 5000 characters"})
		return
	}

	slog.Info("Chat request", "user", in.UserID, "profile", in.ProfileID, "voice", in.IsVoice)
	resp := s.pipeline.Process(c.Request.Context(), pipeline.Request{
		Input:     in.Message,
		UserID:    in.UserID,
		ProfileID: in.ProfileID,
		Language:  in.Language,
		IsVoice:   in.IsVoice,
		Metadata:  in.UserMetadata,
	})
	slog.Info("Chat response", "correlation_id", resp.CorrelationID, "capability", resp.Capability, "outcome", resp.Outcome)

	status := http.StatusOK
	if resp.Outcome == pipeline.OutcomeRateLimited {
		status = http.StatusTooManyRequests
		if resp.Metadata.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(resp.Metadata.RetryAfter))
		}
	}
	c.JSON(status, chatResponse{Response: resp, Timestamp: time.Now().UTC()})
}

// CapabilityInfo is the public view of a catalogue entry.
type CapabilityInfo struct {
	Name            string              `json:"name"`
	Description     string              `json:"description"`
	IntentClass     string              `json:"intent_class"`
	RequiresAI      bool                `json:"requires_ai"`
	RequiresConsent bool                `json:"requires_consent"`
	RateLimit       string              `json:"rate_limit"`
	Forbidden       bool                `json:"forbidden"`
	Priority        int                 `json:"priority"`
	Regulations     []policy.Regulation `json:"regulations,omitempty"`
}

// CapabilityInfos flattens the catalogue for display. A nil rules source
// leaves Regulations empty.
func CapabilityInfos(cat *capability.Catalog, rules RegulationSource) []CapabilityInfo {
	defs := cat.Capabilities()
	out := make([]CapabilityInfo, 0, len(defs))
	for _, d := range defs {
		info := CapabilityInfo{
			Name:            d.Name,
			Description:     d.Description,
			IntentClass:     d.IntentClass.String(),
			RequiresAI:      d.RequiresAI,
			RequiresConsent: d.RequiresConsent,
			RateLimit:       d.RateLimit.String(),
			Forbidden:       d.Forbidden,
			Priority:        d.Priority,
		}
		if rules != nil {
			info.Regulations = rules.ApplicableRegulations(d.Name, d.IntentClass)
		}
		out = append(out, info)
	}
	return out
}

func (s *Server) listCapabilities(c *gin.Context) {
	if s.catalog == nil {
		unavailable(c, "capability agent")
		return
	}
	c.JSON(http.StatusOK, CapabilityInfos(s.catalog, s.rules))
}

type consentRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	ProfileID    string `json:"profile_id" binding:"required"`
	Purpose      string `json:"purpose" binding:"required"`
	DurationDays *int   `json:"duration_days"`
}

func (s *Server) bindConsent(c *gin.Context) (consentRequest, consent.Purpose, bool) {
	var in consentRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return in, "", false
	}
	purpose, err := consent.ParsePurpose(in.Purpose)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return in, "", false
	}
	return in, purpose, true
}

func (s *Server) grantConsent(c *gin.Context) {
	if s.consents == nil {
		unavailable(c, "consent manager")
		return
	}
	in, purpose, ok := s.bindConsent(c)
	if !ok {
		return
	}
	days := consent.DefaultDurationDays
	if in.DurationDays != nil {
		days = *in.DurationDays
	}
	rec, err := s.consents.Grant(c.Request.Context(), in.UserID, in.ProfileID, purpose, days)
	if err != nil {
		slog.Error("Consent grant failed", "profile", in.ProfileID, "purpose", purpose, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to grant consent"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"consent_id": rec.ID,
		"purpose":    rec.Purpose,
		"granted_at": rec.GrantedAt,
		"expires_at": rec.ExpiresAt,
	})
}

func (s *Server) revokeConsent(c *gin.Context) {
	if s.consents == nil {
		unavailable(c, "consent manager")
		return
	}
	in, purpose, ok := s.bindConsent(c)
	if !ok {
		return
	}
	at, err := s.consents.Revoke(c.Request.Context(), in.UserID, in.ProfileID, purpose)
	switch {
	case errors.Is(err, consent.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no consent found for " + string(purpose)})
		return
	case err != nil:
		slog.Error("Consent revoke failed", "profile", in.ProfileID, "purpose", purpose, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke consent"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "purpose": purpose, "revoked_at": at})
}

func (s *Server) listConsents(c *gin.Context) {
	if s.consents == nil {
		unavailable(c, "consent manager")
		return
	}
	profileID := c.Param("profile")
	results, err := s.consents.List(c.Request.Context(), c.Param("user"), profileID)
	if err != nil {
		slog.Error("Consent list failed", "profile", profileID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list consents"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile_id": profileID, "consents": results, "count": len(results)})
}

type memoryStoreRequest struct {
	ProfileID  string            `json:"profile_id" binding:"required"`
	MemoryType string            `json:"memory_type" binding:"required"`
	Content    string            `json:"content" binding:"required"`
	Metadata   map[string]string `json:"metadata"`
	TTLDays    int               `json:"ttl_days"`
}

func (s *Server) storeMemory(c *gin.Context) {
	if s.memory == nil {
		unavailable(c, "rag memory")
		return
	}
	var in memoryStoreRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res := s.memory.Store(c.Request.Context(), in.ProfileID, memory.Type(in.MemoryType), in.Content, in.Metadata, in.TTLDays)
	if !res.Success {
		c.JSON(http.StatusBadRequest, gin.H{"error": res.Error})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) retrieveMemory(c *gin.Context) {
	if s.memory == nil {
		unavailable(c, "rag memory")
		return
	}
	profileID := c.Param("profile")
	t := memory.Type(c.Query("type"))
	if err := memory.CheckType(t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	topK := memory.DefaultTopK
	if v := c.Query("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "top_k must be a positive integer"})
			return
		}
		topK = n
	}
	threshold := memory.DefaultThreshold
	if v := c.Query("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be between 0 and 1"})
			return
		}
		threshold = f
	}
	text, found := s.memory.Retrieve(c.Request.Context(), c.Query("query"), t, profileID, topK, threshold)
	c.JSON(http.StatusOK, gin.H{
		"profile_id":  profileID,
		"memory_type": t,
		"found":       found,
		"context":     text,
	})
}

func (s *Server) clearMemory(c *gin.Context) {
	if s.memory == nil {
		unavailable(c, "rag memory")
		return
	}
	profileID := c.Param("profile")
	t := memory.Type(c.Query("memory_type"))
	n := s.memory.ClearProfile(c.Request.Context(), profileID, t)
	c.JSON(http.StatusOK, gin.H{"success": true, "profile_id": profileID, "deleted_count": n})
}

func (s *Server) health(c *gin.Context) {
	state := func(ok bool) string {
		if ok {
			return "operational"
		}
		return "not_initialized"
	}
	components := gin.H{
		"pipeline":         state(s.pipeline != nil),
		"capability_agent": state(s.catalog != nil),
		"consent_manager":  state(s.consents != nil),
		"rag_memory":       state(s.memory != nil),
	}
	status := "healthy"
	for _, v := range components {
		if v != "operational" {
			status = "degraded"
		}
	}
	body := gin.H{
		"status":         status,
		"components":     components,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"timestamp":      time.Now().UTC(),
	}
	if s.memory != nil {
		body["memory"] = s.memory.Stats()
	}
	c.JSON(http.StatusOK, body)
}
