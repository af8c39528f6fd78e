// Copyright 2025 CodeCompanion
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/AidiJackson/codecompanion/config"
	"github.com/AidiJackson/codecompanion/events"
	"github.com/AidiJackson/codecompanion/orchestrator/budget"
	"github.com/AidiJackson/codecompanion/shared/logger"
	"github.com/AidiJackson/codecompanion/state"
)

// Server wires the routing core behind an HTTP API
type Server struct {
	cfg      *config.Config
	router   *Router
	cascade  *Cascade
	feedback *FeedbackLoop
	governor *budget.Governor
	bandit   *BanditLearner
	store    state.Store
	notifier events.Notifier
	logger   *logger.Logger
	db       *sql.DB
}

// NewServer assembles the full routing stack from configuration:
// stores, notifier, governor, learners, router, cascade and feedback
// loop, all injected explicitly.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger.New("routerd")}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to reach database: %w", err)
		}
		if err := state.EnsureSchema(ctx, db); err != nil {
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
		s.db = db
		s.store = state.NewPostgresStore(db)
		log.Printf("[Routerd] using Postgres state store")
	} else {
		s.store = state.NewMemoryStore()
		log.Printf("[Routerd] using in-memory state store (no DATABASE_URL)")
	}

	if cfg.Redis.Addr != "" {
		notifier, err := events.NewRedisNotifier(ctx, events.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			log.Printf("[Routerd] redis notifier unavailable, falling back to log notifier: %v", err)
			s.notifier = events.NewLogNotifier(nil)
		} else {
			s.notifier = notifier
		}
	} else {
		s.notifier = events.NewLogNotifier(nil)
	}

	pricing := budget.LoadPricingFromEnv()
	profiles := make([]ExecutorProfile, 0, len(cfg.Executors))
	for _, e := range cfg.Executors {
		profiles = append(profiles, profileFromConfig(e))
		pricing.SetCost(e.ID, e.CostPer1K)
	}

	s.governor = budget.NewGovernorWithOptions(s.store, pricing, tierLimits(cfg), &eventAlerter{notifier: s.notifier}, nil)

	s.bandit = NewBanditLearner()
	if arms, err := s.store.LoadArms(ctx); err != nil {
		log.Printf("[Routerd] failed to load persisted arms: %v", err)
	} else if len(arms) > 0 {
		restored := make([]BanditArm, 0, len(arms))
		for _, a := range arms {
			restored = append(restored, BanditArm{
				ExecutorID:     a.ExecutorID,
				Alpha:          a.Alpha,
				Beta:           a.Beta,
				Pulls:          a.Pulls,
				TotalReward:    a.TotalReward,
				ContextWeights: a.ContextWeights,
				LastUpdate:     a.UpdatedAt,
			})
		}
		s.bandit.Restore(restored)
		log.Printf("[Routerd] restored %d bandit arms", len(restored))
	}

	capability := NewCapabilityModel(profiles)
	weights := RouterWeights{
		Quality: cfg.Weights.Quality,
		Cost:    cfg.Weights.Cost,
		Latency: cfg.Weights.Latency,
	}
	s.router = NewRouter(profiles, capability, s.bandit, s.governor, RouterOptions{
		Store:    s.store,
		Notifier: s.notifier,
		Weights:  &weights,
	})
	s.cascade = NewCascade(CascadeOptions{
		StageTimeout: cfg.StageTimeout(),
		Notifier:     s.notifier,
	})
	s.feedback = NewFeedbackLoop(s.bandit, capability, FeedbackOptions{
		Governor: s.governor,
		Router:   s.router,
		Store:    s.store,
		Notifier: s.notifier,
	})
	return s, nil
}

// eventAlerter forwards budget violations to the notifier and the
// violation counter
type eventAlerter struct {
	notifier events.Notifier
}

func (a *eventAlerter) Alert(ctx context.Context, v budget.Violation) error {
	budgetViolationsTotal.WithLabelValues(string(v.Tier), v.Dimension).Inc()
	log.Printf("[BUDGET ALERT] project=%s tier=%s %s: %.2f over limit %.2f",
		v.ProjectID, v.Tier, v.Dimension, v.Observed, v.Limit)
	return a.notifier.Notify(ctx, events.Event{
		Type:      events.TypeBudgetViolation,
		ProjectID: v.ProjectID,
		Payload: map[string]interface{}{
			"tier":      string(v.Tier),
			"dimension": v.Dimension,
			"observed":  v.Observed,
			"limit":     v.Limit,
		},
		Timestamp: v.Timestamp,
	})
}

// profileFromConfig converts a catalog entry to a runtime profile
func profileFromConfig(e config.ExecutorConfig) ExecutorProfile {
	caps := make(map[TaskType]float64, len(e.Capabilities))
	for k, v := range e.Capabilities {
		caps[TaskType(k)] = v
	}
	return ExecutorProfile{
		ID:            e.ID,
		Name:          e.Name,
		CostPer1K:     e.CostPer1K,
		LatencyScore:  e.LatencyScore,
		MaxContext:    e.MaxContext,
		MaxConcurrent: e.MaxConcurrent,
		Capabilities:  caps,
		CostScore:     e.CostScore,
	}
}

// tierLimits merges configured tier overrides over the defaults
func tierLimits(cfg *config.Config) map[budget.Tier]budget.Limits {
	limits := budget.DefaultLimits()
	for name, t := range cfg.Tiers {
		tier := budget.Tier(name)
		if !budget.ValidTier(tier) {
			log.Printf("[Routerd] ignoring limits for unknown tier %q", name)
			continue
		}
		limits[tier] = budget.Limits{
			MaxTokens:     t.MaxTokens,
			MaxConcurrent: t.MaxConcurrent,
			MaxSpendUSD:   t.MaxSpendUSD,
			MaxRequests:   t.MaxRequests,
			Window:        t.Window(),
		}
	}
	return limits
}

// Run starts the HTTP service and the background maintenance loop,
// blocking until the context is cancelled
func (s *Server) Run(ctx context.Context) error {
	go s.maintenanceLoop(ctx)

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/route", s.handleRoute).Methods("POST")
	api.HandleFunc("/artifacts/evaluate", s.handleEvaluateArtifact).Methods("POST")
	api.HandleFunc("/outcomes", s.handleOutcome).Methods("POST")
	api.HandleFunc("/executors/status", s.handleExecutorStatus).Methods("GET")
	api.HandleFunc("/router/weights", s.handleUpdateWeights).Methods("PUT")
	api.HandleFunc("/budget/{project_id}", s.handleBudget).Methods("GET")

	handler := cors.New(cors.Options{
		AllowedOrigins: strings.Split(getEnv("CORS_ORIGINS", "*"), ","),
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(r)

	srv := &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Routerd] listening on :%s", s.cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.Close()
		return nil
	case err := <-errCh:
		s.Close()
		return err
	}
}

// maintenanceLoop runs the off-hot-path work: predictor retraining and
// bandit decay
func (s *Server) maintenanceLoop(ctx context.Context) {
	interval := s.cfg.RetrainInterval()
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.feedback.Retrain(); n > 0 {
				log.Printf("[Routerd] predictor retraining pass fit %d models", n)
			}
			s.bandit.Decay(7 * 24 * time.Hour)
		}
	}
}

// Close releases held resources
func (s *Server) Close() {
	if s.notifier != nil {
		_ = s.notifier.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// authMiddleware validates HS256 bearer tokens on the API surface. An
// empty JWT secret disables auth for local development.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.JWTSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RouteRequest is the POST /api/v1/route request body
type RouteRequest struct {
	Task        TaskDescriptor `json:"task"`
	EligibleIDs []string       `json:"eligible_executor_ids,omitempty"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	decision, err := s.router.Route(r.Context(), req.Task, req.EligibleIDs)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidTask):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrNoEligibleExecutor):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ErrNoAffordableExecutor):
			writeError(w, http.StatusPaymentRequired, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "routing failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// EvaluateRequest is the POST /api/v1/artifacts/evaluate request body
type EvaluateRequest struct {
	Artifact CascadeArtifact `json:"artifact"`
	Tier     budget.Tier     `json:"tier"`
}

// EvaluateResponse carries the terminal cascade state plus the updated
// artifact so callers can resubmit revisions with the stamped
// fingerprint and revision count
type EvaluateResponse struct {
	State    CascadeStage     `json:"state"`
	Outcome  *CascadeOutcome  `json:"outcome"`
	Artifact *CascadeArtifact `json:"artifact"`
}

func (s *Server) handleEvaluateArtifact(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Artifact.TaskID == "" || req.Artifact.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "artifact task_id and project_id are required")
		return
	}
	if !budget.ValidTier(req.Tier) {
		writeError(w, http.StatusBadRequest, budget.ErrUnknownTier.Error())
		return
	}

	outcome, err := s.cascade.Evaluate(r.Context(), &req.Artifact, req.Tier)
	resp := EvaluateResponse{Outcome: outcome, Artifact: &req.Artifact}
	switch {
	case err == nil:
		resp.State = outcome.State
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, ErrCascadeRevision):
		resp.State = StageInitialProducer
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, ErrCascadeFailed):
		resp.State = StateFailed
		writeJSON(w, http.StatusOK, resp)
	default:
		writeError(w, http.StatusInternalServerError, "cascade evaluation failed")
	}
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var outcome TaskOutcome
	if err := json.NewDecoder(r.Body).Decode(&outcome); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if outcome.TaskID == "" || outcome.ExecutorID == "" {
		writeError(w, http.StatusBadRequest, "task_id and executor_id are required")
		return
	}
	if _, ok := s.router.Profile(outcome.ExecutorID); !ok {
		writeError(w, http.StatusUnprocessableEntity, ErrUnknownExecutor.Error())
		return
	}

	s.feedback.TrackOutcome(r.Context(), outcome)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "tracked"})
}

// ExecutorStatus is one row of GET /api/v1/executors/status
type ExecutorStatus struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Load          float64 `json:"load"`
	PosteriorMean float64 `json:"posterior_mean"`
	ConfidenceLo  float64 `json:"confidence_lo"`
	ConfidenceHi  float64 `json:"confidence_hi"`
	Pulls         int64   `json:"pulls"`
}

func (s *Server) handleExecutorStatus(w http.ResponseWriter, r *http.Request) {
	profiles := s.router.Profiles()
	statuses := make([]ExecutorStatus, 0, len(profiles))
	for _, p := range profiles {
		lo, hi := s.bandit.ConfidenceInterval(p.ID)
		arm := s.bandit.Arm(p.ID)
		statuses = append(statuses, ExecutorStatus{
			ID:            p.ID,
			Name:          p.Name,
			Load:          s.router.Load(p.ID),
			PosteriorMean: s.bandit.PosteriorMean(p.ID),
			ConfidenceLo:  lo,
			ConfidenceHi:  hi,
			Pulls:         arm.Pulls,
		})
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleUpdateWeights(w http.ResponseWriter, r *http.Request) {
	var weights RouterWeights
	if err := json.NewDecoder(r.Body).Decode(&weights); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, s.router.UpdateWeights(weights))
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["project_id"]
	tier := budget.TierMedium
	if param := r.URL.Query().Get("tier"); param != "" {
		tier = budget.Tier(param)
		if !budget.ValidTier(tier) {
			writeError(w, http.StatusBadRequest, budget.ErrUnknownTier.Error())
			return
		}
	}
	usage, err := s.governor.Usage(r.Context(), projectID, tier)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	limits, _ := s.governor.Limits(tier)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"usage":  usage,
		"limits": limits,
		"tier":   tier,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if !s.governor.IsHealthy(r.Context()) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":  status,
		"service": "routerd",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Routerd] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// getEnv reads an environment variable with a default
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
