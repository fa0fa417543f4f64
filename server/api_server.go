// Package server exposes the consensus pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"consensus-core/core"
	"consensus-core/store"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// UserHeader carries the authenticated user id, set by the auth proxy in
// front of the service.
const UserHeader = "X-User-ID"

const minPromptRunes = 3

// Pipeline runs one consensus query.
type Pipeline interface {
	Run(ctx context.Context, userPrompt, correlationID string) (*core.PipelineResult, error)
}

// Store is the persistence the server needs.
type Store interface {
	Profile(ctx context.Context, userID string) (store.Profile, error)
	RunsToday(ctx context.Context, userID string) (int, error)
	EnsureConversation(ctx context.Context, userID, conversationID, prompt string) (string, error)
	AddMessage(ctx context.Context, id, conversationID, userID, role, content string) (string, error)
	SaveRun(ctx context.Context, userID, conversationID string, result *core.PipelineResult) error
	ListConversations(ctx context.Context, userID string) ([]store.Conversation, error)
	ConversationMessages(ctx context.Context, userID, conversationID string) ([]store.Message, error)
	DeleteConversation(ctx context.Context, userID, conversationID string) error
	Stats(ctx context.Context) (store.Stats, error)
}

// Options configures an APIServer.
type Options struct {
	FreeDailyLimit int
	ProDailyLimit  int
	CORSOrigins    []string
}

// APIServer handles HTTP requests for the consensus pipeline.
type APIServer struct {
	pipeline Pipeline
	store    Store
	pool     *ProviderPool
	opts     Options
	router   *mux.Router
	handler  http.Handler
	logger   *zap.Logger

	startTime  time.Time
	runs       atomic.Int64
	failedRuns atomic.Int64
}

// NewAPIServer creates a new API server instance. pool may be nil when
// provider statistics are not tracked.
func NewAPIServer(pipeline Pipeline, st Store, pool *ProviderPool, opts Options, logger *zap.Logger) *APIServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pool == nil {
		pool = NewProviderPool()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	s := &APIServer{
		pipeline:  pipeline,
		store:     st,
		pool:      pool,
		opts:      opts,
		router:    mux.NewRouter(),
		logger:    logger.Named("api"),
		startTime: time.Now(),
	}
	s.setupRoutes()

	s.handler = cors.New(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", UserHeader},
	}).Handler(s.router)
	return s
}

func (s *APIServer) setupRoutes() {
	s.router.HandleFunc("/api/v1/consensus", s.handleConsensus).Methods("POST")
	s.router.HandleFunc("/api/v1/history", s.handleGetHistory).Methods("GET")
	s.router.HandleFunc("/api/v1/history", s.handleDeleteHistory).Methods("DELETE")

	// System management
	s.router.HandleFunc("/api/v1/providers", s.handleGetProviders).Methods("GET")
	s.router.HandleFunc("/api/v1/stats", s.handleGetStats).Methods("GET")
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
}

// ServeHTTP implements http.Handler, delegating to the CORS-wrapped router.
func (s *APIServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *APIServer) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.logger.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserHeader))
}

func (s *APIServer) dailyLimit(plan string) int {
	if plan == store.PlanPro {
		return s.opts.ProDailyLimit
	}
	return s.opts.FreeDailyLimit
}

func (s *APIServer) handleConsensus(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		s.sendError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req ConsensusRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if utf8.RuneCountInString(prompt) < minPromptRunes {
		s.sendError(w, http.StatusBadRequest, "Invalid prompt")
		return
	}

	ctx := r.Context()
	log := s.logger.With(zap.String("user_id", user))

	profile, err := s.store.Profile(ctx, user)
	if err != nil {
		log.Error("failed to load profile", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	limit := s.dailyLimit(profile.Plan)
	used, err := s.store.RunsToday(ctx, user)
	if err != nil {
		log.Error("failed to count runs", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if used >= limit {
		s.sendError(w, http.StatusTooManyRequests, fmt.Sprintf("Daily limit of %d queries reached.", limit))
		return
	}

	convID, err := s.store.EnsureConversation(ctx, user, req.ConversationID, prompt)
	if errors.Is(err, store.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		log.Error("failed to create conversation", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	messageID := uuid.NewString()
	if _, err := s.store.AddMessage(ctx, messageID, convID, user, store.RoleUser, prompt); err != nil {
		log.Error("failed to store user message", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	s.runs.Add(1)
	result, err := s.pipeline.Run(ctx, prompt, messageID)
	if err != nil {
		s.failedRuns.Add(1)
		if errors.Is(err, core.ErrInsufficientResponses) {
			log.Warn("pipeline aborted", zap.String("message_id", messageID), zap.Error(err))
			s.sendErrorCode(w, http.StatusServiceUnavailable, err.Error(), "insufficient_responses")
			return
		}
		log.Error("pipeline failed", zap.String("message_id", messageID), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.pool.ObserveRun(result)

	if err := s.store.SaveRun(ctx, user, convID, result); err != nil {
		log.Error("failed to store run", zap.String("message_id", messageID), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Info("consensus delivered",
		zap.String("message_id", messageID),
		zap.String("winner", string(result.Consensus.Winner)),
		zap.Int("confidence", result.Consensus.ConfidenceScore),
		zap.Int64("processing_time_ms", result.Consensus.ProcessingTimeMs))

	s.sendJSON(w, http.StatusOK, ConsensusResponse{
		Success: true,
		Data: ConsensusData{
			PipelineResult: result,
			ConversationID: convID,
			RateLimit: RateLimit{
				Remaining: max(0, limit-used-1),
				Limit:     limit,
			},
		},
	})
}

func (s *APIServer) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		s.sendError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if convID := r.URL.Query().Get("conversation_id"); convID != "" {
		messages, err := s.store.ConversationMessages(r.Context(), user, convID)
		if errors.Is(err, store.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		if err != nil {
			s.logger.Error("failed to load messages", zap.Error(err))
			s.sendError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		s.sendJSON(w, http.StatusOK, HistoryResponse{Success: true, Messages: messages})
		return
	}

	conversations, err := s.store.ListConversations(r.Context(), user)
	if err != nil {
		s.logger.Error("failed to list conversations", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.sendJSON(w, http.StatusOK, HistoryResponse{Success: true, Conversations: conversations})
}

func (s *APIServer) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		s.sendError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		s.sendError(w, http.StatusBadRequest, "Missing id")
		return
	}

	err := s.store.DeleteConversation(r.Context(), user, id)
	if errors.Is(err, store.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to delete conversation", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.sendJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *APIServer) handleGetProviders(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.pool.Snapshot())
}

func (s *APIServer) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stored, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to load stats", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	stats := ServiceStats{
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runs:          s.runs.Load(),
		FailedRuns:    s.failedRuns.Load(),
		StoredRuns:    stored.Runs,
		TotalTokens:   stored.TotalTokens,
		TotalCostUSD:  stored.TotalCostUSD,
	}
	if stats.Runs > 0 {
		stats.SuccessRate = float64(stats.Runs-stats.FailedRuns) / float64(stats.Runs)
	}
	s.sendJSON(w, http.StatusOK, stats)
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helper functions for HTTP responses
func (s *APIServer) sendJSON(w http.ResponseWriter, status int, data any) {
	// Marshal first so an encoding failure can still become a 500.
	jsonData, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal response", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"error":"Failed to encode response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(jsonData); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *APIServer) sendError(w http.ResponseWriter, status int, message string) {
	s.sendErrorCode(w, status, message, "")
}

func (s *APIServer) sendErrorCode(w http.ResponseWriter, status int, message, code string) {
	s.sendJSON(w, status, ErrorResponse{Success: false, Error: message, Code: code})
}

// Middleware functions
func (s *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *APIServer) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", zap.Any("panic", err), zap.String("path", r.URL.Path))
				s.sendError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
