// Package server exposes the assistant over HTTP: the chat and image
// endpoints of the storefront widget, cache administration and health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/barekit/vitrine/pkg/analytics"
	"github.com/barekit/vitrine/pkg/assistant"
	"github.com/barekit/vitrine/pkg/cache"
	"github.com/barekit/vitrine/pkg/llm"
	"github.com/barekit/vitrine/pkg/memory"
	"github.com/google/uuid"
)

// maxBodyBytes bounds request bodies; image data URLs make up most of it.
const maxBodyBytes = 10 << 20

// Assistant is what the handlers need from *assistant.Assistant.
type Assistant interface {
	Answer(ctx context.Context, history []llm.Message, query string) (*assistant.Answer, error)
	MatchImage(ctx context.Context, imageURL string) (*assistant.ImageMatch, error)
}

// Server routes HTTP requests to the assistant.
type Server struct {
	assistant    Assistant
	sessions     memory.Memory
	historyLimit int
	cache        cache.Store
	health       *Health
	logger       *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithSessions keeps conversation history server side. Requests carrying a
// sessionId get the stored turns, at most limit of them, as history.
func WithSessions(m memory.Memory, limit int) Option {
	return func(s *Server) {
		s.sessions = m
		s.historyLimit = limit
	}
}

// WithCache enables the cache administration endpoints.
func WithCache(c cache.Store) Option {
	return func(s *Server) { s.cache = c }
}

// WithHealth sets the health checks served on /healthz.
func WithHealth(h *Health) Option {
	return func(s *Server) {
		if h != nil {
			s.health = h
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Server.
func New(a Assistant, opts ...Option) *Server {
	s := &Server{
		assistant: a,
		health:    NewHealth(""),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with logging and panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/analyze-image", s.handleAnalyzeImage)
	mux.HandleFunc("GET /api/cache/stats", s.handleCacheStats)
	mux.HandleFunc("DELETE /api/cache", s.handleCacheClear)
	mux.Handle("GET /healthz", s.health)
	return s.withMiddleware(mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down within
// shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// chatRequest carries the conversation so far. The last user message is the
// question. When sessionId names a live session the stored turns are the
// history and any earlier client messages are ignored.
type chatRequest struct {
	Messages  []llm.Message `json:"messages"`
	SessionID string        `json:"sessionId,omitempty"`
	Page      string        `json:"page,omitempty"`
}

type chatResponse struct {
	*assistant.Answer
	SessionID string `json:"sessionId,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", string(assistant.CodeInvalidRequest))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "Messages array is required", string(assistant.CodeInvalidRequest))
		return
	}

	last := -1
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			last = i
			break
		}
	}
	if last < 0 {
		writeError(w, http.StatusBadRequest, "No user message found", string(assistant.CodeInvalidRequest))
		return
	}
	query := req.Messages[last].Content
	history := req.Messages[:last]

	ctx := r.Context()
	page := req.Page
	if page == "" {
		page = r.Referer()
	}
	ctx = analytics.WithPage(ctx, page)

	sessionID := req.SessionID
	if s.sessions != nil {
		if sessionID == "" {
			sessionID = uuid.NewString()
		} else {
			stored, err := s.sessions.Load(ctx, sessionID)
			if err != nil {
				s.logger.Warn("failed to load session history", "session", sessionID, "error", err)
			}
			if len(stored) > 0 {
				history = stored
			}
		}
		history = memory.Recent(history, s.historyLimit)
	}

	ans, err := s.assistant.Answer(ctx, history, query)
	if err != nil {
		s.writeAssistantError(w, err)
		return
	}

	if s.sessions != nil {
		s.remember(ctx, sessionID,
			llm.Message{Role: llm.RoleUser, Content: query},
			llm.Message{Role: llm.RoleAssistant, Content: ans.Message})
	} else {
		sessionID = ""
	}

	writeJSON(w, http.StatusOK, chatResponse{Answer: ans, SessionID: sessionID})
}

func (s *Server) remember(ctx context.Context, sessionID string, msgs ...llm.Message) {
	for _, msg := range msgs {
		if err := s.sessions.Save(ctx, sessionID, msg); err != nil {
			s.logger.Warn("failed to save session history", "session", sessionID, "error", err)
			return
		}
	}
}

type imageRequest struct {
	Image string `json:"image"`
}

func (s *Server) handleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	var req imageRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", string(assistant.CodeInvalidRequest))
		return
	}
	if req.Image == "" {
		writeError(w, http.StatusBadRequest, "No image provided", string(assistant.CodeInvalidRequest))
		return
	}

	match, err := s.assistant.MatchImage(r.Context(), req.Image)
	if err != nil {
		s.writeAssistantError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, match)
}

type cacheStatsResponse struct {
	Size    int               `json:"size"`
	MaxSize int               `json:"maxSize"`
	Entries []cacheEntryStats `json:"entries"`
}

type cacheEntryStats struct {
	Query      string `json:"query"`
	Hits       int    `json:"hits"`
	AgeSeconds int64  `json:"ageSeconds"`
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusNotFound, "Cache not configured", "")
		return
	}
	stats, err := s.cache.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to read cache stats", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read cache stats", string(assistant.CodeInternal))
		return
	}

	resp := cacheStatsResponse{
		Size:    stats.Size,
		MaxSize: stats.MaxSize,
		Entries: make([]cacheEntryStats, len(stats.Entries)),
	}
	for i, e := range stats.Entries {
		resp.Entries[i] = cacheEntryStats{Query: e.Query, Hits: e.Hits, AgeSeconds: int64(e.Age / time.Second)}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusNotFound, "Cache not configured", "")
		return
	}
	if err := s.cache.Clear(r.Context()); err != nil {
		s.logger.Error("failed to clear cache", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to clear cache", string(assistant.CodeInternal))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeAssistantError(w http.ResponseWriter, err error) {
	var ae *assistant.Error
	if !errors.As(err, &ae) {
		s.logger.Error("unclassified assistant error", "error", err)
		writeError(w, http.StatusInternalServerError, "An error occurred while processing your request", string(assistant.CodeInternal))
		return
	}
	writeError(w, statusFor(ae.Code), ae.Message, string(ae.Code))
}

func statusFor(code assistant.Code) int {
	switch code {
	case assistant.CodeInvalidRequest:
		return http.StatusBadRequest
	case assistant.CodeTimeout:
		return http.StatusGatewayTimeout
	case assistant.CodeProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
