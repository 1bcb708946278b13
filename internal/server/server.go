// Package server is the thin HTTP front-end over the answer pipeline and
// the learning loop.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bassam-st/AI-Core-Engine--sub000/internal/logging"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/memory"
	"github.com/bassam-st/AI-Core-Engine--sub000/internal/pipeline"
)

const (
	maxBodyBytes       = 1 << 20
	defaultRecentLimit = 10
	maxRecentLimit     = 100
	requestIDHeader    = "X-Request-ID"
)

// Chatter answers one message.
type Chatter interface {
	Chat(ctx context.Context, q string) pipeline.Reply
}

// Learner runs the learning loop on demand.
type Learner interface {
	Trigger(ctx context.Context) string
}

// History lists recent conversation turns.
type History interface {
	RecentTurns(ctx context.Context, limit int) ([]memory.Turn, error)
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the handlers' collaborators. Metrics and Storage may be nil.
type Deps struct {
	Chat    Chatter
	Learner Learner
	History History
	Storage Pinger
	Metrics http.Handler
	Logger  *zap.Logger
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Query string `json:"query"`
}

// LearnResponse is the body returned by POST /api/learn.
type LearnResponse struct {
	Summary string `json:"summary"`
}

// PingResponse is the body returned by GET /ping.
type PingResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
	Uptime string `json:"uptime"`
}

// Server serves the HTTP API.
type Server struct {
	deps      Deps
	addr      string
	logger    *zap.Logger
	server    *http.Server
	startedAt time.Time
}

// New builds a server listening on addr once started.
func New(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{deps: deps, addr: addr, logger: logger, startedAt: time.Now()}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/ping", s.handlePing)
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/learn", s.handleLearn)
		r.Get("/recent", s.handleRecent)
	})
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}
	return r
}

// Start listens and serves until Stop. It returns once the listener is
// bound; serve errors are logged.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      150 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}

	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := logging.ContextWithLogger(r.Context(), s.logger.With(zap.String("request_id", id)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		requestLogger(r).Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func requestLogger(r *http.Request) *zap.Logger {
	logger, _ := logging.LoggerFromContext(r.Context())
	return logging.OrNop(logger)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	resp := PingResponse{
		Status: "ok",
		Time:   time.Now().Format(time.RFC3339),
		Uptime: time.Since(s.startedAt).Round(time.Second).String(),
	}
	status := http.StatusOK
	if s.deps.Storage != nil {
		if err := s.deps.Storage.Ping(r.Context()); err != nil {
			requestLogger(r).Warn("Storage ping failed", zap.Error(err))
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		requestLogger(r).Warn("Invalid chat request body", zap.Error(err))
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	reply := s.deps.Chat.Chat(r.Context(), req.Query)
	if reply.Sources == nil {
		reply.Sources = []pipeline.Source{}
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleLearn(w http.ResponseWriter, r *http.Request) {
	if s.deps.Learner == nil {
		http.Error(w, "learning is disabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, LearnResponse{Summary: s.deps.Learner.Trigger(r.Context())})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRecentLimit {
			http.Error(w, "limit must be between 1 and 100", http.StatusBadRequest)
			return
		}
		limit = n
	}

	turns, err := s.deps.History.RecentTurns(r.Context(), limit)
	if err != nil {
		requestLogger(r).Warn("Failed to list recent turns", zap.Error(err))
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	if turns == nil {
		turns = []memory.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
