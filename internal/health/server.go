package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	mserrors "github.com/actual-software/mailslot/internal/errors"
)

const (
	defaultTimeoutSeconds = 5
	idleTimeoutSeconds    = 60
	maxHeaderBytesShift   = 16   // 64KB
	maxRequestBodyBytes   = 4096 // 4KB
)

// Middleware wraps a handler, for example with tracing.
type Middleware func(http.Handler) http.Handler

// Server provides HTTP endpoints for health checks and channel snapshots.
type Server struct {
	checker    *Checker
	channels   Channels
	addr       string
	logger     *zap.Logger
	middleware Middleware

	server *http.Server
	mu     sync.Mutex
}

// NewServer creates a health server listening on addr.
func NewServer(checker *Checker, addr string, logger *zap.Logger, middleware Middleware) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		checker:    checker,
		channels:   checker.channels,
		addr:       addr,
		logger:     logger,
		middleware: middleware,
	}
}

// Handler returns the health endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /channels", s.handleChannels)
	mux.HandleFunc("GET /channels/{id}", s.handleChannel)

	var handler http.Handler = mux
	if s.middleware != nil {
		handler = s.middleware(handler)
	}

	return securityHeadersMiddleware(handler)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadTimeout:       defaultTimeoutSeconds * time.Second,
		ReadHeaderTimeout: defaultTimeoutSeconds * time.Second,
		WriteTimeout:      defaultTimeoutSeconds * time.Second,
		IdleTimeout:       idleTimeoutSeconds * time.Second,
		MaxHeaderBytes:    1 << maxHeaderBytesShift,
	}

	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	s.logger.Info("Health server listening", zap.String("address", s.addr))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	status := s.checker.Check()

	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, status)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	if s.checker.IsReady() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))

		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("Not ready"))
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	stats := s.channels.Stats()

	if r.URL.Query().Get("active") == "true" {
		active := stats[:0:0]

		for _, st := range stats {
			if st.Messages > 0 || st.Readers > 0 || st.Writers > 0 {
				active = append(active, st)
			}
		}

		stats = active
	}

	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 || id >= s.channels.Len() {
		s.writeJSON(w, http.StatusNotFound, errorBody(mserrors.New(mserrors.KindNoSuchChannel)))

		return
	}

	s.writeJSON(w, http.StatusOK, s.channels.Stats()[id])
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorBody(err *mserrors.Error) errorResponse {
	return errorResponse{
		Kind:    string(err.Kind),
		Code:    err.Code,
		Message: err.Message,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("Failed to encode health response", zap.Error(err))
	}
}

// securityHeadersMiddleware adds security headers to health responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none';")

		next.ServeHTTP(w, r)
	})
}
