package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
)

const (
	healthText   = "OK. Use POST /chat or open your Pages UI."
	maxBodyBytes = 1 << 20
)

// Service is the chat backend the HTTP surface exposes. *parley.Service satisfies it.
type Service interface {
	Chat(ctx context.Context, sessionID, message string) (parley.ChatReply, error)
	History(ctx context.Context, sessionID string) (domain.History, error)
	StartWorkflow(ctx context.Context, sessionID, message string) (string, error)
	Run(ctx context.Context, runID string) (*domain.WorkflowRun, error)
}

// Server routes the chat endpoints to a Service.
type Server struct {
	Service Service
	Streams *StreamManager

	origins        []string
	metrics        http.Handler
	logger         *slog.Logger
	defaultSession string
}

// Option configures the Server.
type Option func(*Server)

// WithAllowedOrigins restricts CORS to the given origins. "*" allows any.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithStreams shares a StreamManager, typically one whose Hooks feed the service.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		s.Streams = sm
	}
}

// WithLogger sets a custom structured logger, shared with the StreamManager.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a Server. Call Handler to obtain the routes.
func NewServer(svc Service, opts ...Option) *Server {
	s := &Server{
		Service:        svc,
		Streams:        NewStreamManager(),
		origins:        []string{"*"},
		defaultSession: domain.DefaultSessionID,
	}
	if d, ok := svc.(interface{ Defaults() parley.Defaults }); ok && d.Defaults().SessionID != "" {
		s.defaultSession = d.Defaults().SessionID
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewNop()
	} else {
		s.Streams.SetLogger(s.logger)
	}
	return s
}

// NewHandler creates a new HTTP handler for the service.
func NewHandler(svc Service, opts ...Option) http.Handler {
	return NewServer(svc, opts...).Handler()
}

// Handler builds the router, wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.GetHealth)
	r.Post("/chat", s.PostChat)
	r.Get("/history", s.GetHistory)
	r.Post("/wf", s.PostWorkflow)
	r.Get("/wf/{id}", s.GetRun)
	r.Get("/events", s.SubscribeEvents)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	return s.enableCORS(r)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, "Not found")
}

// GetHealth handles GET /.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, healthText)
}

// PostChat handles POST /chat.
func (s *Server) PostChat(w http.ResponseWriter, r *http.Request) {
	body, err := readTurnRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	reply, err := s.Service.Chat(r.Context(), body.SessionID, body.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reply)
}

// GetHistory handles GET /history?sessionId=.
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.Service.History(r.Context(), r.URL.Query().Get("sessionId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if hist == nil {
		hist = domain.History{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"hist": hist})
}

// PostWorkflow handles POST /wf. It returns as soon as the run is durable.
func (s *Server) PostWorkflow(w http.ResponseWriter, r *http.Request) {
	body, err := readTurnRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	runID, err := s.Service.StartWorkflow(r.Context(), body.SessionID, body.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "workflowRunId": runID})
}

// GetRun handles GET /wf/{id}.
func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.Service.Run(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

type turnRequest struct {
	SessionID string
	Message   string
}

// readTurnRequest decodes {sessionId?, message?}. A body that is not a JSON
// object is treated as {}; fields of the wrong type are rejected.
func readTurnRequest(r *http.Request) (turnRequest, error) {
	var out turnRequest

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return out, nil
	}
	if len(data) > maxBodyBytes {
		return out, errBodyTooLarge
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return out, nil
	}

	if out.SessionID, err = stringField(fields, "sessionId"); err != nil {
		return out, err
	}
	if out.Message, err = stringField(fields, "message"); err != nil {
		return out, err
	}
	return out, nil
}

var errBodyTooLarge = errors.Join(domain.ErrMalformedRequest, errors.New("request body too large"))

func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return "", nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", &fieldError{field: name}
	}
	return v, nil
}

type fieldError struct {
	field string
}

func (e *fieldError) Error() string {
	return domain.ErrMalformedRequest.Error() + ": field " + e.field + " must be a string"
}

func (e *fieldError) Unwrap() error {
	return domain.ErrMalformedRequest
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrMalformedRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRunNotFound), errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInferenceUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	} else {
		s.logger.Warn("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}
