package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aretw0/sessiond/internal/logging"
	"github.com/aretw0/sessiond/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sessions is the part of the storage facade exposed over HTTP.
type Sessions interface {
	Lookup(ctx context.Context, id string) (*domain.Session, error)
	CountActiveSessions(ctx context.Context) int
	CountUserSessions(ctx context.Context, userID, contextID int) (int, error)
	Active() bool
}

// Server serves health, metrics and read-only session endpoints.
type Server struct {
	Sessions Sessions
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithGatherer sets the registry served on /metrics. Defaults to the global one.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the request error logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewHandler creates a new HTTP handler over the session storage.
func NewHandler(sessions Sessions, opts ...Option) http.Handler {
	server := &Server{
		Sessions: sessions,
		gatherer: prometheus.DefaultGatherer,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(server)
	}

	r := chi.NewRouter()
	// Cross-origin access is limited to health and metrics. Session routes
	// expose attributes and refresh idle clocks.
	r.Group(func(r chi.Router) {
		r.Use(enableCORS)
		r.Get("/healthz", server.Health)
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(server.gatherer, promhttp.HandlerOpts{}))
		r.Options("/healthz", preflight)
		r.Options("/metrics", preflight)
	})
	r.Get("/sessions/count", server.Count)
	r.Get("/sessions/{id}", server.Session)
	r.Get("/users/{user}/contexts/{context}/sessions/count", server.UserCount)
	return r
}

// preflight is never reached; enableCORS answers OPTIONS itself.
func preflight(http.ResponseWriter, *http.Request) {}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionView is the public representation of a session. Secrets are omitted.
type SessionView struct {
	ID            string            `json:"id"`
	UserID        int               `json:"user_id"`
	ContextID     int               `json:"context_id"`
	Login         string            `json:"login"`
	AlternativeID string            `json:"alternative_id,omitempty"`
	Client        string            `json:"client,omitempty"`
	LocalIP       string            `json:"local_ip,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	StaySignedIn  bool              `json:"stay_signed_in"`
	Transient     bool              `json:"transient"`
	CreatedAt     time.Time         `json:"created_at"`
	Parameters    map[string]string `json:"parameters,omitempty"`
}

// NewSessionView builds the public view of s.
func NewSessionView(s *domain.Session) SessionView {
	return SessionView{
		ID:            s.ID,
		UserID:        s.UserID,
		ContextID:     s.ContextID,
		Login:         s.Login,
		AlternativeID: s.AlternativeID,
		Client:        s.Client,
		LocalIP:       s.LocalIP,
		UserAgent:     s.UserAgent,
		StaySignedIn:  s.StaySignedIn,
		Transient:     s.Transient,
		CreatedAt:     s.CreatedAt,
		Parameters:    s.Parameters,
	}
}

// Health handles GET /healthz.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if !s.Sessions.Active() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "inactive"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Count handles GET /sessions/count.
func (s *Server) Count(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]int{"count": s.Sessions.CountActiveSessions(r.Context())})
}

// Session handles GET /sessions/{id}.
func (s *Server) Session(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSessionView(sess))
}

// UserCount handles GET /users/{user}/contexts/{context}/sessions/count.
func (s *Server) UserCount(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(chi.URLParam(r, "user"))
	if err != nil {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return
	}
	contextID, err := strconv.Atoi(chi.URLParam(r, "context"))
	if err != nil {
		http.Error(w, "Invalid context id", http.StatusBadRequest)
		return
	}
	n, err := s.Sessions.CountUserSessions(r.Context(), userID, contextID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// statusFor maps storage errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNoSessionFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStorageDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInterrupted):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Session request failed", "err", err)
	}
	http.Error(w, http.StatusText(status), status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "err", err)
	}
}
