package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/codestudio/internal/auth"
	"github.com/ent0n29/codestudio/internal/config"
	"github.com/ent0n29/codestudio/internal/logging"
	"github.com/ent0n29/codestudio/internal/observability"
	"github.com/ent0n29/codestudio/internal/session"
	"github.com/ent0n29/codestudio/internal/signaling"
)

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	tokens   *auth.Service
	hub      *signaling.Hub
	metrics  *observability.Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, tokens *auth.Service, hub *signaling.Hub, metrics *observability.Metrics, log zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		tokens:   tokens,
		hub:      hub,
		metrics:  metrics,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.AccessLog(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/perf/latency", s.handlePerfLatency)
		r.Post("/auth/token", s.handleIssueToken)
		r.Get("/signal", s.handleSignal)

		r.Route("/sessions", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.optionalAuth)
				r.Post("/", s.handleCreateSession)
				r.Post("/create", s.handleCreateSession)
			})

			r.Get("/{id}", s.handleGetSession)
			r.Get("/{id}/participants", s.handleListParticipants)
			r.Get("/{id}/code/get", s.handleGetCode)
			r.Get("/{id}/chat/messages", s.handleListChat)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Post("/{id}/join", s.handleJoinSession)
				r.Post("/{id}/leave", s.handleLeaveSession)
				r.Put("/{id}/update", s.handleUpdateCode)
				r.Post("/{id}/code/save", s.handleUpdateCode)
				r.Post("/{id}/chat/message", s.handleAppendChat)
				r.Post("/{id}/cursor/update", s.handleUpdateCursor)
				r.Delete("/{id}/end", s.handleEndSession)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"store_backend": s.sessions.BackendMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	active, err := s.sessions.ActiveCount(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("readiness probe: store unavailable")
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":        "unavailable",
			"store_backend": s.sessions.BackendMode(),
		})
		return
	}
	s.metrics.SetActiveSessions(active)
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"store_backend":   s.sessions.BackendMode(),
		"active_sessions": active,
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SnapshotStoreLatency())
}

type tokenRequest struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// handleIssueToken mints bearer tokens for local development and tests.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.DevTokenIssuing {
		respondError(w, http.StatusNotFound, "not_found", "token issuing is disabled")
		return
	}
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "userId is required")
		return
	}
	token, exp, err := s.tokens.Issue(req.UserID, strings.TrimSpace(req.Username))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tokenResponse{Token: token, UserID: req.UserID, ExpiresAt: exp})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 4<<20))
	if err := dec.Decode(out); err != nil {
		// Only a body with no bytes at all is empty. A truncated document
		// reports io.ErrUnexpectedEOF and is rejected as malformed.
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
