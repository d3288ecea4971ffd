package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/codestudio/internal/auth"
	"github.com/ent0n29/codestudio/internal/session"
)

type createSessionRequest struct {
	CreatorID string           `json:"creatorId"`
	Username  string           `json:"username"`
	Settings  session.Settings `json:"settings"`
}

type createSessionResponse struct {
	SessionID     string           `json:"sessionId"`
	ShareableLink string           `json:"shareableLink"`
	Session       *session.Session `json:"session"`
}

type membershipRequest struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type updateCodeRequest struct {
	Code        *string `json:"code"`
	UserID      string  `json:"userId"`
	BaseVersion *int64  `json:"baseVersion"`
}

type updateCodeResponse struct {
	Success  bool  `json:"success"`
	Version  int64 `json:"version"`
	Conflict bool  `json:"conflict"`
}

type chatRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type cursorRequest struct {
	UserID string          `json:"userId"`
	Cursor *session.Cursor `json:"cursor"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		s.respondErr(w, r, validationError("invalid JSON body"))
		return
	}
	req.CreatorID = strings.TrimSpace(req.CreatorID)
	if id, ok := auth.IdentityFrom(r.Context()); ok {
		if req.CreatorID != "" && req.CreatorID != id.UserID {
			s.respondErr(w, r, forbiddenError("creatorId does not match the authenticated user"))
			return
		}
		req.CreatorID = id.UserID
		if strings.TrimSpace(req.Username) == "" {
			req.Username = id.Username
		}
	}
	if req.CreatorID == "" {
		s.respondErr(w, r, validationError("creatorId is required"))
		return
	}

	sess, err := s.sessions.Create(r.Context(), session.CreateRequest{
		CreatorID: req.CreatorID,
		Username:  req.Username,
		Settings:  req.Settings,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.metrics.ObserveSessionEvent("created")
	s.refreshActiveSessions(r.Context())
	s.log.Info().Str("session_id", sess.ID).Str("creator_id", sess.CreatorID).Msg("session created")

	respondJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:     sess.ID,
		ShareableLink: s.cfg.PublicBaseURL + "/session/" + sess.ID,
		Session:       sess,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess.Participants)
}

func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		s.respondErr(w, r, validationError("invalid JSON body"))
		return
	}
	id, err := actingUser(r, strings.TrimSpace(req.UserID))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = id.Username
	}

	sess, err := s.sessions.Join(r.Context(), chi.URLParam(r, "id"), id.UserID, username)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.metrics.ObserveSessionEvent("joined")
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLeaveSession(w http.ResponseWriter, r *http.Request) {
	var req membershipRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		s.respondErr(w, r, validationError("invalid JSON body"))
		return
	}
	id, err := actingUser(r, strings.TrimSpace(req.UserID))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.sessions.Leave(r.Context(), chi.URLParam(r, "id"), id.UserID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.metrics.ObserveSessionEvent("left")
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleGetCode(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"code":        sess.Code,
		"codeVersion": sess.CodeVersion,
	})
}

// handleUpdateCode serves both PUT /update and POST /code/save.
func (s *Server) handleUpdateCode(w http.ResponseWriter, r *http.Request) {
	var req updateCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, validationError("invalid JSON body"))
		return
	}
	if req.Code == nil {
		s.respondErr(w, r, validationError("code is required"))
		return
	}
	id, err := actingUser(r, strings.TrimSpace(req.UserID))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	sessionID := chi.URLParam(r, "id")
	res, err := s.sessions.UpdateCode(r.Context(), sessionID, id.UserID, *req.Code, req.BaseVersion)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.metrics.ObserveSessionEvent("code_updated")
	if res.Conflict {
		s.metrics.ObserveLostUpdate()
		s.log.Info().Str("session_id", sessionID).Str("user_id", id.UserID).
			Int64("base_version", *req.BaseVersion).Int64("version", res.Version).
			Msg("code write overwrote a newer version")
	}
	respondJSON(w, http.StatusOK, updateCodeResponse{Success: true, Version: res.Version, Conflict: res.Conflict})
}

func (s *Server) handleListChat(w http.ResponseWriter, r *http.Request) {
	entries, err := s.sessions.Chat(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAppendChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, validationError("invalid JSON body"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.respondErr(w, r, validationError("message is required"))
		return
	}
	id, err := actingUser(r, strings.TrimSpace(req.UserID))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	entry, err := s.sessions.AppendChat(r.Context(), chi.URLParam(r, "id"), id.UserID, req.Message)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.metrics.ObserveSessionEvent("chat")
	respondJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleUpdateCursor(w http.ResponseWriter, r *http.Request) {
	var req cursorRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondErr(w, r, validationError("invalid JSON body"))
		return
	}
	if req.Cursor == nil {
		s.respondErr(w, r, validationError("cursor is required"))
		return
	}
	if req.Cursor.Line < 0 || req.Cursor.Column < 0 {
		s.respondErr(w, r, validationError("cursor position must not be negative"))
		return
	}
	id, err := actingUser(r, strings.TrimSpace(req.UserID))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}

	cursors, err := s.sessions.UpdateCursor(r.Context(), chi.URLParam(r, "id"), id.UserID, *req.Cursor)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cursors)
}

// handleEndSession marks the session completed. Only the creator may end it.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id, err := actingUser(r, "")
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	sessionID := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if sess.CreatorID != id.UserID {
		s.respondErr(w, r, forbiddenError("only the session creator can end it"))
		return
	}

	if _, err := s.sessions.End(r.Context(), sessionID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.metrics.ObserveSessionEvent("ended")
	s.refreshActiveSessions(r.Context())
	s.log.Info().Str("session_id", sessionID).Str("user_id", id.UserID).Msg("session ended")
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) refreshActiveSessions(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	n, err := s.sessions.ActiveCount(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("count active sessions")
		return
	}
	s.metrics.SetActiveSessions(n)
}
