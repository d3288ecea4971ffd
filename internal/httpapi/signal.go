package httpapi

import (
	"net/http"
	"strings"

	"github.com/ent0n29/codestudio/internal/auth"
	"github.com/ent0n29/codestudio/internal/session"
	"github.com/ent0n29/codestudio/internal/signaling"
)

// handleSignal upgrades to the signaling relay. The user must be a
// participant of an active session. Tokens are optional; when one is sent its
// subject must be the connecting userId, and only a tokened connection may
// replace a tokened one.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := strings.TrimSpace(q.Get("sessionId"))
	userID := strings.TrimSpace(q.Get("userId"))
	if sessionID == "" || userID == "" {
		s.respondErr(w, r, validationError("query parameters sessionId and userId are required"))
		return
	}

	token := strings.TrimSpace(q.Get("token"))
	if token == "" {
		token = auth.BearerToken(r)
	}
	verified := false
	if token != "" {
		id, err := s.tokens.Verify(token)
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		if id.UserID != userID {
			s.respondErr(w, r, auth.ErrInvalidToken)
			return
		}
		verified = true
	}

	sess, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if sess.Status != session.StatusActive {
		s.respondErr(w, r, session.ErrInactive)
		return
	}
	if !sess.HasParticipant(userID) {
		s.respondErr(w, r, session.ErrNotParticipant)
		return
	}
	if !s.hub.CanRegister(sessionID, userID, verified) {
		s.respondErr(w, r, signaling.ErrConnectionTaken)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if err := s.hub.Serve(conn, sessionID, userID, verified); err != nil {
		s.log.Debug().Err(err).Str("session_id", sessionID).Str("user_id", userID).Msg("signaling connection refused")
	}
}
