package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ent0n29/codestudio/internal/auth"
	"github.com/ent0n29/codestudio/internal/session"
	"github.com/ent0n29/codestudio/internal/signaling"
)

const (
	codeInvalidRequest = "invalid_request"
	codeUnauthorized   = "unauthorized"
	codeForbidden      = "forbidden"
	codeConflict       = "connection_taken"
	codeInternal       = "internal_error"
)

var (
	errValidation = errors.New("validation failed")
	errForbidden  = errors.New("forbidden")
)

type apiError struct {
	kind error
	msg  string
}

func (e *apiError) Error() string { return e.msg }
func (e *apiError) Unwrap() error { return e.kind }

func validationError(msg string) error { return &apiError{kind: errValidation, msg: msg} }
func forbiddenError(msg string) error  { return &apiError{kind: errForbidden, msg: msg} }

// statusFor maps any handler error onto the public error taxonomy.
func statusFor(err error) (int, string, string) {
	switch {
	case errors.Is(err, errValidation):
		return http.StatusBadRequest, codeInvalidRequest, err.Error()
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, codeUnauthorized, "missing or invalid bearer token"
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, codeForbidden, err.Error()
	case errors.Is(err, signaling.ErrConnectionTaken):
		return http.StatusConflict, codeConflict, "user already connected with a verified token"
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "session_not_found", "session not found"
	case errors.Is(err, session.ErrInactive):
		return http.StatusNotFound, "session_inactive", "session is not active"
	case errors.Is(err, session.ErrNotParticipant):
		return http.StatusNotFound, "participant_not_found", "participant not found"
	default:
		return http.StatusInternalServerError, codeInternal, "internal error"
	}
}

// respondErr writes the mapped error. Internal details stay in the log.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request failed")
	}
	respondError(w, status, code, msg)
}
