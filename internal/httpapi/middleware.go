package httpapi

import (
	"net/http"

	"github.com/ent0n29/codestudio/internal/auth"
)

// requireAuth rejects requests without a valid bearer token.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		if token == "" {
			s.respondErr(w, r, auth.ErrInvalidToken)
			return
		}
		id, err := s.tokens.Verify(token)
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// optionalAuth attaches an identity when a token is present. A present but
// invalid token is still rejected.
func (s *Server) optionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := s.tokens.Verify(token)
		if err != nil {
			s.respondErr(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// actingUser resolves the user a mutating request acts as. The body may
// omit userId; when given it must match the token subject.
func actingUser(r *http.Request, bodyUserID string) (auth.Identity, error) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	if bodyUserID != "" && bodyUserID != id.UserID {
		return auth.Identity{}, forbiddenError("userId does not match the authenticated user")
	}
	return id, nil
}
