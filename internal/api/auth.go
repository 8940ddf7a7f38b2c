package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	errMissingToken  = errors.New("missing bearer token")
	errMalformedAuth = errors.New("authorization header must use the Bearer scheme")
)

// tokenMatches compares in constant time. An empty configured token never
// matches; the middleware skips auth entirely in that case.
func tokenMatches(provided, configured string) bool {
	if configured == "" || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(configured)) == 1
}

// bearerToken reads the token from "Authorization: Bearer <token>". When
// allowQuery is set and no header is present, ?token= is accepted instead,
// since browser EventSource clients cannot set headers.
func bearerToken(r *http.Request, allowQuery bool) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if allowQuery {
			if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
				return tok, nil
			}
		}
		return "", errMissingToken
	}

	scheme, tok, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errMalformedAuth
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", errMissingToken
	}
	return tok, nil
}

// authMiddleware enforces api.token on the run log endpoints.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Token == "" {
			next.ServeHTTP(w, r)
			return
		}

		tok, err := bearerToken(r, r.URL.Path == "/events")
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="strata"`)
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !tokenMatches(tok, s.config.Token) {
			s.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
