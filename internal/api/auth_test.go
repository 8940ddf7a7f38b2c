package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/strata/internal/events"
)

func TestTokenMatches(t *testing.T) {
	t.Parallel()

	assert.True(t, tokenMatches("provided", "provided"))
	assert.False(t, tokenMatches("provided", "other"))
	assert.False(t, tokenMatches("", "configured"))
	assert.False(t, tokenMatches("provided", ""), "an unset token never matches")
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		header     string
		query      string
		allowQuery bool
		want       string
		wantErr    error
	}{
		{name: "bearer header", header: "Bearer test-key", want: "test-key"},
		{name: "scheme is case-insensitive", header: "bearer test-key", want: "test-key"},
		{name: "padded key", header: "Bearer   test-key  ", want: "test-key"},
		{name: "missing header", wantErr: errMissingToken},
		{name: "basic auth", header: "Basic abc", wantErr: errMalformedAuth},
		{name: "empty bearer", header: "Bearer   ", wantErr: errMissingToken},
		{name: "query when allowed", query: "?token=q-key", allowQuery: true, want: "q-key"},
		{name: "query when not allowed", query: "?token=q-key", wantErr: errMissingToken},
		{name: "header wins over query", header: "Bearer h-key", query: "?token=q-key", allowQuery: true, want: "h-key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "http://example.test/events"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := bearerToken(req, tt.allowQuery)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthMiddlewareTrimsBearerKey(t *testing.T) {
	t.Parallel()

	s := newTestServer("secret", Deps{})
	rec := do(t, s, http.MethodGet, "/snapshots", " secret ")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddlewareChallenge(t *testing.T) {
	t.Parallel()

	s := newTestServer("secret", Deps{})
	rec := do(t, s, http.MethodGet, "/runs", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
}

func TestAuthMiddlewareQueryTokenOnlyForEvents(t *testing.T) {
	t.Parallel()

	s := newTestServer("secret", Deps{Events: events.NewHub(8)})

	req := httptest.NewRequest(http.MethodGet, "/runs?token=secret", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "query tokens are not accepted outside /events")

	// A wrong query token on /events is rejected before the stream opens.
	req = httptest.NewRequest(http.MethodGet, "/events?token=wrong", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
