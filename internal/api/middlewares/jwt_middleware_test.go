package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTMiddlewareUsesConfiguredSecret(t *testing.T) {
	var gotUser, gotOrg string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = r.Context().Value("user_id").(string)
		gotOrg, _ = r.Context().Value("org_id").(string)
		w.WriteHeader(http.StatusOK)
	})
	handler := JWTMiddleware("unit-test-secret")(next)

	token := signToken(t, "unit-test-secret", jwt.MapClaims{"user_id": "u1", "org_id": "o1"})
	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", gotUser)
	assert.Equal(t, "o1", gotOrg)
}

func TestJWTMiddlewareRejects(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})
	handler := JWTMiddleware("unit-test-secret")(next)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "not a bearer token", header: "Basic abc"},
		{
			name:   "wrong secret",
			header: "Bearer " + signToken(t, "some-other-secret", jwt.MapClaims{"user_id": "u1", "org_id": "o1"}),
		},
		{
			name:   "missing org claim",
			header: "Bearer " + signToken(t, "unit-test-secret", jwt.MapClaims{"user_id": "u1"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}
