package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maxiofs/storehub/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-for-admin-tokens")

// Test Logging Middleware

func TestLogging(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusNotFound, http.StatusInternalServerError} {
		handler := Logging()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte("OK"))
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/storage", nil))

		assert.Equal(t, status, rec.Code)
		assert.Equal(t, "OK", rec.Body.String())
	}
}

// Test CORS Middleware

func TestCORS(t *testing.T) {
	called := false
	handler := CORS()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	t.Run("preflight", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/admin/storage/r2", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "PATCH")
		assert.False(t, called)
	})

	t.Run("regular request", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/storage", nil))

		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.True(t, called)
	})
}

// Test JWT Auth Middleware

func actorHandler(got *audit.Actor, found *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got, *found = audit.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestJWTAuth_ValidToken(t *testing.T) {
	token, err := IssueToken(testSecret, "admin-1", "Alex Admin", time.Hour)
	require.NoError(t, err)

	var actor audit.Actor
	var found bool
	handler := JWTAuth(testSecret, true)(actorHandler(&actor, &found))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/storage", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", "storehub-test")
	req.RemoteAddr = "10.0.0.5:41234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, found)
	assert.Equal(t, "admin-1", actor.ID)
	assert.Equal(t, "Alex Admin", actor.Name)
	assert.Equal(t, "10.0.0.5", actor.IPAddress)
	assert.Equal(t, "storehub-test", actor.UserAgent)
}

func TestJWTAuth_Rejects(t *testing.T) {
	expired, err := IssueToken(testSecret, "admin-1", "", -time.Minute)
	require.NoError(t, err)

	otherSecret, err := IssueToken([]byte("another-secret"), "admin-1", "", time.Hour)
	require.NoError(t, err)

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "admin-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(testSecret)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:  Issuer,
		Subject: "admin-1",
	}).SignedString(testSecret)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"basic auth", "Basic YWRtaW46YWRtaW4="},
		{"garbage", "Bearer not-a-token"},
		{"expired", "Bearer " + expired},
		{"wrong secret", "Bearer " + otherSecret},
		{"wrong issuer", "Bearer " + wrongIssuer},
		{"no expiry", "Bearer " + noExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var actor audit.Actor
			var found bool
			handler := JWTAuth(testSecret, true)(actorHandler(&actor, &found))

			req := httptest.NewRequest(http.MethodGet, "/api/admin/storage", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), `"success":false`)
			assert.False(t, found)
		})
	}
}

func TestJWTAuth_Disabled(t *testing.T) {
	var actor audit.Actor
	var found bool
	handler := JWTAuth(nil, false)(actorHandler(&actor, &found))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/storage", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, found)
	assert.Empty(t, actor.ID)
	assert.Equal(t, "203.0.113.7", actor.IPAddress)
}

func TestIssueToken_Validation(t *testing.T) {
	_, err := IssueToken(nil, "admin", "", time.Hour)
	assert.Error(t, err)

	_, err = IssueToken(testSecret, "", "", time.Hour)
	assert.Error(t, err)
}

func TestParseToken_NameDefaultsToEmpty(t *testing.T) {
	token, err := IssueToken(testSecret, "ops", "", time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Empty(t, claims.Name)
}
