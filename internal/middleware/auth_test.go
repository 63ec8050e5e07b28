package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/ruralpay/ledger/internal/logger"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func identityEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(UserIDFromContext(r.Context()) + "/" + RoleFromContext(r.Context())))
	})
}

func TestAuthMiddleware(t *testing.T) {
	viper.Set("jwt.secret_key", testSecret)
	t.Cleanup(func() { viper.Set("jwt.secret_key", "") })

	handler := AuthMiddleware(identityEcho())

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"bad signature", "Bearer " + signToken(t, "other", jwt.MapClaims{"user_id": "u1"}), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + signToken(t, testSecret, jwt.MapClaims{"user_id": "u1", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized, ""},
		{"no user claim", "Bearer " + signToken(t, testSecret, jwt.MapClaims{"role": "admin"}), http.StatusUnauthorized, ""},
		{"default role", "Bearer " + signToken(t, testSecret, jwt.MapClaims{"user_id": "u1"}), http.StatusOK, "u1/user"},
		{"admin role", "Bearer " + signToken(t, testSecret, jwt.MapClaims{"user_id": "ops", "role": "admin"}), http.StatusOK, "ops/admin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rr.Body.String())
			}
		})
	}
}

func TestAuthMiddleware_RejectsNoneAlgorithm(t *testing.T) {
	viper.Set("jwt.secret_key", testSecret)
	t.Cleanup(func() { viper.Set("jwt.secret_key", "") })

	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	AuthMiddleware(identityEcho()).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequireAdmin(t *testing.T) {
	handler := RequireAdmin(identityEcho())

	req := httptest.NewRequest(http.MethodPut, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), "u1", "user"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	req = httptest.NewRequest(http.MethodPut, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), "ops", "admin"))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	var sawLogger bool
	handler := Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqLog := logger.FromContext(r.Context(), zerolog.Nop())
		reqLog.Debug().Msg("inside")
		sawLogger = true
		w.WriteHeader(http.StatusCreated)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/transfers", nil))
	require.True(t, sawLogger)
	assert.Equal(t, http.StatusCreated, rr.Code)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	assert.Equal(t, "HTTP request", entry["message"])
	assert.Equal(t, "POST", entry["method"])
	assert.Equal(t, "/api/v1/transfers", entry["path"])
	assert.EqualValues(t, 201, entry["status"])
}

func TestRecovery(t *testing.T) {
	handler := Recovery(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "An Internal Error Occurred")
}

func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(identityEcho()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
}
