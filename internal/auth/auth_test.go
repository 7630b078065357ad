package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/dbmcp/internal/config"
	"github.com/hazyhaar/pkg/kit"
)

func TestTokenRoundTrip(t *testing.T) {
	a := New(config.AuthConfig{JWTSecret: "s3cret", TokenExpiryMin: 5})
	tok, err := a.GenerateToken("desktop-client")
	require.NoError(t, err)

	claims, err := a.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "desktop-client", claims.ClientID)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), claims.ExpiresAt.Time, time.Minute)

	other := New(config.AuthConfig{JWTSecret: "different"})
	_, err = other.ValidateToken(tok)
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	a := New(config.AuthConfig{JWTSecret: "s3cret"})
	claims := Claims{ClientID: "old", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = a.ValidateToken(tok)
	assert.Error(t, err)
}

func TestUnsignedTokenRejected(t *testing.T) {
	a := New(config.AuthConfig{JWTSecret: "s3cret"})
	claims := Claims{ClientID: "mallory", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.ValidateToken(tok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected signing method")
}

func TestGenerateWithoutSecret(t *testing.T) {
	_, err := New(config.AuthConfig{}).GenerateToken("x")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestAPIKey(t *testing.T) {
	hash, err := HashKey("key-123")
	require.NoError(t, err)
	a := New(config.AuthConfig{APIKeyHash: hash})
	assert.True(t, a.Enabled())
	assert.True(t, a.CheckKey("key-123"))
	assert.False(t, a.CheckKey("key-124"))

	_, err = HashKey("")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	hash, err := HashKey("key-123")
	require.NoError(t, err)
	a := New(config.AuthConfig{JWTSecret: "s3cret", TokenExpiryMin: 5, APIKeyHash: hash})
	tok, err := a.GenerateToken("agent-1")
	require.NoError(t, err)

	var user string
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user = kit.GetUserID(r.Context())
	}))

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantUser string
	}{
		{"no header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"bad token", "Bearer nope", http.StatusUnauthorized, ""},
		{"jwt", "Bearer " + tok, http.StatusOK, "agent-1"},
		{"api key", "bearer key-123", http.StatusOK, APIKeyClient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user = ""
			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantUser, user)
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	a := New(config.AuthConfig{})
	called := false
	h := a.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.True(t, called)
}
