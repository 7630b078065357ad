// Package auth guards the HTTP transport: HS256 bearer tokens issued by the
// token subcommand, or a static API key checked against a bcrypt hash.
package auth

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/dbmcp/internal/config"
	"github.com/hazyhaar/pkg/kit"
)

var (
	ErrMissingCredential = errors.New("missing bearer credential")
	ErrInvalidCredential = errors.New("invalid bearer credential")
	ErrNoSecret          = errors.New("no jwt secret configured")
)

// APIKeyClient is the user id attached to calls authenticated by API key.
const APIKeyClient = "api-key"

type Auth struct {
	secret     []byte
	expiry     time.Duration
	apiKeyHash []byte
}

type Claims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

func New(cfg config.AuthConfig) *Auth {
	return &Auth{
		secret:     []byte(cfg.JWTSecret),
		expiry:     time.Duration(cfg.TokenExpiryMin) * time.Minute,
		apiKeyHash: []byte(cfg.APIKeyHash),
	}
}

// Enabled reports whether requests must carry a credential.
func (a *Auth) Enabled() bool {
	return len(a.secret) > 0 || len(a.apiKeyHash) > 0
}

// HashKey returns the bcrypt hash stored in auth.api_key_hash.
func HashKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("empty key")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckKey compares key with the configured hash.
func (a *Auth) CheckKey(key string) bool {
	if len(a.apiKeyHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.apiKeyHash, []byte(key)) == nil
}

// GenerateToken signs a token for clientID. A zero expiry means no exp claim.
func (a *Auth) GenerateToken(clientID string) (string, error) {
	if len(a.secret) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := Claims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  clientID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if a.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.expiry))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, ErrNoSecret
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Newf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}

// Authenticate returns the client id behind the request's bearer credential.
func (a *Auth) Authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingCredential
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrInvalidCredential
	}
	cred := strings.TrimSpace(parts[1])

	if len(a.secret) > 0 {
		if claims, err := a.ValidateToken(cred); err == nil {
			return claims.ClientID, nil
		}
	}
	if a.CheckKey(cred) {
		return APIKeyClient, nil
	}
	return "", ErrInvalidCredential
}

// Middleware rejects unauthenticated requests with 401 and puts the client
// id on the request context. It is a no-op when auth is disabled.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID, err := a.Authenticate(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="dbmcp"`)
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(kit.WithUserID(r.Context(), clientID)))
	})
}
