// Package authjwt provides the demo transport's JWT authentication: token
// issuance, verification, and the HTTP/WebSocket extraction helpers the
// gin router uses before handing a connection to the lifetime manager.
package authjwt

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the connecting principal: its user ID (fed straight
// into ConnectionHandle.UserID) plus whatever display name and role the
// demo UI wants to show.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Manager issues and verifies HS256 tokens for the demo transport.
type Manager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewManager returns a Manager signing with secretKey and issuing tokens
// valid for tokenDuration.
func NewManager(secretKey string, tokenDuration time.Duration) *Manager {
	return &Manager{secretKey: []byte(secretKey), tokenDuration: tokenDuration}
}

// Generate issues a signed token for userID.
func (m *Manager) Generate(userID, username, role string) (string, error) {
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "hublifetime",
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("authjwt: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates tokenString, rejecting anything not signed
// with an HMAC method.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("authjwt: invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("authjwt: invalid token claims")
	}
	return claims, nil
}

// ExtractFromHeader reads a "Bearer {token}" Authorization header.
func ExtractFromHeader(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authjwt: authorization header missing")
	}
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", errors.New("authjwt: invalid authorization header format")
	}
	return strings.TrimPrefix(authHeader, bearerPrefix), nil
}

// ExtractFromQuery reads the "token" query parameter, used by browser
// WebSocket clients that can't set custom headers on the upgrade request.
func ExtractFromQuery(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return "", errors.New("authjwt: token query parameter missing")
	}
	return token, nil
}

// WebSocketAuth validates the token carried by an upgrade request, trying
// the query parameter first since that's what browser WebSocket clients
// use, then falling back to the Authorization header.
func (m *Manager) WebSocketAuth(r *http.Request) (*Claims, error) {
	token, err := ExtractFromQuery(r)
	if err != nil {
		token, err = ExtractFromHeader(r)
		if err != nil {
			return nil, fmt.Errorf("authjwt: no valid token found: %w", err)
		}
	}
	return m.Verify(token)
}
