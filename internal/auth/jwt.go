// Package auth verifies caller identity from HS256 bearer tokens issued by the identity service.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

// ContextKeyUserID is the gin context key holding the authenticated user id.
const ContextKeyUserID = "auth.user_id"

var (
	// ErrMissingToken signals that no bearer token was supplied.
	ErrMissingToken = errors.New("auth: missing bearer token")
	// ErrInvalidToken signals a token that failed signature, expiry or subject checks.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Verifier validates tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier builds a verifier for secret.
func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}, nil
}

// Verify returns the numeric user id carried in the "sub" claim.
func (v *Verifier) Verify(raw string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	userID, err := strconv.ParseInt(strings.TrimSpace(claims.Subject), 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, claims.Subject)
	}
	return userID, nil
}

// Issue signs a token for userID. Used by tests and local tooling; production tokens come
// from the identity service.
func (v *Verifier) Issue(userID int64, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = strconv.FormatInt(userID, 10)
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware rejects requests without a valid bearer token. onError renders the failure.
func (v *Verifier) Middleware(onError func(c *gin.Context, status int, err error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			onError(c, http.StatusUnauthorized, ErrMissingToken)
			c.Abort()
			return
		}
		userID, err := v.Verify(strings.TrimSpace(token))
		if err != nil {
			onError(c, http.StatusUnauthorized, err)
			c.Abort()
			return
		}
		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}

// UserID returns the authenticated user id set by Middleware.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ContextKeyUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
