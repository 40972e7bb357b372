package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := NewVerifier("  ")
	assert.Error(t, err)
}

func TestVerifier_RoundTrip(t *testing.T) {
	// Arrange
	v, err := NewVerifier("secret")
	require.NoError(t, err)
	token, err := v.Issue(7, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))})
	require.NoError(t, err)

	// Act
	userID, err := v.Verify(token)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int64(7), userID)
}

func TestVerifier_Rejects(t *testing.T) {
	v, err := NewVerifier("secret")
	require.NoError(t, err)

	nonNumeric, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"}).
		SignedString([]byte("secret"))
	require.NoError(t, err)
	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{Subject: "7"}).
		SignedString([]byte("secret"))
	require.NoError(t, err)
	expired, err := v.Issue(7, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))})
	require.NoError(t, err)

	tests := map[string]string{
		"non numeric subject":  nonNumeric,
		"unexpected algorithm": wrongAlg,
		"expired":              expired,
		"malformed":            "abc",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestMiddleware_SetsUserID(t *testing.T) {
	// Arrange
	gin.SetMode(gin.TestMode)
	v, err := NewVerifier("secret")
	require.NoError(t, err)
	token, err := v.Issue(3, jwt.RegisteredClaims{})
	require.NoError(t, err)

	var seen int64
	var failures []error
	r := gin.New()
	r.Use(v.Middleware(func(c *gin.Context, status int, err error) {
		failures = append(failures, err)
		c.Status(status)
	}))
	r.GET("/me", func(c *gin.Context) {
		seen, _ = UserID(c)
		c.Status(http.StatusNoContent)
	})

	// Act
	ok := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(ok, req)

	missing := httptest.NewRecorder()
	r.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/me", nil))

	// Assert
	assert.Equal(t, http.StatusNoContent, ok.Code)
	assert.Equal(t, int64(3), seen)
	assert.Equal(t, http.StatusUnauthorized, missing.Code)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ErrMissingToken)
}
