// Package middleware provides the gin gates that sit in front of the Vigil
// handlers: rate limiting, request validation, authentication and metrics.
package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"nfcunha/vigil/core/models"
)

const (
	// APIKeyHeader carries the shared API key.
	APIKeyHeader = "x-api-key"

	authUserKey = "vigil_auth_user"
)

// Claims is the JWT payload accepted by the bearer gate.
type Claims struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// SecretsEqual compares two secrets in constant time. A length mismatch
// fails immediately.
func SecretsEqual(presented, expected string) bool {
	if expected == "" || len(presented) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

// APIKeyAuth rejects requests whose x-api-key header does not match key.
func APIKeyAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !SecretsEqual(c.GetHeader(APIKeyHeader), key) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":  "Unauthorized",
				"detail": "invalid api key",
			})
			return
		}
		c.Next()
	}
}

// JWTAuth verifies an HS256 bearer token and stores the principal in the
// context. Every verification failure yields the same response.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := ParseToken(bearerToken(c.GetHeader("Authorization")), secret)
		if err != nil {
			logrus.Debugf("Rejected bearer token from %s: %v", c.ClientIP(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":  "Unauthorized",
				"detail": "invalid or expired token",
			})
			return
		}
		c.Set(authUserKey, user)
		c.Next()
	}
}

// GetAuthUser returns the principal stored by JWTAuth, or nil.
func GetAuthUser(c *gin.Context) *models.AuthUser {
	if v, ok := c.Get(authUserKey); ok {
		if user, ok := v.(*models.AuthUser); ok {
			return user
		}
	}
	return nil
}

// RequireRole returns 403 unless the authenticated principal has role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := GetAuthUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		if user.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":  "Forbidden",
				"detail": "role " + role + " required",
			})
			return
		}
		c.Next()
	}
}

// RequirePermission returns 403 unless the principal holds permission.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := GetAuthUser(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		if !user.HasPermission(permission) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":  "Forbidden",
				"detail": "permission " + permission + " required",
			})
			return
		}
		c.Next()
	}
}

// ParseToken verifies a signed token and returns its principal.
func ParseToken(tokenString, secret string) (*models.AuthUser, error) {
	if tokenString == "" {
		return nil, errors.New("missing bearer token")
	}
	if secret == "" {
		return nil, errors.New("jwt secret not configured")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	return &models.AuthUser{
		ID:          claims.Subject,
		Role:        claims.Role,
		Permissions: claims.Permissions,
	}, nil
}

// IssueToken signs an HS256 token for user valid for ttl.
func IssueToken(user models.AuthUser, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := Claims{
		Role:        user.Role,
		Permissions: user.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
