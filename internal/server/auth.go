// Package server implements JWT-based authentication for the control plane
// and Bearer-token authentication for the data plane.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/vesaa/cncmate/internal/models"
	"github.com/vesaa/cncmate/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// Gin context keys set by JWTMiddleware.
const (
	ctxUserID   = "userID"
	ctxUsername = "username"
	ctxRole     = "role"
)

// ─── JWT control-plane auth ───────────────────────────────────────────────────

// Claims is the payload embedded in every JWT issued by /api/login.
type Claims struct {
	UserID   string      `json:"uid"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Auth signs and verifies control-plane tokens.
type Auth struct {
	secret []byte
	ttl    time.Duration
}

func NewAuth(secret string, ttl time.Duration) *Auth {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Auth{secret: []byte(secret), ttl: ttl}
}

// GenerateJWT creates a signed HS256 JWT for u.
func (a *Auth) GenerateJWT(u *models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   u.ID,
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "cncmate",
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ParseJWT validates a token string and returns the claims.
func (a *Auth) ParseJWT(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// JWTMiddleware validates control-plane requests.
// It expects the header:  Authorization: Bearer <jwt>
// On success it stores the user ID, username and role in the Gin context.
func (a *Auth) JWTMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing Authorization header",
			})
			return
		}

		parts := strings.SplitN(raw, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid Authorization format, expected: Bearer <token>",
			})
			return
		}

		claims, err := a.ParseJWT(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxUsername, claims.Username)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// RequireRole rejects callers whose role is not listed. Must run after
// JWTMiddleware.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get(ctxRole)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "insufficient role",
		})
	}
}

// ─── Bearer-token data-plane auth ────────────────────────────────────────────

// AgentTokenMiddleware is a lightweight middleware for the data plane.
// It checks: Authorization: Bearer <agent_token>
func AgentTokenMiddleware(token string) gin.HandlerFunc {
	expected := []byte("Bearer " + token)
	return func(c *gin.Context) {
		raw := []byte(c.GetHeader("Authorization"))
		if len(raw) == 0 || subtle.ConstantTimeCompare(raw, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or missing agent token",
			})
			return
		}
		c.Next()
	}
}

// ─── Users ────────────────────────────────────────────────────────────────────

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// BootstrapAdmin creates the owner account from config on first start.
func BootstrapAdmin(ctx context.Context, st *store.Store, username, password string) error {
	if username == "" || password == "" {
		return errors.New("admin_user and admin_pass must be set")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	_, _, err = st.EnsureUser(ctx, username, hash, models.RoleOwner)
	return err
}
