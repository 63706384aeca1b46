package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Context keys set by the auth middlewares.
const (
	ClaimsKey = "claims"
	UserIDKey = "userID"
)

// Token is minimal interface for a verified token that can expose claims
type Token interface {
	Claims(v interface{}) error
}

// Verifier is the minimal interface the middleware depends on
type Verifier interface {
	Verify(ctx context.Context, raw string) (Token, error)
}

// ClaimsHook observes the claims of every authenticated request.
type ClaimsHook func(ctx context.Context, claims map[string]interface{})

// AuthMiddleware returns a Gin middleware that verifies Bearer tokens using the provided verifier
func AuthMiddleware(ver Verifier, hooks ...ClaimsHook) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		claims, err := verifyHeader(c.Request.Context(), ver, auth)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "details": err.Error()})
			return
		}
		setIdentity(c, claims, hooks)
		c.Next()
	}
}

// OptionalAuthMiddleware identifies the caller when a valid Bearer token is
// present and lets anonymous requests through otherwise.
func OptionalAuthMiddleware(ver Verifier, hooks ...ClaimsHook) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth := c.GetHeader("Authorization"); auth != "" {
			if claims, err := verifyHeader(c.Request.Context(), ver, auth); err == nil {
				setIdentity(c, claims, hooks)
			}
		}
		c.Next()
	}
}

// UserID returns the authenticated subject, or "" for anonymous requests.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

func verifyHeader(ctx context.Context, ver Verifier, auth string) (map[string]interface{}, error) {
	// Expect 'Bearer <token>'
	var token string
	if n, _ := fmt.Sscanf(auth, "Bearer %s", &token); n != 1 {
		return nil, fmt.Errorf("invalid Authorization header")
	}
	idToken, err := ver.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims")
	}
	if sub, _ := claims["sub"].(string); sub == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

func setIdentity(c *gin.Context, claims map[string]interface{}, hooks []ClaimsHook) {
	sub, _ := claims["sub"].(string)
	c.Set(ClaimsKey, claims)
	c.Set(UserIDKey, sub)
	for _, h := range hooks {
		h(c.Request.Context(), claims)
	}
}
