package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/accord/internal/auth"
)

// ContextKeyIdentity is the gin.Context key holding the *auth.Identity of
// an authenticated request.
const ContextKeyIdentity = "identity"

// Authenticator verifies an Authorization header value. *auth.Gate
// satisfies it, so REST requests and realtime connections share one
// verification path.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (*auth.Identity, error)
}

// AuthMiddleware returns a Gin middleware that rejects requests without
// a valid bearer token.
//
// If the token is invalid it calls c.Abort(), so the handler never runs
// and the client gets a 401. Otherwise the identity is stored with c.Set
// and control passes to the next handler.
func AuthMiddleware(authenticator Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
			})
			return
		}

		identity, err := authenticator.Authenticate(c.Request.Context(), header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(ContextKeyIdentity, identity)
		c.Next()
	}
}

// GetIdentity returns the identity stored by AuthMiddleware, or nil.
func GetIdentity(c *gin.Context) *auth.Identity {
	val, exists := c.Get(ContextKeyIdentity)
	if !exists {
		return nil
	}
	identity, ok := val.(*auth.Identity)
	if !ok {
		return nil
	}
	return identity
}
