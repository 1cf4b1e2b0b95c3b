// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller's identity. Authentication itself is an
// external collaborator: the resolver receives whatever credential the
// request carries and answers with a stable user identifier or nothing.
// The chat core only needs that answer; it never inspects tokens itself.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ctxKeyUserID is the Gin context key holding the resolved user ID.
	ctxKeyUserID = "auth.user_id"

	headerAuthorization = "Authorization"
	headerUserID        = "X-User-ID"
	bearerPrefix        = "Bearer "
)

// IdentityResolver turns a bearer credential into a stable user identifier.
// An unknown or expired credential yields ("", nil); errors are reserved for
// resolver infrastructure failures.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (userID string, err error)
}

// IdentityResolverFunc adapts a function to the IdentityResolver interface.
type IdentityResolverFunc func(ctx context.Context, credential string) (string, error)

// Resolve implements IdentityResolver.
func (f IdentityResolverFunc) Resolve(ctx context.Context, credential string) (string, error) {
	return f(ctx, credential)
}

// Identity resolves the caller and stores the user ID in the Gin context.
// Resolution order: a Bearer token handed to the resolver, then the X-User-ID
// header. Anonymous requests pass through with no identity set; gating
// happens in RequireIdentity so public routes (health, metrics) stay open.
func Identity(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth := c.GetHeader(headerAuthorization); strings.HasPrefix(auth, bearerPrefix) && resolver != nil {
			token := strings.TrimPrefix(auth, bearerPrefix)
			if uid, err := resolver.Resolve(c.Request.Context(), token); err == nil && uid != "" {
				c.Set(ctxKeyUserID, uid)
				c.Next()
				return
			}
		}
		if uid := c.GetHeader(headerUserID); uid != "" {
			c.Set(ctxKeyUserID, uid)
		}
		c.Next()
	}
}

// UserID returns the resolved user identifier, or "" for anonymous requests.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// SetUserID stores an identity directly. Intended for tests and for
// co-located callers that already performed resolution.
func SetUserID(c *gin.Context, userID string) {
	c.Set(ctxKeyUserID, userID)
}

// RequireIdentity rejects anonymous requests with a 401 before they reach
// handlers. Install it on the authenticated route group only.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthenticated",
				"message":    "authentication required",
			})
			return
		}
		c.Next()
	}
}
