package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequesterKey is the gin context key holding the caller identity.
const RequesterKey = "requester"

// identityHeader is set by the authenticating reverse proxy in front of the
// service; authentication itself happens outside this component.
const identityHeader = "X-Remote-User"

// RequireIdentity rejects requests whose caller identity is missing.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		who := strings.TrimSpace(c.GetHeader(identityHeader))
		if who == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing caller identity",
			})
			return
		}
		c.Set(RequesterKey, who)
		c.Next()
	}
}

// OptionalIdentity records the caller identity when present.
func OptionalIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if who := strings.TrimSpace(c.GetHeader(identityHeader)); who != "" {
			c.Set(RequesterKey, who)
		}
		c.Next()
	}
}

// Requester returns the caller identity stored by the middleware.
func Requester(c *gin.Context) string {
	who, _ := c.Get(RequesterKey)
	s, _ := who.(string)
	return s
}
