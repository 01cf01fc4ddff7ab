package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// Session copies the credential from the session cookie (or a bearer
// Authorization header) into the request context. It never rejects a request;
// access decisions belong to the route guard.
func Session(cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tok := requestCredential(c, cookieName); tok != "" {
			c.Request = c.Request.WithContext(WithCredential(c.Request.Context(), tok))
		}
		c.Next()
	}
}

// RequestCredential returns the credential attached to the request context.
func RequestCredential(c *gin.Context) (string, bool) {
	return CredentialFrom(c.Request.Context())
}

func requestCredential(c *gin.Context, cookieName string) string {
	if tok, err := c.Cookie(cookieName); err == nil && tok != "" {
		return tok
	}
	authz := c.GetHeader("Authorization")
	if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("bearer "):])
}
