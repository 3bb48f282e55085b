package middleware

import (
	"github.com/gin-gonic/gin"
)

// OptionalSession attaches the principal when the request carries a valid
// token and lets the request through either way.
func OptionalSession(parser SessionParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p, ok := authenticate(c, parser); ok {
			c.Set(principalKey, p)
		}
		c.Next()
	}
}
