package middleware

import (
	"net/http"
	"strings"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/gin-gonic/gin"
)

const principalKey = "goverify.principal"

// SessionParser validates bearer tokens. *goVerify.Engine satisfies it.
type SessionParser interface {
	ParseSession(token string) (goVerify.Principal, error)
}

// PrincipalFrom returns the principal set by a guard.
func PrincipalFrom(c *gin.Context) (goVerify.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return goVerify.Principal{}, false
	}
	p, ok := v.(goVerify.Principal)
	return p, ok
}

// RequireSession rejects requests without a valid session token.
func RequireSession(parser SessionParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := authenticate(c, parser)
		if !ok {
			abortUnauthorized(c)
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

func authenticate(c *gin.Context, parser SessionParser) (goVerify.Principal, bool) {
	if parser == nil {
		return goVerify.Principal{}, false
	}
	token, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		return goVerify.Principal{}, false
	}
	p, err := parser.ParseSession(token)
	if err != nil {
		return goVerify.Principal{}, false
	}
	return p, true
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":  goVerify.PublicMessage(goVerify.ErrUnauthorized),
		"reason": goVerify.KindUnauthorized.String(),
	})
}

func bearerToken(value string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(value), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}
