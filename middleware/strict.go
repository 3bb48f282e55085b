package middleware

import (
	"context"
	"errors"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/gin-gonic/gin"
)

// UserLoader resolves the account behind a principal.
type UserLoader interface {
	SessionParser
	User(ctx context.Context, userID string) (goVerify.User, error)
}

const userKey = "goverify.user"

// UserFrom returns the user loaded by [RequireStrict].
func UserFrom(c *gin.Context) (goVerify.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return goVerify.User{}, false
	}
	u, ok := v.(goVerify.User)
	return u, ok
}

// RequireStrict is RequireSession plus a user lookup. A user that no longer
// exists is unauthorized; a store failure is a 500.
func RequireStrict(loader UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := authenticate(c, loader)
		if !ok {
			abortUnauthorized(c)
			return
		}

		user, err := loader.User(c.Request.Context(), p.UserID)
		if err != nil {
			if errors.Is(err, goVerify.ErrUserNotFound) {
				abortUnauthorized(c)
				return
			}
			c.AbortWithStatusJSON(goVerify.HTTPStatus(err), gin.H{
				"error":  goVerify.PublicMessage(err),
				"reason": goVerify.KindOf(err).String(),
			})
			return
		}

		c.Set(principalKey, p)
		c.Set(userKey, user)
		c.Next()
	}
}
