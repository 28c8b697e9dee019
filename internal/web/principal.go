package web

import (
	"github.com/gin-gonic/gin"

	"github.com/stockroom-labs/stockroom/internal/apperr"
)

const principalKey = "stockroom.principal"

// Principal is the authenticated user attached to a request.
type Principal struct {
	ID          int64
	Email       string
	IsSuperuser bool
}

// SetPrincipal attaches the authenticated user to the request.
func SetPrincipal(c *gin.Context, p Principal) {
	c.Set(principalKey, p)
}

// CurrentPrincipal returns the authenticated user or ErrUnauthorized.
func CurrentPrincipal(c *gin.Context) (Principal, error) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, apperr.ErrUnauthorized
	}
	p, ok := v.(Principal)
	if !ok {
		return Principal{}, apperr.ErrUnauthorized
	}
	return p, nil
}

// RequireSuperuser aborts with 403 unless the principal is a superuser. It must run after the
// authentication middleware.
func RequireSuperuser() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := CurrentPrincipal(c)
		if err != nil {
			RespondError(c, err)
			return
		}
		if !p.IsSuperuser {
			RespondError(c, apperr.ErrForbidden)
			return
		}
		c.Next()
	}
}
