package users

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stockroom-labs/stockroom/internal/apperr"
	"github.com/stockroom-labs/stockroom/internal/web"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*User, error)
}

// Middleware requires a valid bearer token and attaches the user as the request principal.
func Middleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			web.RespondError(c, apperr.ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		u, err := auth.Authenticate(ctx, strings.TrimSpace(token))
		if err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("[AUTH] rejected token")
			if errors.Is(err, apperr.ErrUnauthorized) {
				err = apperr.ErrUnauthorized
			}
			web.RespondError(c, err)
			return
		}

		web.SetPrincipal(c, web.Principal{ID: u.ID, Email: u.Email, IsSuperuser: u.IsSuperuser})
		logger := zerolog.Ctx(ctx).With().Int64("user_id", u.ID).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(ctx))
		c.Next()
	}
}
