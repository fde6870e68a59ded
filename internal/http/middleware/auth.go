package middleware

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/tokengen/internal/apperr"
	"github.com/jmehdipour/tokengen/internal/auth"
	echo "github.com/labstack/echo/v4"
)

const ctxActor = "actor"

// ActorFromCtx extracts the caller set by BearerAuth.
func ActorFromCtx(c echo.Context) (auth.Actor, bool) {
	a, ok := c.Get(ctxActor).(auth.Actor)
	return a, ok
}

// BearerAuth authenticates requests using the identity provider's session JWT
// in the Authorization header and stores the resulting Actor in context.
func BearerAuth(v *auth.Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := c.Request().Header.Get(echo.HeaderAuthorization)
			tok, found := strings.CutPrefix(raw, "Bearer ")
			tok = strings.TrimSpace(tok)
			if !found || tok == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
			}
			actor, err := v.Verify(tok)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": apperr.Message(err)})
			}
			c.Set(ctxActor, actor)
			return next(c)
		}
	}
}
