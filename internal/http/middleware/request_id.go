package middleware

import (
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v4"
)

// RequestID tags every request with an id, reusing one supplied by a proxy.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.New().String()
			}
			c.Set("request_id", id)
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			return next(c)
		}
	}
}

func RequestIDFromCtx(c echo.Context) string {
	id, _ := c.Get("request_id").(string)
	return id
}
