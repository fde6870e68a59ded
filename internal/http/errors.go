package http

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmehdipour/tokengen/internal/apperr"
	"github.com/jmehdipour/tokengen/internal/auth"
	"github.com/jmehdipour/tokengen/internal/http/middleware"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// errorHandler renders every handler error as {"error": message}. Internal
// causes are logged and never shown to the client.
func errorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, msg := apperr.HTTPStatus(err), apperr.Message(err)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status, msg = he.Code, http.StatusText(he.Code)
			if m, ok := he.Message.(string); ok {
				msg = m
			}
		}

		if status >= http.StatusInternalServerError {
			log.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.String("request_id", middleware.RequestIDFromCtx(c)),
				zap.Error(err),
			)
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, map[string]string{"error": msg})
		}
		if werr != nil {
			log.Warn("write error response", zap.Error(werr))
		}
	}
}

// requestValidator adapts validator/v10 to echo.Validator and reports
// failures as validation errors naming the first bad field.
type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator(v *validator.Validate) *requestValidator {
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{v: v}
}

func (rv *requestValidator) Validate(i interface{}) error {
	err := rv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Tag() == "required" {
			return apperr.Validation(fmt.Sprintf("%s is required", fe.Field()))
		}
		return apperr.Validation(fmt.Sprintf("%s is invalid", fe.Field()))
	}
	return apperr.Validation("invalid request")
}

// bind decodes and validates a request body.
func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apperr.Validation("bad request")
	}
	return c.Validate(req)
}

// actor returns the caller set by BearerAuth.
func actor(c echo.Context) (auth.Actor, error) {
	a, ok := middleware.ActorFromCtx(c)
	if !ok {
		return auth.Actor{}, apperr.Unauthorized("authentication required")
	}
	return a, nil
}
