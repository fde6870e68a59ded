package http

import (
	"net/http"

	"github.com/jmehdipour/tokengen/internal/service/catalog"
	"github.com/labstack/echo/v4"
)

func listTiersHandler(svc *catalog.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		tiers, err := svc.ListActive(c.Request().Context())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{"tiers": tiers})
	}
}
