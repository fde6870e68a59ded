package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/tokengen/internal/model"
	"github.com/jmehdipour/tokengen/internal/service/admin"
	"github.com/labstack/echo/v4"
)

type rejectReq struct {
	Reason string `json:"reason" validate:"required"`
}

func adminListOrdersHandler(svc *admin.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		a, err := actor(c)
		if err != nil {
			return err
		}

		// out-of-range paging falls back to the service defaults
		limit, offset := 0, 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		list, err := svc.ListOrders(c.Request().Context(), a, strings.TrimSpace(c.QueryParam("status")), limit, offset)
		if err != nil {
			return err
		}
		if list == nil {
			list = []model.Order{}
		}
		return c.JSON(http.StatusOK, map[string]any{
			"orders": list,
			"limit":  limit,
			"offset": offset,
		})
	}
}

func adminConfirmHandler(svc *admin.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		a, err := actor(c)
		if err != nil {
			return err
		}
		d, err := svc.Confirm(c.Request().Context(), a, c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, d)
	}
}

func adminRejectHandler(svc *admin.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		a, err := actor(c)
		if err != nil {
			return err
		}
		if err := svc.Authorize(a); err != nil {
			return err
		}
		var req rejectReq
		if err := bind(c, &req); err != nil {
			return err
		}
		o, err := svc.Reject(c.Request().Context(), a, c.Param("id"), req.Reason)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, o)
	}
}

// adminRetryIssueHandler re-runs issuance alone for a confirmed order whose
// token was never created.
func adminRetryIssueHandler(svc *admin.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		a, err := actor(c)
		if err != nil {
			return err
		}
		tok, err := svc.RetryIssue(c.Request().Context(), a, c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, tok)
	}
}

func adminStatsHandler(svc *admin.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		a, err := actor(c)
		if err != nil {
			return err
		}
		st, err := svc.Stats(c.Request().Context(), a)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, st)
	}
}
