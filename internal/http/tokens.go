package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/tokengen/internal/apperr"
	"github.com/jmehdipour/tokengen/internal/service/ledger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

const loaderTemplate = `console.log("[TokenGen] Loading script...");
console.log("[TokenGen] Remaining requests: %d");
fetch(%q + "?_v=" + Date.now())
  .then(function (res) {
    if (!res.ok) throw new Error("Failed to load script");
    return res.text();
  })
  .then(function (code) {
    console.log("[TokenGen] Script loaded successfully!");
    eval(code);
  })
  .catch(function (err) {
    console.error("[TokenGen] Error loading script:", err);
  });`

// publicHeaders marks a redemption response as uncacheable and readable from any origin.
func publicHeaders(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderAccessControlAllowOrigin, "*")
	h.Set(echo.HeaderAccessControlAllowMethods, "GET, OPTIONS")
	h.Set(echo.HeaderAccessControlAllowHeaders, "*")
	h.Set(echo.HeaderCacheControl, "no-store")
}

func redeemPreflight(c echo.Context) error {
	publicHeaders(c)
	return c.NoContent(http.StatusOK)
}

// redeemHandler spends one request of the token and returns the loader payload.
// Expected failures are typed outcomes mapped to 401; only storage faults are 500.
func redeemHandler(svc *ledger.Service, loaderURL string) echo.HandlerFunc {
	return func(c echo.Context) error {
		publicHeaders(c)

		secret := strings.TrimSpace(c.Param("token"))
		red, err := svc.Redeem(c.Request().Context(), secret, c.RealIP(), c.Request().UserAgent())
		if err != nil {
			log.Errorf("redeem failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		}
		if !red.Outcome.OK() {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error": red.Outcome.Message(),
				"code":  red.Outcome.String(),
			})
		}

		c.Response().Header().Set("X-Remaining-Requests", strconv.Itoa(red.Remaining))
		return c.Blob(http.StatusOK, "application/javascript", []byte(fmt.Sprintf(loaderTemplate, red.Remaining, loaderURL)))
	}
}

type validateTokenReq struct {
	Token string `json:"token"`
}

// validateTokenHandler reports whether a token is usable without spending it.
// The token comes from the path when present, otherwise from the JSON body.
func validateTokenHandler(svc *ledger.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret := strings.TrimSpace(c.Param("token"))
		if secret == "" {
			var req validateTokenReq
			if err := c.Bind(&req); err != nil {
				return c.JSON(http.StatusBadRequest, map[string]any{"valid": false, "error": "bad request"})
			}
			secret = strings.TrimSpace(req.Token)
		}
		if secret == "" {
			return c.JSON(http.StatusBadRequest, map[string]any{"valid": false, "error": "Token is required"})
		}

		v, err := svc.Validate(c.Request().Context(), secret)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, v)
	}
}

func listTokensHandler(svc *ledger.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		a, err := actor(c)
		if err != nil {
			return err
		}
		tokens, err := svc.ListMine(c.Request().Context(), a)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, map[string]any{"tokens": tokens})
	}
}

func tokenStatsHandler(svc *ledger.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		a, err := actor(c)
		if err != nil {
			return err
		}
		id := strings.TrimSpace(c.Param("id"))
		if id == "" {
			return apperr.Validation("token id is required")
		}
		stats, err := svc.Stats(c.Request().Context(), a, id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, stats)
	}
}
