package http

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/jmehdipour/tokengen/internal/auth"
	"github.com/jmehdipour/tokengen/internal/config"
	"github.com/jmehdipour/tokengen/internal/http/middleware"
	"github.com/jmehdipour/tokengen/internal/metrics"
	"github.com/jmehdipour/tokengen/internal/service/admin"
	"github.com/jmehdipour/tokengen/internal/service/catalog"
	"github.com/jmehdipour/tokengen/internal/service/ledger"
	"github.com/jmehdipour/tokengen/internal/service/orders"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Services is everything the handlers call into.
type Services struct {
	Catalog  *catalog.Service
	Orders   *orders.Service
	Ledger   *ledger.Service
	Admin    *admin.Service
	Verifier *auth.Verifier
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(cfg config.HTTPConfig, svc Services, logger *zap.Logger) *Server {
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(log.WARN)
	e.Validator = newRequestValidator(validator.New())
	e.HTTPErrorHandler = errorHandler(logger)
	e.Use(echoMid.Recover(), middleware.RequestID(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// public
	api := e.Group("/api")
	api.GET("/tiers", listTiersHandler(svc.Catalog))
	api.POST("/validate-token", validateTokenHandler(svc.Ledger))
	api.POST("/validate-token/:token", validateTokenHandler(svc.Ledger))

	// buyer
	authMW := middleware.BearerAuth(svc.Verifier)
	user := api.Group("", authMW)
	user.POST("/orders", createOrderHandler(svc.Orders))
	user.GET("/orders", listOrdersHandler(svc.Orders))
	user.GET("/orders/:id", getOrderHandler(svc.Orders))
	user.PUT("/orders/:id/proof", uploadProofHandler(svc.Orders))
	user.DELETE("/orders/:id/proof", orderActionHandler(svc.Orders.DeleteProof))
	user.POST("/orders/:id/cancel", orderActionHandler(svc.Orders.Cancel))
	user.POST("/orders/:id/retry", orderActionHandler(svc.Orders.RetryPayment))
	user.GET("/tokens", listTokensHandler(svc.Ledger))
	user.GET("/tokens/:id", tokenStatsHandler(svc.Ledger))

	// admin; every call is re-checked by the admin service
	adm := api.Group("/admin", authMW)
	adm.GET("/orders", adminListOrdersHandler(svc.Admin))
	adm.POST("/orders/:id/confirm", adminConfirmHandler(svc.Admin))
	adm.POST("/orders/:id/reject", adminRejectHandler(svc.Admin))
	adm.POST("/orders/:id/issue", adminRetryIssueHandler(svc.Admin))
	adm.GET("/stats", adminStatsHandler(svc.Admin))

	// redemption, registered last so the static routes above win
	redeem := redeemHandler(svc.Ledger, cfg.LoaderScriptURL)
	for _, p := range []string{"/t/:token", "/:token"} {
		e.GET(p, redeem)
		e.OPTIONS(p, redeemPreflight)
	}

	return &Server{e: e, log: logger}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
