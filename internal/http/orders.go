package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/jmehdipour/tokengen/internal/auth"
	"github.com/jmehdipour/tokengen/internal/model"
	"github.com/jmehdipour/tokengen/internal/service/orders"
	"github.com/labstack/echo/v4"
)

type createOrderReq struct {
	TierID         string `json:"tierId"         validate:"required"`
	WhatsappNumber string `json:"whatsappNumber" validate:"required"`
}

type uploadProofReq struct {
	PaymentProof string `json:"paymentProof" validate:"required"`
}

func createOrderHandler(svc *orders.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		a, err := actor(c)
		if err != nil {
			return err
		}
		var req createOrderReq
		if err := bind(c, &req); err != nil {
			return err
		}

		o, err := svc.Create(c.Request().Context(), a, orders.CreateInput{
			TierID:         strings.TrimSpace(req.TierID),
			WhatsappNumber: strings.TrimSpace(req.WhatsappNumber),
		})
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, o)
	}
}

func listOrdersHandler(svc *orders.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		a, err := actor(c)
		if err != nil {
			return err
		}
		list, err := svc.ListMine(c.Request().Context(), a)
		if err != nil {
			return err
		}
		if list == nil {
			list = []model.Order{}
		}
		return c.JSON(http.StatusOK, map[string]any{"orders": list})
	}
}

func getOrderHandler(svc *orders.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		a, err := actor(c)
		if err != nil {
			return err
		}
		d, err := svc.Get(c.Request().Context(), a, c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, d)
	}
}

func uploadProofHandler(svc *orders.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		a, err := actor(c)
		if err != nil {
			return err
		}
		var req uploadProofReq
		if err := bind(c, &req); err != nil {
			return err
		}
		o, err := svc.UploadProof(c.Request().Context(), a, c.Param("id"), strings.TrimSpace(req.PaymentProof))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, o)
	}
}

// orderOp is a buyer transition that takes no body.
type orderOp func(ctx context.Context, a auth.Actor, id string) (*model.Order, error)

func orderActionHandler(op orderOp) echo.HandlerFunc {
	return func(c echo.Context) error {
		a, err := actor(c)
		if err != nil {
			return err
		}
		o, err := op(c.Request().Context(), a, c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, o)
	}
}
