package handler

import (
	"errors"
	"fmt"
	"net/http"

	"univapay-integration-demo/internal/client"
	"univapay-integration-demo/internal/dto"
	"univapay-integration-demo/internal/middleware"
	"univapay-integration-demo/internal/repository"
	"univapay-integration-demo/internal/service"

	"github.com/labstack/echo/v4"
)

type CheckoutHandler struct {
	checkoutService service.CheckoutService
}

func NewCheckoutHandler(checkoutService service.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkoutService: checkoutService}
}

func (h *CheckoutHandler) CreateCharge(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.ChargeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	result, err := h.checkoutService.CreateCharge(ctx, middleware.Username(c), &req)
	if err != nil {
		return mapCheckoutError(err)
	}

	return c.JSON(http.StatusCreated, result)
}

func (h *CheckoutHandler) CreateSubscription(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.SubscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	result, err := h.checkoutService.CreateSubscription(ctx, middleware.Username(c), &req)
	if err != nil {
		return mapCheckoutError(err)
	}

	return c.JSON(http.StatusCreated, result)
}

func (h *CheckoutHandler) CancelSubscription(c echo.Context) error {
	ctx := c.Request().Context()

	subscriptionID := c.Param("subscriptionID")
	if subscriptionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing subscription id")
	}

	err := h.checkoutService.CancelSubscription(ctx, middleware.Username(c), subscriptionID)
	if err != nil {
		if errors.Is(err, service.ErrSubscriptionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
		}
		return mapCheckoutError(err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "cancel requested"})
}

func (h *CheckoutHandler) ListPayments(c echo.Context) error {
	ctx := c.Request().Context()

	result, err := h.checkoutService.ListPayments(ctx, middleware.Username(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// CheckoutComplete is the 3DS return target. It only echoes what the browser
// brought back; the authenticated return can be spoofed or abandoned, so the
// real status arrives through webhooks or the poller.
func (h *CheckoutHandler) CheckoutComplete(c echo.Context) error {
	chargeID := c.QueryParam("chargeId")
	tokenID := c.QueryParam("tokenId")
	status := c.QueryParam("status")

	html := fmt.Sprintf(`
	<!DOCTYPE html>
	<html>
	<head>
		<meta charset="utf-8">
		<title>Payment Processing</title>
		<style>
			body {
				font-family: Arial, sans-serif;
				text-align: center;
				margin-top: 80px;
			}
		</style>
	</head>
	<body>
		<h2>Thank you</h2>
		<p>We are confirming your payment with the provider.</p>
		<p>Charge: %s · Token: %s · Reported: %s</p>
		<p>The final result will appear in your payments list shortly.</p>
	</body>
	</html>
	`, chargeID, tokenID, status)

	return c.HTML(http.StatusOK, html)
}

func mapCheckoutError(err error) error {
	switch {
	case errors.Is(err, repository.ErrTokenConsumed):
		return echo.NewHTTPError(http.StatusConflict, "transaction token already consumed")
	case errors.Is(err, repository.ErrTokenNotFound),
		errors.Is(err, repository.ErrTokenExpired),
		errors.Is(err, repository.ErrTokenKindMismatch):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrMissingItem),
		errors.Is(err, service.ErrInvalidPlan):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInitiationFailed):
		return echo.NewHTTPError(http.StatusBadGateway,
			"payment initiation failed, a new checkout is required; contact support if you were charged")
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return echo.NewHTTPError(http.StatusBadGateway, "payment provider error")
	}
	return err
}
