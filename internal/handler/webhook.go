package handler

import (
	"errors"
	"io"
	"net/http"

	"univapay-integration-demo/internal/service"

	"github.com/labstack/echo/v4"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Univapay-Signature"

type WebhookHandler struct {
	webhookService service.WebhookService
}

func NewWebhookHandler(webhookService service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService}
}

func (h *WebhookHandler) UnivapayWebhook(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	result, err := h.webhookService.Ingest(ctx, c.Request().Header.Get(SignatureHeader), body)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSignatureInvalid):
			// Same response whichever id the payload referenced.
			return c.NoContent(http.StatusUnauthorized)
		case errors.Is(err, service.ErrMalformedEvent):
			return c.NoContent(http.StatusBadRequest)
		}
		return err
	}

	// Duplicates and rejected-but-authentic events ack 200 so the provider
	// does not keep redelivering.
	return c.JSON(http.StatusOK, map[string]string{
		"ok":      "true",
		"outcome": string(result.Outcome),
	})
}
