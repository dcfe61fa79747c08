package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"herald-go/internal/domain"
	"herald-go/internal/receipt"
)

// ReceiptHandler handles delivery receipt webhooks.
type ReceiptHandler struct {
	ingester *receipt.Ingester
	logger   *slog.Logger
}

// NewReceiptHandler creates a new receipt handler.
func NewReceiptHandler(ingester *receipt.Ingester, logger *slog.Logger) *ReceiptHandler {
	return &ReceiptHandler{
		ingester: ingester,
		logger:   logger,
	}
}

// Ingest handles POST /v1/webhooks/receipts
// Accepts a receipt for asynchronous processing.
func (h *ReceiptHandler) Ingest(c *fiber.Ctx) error {
	var req domain.ReceiptRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Debug("failed to parse request body", "error", err)
		return BadRequest(c, "invalid request body")
	}

	r, err := h.ingester.Ingest(c.Context(), tenantID(c), &req)
	if err != nil {
		if errors.Is(err, receipt.ErrPublishFailed) {
			return InternalError(c, "failed to queue receipt")
		}
		return DomainError(c, h.logger, err, "ingest receipt")
	}

	return Accepted(c, fiber.Map{
		"externalMessageId": r.ExternalMessageID,
		"status":            r.Status,
	})
}
