package api

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"herald-go/internal/campaign"
	"herald-go/internal/domain"
)

// CampaignHandler handles HTTP requests for campaign operations.
type CampaignHandler struct {
	service *campaign.Service
	logger  *slog.Logger
}

// NewCampaignHandler creates a new campaign handler.
func NewCampaignHandler(service *campaign.Service, logger *slog.Logger) *CampaignHandler {
	return &CampaignHandler{
		service: service,
		logger:  logger,
	}
}

// Create handles POST /v1/campaigns
func (h *CampaignHandler) Create(c *fiber.Ctx) error {
	var req domain.CampaignRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Debug("failed to parse request body", "error", err)
		return BadRequest(c, "invalid request body")
	}

	camp, err := h.service.Create(c.Context(), tenantID(c), &req)
	if err != nil {
		return DomainError(c, h.logger, err, "create campaign")
	}

	return Created(c, camp)
}

// List handles GET /v1/campaigns
// Supports ?status=, ?limit= and ?offset=.
func (h *CampaignHandler) List(c *fiber.Ctx) error {
	limit, offset := pagination(c)

	campaigns, err := h.service.List(c.Context(), domain.CampaignFilter{
		TenantID: tenantID(c),
		Status:   domain.CampaignStatus(strings.ToUpper(c.Query("status"))),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return DomainError(c, h.logger, err, "list campaigns")
	}

	return Success(c, campaigns)
}

// GetByID handles GET /v1/campaigns/:id
func (h *CampaignHandler) GetByID(c *fiber.Ctx) error {
	camp, err := h.service.Get(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return DomainError(c, h.logger, err, "get campaign")
	}

	return Success(c, camp)
}

// Update handles PUT /v1/campaigns/:id
func (h *CampaignHandler) Update(c *fiber.Ctx) error {
	var req domain.CampaignRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Debug("failed to parse request body", "error", err)
		return BadRequest(c, "invalid request body")
	}

	camp, err := h.service.Update(c.Context(), tenantID(c), c.Params("id"), &req)
	if err != nil {
		return DomainError(c, h.logger, err, "update campaign")
	}

	return Success(c, camp)
}

// Delete handles DELETE /v1/campaigns/:id
func (h *CampaignHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), tenantID(c), c.Params("id")); err != nil {
		return DomainError(c, h.logger, err, "delete campaign")
	}

	return NoContent(c)
}

// Schedule handles POST /v1/campaigns/:id/schedule
// An empty body or a missing scheduledAt starts the campaign now.
func (h *CampaignHandler) Schedule(c *fiber.Ctx) error {
	var req domain.ScheduleRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			h.logger.Debug("failed to parse request body", "error", err)
			return BadRequest(c, "invalid request body")
		}
	}

	camp, err := h.service.Schedule(c.Context(), tenantID(c), c.Params("id"), req.At)
	if err != nil {
		return DomainError(c, h.logger, err, "schedule campaign")
	}

	return Success(c, camp)
}

// Pause handles POST /v1/campaigns/:id/pause
func (h *CampaignHandler) Pause(c *fiber.Ctx) error {
	camp, err := h.service.Pause(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return DomainError(c, h.logger, err, "pause campaign")
	}

	return Success(c, camp)
}

// Resume handles POST /v1/campaigns/:id/resume
func (h *CampaignHandler) Resume(c *fiber.Ctx) error {
	camp, err := h.service.Resume(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return DomainError(c, h.logger, err, "resume campaign")
	}

	return Success(c, camp)
}

// Cancel handles POST /v1/campaigns/:id/cancel
func (h *CampaignHandler) Cancel(c *fiber.Ctx) error {
	camp, err := h.service.Cancel(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return DomainError(c, h.logger, err, "cancel campaign")
	}

	return Success(c, camp)
}

// Stats handles POST /v1/campaigns/:id/stats
// Recomputes the stats from the executions and returns them.
func (h *CampaignHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.service.UpdateStats(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return DomainError(c, h.logger, err, "update campaign stats")
	}

	return Success(c, stats)
}

// Executions handles GET /v1/campaigns/:id/executions
// Supports ?status=, ?limit= and ?offset=.
func (h *CampaignHandler) Executions(c *fiber.Ctx) error {
	limit, offset := pagination(c)

	executions, total, err := h.service.ListExecutions(c.Context(), domain.ExecutionFilter{
		TenantID:   tenantID(c),
		CampaignID: c.Params("id"),
		Status:     domain.ExecutionStatus(strings.ToLower(c.Query("status"))),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return DomainError(c, h.logger, err, "list executions")
	}
	if executions == nil {
		executions = []*domain.CampaignExecution{}
	}

	return Success(c, Page{Items: executions, Total: total, Limit: limit, Offset: offset})
}
