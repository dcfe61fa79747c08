package api

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"herald-go/internal/domain"
	"herald-go/internal/rules"
	"herald-go/internal/segment"
)

// SegmentHandler handles HTTP requests for segment operations.
type SegmentHandler struct {
	service *segment.Service
	logger  *slog.Logger
}

// NewSegmentHandler creates a new segment handler.
func NewSegmentHandler(service *segment.Service, logger *slog.Logger) *SegmentHandler {
	return &SegmentHandler{
		service: service,
		logger:  logger,
	}
}

// PreviewResponse is the result of evaluating rules without storing them.
type PreviewResponse struct {
	Count    int             `json:"count"`
	Warnings []rules.Warning `json:"warnings"`
}

// MembershipResponse reports whether a contact belongs to a segment.
type MembershipResponse struct {
	SegmentID string `json:"segmentId"`
	ContactID string `json:"contactId"`
	IsMember  bool   `json:"isMember"`
}

// Create handles POST /v1/segments
// The initial membership is computed before responding.
func (h *SegmentHandler) Create(c *fiber.Ctx) error {
	var req domain.CreateSegmentRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Debug("failed to parse request body", "error", err)
		return BadRequest(c, "invalid request body")
	}

	seg, err := h.service.Create(c.Context(), tenantID(c), &req)
	if err != nil {
		return DomainError(c, h.logger, err, "create segment")
	}

	return Created(c, seg)
}

// List handles GET /v1/segments
func (h *SegmentHandler) List(c *fiber.Ctx) error {
	limit, offset := pagination(c)

	segments, err := h.service.List(c.Context(), domain.SegmentFilter{
		TenantID: tenantID(c),
		Type:     domain.SegmentType(strings.ToUpper(c.Query("type"))),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return DomainError(c, h.logger, err, "list segments")
	}

	return Success(c, segments)
}

// GetByID handles GET /v1/segments/:id
func (h *SegmentHandler) GetByID(c *fiber.Ctx) error {
	seg, err := h.service.Get(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return DomainError(c, h.logger, err, "get segment")
	}

	return Success(c, seg)
}

// Update handles PUT /v1/segments/:id
func (h *SegmentHandler) Update(c *fiber.Ctx) error {
	var req domain.UpdateSegmentRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Debug("failed to parse request body", "error", err)
		return BadRequest(c, "invalid request body")
	}

	seg, err := h.service.Update(c.Context(), tenantID(c), c.Params("id"), &req)
	if err != nil {
		return DomainError(c, h.logger, err, "update segment")
	}

	return Success(c, seg)
}

// Delete handles DELETE /v1/segments/:id
func (h *SegmentHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), tenantID(c), c.Params("id")); err != nil {
		return DomainError(c, h.logger, err, "delete segment")
	}

	return NoContent(c)
}

// Recalculate handles POST /v1/segments/:id/recalculate
func (h *SegmentHandler) Recalculate(c *fiber.Ctx) error {
	id := c.Params("id")
	count, err := h.service.Recalculate(c.Context(), tenantID(c), id)
	if err != nil {
		return DomainError(c, h.logger, err, "recalculate segment")
	}

	return Success(c, fiber.Map{"segmentId": id, "contactCount": count})
}

// Members handles GET /v1/segments/:id/members
func (h *SegmentHandler) Members(c *fiber.Ctx) error {
	ids, err := h.service.GetMembers(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return DomainError(c, h.logger, err, "get segment members")
	}

	limit, offset := pagination(c)
	total := len(ids)
	start := min(offset, total)
	end := min(start+limit, total)

	return Success(c, Page{Items: ids[start:end], Total: total, Limit: limit, Offset: offset})
}

// Contains handles GET /v1/segments/:id/contacts/:contactId
func (h *SegmentHandler) Contains(c *fiber.Ctx) error {
	segmentID, contactID := c.Params("id"), c.Params("contactId")

	ok, err := h.service.ContactMatches(c.Context(), tenantID(c), contactID, segmentID)
	if err != nil {
		return DomainError(c, h.logger, err, "check segment membership")
	}

	return Success(c, MembershipResponse{SegmentID: segmentID, ContactID: contactID, IsMember: ok})
}

// Preview handles POST /v1/segments/preview
// Counts the contacts a rule group selects without storing anything.
func (h *SegmentHandler) Preview(c *fiber.Ctx) error {
	var group domain.RuleGroup
	if err := c.BodyParser(&group); err != nil {
		h.logger.Debug("failed to parse request body", "error", err)
		return BadRequest(c, "invalid request body")
	}
	if err := group.Validate(); err != nil {
		return ValidationError(c, err.Error())
	}

	count, warnings, err := h.service.Preview(c.Context(), tenantID(c), group)
	if err != nil {
		return DomainError(c, h.logger, err, "preview segment")
	}
	if warnings == nil {
		warnings = []rules.Warning{}
	}

	return Success(c, PreviewResponse{Count: count, Warnings: warnings})
}

// EnsureSystem handles POST /v1/segments/system
// Creates the tenant's "All Contacts" segment if missing.
func (h *SegmentHandler) EnsureSystem(c *fiber.Ctx) error {
	seg, err := h.service.EnsureSystemSegments(c.Context(), tenantID(c))
	if err != nil {
		return DomainError(c, h.logger, err, "create system segments")
	}

	return Success(c, seg)
}
