package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"herald-go/internal/domain"
	"herald-go/internal/store"
)

// ContactHandler handles HTTP requests for contact operations.
type ContactHandler struct {
	repo   store.ContactRepository
	logger *slog.Logger
}

// NewContactHandler creates a new contact handler.
func NewContactHandler(repo store.ContactRepository, logger *slog.Logger) *ContactHandler {
	return &ContactHandler{
		repo:   repo,
		logger: logger,
	}
}

// Create handles POST /v1/contacts
func (h *ContactHandler) Create(c *fiber.Ctx) error {
	var req domain.ContactRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Debug("failed to parse request body", "error", err)
		return BadRequest(c, "invalid request body")
	}

	if err := req.Validate(); err != nil {
		return ValidationError(c, err.Error())
	}

	contact := req.ToContact(uuid.New().String(), tenantID(c))
	if err := h.repo.Create(c.Context(), contact); err != nil {
		return DomainError(c, h.logger, err, "create contact")
	}

	h.logger.Info("created contact", "tenant_id", contact.TenantID, "id", contact.ID)
	return Created(c, contact)
}

// List handles GET /v1/contacts
// Supports ?tag=, ?limit= and ?offset=.
func (h *ContactHandler) List(c *fiber.Ctx) error {
	limit, offset := pagination(c)

	contacts, err := h.repo.List(c.Context(), domain.ContactFilter{
		TenantID: tenantID(c),
		Tag:      c.Query("tag"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return DomainError(c, h.logger, err, "list contacts")
	}

	return Success(c, contacts)
}

// GetByID handles GET /v1/contacts/:id
func (h *ContactHandler) GetByID(c *fiber.Ctx) error {
	contact, err := h.repo.GetByID(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return DomainError(c, h.logger, err, "get contact")
	}

	return Success(c, contact)
}

// Update handles PUT /v1/contacts/:id
// Replaces the contact's mutable fields.
func (h *ContactHandler) Update(c *fiber.Ctx) error {
	var req domain.ContactRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Debug("failed to parse request body", "error", err)
		return BadRequest(c, "invalid request body")
	}

	if err := req.Validate(); err != nil {
		return ValidationError(c, err.Error())
	}

	contact, err := h.repo.GetByID(c.Context(), tenantID(c), c.Params("id"))
	if err != nil {
		return DomainError(c, h.logger, err, "get contact")
	}

	req.ApplyTo(contact)
	if err := h.repo.Update(c.Context(), contact); err != nil {
		return DomainError(c, h.logger, err, "update contact")
	}

	return Success(c, contact)
}

// Delete handles DELETE /v1/contacts/:id
func (h *ContactHandler) Delete(c *fiber.Ctx) error {
	if err := h.repo.Delete(c.Context(), tenantID(c), c.Params("id")); err != nil {
		return DomainError(c, h.logger, err, "delete contact")
	}

	return NoContent(c)
}
