// Package api provides HTTP handlers and routing for the Herald REST API.
package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"herald-go/internal/domain"
)

// APIResponse is the standard response envelope for all API responses.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError represents an error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes for consistent API responses.
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
)

// Page is the data of a paginated list response.
type Page struct {
	Items  interface{} `json:"items"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// Success sends a successful JSON response with the given data.
func Success(c *fiber.Ctx, data interface{}) error {
	return c.JSON(APIResponse{
		Success: true,
		Data:    data,
	})
}

// SuccessWithStatus sends a successful JSON response with a custom status code.
func SuccessWithStatus(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(APIResponse{
		Success: true,
		Data:    data,
	})
}

// Created sends a 201 Created response with the given data.
func Created(c *fiber.Ctx, data interface{}) error {
	return SuccessWithStatus(c, fiber.StatusCreated, data)
}

// Accepted sends a 202 Accepted response with the given data.
func Accepted(c *fiber.Ctx, data interface{}) error {
	return SuccessWithStatus(c, fiber.StatusAccepted, data)
}

// NoContent sends a 204 No Content response.
func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}

// Error sends an error JSON response with the given status code.
func Error(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest sends a 400 Bad Request error response.
func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, ErrCodeBadRequest, message)
}

// ValidationError sends a 400 Bad Request error for validation failures.
func ValidationError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, ErrCodeValidationFailed, message)
}

// NotFound sends a 404 Not Found error response.
func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, ErrCodeNotFound, message)
}

// Conflict sends a 409 Conflict error response.
func Conflict(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusConflict, ErrCodeConflict, message)
}

// Unauthorized sends a 401 Unauthorized error response.
func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// InternalError sends a 500 Internal Server Error response.
func InternalError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, ErrCodeInternalError, message)
}

// DomainError maps a service error to a response. Validation problems and
// rejected state changes are answered with their own message; anything else
// is logged and reported as an internal error described by action.
func DomainError(c *fiber.Ctx, logger *slog.Logger, err error, action string) error {
	switch {
	case domain.IsNotFound(err):
		return NotFound(c, err.Error())
	case domain.IsInvalidState(err):
		return Conflict(c, err.Error())
	case isValidation(err):
		return ValidationError(c, err.Error())
	}

	logger.Error("failed to "+action, "path", c.Path(), "error", err)
	return InternalError(c, "failed to "+action)
}

var validationErrors = []error{
	domain.ErrEmptyTenantID,
	domain.ErrEmptyContact,
	domain.ErrEmptySegmentName,
	domain.ErrInvalidSegmentType,
	domain.ErrMissingSegmentRules,
	domain.ErrEmptyCampaignName,
	domain.ErrInvalidChannel,
	domain.ErrInvalidThrottle,
	domain.ErrInvalidWindow,
	domain.ErrInvalidTimezone,
	domain.ErrMissingVariants,
	domain.ErrInvalidPercentage,
	domain.ErrScheduleInPast,
	domain.ErrNoTargeting,
	domain.ErrEmptyVariantContent,
	domain.ErrEmptyExternalMessageID,
	domain.ErrInvalidReceiptStatus,
	domain.ErrInvalidExecutionStatus,
	domain.ErrInvalidCombinator,
	domain.ErrEmptyRuleField,
	domain.ErrEmptyOperator,
	domain.ErrInvalidValueUnit,
	domain.ErrMalformedRuleNode,
}

func isValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
