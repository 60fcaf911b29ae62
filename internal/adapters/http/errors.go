package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/digitalmaps/internal/core/domain"
	"github.com/samirrijal/digitalmaps/internal/pkg/logging"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // Error code: bad_request, not_found, storage_error, etc.
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusBadRequest, "bad_request", msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusNotFound, "not_found", msg)
}

// errInternal returns a 500 error.
func errInternal(c *fiber.Ctx, msg string) error {
	return newError(c, fiber.StatusInternalServerError, "internal_error", msg)
}

// errStorage returns a 503 error. The cause is logged, not sent.
func errStorage(c *fiber.Ctx) error {
	return newError(c, fiber.StatusServiceUnavailable, "storage_error", "storage is unavailable, try again later")
}

// serviceError maps a PointsService error onto an HTTP response.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return errNotFound(c, "point not found")
	case errors.Is(err, domain.ErrInvalidTimeOfDay):
		return errBadRequest(c, err.Error())
	case domain.IsStorageError(err):
		logging.FromContext(c.UserContext()).Error("storage error", "path", c.Path(), "error", err)
		return errStorage(c)
	default:
		logging.FromContext(c.UserContext()).Error("unexpected error", "path", c.Path(), "error", err)
		return errInternal(c, "internal error")
	}
}
