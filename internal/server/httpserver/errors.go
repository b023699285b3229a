package httpserver

import (
	"errors"

	"github.com/dmitrijs2005/passkeeper/internal/common"
	"github.com/gofiber/fiber/v2"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to HTTP status codes: rule and credential
// failures are 400, unknown users 404, anything else 500.
func statusFor(err error) (int, string) {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code, fe.Message
	case errors.Is(err, common.ErrValidation):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, common.ErrorUnauthorized):
		return fiber.StatusBadRequest, "Invalid credentials"
	case errors.Is(err, common.ErrorNotFound):
		return fiber.StatusNotFound, "User not found"
	default:
		return fiber.StatusInternalServerError, "Internal server error"
	}
}

// errorKind is the metrics label for err.
func errorKind(err error) string {
	switch {
	case errors.Is(err, common.ErrValidation):
		return "invalid"
	case errors.Is(err, common.ErrorUnauthorized):
		return "unauthorized"
	case errors.Is(err, common.ErrorNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code, msg := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		s.logger.Error(c.UserContext(), "request failed", "path", c.Path(), "error", err.Error())
	}
	return c.Status(code).JSON(errorResponse{Error: msg})
}
