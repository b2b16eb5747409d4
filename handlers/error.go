package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"classlens/errors"
)

// ErrorHandler is the fiber error handler. Every AppError maps onto its
// stable code and HTTP status; anything else becomes a 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := errors.StatusOf(err)
	code := errors.CodeOf(err)
	message := errors.MessageOf(err)

	if e, ok := err.(*fiber.Error); ok {
		status = e.Code
		message = e.Message
		code = errors.CodeInternal
	}

	logrus.WithFields(logrus.Fields{
		"request_id": c.GetRespHeader("X-Request-ID"),
		"path":       c.Path(),
		"method":     c.Method(),
		"status":     status,
		"code":       code,
	}).WithError(err).Error("Request error")

	return c.Status(status).JSON(fiber.Map{
		"success":    false,
		"error":      message,
		"code":       code,
		"request_id": c.GetRespHeader("X-Request-ID"),
	})
}
