package handlers

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"
)

type HealthHandler struct {
	db      *sql.DB
	version string
}

func NewHealthHandler(db *sql.DB, version string) *HealthHandler {
	return &HealthHandler{db: db, version: version}
}

// Check handles GET /health. Degraded means the API is up but the database
// is not answering.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	status := "ok"
	if err := h.db.PingContext(c.Context()); err != nil {
		status = "degraded"
	}

	code := fiber.StatusOK
	if status != "ok" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":  status,
		"version": h.version,
	})
}
