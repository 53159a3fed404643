package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/libetion/libera-api/database"
)

func HandleCheckHealth(c *fiber.Ctx, store *database.GORMStore) error {
	if err := store.Ping(); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "degraded",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
