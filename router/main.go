package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/libetion/libera-api/database"
	"github.com/libetion/libera-api/handlers"
	pdf_handlers "github.com/libetion/libera-api/handlers/pdf"
	"github.com/libetion/libera-api/services"
)

// Deps are the wired services the routes need.
type Deps struct {
	Store       *database.GORMStore
	Pipeline    *services.Pipeline
	Jobs        *services.JobService
	Persistence *services.PersistenceAdapter
	MaxFiles    int
}

func SetupRoutes(app *fiber.App, deps Deps) {
	pdfHandler := pdf_handlers.NewHandler(deps.Pipeline, deps.Jobs, deps.Persistence, deps.MaxFiles)

	app.Get("/health", func(c *fiber.Ctx) error {
		return handlers.HandleCheckHealth(c, deps.Store)
	})

	v1 := app.Group("/api/v1")

	pdf := v1.Group("/pdf")
	pdf.Post("/upload", pdfHandler.Upload)
	pdf.Get("/jobs/:id", pdfHandler.JobStatus)
	pdf.Get("/students/:id", pdfHandler.Student)
	pdf.Post("/:hash/reprocess", pdfHandler.Reprocess)
	pdf.Get("/:hash", pdfHandler.DocumentStatus)
}
