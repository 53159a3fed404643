package pdf

import (
	"context"
	"errors"
	"io"
	"log"
	"regexp"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/libetion/libera-api/services"
	"github.com/libetion/libera-api/utils/response"
)

// Handler exposes the record extraction pipeline over HTTP.
type Handler struct {
	pipeline    *services.Pipeline
	jobs        *services.JobService
	persistence *services.PersistenceAdapter
	maxFiles    int
}

func NewHandler(pipeline *services.Pipeline, jobs *services.JobService, persistence *services.PersistenceAdapter, maxFiles int) *Handler {
	return &Handler{
		pipeline:    pipeline,
		jobs:        jobs,
		persistence: persistence,
		maxFiles:    maxFiles,
	}
}

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Upload handles POST /api/v1/pdf/upload
// Accepts multipart "files", starts a background batch job and returns its ID.
func (h *Handler) Upload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return response.BadRequest(c, "Failed to parse multipart form")
	}

	files := form.File["files"]
	if len(files) == 0 {
		return response.BadRequest(c, "At least one file is required")
	}

	docs := make([]services.DocumentInput, 0, len(files))
	for _, fileHeader := range files {
		f, err := fileHeader.Open()
		if err != nil {
			return response.BadRequest(c, "Failed to open "+fileHeader.Filename)
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return response.BadRequest(c, "Failed to read "+fileHeader.Filename)
		}
		docs = append(docs, services.DocumentInput{
			Filename: fileHeader.Filename,
			Content:  content,
		})
	}

	if err := services.ValidateBatch(docs, h.maxFiles); err != nil {
		return response.UnprocessableEntity(c, "Batch rejected", err.Error())
	}

	job, err := h.jobs.CreateJob(c.Context(), len(docs))
	if err != nil {
		return response.InternalServerError(c, "Failed to create processing job")
	}

	// The request returns immediately; the batch runs detached from the
	// request context so a client disconnect does not cancel it.
	go h.pipeline.ProcessBatch(context.Background(), job.JobID, docs)

	log.Printf("PDFHandler: job %s started for %d files", job.JobID, len(docs))
	return response.Accepted(c, "Processing started", fiber.Map{
		"job_id": job.JobID,
		"total":  len(docs),
	})
}

// JobStatus handles GET /api/v1/pdf/jobs/:id
func (h *Handler) JobStatus(c *fiber.Ctx) error {
	jobID := c.Params("id")

	job, err := h.jobs.GetJob(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.InternalServerError(c, "Failed to load job")
	}

	return response.Success(c, job)
}

// DocumentStatus handles GET /api/v1/pdf/:hash
// Returns the audit row and, when resolved, the owning student.
func (h *Handler) DocumentStatus(c *fiber.Ctx) error {
	hash := c.Params("hash")
	if !hashPattern.MatchString(hash) {
		return response.BadRequest(c, "Invalid file hash")
	}

	meta, err := h.persistence.MetadataByHash(c.Context(), hash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NotFound(c, "Document not found")
		}
		return response.InternalServerError(c, "Failed to load document")
	}

	return response.Success(c, meta)
}

// Reprocess handles POST /api/v1/pdf/:hash/reprocess
// Re-runs a document from its archived bytes without re-upload.
func (h *Handler) Reprocess(c *fiber.Ctx) error {
	hash := c.Params("hash")
	if !hashPattern.MatchString(hash) {
		return response.BadRequest(c, "Invalid file hash")
	}

	result, err := h.pipeline.Reprocess(c.Context(), hash)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return response.NotFound(c, "Document not found")
		case errors.Is(err, services.ErrPersistenceConflict):
			return response.Conflict(c, err.Error())
		case errors.Is(err, services.ErrExtractionUnavailable):
			return response.ServiceUnavailable(c, "Extraction service unavailable, try again later")
		case errors.Is(err, services.ErrUnsupportedDocument),
			errors.Is(err, services.ErrExtractionMalformed),
			errors.Is(err, services.ErrNormalizationRejected):
			return response.UnprocessableEntity(c, "Document could not be processed", err.Error())
		default:
			return response.InternalServerError(c, "Reprocessing failed")
		}
	}

	return response.SuccessWithMessage(c, "Document reprocessed", result)
}

// Student handles GET /api/v1/pdf/students/:id
// Returns the full profile assembled from processed documents.
func (h *Handler) Student(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return response.BadRequest(c, "Invalid student ID")
	}

	student, err := h.persistence.StudentProfile(c.Context(), uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NotFound(c, "Student not found")
		}
		return response.InternalServerError(c, "Failed to load student")
	}

	return response.Success(c, fiber.Map{
		"student":                 student,
		"main_curriculum_summary": services.SummarizeMainCurriculums(student.Scores),
	})
}
