package handlers

import (
	"github.com/gofiber/fiber/v2"

	"classlens/errors"
	"classlens/models"
	"classlens/services/analyze"
	"classlens/services/transcribe"
	"classlens/validation"
)

type JobHandler struct {
	transcribe *transcribe.Service
	analyze    *analyze.Service
}

func NewJobHandler(transcribeService *transcribe.Service, analyzeService *analyze.Service) *JobHandler {
	return &JobHandler{
		transcribe: transcribeService,
		analyze:    analyzeService,
	}
}

// SubmitTranscription handles POST /jobs/transcription. Accepted requests
// answer 202 with the job id; status is polled separately.
func (h *JobHandler) SubmitTranscription(c *fiber.Ctx) error {
	const op = "JobHandler.SubmitTranscription"

	req := models.TranscriptionJobRequest{}
	if err := c.BodyParser(&req); err != nil {
		return errors.InvalidInput(op, err, "Invalid request body")
	}

	ref, err := validation.ParseReference(req.VideoRef, req.Language)
	if err != nil {
		return err
	}

	job, err := h.transcribe.Submit(c.Context(), ref, req.Force)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(models.JobCreatedResponse{JobID: job.ID})
}

// GetTranscription handles GET /jobs/transcription/:id.
func (h *JobHandler) GetTranscription(c *fiber.Ctx) error {
	const op = "JobHandler.GetTranscription"

	id := c.Params("id")
	if id == "" {
		return errors.InvalidInput(op, nil, "Job id is required")
	}

	job, record, err := h.transcribe.Get(c.Context(), id)
	if err != nil {
		return err
	}

	resp := models.TranscriptionJobResponse{
		JobID:  job.ID,
		Status: job.Status,
		Result: record,
	}
	if !job.IsTerminal() {
		progress := job.Progress
		resp.Progress = &progress
	}
	if job.IsFailed() {
		resp.Error = &models.JobErrorDetail{Code: job.ErrorCode, Message: job.ErrorMessage}
	}
	return c.JSON(resp)
}

// CancelTranscription handles POST /jobs/transcription/:id/cancel.
func (h *JobHandler) CancelTranscription(c *fiber.Ctx) error {
	const op = "JobHandler.CancelTranscription"

	id := c.Params("id")
	if id == "" {
		return errors.InvalidInput(op, nil, "Job id is required")
	}
	if err := h.transcribe.Cancel(c.Context(), id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

// SubmitAnalysis handles POST /jobs/analysis.
func (h *JobHandler) SubmitAnalysis(c *fiber.Ctx) error {
	const op = "JobHandler.SubmitAnalysis"

	req := models.AnalysisJobRequest{}
	if err := c.BodyParser(&req); err != nil {
		return errors.InvalidInput(op, err, "Invalid request body")
	}

	job, err := h.analyze.Submit(c.Context(), models.AnalysisPayload{
		TranscriptID: req.TranscriptID,
		Text:         req.Text,
		FrameworkIDs: req.FrameworkIDs,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(models.JobCreatedResponse{JobID: job.ID})
}

// GetAnalysis handles GET /jobs/analysis/:id.
func (h *JobHandler) GetAnalysis(c *fiber.Ctx) error {
	const op = "JobHandler.GetAnalysis"

	id := c.Params("id")
	if id == "" {
		return errors.InvalidInput(op, nil, "Job id is required")
	}

	job, report, err := h.analyze.Get(c.Context(), id)
	if err != nil {
		return err
	}

	resp := models.AnalysisJobResponse{
		JobID:  job.ID,
		Status: job.Status,
		Report: report,
	}
	if !job.IsTerminal() {
		progress := job.Progress
		resp.Progress = &progress
	}
	if job.IsFailed() {
		resp.Error = &models.JobErrorDetail{Code: job.ErrorCode, Message: job.ErrorMessage}
	}
	return c.JSON(resp)
}

// CancelAnalysis handles POST /jobs/analysis/:id/cancel.
func (h *JobHandler) CancelAnalysis(c *fiber.Ctx) error {
	const op = "JobHandler.CancelAnalysis"

	id := c.Params("id")
	if id == "" {
		return errors.InvalidInput(op, nil, "Job id is required")
	}
	if err := h.analyze.Cancel(c.Context(), id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}

// ListFrameworks handles GET /frameworks.
func (h *JobHandler) ListFrameworks(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"frameworks": h.analyze.Frameworks(),
	})
}
