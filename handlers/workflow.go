package handlers

import (
	"github.com/gofiber/fiber/v2"

	"classlens/errors"
	"classlens/models"
	"classlens/services/analyze"
	"classlens/services/transcribe"
	"classlens/validation"
	"classlens/workflow"
)

type WorkflowHandler struct {
	orchestrator *workflow.Orchestrator
	transcribe   *transcribe.Service
	analyze      *analyze.Service
}

func NewWorkflowHandler(
	orchestrator *workflow.Orchestrator,
	transcribeService *transcribe.Service,
	analyzeService *analyze.Service,
) *WorkflowHandler {
	return &WorkflowHandler{
		orchestrator: orchestrator,
		transcribe:   transcribeService,
		analyze:      analyzeService,
	}
}

// Submit handles POST /workflow: one call that runs transcription and
// analysis end to end.
func (h *WorkflowHandler) Submit(c *fiber.Ctx) error {
	const op = "WorkflowHandler.Submit"

	req := models.WorkflowRequest{}
	if err := c.BodyParser(&req); err != nil {
		return errors.InvalidInput(op, err, "Invalid request body")
	}

	ref, err := validation.ParseReference(req.VideoRef, req.Language)
	if err != nil {
		return err
	}
	if err := validation.ValidateFrameworkIDs(req.FrameworkIDs, h.analyze.KnownFrameworkIDs()); err != nil {
		return err
	}

	run, err := h.orchestrator.Submit(c.Context(), ref, req.FrameworkIDs)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(models.WorkflowCreatedResponse{WorkflowID: run.ID})
}

// Get handles GET /workflow/:id. The response carries whatever stage data
// exists so far; it never blocks on stage completion.
func (h *WorkflowHandler) Get(c *fiber.Ctx) error {
	const op = "WorkflowHandler.Get"

	id := c.Params("id")
	if id == "" {
		return errors.InvalidInput(op, nil, "Workflow id is required")
	}

	run, err := h.orchestrator.Get(c.Context(), id)
	if err != nil {
		return err
	}

	resp := models.WorkflowStatusResponse{
		WorkflowID:     run.ID,
		Stage:          run.Stage,
		Status:         run.Status,
		CurrentStep:    run.CurrentStep,
		CompletedSteps: run.CompletedSteps,
	}
	if resp.CompletedSteps == nil {
		resp.CompletedSteps = []string{}
	}
	if run.ErrorCode != "" {
		resp.Error = &models.JobErrorDetail{Code: run.ErrorCode, Message: run.ErrorMessage}
	}

	data := &models.WorkflowData{}
	if run.TranscriptID != "" {
		if record, err := h.transcribe.Transcript(c.Context(), run.TranscriptID); err == nil {
			data.Transcript = record
		}
	}
	if run.ReportID != "" {
		if report, err := h.analyze.Report(c.Context(), run.ReportID); err == nil {
			data.Report = report
		}
	}
	if data.Transcript != nil || data.Report != nil {
		resp.Data = data
	}

	return c.JSON(resp)
}
