package analyze

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"classlens/analysis"
	"classlens/errors"
	"classlens/jobs"
	"classlens/models"
	"classlens/repository"
	"classlens/validation"
)

// Service turns analysis requests into jobs that run the multi-framework
// engine and persist the synthesized report.
type Service struct {
	jobs        *jobs.Manager
	engine      *analysis.Engine
	transcripts repository.TranscriptRepository
	reports     repository.ReportRepository
	logger      *logrus.Logger
}

func NewService(
	manager *jobs.Manager,
	engine *analysis.Engine,
	transcripts repository.TranscriptRepository,
	reports repository.ReportRepository,
) *Service {
	return &Service{
		jobs:        manager,
		engine:      engine,
		transcripts: transcripts,
		reports:     reports,
		logger:      logrus.StandardLogger(),
	}
}

// Frameworks lists the registered analyzers.
func (s *Service) Frameworks() []models.FrameworkInfo {
	return s.engine.Registry().List()
}

// KnownFrameworkIDs exposes the registered ids for request validation.
func (s *Service) KnownFrameworkIDs() map[string]struct{} {
	return s.engine.Registry().KnownIDs()
}

// Submit queues an analysis job over a stored transcript or raw text.
func (s *Service) Submit(ctx context.Context, payload models.AnalysisPayload) (*models.Job, error) {
	const op = "AnalyzeService.Submit"

	if err := validation.ValidateFrameworkIDs(payload.FrameworkIDs, s.engine.Registry().KnownIDs()); err != nil {
		return nil, err
	}
	if payload.TranscriptID == "" && payload.Text == "" {
		return nil, errors.InvalidInput(op, nil, "Either transcriptId or text is required")
	}
	if payload.TranscriptID != "" && payload.Text != "" {
		return nil, errors.InvalidInput(op, nil, "transcriptId and text are mutually exclusive")
	}

	// Reject unknown transcript ids on the request path, not inside the job.
	if payload.TranscriptID != "" {
		if _, err := s.transcripts.Find(ctx, payload.TranscriptID); err != nil {
			return nil, err
		}
	}

	handler := func(ctx context.Context, job *models.Job, progress func(int)) (string, error) {
		input := models.AnalysisPayload{}
		if err := json.Unmarshal(job.Payload, &input); err != nil {
			return "", errors.Internal(op, err, "Corrupt job payload")
		}

		text := input.Text
		if input.TranscriptID != "" {
			record, err := s.transcripts.Find(ctx, input.TranscriptID)
			if err != nil {
				return "", err
			}
			text = record.Text
		}

		progress(5)
		report, err := s.engine.Analyze(ctx, input.TranscriptID, text, input.FrameworkIDs, func(pct int) {
			// Engine progress is 0-100; reserve the tail for persistence.
			progress(5 + pct*90/100)
		})
		if err != nil {
			return "", err
		}

		if err := s.reports.Put(ctx, report); err != nil {
			return "", err
		}
		progress(99)
		return report.ID, nil
	}

	return s.jobs.Submit(ctx, models.JobKindAnalysis, payload, "", handler)
}

// Get returns the job plus its report once succeeded. Never blocks.
func (s *Service) Get(ctx context.Context, jobID string) (*models.Job, *models.AnalysisReport, error) {
	const op = "AnalyzeService.Get"

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Kind != models.JobKindAnalysis {
		return nil, nil, errors.NotFound(op, nil, "Job not found")
	}

	if !job.IsSucceeded() || job.ResultID == "" {
		return job, nil, nil
	}

	report, err := s.reports.Find(ctx, job.ResultID)
	if err != nil {
		s.logger.WithError(err).WithField("job_id", jobID).Warn("Report missing for succeeded job")
		return job, nil, nil
	}
	return job, report, nil
}

func (s *Service) Cancel(ctx context.Context, jobID string) error {
	return s.jobs.Cancel(ctx, jobID)
}

// Report fetches a report directly by id.
func (s *Service) Report(ctx context.Context, id string) (*models.AnalysisReport, error) {
	return s.reports.Find(ctx, id)
}
