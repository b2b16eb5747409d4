package transcribe

import (
	"context"

	"github.com/sirupsen/logrus"

	"classlens/cache"
	"classlens/errors"
	"classlens/extraction"
	"classlens/jobs"
	"classlens/models"
	"classlens/repository"
)

// Service turns transcription requests into jobs that run the extraction
// chain behind the tiered cache.
type Service struct {
	jobs        *jobs.Manager
	cache       *cache.TranscriptCache
	chain       *extraction.Chain
	transcripts repository.TranscriptRepository
	logger      *logrus.Logger
}

func NewService(
	manager *jobs.Manager,
	transcriptCache *cache.TranscriptCache,
	chain *extraction.Chain,
	transcripts repository.TranscriptRepository,
) *Service {
	return &Service{
		jobs:        manager,
		cache:       transcriptCache,
		chain:       chain,
		transcripts: transcripts,
		logger:      logrus.StandardLogger(),
	}
}

// Submit queues a transcription job for ref. Identical in-flight requests
// coalesce onto the existing job id; force always runs a fresh extraction.
func (s *Service) Submit(ctx context.Context, ref models.VideoReference, force bool) (*models.Job, error) {
	dedupKey := ""
	if !force {
		dedupKey = "transcribe:" + ref.Key()
	}

	payload := models.TranscriptionPayload{Reference: ref, Force: force}
	handler := func(ctx context.Context, job *models.Job, progress func(int)) (string, error) {
		progress(5)
		record, err := s.cache.GetOrExtract(ctx, ref, force, func(ctx context.Context) (*models.TranscriptRecord, error) {
			return s.chain.Extract(ctx, ref, progress)
		})
		if err != nil {
			return "", err
		}
		progress(99)
		return record.ID, nil
	}

	return s.jobs.Submit(ctx, models.JobKindTranscription, payload, dedupKey, handler)
}

// Get returns the job plus its transcript once succeeded. Never blocks.
func (s *Service) Get(ctx context.Context, jobID string) (*models.Job, *models.TranscriptRecord, error) {
	const op = "TranscribeService.Get"

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Kind != models.JobKindTranscription {
		return nil, nil, errors.NotFound(op, nil, "Job not found")
	}

	if !job.IsSucceeded() || job.ResultID == "" {
		return job, nil, nil
	}

	record, err := s.transcripts.Find(ctx, job.ResultID)
	if err != nil {
		// Terminal job outlived its transcript row; report the job as-is.
		s.logger.WithError(err).WithField("job_id", jobID).Warn("Transcript missing for succeeded job")
		return job, nil, nil
	}
	return job, record, nil
}

func (s *Service) Cancel(ctx context.Context, jobID string) error {
	return s.jobs.Cancel(ctx, jobID)
}

// Transcript fetches a transcript record directly by id.
func (s *Service) Transcript(ctx context.Context, id string) (*models.TranscriptRecord, error) {
	return s.transcripts.Find(ctx, id)
}
