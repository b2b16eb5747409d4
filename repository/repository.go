package repository

import (
	"context"
	"time"

	"classlens/models"
)

// TranscriptRepository is the durable write-of-record for extractions.
// Put upserts on (video_id, language); the newest extraction is the
// authoritative row for a key.
type TranscriptRepository interface {
	Put(ctx context.Context, record *models.TranscriptRecord) error
	Find(ctx context.Context, id string) (*models.TranscriptRecord, error)
	FindByKey(ctx context.Context, ref models.VideoReference) (*models.TranscriptRecord, error)
	ExistsByKeys(ctx context.Context, refs []models.VideoReference) (map[string]bool, error)
}

// JobRepository persists job lifecycle state. Claim and the terminal marks
// are guarded updates: they succeed for exactly one caller.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	Find(ctx context.Context, id string) (*models.Job, error)
	Claim(ctx context.Context, id string) (bool, error)
	UpdateProgress(ctx context.Context, id string, progress int) error
	Heartbeat(ctx context.Context, id string) error
	SetRetries(ctx context.Context, id string, retries int) error
	MarkSucceeded(ctx context.Context, id, resultID string) (bool, error)
	MarkFailed(ctx context.Context, id, code, message string) (bool, error)
	FindStale(ctx context.Context, cutoff time.Time) ([]*models.Job, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// WorkflowRepository persists orchestrator runs.
type WorkflowRepository interface {
	Create(ctx context.Context, run *models.WorkflowRun) error
	Find(ctx context.Context, id string) (*models.WorkflowRun, error)
	Update(ctx context.Context, run *models.WorkflowRun) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ReportRepository persists synthesized analysis reports by id.
type ReportRepository interface {
	Put(ctx context.Context, report *models.AnalysisReport) error
	Find(ctx context.Context, id string) (*models.AnalysisReport, error)
}
