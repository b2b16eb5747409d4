package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"classlens/errors"
	"classlens/models"
)

type WorkflowStore struct {
	db *sql.DB
}

func NewWorkflowStore(db *sql.DB) *WorkflowStore {
	return &WorkflowStore{db: db}
}

func (s *WorkflowStore) Create(ctx context.Context, run *models.WorkflowRun) error {
	const op = "WorkflowStore.Create"

	frameworks, steps, err := encodeWorkflowLists(run)
	if err != nil {
		return errors.Internal(op, err, "Failed to encode workflow fields")
	}

	_, err = execWithRetry(ctx, s.db, `
		INSERT INTO workflows
			(id, provider, video_id, language, framework_ids, stage, status,
			 transcription_job_id, analysis_job_id, transcript_id, report_id,
			 attempts, error_code, error_message, completed_steps, current_step,
			 last_observed_at, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Reference.Provider, run.Reference.SourceID, run.Reference.Language,
		frameworks, string(run.Stage), string(run.Status),
		run.TranscriptionJobID, run.AnalysisJobID, run.TranscriptID, run.ReportID,
		run.Attempts, run.ErrorCode, run.ErrorMessage, steps, run.CurrentStep,
		nullableTime(run.LastObservedAt), run.CreatedAt, run.UpdatedAt,
		nullableTime(run.ExpiresAt),
	)
	if err != nil {
		return errors.Internal(op, err, "Failed to create workflow")
	}
	return nil
}

func (s *WorkflowStore) Update(ctx context.Context, run *models.WorkflowRun) error {
	const op = "WorkflowStore.Update"

	frameworks, steps, err := encodeWorkflowLists(run)
	if err != nil {
		return errors.Internal(op, err, "Failed to encode workflow fields")
	}

	run.UpdatedAt = time.Now().UTC()
	_, err = execWithRetry(ctx, s.db, `
		UPDATE workflows SET
			framework_ids = ?, stage = ?, status = ?,
			transcription_job_id = ?, analysis_job_id = ?, transcript_id = ?,
			report_id = ?, attempts = ?, error_code = ?, error_message = ?,
			completed_steps = ?, current_step = ?, last_observed_at = ?, updated_at = ?
		WHERE id = ?`,
		frameworks, string(run.Stage), string(run.Status),
		run.TranscriptionJobID, run.AnalysisJobID, run.TranscriptID,
		run.ReportID, run.Attempts, run.ErrorCode, run.ErrorMessage,
		steps, run.CurrentStep, nullableTime(run.LastObservedAt), run.UpdatedAt,
		run.ID,
	)
	if err != nil {
		return errors.Internal(op, err, "Failed to update workflow")
	}
	return nil
}

func (s *WorkflowStore) Find(ctx context.Context, id string) (*models.WorkflowRun, error) {
	const op = "WorkflowStore.Find"

	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider, video_id, language, framework_ids, stage, status,
		       transcription_job_id, analysis_job_id, transcript_id, report_id,
		       attempts, error_code, error_message, completed_steps, current_step,
		       last_observed_at, created_at, updated_at, expires_at
		FROM workflows WHERE id = ?`, id)

	run := &models.WorkflowRun{}
	var frameworks, stage, status, steps string
	var lastObserved, expires sql.NullTime

	err := row.Scan(
		&run.ID, &run.Reference.Provider, &run.Reference.SourceID, &run.Reference.Language,
		&frameworks, &stage, &status,
		&run.TranscriptionJobID, &run.AnalysisJobID, &run.TranscriptID, &run.ReportID,
		&run.Attempts, &run.ErrorCode, &run.ErrorMessage, &steps, &run.CurrentStep,
		&lastObserved, &run.CreatedAt, &run.UpdatedAt, &expires,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, nil, "Workflow not found")
	}
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to query workflow")
	}

	run.Stage = models.WorkflowStage(stage)
	run.Status = models.WorkflowStatus(status)
	if err := json.Unmarshal([]byte(frameworks), &run.FrameworkIDs); err != nil {
		return nil, errors.Internal(op, err, "Failed to decode framework ids")
	}
	if err := json.Unmarshal([]byte(steps), &run.CompletedSteps); err != nil {
		return nil, errors.Internal(op, err, "Failed to decode completed steps")
	}
	if lastObserved.Valid {
		run.LastObservedAt = lastObserved.Time
	}
	if expires.Valid {
		run.ExpiresAt = expires.Time
	}
	return run, nil
}

func (s *WorkflowStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "WorkflowStore.DeleteExpired"

	res, err := execWithRetry(ctx, s.db, `
		DELETE FROM workflows
		WHERE expires_at IS NOT NULL AND expires_at < ? AND status IN (?, ?, ?)`,
		now.UTC(), string(models.WorkflowCompleted), string(models.WorkflowFailed),
		string(models.WorkflowTimedOut))
	if err != nil {
		return 0, errors.Internal(op, err, "Failed to delete expired workflows")
	}
	return res.RowsAffected()
}

func encodeWorkflowLists(run *models.WorkflowRun) (string, string, error) {
	frameworks, err := json.Marshal(run.FrameworkIDs)
	if err != nil {
		return "", "", err
	}
	steps := run.CompletedSteps
	if steps == nil {
		steps = []string{}
	}
	encoded, err := json.Marshal(steps)
	if err != nil {
		return "", "", err
	}
	return string(frameworks), string(encoded), nil
}
