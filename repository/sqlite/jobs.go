package sqlite

import (
	"context"
	"database/sql"
	"time"

	"classlens/errors"
	"classlens/models"
)

type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job *models.Job) error {
	const op = "JobStore.Create"

	_, err := execWithRetry(ctx, s.db, `
		INSERT INTO jobs
			(id, kind, status, progress, payload, result_id, error_code,
			 error_message, retries, created_at, updated_at, heartbeat_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Kind), string(job.Status), job.Progress,
		string(job.Payload), job.ResultID, job.ErrorCode, job.ErrorMessage,
		job.Retries, job.CreatedAt, job.UpdatedAt,
		nullableTime(job.HeartbeatAt), nullableTime(job.ExpiresAt),
	)
	if err != nil {
		return errors.Internal(op, err, "Failed to create job")
	}
	return nil
}

func (s *JobStore) Find(ctx context.Context, id string) (*models.Job, error) {
	const op = "JobStore.Find"

	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, status, progress, payload, result_id, error_code,
		       error_message, retries, created_at, updated_at, heartbeat_at, expires_at
		FROM jobs WHERE id = ?`, id)

	job := &models.Job{}
	var kind, status, payload string
	var heartbeat, expires sql.NullTime

	err := row.Scan(
		&job.ID, &kind, &status, &job.Progress, &payload, &job.ResultID,
		&job.ErrorCode, &job.ErrorMessage, &job.Retries,
		&job.CreatedAt, &job.UpdatedAt, &heartbeat, &expires,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(op, nil, "Job not found")
	}
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to query job")
	}

	job.Kind = models.JobKind(kind)
	job.Status = models.JobStatus(status)
	job.Payload = []byte(payload)
	if heartbeat.Valid {
		job.HeartbeatAt = heartbeat.Time
	}
	if expires.Valid {
		job.ExpiresAt = expires.Time
	}
	return job, nil
}

// Claim atomically moves a pending job to running. Exactly one worker wins.
func (s *JobStore) Claim(ctx context.Context, id string) (bool, error) {
	const op = "JobStore.Claim"

	now := time.Now().UTC()
	res, err := execWithRetry(ctx, s.db, `
		UPDATE jobs SET status = ?, updated_at = ?, heartbeat_at = ?
		WHERE id = ? AND status = ?`,
		string(models.JobStatusRunning), now, now, id, string(models.JobStatusPending))
	if err != nil {
		return false, errors.Internal(op, err, "Failed to claim job")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Internal(op, err, "Failed to read claim result")
	}
	return n == 1, nil
}

// UpdateProgress records progress. MAX() keeps observed progress monotonic
// even if updates race.
func (s *JobStore) UpdateProgress(ctx context.Context, id string, progress int) error {
	const op = "JobStore.UpdateProgress"

	now := time.Now().UTC()
	_, err := execWithRetry(ctx, s.db, `
		UPDATE jobs SET status = ?, progress = MAX(progress, ?), updated_at = ?, heartbeat_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(models.JobStatusProgressing), progress, now, now, id,
		string(models.JobStatusRunning), string(models.JobStatusProgressing))
	if err != nil {
		return errors.Internal(op, err, "Failed to update progress")
	}
	return nil
}

func (s *JobStore) Heartbeat(ctx context.Context, id string) error {
	const op = "JobStore.Heartbeat"

	_, err := execWithRetry(ctx, s.db,
		`UPDATE jobs SET heartbeat_at = ? WHERE id = ? AND status IN (?, ?)`,
		time.Now().UTC(), id,
		string(models.JobStatusRunning), string(models.JobStatusProgressing))
	if err != nil {
		return errors.Internal(op, err, "Failed to update heartbeat")
	}
	return nil
}

func (s *JobStore) SetRetries(ctx context.Context, id string, retries int) error {
	const op = "JobStore.SetRetries"

	_, err := execWithRetry(ctx, s.db,
		`UPDATE jobs SET retries = ?, updated_at = ? WHERE id = ?`,
		retries, time.Now().UTC(), id)
	if err != nil {
		return errors.Internal(op, err, "Failed to update retries")
	}
	return nil
}

// MarkSucceeded finalizes a job. The status guard makes terminal states
// unreachable twice: once terminal, no further transition lands.
func (s *JobStore) MarkSucceeded(ctx context.Context, id, resultID string) (bool, error) {
	const op = "JobStore.MarkSucceeded"

	now := time.Now().UTC()
	res, err := execWithRetry(ctx, s.db, `
		UPDATE jobs SET status = ?, progress = 100, result_id = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(models.JobStatusSucceeded), resultID, now, id,
		string(models.JobStatusRunning), string(models.JobStatusProgressing))
	if err != nil {
		return false, errors.Internal(op, err, "Failed to mark job succeeded")
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *JobStore) MarkFailed(ctx context.Context, id, code, message string) (bool, error) {
	const op = "JobStore.MarkFailed"

	now := time.Now().UTC()
	res, err := execWithRetry(ctx, s.db, `
		UPDATE jobs SET status = ?, error_code = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?, ?)`,
		string(models.JobStatusFailed), code, message, now, id,
		string(models.JobStatusPending), string(models.JobStatusRunning),
		string(models.JobStatusProgressing))
	if err != nil {
		return false, errors.Internal(op, err, "Failed to mark job failed")
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// FindStale returns non-terminal jobs whose heartbeat predates cutoff.
func (s *JobStore) FindStale(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	const op = "JobStore.FindStale"

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, status, progress, retries, created_at, updated_at
		FROM jobs
		WHERE status IN (?, ?) AND heartbeat_at IS NOT NULL AND heartbeat_at < ?`,
		string(models.JobStatusRunning), string(models.JobStatusProgressing),
		cutoff.UTC())
	if err != nil {
		return nil, errors.Internal(op, err, "Failed to query stale jobs")
	}
	defer rows.Close()

	var stale []*models.Job
	for rows.Next() {
		job := &models.Job{}
		var kind, status string
		if err := rows.Scan(&job.ID, &kind, &status, &job.Progress,
			&job.Retries, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, errors.Internal(op, err, "Failed to scan stale job")
		}
		job.Kind = models.JobKind(kind)
		job.Status = models.JobStatus(status)
		stale = append(stale, job)
	}
	return stale, rows.Err()
}

func (s *JobStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "JobStore.DeleteExpired"

	res, err := execWithRetry(ctx, s.db, `
		DELETE FROM jobs
		WHERE expires_at IS NOT NULL AND expires_at < ? AND status IN (?, ?)`,
		now.UTC(), string(models.JobStatusSucceeded), string(models.JobStatusFailed))
	if err != nil {
		return 0, errors.Internal(op, err, "Failed to delete expired jobs")
	}
	return res.RowsAffected()
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
